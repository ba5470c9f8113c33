// Package live evaluates strategies against fresh market data on a
// schedule and routes the resulting signals to a broker gateway. The
// evaluation path is the same indicator and rule machinery the backtest
// simulator uses, so a strategy behaves identically in both.
package live

import (
	"fmt"
	"time"

	"github.com/tradeforge/tradeforge/internal/core"
)

// Setting enables automated trading for one strategy on one symbol.
type Setting struct {
	ID         string `json:"id"`
	StrategyID string `json:"strategy_id"`
	Symbol     string `json:"symbol"`
	Interval   string `json:"interval"`
	Enabled    bool   `json:"enabled"`

	// RiskPerTradePct sizes each position as a percentage of account
	// equity put at risk between entry and stop.
	RiskPerTradePct float64 `json:"risk_per_trade_pct"`

	// MaxOpenTrades caps the positions this setting may hold at once.
	MaxOpenTrades int `json:"max_open_trades"`

	UseStopLoss   bool `json:"use_stop_loss"`
	UseTakeProfit bool `json:"use_take_profit"`

	// PollInterval is the wall-clock tick period.
	PollInterval time.Duration `json:"poll_interval"`
}

// Validate checks the setting before a runner is started for it.
func (s *Setting) Validate() error {
	if s.ID == "" {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("missing setting id"))
	}
	if s.StrategyID == "" {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("setting %s: missing strategy id", s.ID))
	}
	if s.Symbol == "" {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("setting %s: missing symbol", s.ID))
	}
	if s.RiskPerTradePct < 0 || s.RiskPerTradePct > 100 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("setting %s: risk_per_trade_pct %g outside [0,100]", s.ID, s.RiskPerTradePct))
	}
	if s.MaxOpenTrades < 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("setting %s: negative max_open_trades", s.ID))
	}
	if s.PollInterval <= 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("setting %s: poll_interval must be positive", s.ID))
	}
	return nil
}

// maxOpenOrDefault treats an unset cap as one position at a time.
func (s *Setting) maxOpenOrDefault() int {
	if s.MaxOpenTrades <= 0 {
		return 1
	}
	return s.MaxOpenTrades
}

// intervalDuration maps a bar interval to its wall-clock length, used to
// size the history window fetched per tick.
func intervalDuration(interval string) time.Duration {
	switch interval {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "2h":
		return 2 * time.Hour
	case "4h":
		return 4 * time.Hour
	case "1w":
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}
