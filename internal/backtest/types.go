package backtest

import (
	"time"

	"github.com/tradeforge/tradeforge/internal/core"
)

// Result holds the complete output of one simulation. It is immutable once
// produced: the simulator returns it and never touches it again.
type Result struct {
	StrategyID     string             `json:"strategy_id"`
	Symbol         string             `json:"symbol"`
	Params         map[string]float64 `json:"params,omitempty"`
	StartDate      time.Time          `json:"start_date"`
	EndDate        time.Time          `json:"end_date"`
	InitialCapital float64            `json:"initial_capital"`
	FinalEquity    float64            `json:"final_equity"`

	TotalReturn   float64 `json:"total_return"` // (final - initial) / initial
	WinRate       float64 `json:"win_rate"`     // wins / total, 0 when no trades
	MaxDrawdown   float64 `json:"max_drawdown"` // fraction of peak equity
	ProfitFactor  float64 `json:"profit_factor"`
	SharpeRatio   float64 `json:"sharpe_ratio"`
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`

	EquityCurve []core.EquityPoint `json:"equity_curve"`
	Trades      []core.ClosedTrade `json:"trades"`
}
