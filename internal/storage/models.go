// Package storage persists strategies, job state, live trading settings
// and backtest results in SQLite through gorm.
package storage

import "time"

// StrategyRecord stores a strategy definition. The rule trees and risk
// block live in DefinitionJSON; the indexed columns exist for listing.
type StrategyRecord struct {
	ID        string    `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name           string `gorm:"index;not null" json:"name"`
	Symbol         string `gorm:"index" json:"symbol"`
	Timeframe      string `json:"timeframe"`
	Status         string `gorm:"not null;default:'pending'" json:"status"`
	DefinitionJSON string `gorm:"type:text;not null" json:"definition_json"`
}

// JobRecord stores one asynchronous job. Status and CancelRequested are
// real columns so transitions can be guarded in SQL; everything else
// rides in PayloadJSON.
type JobRecord struct {
	ID        string    `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	StrategyID      string `gorm:"index;not null" json:"strategy_id"`
	Kind            string `gorm:"index;not null" json:"kind"`
	Status          string `gorm:"index;not null" json:"status"`
	CancelRequested bool   `json:"cancel_requested"`
	PayloadJSON     string `gorm:"type:text;not null" json:"payload_json"`
}

// SettingRecord stores one live trading setting.
type SettingRecord struct {
	ID        string    `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	StrategyID      string  `gorm:"index;not null" json:"strategy_id"`
	Symbol          string  `gorm:"not null" json:"symbol"`
	Interval        string  `gorm:"not null" json:"interval"`
	Enabled         bool    `gorm:"index" json:"enabled"`
	RiskPerTradePct float64 `json:"risk_per_trade_pct"`
	MaxOpenTrades   int     `json:"max_open_trades"`
	UseStopLoss     bool    `json:"use_stop_loss"`
	UseTakeProfit   bool    `json:"use_take_profit"`
	PollSeconds     int     `json:"poll_seconds"`
}

// BacktestRecord stores a finished backtest result for later retrieval.
type BacktestRecord struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	StrategyID  string  `gorm:"index;not null" json:"strategy_id"`
	JobID       string  `gorm:"index" json:"job_id"`
	Symbol      string  `json:"symbol"`
	TotalReturn float64 `json:"total_return"`
	WinRate     float64 `json:"win_rate"`
	MaxDrawdown float64 `json:"max_drawdown"`
	TotalTrades int     `json:"total_trades"`
	ResultJSON  string  `gorm:"type:text;not null" json:"result_json"`
}
