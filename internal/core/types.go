package core

import "time"

// Bar represents one OHLCV sample for a fixed time interval.
type Bar struct {
	Symbol   string
	Interval string // "1m", "5m", "1h", "1d"
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
	Time     time.Time
}

// IsValid checks if the bar has the minimum required fields.
func (b Bar) IsValid() bool {
	return b.Symbol != "" && b.Close > 0 && !b.Time.IsZero()
}

// Side represents the direction of a position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Sign returns +1 for long and -1 for short positions.
func (s Side) Sign() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// Decision represents a trading decision.
type Decision string

const (
	DecisionBuy  Decision = "buy"
	DecisionSell Decision = "sell"
	DecisionHold Decision = "hold"
)

// Position is an open position. It exists only between entry and exit
// and is owned exclusively by the simulator or live engine running it.
type Position struct {
	Symbol     string
	Side       Side
	OpenPrice  float64
	Volume     float64
	StopLoss   float64 // 0 means no stop
	TakeProfit float64 // 0 means no take profit
	OpenedAt   time.Time
}

// ClosedTrade is one completed round trip in a trade log.
type ClosedTrade struct {
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Volume     float64   `json:"volume"`
	PnL        float64   `json:"pnl"`
	OpenedAt   time.Time `json:"opened_at"`
	ClosedAt   time.Time `json:"closed_at"`
	ExitReason string    `json:"exit_reason"` // "rule", "stop_loss", "take_profit", "end_of_data"
}

// IsWin returns true if the trade realized a profit.
func (t ClosedTrade) IsWin() bool {
	return t.PnL > 0
}

// EquityPoint is one sample of the running account value.
type EquityPoint struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
}

// LiveSignal is the outcome of one live evaluation tick.
type LiveSignal struct {
	Symbol      string    `json:"symbol"`
	Strategy    string    `json:"strategy"`
	Decision    Decision  `json:"decision"`
	Confidence  float64   `json:"confidence"` // in [0,1]
	Price       float64   `json:"price"`
	Reason      string    `json:"reason"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}
