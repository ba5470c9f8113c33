// Package broker defines the trading gateway used by the live signal
// engine. Implementations talk to a real execution venue; the mock
// subpackage provides an in-memory one for tests and paper trading.
package broker

import (
	"context"
	"time"

	"github.com/tradeforge/tradeforge/internal/core"
)

// AccountInfo is the account snapshot used for position sizing.
type AccountInfo struct {
	Balance    float64 `json:"balance"`
	Equity     float64 `json:"equity"`
	Margin     float64 `json:"margin"`
	FreeMargin float64 `json:"free_margin"`
	Currency   string  `json:"currency"`
}

// MarketStatus reports whether a symbol is currently tradable.
type MarketStatus struct {
	Symbol   string    `json:"symbol"`
	Open     bool      `json:"open"`
	NextOpen time.Time `json:"next_open,omitempty"`
}

// OpenRequest asks the gateway to open a position. StopLoss and
// TakeProfit are absolute price levels; zero means none.
type OpenRequest struct {
	Symbol     string    `json:"symbol"`
	Side       core.Side `json:"side"`
	Volume     float64   `json:"volume"`
	StopLoss   float64   `json:"stop_loss,omitempty"`
	TakeProfit float64   `json:"take_profit,omitempty"`
	Comment    string    `json:"comment,omitempty"`
}

// Ticket identifies a position held at the gateway.
type Ticket struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Side       core.Side `json:"side"`
	Volume     float64   `json:"volume"`
	OpenPrice  float64   `json:"open_price"`
	StopLoss   float64   `json:"stop_loss,omitempty"`
	TakeProfit float64   `json:"take_profit,omitempty"`
	Comment    string    `json:"comment,omitempty"`
	OpenedAt   time.Time `json:"opened_at"`
}

// Gateway is the execution venue interface. Every call takes a context;
// implementations must honor cancellation. Errors are wrapped with
// core.ErrBroker (or core.ErrMarketClosed for closed-market rejections)
// so callers can branch on the code.
type Gateway interface {
	// Name identifies the gateway in logs and settings.
	Name() string

	// GetAccountInfo returns the current account snapshot.
	GetAccountInfo(ctx context.Context) (*AccountInfo, error)

	// GetMarketStatus reports whether the symbol is tradable right now.
	GetMarketStatus(ctx context.Context, symbol string) (*MarketStatus, error)

	// OpenTrade opens a position and returns its ticket.
	OpenTrade(ctx context.Context, req OpenRequest) (*Ticket, error)

	// CloseTrade closes the position identified by the ticket ID.
	CloseTrade(ctx context.Context, ticketID string) error

	// SyncPositions returns the positions currently held at the venue.
	// The live engine reconciles against this on every tick so externally
	// closed positions do not go stale.
	SyncPositions(ctx context.Context) ([]Ticket, error)
}
