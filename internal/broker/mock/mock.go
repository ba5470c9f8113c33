// Package mock implements an in-memory broker gateway for tests and
// paper trading.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tradeforge/tradeforge/internal/broker"
	"github.com/tradeforge/tradeforge/internal/core"
)

// Gateway is an in-memory broker. Prices are set by the test or, in
// paper-trading mode, by the live engine feeding it quotes.
type Gateway struct {
	mu       sync.RWMutex
	account  broker.AccountInfo
	prices   map[string]float64
	tickets  map[string]*broker.Ticket
	closed   map[string]bool
	ticketID int
	now      func() time.Time

	// rejectNext makes the next OpenTrade fail, for rejection-path tests.
	rejectNext error
}

// New creates a mock gateway with a funded account.
func New() *Gateway {
	return &Gateway{
		account: broker.AccountInfo{
			Balance:    10000,
			Equity:     10000,
			FreeMargin: 10000,
			Currency:   "USD",
		},
		prices:   make(map[string]float64),
		tickets:  make(map[string]*broker.Ticket),
		closed:   make(map[string]bool),
		ticketID: 1000,
		now:      time.Now,
	}
}

func (g *Gateway) Name() string { return "mock" }

// SetPrice sets the quoted price for a symbol. A symbol without a price
// is treated as a closed market.
func (g *Gateway) SetPrice(symbol string, price float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prices[symbol] = price
}

// SetAccount replaces the account snapshot.
func (g *Gateway) SetAccount(info broker.AccountInfo) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.account = info
}

// RejectNext makes the next OpenTrade return the given error.
func (g *Gateway) RejectNext(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rejectNext = err
}

func (g *Gateway) GetAccountInfo(ctx context.Context) (*broker.AccountInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	info := g.account
	return &info, nil
}

func (g *Gateway) GetMarketStatus(ctx context.Context, symbol string) (*broker.MarketStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, open := g.prices[symbol]
	return &broker.MarketStatus{Symbol: symbol, Open: open}, nil
}

func (g *Gateway) OpenTrade(ctx context.Context, req broker.OpenRequest) (*broker.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.rejectNext != nil {
		err := g.rejectNext
		g.rejectNext = nil
		return nil, err
	}
	price, open := g.prices[req.Symbol]
	if !open {
		return nil, core.WrapError(core.ErrMarketClosed, fmt.Errorf("no quote for %s", req.Symbol))
	}
	if req.Volume <= 0 {
		return nil, core.WrapError(core.ErrBroker, fmt.Errorf("invalid volume %g", req.Volume))
	}

	g.ticketID++
	t := &broker.Ticket{
		ID:         fmt.Sprintf("T%d", g.ticketID),
		Symbol:     req.Symbol,
		Side:       req.Side,
		Volume:     req.Volume,
		OpenPrice:  price,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Comment:    req.Comment,
		OpenedAt:   g.now(),
	}
	g.tickets[t.ID] = t
	return t, nil
}

func (g *Gateway) CloseTrade(ctx context.Context, ticketID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.tickets[ticketID]; !ok {
		return core.WrapError(core.ErrBroker, fmt.Errorf("unknown ticket %s", ticketID))
	}
	delete(g.tickets, ticketID)
	g.closed[ticketID] = true
	return nil
}

func (g *Gateway) SyncPositions(ctx context.Context) ([]broker.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]broker.Ticket, 0, len(g.tickets))
	for _, t := range g.tickets {
		out = append(out, *t)
	}
	return out, nil
}

// Closed reports whether a ticket was closed through the gateway.
func (g *Gateway) Closed(ticketID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.closed[ticketID]
}

var _ broker.Gateway = (*Gateway)(nil)
