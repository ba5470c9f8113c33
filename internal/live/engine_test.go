package live

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/tradeforge/tradeforge/internal/backtest"
	"github.com/tradeforge/tradeforge/internal/broker"
	brokermock "github.com/tradeforge/tradeforge/internal/broker/mock"
	"github.com/tradeforge/tradeforge/internal/core"
	"github.com/tradeforge/tradeforge/internal/marketdata"
	"github.com/tradeforge/tradeforge/internal/notifier"
	"github.com/tradeforge/tradeforge/internal/rule"
	"github.com/tradeforge/tradeforge/internal/strategy"
)

// fixedProvider returns the same bars for every request.
type fixedProvider struct {
	bars []core.Bar
}

func (p fixedProvider) GetBars(context.Context, string, string, time.Time, time.Time) ([]core.Bar, error) {
	return p.bars, nil
}

// blockingProvider holds GetBars until released.
type blockingProvider struct {
	fixedProvider
	release chan struct{}
}

func (p *blockingProvider) GetBars(ctx context.Context, symbol, interval string, start, end time.Time) ([]core.Bar, error) {
	select {
	case <-p.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return p.fixedProvider.GetBars(ctx, symbol, interval, start, end)
}

type mapSource map[string]*strategy.Definition

func (m mapSource) GetStrategy(_ context.Context, id string) (*strategy.Definition, error) {
	def, ok := m[id]
	if !ok {
		return nil, core.ErrStrategyNotFound
	}
	return def, nil
}

// captureRecorder counts engine events.
type captureRecorder struct {
	mu      sync.Mutex
	ticks   int
	skipped int
	signals int
	orders  int
	failed  int
}

func (r *captureRecorder) TickCompleted(_ string, skipped bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if skipped {
		r.skipped++
	} else {
		r.ticks++
	}
}

func (r *captureRecorder) SignalEmitted(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals++
}

func (r *captureRecorder) OrderPlaced(ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ok {
		r.orders++
	} else {
		r.failed++
	}
}

func (r *captureRecorder) snapshot() (ticks, skipped, signals, orders, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ticks, r.skipped, r.signals, r.orders, r.failed
}

// captureNotifier records published events.
type captureNotifier struct {
	mu     sync.Mutex
	events []notifier.Event
}

func (n *captureNotifier) Name() string { return "capture" }
func (n *captureNotifier) Notify(_ context.Context, e notifier.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return nil
}

func (n *captureNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.events))
	for i, e := range n.events {
		out[i] = e.Kind
	}
	return out
}

func risingBars(n int) []core.Bar {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]core.Bar, n)
	price := 95.0
	for i := range bars {
		price += 0.5
		bars[i] = core.Bar{
			Symbol: "EURUSD", Interval: "1h",
			Open: price, High: price + 0.1, Low: price - 0.1, Close: price, Volume: 100,
			Time: base.Add(time.Duration(i) * time.Hour),
		}
	}
	return bars
}

func breakoutStrategy(t *testing.T) *strategy.Definition {
	t.Helper()
	entry, err := rule.Parse([]byte(`{
		"type":"comparison","op":">",
		"left":{"type":"price","field":"close"},
		"right":{"type":"constant","value":100}
	}`))
	if err != nil {
		t.Fatal(err)
	}
	return &strategy.Definition{
		ID:        "strat-live",
		Name:      "breakout",
		Symbol:    "EURUSD",
		Timeframe: "1h",
		Entry:     entry,
		Risk: strategy.RiskBlock{
			Sizing:       strategy.SizingFixed,
			Volume:       1,
			StopLossPct:  0.05,
			ContractSize: 1,
		},
	}
}

func testSetting() Setting {
	return Setting{
		ID:              "setting-1",
		StrategyID:      "strat-live",
		Symbol:          "EURUSD",
		Interval:        "1h",
		Enabled:         true,
		RiskPerTradePct: 1,
		MaxOpenTrades:   1,
		UseStopLoss:     true,
		PollInterval:    time.Hour,
	}
}

func startEngine(t *testing.T, provider marketdata.Provider, gateway broker.Gateway, src StrategySource, notify notifier.Notifier, rec Recorder) *Engine {
	t.Helper()
	e := NewEngine(provider, gateway, src, notify, rec, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	e.Start(ctx)
	t.Cleanup(func() {
		cancel()
		e.Stop()
	})
	return e
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestEngine_OpensTradeOnEntrySignal(t *testing.T) {
	bars := risingBars(50) // last close 120, entry (close > 100) fires
	gateway := brokermock.New()
	lastClose := bars[len(bars)-1].Close
	gateway.SetPrice("EURUSD", lastClose)
	rec := &captureRecorder{}
	notify := &captureNotifier{}
	src := mapSource{"strat-live": breakoutStrategy(t)}

	e := startEngine(t, fixedProvider{bars}, gateway, src, notify, rec)
	if err := e.Upsert(testSetting()); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	waitFor(t, "open position", func() bool {
		positions, _ := gateway.SyncPositions(context.Background())
		return len(positions) == 1
	})

	positions, _ := gateway.SyncPositions(context.Background())
	ticket := positions[0]
	if ticket.Side != core.SideLong {
		t.Errorf("Side = %s, want long", ticket.Side)
	}
	if ticket.Comment != "setting-1" {
		t.Errorf("Comment = %q, want the setting id", ticket.Comment)
	}

	// 1% of 10000 equity at risk over a 5% stop: 100 / (close * 0.05).
	wantVolume := 100 / (lastClose * 0.05)
	if math.Abs(ticket.Volume-wantVolume) > 1e-9 {
		t.Errorf("Volume = %v, want %v", ticket.Volume, wantVolume)
	}
	wantStop := lastClose * 0.95
	if math.Abs(ticket.StopLoss-wantStop) > 1e-9 {
		t.Errorf("StopLoss = %v, want %v", ticket.StopLoss, wantStop)
	}

	kinds := notify.kinds()
	if len(kinds) == 0 || kinds[len(kinds)-1] != notifier.KindTradeOpened {
		t.Errorf("notifications = %v, want trade_opened", kinds)
	}
}

func TestEngine_MaxOpenTradesBlocksEntry(t *testing.T) {
	bars := risingBars(50)
	gateway := brokermock.New()
	gateway.SetPrice("EURUSD", bars[len(bars)-1].Close)

	// Pre-existing position held by this setting.
	_, err := gateway.OpenTrade(context.Background(), broker.OpenRequest{
		Symbol: "EURUSD", Side: core.SideLong, Volume: 1, Comment: "setting-1",
	})
	if err != nil {
		t.Fatal(err)
	}

	rec := &captureRecorder{}
	src := mapSource{"strat-live": breakoutStrategy(t)}
	e := startEngine(t, fixedProvider{bars}, gateway, src, nil, rec)
	if err := e.Upsert(testSetting()); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "first tick", func() bool {
		ticks, _, _, _, _ := rec.snapshot()
		return ticks >= 1
	})

	positions, _ := gateway.SyncPositions(context.Background())
	if len(positions) != 1 {
		t.Errorf("positions = %d, want the original 1", len(positions))
	}
}

func TestEngine_RejectionSurfacedNotRetried(t *testing.T) {
	bars := risingBars(50)
	gateway := brokermock.New()
	gateway.SetPrice("EURUSD", bars[len(bars)-1].Close)
	gateway.RejectNext(core.WrapError(core.ErrBroker, context.DeadlineExceeded))

	rec := &captureRecorder{}
	notify := &captureNotifier{}
	src := mapSource{"strat-live": breakoutStrategy(t)}
	e := startEngine(t, fixedProvider{bars}, gateway, src, notify, rec)
	if err := e.Upsert(testSetting()); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "rejected order", func() bool {
		_, _, _, _, failed := rec.snapshot()
		return failed >= 1
	})

	// No retry within the same tick.
	_, _, _, orders, failed := rec.snapshot()
	if orders != 0 || failed != 1 {
		t.Errorf("orders = %d, failed = %d, want 0 and 1", orders, failed)
	}
	positions, _ := gateway.SyncPositions(context.Background())
	if len(positions) != 0 {
		t.Errorf("positions = %d, want 0 after rejection", len(positions))
	}

	kinds := notify.kinds()
	found := false
	for _, k := range kinds {
		if k == notifier.KindTradeRejected {
			found = true
		}
	}
	if !found {
		t.Errorf("notifications = %v, want trade_rejected", kinds)
	}
}

func TestEngine_ClosedMarketSkipsEvaluation(t *testing.T) {
	gateway := brokermock.New() // no price set: market closed
	rec := &captureRecorder{}
	src := mapSource{"strat-live": breakoutStrategy(t)}
	e := startEngine(t, fixedProvider{risingBars(50)}, gateway, src, nil, rec)
	if err := e.Upsert(testSetting()); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "first tick", func() bool {
		ticks, _, _, _, _ := rec.snapshot()
		return ticks >= 1
	})

	if signals := e.RecentSignals(); len(signals) != 0 {
		t.Errorf("signals = %d, want 0 while the market is closed", len(signals))
	}
}

func TestEngine_OverlappingTicksSkipped(t *testing.T) {
	provider := &blockingProvider{fixedProvider{risingBars(50)}, make(chan struct{})}
	gateway := brokermock.New()
	gateway.SetPrice("EURUSD", 120)
	rec := &captureRecorder{}
	src := mapSource{"strat-live": breakoutStrategy(t)}

	e := startEngine(t, provider, gateway, src, nil, rec)
	setting := testSetting()
	setting.PollInterval = 10 * time.Millisecond
	if err := e.Upsert(setting); err != nil {
		t.Fatal(err)
	}

	// The first tick blocks in GetBars; later ticks must be skipped,
	// not queued behind it.
	waitFor(t, "skipped ticks", func() bool {
		_, skipped, _, _, _ := rec.snapshot()
		return skipped >= 2
	})
	close(provider.release)
}

func TestEngine_EvaluateOnce(t *testing.T) {
	bars := risingBars(50)
	gateway := brokermock.New()
	src := mapSource{"strat-live": breakoutStrategy(t)}
	e := startEngine(t, fixedProvider{bars}, gateway, src, nil, nil)

	signal, err := e.EvaluateOnce(context.Background(), "strat-live", "", "")
	if err != nil {
		t.Fatalf("EvaluateOnce() error = %v", err)
	}
	if signal.Decision != core.DecisionBuy {
		t.Errorf("Decision = %s, want buy", signal.Decision)
	}
	if signal.Price != bars[len(bars)-1].Close {
		t.Errorf("Price = %v, want last close %v", signal.Price, bars[len(bars)-1].Close)
	}

	// On-demand evaluation never trades.
	positions, _ := gateway.SyncPositions(context.Background())
	if len(positions) != 0 {
		t.Errorf("positions = %d, want 0", len(positions))
	}
	if len(e.RecentSignals()) != 1 {
		t.Errorf("signals = %d, want 1", len(e.RecentSignals()))
	}
}

// The live engine and the backtest simulator share the evaluation path,
// so the decision at the latest bar matches where the simulator enters on
// the same series.
func TestEngine_ParityWithSimulator(t *testing.T) {
	bars := risingBars(50)
	def := breakoutStrategy(t)

	src := mapSource{"strat-live": def}
	e := startEngine(t, fixedProvider{bars}, brokermock.New(), src, nil, nil)
	signal, err := e.EvaluateOnce(context.Background(), "strat-live", "EURUSD", "1h")
	if err != nil {
		t.Fatal(err)
	}

	result, err := backtest.New().Run(context.Background(), def, bars, 10000)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Trades) == 0 {
		t.Fatal("simulator opened no trades")
	}

	// Find the first bar whose close exceeds the threshold; both paths
	// must act there.
	var firstEntry time.Time
	for _, b := range bars {
		if b.Close > 100 {
			firstEntry = b.Time
			break
		}
	}
	if !result.Trades[0].OpenedAt.Equal(firstEntry) {
		t.Errorf("simulator entered at %v, want %v", result.Trades[0].OpenedAt, firstEntry)
	}
	if signal.Decision != core.DecisionBuy {
		t.Errorf("live decision = %s, want buy at the latest bar", signal.Decision)
	}
}
