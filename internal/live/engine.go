package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tradeforge/tradeforge/internal/broker"
	"github.com/tradeforge/tradeforge/internal/core"
	"github.com/tradeforge/tradeforge/internal/indicator"
	"github.com/tradeforge/tradeforge/internal/marketdata"
	"github.com/tradeforge/tradeforge/internal/notifier"
	"github.com/tradeforge/tradeforge/internal/rule"
	"github.com/tradeforge/tradeforge/internal/strategy"
)

// lookbackBars is the history window fetched per tick. Generous enough
// for any registered indicator's warmup.
const lookbackBars = 300

// maxRecentSignals bounds the in-memory signal log.
const maxRecentSignals = 256

// StrategySource resolves strategy definitions for settings.
type StrategySource interface {
	GetStrategy(ctx context.Context, id string) (*strategy.Definition, error)
}

// Recorder receives engine events for metrics. A nil recorder is replaced
// with a no-op.
type Recorder interface {
	TickCompleted(settingID string, skipped bool)
	SignalEmitted(decision string)
	OrderPlaced(ok bool)
}

type nopRecorder struct{}

func (nopRecorder) TickCompleted(string, bool) {}
func (nopRecorder) SignalEmitted(string)       {}
func (nopRecorder) OrderPlaced(bool)           {}

// Engine runs one evaluation loop per enabled setting. Ticks for a
// setting never overlap: if an evaluation is still in flight when the
// next tick fires, the tick is skipped and counted.
type Engine struct {
	provider   marketdata.Provider
	gateway    broker.Gateway
	strategies StrategySource
	notify     notifier.Notifier
	rec        Recorder
	log        *zap.Logger

	mu      sync.Mutex
	ctx     context.Context
	runners map[string]*runner
	signals []core.LiveSignal
	wg      sync.WaitGroup
}

type runner struct {
	setting  Setting
	cancel   context.CancelFunc
	inFlight atomic.Bool
}

// NewEngine builds a live engine.
func NewEngine(provider marketdata.Provider, gateway broker.Gateway, strategies StrategySource, notify notifier.Notifier, rec Recorder, log *zap.Logger) *Engine {
	if rec == nil {
		rec = nopRecorder{}
	}
	if notify == nil {
		notify = notifier.Nop{}
	}
	return &Engine{
		provider:   provider,
		gateway:    gateway,
		strategies: strategies,
		notify:     notify,
		rec:        rec,
		log:        log,
		runners:    make(map[string]*runner),
	}
}

// Start attaches the engine to ctx. Runners started afterwards stop when
// ctx is cancelled; Stop waits for them.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ctx = ctx
}

// Stop cancels all runners and waits for in-flight ticks to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	for id, r := range e.runners {
		r.cancel()
		delete(e.runners, id)
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// Upsert installs or replaces a setting. An enabled setting gets a
// running loop; a disabled one only stops any existing loop.
func (e *Engine) Upsert(s Setting) error {
	if err := s.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx == nil {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("engine not started"))
	}

	if old, ok := e.runners[s.ID]; ok {
		old.cancel()
		delete(e.runners, s.ID)
	}
	if !s.Enabled {
		return nil
	}

	ctx, cancel := context.WithCancel(e.ctx)
	r := &runner{setting: s, cancel: cancel}
	e.runners[s.ID] = r

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.loop(ctx, r)
	}()
	return nil
}

// Remove stops and forgets a setting's loop.
func (e *Engine) Remove(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.runners[id]; ok {
		r.cancel()
		delete(e.runners, id)
	}
}

// Settings lists the currently running settings.
func (e *Engine) Settings() []Setting {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Setting, 0, len(e.runners))
	for _, r := range e.runners {
		out = append(out, r.setting)
	}
	return out
}

// RecentSignals returns the latest evaluations, newest first.
func (e *Engine) RecentSignals() []core.LiveSignal {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]core.LiveSignal, len(e.signals))
	for i, s := range e.signals {
		out[len(e.signals)-1-i] = s
	}
	return out
}

func (e *Engine) loop(ctx context.Context, r *runner) {
	ticker := time.NewTicker(r.setting.PollInterval)
	defer ticker.Stop()

	e.dispatch(ctx, r)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.dispatch(ctx, r)
		}
	}
}

// dispatch runs the tick off the loop goroutine so a slow evaluation
// never delays later ticker fires. Overlap is resolved inside tick.
func (e *Engine) dispatch(ctx context.Context, r *runner) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.tick(ctx, r)
	}()
}

// tick runs one evaluation. A tick that finds the previous one still in
// flight returns immediately so slow data fetches cannot pile up.
func (e *Engine) tick(ctx context.Context, r *runner) {
	if !r.inFlight.CompareAndSwap(false, true) {
		e.log.Warn("tick skipped, previous still in flight",
			zap.String("setting_id", r.setting.ID))
		e.rec.TickCompleted(r.setting.ID, true)
		return
	}
	defer r.inFlight.Store(false)
	defer func() {
		if p := recover(); p != nil {
			e.log.Error("panic in live tick",
				zap.String("setting_id", r.setting.ID), zap.Any("panic", p))
		}
	}()

	e.evaluateSetting(ctx, r.setting)
	e.rec.TickCompleted(r.setting.ID, false)
}

func (e *Engine) evaluateSetting(ctx context.Context, s Setting) {
	log := e.log.With(zap.String("setting_id", s.ID), zap.String("strategy_id", s.StrategyID))

	def, err := e.strategies.GetStrategy(ctx, s.StrategyID)
	if err != nil {
		log.Error("strategy lookup failed", zap.Error(err))
		return
	}

	status, err := e.gateway.GetMarketStatus(ctx, s.Symbol)
	if err != nil {
		log.Error("market status failed", zap.Error(err))
		return
	}
	if !status.Open {
		log.Debug("market closed, skipping evaluation")
		return
	}

	positions, err := e.ownPositions(ctx, s)
	if err != nil {
		log.Error("position sync failed", zap.Error(err))
		return
	}
	var held *core.Position
	if len(positions) > 0 {
		held = &core.Position{
			Symbol:    positions[0].Symbol,
			Side:      positions[0].Side,
			OpenPrice: positions[0].OpenPrice,
			Volume:    positions[0].Volume,
			OpenedAt:  positions[0].OpenedAt,
		}
	}

	signal, evalCtx, err := e.evaluate(ctx, def, s.Symbol, s.Interval, held)
	if err != nil {
		log.Error("evaluation failed", zap.Error(err))
		return
	}
	e.appendSignal(*signal)
	e.rec.SignalEmitted(string(signal.Decision))

	// Exits first, mirroring the simulator's per-bar ordering.
	if held != nil && def.Exit != nil && rule.Eval(def.Exit, *evalCtx) {
		for _, ticket := range positions {
			if err := e.gateway.CloseTrade(ctx, ticket.ID); err != nil {
				log.Error("close failed", zap.String("ticket", ticket.ID), zap.Error(err))
				e.rec.OrderPlaced(false)
				continue
			}
			e.rec.OrderPlaced(true)
			e.notifyEvent(ctx, notifier.Event{
				Kind: notifier.KindTradeClosed, StrategyID: s.StrategyID, Symbol: s.Symbol,
				Message: fmt.Sprintf("closed %s on exit rule", ticket.ID),
			})
		}
		return
	}

	if signal.Decision == core.DecisionHold || held != nil {
		return
	}
	if len(positions) >= s.maxOpenOrDefault() {
		log.Debug("max open trades reached, signal not executed")
		return
	}
	e.open(ctx, s, def, signal)
}

// evaluate computes the decision for the latest closed bar.
func (e *Engine) evaluate(ctx context.Context, def *strategy.Definition, symbol, interval string, held *core.Position) (*core.LiveSignal, *rule.Context, error) {
	end := time.Now().UTC()
	start := end.Add(-time.Duration(lookbackBars) * intervalDuration(interval))
	bars, err := e.provider.GetBars(ctx, symbol, interval, start, end)
	if err != nil {
		return nil, nil, err
	}
	if len(bars) == 0 {
		return nil, nil, core.WrapError(core.ErrNoData, fmt.Errorf("%s %s", symbol, interval))
	}

	series, err := indicator.Compute(bars, def.IndicatorSpecs())
	if err != nil {
		return nil, nil, err
	}
	last := len(bars) - 1
	evalCtx := rule.Context{
		Bar:        bars[last],
		Index:      last,
		Indicators: series,
		Position:   held,
	}

	decision := core.DecisionHold
	reason := "no rule fired"
	if held == nil {
		decision = rule.Decide(def.Entry, evalCtx, core.DecisionBuy)
		if decision != core.DecisionHold {
			reason = "entry rule fired"
		}
	} else if def.Exit != nil && rule.Eval(def.Exit, evalCtx) {
		reason = "exit rule fired"
	}

	confidence := 0.0
	if decision != core.DecisionHold || reason == "exit rule fired" {
		confidence = 1.0
	}
	return &core.LiveSignal{
		Symbol:      symbol,
		Strategy:    def.ID,
		Decision:    decision,
		Confidence:  confidence,
		Price:       bars[last].Close,
		Reason:      reason,
		EvaluatedAt: time.Now().UTC(),
	}, &evalCtx, nil
}

// EvaluateOnce computes a signal on demand without touching the broker.
// Serves the signal API endpoint and never opens a position.
func (e *Engine) EvaluateOnce(ctx context.Context, strategyID, symbol, interval string) (*core.LiveSignal, error) {
	def, err := e.strategies.GetStrategy(ctx, strategyID)
	if err != nil {
		return nil, err
	}
	if symbol == "" {
		symbol = def.Symbol
	}
	if interval == "" {
		interval = def.Timeframe
	}
	signal, _, err := e.evaluate(ctx, def, symbol, interval, nil)
	if err != nil {
		return nil, err
	}
	e.appendSignal(*signal)
	return signal, nil
}

func (e *Engine) open(ctx context.Context, s Setting, def *strategy.Definition, signal *core.LiveSignal) {
	log := e.log.With(zap.String("setting_id", s.ID), zap.String("strategy_id", s.StrategyID))

	side := core.SideLong
	if signal.Decision == core.DecisionSell {
		side = core.SideShort
	}

	req := broker.OpenRequest{
		Symbol:  s.Symbol,
		Side:    side,
		Comment: s.ID,
	}
	if s.UseStopLoss && def.Risk.StopLossPct > 0 {
		req.StopLoss = signal.Price * (1 - side.Sign()*def.Risk.StopLossPct)
	}
	if s.UseTakeProfit && def.Risk.TakeProfitPct > 0 {
		req.TakeProfit = signal.Price * (1 + side.Sign()*def.Risk.TakeProfitPct)
	}

	volume, err := e.volumeFor(ctx, s, def, signal.Price, req.StopLoss)
	if err != nil {
		log.Error("position sizing failed", zap.Error(err))
		return
	}
	req.Volume = volume

	ticket, err := e.gateway.OpenTrade(ctx, req)
	if err != nil {
		// Rejections are surfaced and logged, never retried.
		log.Error("order rejected",
			zap.String("symbol", s.Symbol), zap.Float64("volume", volume), zap.Error(err))
		e.rec.OrderPlaced(false)
		e.notifyEvent(ctx, notifier.Event{
			Kind: notifier.KindTradeRejected, StrategyID: s.StrategyID, Symbol: s.Symbol,
			Message: err.Error(),
		})
		return
	}
	e.rec.OrderPlaced(true)
	log.Info("trade opened",
		zap.String("ticket", ticket.ID), zap.String("side", string(side)),
		zap.Float64("volume", volume), zap.Float64("price", ticket.OpenPrice))
	e.notifyEvent(ctx, notifier.Event{
		Kind: notifier.KindTradeOpened, StrategyID: s.StrategyID, Symbol: s.Symbol,
		Message: fmt.Sprintf("opened %s %s %g @ %g", side, s.Symbol, volume, ticket.OpenPrice),
	})
}

// volumeFor sizes the position from account equity and the stop distance.
// Without a usable stop it falls back to the strategy's fixed volume.
func (e *Engine) volumeFor(ctx context.Context, s Setting, def *strategy.Definition, price, stop float64) (float64, error) {
	if s.RiskPerTradePct <= 0 || stop <= 0 {
		if def.Risk.Volume > 0 {
			return def.Risk.Volume, nil
		}
		return 0, core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("setting %s: no risk percentage and no fixed volume", s.ID))
	}
	info, err := e.gateway.GetAccountInfo(ctx)
	if err != nil {
		return 0, err
	}
	distance := price - stop
	if distance < 0 {
		distance = -distance
	}
	if distance == 0 {
		return 0, core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("setting %s: zero stop distance", s.ID))
	}
	riskAmount := info.Equity * s.RiskPerTradePct / 100
	return riskAmount / (distance * def.Risk.ContractSizeOrDefault()), nil
}

// ownPositions returns the gateway positions opened by this setting,
// identified by the ticket comment.
func (e *Engine) ownPositions(ctx context.Context, s Setting) ([]broker.Ticket, error) {
	all, err := e.gateway.SyncPositions(ctx)
	if err != nil {
		return nil, err
	}
	var mine []broker.Ticket
	for _, t := range all {
		if t.Comment == s.ID && t.Symbol == s.Symbol {
			mine = append(mine, t)
		}
	}
	return mine, nil
}

func (e *Engine) appendSignal(s core.LiveSignal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.signals = append(e.signals, s)
	if len(e.signals) > maxRecentSignals {
		e.signals = e.signals[len(e.signals)-maxRecentSignals:]
	}
}

func (e *Engine) notifyEvent(ctx context.Context, event notifier.Event) {
	if err := e.notify.Notify(ctx, event); err != nil && !errors.Is(err, context.Canceled) {
		e.log.Warn("notify failed", zap.String("kind", event.Kind), zap.Error(err))
	}
}
