// Package backtest replays historical bars through a strategy's rule trees
// and produces a deterministic result. The simulator is a pure function of
// (strategy, bars, initial capital): no clock, no RNG, no I/O.
package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/tradeforge/tradeforge/internal/core"
	"github.com/tradeforge/tradeforge/internal/indicator"
	"github.com/tradeforge/tradeforge/internal/rule"
	"github.com/tradeforge/tradeforge/internal/strategy"
)

// Simulator runs strategy backtests over bar series.
type Simulator struct{}

// New creates a Simulator.
func New() *Simulator {
	return &Simulator{}
}

// Run simulates the strategy over the bars. Bars must be in strictly
// increasing timestamp order. Cancellation is cooperative: the context is
// checked between bars, never mid-bar.
func (s *Simulator) Run(ctx context.Context, def *strategy.Definition, bars []core.Bar, initialCapital float64) (*Result, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, core.WrapError(core.ErrData, fmt.Errorf("strategy %q: no bars in range", def.Name))
	}
	if initialCapital <= 0 {
		return nil, core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("initial capital must be positive, got %g", initialCapital))
	}
	for i := 1; i < len(bars); i++ {
		if !bars[i].Time.After(bars[i-1].Time) {
			return nil, core.WrapError(core.ErrData,
				fmt.Errorf("bars out of order at index %d (%s)", i, bars[i].Time))
		}
	}

	// Indicators over the full series. Values at index i depend only on
	// bars [0..i], so precomputing introduces no look-ahead.
	series, err := indicator.Compute(bars, def.IndicatorSpecs())
	if err != nil {
		return nil, err
	}
	for key, sr := range series {
		if sr.Warmup >= len(bars) {
			return nil, core.WrapError(core.ErrData,
				fmt.Errorf("strategy %q: %d bars never clear the %s warmup (%d)",
					def.Name, len(bars), key, sr.Warmup))
		}
	}

	run := &runState{
		def:     def,
		series:  series,
		cash:    initialCapital,
		equity:  initialCapital,
		peak:    initialCapital,
		contract: def.Risk.ContractSizeOrDefault(),
	}

	for i, bar := range bars {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		run.step(i, bar)
	}

	// An open position at the end of data is force-closed at the last
	// bar's close, never silently dropped.
	if run.position != nil {
		last := bars[len(bars)-1]
		run.closePosition(last.Close, last.Time, "end_of_data")
		run.equity = run.cash
		run.equityCurve[len(run.equityCurve)-1].Equity = run.equity
		if run.equity > run.peak {
			run.peak = run.equity
		} else if run.peak > 0 {
			if dd := (run.peak - run.equity) / run.peak; dd > run.maxDrawdown {
				run.maxDrawdown = dd
			}
		}
	}

	result := &Result{
		StrategyID:     def.ID,
		Symbol:         def.Symbol,
		Params:         def.Params,
		StartDate:      bars[0].Time,
		EndDate:        bars[len(bars)-1].Time,
		InitialCapital: initialCapital,
		FinalEquity:    run.equity,
		TotalReturn:    (run.equity - initialCapital) / initialCapital,
		MaxDrawdown:    run.maxDrawdown,
		EquityCurve:    run.equityCurve,
		Trades:         run.trades,
	}
	fillTradeStats(result)
	return result, nil
}

type runState struct {
	def      *strategy.Definition
	series   map[string]indicator.Series
	contract float64

	cash        float64
	equity      float64
	peak        float64
	maxDrawdown float64
	position    *core.Position

	equityCurve []core.EquityPoint
	trades      []core.ClosedTrade
}

// step processes one bar: exits before entries (same-bar tie-break), then
// marks equity to market.
func (r *runState) step(i int, bar core.Bar) {
	evalCtx := rule.Context{
		Bar:        bar,
		Index:      i,
		Indicators: r.series,
		Position:   r.position,
	}

	wasFlat := r.position == nil
	if !wasFlat {
		r.checkExits(evalCtx, bar)
	}

	// Entry is evaluated only if the run was already flat entering this
	// bar: a position can never be closed and reopened on the same bar.
	if wasFlat {
		r.checkEntry(evalCtx, bar)
	}

	r.markToMarket(bar)
}

func (r *runState) checkExits(evalCtx rule.Context, bar core.Bar) {
	pos := r.position

	// Price-triggered exits use the bar's range; the stop is checked
	// before the take when both are touched in the same bar.
	if pos.StopLoss > 0 {
		if (pos.Side == core.SideLong && bar.Low <= pos.StopLoss) ||
			(pos.Side == core.SideShort && bar.High >= pos.StopLoss) {
			r.closePosition(pos.StopLoss, bar.Time, "stop_loss")
			return
		}
	}
	if pos.TakeProfit > 0 {
		if (pos.Side == core.SideLong && bar.High >= pos.TakeProfit) ||
			(pos.Side == core.SideShort && bar.Low <= pos.TakeProfit) {
			r.closePosition(pos.TakeProfit, bar.Time, "take_profit")
			return
		}
	}

	if r.def.Exit != nil {
		if rule.Decide(r.def.Exit, evalCtx, core.DecisionSell) != core.DecisionHold {
			r.closePosition(bar.Close, bar.Time, "rule")
		}
	}
}

func (r *runState) checkEntry(evalCtx rule.Context, bar core.Bar) {
	decision := rule.Decide(r.def.Entry, evalCtx, core.DecisionBuy)
	if decision == core.DecisionHold {
		return
	}

	side := core.SideLong
	if decision == core.DecisionSell {
		side = core.SideShort
	}

	entry := bar.Close
	var stop, take float64
	if r.def.Risk.StopLossPct > 0 {
		stop = entry * (1 - side.Sign()*r.def.Risk.StopLossPct)
	}
	if r.def.Risk.TakeProfitPct > 0 {
		take = entry * (1 + side.Sign()*r.def.Risk.TakeProfitPct)
	}

	volume := r.volumeFor(entry, stop)
	if volume <= 0 {
		return
	}

	r.position = &core.Position{
		Symbol:     bar.Symbol,
		Side:       side,
		OpenPrice:  entry,
		Volume:     volume,
		StopLoss:   stop,
		TakeProfit: take,
		OpenedAt:   bar.Time,
	}
}

// volumeFor sizes a position per the risk block. In risk_pct mode the amount
// of equity at risk is fixed, so volume scales inversely with stop distance.
func (r *runState) volumeFor(entry, stop float64) float64 {
	switch r.def.Risk.Sizing {
	case strategy.SizingRiskPct:
		distance := entry - stop
		if distance < 0 {
			distance = -distance
		}
		if distance == 0 {
			return 0
		}
		riskAmount := r.equity * r.def.Risk.RiskPct / 100
		return riskAmount / (distance * r.contract)
	default:
		return r.def.Risk.Volume
	}
}

// closePosition realizes PnL and appends the trade to the log.
func (r *runState) closePosition(exitPrice float64, at time.Time, reason string) {
	pos := r.position
	pnl := (exitPrice - pos.OpenPrice) * pos.Side.Sign() * pos.Volume * r.contract
	r.cash += pnl
	r.trades = append(r.trades, core.ClosedTrade{
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		EntryPrice: pos.OpenPrice,
		ExitPrice:  exitPrice,
		Volume:     pos.Volume,
		PnL:        pnl,
		OpenedAt:   pos.OpenedAt,
		ClosedAt:   at,
		ExitReason: reason,
	})
	r.position = nil
}

// markToMarket values the account at the bar's close, appends the equity
// point and updates the running peak and drawdown.
func (r *runState) markToMarket(bar core.Bar) {
	r.equity = r.cash
	if r.position != nil {
		pos := r.position
		r.equity += (bar.Close - pos.OpenPrice) * pos.Side.Sign() * pos.Volume * r.contract
	}
	r.equityCurve = append(r.equityCurve, core.EquityPoint{Time: bar.Time, Equity: r.equity})

	if r.equity > r.peak {
		r.peak = r.equity
	}
	if r.peak > 0 {
		dd := (r.peak - r.equity) / r.peak
		if dd > r.maxDrawdown {
			r.maxDrawdown = dd
		}
	}
}
