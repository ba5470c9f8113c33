package backtest

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/tradeforge/tradeforge/internal/core"
	"github.com/tradeforge/tradeforge/internal/rule"
	"github.com/tradeforge/tradeforge/internal/strategy"
)

func barsFromCloses(closes []float64) []core.Bar {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]core.Bar, len(closes))
	for i, c := range closes {
		bars[i] = core.Bar{
			Symbol:   "EURUSD",
			Interval: "1d",
			Open:     c,
			High:     c * 1.001,
			Low:      c * 0.999,
			Close:    c,
			Volume:   1000,
			Time:     base.AddDate(0, 0, i),
		}
	}
	return bars
}

// dipAndRecover builds a 100-bar series that declines long enough to push a
// short-period RSI into oversold and then trends back up through overbought.
func dipAndRecover() []core.Bar {
	closes := make([]float64, 100)
	price := 100.0
	for i := range closes {
		switch {
		case i < 30:
			price -= 0.8
		default:
			price += 0.6
		}
		closes[i] = price
	}
	return barsFromCloses(closes)
}

func mustRule(t *testing.T, src string) *rule.Node {
	t.Helper()
	n, err := rule.Parse([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func rsiStrategy(t *testing.T) *strategy.Definition {
	t.Helper()
	return &strategy.Definition{
		ID:     "strat-rsi",
		Name:   "rsi_reversion",
		Symbol: "EURUSD",
		Entry: mustRule(t, `{
			"type":"comparison","op":"<",
			"left":{"type":"indicator","name":"rsi","params":{"period":14}},
			"right":{"type":"constant","value":30}
		}`),
		Exit: mustRule(t, `{
			"type":"comparison","op":">",
			"left":{"type":"indicator","name":"rsi","params":{"period":14}},
			"right":{"type":"constant","value":70}
		}`),
		Risk: strategy.RiskBlock{Sizing: strategy.SizingFixed, Volume: 1, ContractSize: 1},
	}
}

func TestSimulator_RSIReversion(t *testing.T) {
	bars := dipAndRecover()
	result, err := New().Run(context.Background(), rsiStrategy(t), bars, 10000)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.TotalTrades < 1 {
		t.Fatalf("TotalTrades = %d, want >= 1", result.TotalTrades)
	}
	if len(result.EquityCurve) != len(bars) {
		t.Errorf("equity curve length = %d, want %d", len(result.EquityCurve), len(bars))
	}
	if result.MaxDrawdown < 0 {
		t.Errorf("MaxDrawdown = %v, must be >= 0", result.MaxDrawdown)
	}
	if result.WinRate < 0 || result.WinRate > 1 {
		t.Errorf("WinRate = %v, must be in [0,1]", result.WinRate)
	}

	// Total return must equal the manually summed realized PnL of the
	// trade log divided by initial capital.
	var pnl float64
	for _, trade := range result.Trades {
		pnl += trade.PnL
	}
	if math.Abs(result.TotalReturn-pnl/10000) > 1e-9 {
		t.Errorf("TotalReturn = %v, want %v", result.TotalReturn, pnl/10000)
	}
	if math.Abs(result.FinalEquity-(10000+pnl)) > 1e-9 {
		t.Errorf("FinalEquity = %v, want %v", result.FinalEquity, 10000+pnl)
	}
}

func TestSimulator_Deterministic(t *testing.T) {
	bars := dipAndRecover()

	first, err := New().Run(context.Background(), rsiStrategy(t), bars, 10000)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	second, err := New().Run(context.Background(), rsiStrategy(t), bars, 10000)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Error("identical inputs must produce identical results")
	}
}

func TestSimulator_ForceCloseAtEnd(t *testing.T) {
	def := rsiStrategy(t)
	// Always-true entry, no exit rule, no SL/TP: the position opened on
	// the first bar must be force-closed at the last close.
	def.Entry = mustRule(t, `{
		"type":"comparison","op":">",
		"left":{"type":"price","field":"close"},
		"right":{"type":"constant","value":0}
	}`)
	def.Exit = nil

	bars := barsFromCloses([]float64{100, 101, 102, 103, 104})
	result, err := New().Run(context.Background(), def, bars, 10000)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.TotalTrades != 1 {
		t.Fatalf("TotalTrades = %d, want 1", result.TotalTrades)
	}
	trade := result.Trades[0]
	if trade.ExitReason != "end_of_data" {
		t.Errorf("ExitReason = %q, want end_of_data", trade.ExitReason)
	}
	if trade.ExitPrice != 104 {
		t.Errorf("ExitPrice = %v, want last close 104", trade.ExitPrice)
	}
	if math.Abs(trade.PnL-4) > 1e-9 {
		t.Errorf("PnL = %v, want 4", trade.PnL)
	}
}

func TestSimulator_StopLossTriggers(t *testing.T) {
	def := rsiStrategy(t)
	def.Entry = mustRule(t, `{
		"type":"comparison","op":">",
		"left":{"type":"price","field":"close"},
		"right":{"type":"constant","value":0}
	}`)
	def.Exit = nil
	def.Risk.StopLossPct = 0.05

	// Entry at 100 on bar 0, stop at 95; bar 2 trades down through it.
	closes := []float64{100, 98, 94, 96, 97}
	bars := barsFromCloses(closes)
	result, err := New().Run(context.Background(), def, bars, 10000)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(result.Trades) == 0 {
		t.Fatal("expected at least one trade")
	}
	first := result.Trades[0]
	if first.ExitReason != "stop_loss" {
		t.Errorf("ExitReason = %q, want stop_loss", first.ExitReason)
	}
	if first.ExitPrice != 95 {
		t.Errorf("ExitPrice = %v, want stop level 95", first.ExitPrice)
	}
}

func TestSimulator_NoReentrySameBar(t *testing.T) {
	def := rsiStrategy(t)
	alwaysTrue := `{
		"type":"comparison","op":">",
		"left":{"type":"price","field":"close"},
		"right":{"type":"constant","value":0}
	}`
	def.Entry = mustRule(t, alwaysTrue)
	def.Exit = mustRule(t, alwaysTrue)

	bars := barsFromCloses([]float64{100, 101, 102, 103})
	result, err := New().Run(context.Background(), def, bars, 10000)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// Open on bar 0, close on bar 1, reopen on bar 2, close on bar 3:
	// a closing bar never also opens.
	for i := 1; i < len(result.Trades); i++ {
		if !result.Trades[i].OpenedAt.After(result.Trades[i-1].ClosedAt) {
			t.Errorf("trade %d opened at %v, not after previous close %v",
				i, result.Trades[i].OpenedAt, result.Trades[i-1].ClosedAt)
		}
	}
}

func TestSimulator_RiskPctSizing(t *testing.T) {
	def := rsiStrategy(t)
	def.Entry = mustRule(t, `{
		"type":"comparison","op":">",
		"left":{"type":"price","field":"close"},
		"right":{"type":"constant","value":0}
	}`)
	def.Exit = nil
	def.Risk = strategy.RiskBlock{
		Sizing:      strategy.SizingRiskPct,
		RiskPct:     2,
		StopLossPct: 0.05,
	}

	bars := barsFromCloses([]float64{100, 101, 102})
	result, err := New().Run(context.Background(), def, bars, 10000)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// 2% of 10000 at risk over a stop distance of 5: volume = 200/5 = 40.
	if len(result.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(result.Trades))
	}
	if math.Abs(result.Trades[0].Volume-40) > 1e-9 {
		t.Errorf("Volume = %v, want 40", result.Trades[0].Volume)
	}
}

func TestSimulator_Errors(t *testing.T) {
	def := rsiStrategy(t)

	t.Run("no bars", func(t *testing.T) {
		_, err := New().Run(context.Background(), def, nil, 10000)
		if !errors.Is(err, core.ErrData) {
			t.Errorf("error = %v, want DATA_ERROR", err)
		}
	})

	t.Run("fewer bars than warmup", func(t *testing.T) {
		// rsi(period=14) never produces a value over 10 bars.
		bars := barsFromCloses([]float64{100, 99, 98, 97, 96, 95, 94, 93, 92, 91})
		_, err := New().Run(context.Background(), def, bars, 10000)
		if !errors.Is(err, core.ErrData) {
			t.Errorf("error = %v, want DATA_ERROR", err)
		}
	})

	t.Run("unordered bars", func(t *testing.T) {
		bars := barsFromCloses([]float64{100, 101, 102})
		bars[2].Time = bars[0].Time
		_, err := New().Run(context.Background(), def, bars, 10000)
		if !errors.Is(err, core.ErrData) {
			t.Errorf("error = %v, want DATA_ERROR", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := New().Run(ctx, def, dipAndRecover(), 10000)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	})
}

func TestSimulator_NoTrades(t *testing.T) {
	def := rsiStrategy(t)
	// Entry can never fire.
	def.Entry = mustRule(t, `{
		"type":"comparison","op":"<",
		"left":{"type":"price","field":"close"},
		"right":{"type":"constant","value":0}
	}`)
	def.Exit = nil

	bars := barsFromCloses([]float64{100, 101, 102})
	result, err := New().Run(context.Background(), def, bars, 10000)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.TotalTrades != 0 {
		t.Errorf("TotalTrades = %d, want 0", result.TotalTrades)
	}
	if result.WinRate != 0 {
		t.Errorf("WinRate = %v, want 0 when there are no trades", result.WinRate)
	}
	if result.TotalReturn != 0 {
		t.Errorf("TotalReturn = %v, want 0", result.TotalReturn)
	}
}
