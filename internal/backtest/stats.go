package backtest

import (
	"math"
)

// fillTradeStats derives the trade-log statistics on a result whose equity
// curve and trade log are already final.
func fillTradeStats(r *Result) {
	var wins, losses int
	var grossProfit, grossLoss float64
	returns := make([]float64, 0, len(r.Trades))

	for _, t := range r.Trades {
		if t.IsWin() {
			wins++
			grossProfit += t.PnL
		} else {
			losses++
			grossLoss -= t.PnL
		}
		if t.EntryPrice != 0 {
			returns = append(returns, (t.ExitPrice-t.EntryPrice)/t.EntryPrice*t.Side.Sign())
		}
	}

	r.TotalTrades = len(r.Trades)
	r.WinningTrades = wins
	r.LosingTrades = losses

	// No trades means a win rate of zero, not a placeholder.
	if r.TotalTrades > 0 {
		r.WinRate = float64(wins) / float64(r.TotalTrades)
	}
	if grossLoss > 0 {
		r.ProfitFactor = grossProfit / grossLoss
	} else if grossProfit > 0 {
		// Undefined without losses; report gross profit so the value
		// stays finite and JSON-encodable.
		r.ProfitFactor = grossProfit
	}
	r.SharpeRatio = sharpeRatio(returns)
}

// sharpeRatio computes risk-adjusted return over per-trade returns,
// annualized over ~252 trading days with a zero risk-free rate.
func sharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	stdDev := math.Sqrt(variance / float64(len(returns)-1))
	if stdDev == 0 {
		return 0
	}

	return (mean * 252) / (stdDev * math.Sqrt(252))
}
