package indicator

import (
	"github.com/tradeforge/tradeforge/internal/core"
)

func init() {
	Register("sma", computeSMA)
	Register("ema", computeEMA)
	Register("rsi", computeRSI)
	Register("macd", computeMACDLine)
	Register("macd_signal", computeMACDSignal)
	Register("macd_hist", computeMACDHist)
	Register("atr", computeATR)
}

// smaValues calculates Simple Moving Average aligned to the input.
// Indices below period-1 are warmup.
func smaValues(prices []float64, period int) []float64 {
	result := make([]float64, len(prices))
	if len(prices) < period {
		return result
	}

	var sum float64
	for i := 0; i < period; i++ {
		sum += prices[i]
	}
	result[period-1] = sum / float64(period)

	// Rolling calculation
	for i := period; i < len(prices); i++ {
		sum = sum - prices[i-period] + prices[i]
		result[i] = sum / float64(period)
	}
	return result
}

// emaValues calculates Exponential Moving Average aligned to the input,
// seeded with the SMA of the first period values.
func emaValues(prices []float64, period int) []float64 {
	result := make([]float64, len(prices))
	if len(prices) < period {
		return result
	}

	multiplier := 2.0 / float64(period+1)

	var sum float64
	for i := 0; i < period; i++ {
		sum += prices[i]
	}
	ema := sum / float64(period)
	result[period-1] = ema

	for i := period; i < len(prices); i++ {
		ema = (prices[i]-ema)*multiplier + ema
		result[i] = ema
	}
	return result
}

func computeSMA(bars []core.Bar, spec Spec) (Series, error) {
	period, err := intParam(spec, "period", 20)
	if err != nil {
		return Series{}, err
	}
	return Series{Values: smaValues(closes(bars), period), Warmup: period - 1}, nil
}

func computeEMA(bars []core.Bar, spec Spec) (Series, error) {
	period, err := intParam(spec, "period", 20)
	if err != nil {
		return Series{}, err
	}
	return Series{Values: emaValues(closes(bars), period), Warmup: period - 1}, nil
}

// computeRSI calculates the Relative Strength Index with Wilder smoothing.
// First valid value is at index period.
func computeRSI(bars []core.Bar, spec Spec) (Series, error) {
	period, err := intParam(spec, "period", 14)
	if err != nil {
		return Series{}, err
	}

	prices := closes(bars)
	result := make([]float64, len(prices))
	if len(prices) <= period {
		return Series{Values: result, Warmup: period}, nil
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := prices[i] - prices[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	result[period] = rsiFrom(avgGain, avgLoss)

	for i := period + 1; i < len(prices); i++ {
		delta := prices[i] - prices[i-1]
		var gain, loss float64
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		result[i] = rsiFrom(avgGain, avgLoss)
	}

	return Series{Values: result, Warmup: period}, nil
}

func rsiFrom(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

func macdParts(bars []core.Bar, spec Spec) (line []float64, lineWarmup int, signalPeriod int, err error) {
	fast, err := intParam(spec, "fast", 12)
	if err != nil {
		return nil, 0, 0, err
	}
	slow, err := intParam(spec, "slow", 26)
	if err != nil {
		return nil, 0, 0, err
	}
	signalPeriod, err = intParam(spec, "signal", 9)
	if err != nil {
		return nil, 0, 0, err
	}

	prices := closes(bars)
	fastEMA := emaValues(prices, fast)
	slowEMA := emaValues(prices, slow)

	line = make([]float64, len(prices))
	for i := range prices {
		line[i] = fastEMA[i] - slowEMA[i]
	}
	if slow > fast {
		lineWarmup = slow - 1
	} else {
		lineWarmup = fast - 1
	}
	return line, lineWarmup, signalPeriod, nil
}

func computeMACDLine(bars []core.Bar, spec Spec) (Series, error) {
	line, warmup, _, err := macdParts(bars, spec)
	if err != nil {
		return Series{}, err
	}
	return Series{Values: line, Warmup: warmup}, nil
}

// macdSignal smooths the MACD line with an EMA over the post-warmup region.
func macdSignal(line []float64, lineWarmup, signalPeriod int) ([]float64, int) {
	signal := make([]float64, len(line))
	warmup := lineWarmup + signalPeriod - 1
	if len(line) <= warmup {
		return signal, warmup
	}
	smoothed := emaValues(line[lineWarmup:], signalPeriod)
	copy(signal[lineWarmup:], smoothed)
	return signal, warmup
}

func computeMACDSignal(bars []core.Bar, spec Spec) (Series, error) {
	line, lineWarmup, signalPeriod, err := macdParts(bars, spec)
	if err != nil {
		return Series{}, err
	}
	signal, warmup := macdSignal(line, lineWarmup, signalPeriod)
	return Series{Values: signal, Warmup: warmup}, nil
}

func computeMACDHist(bars []core.Bar, spec Spec) (Series, error) {
	line, lineWarmup, signalPeriod, err := macdParts(bars, spec)
	if err != nil {
		return Series{}, err
	}
	signal, warmup := macdSignal(line, lineWarmup, signalPeriod)
	hist := make([]float64, len(line))
	for i := warmup; i < len(line); i++ {
		hist[i] = line[i] - signal[i]
	}
	return Series{Values: hist, Warmup: warmup}, nil
}

// computeATR calculates the Average True Range with Wilder smoothing.
func computeATR(bars []core.Bar, spec Spec) (Series, error) {
	period, err := intParam(spec, "period", 14)
	if err != nil {
		return Series{}, err
	}

	result := make([]float64, len(bars))
	if len(bars) <= period {
		return Series{Values: result, Warmup: period}, nil
	}

	// True range needs the previous close, so it starts at index 1.
	tr := make([]float64, len(bars))
	for i := 1; i < len(bars); i++ {
		highLow := bars[i].High - bars[i].Low
		highClose := abs(bars[i].High - bars[i-1].Close)
		lowClose := abs(bars[i].Low - bars[i-1].Close)
		tr[i] = max3(highLow, highClose, lowClose)
	}

	var sum float64
	for i := 1; i <= period; i++ {
		sum += tr[i]
	}
	atr := sum / float64(period)
	result[period] = atr

	for i := period + 1; i < len(bars); i++ {
		atr = (atr*float64(period-1) + tr[i]) / float64(period)
		result[i] = atr
	}

	return Series{Values: result, Warmup: period}, nil
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func max3(a, b, c float64) float64 {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}
