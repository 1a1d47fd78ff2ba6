package indicators

import "math"

// EMA produces the exponential moving average for the supplied prices, seeded
// with a simple average over the first full window. Positions before the seed
// are NaN.
func EMA(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) == 0 {
		return []float64{}
	}
	result := make([]float64, len(prices))
	for i := range result {
		result[i] = math.NaN()
	}
	if len(prices) < period {
		return result
	}
	multiplier := 2.0 / float64(period+1)

	seed := 0.0
	for i := 0; i < period; i++ {
		seed += prices[i]
	}
	seed /= float64(period)
	result[period-1] = seed

	for i := period; i < len(prices); i++ {
		result[i] = (prices[i]-result[i-1])*multiplier + result[i-1]
	}
	return result
}

// EWM is the recursive exponential moving average seeded at the first value,
// matching the smoothing the strategy engine was tuned against. Every
// position is defined, so callers can read current and previous bars without
// warmup checks.
func EWM(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) == 0 {
		return []float64{}
	}
	multiplier := 2.0 / float64(period+1)
	result := make([]float64, len(prices))
	result[0] = prices[0]
	for i := 1; i < len(prices); i++ {
		result[i] = (prices[i]-result[i-1])*multiplier + result[i-1]
	}
	return result
}

// Kline is OHLC input for range-based indicators.
type Kline struct {
	High  float64
	Low   float64
	Close float64
}

// ATR computes the Average True Range across the Kline series.
func ATR(klines []Kline, period int) []float64 {
	if period <= 0 || len(klines) == 0 {
		return []float64{}
	}
	tr := make([]float64, len(klines))
	for i := range klines {
		if i == 0 {
			tr[i] = klines[i].High - klines[i].Low
			continue
		}
		highLow := klines[i].High - klines[i].Low
		highClose := math.Abs(klines[i].High - klines[i-1].Close)
		lowClose := math.Abs(klines[i].Low - klines[i-1].Close)
		tr[i] = math.Max(highLow, math.Max(highClose, lowClose))
	}
	return EMA(tr, period)
}

// RangeVolatility reports (max high - min low) / average close over the
// series, the coarse volatility measure the optimizer feeds into its
// advisory context.
func RangeVolatility(klines []Kline) float64 {
	if len(klines) == 0 {
		return 0
	}
	high := klines[0].High
	low := klines[0].Low
	sum := 0.0
	for _, k := range klines {
		if k.High > high {
			high = k.High
		}
		if k.Low < low {
			low = k.Low
		}
		sum += k.Close
	}
	avg := sum / float64(len(klines))
	if avg <= 0 {
		return 0
	}
	return (high - low) / avg
}

// CrossedAbove reports a golden cross: fast at-or-below slow on the previous
// bar and strictly above on the current bar.
func CrossedAbove(prevFast, prevSlow, currFast, currSlow float64) bool {
	return prevFast <= prevSlow && currFast > currSlow
}

// CrossedBelow reports a dead cross, the mirror of CrossedAbove.
func CrossedBelow(prevFast, prevSlow, currFast, currSlow float64) bool {
	return prevFast >= prevSlow && currFast < currSlow
}
