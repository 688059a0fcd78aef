// Package indicators implements the technical indicators used by the
// strategies, the market classifier and the backtester. Every function is
// pure: identical input always yields identical output.
package indicators

import (
	"errors"
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
)

var (
	// ErrEmptySeries is returned when a function receives no prices.
	ErrEmptySeries = errors.New("indicators: empty price series")
	// ErrInvalidPeriod is returned for a non-positive lookback.
	ErrInvalidPeriod = errors.New("indicators: period must be positive")
	// ErrInsufficientData is returned when the series is shorter than the lookback.
	ErrInsufficientData = errors.New("indicators: insufficient data for period")
)

// ============================================================================
// MOVING AVERAGES
// ============================================================================

// EMA returns the exponential moving average of prices. The first value is
// seeded with prices[0] and the result has the same length as the input.
func EMA(prices []float64, period int) ([]float64, error) {
	if len(prices) == 0 {
		return nil, ErrEmptySeries
	}
	if period < 1 {
		return nil, ErrInvalidPeriod
	}

	k := 2.0 / float64(period+1)
	ema := make([]float64, len(prices))
	ema[0] = prices[0]
	for i := 1; i < len(prices); i++ {
		ema[i] = (prices[i]-ema[i-1])*k + ema[i-1]
	}
	return ema, nil
}

// SMA returns the simple moving average. Output index i corresponds to
// input index i+period-1.
func SMA(prices []float64, period int) ([]float64, error) {
	if err := checkPeriod(prices, period); err != nil {
		return nil, err
	}
	return talib.Sma(prices, period)[period-1:], nil
}

// ============================================================================
// OSCILLATORS
// ============================================================================

// RSI returns the relative strength index using Wilder smoothing. The first
// value averages the first period changes; output index i corresponds to
// input index i+period.
//
// A zero average loss is replaced by 1 before dividing, which pulls the value
// of a strictly rising series away from 100. Strategy thresholds are tuned
// against this behaviour.
func RSI(prices []float64, period int) ([]float64, error) {
	if period < 1 {
		return nil, ErrInvalidPeriod
	}
	if len(prices) <= period {
		return nil, fmt.Errorf("%w: need more than %d prices, got %d", ErrInsufficientData, period, len(prices))
	}

	gains := make([]float64, len(prices)-1)
	losses := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			gains[i-1] = change
		} else {
			losses[i-1] = -change
		}
	}

	var avgGain, avgLoss float64
	for i := 0; i < period; i++ {
		avgGain += gains[i]
		avgLoss += losses[i]
	}
	p := float64(period)
	avgGain /= p
	avgLoss /= p

	out := make([]float64, 0, len(prices)-period)
	out = append(out, rsiValue(avgGain, avgLoss))
	for i := period; i < len(gains); i++ {
		avgGain = avgGain*(p-1)/p + gains[i]/p
		avgLoss = avgLoss*(p-1)/p + losses[i]/p
		out = append(out, rsiValue(avgGain, avgLoss))
	}
	return out, nil
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		avgLoss = 1
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// MACDResult holds the three MACD series, all the same length as the input.
type MACDResult struct {
	MACD      []float64
	Signal    []float64
	Histogram []float64
}

// Last returns the most recent MACD, signal and histogram values.
func (m MACDResult) Last() (macd, signal, histogram float64) {
	n := len(m.MACD)
	if n == 0 {
		return 0, 0, 0
	}
	return m.MACD[n-1], m.Signal[n-1], m.Histogram[n-1]
}

// Previous returns the values one bar before Last.
func (m MACDResult) Previous() (macd, signal, histogram float64) {
	n := len(m.MACD)
	if n < 2 {
		return m.Last()
	}
	return m.MACD[n-2], m.Signal[n-2], m.Histogram[n-2]
}

// MACD computes macd = EMA(fast) - EMA(slow), signal = EMA(macd, signal)
// and histogram = macd - signal.
func MACD(prices []float64, fast, slow, signal int) (MACDResult, error) {
	fastEMA, err := EMA(prices, fast)
	if err != nil {
		return MACDResult{}, err
	}
	slowEMA, err := EMA(prices, slow)
	if err != nil {
		return MACDResult{}, err
	}

	line := make([]float64, len(prices))
	for i := range prices {
		line[i] = fastEMA[i] - slowEMA[i]
	}
	sig, err := EMA(line, signal)
	if err != nil {
		return MACDResult{}, err
	}

	hist := make([]float64, len(prices))
	for i := range line {
		hist[i] = line[i] - sig[i]
	}
	return MACDResult{MACD: line, Signal: sig, Histogram: hist}, nil
}

// Momentum returns the percentage change over the last n bars.
func Momentum(prices []float64, n int) (float64, error) {
	if n < 1 {
		return 0, ErrInvalidPeriod
	}
	if len(prices) <= n {
		return 0, fmt.Errorf("%w: need more than %d prices, got %d", ErrInsufficientData, n, len(prices))
	}
	past := prices[len(prices)-1-n]
	if past == 0 {
		return 0, nil
	}
	return (prices[len(prices)-1] - past) / past * 100, nil
}

// ============================================================================
// VOLATILITY
// ============================================================================

// TrueRange returns the true range per bar. The first bar uses high-low.
func TrueRange(highs, lows, closes []float64) ([]float64, error) {
	if len(highs) == 0 {
		return nil, ErrEmptySeries
	}
	if len(highs) != len(lows) || len(highs) != len(closes) {
		return nil, fmt.Errorf("indicators: mismatched OHLC lengths %d/%d/%d", len(highs), len(lows), len(closes))
	}

	tr := make([]float64, len(highs))
	tr[0] = highs[0] - lows[0]
	for i := 1; i < len(highs); i++ {
		prevClose := closes[i-1]
		tr[i] = math.Max(highs[i]-lows[i], math.Max(math.Abs(highs[i]-prevClose), math.Abs(lows[i]-prevClose)))
	}
	return tr, nil
}

// ATR returns the Wilder-smoothed average true range. The first value is the
// simple mean of the first period true ranges; output index i corresponds to
// input index i+period-1.
func ATR(highs, lows, closes []float64, period int) ([]float64, error) {
	tr, err := TrueRange(highs, lows, closes)
	if err != nil {
		return nil, err
	}
	if err := checkPeriod(tr, period); err != nil {
		return nil, err
	}

	p := float64(period)
	var sum float64
	for i := 0; i < period; i++ {
		sum += tr[i]
	}

	out := make([]float64, 0, len(tr)-period+1)
	atr := sum / p
	out = append(out, atr)
	for i := period; i < len(tr); i++ {
		atr = (atr*(p-1) + tr[i]) / p
		out = append(out, atr)
	}
	return out, nil
}

// BollingerResult holds the three band series. Output index i corresponds to
// input index i+period-1.
type BollingerResult struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// Last returns the most recent upper, middle and lower band values.
func (b BollingerResult) Last() (upper, middle, lower float64) {
	n := len(b.Middle)
	if n == 0 {
		return 0, 0, 0
	}
	return b.Upper[n-1], b.Middle[n-1], b.Lower[n-1]
}

// BollingerBands returns SMA(period) ± multiplier * population stddev.
func BollingerBands(prices []float64, period int, multiplier float64) (BollingerResult, error) {
	if err := checkPeriod(prices, period); err != nil {
		return BollingerResult{}, err
	}
	upper, middle, lower := talib.BBands(prices, period, multiplier, multiplier, talib.SMA)
	return BollingerResult{
		Upper:  upper[period-1:],
		Middle: middle[period-1:],
		Lower:  lower[period-1:],
	}, nil
}

// StdDev returns the population standard deviation of values.
func StdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := Mean(values)
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return math.Sqrt(sq / float64(len(values)))
}

// Mean returns the arithmetic mean of values, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// ============================================================================
// VOLUME
// ============================================================================

// VolumeStrength returns the latest volume divided by the average volume of
// the lookback bars before it.
func VolumeStrength(volumes []float64, lookback int) (float64, error) {
	if lookback < 1 {
		return 0, ErrInvalidPeriod
	}
	if len(volumes) <= lookback {
		return 0, fmt.Errorf("%w: need more than %d volumes, got %d", ErrInsufficientData, lookback, len(volumes))
	}
	n := len(volumes)
	avg := Mean(volumes[n-1-lookback : n-1])
	if avg == 0 {
		return 0, nil
	}
	return volumes[n-1] / avg, nil
}

func checkPeriod(values []float64, period int) error {
	if period < 1 {
		return ErrInvalidPeriod
	}
	if len(values) == 0 {
		return ErrEmptySeries
	}
	if len(values) < period {
		return fmt.Errorf("%w: need %d values, got %d", ErrInsufficientData, period, len(values))
	}
	return nil
}
