package market

import (
	"math"
	"time"

	"forex-trading-bot/internal/strategy"
)

// Trend is the coarse direction of recent price action.
type Trend string

const (
	TrendBullish  Trend = "bullish"
	TrendBearish  Trend = "bearish"
	TrendSideways Trend = "sideways"
)

// Valid reports whether t is one of the known trends.
func (t Trend) Valid() bool {
	return t == TrendBullish || t == TrendBearish || t == TrendSideways
}

// Matching tolerances for the normalized volatility and volume scores.
const (
	VolatilityTolerance = 0.2
	VolumeTolerance     = 0.2
)

// Condition summarizes a candle window. Volatility and Volume are scores
// normalized to [0,1].
type Condition struct {
	Trend      Trend   `json:"trend"`
	Volatility float64 `json:"volatility"`
	Volume     float64 `json:"volume"`
	Timeframe  string  `json:"timeframe"`
}

// Matches reports whether c is within tolerance of other: exact trend and
// timeframe, volatility and volume each within 0.2.
func (c Condition) Matches(other Condition) bool {
	if c.Trend != other.Trend || c.Timeframe != other.Timeframe {
		return false
	}
	if math.Abs(c.Volatility-other.Volatility) > VolatilityTolerance+1e-9 {
		return false
	}
	return math.Abs(c.Volume-other.Volume) <= VolumeTolerance+1e-9
}

// VolatilityBucket labels the volatility score for display.
func (c Condition) VolatilityBucket() string {
	return bucket(c.Volatility)
}

// VolumeBucket labels the volume score for display.
func (c Condition) VolumeBucket() string {
	return bucket(c.Volume)
}

func bucket(score float64) string {
	switch {
	case score < 1.0/3:
		return "low"
	case score < 2.0/3:
		return "medium"
	default:
		return "high"
	}
}

// StrategyStatus is the lifecycle status of a catalog entry.
type StrategyStatus string

const (
	StatusActive   StrategyStatus = "active"
	StatusInactive StrategyStatus = "inactive"
	StatusTesting  StrategyStatus = "testing"
)

func (s StrategyStatus) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusTesting:
		return true
	}
	return false
}

// Conditions declares the regimes a strategy is built for.
type Conditions struct {
	Optimal    Condition   `json:"optimal"`
	Acceptable []Condition `json:"acceptable"`
}

// PerformanceMetrics is the latest recorded performance of a catalog entry.
type PerformanceMetrics struct {
	SharpeRatio float64   `json:"sharpeRatio"`
	WinRate     float64   `json:"winRate"`
	ProfitLoss  float64   `json:"profitLoss"`
	MaxDrawdown float64   `json:"maxDrawdown"`
	TradesCount int       `json:"tradesCount"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// TradingStrategy is one entry of the strategy catalog.
type TradingStrategy struct {
	ID                 string                       `json:"id"`
	Name               string                       `json:"name"`
	Status             StrategyStatus               `json:"status"`
	Parameters         []strategy.StrategyParameter `json:"parameters"`
	MarketConditions   Conditions                   `json:"marketConditions"`
	PerformanceMetrics *PerformanceMetrics          `json:"performanceMetrics,omitempty"`
}

// Suits reports whether cond matches the optimal condition or any of the
// acceptable ones.
func (t TradingStrategy) Suits(cond Condition) bool {
	if t.MarketConditions.Optimal.Matches(cond) {
		return true
	}
	for _, c := range t.MarketConditions.Acceptable {
		if c.Matches(cond) {
			return true
		}
	}
	return false
}

// ParameterValues returns the entry's parameters as a name to value map.
func (t TradingStrategy) ParameterValues() map[string]float64 {
	out := make(map[string]float64, len(t.Parameters))
	for _, p := range t.Parameters {
		out[p.Name] = p.Value
	}
	return out
}

// Clone returns a deep copy.
func (t TradingStrategy) Clone() TradingStrategy {
	out := t
	out.Parameters = append([]strategy.StrategyParameter(nil), t.Parameters...)
	out.MarketConditions.Acceptable = append([]Condition(nil), t.MarketConditions.Acceptable...)
	if t.PerformanceMetrics != nil {
		m := *t.PerformanceMetrics
		out.PerformanceMetrics = &m
	}
	return out
}
