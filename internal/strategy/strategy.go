package strategy

import (
	"context"
	"errors"
	"time"

	"forex-trading-bot/internal/broker"
	"forex-trading-bot/internal/risk"
)

// Strategy turns a connection's market data into a trade recommendation.
type Strategy interface {
	// ID returns the registry id of the variant
	ID() string

	// Name returns a display name including symbol and timeframe
	Name() string

	Symbol() string
	Timeframe() string

	// Interval is how often the strategy wants to be polled
	Interval() time.Duration

	// Volume is the default order size
	Volume() float64

	Parameters() []StrategyParameter
	UpdateParameters(values map[string]float64) error

	// Analyze fetches one quote and one candle window from conn and returns
	// a signal, or nil when no rule fires. Validation failures are logged and
	// reported as nil; connection failures wrap broker.ErrDataUnavailable.
	Analyze(ctx context.Context, conn broker.Connection) (*TradeSignal, error)
}

// TradeObserver is implemented by strategies that keep state about
// executed trades, such as grid ladders.
type TradeObserver interface {
	OnTradeExecuted(signal *TradeSignal, result broker.OrderResult)
}

// IndicatorReporter is implemented by strategies exposing their last
// computed indicator values for dashboards.
type IndicatorReporter interface {
	LastIndicators() IndicatorSnapshot
}

// TradeSignal is a fully populated trade recommendation. It is never
// mutated after Analyze returns it.
type TradeSignal struct {
	Type       broker.Side `json:"type"`
	Symbol     string      `json:"symbol"`
	Volume     float64     `json:"volume"`
	Entry      float64     `json:"entry"`
	StopLoss   float64     `json:"stopLoss"`
	TakeProfit float64     `json:"takeProfit"`
	Strategy   string      `json:"strategy"`
	Reason     string      `json:"reason"`
	Timestamp  time.Time   `json:"timestamp"`
}

// IndicatorSnapshot holds the latest indicator values of a strategy.
type IndicatorSnapshot struct {
	RSI             float64   `json:"rsi"`
	MACD            float64   `json:"macd"`
	MACDSignal      float64   `json:"macdSignal"`
	MACDHistogram   float64   `json:"macdHistogram"`
	BollingerUpper  float64   `json:"bollingerUpper"`
	BollingerMiddle float64   `json:"bollingerMiddle"`
	BollingerLower  float64   `json:"bollingerLower"`
	ATR             float64   `json:"atr"`
	Price           float64   `json:"price"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Settings are the per-instance settings shared by every variant.
type Settings struct {
	Symbol      string             `json:"symbol"`
	Timeframe   string             `json:"timeframe"`
	Interval    time.Duration      `json:"interval"`
	Volume      float64            `json:"volume"`
	MinSpread   float64            `json:"min_spread"`
	MaxSpread   float64            `json:"max_spread"` // zero disables the upper bound
	CandleCount int                `json:"candle_count"`
	Risk        risk.Config        `json:"risk"`
	Parameters  map[string]float64 `json:"parameters"`
}

var (
	// ErrValidation marks malformed market input. It suppresses the signal
	// and never escapes Analyze.
	ErrValidation = errors.New("validation failed")
	// ErrUnknownStrategy is returned by New for ids missing from the registry.
	ErrUnknownStrategy = errors.New("unknown strategy")
	// ErrInvalidSettings is returned by New for unusable settings.
	ErrInvalidSettings = errors.New("invalid strategy settings")
)
