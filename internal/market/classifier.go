package market

import (
	"context"
	"errors"
	"fmt"

	"forex-trading-bot/internal/broker"
	"forex-trading-bot/internal/indicators"
	"forex-trading-bot/internal/logging"
)

// ErrInsufficientCandles is returned when the window is shorter than the
// longest lookback the classifier needs.
var ErrInsufficientCandles = errors.New("insufficient candles for classification")

// ClassifierConfig holds the classification thresholds.
type ClassifierConfig struct {
	FastPeriod int `json:"fast_period"`
	SlowPeriod int `json:"slow_period"`
	// TrendThreshold is the relative fast/slow EMA spread above which the
	// market counts as trending.
	TrendThreshold float64 `json:"trend_threshold"`
	ATRPeriod      int     `json:"atr_period"`
	// VolatilityCeiling is the ATR/price ratio that maps to a score of 1.
	VolatilityCeiling float64 `json:"volatility_ceiling"`
	VolumeLookback    int     `json:"volume_lookback"`
	// VolumeCeiling is the volume strength that maps to a score of 1.
	VolumeCeiling float64 `json:"volume_ceiling"`
}

// DefaultClassifierConfig returns the default thresholds.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		FastPeriod:        20,
		SlowPeriod:        50,
		TrendThreshold:    0.001,
		ATRPeriod:         14,
		VolatilityCeiling: 0.02,
		VolumeLookback:    20,
		VolumeCeiling:     2,
	}
}

// Classifier reduces a candle window to a Condition.
type Classifier struct {
	cfg    ClassifierConfig
	logger *logging.Logger
}

// NewClassifier creates a classifier. Zero fields fall back to defaults.
func NewClassifier(cfg ClassifierConfig, logger *logging.Logger) *Classifier {
	def := DefaultClassifierConfig()
	if cfg.FastPeriod <= 0 {
		cfg.FastPeriod = def.FastPeriod
	}
	if cfg.SlowPeriod <= 0 {
		cfg.SlowPeriod = def.SlowPeriod
	}
	if cfg.TrendThreshold <= 0 {
		cfg.TrendThreshold = def.TrendThreshold
	}
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = def.ATRPeriod
	}
	if cfg.VolatilityCeiling <= 0 {
		cfg.VolatilityCeiling = def.VolatilityCeiling
	}
	if cfg.VolumeLookback <= 0 {
		cfg.VolumeLookback = def.VolumeLookback
	}
	if cfg.VolumeCeiling <= 0 {
		cfg.VolumeCeiling = def.VolumeCeiling
	}
	return &Classifier{cfg: cfg, logger: logging.OrDefault(logger, "classifier")}
}

// Config returns the effective thresholds.
func (c *Classifier) Config() ClassifierConfig {
	return c.cfg
}

// MinCandles is the shortest window Classify accepts.
func (c *Classifier) MinCandles() int {
	n := c.cfg.SlowPeriod
	if c.cfg.FastPeriod > n {
		n = c.cfg.FastPeriod
	}
	if c.cfg.ATRPeriod+1 > n {
		n = c.cfg.ATRPeriod + 1
	}
	if c.cfg.VolumeLookback+1 > n {
		n = c.cfg.VolumeLookback + 1
	}
	return n
}

// Classify computes the condition of candles, oldest first.
func (c *Classifier) Classify(candles []broker.Candle, timeframe string) (Condition, error) {
	if len(candles) < c.MinCandles() {
		return Condition{}, fmt.Errorf("%w: need %d, got %d", ErrInsufficientCandles, c.MinCandles(), len(candles))
	}
	closes := broker.Closes(candles)

	fast, err := indicators.EMA(closes, c.cfg.FastPeriod)
	if err != nil {
		return Condition{}, fmt.Errorf("fast ema: %w", err)
	}
	slow, err := indicators.EMA(closes, c.cfg.SlowPeriod)
	if err != nil {
		return Condition{}, fmt.Errorf("slow ema: %w", err)
	}
	trend := TrendSideways
	if s := slow[len(slow)-1]; s != 0 {
		spread := (fast[len(fast)-1] - s) / s
		switch {
		case spread > c.cfg.TrendThreshold:
			trend = TrendBullish
		case spread < -c.cfg.TrendThreshold:
			trend = TrendBearish
		}
	}

	atr, err := indicators.ATR(broker.Highs(candles), broker.Lows(candles), closes, c.cfg.ATRPeriod)
	if err != nil {
		return Condition{}, fmt.Errorf("atr: %w", err)
	}
	volatility := 0.0
	if price := closes[len(closes)-1]; price > 0 {
		volatility = clamp01(atr[len(atr)-1] / price / c.cfg.VolatilityCeiling)
	}

	strength, err := indicators.VolumeStrength(broker.Volumes(candles), c.cfg.VolumeLookback)
	if err != nil {
		return Condition{}, fmt.Errorf("volume strength: %w", err)
	}

	return Condition{
		Trend:      trend,
		Volatility: volatility,
		Volume:     clamp01(strength / c.cfg.VolumeCeiling),
		Timeframe:  timeframe,
	}, nil
}

// Observe fetches a window for symbol from conn and classifies it.
func (c *Classifier) Observe(ctx context.Context, conn broker.Connection, symbol, timeframe string) (Condition, error) {
	candles, err := conn.GetCandles(ctx, symbol, timeframe, c.MinCandles()+1)
	if err != nil {
		if errors.Is(err, broker.ErrDataUnavailable) {
			return Condition{}, err
		}
		return Condition{}, fmt.Errorf("%w: candles: %w", broker.ErrDataUnavailable, err)
	}
	cond, err := c.Classify(candles, timeframe)
	if err != nil {
		return Condition{}, err
	}
	c.logger.Debug("Market classified",
		"symbol", symbol,
		"timeframe", timeframe,
		"trend", cond.Trend,
		"volatility", cond.Volatility,
		"volume", cond.Volume,
	)
	return cond, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
