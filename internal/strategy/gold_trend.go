package strategy

import (
	"context"
	"fmt"
	"math"

	"forex-trading-bot/internal/broker"
	"forex-trading-bot/internal/indicators"
	"forex-trading-bot/internal/logging"
)

// GoldTrendStrategy follows a stacked EMA trend confirmed by RSI, MACD and a
// minimum ATR relative to the spread.
type GoldTrendStrategy struct {
	base
}

func goldTrendParams() []StrategyParameter {
	return []StrategyParameter{
		Param("emaFast", 5, 2, 50, 1, "Fast EMA period"),
		Param("emaMid", 13, 3, 100, 1, "Middle EMA period"),
		Param("emaSlow", 21, 5, 200, 1, "Slow EMA period"),
		Param("rsiPeriod", 14, 2, 50, 1, "RSI period"),
		Param("rsiOversold", 30, 5, 50, 1, "RSI level below which buys are allowed"),
		Param("rsiOverbought", 70, 50, 95, 1, "RSI level above which sells are allowed"),
		Param("macdFast", 12, 2, 50, 1, "MACD fast EMA period"),
		Param("macdSlow", 26, 5, 100, 1, "MACD slow EMA period"),
		Param("macdSignal", 9, 2, 50, 1, "MACD signal period"),
		Param("atrPeriod", 14, 2, 50, 1, "ATR period"),
		Param("atrMultiplier", 1.5, 0.5, 5, 0.1, "Stop distance in ATRs"),
		Param("riskReward", 2, 0.5, 5, 0.1, "Take profit as a multiple of stop distance"),
	}
}

// NewGoldTrendStrategy creates the EMA/MACD/RSI trend strategy.
func NewGoldTrendStrategy(settings Settings, logger *logging.Logger) (*GoldTrendStrategy, error) {
	b, err := newBase("gold-trend", "GoldTrend", settings, goldTrendParams(), logger)
	if err != nil {
		return nil, err
	}
	return &GoldTrendStrategy{base: b}, nil
}

type trendSnapshot struct {
	EMAFast, EMAMid, EMASlow float64
	RSI                      float64
	MACD, Signal, Histogram  float64
	ATR                      float64
}

// trendDirection applies the trend rule table. The ATR gate requires the
// market to move at least twice the minimum spread.
func trendDirection(s trendSnapshot, oversold, overbought, minSpread float64) (broker.Side, bool) {
	if s.ATR <= 2*minSpread {
		return "", false
	}
	if s.EMAFast > s.EMAMid && s.EMAMid > s.EMASlow &&
		s.RSI < oversold && s.MACD > s.Signal && s.Histogram > 0 {
		return broker.SideBuy, true
	}
	if s.EMAFast < s.EMAMid && s.EMAMid < s.EMASlow &&
		s.RSI > overbought && s.MACD < s.Signal && s.Histogram < 0 {
		return broker.SideSell, true
	}
	return "", false
}

func (s *GoldTrendStrategy) Analyze(ctx context.Context, conn broker.Connection) (*TradeSignal, error) {
	p := s.params.Snapshot()
	need := maxInt(p.Int("emaSlow"), p.Int("rsiPeriod")+1, p.Int("macdSlow")+p.Int("macdSignal"), p.Int("atrPeriod")+1)

	quote, candles, ok, err := s.marketData(ctx, conn, need)
	if err != nil || !ok {
		return nil, err
	}
	closes := broker.Closes(candles)

	fast, err := indicators.EMA(closes, p.Int("emaFast"))
	if err != nil {
		return s.indicatorFailed("ema", err)
	}
	mid, err := indicators.EMA(closes, p.Int("emaMid"))
	if err != nil {
		return s.indicatorFailed("ema", err)
	}
	slow, err := indicators.EMA(closes, p.Int("emaSlow"))
	if err != nil {
		return s.indicatorFailed("ema", err)
	}
	rsi, err := indicators.RSI(closes, p.Int("rsiPeriod"))
	if err != nil {
		return s.indicatorFailed("rsi", err)
	}
	macd, err := indicators.MACD(closes, p.Int("macdFast"), p.Int("macdSlow"), p.Int("macdSignal"))
	if err != nil {
		return s.indicatorFailed("macd", err)
	}
	atr, err := indicators.ATR(broker.Highs(candles), broker.Lows(candles), closes, p.Int("atrPeriod"))
	if err != nil {
		return s.indicatorFailed("atr", err)
	}

	m, sig, hist := macd.Last()
	snap := trendSnapshot{
		EMAFast:   last(fast),
		EMAMid:    last(mid),
		EMASlow:   last(slow),
		RSI:       last(rsi),
		MACD:      m,
		Signal:    sig,
		Histogram: hist,
		ATR:       last(atr),
	}
	return s.evaluate(snap, quote, p), nil
}

// evaluate gates ATR on the configured minimum spread or the quoted spread,
// whichever is wider.
func (s *GoldTrendStrategy) evaluate(snap trendSnapshot, quote broker.PriceQuote, p Values) *TradeSignal {
	floor := math.Max(s.settings.MinSpread, quote.Spread())
	side, ok := trendDirection(snap, p.Float("rsiOversold"), p.Float("rsiOverbought"), floor)
	if !ok {
		return nil
	}
	reason := fmt.Sprintf("EMA stack %.5f/%.5f/%.5f, RSI %.1f, MACD hist %.6f", snap.EMAFast, snap.EMAMid, snap.EMASlow, snap.RSI, snap.Histogram)
	return s.buildSignal(side, quote, snap.ATR, p.Float("atrMultiplier"), p.Float("riskReward"), reason)
}

func last(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return values[len(values)-1]
}

// prevLast returns the second to last and last values.
func prevLast(values []float64) (float64, float64) {
	switch len(values) {
	case 0:
		return 0, 0
	case 1:
		return values[0], values[0]
	}
	return values[len(values)-2], values[len(values)-1]
}
