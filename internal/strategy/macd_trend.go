package strategy

import (
	"context"
	"fmt"
	"math"

	"forex-trading-bot/internal/broker"
	"forex-trading-bot/internal/indicators"
	"forex-trading-bot/internal/logging"
)

// MACDTrendStrategy trades MACD/signal crossovers between the previous and
// current bar.
type MACDTrendStrategy struct {
	base
}

func macdTrendParams() []StrategyParameter {
	return []StrategyParameter{
		Param("macdFast", 12, 2, 50, 1, "MACD fast EMA period"),
		Param("macdSlow", 26, 5, 100, 1, "MACD slow EMA period"),
		Param("macdSignal", 9, 2, 50, 1, "MACD signal period"),
		Param("minHistogram", 0, 0, 1000, 0.00001, "Minimum absolute histogram at the crossover"),
		Param("atrPeriod", 14, 2, 50, 1, "ATR period"),
		Param("atrMultiplier", 2, 0.5, 5, 0.1, "Stop distance in ATRs"),
		Param("riskReward", 2, 0.5, 5, 0.1, "Take profit as a multiple of stop distance"),
	}
}

// NewMACDTrendStrategy creates the MACD crossover strategy.
func NewMACDTrendStrategy(settings Settings, logger *logging.Logger) (*MACDTrendStrategy, error) {
	b, err := newBase("macd-trend", "MACDTrend", settings, macdTrendParams(), logger)
	if err != nil {
		return nil, err
	}
	return &MACDTrendStrategy{base: b}, nil
}

// macdCrossDirection fires only on a crossover between consecutive bars.
func macdCrossDirection(prevMACD, prevSignal, macd, signal, histogram, minHistogram float64) (broker.Side, bool) {
	if math.Abs(histogram) < minHistogram {
		return "", false
	}
	if prevMACD <= prevSignal && macd > signal {
		return broker.SideBuy, true
	}
	if prevMACD >= prevSignal && macd < signal {
		return broker.SideSell, true
	}
	return "", false
}

func (s *MACDTrendStrategy) Analyze(ctx context.Context, conn broker.Connection) (*TradeSignal, error) {
	p := s.params.Snapshot()
	need := maxInt(p.Int("macdSlow")+p.Int("macdSignal"), p.Int("atrPeriod")+1)

	quote, candles, ok, err := s.marketData(ctx, conn, need)
	if err != nil || !ok {
		return nil, err
	}
	closes := broker.Closes(candles)

	macd, err := indicators.MACD(closes, p.Int("macdFast"), p.Int("macdSlow"), p.Int("macdSignal"))
	if err != nil {
		return s.indicatorFailed("macd", err)
	}
	atr, err := indicators.ATR(broker.Highs(candles), broker.Lows(candles), closes, p.Int("atrPeriod"))
	if err != nil {
		return s.indicatorFailed("atr", err)
	}

	pm, ps, _ := macd.Previous()
	m, sig, hist := macd.Last()
	side, ok := macdCrossDirection(pm, ps, m, sig, hist, p.Float("minHistogram"))
	if !ok {
		return nil, nil
	}
	reason := fmt.Sprintf("MACD %.6f crossed signal %.6f (hist %.6f)", m, sig, hist)
	return s.buildSignal(side, quote, last(atr), p.Float("atrMultiplier"), p.Float("riskReward"), reason), nil
}
