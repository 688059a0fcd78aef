package strategy

import (
	"context"
	"strings"
	"sync"

	"forex-trading-bot/internal/broker"
	"forex-trading-bot/internal/indicators"
	"forex-trading-bot/internal/logging"
)

// TechnicalStrategy combines independent RSI, MACD and Bollinger rules and
// keeps the last computed indicators for display.
type TechnicalStrategy struct {
	base

	mu   sync.RWMutex
	last IndicatorSnapshot
}

func technicalParams() []StrategyParameter {
	return []StrategyParameter{
		Param("rsiPeriod", 14, 2, 50, 1, "RSI period"),
		Param("rsiOversold", 30, 5, 50, 1, "RSI oversold threshold"),
		Param("rsiOverbought", 70, 50, 95, 1, "RSI overbought threshold"),
		Param("macdFast", 12, 2, 50, 1, "MACD fast EMA period"),
		Param("macdSlow", 26, 5, 100, 1, "MACD slow EMA period"),
		Param("macdSignal", 9, 2, 50, 1, "MACD signal period"),
		Param("bbPeriod", 20, 5, 100, 1, "Bollinger period"),
		Param("bbStdDev", 2, 1, 4, 0.1, "Bollinger band width in standard deviations"),
		Param("atrPeriod", 14, 2, 50, 1, "ATR period"),
		Param("atrMultiplier", 1.5, 0.5, 5, 0.1, "Stop distance in ATRs"),
		Param("riskReward", 2, 0.5, 5, 0.1, "Take profit as a multiple of stop distance"),
	}
}

// NewTechnicalStrategy creates the composite indicator strategy.
func NewTechnicalStrategy(settings Settings, logger *logging.Logger) (*TechnicalStrategy, error) {
	b, err := newBase("technical", "Technical", settings, technicalParams(), logger)
	if err != nil {
		return nil, err
	}
	return &TechnicalStrategy{base: b}, nil
}

// LastIndicators returns the values computed by the latest Analyze call.
func (s *TechnicalStrategy) LastIndicators() IndicatorSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// technicalVotes evaluates the rules in order RSI, MACD, Bollinger and
// returns each fired direction with its reason in that order.
func technicalVotes(snap IndicatorSnapshot, prevMACD, prevSignal, oversold, overbought float64) ([]broker.Side, []string) {
	var sides []broker.Side
	var reasons []string

	switch {
	case snap.RSI < oversold:
		sides = append(sides, broker.SideBuy)
		reasons = append(reasons, "RSI oversold")
	case snap.RSI > overbought:
		sides = append(sides, broker.SideSell)
		reasons = append(reasons, "RSI overbought")
	}

	switch {
	case prevMACD <= prevSignal && snap.MACD > snap.MACDSignal:
		sides = append(sides, broker.SideBuy)
		reasons = append(reasons, "MACD bullish cross")
	case prevMACD >= prevSignal && snap.MACD < snap.MACDSignal:
		sides = append(sides, broker.SideSell)
		reasons = append(reasons, "MACD bearish cross")
	}

	switch {
	case snap.Price < snap.BollingerLower:
		sides = append(sides, broker.SideBuy)
		reasons = append(reasons, "price below lower band")
	case snap.Price > snap.BollingerUpper:
		sides = append(sides, broker.SideSell)
		reasons = append(reasons, "price above upper band")
	}

	return sides, reasons
}

func (s *TechnicalStrategy) Analyze(ctx context.Context, conn broker.Connection) (*TradeSignal, error) {
	p := s.params.Snapshot()
	need := maxInt(p.Int("rsiPeriod")+1, p.Int("macdSlow")+p.Int("macdSignal"), p.Int("bbPeriod"), p.Int("atrPeriod")+1)

	quote, candles, ok, err := s.marketData(ctx, conn, need)
	if err != nil || !ok {
		return nil, err
	}
	closes := broker.Closes(candles)

	rsi, err := indicators.RSI(closes, p.Int("rsiPeriod"))
	if err != nil {
		return s.indicatorFailed("rsi", err)
	}
	macd, err := indicators.MACD(closes, p.Int("macdFast"), p.Int("macdSlow"), p.Int("macdSignal"))
	if err != nil {
		return s.indicatorFailed("macd", err)
	}
	bb, err := indicators.BollingerBands(closes, p.Int("bbPeriod"), p.Float("bbStdDev"))
	if err != nil {
		return s.indicatorFailed("bollinger", err)
	}
	atr, err := indicators.ATR(broker.Highs(candles), broker.Lows(candles), closes, p.Int("atrPeriod"))
	if err != nil {
		return s.indicatorFailed("atr", err)
	}

	m, sig, hist := macd.Last()
	pm, ps, _ := macd.Previous()
	upper, middle, lower := bb.Last()
	snap := IndicatorSnapshot{
		RSI:             last(rsi),
		MACD:            m,
		MACDSignal:      sig,
		MACDHistogram:   hist,
		BollingerUpper:  upper,
		BollingerMiddle: middle,
		BollingerLower:  lower,
		ATR:             last(atr),
		Price:           quote.Mid(),
		UpdatedAt:       s.now(),
	}

	s.mu.Lock()
	s.last = snap
	s.mu.Unlock()

	sides, reasons := technicalVotes(snap, pm, ps, p.Float("rsiOversold"), p.Float("rsiOverbought"))
	if len(sides) == 0 {
		return nil, nil
	}
	// first appended direction wins
	side := sides[0]
	var agreeing []string
	for i, sd := range sides {
		if sd == side {
			agreeing = append(agreeing, reasons[i])
		}
	}
	return s.buildSignal(side, quote, snap.ATR, p.Float("atrMultiplier"), p.Float("riskReward"), strings.Join(agreeing, ", ")), nil
}
