package strategy

import (
	"context"
	"fmt"

	"forex-trading-bot/internal/broker"
	"forex-trading-bot/internal/indicators"
	"forex-trading-bot/internal/logging"
)

// RSIReversalStrategy trades RSI leaving an extreme zone. Being inside the
// zone is not enough; the crossing must happen between consecutive bars.
type RSIReversalStrategy struct {
	base
}

func rsiReversalParams() []StrategyParameter {
	return []StrategyParameter{
		Param("rsiPeriod", 14, 2, 50, 1, "RSI period"),
		Param("rsiOversold", 30, 5, 50, 1, "RSI oversold threshold"),
		Param("rsiOverbought", 70, 50, 95, 1, "RSI overbought threshold"),
		Param("atrPeriod", 14, 2, 50, 1, "ATR period"),
		Param("atrMultiplier", 1.5, 0.5, 5, 0.1, "Stop distance in ATRs"),
		Param("riskReward", 2, 0.5, 5, 0.1, "Take profit as a multiple of stop distance"),
	}
}

// NewRSIReversalStrategy creates the RSI crossing strategy.
func NewRSIReversalStrategy(settings Settings, logger *logging.Logger) (*RSIReversalStrategy, error) {
	b, err := newBase("rsi-reversal", "RSIReversal", settings, rsiReversalParams(), logger)
	if err != nil {
		return nil, err
	}
	return &RSIReversalStrategy{base: b}, nil
}

// rsiCrossDirection returns buy when RSI crosses back above oversold and sell
// when it crosses back below overbought.
func rsiCrossDirection(prev, current, oversold, overbought float64) (broker.Side, bool) {
	if prev <= oversold && current > oversold {
		return broker.SideBuy, true
	}
	if prev >= overbought && current < overbought {
		return broker.SideSell, true
	}
	return "", false
}

func (s *RSIReversalStrategy) Analyze(ctx context.Context, conn broker.Connection) (*TradeSignal, error) {
	p := s.params.Snapshot()
	need := maxInt(p.Int("rsiPeriod")+2, p.Int("atrPeriod")+1)

	quote, candles, ok, err := s.marketData(ctx, conn, need)
	if err != nil || !ok {
		return nil, err
	}
	closes := broker.Closes(candles)

	rsi, err := indicators.RSI(closes, p.Int("rsiPeriod"))
	if err != nil {
		return s.indicatorFailed("rsi", err)
	}
	atr, err := indicators.ATR(broker.Highs(candles), broker.Lows(candles), closes, p.Int("atrPeriod"))
	if err != nil {
		return s.indicatorFailed("atr", err)
	}

	prev, cur := prevLast(rsi)
	side, ok := rsiCrossDirection(prev, cur, p.Float("rsiOversold"), p.Float("rsiOverbought"))
	if !ok {
		return nil, nil
	}
	reason := fmt.Sprintf("RSI crossed %.1f -> %.1f", prev, cur)
	return s.buildSignal(side, quote, last(atr), p.Float("atrMultiplier"), p.Float("riskReward"), reason), nil
}
