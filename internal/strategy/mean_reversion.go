package strategy

import (
	"context"
	"fmt"

	"forex-trading-bot/internal/broker"
	"forex-trading-bot/internal/indicators"
	"forex-trading-bot/internal/logging"
)

// MeanReversionStrategy fades moves outside the Bollinger envelope when RSI
// agrees and the last bar traded enough volume.
type MeanReversionStrategy struct {
	base
}

func meanReversionParams() []StrategyParameter {
	return []StrategyParameter{
		Param("bbPeriod", 20, 5, 100, 1, "Bollinger period"),
		Param("bbStdDev", 2, 1, 4, 0.1, "Bollinger band width in standard deviations"),
		Param("rsiPeriod", 14, 2, 50, 1, "RSI period"),
		Param("rsiOversold", 30, 5, 50, 1, "RSI oversold threshold"),
		Param("rsiOverbought", 70, 50, 95, 1, "RSI overbought threshold"),
		Param("minVolume", 100, 0, 1000000, 10, "Minimum volume of the last bar"),
		Param("stopMultiplier", 1, 0.2, 5, 0.1, "Stop distance in band half-widths"),
		Param("riskReward", 1.5, 0.5, 5, 0.1, "Take profit as a multiple of stop distance"),
	}
}

// NewMeanReversionStrategy creates the Bollinger/RSI/volume reversion strategy.
func NewMeanReversionStrategy(settings Settings, logger *logging.Logger) (*MeanReversionStrategy, error) {
	b, err := newBase("mean-reversion", "MeanReversion", settings, meanReversionParams(), logger)
	if err != nil {
		return nil, err
	}
	return &MeanReversionStrategy{base: b}, nil
}

type reversionSnapshot struct {
	Mid          float64
	Upper, Lower float64
	Middle       float64
	RSI          float64
	Volume       float64
}

func reversionDirection(s reversionSnapshot, oversold, overbought, minVolume float64) (broker.Side, bool) {
	if s.Volume <= minVolume {
		return "", false
	}
	if s.Mid < s.Lower && s.RSI < oversold {
		return broker.SideBuy, true
	}
	if s.Mid > s.Upper && s.RSI > overbought {
		return broker.SideSell, true
	}
	return "", false
}

func (s *MeanReversionStrategy) Analyze(ctx context.Context, conn broker.Connection) (*TradeSignal, error) {
	p := s.params.Snapshot()
	need := maxInt(p.Int("bbPeriod"), p.Int("rsiPeriod")+1)

	quote, candles, ok, err := s.marketData(ctx, conn, need)
	if err != nil || !ok {
		return nil, err
	}
	closes := broker.Closes(candles)

	bb, err := indicators.BollingerBands(closes, p.Int("bbPeriod"), p.Float("bbStdDev"))
	if err != nil {
		return s.indicatorFailed("bollinger", err)
	}
	rsi, err := indicators.RSI(closes, p.Int("rsiPeriod"))
	if err != nil {
		return s.indicatorFailed("rsi", err)
	}

	upper, middle, lower := bb.Last()
	snap := reversionSnapshot{
		Mid:    quote.Mid(),
		Upper:  upper,
		Middle: middle,
		Lower:  lower,
		RSI:    last(rsi),
		Volume: candles[len(candles)-1].Volume,
	}

	side, ok := reversionDirection(snap, p.Float("rsiOversold"), p.Float("rsiOverbought"), p.Float("minVolume"))
	if !ok {
		return nil, nil
	}
	reason := fmt.Sprintf("Price %.5f outside bands %.5f-%.5f, RSI %.1f", snap.Mid, snap.Lower, snap.Upper, snap.RSI)
	return s.buildSignal(side, quote, upper-middle, p.Float("stopMultiplier"), p.Float("riskReward"), reason), nil
}
