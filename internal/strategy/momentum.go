package strategy

import (
	"context"
	"fmt"

	"forex-trading-bot/internal/broker"
	"forex-trading-bot/internal/indicators"
	"forex-trading-bot/internal/logging"
)

// MomentumStrategy enters on MACD crossovers backed by volume and N-bar
// momentum.
type MomentumStrategy struct {
	base
}

func momentumParams() []StrategyParameter {
	return []StrategyParameter{
		Param("macdFast", 12, 2, 50, 1, "MACD fast EMA period"),
		Param("macdSlow", 26, 5, 100, 1, "MACD slow EMA period"),
		Param("macdSignal", 9, 2, 50, 1, "MACD signal period"),
		Param("rsiPeriod", 14, 2, 50, 1, "RSI period"),
		Param("rsiBuyMax", 40, 10, 60, 1, "Highest RSI that still allows a buy"),
		Param("rsiSellMin", 60, 40, 90, 1, "Lowest RSI that still allows a sell"),
		Param("volumeLookback", 20, 2, 100, 1, "Bars averaged for volume strength"),
		Param("volumeStrengthMin", 1.2, 0.5, 5, 0.1, "Minimum current/average volume"),
		Param("momentumPeriod", 10, 1, 100, 1, "Bars for the momentum percentage"),
		Param("atrPeriod", 14, 2, 50, 1, "ATR period"),
		Param("atrMultiplier", 2, 0.5, 5, 0.1, "Stop distance in ATRs"),
		Param("riskReward", 2, 0.5, 5, 0.1, "Take profit as a multiple of stop distance"),
	}
}

// NewMomentumStrategy creates the MACD/RSI/volume momentum strategy.
func NewMomentumStrategy(settings Settings, logger *logging.Logger) (*MomentumStrategy, error) {
	b, err := newBase("momentum", "Momentum", settings, momentumParams(), logger)
	if err != nil {
		return nil, err
	}
	return &MomentumStrategy{base: b}, nil
}

type momentumSnapshot struct {
	PrevMACD, PrevSignal float64
	MACD, Signal         float64
	Histogram            float64
	RSI                  float64
	VolumeStrength       float64
	Momentum             float64
}

func momentumDirection(s momentumSnapshot, rsiBuyMax, rsiSellMin, minStrength float64) (broker.Side, bool) {
	if s.VolumeStrength <= minStrength {
		return "", false
	}
	crossedUp := s.PrevMACD <= s.PrevSignal && s.MACD > s.Signal
	crossedDown := s.PrevMACD >= s.PrevSignal && s.MACD < s.Signal

	if crossedUp && s.Histogram > 0 && s.RSI < rsiBuyMax && s.Momentum > 0 {
		return broker.SideBuy, true
	}
	if crossedDown && s.Histogram < 0 && s.RSI > rsiSellMin && s.Momentum < 0 {
		return broker.SideSell, true
	}
	return "", false
}

func (s *MomentumStrategy) Analyze(ctx context.Context, conn broker.Connection) (*TradeSignal, error) {
	p := s.params.Snapshot()
	need := maxInt(p.Int("macdSlow")+p.Int("macdSignal"), p.Int("rsiPeriod")+1,
		p.Int("volumeLookback")+1, p.Int("momentumPeriod")+1, p.Int("atrPeriod")+1)

	quote, candles, ok, err := s.marketData(ctx, conn, need)
	if err != nil || !ok {
		return nil, err
	}
	closes := broker.Closes(candles)

	macd, err := indicators.MACD(closes, p.Int("macdFast"), p.Int("macdSlow"), p.Int("macdSignal"))
	if err != nil {
		return s.indicatorFailed("macd", err)
	}
	rsi, err := indicators.RSI(closes, p.Int("rsiPeriod"))
	if err != nil {
		return s.indicatorFailed("rsi", err)
	}
	strength, err := indicators.VolumeStrength(broker.Volumes(candles), p.Int("volumeLookback"))
	if err != nil {
		return s.indicatorFailed("volume", err)
	}
	mom, err := indicators.Momentum(closes, p.Int("momentumPeriod"))
	if err != nil {
		return s.indicatorFailed("momentum", err)
	}
	atr, err := indicators.ATR(broker.Highs(candles), broker.Lows(candles), closes, p.Int("atrPeriod"))
	if err != nil {
		return s.indicatorFailed("atr", err)
	}

	pm, ps, _ := macd.Previous()
	m, sig, hist := macd.Last()
	snap := momentumSnapshot{
		PrevMACD: pm, PrevSignal: ps,
		MACD: m, Signal: sig, Histogram: hist,
		RSI:            last(rsi),
		VolumeStrength: strength,
		Momentum:       mom,
	}

	side, ok := momentumDirection(snap, p.Float("rsiBuyMax"), p.Float("rsiSellMin"), p.Float("volumeStrengthMin"))
	if !ok {
		return nil, nil
	}
	reason := fmt.Sprintf("MACD cross, RSI %.1f, volume x%.2f, momentum %.2f%%", snap.RSI, snap.VolumeStrength, snap.Momentum)
	return s.buildSignal(side, quote, last(atr), p.Float("atrMultiplier"), p.Float("riskReward"), reason), nil
}
