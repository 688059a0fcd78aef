package strategy

import (
	"context"
	"errors"
	"testing"

	"forex-trading-bot/internal/broker"
	"forex-trading-bot/internal/broker/brokertest"
	"forex-trading-bot/internal/logging"
	"forex-trading-bot/internal/risk"
)

func testSettings(symbol string) Settings {
	return Settings{
		Symbol:    symbol,
		Timeframe: broker.TF1h,
		Volume:    0.1,
		Risk:      risk.Config{Digits: 5},
	}
}

func TestGoldTrend_ScenarioBuy(t *testing.T) {
	settings := testSettings("EURUSD")
	settings.MinSpread = 0.0010
	s, err := NewGoldTrendStrategy(settings, logging.Nop())
	if err != nil {
		t.Fatal(err)
	}

	snap := trendSnapshot{
		EMAFast: 1.2100, EMAMid: 1.2080, EMASlow: 1.2050,
		RSI:  25,
		MACD: 0.0003, Signal: 0.0001, Histogram: 0.0002,
		ATR: 0.0030,
	}
	quote := broker.PriceQuote{Bid: 1.2090, Ask: 1.2100}

	sig := s.evaluate(snap, quote, s.params.Snapshot())
	if sig == nil {
		t.Fatal("Expected a buy signal")
	}
	if sig.Type != broker.SideBuy {
		t.Errorf("Expected buy, got %s", sig.Type)
	}
	if !(sig.StopLoss < quote.Ask && quote.Ask < sig.TakeProfit) {
		t.Errorf("Expected stopLoss < ask < takeProfit, got %v < %v < %v", sig.StopLoss, quote.Ask, sig.TakeProfit)
	}
	if sig.Volume != 0.1 || sig.Symbol != "EURUSD" || sig.Strategy != "gold-trend" {
		t.Errorf("Unexpected signal fields: %+v", sig)
	}
}

func TestGoldTrend_QuotedSpreadGatesATR(t *testing.T) {
	settings := testSettings("XAUUSD")
	settings.Risk.Digits = 2
	s, err := NewGoldTrendStrategy(settings, logging.Nop())
	if err != nil {
		t.Fatal(err)
	}
	snap := trendSnapshot{
		EMAFast: 2352, EMAMid: 2350, EMASlow: 2347,
		RSI:  25,
		MACD: 0.8, Signal: 0.5, Histogram: 0.3,
		ATR: 0.5,
	}
	quote := broker.PriceQuote{Bid: 2349.85, Ask: 2350.15}

	// no min_spread configured: ATR 0.5 is below twice the 0.30 spread
	if sig := s.evaluate(snap, quote, s.params.Snapshot()); sig != nil {
		t.Errorf("Expected ATR under twice the quoted spread to block, got %+v", sig)
	}
	snap.ATR = 0.9
	if sig := s.evaluate(snap, quote, s.params.Snapshot()); sig == nil || sig.Type != broker.SideBuy {
		t.Errorf("Expected buy once ATR clears the spread, got %+v", sig)
	}
}

func TestTrendDirection(t *testing.T) {
	buy := trendSnapshot{EMAFast: 3, EMAMid: 2, EMASlow: 1, RSI: 25, MACD: 2, Signal: 1, Histogram: 1, ATR: 1}
	sell := trendSnapshot{EMAFast: 1, EMAMid: 2, EMASlow: 3, RSI: 75, MACD: 1, Signal: 2, Histogram: -1, ATR: 1}

	tests := []struct {
		name      string
		snap      trendSnapshot
		minSpread float64
		want      broker.Side
		ok        bool
	}{
		{"buy", buy, 0.1, broker.SideBuy, true},
		{"sell", sell, 0.1, broker.SideSell, true},
		{"atr too small", buy, 0.5, "", false},
		{"rsi not oversold", func() trendSnapshot { s := buy; s.RSI = 45; return s }(), 0.1, "", false},
		{"negative histogram", func() trendSnapshot { s := buy; s.Histogram = -0.1; return s }(), 0.1, "", false},
		{"broken ema stack", func() trendSnapshot { s := buy; s.EMAMid = 0.5; return s }(), 0.1, "", false},
	}
	for _, tt := range tests {
		got, ok := trendDirection(tt.snap, 30, 70, tt.minSpread)
		if ok != tt.ok || got != tt.want {
			t.Errorf("%s: expected (%q,%v), got (%q,%v)", tt.name, tt.want, tt.ok, got, ok)
		}
	}
}

func TestRSICrossDirection_Scenario(t *testing.T) {
	if side, ok := rsiCrossDirection(28, 32, 30, 70); !ok || side != broker.SideBuy {
		t.Errorf("Expected buy on upward cross through 30, got (%q,%v)", side, ok)
	}
	if _, ok := rsiCrossDirection(32, 28, 30, 70); ok {
		t.Error("Expected no signal when RSI moves down into the zone")
	}
	if _, ok := rsiCrossDirection(25, 27, 30, 70); ok {
		t.Error("Expected no signal while RSI stays in the zone")
	}
	if side, ok := rsiCrossDirection(72, 68, 30, 70); !ok || side != broker.SideSell {
		t.Errorf("Expected sell on downward cross through 70, got (%q,%v)", side, ok)
	}
}

func TestMACDCrossDirection(t *testing.T) {
	if side, ok := macdCrossDirection(-0.1, 0, 0.2, 0.1, 0.1, 0.05); !ok || side != broker.SideBuy {
		t.Errorf("Expected buy crossover, got (%q,%v)", side, ok)
	}
	if side, ok := macdCrossDirection(0.2, 0.1, -0.1, 0, -0.1, 0.05); !ok || side != broker.SideSell {
		t.Errorf("Expected sell crossover, got (%q,%v)", side, ok)
	}
	if _, ok := macdCrossDirection(0.3, 0.1, 0.4, 0.2, 0.2, 0.05); ok {
		t.Error("Expected no signal without a crossover")
	}
	if _, ok := macdCrossDirection(-0.1, 0, 0.11, 0.1, 0.01, 0.05); ok {
		t.Error("Expected histogram gate to suppress a weak crossover")
	}
}

func TestMomentumDirection(t *testing.T) {
	buy := momentumSnapshot{PrevMACD: -1, PrevSignal: 0, MACD: 1, Signal: 0.5, Histogram: 0.5, RSI: 35, VolumeStrength: 1.5, Momentum: 0.8}
	if side, ok := momentumDirection(buy, 40, 60, 1.2); !ok || side != broker.SideBuy {
		t.Errorf("Expected buy, got (%q,%v)", side, ok)
	}

	weak := buy
	weak.VolumeStrength = 1.1
	if _, ok := momentumDirection(weak, 40, 60, 1.2); ok {
		t.Error("Expected low volume strength to suppress the signal")
	}

	sell := momentumSnapshot{PrevMACD: 1, PrevSignal: 0, MACD: -1, Signal: -0.5, Histogram: -0.5, RSI: 65, VolumeStrength: 2, Momentum: -0.4}
	if side, ok := momentumDirection(sell, 40, 60, 1.2); !ok || side != broker.SideSell {
		t.Errorf("Expected sell, got (%q,%v)", side, ok)
	}
}

func TestTechnicalVotes_FirstDirectionWins(t *testing.T) {
	snap := IndicatorSnapshot{
		RSI:            25,  // buy
		MACD:           -1,  // bearish cross with prev values below
		MACDSignal:     0,
		Price:          105, // above upper band: sell
		BollingerUpper: 104,
		BollingerLower: 96,
	}
	sides, reasons := technicalVotes(snap, 1, 0, 30, 70)
	if len(sides) != 3 {
		t.Fatalf("Expected three votes, got %v (%v)", sides, reasons)
	}
	if sides[0] != broker.SideBuy || sides[1] != broker.SideSell || sides[2] != broker.SideSell {
		t.Errorf("Unexpected vote order %v", sides)
	}
}

// reversionCloses oscillates around 100 and then drops 2.0 per bar for five bars.
func reversionCloses() []float64 {
	closes := make([]float64, 0, 40)
	for i := 0; i < 35; i++ {
		if i%2 == 0 {
			closes = append(closes, 100.5)
		} else {
			closes = append(closes, 99.5)
		}
	}
	return append(closes, 98.5, 96.5, 94.5, 92.5, 90.5)
}

func newMeanReversion(t *testing.T) *MeanReversionStrategy {
	t.Helper()
	settings := testSettings("XAUUSD")
	settings.MaxSpread = 1.00
	settings.CandleCount = 40
	settings.Risk = risk.Config{Digits: 2}
	s, err := NewMeanReversionStrategy(settings, logging.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestMeanReversion_BuyBelowLowerBand(t *testing.T) {
	s := newMeanReversion(t)
	conn := brokertest.New(broker.PriceQuote{Bid: 90.45, Ask: 90.55}, brokertest.CandlesFromCloses(reversionCloses(), 1000))

	sig, err := s.Analyze(context.Background(), conn)
	if err != nil {
		t.Fatal(err)
	}
	if sig == nil {
		t.Fatal("Expected a buy signal below the lower band")
	}
	if sig.Type != broker.SideBuy {
		t.Errorf("Expected buy, got %s", sig.Type)
	}
	if !(sig.StopLoss < sig.Entry && sig.Entry < sig.TakeProfit) {
		t.Errorf("Expected stop < entry < target, got %+v", sig)
	}
}

func TestMeanReversion_LowVolumeNoSignal(t *testing.T) {
	s := newMeanReversion(t)
	conn := brokertest.New(broker.PriceQuote{Bid: 90.45, Ask: 90.55}, brokertest.CandlesFromCloses(reversionCloses(), 50))

	sig, err := s.Analyze(context.Background(), conn)
	if err != nil || sig != nil {
		t.Errorf("Expected no signal on thin volume, got %+v, %v", sig, err)
	}
}

func TestAnalyze_SpreadTooWide(t *testing.T) {
	s := newMeanReversion(t)
	conn := brokertest.New(broker.PriceQuote{Bid: 2350.00, Ask: 2351.20}, brokertest.CandlesFromCloses(reversionCloses(), 1000))

	sig, err := s.Analyze(context.Background(), conn)
	if err != nil {
		t.Fatalf("Expected no error for a rejected quote, got %v", err)
	}
	if sig != nil {
		t.Errorf("Expected nil signal, got %+v", sig)
	}
	if conn.CandleCalls() != 0 {
		t.Errorf("Expected candles not fetched after quote rejection, got %d calls", conn.CandleCalls())
	}
}

func TestAnalyze_InvalidQuotesAndShortHistory(t *testing.T) {
	s := newMeanReversion(t)
	ctx := context.Background()

	for _, q := range []broker.PriceQuote{
		{Bid: 0, Ask: 1},
		{Bid: 1.2, Ask: 1.1},
		{Bid: 1.1, Ask: 1.1},
	} {
		conn := brokertest.New(q, brokertest.CandlesFromCloses(reversionCloses(), 1000))
		if sig, err := s.Analyze(ctx, conn); sig != nil || err != nil {
			t.Errorf("quote %+v: expected (nil, nil), got (%+v, %v)", q, sig, err)
		}
	}

	short := brokertest.New(broker.PriceQuote{Bid: 90.45, Ask: 90.55}, brokertest.CandlesFromCloses(reversionCloses()[:10], 1000))
	if sig, err := s.Analyze(ctx, short); sig != nil || err != nil {
		t.Errorf("Expected (nil, nil) for short history, got (%+v, %v)", sig, err)
	}
}

func TestAnalyze_ConnectionFailureIsDataUnavailable(t *testing.T) {
	s := newMeanReversion(t)
	conn := brokertest.New(broker.PriceQuote{Bid: 90.45, Ask: 90.55}, nil)
	conn.FailQuotes(errors.New("socket closed"))

	_, err := s.Analyze(context.Background(), conn)
	if !errors.Is(err, broker.ErrDataUnavailable) {
		t.Errorf("Expected ErrDataUnavailable, got %v", err)
	}

	conn.FailQuotes(nil)
	conn.FailCandles(errors.New("history not loaded"))
	_, err = s.Analyze(context.Background(), conn)
	if !errors.Is(err, broker.ErrDataUnavailable) {
		t.Errorf("Expected ErrDataUnavailable for candles, got %v", err)
	}
}

func TestTechnical_RecordsIndicators(t *testing.T) {
	settings := testSettings("XAUUSD")
	settings.CandleCount = 40
	settings.Risk = risk.Config{Digits: 2}
	s, err := NewTechnicalStrategy(settings, logging.Nop())
	if err != nil {
		t.Fatal(err)
	}
	conn := brokertest.New(broker.PriceQuote{Bid: 90.45, Ask: 90.55}, brokertest.CandlesFromCloses(reversionCloses(), 1000))

	sig, err := s.Analyze(context.Background(), conn)
	if err != nil {
		t.Fatal(err)
	}
	snap := s.LastIndicators()
	if snap.UpdatedAt.IsZero() || snap.RSI <= 0 || snap.BollingerLower >= snap.BollingerUpper {
		t.Errorf("Expected populated indicator snapshot, got %+v", snap)
	}
	// RSI is oversold, so the first vote is a buy
	if sig == nil || sig.Type != broker.SideBuy {
		t.Errorf("Expected buy signal, got %+v", sig)
	}
}
