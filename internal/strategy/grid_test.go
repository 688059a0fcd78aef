package strategy

import (
	"context"
	"errors"
	"math"
	"testing"

	"forex-trading-bot/internal/broker"
	"forex-trading-bot/internal/broker/brokertest"
	"forex-trading-bot/internal/logging"
	"forex-trading-bot/internal/risk"
)

func flatCloses(n int, price float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = price
	}
	return out
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func newStaticGrid(t *testing.T) *GridStrategy {
	t.Helper()
	settings := Settings{
		Symbol:    "XAUUSD",
		Timeframe: broker.TF1h,
		Volume:    0.1,
		Risk:      risk.Config{Digits: 2},
		Parameters: map[string]float64{
			"spacingPercent": 1,
			"gridLevels":     3,
			"maxExposure":    0.1,
		},
	}
	g, err := NewGridStrategy(GridStatic, settings, logging.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestGridStatic_Lifecycle(t *testing.T) {
	g := newStaticGrid(t)
	ctx := context.Background()
	conn := brokertest.New(broker.PriceQuote{Bid: 99.95, Ask: 100.05}, brokertest.CandlesFromCloses(flatCloses(30, 100), 1000))

	// initial ladder around 100, nothing within half a spacing
	sig, err := g.Analyze(ctx, conn)
	if err != nil || sig != nil {
		t.Fatalf("Expected no signal at the base price, got %+v, %v", sig, err)
	}
	ladder := g.Ladder()
	if !approx(ladder.BasePrice, 100) || !approx(ladder.Spacing, 1) || len(ladder.Levels) != 6 {
		t.Fatalf("Unexpected ladder %+v", ladder)
	}

	// price reaches the first buy level
	conn.SetQuote(broker.PriceQuote{Bid: 99.05, Ask: 99.15})
	sig, err = g.Analyze(ctx, conn)
	if err != nil {
		t.Fatal(err)
	}
	if sig == nil || sig.Type != broker.SideBuy {
		t.Fatalf("Expected buy at the 99 level, got %+v", sig)
	}
	g.OnTradeExecuted(sig, broker.OrderResult{OrderID: "1", Price: sig.Entry})
	if !g.Ladder().Levels[0].Active {
		t.Error("Expected the 99 level to be active after execution")
	}

	// the open position keeps the level active; no re-entry
	conn.SetPositions([]broker.Position{{ID: "1", Symbol: "XAUUSD", Side: broker.SideBuy, Volume: 0.1, OpenPrice: 99.15}})
	sig, err = g.Analyze(ctx, conn)
	if err != nil || sig != nil {
		t.Errorf("Expected no signal on an active level, got %+v, %v", sig, err)
	}

	// next level is blocked by the exposure limit
	conn.SetQuote(broker.PriceQuote{Bid: 98.00, Ask: 98.10})
	sig, err = g.Analyze(ctx, conn)
	if err != nil || sig != nil {
		t.Errorf("Expected exposure limit to block the 98 level, got %+v, %v", sig, err)
	}

	// drifting beyond two spacings rebuilds the ladder
	conn.SetQuote(broker.PriceQuote{Bid: 97.45, Ask: 97.55})
	if _, err := g.Analyze(ctx, conn); err != nil {
		t.Fatal(err)
	}
	ladder = g.Ladder()
	if !approx(ladder.BasePrice, 97.5) {
		t.Errorf("Expected rebuilt base 97.5, got %v", ladder.BasePrice)
	}
	if ladder.Rebuilds != 1 {
		t.Errorf("Expected one rebuild, got %d", ladder.Rebuilds)
	}
}

func TestGridStatic_ClosedPositionFreesLevel(t *testing.T) {
	g := newStaticGrid(t)
	ctx := context.Background()
	conn := brokertest.New(broker.PriceQuote{Bid: 99.95, Ask: 100.05}, brokertest.CandlesFromCloses(flatCloses(30, 100), 1000))

	if _, err := g.Analyze(ctx, conn); err != nil {
		t.Fatal(err)
	}
	conn.SetQuote(broker.PriceQuote{Bid: 99.05, Ask: 99.15})
	sig, _ := g.Analyze(ctx, conn)
	if sig == nil {
		t.Fatal("Expected buy signal")
	}
	g.OnTradeExecuted(sig, broker.OrderResult{OrderID: "1"})

	// no open positions reported: the level is free again
	sig, err := g.Analyze(ctx, conn)
	if err != nil {
		t.Fatal(err)
	}
	if sig == nil {
		t.Error("Expected the level to fire again once its position closed")
	}
}

func TestGridStatic_ActiveShareRebuildsOnce(t *testing.T) {
	settings := Settings{
		Symbol:    "XAUUSD",
		Timeframe: broker.TF1h,
		Volume:    0.1,
		Risk:      risk.Config{Digits: 2},
		Parameters: map[string]float64{
			"spacingPercent":       1,
			"gridLevels":           1,
			"rebalanceActiveRatio": 0.4,
			"maxExposure":          1,
		},
	}
	g, err := NewGridStrategy(GridStatic, settings, logging.Nop())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	conn := brokertest.New(broker.PriceQuote{Bid: 99.95, Ask: 100.05}, brokertest.CandlesFromCloses(flatCloses(30, 100), 1000))

	if _, err := g.Analyze(ctx, conn); err != nil {
		t.Fatal(err)
	}
	conn.SetQuote(broker.PriceQuote{Bid: 99.05, Ask: 99.15})
	sig, err := g.Analyze(ctx, conn)
	if err != nil || sig == nil {
		t.Fatalf("Expected buy at the 99 level, got %+v, %v", sig, err)
	}
	g.OnTradeExecuted(sig, broker.OrderResult{OrderID: "1", Price: sig.Entry})
	conn.SetPositions([]broker.Position{{ID: "1", Symbol: "XAUUSD", Side: broker.SideBuy, Volume: 0.1, OpenPrice: 99.15}})

	// half the ladder is active: one rebuild, then the ladder holds
	for i := 0; i < 4; i++ {
		if _, err := g.Analyze(ctx, conn); err != nil {
			t.Fatal(err)
		}
	}
	ladder := g.Ladder()
	if ladder.Rebuilds != 1 {
		t.Errorf("Expected exactly one rebuild, got %d", ladder.Rebuilds)
	}
	if !approx(ladder.BasePrice, 99.1) {
		t.Errorf("Expected base 99.1 after the rebuild, got %v", ladder.BasePrice)
	}
	for _, lvl := range ladder.Levels {
		if lvl.Active {
			t.Errorf("Expected the carried position to leave level %v inactive", lvl.Price)
		}
	}
	if !approx(ladder.Exposure, 0.1) {
		t.Errorf("Expected carried position counted in exposure, got %v", ladder.Exposure)
	}
}

func TestGrid_PositionsFailure(t *testing.T) {
	g := newStaticGrid(t)
	conn := brokertest.New(broker.PriceQuote{Bid: 99.95, Ask: 100.05}, brokertest.CandlesFromCloses(flatCloses(30, 100), 1000))
	conn.FailPositions(errors.New("terminal offline"))

	if _, err := g.Analyze(context.Background(), conn); !errors.Is(err, broker.ErrDataUnavailable) {
		t.Errorf("Expected ErrDataUnavailable, got %v", err)
	}
}

func TestGridAdaptive_RequiresMomentumAgreement(t *testing.T) {
	settings := Settings{
		Symbol:     "XAUUSD",
		Timeframe:  broker.TF1h,
		Volume:     0.1,
		Risk:       risk.Config{Digits: 2},
		Parameters: map[string]float64{"gridLevels": 3},
	}
	g, err := NewGridStrategy(GridAdaptive, settings, logging.Nop())
	if err != nil {
		t.Fatal(err)
	}

	// steadily rising closes: positive momentum, so buy levels are skipped
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 + float64(i)*0.1
	}
	conn := brokertest.New(broker.PriceQuote{Bid: 102.85, Ask: 102.95}, brokertest.CandlesFromCloses(closes, 1000))
	ctx := context.Background()

	if _, err := g.Analyze(ctx, conn); err != nil {
		t.Fatal(err)
	}
	ladder := g.Ladder()
	if ladder.Spacing <= 0 {
		t.Fatalf("Expected ATR based spacing, got %v", ladder.Spacing)
	}

	buyLevel := ladder.Levels[0].Price
	conn.SetQuote(broker.PriceQuote{Bid: buyLevel - 0.05, Ask: buyLevel + 0.05})
	sig, err := g.Analyze(ctx, conn)
	if err != nil {
		t.Fatal(err)
	}
	if sig != nil {
		t.Errorf("Expected buy level ignored against positive momentum, got %+v", sig)
	}
}

func TestRegistry(t *testing.T) {
	settings := testSettings("EURUSD")
	for _, def := range Definitions() {
		s, err := New(def.ID, settings, logging.Nop())
		if err != nil {
			t.Errorf("%s: unexpected error %v", def.ID, err)
			continue
		}
		if s.ID() != def.ID {
			t.Errorf("Expected id %s, got %s", def.ID, s.ID())
		}
		if len(s.Parameters()) != len(def.Parameters) {
			t.Errorf("%s: expected %d parameters, got %d", def.ID, len(def.Parameters), len(s.Parameters()))
		}
	}
	if len(Definitions()) != 8 {
		t.Errorf("Expected 8 registered strategies, got %d", len(Definitions()))
	}

	if _, err := New("martingale", settings, nil); !errors.Is(err, ErrUnknownStrategy) {
		t.Errorf("Expected ErrUnknownStrategy, got %v", err)
	}

	bad := settings
	bad.Volume = 0
	if _, err := New("momentum", bad, nil); !errors.Is(err, ErrInvalidSettings) {
		t.Errorf("Expected ErrInvalidSettings, got %v", err)
	}

	overridden := settings
	overridden.Parameters = map[string]float64{"rsiPeriod": 500}
	s, err := New("rsi-reversal", overridden, logging.Nop())
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range s.Parameters() {
		if p.Name == "rsiPeriod" && p.Value != 50 {
			t.Errorf("Expected rsiPeriod clamped to 50, got %v", p.Value)
		}
	}
}
