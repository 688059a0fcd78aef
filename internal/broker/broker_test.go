package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"forex-trading-bot/internal/logging"
)

type flakyConn struct {
	Connection
	failures int
	calls    int
}

func (f *flakyConn) GetSymbolPrice(ctx context.Context, symbol string) (PriceQuote, error) {
	f.calls++
	if f.calls <= f.failures {
		return PriceQuote{}, errors.New("terminal busy")
	}
	return PriceQuote{Symbol: symbol, Bid: 1.1, Ask: 1.1002}, nil
}

func TestRetryingConnection_RecoversAfterFailures(t *testing.T) {
	inner := &flakyConn{failures: 2}
	conn := NewRetryingConnection(inner, RetryPolicy{MaxRetries: 3, InitialDelay: time.Millisecond}, logging.Nop())

	q, err := conn.GetSymbolPrice(context.Background(), "EURUSD")
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if q.Bid != 1.1 {
		t.Errorf("Expected bid 1.1, got %v", q.Bid)
	}
	if inner.calls != 3 {
		t.Errorf("Expected 3 calls, got %d", inner.calls)
	}
}

func TestRetryingConnection_ExhaustedIsDataUnavailable(t *testing.T) {
	inner := &flakyConn{failures: 100}
	conn := NewRetryingConnection(inner, RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond}, logging.Nop())

	_, err := conn.GetSymbolPrice(context.Background(), "EURUSD")
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("Expected ErrDataUnavailable, got %v", err)
	}
	// one attempt plus two retries
	if inner.calls != 3 {
		t.Errorf("Expected 3 calls, got %d", inner.calls)
	}
}

func TestRetryPolicy_ExponentialDelays(t *testing.T) {
	p := RetryPolicy{MaxRetries: 4, InitialDelay: 10 * time.Millisecond}
	b := p.NewBackOff(context.Background())

	want := []time.Duration{10, 20, 40, 80}
	for i, w := range want {
		got := b.NextBackOff()
		if got != w*time.Millisecond {
			t.Errorf("attempt %d: expected %v, got %v", i, w*time.Millisecond, got)
		}
	}
	if got := b.NextBackOff(); got >= 0 {
		t.Errorf("Expected stop after %d retries, got %v", len(want), got)
	}
}

func TestSimulator_QuotesAndOrders(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{Seed: 7})
	ctx := context.Background()

	if !sim.IsSynchronized() {
		t.Error("Expected simulator without delay to be synchronized")
	}

	q, err := sim.GetSymbolPrice(ctx, "EURUSD")
	if err != nil {
		t.Fatal(err)
	}
	if q.Ask <= q.Bid || q.Bid <= 0 {
		t.Errorf("Expected valid quote, got %+v", q)
	}

	if _, err := sim.GetSymbolPrice(ctx, "NOPE"); !errors.Is(err, ErrUnknownSymbol) {
		t.Errorf("Expected ErrUnknownSymbol, got %v", err)
	}

	res, err := sim.CreateMarketBuyOrder(ctx, "EURUSD", 0.1, q.Bid-0.01, q.Ask+0.01)
	if err != nil {
		t.Fatalf("Expected order to succeed, got %v", err)
	}
	if res.OrderID == "" {
		t.Error("Expected order id")
	}

	positions, _ := sim.GetPositions(ctx)
	if len(positions) != 1 || positions[0].Side != SideBuy {
		t.Fatalf("Expected one buy position, got %+v", positions)
	}

	// Jump far above the take profit; the next quote settles the position.
	sim.SetPrice("EURUSD", q.Ask+0.05)
	if _, err := sim.GetSymbolPrice(ctx, "EURUSD"); err != nil {
		t.Fatal(err)
	}
	positions, _ = sim.GetPositions(ctx)
	if len(positions) != 0 {
		t.Errorf("Expected position closed at take profit, got %d open", len(positions))
	}
	if len(sim.ClosedPositions()) != 1 {
		t.Errorf("Expected one closed position, got %d", len(sim.ClosedPositions()))
	}
}

func TestSimulator_RejectsInvalidStops(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{Seed: 1})
	q, _ := sim.GetSymbolPrice(context.Background(), "XAUUSD")

	_, err := sim.CreateMarketSellOrder(context.Background(), "XAUUSD", 0.1, q.Bid-5, q.Bid-10)
	if !errors.Is(err, ErrExecution) {
		t.Errorf("Expected ErrExecution, got %v", err)
	}
}

func TestSimulator_Candles(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{Seed: 3})
	candles, err := sim.GetCandles(context.Background(), "XAUUSD", TF1h, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(candles) != 50 {
		t.Fatalf("Expected 50 candles, got %d", len(candles))
	}
	for i, c := range candles {
		if c.High < c.Low {
			t.Errorf("candle %d: high %v below low %v", i, c.High, c.Low)
		}
		if i > 0 && !c.Timestamp.After(candles[i-1].Timestamp) {
			t.Errorf("candle %d: timestamps not increasing", i)
		}
	}

	if _, err := sim.GetCandles(context.Background(), "XAUUSD", "2h", 10); err == nil {
		t.Error("Expected error for unsupported timeframe")
	}
}

func TestSimulator_CandleHistoryPersists(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{Seed: 5})
	clock := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	sim.now = func() time.Time { return clock }
	ctx := context.Background()

	first, err := sim.GetCandles(ctx, "XAUUSD", TF1h, 30)
	if err != nil {
		t.Fatal(err)
	}
	again, _ := sim.GetCandles(ctx, "XAUUSD", TF1h, 30)
	for i := range first {
		if first[i] != again[i] {
			t.Fatalf("bar %d: expected repeated reads to match, got %+v and %+v", i, first[i], again[i])
		}
	}

	// two hours later: two new bars, the rest shifts left unchanged
	clock = clock.Add(2 * time.Hour)
	later, _ := sim.GetCandles(ctx, "XAUUSD", TF1h, 30)
	for i := 0; i < 28; i++ {
		if later[i] != first[i+2] {
			t.Errorf("bar %d: expected %+v kept, got %+v", i, first[i+2], later[i])
		}
	}
	if want := first[29].Timestamp.Add(2 * time.Hour); !later[29].Timestamp.Equal(want) {
		t.Errorf("Expected newest bar at %v, got %v", want, later[29].Timestamp)
	}

	// asking for more prepends older bars
	longer, _ := sim.GetCandles(ctx, "XAUUSD", TF1h, 40)
	if len(longer) != 40 {
		t.Fatalf("Expected 40 candles, got %d", len(longer))
	}
	for i := 1; i < len(longer); i++ {
		if !longer[i].Timestamp.Equal(longer[i-1].Timestamp.Add(time.Hour)) {
			t.Errorf("bar %d: expected contiguous hourly bars", i)
		}
	}
	if longer[10] != later[0] {
		t.Errorf("Expected existing bars kept after backfill, got %+v and %+v", longer[10], later[0])
	}
}

func TestSimulator_ClosedPositionsCapped(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{Seed: 9})
	ctx := context.Background()

	var lastID string
	for i := 0; i < closedPositions+5; i++ {
		sim.SetPrice("EURUSD", 1.0850)
		q, err := sim.GetSymbolPrice(ctx, "EURUSD")
		if err != nil {
			t.Fatal(err)
		}
		res, err := sim.CreateMarketBuyOrder(ctx, "EURUSD", 0.1, q.Bid-0.01, q.Ask+0.01)
		if err != nil {
			t.Fatal(err)
		}
		lastID = res.OrderID
		sim.SetPrice("EURUSD", q.Ask+0.05)
		if _, err := sim.GetSymbolPrice(ctx, "EURUSD"); err != nil {
			t.Fatal(err)
		}
	}

	closed := sim.ClosedPositions()
	if len(closed) != closedPositions {
		t.Fatalf("Expected %d closed positions kept, got %d", closedPositions, len(closed))
	}
	if closed[len(closed)-1].ID != lastID {
		t.Errorf("Expected the newest close kept last, got %s", closed[len(closed)-1].ID)
	}
}

func TestTimeframes(t *testing.T) {
	if !ValidTimeframe("4h") || ValidTimeframe("3h") {
		t.Error("Unexpected timeframe validity")
	}
	if got := PeriodsPerYear(TF1d); got != 365 {
		t.Errorf("Expected 365 daily periods, got %v", got)
	}
	if got := PeriodsPerYear(TF1h); got != 8760 {
		t.Errorf("Expected 8760 hourly periods, got %v", got)
	}
}
