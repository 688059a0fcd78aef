package scanner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"forex-trading-bot/internal/broker"
	"forex-trading-bot/internal/broker/brokertest"
	"forex-trading-bot/internal/logging"
	"forex-trading-bot/internal/market"
)

// stubRanker returns entries built around the observed condition.
type stubRanker struct {
	mu      sync.Mutex
	calls   int
	entries func(cond market.Condition) []market.TradingStrategy
}

func (r *stubRanker) Rank(_ context.Context, cond market.Condition) ([]market.TradingStrategy, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	if r.entries == nil {
		return nil, nil
	}
	return r.entries(cond), nil
}

func (r *stubRanker) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// failingConn refuses candles for one symbol.
type failingConn struct {
	*brokertest.Fake
	symbol string
}

func (c failingConn) GetCandles(ctx context.Context, symbol, timeframe string, count int) ([]broker.Candle, error) {
	if symbol == c.symbol {
		return nil, errors.New("no history")
	}
	return c.Fake.GetCandles(ctx, symbol, timeframe, count)
}

func newFake() *brokertest.Fake {
	closes := make([]float64, 120)
	for i := range closes {
		closes[i] = 1.10 + float64(i)*0.001
	}
	return brokertest.New(broker.PriceQuote{Bid: 1.2190, Ask: 1.2192}, brokertest.CandlesFromCloses(closes, 1000))
}

func suitingEntries(cond market.Condition) []market.TradingStrategy {
	return []market.TradingStrategy{
		{ID: "grid-adaptive", Name: "Adaptive Grid", Status: market.StatusTesting,
			MarketConditions: market.Conditions{Optimal: cond}},
		{ID: "macd-trend", Name: "MACD Trend", Status: market.StatusActive,
			MarketConditions: market.Conditions{Optimal: cond}},
	}
}

func newTestScanner(conn broker.Connection, ranker Ranker, cfg Config) *Scanner {
	classifier := market.NewClassifier(market.DefaultClassifierConfig(), logging.Nop())
	return New(conn, classifier, ranker, cfg, logging.Nop())
}

func TestScan_PicksActiveStrategyPerSymbol(t *testing.T) {
	conn := failingConn{Fake: newFake(), symbol: "USDJPY"}
	ranker := &stubRanker{entries: suitingEntries}
	sc := newTestScanner(conn, ranker, Config{Symbols: []string{"GBPUSD", "EURUSD", "USDJPY"}})

	result, err := sc.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if result.SymbolsScanned != 3 || result.Failed != 1 || result.Unmatched != 0 {
		t.Errorf("Expected 3 scanned and 1 failed, got %+v", result)
	}
	if len(result.Results) != 2 {
		t.Fatalf("Expected 2 opportunities, got %d", len(result.Results))
	}
	if result.Results[0].Symbol != "EURUSD" || result.Results[1].Symbol != "GBPUSD" {
		t.Errorf("Expected symbol order on equal scores, got %s, %s", result.Results[0].Symbol, result.Results[1].Symbol)
	}
	for _, opp := range result.Results {
		if opp.StrategyID != "macd-trend" {
			t.Errorf("Expected active macd-trend, got %s", opp.StrategyID)
		}
		if opp.ReadinessScore != 100 {
			t.Errorf("Expected readiness 100 at the optimal condition, got %v", opp.ReadinessScore)
		}
		if len(opp.Candidates) != 1 || opp.Candidates[0] != "macd-trend" {
			t.Errorf("Expected only active candidates, got %v", opp.Candidates)
		}
		if opp.Condition.Trend != market.TrendBullish {
			t.Errorf("Expected bullish trend on a rising series, got %s", opp.Condition.Trend)
		}
		if opp.Timeframe != broker.TF1h {
			t.Errorf("Expected default timeframe 1h, got %s", opp.Timeframe)
		}
	}
	if sc.LastResult() != result {
		t.Error("Expected last result to be the returned scan")
	}
}

func TestScan_Unmatched(t *testing.T) {
	sc := newTestScanner(newFake(), &stubRanker{}, Config{Symbols: []string{"EURUSD", "GBPUSD"}})

	result, err := sc.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if result.Unmatched != 2 {
		t.Errorf("Expected 2 unmatched, got %d", result.Unmatched)
	}
	if result.Results == nil || len(result.Results) != 0 {
		t.Errorf("Expected empty results, got %v", result.Results)
	}
}

func TestScan_NoSymbols(t *testing.T) {
	sc := newTestScanner(newFake(), &stubRanker{}, Config{})
	if _, err := sc.Scan(context.Background()); !errors.Is(err, ErrNoSymbols) {
		t.Errorf("Expected ErrNoSymbols, got %v", err)
	}
}

func TestScan_CachesWithinTTL(t *testing.T) {
	ranker := &stubRanker{entries: suitingEntries}
	sc := newTestScanner(newFake(), ranker, Config{Symbols: []string{"EURUSD"}, CacheTTL: time.Minute})

	for i := 0; i < 2; i++ {
		if _, err := sc.Scan(context.Background()); err != nil {
			t.Fatalf("Scan %d failed: %v", i, err)
		}
	}
	if ranker.callCount() != 1 {
		t.Errorf("Expected 1 ranking with a warm cache, got %d", ranker.callCount())
	}

	sc.cache.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := sc.Scan(context.Background()); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if ranker.callCount() != 2 {
		t.Errorf("Expected a fresh ranking after expiry, got %d calls", ranker.callCount())
	}
}

func TestScan_MaxResults(t *testing.T) {
	sc := newTestScanner(newFake(), &stubRanker{entries: suitingEntries}, Config{
		Symbols:    []string{"EURUSD", "GBPUSD", "XAUUSD", "EURUSD"},
		MaxResults: 2,
	})

	result, err := sc.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if result.SymbolsScanned != 3 {
		t.Errorf("Expected duplicate symbols dropped, got %d scanned", result.SymbolsScanned)
	}
	if len(result.Results) != 2 {
		t.Errorf("Expected results capped at 2, got %d", len(result.Results))
	}
}

func TestScan_CancelledContext(t *testing.T) {
	sc := newTestScanner(newFake(), &stubRanker{entries: suitingEntries}, Config{Symbols: []string{"EURUSD"}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := sc.Scan(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if sc.LastResult() != nil {
		t.Error("Expected no stored result for an interrupted scan")
	}
}

func TestReadiness(t *testing.T) {
	optimal := market.Condition{Trend: market.TrendBullish, Volatility: 0.5, Volume: 0.5, Timeframe: broker.TF1h}
	entry := market.TradingStrategy{
		ID: "macd-trend",
		MarketConditions: market.Conditions{
			Optimal:    optimal,
			Acceptable: []market.Condition{{Trend: market.TrendBullish, Volatility: 0.7, Volume: 0.5, Timeframe: broker.TF1h}},
		},
	}

	tests := []struct {
		name string
		cond market.Condition
		want float64
	}{
		{"optimal", optimal, 100},
		{"halfway in volatility", market.Condition{Trend: market.TrendBullish, Volatility: 0.6, Volume: 0.5, Timeframe: broker.TF1h}, 75},
		{"acceptable match", market.Condition{Trend: market.TrendBullish, Volatility: 0.7, Volume: 0.5, Timeframe: broker.TF1h}, 100},
		{"other trend", market.Condition{Trend: market.TrendBearish, Volatility: 0.5, Volume: 0.5, Timeframe: broker.TF1h}, 0},
		{"other timeframe", market.Condition{Trend: market.TrendBullish, Volatility: 0.5, Volume: 0.5, Timeframe: broker.TF4h}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := readiness(entry, tt.cond); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestStartStop(t *testing.T) {
	sc := newTestScanner(newFake(), &stubRanker{entries: suitingEntries}, Config{
		Enabled:  true,
		Interval: time.Hour,
		Symbols:  []string{"EURUSD"},
	})
	sc.Start(context.Background())
	sc.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for sc.LastResult() == nil {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for the first scan")
		}
		time.Sleep(5 * time.Millisecond)
	}
	sc.Stop()
	sc.Stop()
}

func TestStart_Disabled(t *testing.T) {
	sc := newTestScanner(newFake(), &stubRanker{}, Config{Symbols: []string{"EURUSD"}})
	sc.Start(context.Background())
	sc.Stop()
	if sc.LastResult() != nil {
		t.Error("Expected no scan from a disabled scanner")
	}
}
