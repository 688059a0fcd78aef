package database

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"forex-trading-bot/internal/backtest"
	"forex-trading-bot/internal/broker"
	"forex-trading-bot/internal/catalog"
	"forex-trading-bot/internal/events"
	"forex-trading-bot/internal/logging"
	"forex-trading-bot/internal/market"
)

func TestConfigDSN(t *testing.T) {
	cfg := Config{Host: "db", Port: 5432, User: "bot", Password: "secret", Database: "forex"}
	want := "host=db port=5432 user=bot password=secret dbname=forex sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
	cfg.SSLMode = "require"
	if got := cfg.DSN(); got != "host=db port=5432 user=bot password=secret dbname=forex sslmode=require" {
		t.Errorf("Expected sslmode=require, got %q", got)
	}
}

func TestStrategyRowRoundTrip(t *testing.T) {
	entry := catalog.Defaults()[0]
	entry.PerformanceMetrics = &market.PerformanceMetrics{
		SharpeRatio: 1.4,
		WinRate:     55,
		TradesCount: 12,
		UpdatedAt:   time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}

	row, err := encodeStrategy(entry)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	got, err := decodeStrategy(row)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got.ID != entry.ID || got.Status != entry.Status || len(got.Parameters) != len(entry.Parameters) {
		t.Errorf("Expected %+v, got %+v", entry, got)
	}
	if got.MarketConditions.Optimal != entry.MarketConditions.Optimal {
		t.Errorf("Expected optimal %+v, got %+v", entry.MarketConditions.Optimal, got.MarketConditions.Optimal)
	}
	if got.PerformanceMetrics == nil || got.PerformanceMetrics.SharpeRatio != 1.4 {
		t.Errorf("Expected metrics preserved, got %+v", got.PerformanceMetrics)
	}
}

func TestStrategyRow_NullMetrics(t *testing.T) {
	row, err := encodeStrategy(catalog.Defaults()[1])
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if row.Performance != nil {
		t.Errorf("Expected NULL metrics column, got %s", row.Performance)
	}
	got, err := decodeStrategy(row)
	if err != nil || got.PerformanceMetrics != nil {
		t.Errorf("Expected nil metrics, got %+v (%v)", got.PerformanceMetrics, err)
	}

	row.Conditions = []byte("{broken")
	if _, err := decodeStrategy(row); err == nil {
		t.Error("Expected decode error for malformed JSON")
	}
}

func TestDecodeResultJSON(t *testing.T) {
	res := backtest.Result{ID: "r1"}
	params := []byte(`{"rsiPeriod":14}`)
	trades := []byte(`[{"side":"buy","profitLoss":2.5},{"side":"sell","profitLoss":-1}]`)

	if err := decodeResultJSON(&res, params, trades); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if res.Parameters["rsiPeriod"] != 14 {
		t.Errorf("Expected rsiPeriod 14, got %v", res.Parameters)
	}
	if len(res.Trades) != 2 || res.Trades[0].Side != broker.SideBuy {
		t.Fatalf("Unexpected trades %+v", res.Trades)
	}
	if res.WinningTrades != 1 || res.LosingTrades != 1 {
		t.Errorf("Expected 1 win and 1 loss, got %d/%d", res.WinningTrades, res.LosingTrades)
	}
}

type flakyWriter struct {
	mu       sync.Mutex
	failures int
	calls    int
	records  []TradeRecord
}

func (w *flakyWriter) Insert(_ context.Context, t *TradeRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.failures > 0 {
		w.failures--
		return errors.New("connection reset")
	}
	w.records = append(w.records, *t)
	return nil
}

func (w *flakyWriter) snapshot() (int, []TradeRecord) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls, append([]TradeRecord(nil), w.records...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for condition")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTradeJournal_RetriesAndRecords(t *testing.T) {
	writer := &flakyWriter{failures: 2}
	journal := NewTradeJournal(writer, JournalConfig{MaxRetries: 3, RetryInterval: time.Millisecond}, logging.Nop())
	bus := events.NewBus()
	journal.Attach(bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go journal.Run(ctx)

	bus.PublishStarted("gold-trend", "XAUUSD")
	bus.PublishTrade(events.Trade{
		Strategy: "gold-trend", Symbol: "XAUUSD", Side: "buy", Volume: 0.1,
		Entry: 2350.3, StopLoss: 2340, TakeProfit: 2370, OrderID: "o-1", Price: 2350.3,
	})

	waitFor(t, func() bool { return journal.Written() == 1 })

	calls, records := writer.snapshot()
	if calls != 3 {
		t.Errorf("Expected 3 insert attempts, got %d", calls)
	}
	rec := records[0]
	if rec.Symbol != "XAUUSD" || rec.Side != "buy" || rec.OrderID != "o-1" || rec.FillPrice != 2350.3 {
		t.Errorf("Unexpected record %+v", rec)
	}
	if rec.ExecutedAt.IsZero() {
		t.Error("Expected executed time from the event timestamp")
	}
}

func TestTradeJournal_GivesUp(t *testing.T) {
	writer := &flakyWriter{failures: 10}
	journal := NewTradeJournal(writer, JournalConfig{MaxRetries: 1, RetryInterval: time.Millisecond}, logging.Nop())

	journal.write(context.Background(), TradeRecord{Symbol: "EURUSD"})

	if calls, _ := writer.snapshot(); calls != 2 {
		t.Errorf("Expected 2 attempts, got %d", calls)
	}
	if journal.Written() != 0 {
		t.Errorf("Expected nothing written, got %d", journal.Written())
	}
}

func TestTradeJournal_DropsWhenFull(t *testing.T) {
	journal := NewTradeJournal(&flakyWriter{}, JournalConfig{Buffer: 1}, logging.Nop())
	bus := events.NewBus()
	journal.Attach(bus)

	for i := 0; i < 3; i++ {
		bus.PublishTrade(events.Trade{Symbol: "EURUSD", Side: "sell", Volume: 0.1})
	}
	if journal.Dropped() != 2 {
		t.Errorf("Expected 2 dropped trades, got %d", journal.Dropped())
	}
}

func TestTradeJournal_FlushesOnShutdown(t *testing.T) {
	writer := &flakyWriter{}
	journal := NewTradeJournal(writer, JournalConfig{Buffer: 4}, logging.Nop())
	bus := events.NewBus()
	journal.Attach(bus)

	bus.PublishTrade(events.Trade{Strategy: "rsi-reversal", Symbol: "EURUSD", Side: "sell", Volume: 0.2, OrderID: "o-9"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	journal.Run(ctx)

	if journal.Written() != 1 {
		t.Errorf("Expected queued trade flushed on shutdown, got %d written", journal.Written())
	}
}
