package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"forex-trading-bot/internal/events"
)

func TestCollector_FromBus(t *testing.T) {
	c := NewCollector()
	bus := events.NewBus()
	c.Attach(bus)

	bus.PublishStarted("gold-trend", "XAUUSD")
	if got := testutil.ToFloat64(c.running); got != 1 {
		t.Errorf("Expected bot_running 1, got %v", got)
	}

	bus.PublishTrade(events.Trade{Strategy: "gold-trend", Symbol: "XAUUSD", Side: "buy", Volume: 0.1})
	bus.PublishTrade(events.Trade{Strategy: "gold-trend", Symbol: "XAUUSD", Side: "buy", Volume: 0.2})
	bus.PublishError("boom", "execution", 1)
	bus.PublishError("boom", "", 2)
	bus.PublishStopped("stopped by user")

	if got := testutil.ToFloat64(c.trades.WithLabelValues("gold-trend", "buy")); got != 2 {
		t.Errorf("Expected 2 buy trades, got %v", got)
	}
	if got := testutil.ToFloat64(c.volume.WithLabelValues("XAUUSD")); got < 0.3-1e-9 || got > 0.3+1e-9 {
		t.Errorf("Expected 0.3 lots, got %v", got)
	}
	if got := testutil.ToFloat64(c.errors.WithLabelValues("execution")); got != 1 {
		t.Errorf("Expected 1 execution error, got %v", got)
	}
	if got := testutil.ToFloat64(c.errors.WithLabelValues("unknown")); got != 1 {
		t.Errorf("Expected 1 unknown error, got %v", got)
	}
	if got := testutil.ToFloat64(c.lifecycle.WithLabelValues("error")); got != 2 {
		t.Errorf("Expected 2 error events, got %v", got)
	}
	if got := testutil.ToFloat64(c.running); got != 0 {
		t.Errorf("Expected bot_running 0 after stop, got %v", got)
	}
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.Observe(events.Event{Type: events.EventStarted})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"bot_running 1", `bot_lifecycle_events_total{type="started"} 1`} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected body to contain %s", want)
		}
	}
}
