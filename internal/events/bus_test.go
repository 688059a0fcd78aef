package events

import (
	"testing"
	"time"
)

func TestBus_DeliversInOrder(t *testing.T) {
	bus := NewBus()
	var got []EventType
	bus.SubscribeAll(func(e Event) { got = append(got, e.Type) })

	var started int
	bus.Subscribe(EventStarted, func(e Event) { started++ })

	bus.PublishStarted("momentum", "EURUSD")
	bus.PublishTrade(Trade{Strategy: "momentum", Side: "buy"})
	bus.PublishError("boom", "execution", 1)
	bus.PublishStopped("manual")

	want := []EventType{EventStarted, EventTrade, EventError, EventStopped}
	if len(got) != len(want) {
		t.Fatalf("Expected %d events, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if started != 1 {
		t.Errorf("Expected 1 started event, got %d", started)
	}
}

func TestBus_ErrorPayload(t *testing.T) {
	bus := NewBus()
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	bus.now = func() time.Time { return fixed }

	var ev Event
	bus.Subscribe(EventError, func(e Event) { ev = e })
	bus.PublishError("price feed down", "data_unavailable", 3)

	if ev.String("message") != "price feed down" || ev.String("kind") != "data_unavailable" {
		t.Errorf("Unexpected payload %v", ev.Data)
	}
	if ev.Int("errorCount") != 3 {
		t.Errorf("Expected errorCount 3, got %d", ev.Int("errorCount"))
	}
	if !ev.Timestamp.Equal(fixed) || ev.Data["timestamp"] != fixed {
		t.Errorf("Expected timestamp %v, got %v", fixed, ev.Timestamp)
	}
}

func TestTradeFromEvent(t *testing.T) {
	bus := NewBus()
	var ev Event
	bus.Subscribe(EventTrade, func(e Event) { ev = e })

	in := Trade{Strategy: "grid-static", Symbol: "XAUUSD", Side: "sell", Volume: 0.1, Entry: 2350, StopLoss: 2352, TakeProfit: 2348, OrderID: "abc", Price: 2350}
	bus.PublishTrade(in)

	out, ok := TradeFromEvent(ev)
	if !ok {
		t.Fatal("Expected trade event to decode")
	}
	if out != in {
		t.Errorf("Expected %+v, got %+v", in, out)
	}
	if _, ok := TradeFromEvent(Event{Type: EventError}); ok {
		t.Error("Expected non-trade event to be rejected")
	}
}
