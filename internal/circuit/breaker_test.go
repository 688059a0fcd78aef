package circuit

import (
	"testing"
	"time"
)

func TestTradeGate_MinTradeInterval(t *testing.T) {
	g := NewTradeGate(Config{MinTradeInterval: 5 * time.Minute, MaxErrors: 3})
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	if ok, reason := g.CanTrade(start); !ok {
		t.Fatalf("Expected first trade allowed, got %s", reason)
	}
	g.RecordTrade(start)

	if ok, _ := g.CanTrade(start.Add(4 * time.Minute)); ok {
		t.Error("Expected trade blocked inside the interval")
	}
	if ok, reason := g.CanTrade(start.Add(5 * time.Minute)); !ok {
		t.Errorf("Expected trade allowed once the interval elapsed, got %s", reason)
	}
	if s := g.Stats(); s.TradesCount != 1 || !s.LastTradeTime.Equal(start) {
		t.Errorf("Unexpected stats %+v", s)
	}
}

func TestTradeGate_ErrorThreshold(t *testing.T) {
	g := NewTradeGate(Config{MaxErrors: 3})

	for i := 1; i <= 2; i++ {
		count, tripped := g.RecordError()
		if count != i || tripped {
			t.Fatalf("Error %d: expected (%d,false), got (%d,%v)", i, i, count, tripped)
		}
	}
	count, tripped := g.RecordError()
	if count != 3 || !tripped {
		t.Fatalf("Expected trip on third error, got (%d,%v)", count, tripped)
	}
	if s := g.Stats(); s.State != StateOpen || s.TripReason == "" {
		t.Errorf("Expected open state with a reason, got %+v", s)
	}
	if ok, _ := g.CanTrade(time.Now()); ok {
		t.Error("Expected open gate to block trading")
	}

	// further errors do not trip again
	if count, tripped := g.RecordError(); tripped || count != 4 {
		t.Errorf("Expected a single trip, got (%d,%v)", count, tripped)
	}

	g.Reset()
	if s := g.Stats(); s.State != StateClosed || s.ErrorCount != 0 {
		t.Errorf("Expected reset gate, got %+v", s)
	}
}

func TestNewTradeGate_Defaults(t *testing.T) {
	g := NewTradeGate(Config{MinTradeInterval: -1})
	if s := g.Stats(); s.MaxErrors != 15 {
		t.Errorf("Expected default max errors 15, got %d", s.MaxErrors)
	}
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	g.RecordTrade(start)
	if ok, _ := g.CanTrade(start.Add(5*time.Minute - time.Second)); ok {
		t.Error("Expected the default 5m interval to block trading")
	}
	if ok, reason := g.CanTrade(start.Add(5 * time.Minute)); !ok {
		t.Errorf("Expected trading allowed after 5m, got %s", reason)
	}
}
