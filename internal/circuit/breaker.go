package circuit

import (
	"fmt"
	"sync"
	"time"
)

// GateState represents the trade gate state
type GateState string

const (
	StateClosed GateState = "closed" // Normal operation
	StateOpen   GateState = "open"   // Error threshold reached
)

// Config holds trade gate configuration
type Config struct {
	MinTradeInterval time.Duration `json:"min_trade_interval"`
	MaxErrors        int           `json:"max_errors"`
}

// DefaultConfig returns the supervisor defaults
func DefaultConfig() Config {
	return Config{
		MinTradeInterval: 5 * time.Minute,
		MaxErrors:        15,
	}
}

// Stats is a point-in-time view of the gate.
type Stats struct {
	State         GateState `json:"state"`
	ErrorCount    int       `json:"errorCount"`
	MaxErrors     int       `json:"maxErrors"`
	LastTradeTime time.Time `json:"lastTradeTime"`
	TradesCount   int       `json:"tradesCount"`
	TripReason    string    `json:"tripReason,omitempty"`
}

// TradeGate enforces the minimum interval between executed trades and
// counts errors toward a fatal threshold.
type TradeGate struct {
	config        Config
	state         GateState
	errorCount    int
	tradesCount   int
	lastTradeTime time.Time
	tripReason    string
	mu            sync.RWMutex
}

// NewTradeGate creates a gate. Non-positive fields fall back to defaults;
// a zero MinTradeInterval is kept and disables the interval check.
func NewTradeGate(config Config) *TradeGate {
	if config.MinTradeInterval < 0 {
		config.MinTradeInterval = DefaultConfig().MinTradeInterval
	}
	if config.MaxErrors <= 0 {
		config.MaxErrors = DefaultConfig().MaxErrors
	}
	return &TradeGate{config: config, state: StateClosed}
}

// CanTrade checks if a new tick may run at now
func (g *TradeGate) CanTrade(now time.Time) (bool, string) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.state == StateOpen {
		return false, fmt.Sprintf("trade gate open (reason: %s)", g.tripReason)
	}
	if !g.lastTradeTime.IsZero() && g.config.MinTradeInterval > 0 {
		elapsed := now.Sub(g.lastTradeTime)
		if elapsed < g.config.MinTradeInterval {
			return false, fmt.Sprintf("min trade interval not elapsed, remaining: %v",
				(g.config.MinTradeInterval - elapsed).Round(time.Second))
		}
	}
	return true, ""
}

// RecordTrade records an executed trade
func (g *TradeGate) RecordTrade(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastTradeTime = now
	g.tradesCount++
}

// RecordError counts an error and reports the new count and whether this
// error tripped the gate.
func (g *TradeGate) RecordError() (int, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.errorCount++
	if g.state == StateClosed && g.errorCount >= g.config.MaxErrors {
		g.state = StateOpen
		g.tripReason = fmt.Sprintf("error threshold reached: %d", g.errorCount)
		return g.errorCount, true
	}
	return g.errorCount, false
}

// Reset clears the error counter and closes the gate. The last trade time
// is kept.
func (g *TradeGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = StateClosed
	g.errorCount = 0
	g.tripReason = ""
}

// Stats returns current statistics
func (g *TradeGate) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Stats{
		State:         g.state,
		ErrorCount:    g.errorCount,
		MaxErrors:     g.config.MaxErrors,
		LastTradeTime: g.lastTradeTime,
		TradesCount:   g.tradesCount,
		TripReason:    g.tripReason,
	}
}
