package events

import (
	"sync"
	"time"
)

// EventType is one of the four supervisor lifecycle categories.
type EventType string

const (
	EventStarted EventType = "started"
	EventStopped EventType = "stopped"
	EventTrade   EventType = "trade"
	EventError   EventType = "error"
)

// Types lists every event type in a stable order.
func Types() []EventType {
	return []EventType{EventStarted, EventStopped, EventTrade, EventError}
}

// Event represents a supervisor event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// String returns Data[key] as a string, or "".
func (e Event) String(key string) string {
	s, _ := e.Data[key].(string)
	return s
}

// Float returns Data[key] as a float64, or 0.
func (e Event) Float(key string) float64 {
	switch v := e.Data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// Int returns Data[key] as an int, or 0.
func (e Event) Int(key string) int {
	switch v := e.Data[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// Subscriber handles events. Subscribers run on the publishing goroutine
// and must not block.
type Subscriber func(Event)

// Bus fans events out to subscribers in registration order.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
	now         func() time.Time
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[EventType][]Subscriber),
		now:         time.Now,
	}
}

// Subscribe registers a subscriber for a specific event type
func (b *Bus) Subscribe(eventType EventType, subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (b *Bus) SubscribeAll(subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, subscriber)
}

// Publish stamps the event if needed and delivers it.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = b.now()
	}
	if event.Data == nil {
		event.Data = map[string]interface{}{}
	}

	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subscribers[event.Type]...)
	subs = append(subs, b.allSubs...)
	b.mu.RUnlock()

	for _, sub := range subs {
		sub(event)
	}
}

// PublishStarted publishes a started event
func (b *Bus) PublishStarted(strategy, symbol string) {
	b.Publish(Event{
		Type: EventStarted,
		Data: map[string]interface{}{
			"strategy": strategy,
			"symbol":   symbol,
		},
	})
}

// PublishStopped publishes a stopped event
func (b *Bus) PublishStopped(reason string) {
	b.Publish(Event{
		Type: EventStopped,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// Trade is the payload of a trade event.
type Trade struct {
	Strategy   string
	Symbol     string
	Side       string
	Volume     float64
	Entry      float64
	StopLoss   float64
	TakeProfit float64
	Reason     string
	OrderID    string
	Price      float64
}

// PublishTrade publishes an executed trade
func (b *Bus) PublishTrade(t Trade) {
	b.Publish(Event{
		Type: EventTrade,
		Data: map[string]interface{}{
			"strategy":   t.Strategy,
			"symbol":     t.Symbol,
			"type":       t.Side,
			"volume":     t.Volume,
			"entry":      t.Entry,
			"stopLoss":   t.StopLoss,
			"takeProfit": t.TakeProfit,
			"reason":     t.Reason,
			"orderId":    t.OrderID,
			"price":      t.Price,
		},
	})
}

// TradeFromEvent decodes a trade event payload.
func TradeFromEvent(e Event) (Trade, bool) {
	if e.Type != EventTrade {
		return Trade{}, false
	}
	return Trade{
		Strategy:   e.String("strategy"),
		Symbol:     e.String("symbol"),
		Side:       e.String("type"),
		Volume:     e.Float("volume"),
		Entry:      e.Float("entry"),
		StopLoss:   e.Float("stopLoss"),
		TakeProfit: e.Float("takeProfit"),
		Reason:     e.String("reason"),
		OrderID:    e.String("orderId"),
		Price:      e.Float("price"),
	}, true
}

// PublishError publishes an error event. The timestamp is carried both on
// the event and in the payload.
func (b *Bus) PublishError(message, kind string, errorCount int) {
	now := b.now()
	b.Publish(Event{
		Type:      EventError,
		Timestamp: now,
		Data: map[string]interface{}{
			"message":    message,
			"kind":       kind,
			"errorCount": errorCount,
			"timestamp":  now,
		},
	})
}
