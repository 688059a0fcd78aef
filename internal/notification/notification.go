// Package notification pushes bot lifecycle events to chat channels.
package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"forex-trading-bot/internal/events"
	"forex-trading-bot/internal/logging"
)

// Kind represents the type of notification
type Kind string

const (
	KindStarted Kind = "started"
	KindStopped Kind = "stopped"
	KindTrade   Kind = "trade"
	KindError   Kind = "error"
)

// Notification represents a notification message
type Notification struct {
	Kind      Kind
	Title     string
	Message   string
	Symbol    string
	Price     float64
	Timestamp time.Time
	Extra     map[string]interface{}
}

// Notifier interface for different notification providers
type Notifier interface {
	Send(ctx context.Context, n *Notification) error
	Name() string
	IsEnabled() bool
}

// Config holds delivery settings shared by all providers.
type Config struct {
	Buffer        int
	MaxRetries    uint64
	RetryInterval time.Duration
	// ErrorCooldown suppresses error notifications closer together than
	// this. Stop notifications are always sent.
	ErrorCooldown time.Duration
}

// Manager fans notifications out to every enabled provider. Bus handlers
// only enqueue; Run does the sending.
type Manager struct {
	cfg       Config
	notifiers []Notifier
	queue     chan *Notification
	logger    *logging.Logger

	mu        sync.Mutex
	lastError time.Time
	now       func() time.Time

	sent    atomic.Int64
	dropped atomic.Int64
}

// NewManager creates a new notification manager
func NewManager(cfg Config, logger *logging.Logger) *Manager {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = time.Second
	}
	return &Manager{
		cfg:    cfg,
		queue:  make(chan *Notification, cfg.Buffer),
		logger: logging.OrDefault(logger, "notification"),
		now:    time.Now,
	}
}

// AddNotifier adds a notification provider
func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Enabled reports whether any provider would deliver.
func (m *Manager) Enabled() bool {
	for _, n := range m.notifiers {
		if n.IsEnabled() {
			return true
		}
	}
	return false
}

// Attach subscribes the manager to bot events on bus.
func (m *Manager) Attach(bus *events.Bus) {
	bus.Subscribe(events.EventStarted, func(e events.Event) { m.enqueue(startedNotification(e)) })
	bus.Subscribe(events.EventStopped, func(e events.Event) { m.enqueue(stoppedNotification(e)) })
	bus.Subscribe(events.EventTrade, func(e events.Event) { m.enqueue(tradeNotification(e)) })
	bus.Subscribe(events.EventError, func(e events.Event) {
		if m.errorAllowed(e.Timestamp) {
			m.enqueue(errorNotification(e))
		}
	})
}

func (m *Manager) errorAllowed(at time.Time) bool {
	if at.IsZero() {
		at = m.now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.lastError.IsZero() && at.Sub(m.lastError) < m.cfg.ErrorCooldown {
		return false
	}
	m.lastError = at
	return true
}

func (m *Manager) enqueue(n *Notification) {
	select {
	case m.queue <- n:
	default:
		m.dropped.Add(1)
		m.logger.Warn("Notification queue full, dropping", "kind", n.Kind, "title", n.Title)
	}
}

// Run sends queued notifications until ctx is cancelled, then flushes what
// is still queued within drainTimeout.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.drain(nil)
			return
		case n := <-m.queue:
			if ctx.Err() != nil {
				m.drain(n)
				return
			}
			m.deliver(ctx, n)
		}
	}
}

const drainTimeout = 5 * time.Second

func (m *Manager) drain(first *Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if first != nil {
		m.deliver(ctx, first)
	}
	for {
		select {
		case n := <-m.queue:
			m.deliver(ctx, n)
		default:
			return
		}
	}
}

func (m *Manager) deliver(ctx context.Context, n *Notification) {
	if err := m.Send(ctx, n); err != nil {
		m.logger.WithError(err).Error("Failed to send notification", "kind", n.Kind)
	}
}

// Send delivers n to every enabled provider, retrying each independently.
func (m *Manager) Send(ctx context.Context, n *Notification) error {
	var errs []error
	for _, p := range m.notifiers {
		if !p.IsEnabled() {
			continue
		}
		if err := m.sendWithRetry(ctx, p, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		m.sent.Add(1)
	}
	return errors.Join(errs...)
}

func (m *Manager) sendWithRetry(ctx context.Context, p Notifier, n *Notification) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = m.cfg.RetryInterval
	exp.MaxElapsedTime = 0

	var policy backoff.BackOff = &backoff.StopBackOff{}
	if m.cfg.MaxRetries > 0 {
		policy = backoff.WithMaxRetries(exp, m.cfg.MaxRetries)
	}
	return backoff.RetryNotify(func() error {
		return p.Send(ctx, n)
	}, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		m.logger.Debug("Retrying notification", "provider", p.Name(), "error", err, "wait", wait)
	})
}

// Sent is the number of successful provider deliveries.
func (m *Manager) Sent() int64 { return m.sent.Load() }

// Dropped is the number of notifications lost to a full queue.
func (m *Manager) Dropped() int64 { return m.dropped.Load() }

func startedNotification(e events.Event) *Notification {
	symbol := e.String("symbol")
	return &Notification{
		Kind:      KindStarted,
		Title:     "Bot started",
		Message:   fmt.Sprintf("Trading %s with %s", symbol, e.String("strategy")),
		Symbol:    symbol,
		Timestamp: e.Timestamp,
	}
}

func stoppedNotification(e events.Event) *Notification {
	return &Notification{
		Kind:      KindStopped,
		Title:     "Bot stopped",
		Message:   fmt.Sprintf("Reason: %s", e.String("reason")),
		Timestamp: e.Timestamp,
	}
}

func tradeNotification(e events.Event) *Notification {
	t, _ := events.TradeFromEvent(e)
	marker := "🟢"
	if t.Side == "sell" {
		marker = "🔴"
	}
	return &Notification{
		Kind:      KindTrade,
		Title:     fmt.Sprintf("%s %s %s", marker, t.Side, t.Symbol),
		Message:   fmt.Sprintf("%.2f lots @ %g\nSL: %g | TP: %g\nStrategy: %s\nReason: %s", t.Volume, t.Price, t.StopLoss, t.TakeProfit, t.Strategy, t.Reason),
		Symbol:    t.Symbol,
		Price:     t.Price,
		Timestamp: e.Timestamp,
		Extra: map[string]interface{}{
			"orderId":    t.OrderID,
			"stopLoss":   t.StopLoss,
			"takeProfit": t.TakeProfit,
		},
	}
}

func errorNotification(e events.Event) *Notification {
	return &Notification{
		Kind:      KindError,
		Title:     fmt.Sprintf("⚠️ Bot error (%s)", e.String("kind")),
		Message:   fmt.Sprintf("%s\nErrors so far: %d", e.String("message"), e.Int("errorCount")),
		Timestamp: e.Timestamp,
	}
}
