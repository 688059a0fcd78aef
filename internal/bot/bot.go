// Package bot runs the supervisory loop that polls the active strategy,
// places orders for its signals and shuts itself down after too many errors.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"forex-trading-bot/internal/broker"
	"forex-trading-bot/internal/circuit"
	"forex-trading-bot/internal/events"
	"forex-trading-bot/internal/logging"
	"forex-trading-bot/internal/strategy"
)

var (
	ErrAlreadyRunning = errors.New("bot is already running")
	ErrNotRunning     = errors.New("bot is not running")
	ErrNoConnection   = errors.New("no broker connection")
	ErrNoStrategy     = errors.New("no strategy configured")
	ErrTickInProgress = errors.New("analysis already in progress")
	// ErrFatalThreshold marks the shutdown caused by reaching MaxErrors.
	ErrFatalThreshold = errors.New("error threshold reached")
)

// State of the supervisor
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
)

// Config holds supervisor timing and thresholds
type Config struct {
	// TickInterval between analyses; zero uses the strategy's interval.
	TickInterval     time.Duration `json:"tick_interval"`
	SyncPollInterval time.Duration `json:"sync_poll_interval"`
	MinTradeInterval time.Duration `json:"min_trade_interval"`
	MaxErrors        int           `json:"max_errors"`
}

// DefaultConfig returns the default supervisor configuration
func DefaultConfig() Config {
	return Config{
		TickInterval:     5 * time.Second,
		SyncPollInterval: 3 * time.Second,
		MinTradeInterval: 5 * time.Minute,
		MaxErrors:        15,
	}
}

// Status is a snapshot of the supervisor for display.
type Status struct {
	State         State                 `json:"state"`
	StrategyID    string                `json:"strategyId,omitempty"`
	StrategyName  string                `json:"strategyName,omitempty"`
	Symbol        string                `json:"symbol,omitempty"`
	Timeframe     string                `json:"timeframe,omitempty"`
	TickInterval  time.Duration         `json:"tickInterval"`
	ErrorCount    int                   `json:"errorCount"`
	MaxErrors     int                   `json:"maxErrors"`
	TradesCount   int                   `json:"tradesCount"`
	LastTradeTime time.Time             `json:"lastTradeTime,omitempty"`
	LastTick      time.Time             `json:"lastTick,omitempty"`
	LastSignal    *strategy.TradeSignal `json:"lastSignal,omitempty"`
	LastError     string                `json:"lastError,omitempty"`
	StartedAt     time.Time             `json:"startedAt,omitempty"`
}

// TickResult describes one analysis cycle.
type TickResult struct {
	Skipped bool                  `json:"skipped"`
	Reason  string                `json:"reason,omitempty"`
	Signal  *strategy.TradeSignal `json:"signal,omitempty"`
	Order   *broker.OrderResult   `json:"order,omitempty"`
}

// Supervisor owns the active strategy and the tick loop that drives it.
type Supervisor struct {
	cfg    Config
	bus    *events.Bus
	gate   *circuit.TradeGate
	logger *logging.Logger
	now    func() time.Time

	mu         sync.Mutex
	state      State
	strat      strategy.Strategy
	conn       broker.Connection
	cancel     context.CancelFunc
	startedAt  time.Time
	lastTick   time.Time
	lastSignal *strategy.TradeSignal
	lastError  string

	busy atomic.Bool
	wg   sync.WaitGroup
}

// New creates a stopped supervisor. A nil bus gets a private one.
func New(cfg Config, strat strategy.Strategy, bus *events.Bus, logger *logging.Logger) *Supervisor {
	def := DefaultConfig()
	if cfg.SyncPollInterval <= 0 {
		cfg.SyncPollInterval = def.SyncPollInterval
	}
	if cfg.MinTradeInterval < 0 {
		cfg.MinTradeInterval = def.MinTradeInterval
	}
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = def.MaxErrors
	}
	if bus == nil {
		bus = events.NewBus()
	}
	return &Supervisor{
		cfg:    cfg,
		bus:    bus,
		gate:   circuit.NewTradeGate(circuit.Config{MinTradeInterval: cfg.MinTradeInterval, MaxErrors: cfg.MaxErrors}),
		logger: logging.OrDefault(logger, "bot"),
		now:    time.Now,
		state:  StateStopped,
		strat:  strat,
	}
}

// Events returns the bus the supervisor publishes to.
func (s *Supervisor) Events() *events.Bus {
	return s.bus
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Strategy returns the active strategy.
func (s *Supervisor) Strategy() strategy.Strategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.strat
}

// SetStrategy replaces the active strategy. Only allowed while stopped.
func (s *Supervisor) SetStrategy(strat strategy.Strategy) error {
	if strat == nil {
		return ErrNoStrategy
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStopped {
		return ErrAlreadyRunning
	}
	s.strat = strat
	s.lastSignal = nil
	return nil
}

// Start waits, polling every SyncPollInterval, until conn is synchronized
// and then starts the tick loop. It returns once the loop is running.
func (s *Supervisor) Start(ctx context.Context, conn broker.Connection) error {
	if conn == nil {
		return ErrNoConnection
	}

	s.mu.Lock()
	if s.state != StateStopped {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	if s.strat == nil {
		s.mu.Unlock()
		return ErrNoStrategy
	}
	syncCtx, cancelSync := context.WithCancel(ctx)
	s.state = StateStarting
	s.cancel = cancelSync
	s.mu.Unlock()

	err := s.waitForSync(syncCtx, conn)
	cancelSync()

	s.mu.Lock()
	if err != nil || s.state != StateStarting {
		s.state = StateStopped
		s.cancel = nil
		s.mu.Unlock()
		if err == nil {
			err = context.Canceled
		}
		return fmt.Errorf("waiting for terminal synchronization: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.state = StateRunning
	s.conn = conn
	s.cancel = cancel
	s.startedAt = s.now()
	s.lastError = ""
	s.gate.Reset()
	strat := s.strat
	interval := s.cfg.TickInterval
	if interval <= 0 {
		interval = strat.Interval()
	}
	if interval <= 0 {
		interval = DefaultConfig().TickInterval
	}
	s.wg.Add(1)
	go s.loop(runCtx, interval)
	s.mu.Unlock()

	s.logger.Info("Bot started",
		"strategy", strat.Name(),
		"symbol", strat.Symbol(),
		"tickInterval", interval.String(),
	)
	s.bus.PublishStarted(strat.ID(), strat.Symbol())
	return nil
}

func (s *Supervisor) waitForSync(ctx context.Context, conn broker.Connection) error {
	if conn.IsSynchronized() {
		return nil
	}
	s.logger.Info("Waiting for terminal synchronization")

	ticker := time.NewTicker(s.cfg.SyncPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if conn.IsSynchronized() {
				return nil
			}
		}
	}
}

// Stop halts the loop and waits for an in-flight tick to finish. It is
// idempotent.
func (s *Supervisor) Stop() {
	s.halt("stopped by user")
	s.wg.Wait()
}

// halt transitions to stopped without waiting; it is safe to call from the
// loop goroutine.
func (s *Supervisor) halt(reason string) {
	s.mu.Lock()
	prev := s.state
	if prev == StateStopped {
		s.mu.Unlock()
		return
	}
	s.state = StateStopped
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()

	if prev != StateRunning {
		return
	}
	s.logger.Info("Bot stopped", "reason", reason)
	s.bus.PublishStopped(reason)
}

func (s *Supervisor) loop(ctx context.Context, interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// in-flight analysis is not cancelled by Stop
	work := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			if _, err := s.tick(work); errors.Is(err, ErrTickInProgress) {
				s.logger.Debug("Previous tick still running, skipping")
			}
		}
	}
}

// RunOnce runs a single guarded tick immediately. It fails when the
// supervisor is not running or another tick is in flight.
func (s *Supervisor) RunOnce(ctx context.Context) (*TickResult, error) {
	if s.State() != StateRunning {
		return nil, ErrNotRunning
	}
	return s.tick(ctx)
}

func (s *Supervisor) tick(ctx context.Context) (*TickResult, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrTickInProgress
	}
	defer s.busy.Store(false)

	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return nil, ErrNotRunning
	}
	strat, conn := s.strat, s.conn
	now := s.now()
	s.lastTick = now
	s.mu.Unlock()

	if ok, reason := s.gate.CanTrade(now); !ok {
		s.logger.Debug("Tick skipped", "reason", reason)
		return &TickResult{Skipped: true, Reason: reason}, nil
	}

	signal, err := s.analyze(ctx, strat, conn)
	if err != nil {
		s.recordError(err)
		return nil, err
	}
	result := &TickResult{Signal: signal}
	if signal == nil {
		return result, nil
	}

	s.mu.Lock()
	s.lastSignal = signal
	s.mu.Unlock()

	log := s.logger.TradeContext(signal.Symbol, string(signal.Type), signal.Volume, signal.Entry)
	log.Info("Signal received",
		"strategy", signal.Strategy,
		"stopLoss", signal.StopLoss,
		"takeProfit", signal.TakeProfit,
		"reason", signal.Reason,
	)

	order, err := broker.PlaceOrder(ctx, conn, signal.Type, signal.Symbol, signal.Volume, signal.StopLoss, signal.TakeProfit)
	if err != nil {
		if !errors.Is(err, broker.ErrExecution) {
			err = fmt.Errorf("%w: %w", broker.ErrExecution, err)
		}
		s.recordError(err)
		return result, err
	}
	s.gate.RecordTrade(s.now())
	result.Order = &order

	if obs, ok := strat.(strategy.TradeObserver); ok {
		obs.OnTradeExecuted(signal, order)
	}
	log.Info("Order executed", "orderId", order.OrderID, "price", order.Price)
	s.bus.PublishTrade(events.Trade{
		Strategy:   signal.Strategy,
		Symbol:     signal.Symbol,
		Side:       string(signal.Type),
		Volume:     signal.Volume,
		Entry:      signal.Entry,
		StopLoss:   signal.StopLoss,
		TakeProfit: signal.TakeProfit,
		Reason:     signal.Reason,
		OrderID:    order.OrderID,
		Price:      order.Price,
	})
	return result, nil
}

// analyze calls the strategy and turns a panic into an error.
func (s *Supervisor) analyze(ctx context.Context, strat strategy.Strategy, conn broker.Connection) (signal *strategy.TradeSignal, err error) {
	defer func() {
		if r := recover(); r != nil {
			signal, err = nil, fmt.Errorf("strategy %s panicked: %v", strat.ID(), r)
		}
	}()
	return strat.Analyze(ctx, conn)
}

func (s *Supervisor) recordError(err error) {
	count, tripped := s.gate.RecordError()
	kind := ErrorKind(err)

	s.mu.Lock()
	s.lastError = err.Error()
	s.mu.Unlock()

	s.logger.WithError(err).Error("Tick failed", "kind", kind, "errorCount", count, "maxErrors", s.cfg.MaxErrors)
	s.bus.PublishError(err.Error(), kind, count)

	if tripped {
		fatal := fmt.Errorf("%w: %d errors", ErrFatalThreshold, count)
		s.mu.Lock()
		s.lastError = fatal.Error()
		s.mu.Unlock()
		s.halt(fatal.Error())
	}
}

// Status returns a snapshot of the supervisor.
func (s *Supervisor) Status() Status {
	gs := s.gate.Stats()

	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		State:         s.state,
		TickInterval:  s.cfg.TickInterval,
		ErrorCount:    gs.ErrorCount,
		MaxErrors:     gs.MaxErrors,
		TradesCount:   gs.TradesCount,
		LastTradeTime: gs.LastTradeTime,
		LastTick:      s.lastTick,
		LastSignal:    s.lastSignal,
		LastError:     s.lastError,
		StartedAt:     s.startedAt,
	}
	if s.strat != nil {
		st.StrategyID = s.strat.ID()
		st.StrategyName = s.strat.Name()
		st.Symbol = s.strat.Symbol()
		st.Timeframe = s.strat.Timeframe()
		if st.TickInterval <= 0 {
			st.TickInterval = s.strat.Interval()
		}
	}
	return st
}

// ErrorKind classifies err for the error event payload.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrFatalThreshold):
		return "fatal_threshold"
	case errors.Is(err, strategy.ErrValidation):
		return "validation"
	case errors.Is(err, broker.ErrDataUnavailable):
		return "data_unavailable"
	case errors.Is(err, broker.ErrExecution):
		return "execution"
	default:
		return "unknown"
	}
}
