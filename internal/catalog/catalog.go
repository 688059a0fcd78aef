// Package catalog holds the strategy catalog: one entry per strategy
// variant with its parameters, target market conditions and latest
// performance.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"forex-trading-bot/internal/logging"
	"forex-trading-bot/internal/market"
	"forex-trading-bot/internal/strategy"
)

var (
	// ErrNotFound is returned for ids missing from the catalog.
	ErrNotFound = errors.New("strategy not found")
	// ErrInvalidStatus is returned by SetStatus for unknown statuses.
	ErrInvalidStatus = errors.New("invalid strategy status")
)

// Store persists catalog entries. Get returns ErrNotFound for unknown ids.
type Store interface {
	List(ctx context.Context) ([]market.TradingStrategy, error)
	Get(ctx context.Context, id string) (market.TradingStrategy, error)
	Save(ctx context.Context, entry market.TradingStrategy) error
}

// MemoryStore is a Store backed by a map.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]market.TradingStrategy
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]market.TradingStrategy)}
}

// List returns all entries ordered by id.
func (m *MemoryStore) List(ctx context.Context) ([]market.TradingStrategy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]market.TradingStrategy, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (market.TradingStrategy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[id]
	if !ok {
		return market.TradingStrategy{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.Clone(), nil
}

func (m *MemoryStore) Save(ctx context.Context, entry market.TradingStrategy) error {
	m.mu.Lock()
	m.entries[entry.ID] = entry.Clone()
	m.mu.Unlock()
	return nil
}

// Service is the catalog API used by the bot, the selector and the
// backtester. Entries are never deleted.
type Service struct {
	store    Store
	selector *market.Selector
	logger   *logging.Logger
	now      func() time.Time

	// serializes read-modify-write updates
	mu sync.Mutex
}

// NewService creates a catalog service over store.
func NewService(store Store, logger *logging.Logger) *Service {
	logger = logging.OrDefault(logger, "catalog")
	return &Service{
		store:    store,
		selector: market.NewSelector(logger),
		logger:   logger,
		now:      time.Now,
	}
}

// List returns every entry.
func (s *Service) List(ctx context.Context) ([]market.TradingStrategy, error) {
	return s.store.List(ctx)
}

// ListByStatus returns the entries with the given status.
func (s *Service) ListByStatus(ctx context.Context, status market.StrategyStatus) ([]market.TradingStrategy, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	return lo.Filter(all, func(e market.TradingStrategy, _ int) bool {
		return e.Status == status
	}), nil
}

// Get returns the entry with id.
func (s *Service) Get(ctx context.Context, id string) (market.TradingStrategy, error) {
	return s.store.Get(ctx, id)
}

// UpdateParameters applies values to the entry's parameters, clamping each
// to its bounds. Unknown names are rejected and nothing is saved.
func (s *Service) UpdateParameters(ctx context.Context, id string, values map[string]float64) (market.TradingStrategy, error) {
	return s.update(ctx, id, func(e *market.TradingStrategy) error {
		params, err := strategy.ApplyUpdates(e.Parameters, values)
		if err != nil {
			return err
		}
		e.Parameters = params
		return nil
	})
}

// SetStatus changes the lifecycle status of an entry.
func (s *Service) SetStatus(ctx context.Context, id string, status market.StrategyStatus) (market.TradingStrategy, error) {
	if !status.Valid() {
		return market.TradingStrategy{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return s.update(ctx, id, func(e *market.TradingStrategy) error {
		e.Status = status
		return nil
	})
}

// RecordPerformance replaces the entry's performance metrics.
func (s *Service) RecordPerformance(ctx context.Context, id string, metrics market.PerformanceMetrics) error {
	if metrics.UpdatedAt.IsZero() {
		metrics.UpdatedAt = s.now()
	}
	_, err := s.update(ctx, id, func(e *market.TradingStrategy) error {
		m := metrics
		e.PerformanceMetrics = &m
		return nil
	})
	return err
}

// Select returns the entry best suited to cond, or nil when none matches.
func (s *Service) Select(ctx context.Context, cond market.Condition) (*market.TradingStrategy, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	return s.selector.Select(cond, all), nil
}

// Rank returns the entries matching cond ordered best first.
func (s *Service) Rank(ctx context.Context, cond market.Condition) ([]market.TradingStrategy, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	return s.selector.Rank(cond, all), nil
}

// Seed saves the built-in entries that are missing from the store. Existing
// entries are left untouched. It returns the number of entries added.
func (s *Service) Seed(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}
	have := lo.SliceToMap(existing, func(e market.TradingStrategy) (string, bool) {
		return e.ID, true
	})

	added := 0
	for _, entry := range Defaults() {
		if have[entry.ID] {
			continue
		}
		if err := s.store.Save(ctx, entry); err != nil {
			return added, fmt.Errorf("seed %s: %w", entry.ID, err)
		}
		added++
	}
	if added > 0 {
		s.logger.Info("Strategy catalog seeded", "added", added, "existing", len(existing))
	}
	return added, nil
}

func (s *Service) update(ctx context.Context, id string, mutate func(*market.TradingStrategy) error) (market.TradingStrategy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.store.Get(ctx, id)
	if err != nil {
		return market.TradingStrategy{}, err
	}
	if err := mutate(&entry); err != nil {
		return market.TradingStrategy{}, err
	}
	if err := s.store.Save(ctx, entry); err != nil {
		return market.TradingStrategy{}, fmt.Errorf("save %s: %w", id, err)
	}
	s.logger.Debug("Strategy catalog entry updated", "id", id, "status", entry.Status)
	return entry, nil
}

// Instantiate builds a strategy for entry id using the entry's current
// parameter values on top of settings.
func (s *Service) Instantiate(ctx context.Context, id string, settings strategy.Settings) (strategy.Strategy, error) {
	entry, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	settings.Parameters = lo.Assign(entry.ParameterValues(), settings.Parameters)
	return strategy.New(entry.ID, settings, s.logger)
}
