package cache

import (
	"context"
	"errors"
	"time"

	"forex-trading-bot/internal/catalog"
	"forex-trading-bot/internal/logging"
	"forex-trading-bot/internal/market"
)

// JSONCache is the part of CacheService used by CachedStore.
type JSONCache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

var _ JSONCache = (*CacheService)(nil)

// CachedStore is a read-through cache in front of a catalog.Store. Reads
// fall back to the underlying store on any cache failure; writes go to the
// store first and then invalidate the cached copies.
type CachedStore struct {
	store  catalog.Store
	cache  JSONCache
	ttl    time.Duration
	logger *logging.Logger
}

var _ catalog.Store = (*CachedStore)(nil)

// NewCachedStore wraps store. A non-positive ttl uses DefaultTTL.
func NewCachedStore(store catalog.Store, cache JSONCache, ttl time.Duration, logger *logging.Logger) *CachedStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &CachedStore{store: store, cache: cache, ttl: ttl, logger: logging.OrDefault(logger, "cache")}
}

func (c *CachedStore) List(ctx context.Context) ([]market.TradingStrategy, error) {
	var entries []market.TradingStrategy
	if err := c.cache.GetJSON(ctx, KeyStrategiesAll, &entries); err == nil {
		return entries, nil
	} else if !errors.Is(err, ErrMiss) {
		c.logger.Debug("Catalog cache read failed, using store", "error", err)
	}

	entries, err := c.store.List(ctx)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, KeyStrategiesAll, entries)
	return entries, nil
}

func (c *CachedStore) Get(ctx context.Context, id string) (market.TradingStrategy, error) {
	var entry market.TradingStrategy
	if err := c.cache.GetJSON(ctx, StrategyKey(id), &entry); err == nil {
		return entry, nil
	} else if !errors.Is(err, ErrMiss) {
		c.logger.Debug("Catalog cache read failed, using store", "id", id, "error", err)
	}

	entry, err := c.store.Get(ctx, id)
	if err != nil {
		return market.TradingStrategy{}, err
	}
	c.fill(ctx, StrategyKey(id), entry)
	return entry, nil
}

func (c *CachedStore) Save(ctx context.Context, entry market.TradingStrategy) error {
	if err := c.store.Save(ctx, entry); err != nil {
		return err
	}
	if err := c.cache.Delete(ctx, StrategyKey(entry.ID), KeyStrategiesAll); err != nil {
		c.logger.Warn("Failed to invalidate catalog cache", "id", entry.ID, "error", err)
	}
	return nil
}

func (c *CachedStore) fill(ctx context.Context, key string, value interface{}) {
	if err := c.cache.SetJSON(ctx, key, value, c.ttl); err != nil {
		c.logger.Debug("Failed to fill catalog cache", "key", key, "error", err)
	}
}
