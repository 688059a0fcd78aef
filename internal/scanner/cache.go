package scanner

import (
	"sync"
	"time"
)

type cachedOpportunity struct {
	opp       *Opportunity
	expiresAt time.Time
}

// opportunityCache keeps per-symbol evaluations for a TTL so back-to-back
// scans do not refetch candles.
type opportunityCache struct {
	mu    sync.RWMutex
	items map[string]cachedOpportunity // key: symbol|timeframe
	ttl   time.Duration
	now   func() time.Time
}

func newOpportunityCache(ttl time.Duration) *opportunityCache {
	return &opportunityCache{
		items: make(map[string]cachedOpportunity),
		ttl:   ttl,
		now:   time.Now,
	}
}

func cacheKey(symbol, timeframe string) string {
	return symbol + "|" + timeframe
}

// get returns a copy of the cached opportunity, or nil if absent or expired.
func (c *opportunityCache) get(key string) *Opportunity {
	if c.ttl <= 0 {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.items[key]
	if !ok || c.now().After(item.expiresAt) {
		return nil
	}
	opp := *item.opp
	return &opp
}

func (c *opportunityCache) set(key string, opp *Opportunity) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = cachedOpportunity{opp: opp, expiresAt: c.now().Add(c.ttl)}
}

// cleanupExpired drops expired entries.
func (c *opportunityCache) cleanupExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, item := range c.items {
		if now.After(item.expiresAt) {
			delete(c.items, key)
		}
	}
}
