// Package cache provides Redis-based caching for the strategy catalog.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"forex-trading-bot/internal/logging"
)

var (
	// ErrUnavailable is returned while Redis is marked unhealthy.
	ErrUnavailable = errors.New("redis unavailable (circuit breaker open)")
	// ErrMiss is returned for keys not in the cache.
	ErrMiss = errors.New("cache miss")
)

// Config holds Redis connection settings
type Config struct {
	Enabled  bool          `json:"enabled"`
	Address  string        `json:"address"`
	Password string        `json:"password"`
	DB       int           `json:"db"`
	PoolSize int           `json:"pool_size"`
	TTL      time.Duration `json:"ttl"`
}

// CacheService provides Redis-based caching with graceful degradation.
// When Redis is unavailable, operations return ErrUnavailable and callers
// fall back to the database.
type CacheService struct {
	client       *redis.Client
	config       Config
	logger       *logging.Logger
	mu           sync.RWMutex
	healthy      bool
	failureCount int
	lastCheck    time.Time

	maxFailures   int
	checkInterval time.Duration
}

// Key layout
const (
	PrefixStrategy   = "forex:strategy:%s"
	KeyStrategiesAll = "forex:strategies:all"
)

// DefaultTTL is used when Config.TTL is zero.
const DefaultTTL = 10 * time.Minute

// NewCacheService creates a CacheService and verifies connectivity. A
// failed ping leaves the service in degraded mode rather than failing.
func NewCacheService(cfg Config, logger *logging.Logger) (*CacheService, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is not enabled in configuration")
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 10
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 1,
		MaxRetries:   1,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	cs := &CacheService{
		client:        client,
		config:        cfg,
		logger:        logging.OrDefault(logger, "cache"),
		maxFailures:   3,
		checkInterval: 30 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		cs.logger.WithError(err).Warn("Initial Redis connection failed, running degraded", "address", cfg.Address)
		cs.lastCheck = time.Now()
		return cs, nil
	}

	cs.healthy = true
	cs.lastCheck = time.Now()
	cs.logger.Info("Redis connected", "address", cfg.Address)
	return cs, nil
}

// IsHealthy returns whether Redis is currently available.
func (cs *CacheService) IsHealthy() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.healthy
}

// TTL is the expiry used for catalog entries.
func (cs *CacheService) TTL() time.Duration {
	return cs.config.TTL
}

func (cs *CacheService) recordFailure() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.failureCount++
	if cs.failureCount >= cs.maxFailures {
		if cs.healthy {
			cs.logger.Warn("Redis marked unhealthy", "failures", cs.failureCount)
		}
		cs.healthy = false
	}
}

func (cs *CacheService) recordSuccess() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !cs.healthy {
		cs.logger.Info("Redis recovered")
	}
	cs.healthy = true
	cs.failureCount = 0
	cs.lastCheck = time.Now()
}

// checkHealth pings in the background once checkInterval has passed since
// Redis went unhealthy.
func (cs *CacheService) checkHealth() {
	cs.mu.Lock()
	shouldCheck := !cs.healthy && time.Since(cs.lastCheck) >= cs.checkInterval
	if shouldCheck {
		cs.lastCheck = time.Now()
	}
	cs.mu.Unlock()

	if !shouldCheck {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := cs.client.Ping(ctx).Err(); err == nil {
			cs.recordSuccess()
		}
	}()
}

// Get retrieves a value from cache. A missing key returns ErrMiss.
func (cs *CacheService) Get(ctx context.Context, key string) (string, error) {
	cs.checkHealth()
	if !cs.IsHealthy() {
		return "", ErrUnavailable
	}

	result, err := cs.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrMiss
		}
		cs.recordFailure()
		return "", fmt.Errorf("redis get failed: %w", err)
	}

	cs.recordSuccess()
	return result, nil
}

// Set stores a value with ttl. Values other than strings and byte slices
// are stored as JSON.
func (cs *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	cs.checkHealth()
	if !cs.IsHealthy() {
		return ErrUnavailable
	}

	var data string
	switch v := value.(type) {
	case string:
		data = v
	case []byte:
		data = string(v)
	default:
		jsonData, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal value: %w", err)
		}
		data = string(jsonData)
	}

	if err := cs.client.Set(ctx, key, data, ttl).Err(); err != nil {
		cs.recordFailure()
		return fmt.Errorf("redis set failed: %w", err)
	}

	cs.recordSuccess()
	return nil
}

// Delete removes keys from cache.
func (cs *CacheService) Delete(ctx context.Context, keys ...string) error {
	cs.checkHealth()
	if !cs.IsHealthy() {
		return ErrUnavailable
	}

	if err := cs.client.Del(ctx, keys...).Err(); err != nil {
		cs.recordFailure()
		return fmt.Errorf("redis delete failed: %w", err)
	}

	cs.recordSuccess()
	return nil
}

// GetJSON retrieves and unmarshals a JSON value from cache.
func (cs *CacheService) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := cs.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return nil
}

// SetJSON marshals and stores a JSON value in cache.
func (cs *CacheService) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return cs.Set(ctx, key, value, ttl)
}

// Close closes the Redis connection.
func (cs *CacheService) Close() error {
	if cs.client != nil {
		return cs.client.Close()
	}
	return nil
}

// Ping checks Redis connectivity.
func (cs *CacheService) Ping(ctx context.Context) error {
	if err := cs.client.Ping(ctx).Err(); err != nil {
		cs.recordFailure()
		return err
	}
	cs.recordSuccess()
	return nil
}

// Stats returns cache statistics for monitoring.
type Stats struct {
	Healthy      bool   `json:"healthy"`
	FailureCount int    `json:"failure_count"`
	Address      string `json:"address"`
	PoolSize     int    `json:"pool_size"`
}

// GetStats returns current cache statistics.
func (cs *CacheService) GetStats() Stats {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	return Stats{
		Healthy:      cs.healthy,
		FailureCount: cs.failureCount,
		Address:      cs.config.Address,
		PoolSize:     cs.config.PoolSize,
	}
}

// StrategyKey generates the cache key for one catalog entry.
func StrategyKey(id string) string {
	return fmt.Sprintf(PrefixStrategy, id)
}
