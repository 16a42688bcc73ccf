package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// New creates a new cache based on configuration.
// For Community tier: returns LRU cache.
// For Pro tier with two-phase: returns TwoPhaseCache wrapping LRU + Redis.
// For Pro tier without two-phase: returns Redis cache.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// remoteCounters is the L2 side of a TwoPhaseCache.
type remoteCounters interface {
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)
	GetCounter(ctx context.Context, key string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// TwoPhaseCache implements the two-phase caching strategy.
// L1: short-lived local copies of counter values for fast reads
// L2: Redis, the source of truth shared across nodes
type TwoPhaseCache struct {
	local  *LRUCache
	remote remoteCounters
	l1TTL  time.Duration
}

// NewTwoPhaseCache creates a two-phase cache with LRU + Redis.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}
	return newTwoPhaseCache(NewLRUCache(cfg.LocalMaxSize), remote, cfg.LocalTTL), nil
}

func newTwoPhaseCache(local *LRUCache, remote remoteCounters, l1TTL time.Duration) *TwoPhaseCache {
	if l1TTL <= 0 {
		l1TTL = 5 * time.Second
	}
	return &TwoPhaseCache{
		local:  local,
		remote: remote,
		l1TTL:  l1TTL,
	}
}

// IncrementCounter increments in L2 so counts stay accurate across nodes,
// then refreshes the L1 copy.
func (c *TwoPhaseCache) IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error) {
	n, err := c.remote.IncrementCounter(ctx, key, window)
	if err != nil {
		return 0, err
	}
	c.local.store(key, n, min(c.l1TTL, window))
	return n, nil
}

// GetCounter reads L1 first, then L2. Populates L1 on L2 read.
func (c *TwoPhaseCache) GetCounter(ctx context.Context, key string) (int64, error) {
	if n, err := c.local.GetCounter(ctx, key); err == nil && n > 0 {
		return n, nil
	}

	n, err := c.remote.GetCounter(ctx, key)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.local.store(key, n, c.l1TTL)
	}
	return n, nil
}

// Ping checks both L1 and L2 health.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close closes both L1 and L2.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats returns L1 cache statistics.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}
