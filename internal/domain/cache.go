package domain

import (
	"context"
	"time"
)

// Cache defines the counter store behind the decision statistics.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
type Cache interface {
	// IncrementCounter atomically increments a windowed counter and returns
	// the new value. The window starts at the first increment.
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	// GetCounter returns the current value, 0 if the key is absent or expired.
	GetCounter(ctx context.Context, key string) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `json:"type" mapstructure:"type"`

	// Local LRU cache settings (Community tier)
	LocalMaxSize int           `json:"localMaxSize" mapstructure:"local_max_size"`
	LocalTTL     time.Duration `json:"localTTL" mapstructure:"local_ttl"`

	// Redis settings (Pro tier)
	RedisAddr     string `json:"redisAddr" mapstructure:"redis_addr"`
	RedisPassword string `json:"-" mapstructure:"redis_password"`
	RedisDB       int    `json:"redisDB" mapstructure:"redis_db"`

	// If true, read through a short-lived local copy before Redis
	EnableTwoPhase bool `json:"enableTwoPhase" mapstructure:"enable_two_phase"`
}
