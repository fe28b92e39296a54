package projection

import (
	"context"
	"time"

	"milledger/pkg/logger"
)

// FactoryConfig selects the cache backend.
type FactoryConfig struct {
	// Enabled turns the cache layer on. When false the factory returns
	// Nop and every query hits the engine.
	Enabled bool

	// TTL is the entry lifetime; tens of seconds in practice.
	TTL time.Duration

	// Redis, when Addr is set, selects the shared backend.
	Redis RedisConfig

	// AllowInMemoryFallback falls back to the in-process cache when redis
	// is unreachable instead of failing startup.
	AllowInMemoryFallback bool
}

// NewCache builds the configured cache backend, falling back from redis to
// in-memory when allowed.
func NewCache(ctx context.Context, cfg FactoryConfig) (Cache, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	if cfg.Redis.Addr != "" {
		cache, err := NewRedisCache(ctx, cfg.Redis, ttl)
		if err == nil {
			logger.Info(ctx, "using redis balance cache", "addr", cfg.Redis.Addr, "ttl", ttl)
			return cache, nil
		}
		if !cfg.AllowInMemoryFallback {
			return nil, err
		}
		logger.Warn(ctx, "redis unavailable, falling back to in-memory balance cache", "error", err)
	}

	return NewMemoryCache(ttl), nil
}
