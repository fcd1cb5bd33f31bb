package cache

import (
	"time"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	Backend string // "memory" or "redis"
	Prefix  string

	// CleanupInterval drives the memory backend's sweeper only; entry
	// lifetimes come from the per-write TTL policy.
	CleanupInterval time.Duration
}

// New builds the configured ResponseCache backend. Unknown backends fall
// back to the in-memory cache.
func New(cfg Config, redisClient *redis.Client) ResponseCache {
	switch cfg.Backend {
	case "redis":
		return NewRedisCache(redisClient, RedisConfig{Prefix: cfg.Prefix})
	default:
		return NewMemoryCache(cfg.CleanupInterval)
	}
}
