package cache

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"textgate/internal/metrics"
	"textgate/pkg/logging"
)

// LoggingCache wraps a ResponseCache with logging and hit metrics.
type LoggingCache struct {
	inner ResponseCache
}

func NewLoggingCache(inner ResponseCache) ResponseCache {
	return &LoggingCache{inner: inner}
}

func (c *LoggingCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	value, ok, err := c.inner.Get(ctx, key)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	logger := logging.L(ctx)

	result := "miss"
	if err != nil {
		result = "error"
	} else if ok {
		result = "hit"
		metrics.CacheHitsTotal.Inc()
	}

	fields := []zap.Field{
		zap.String("cache_key", key),
		zap.String("cache_result", result), // hit | miss | error
		zap.Float64("latency_ms", latencyMs),
	}
	if parts, ok := parseKey(key); ok {
		fields = append(fields,
			zap.String("backend", parts.backend),
			zap.String("model", parts.model),
		)
	}

	if err != nil {
		logger.Warn("response_cache_get", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("response_cache_get", fields...)
	}

	return value, ok, err
}

func (c *LoggingCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := c.inner.Set(ctx, key, value, ttl)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	logger := logging.L(ctx)

	fields := []zap.Field{
		zap.String("cache_key", key),
		zap.Duration("ttl", ttl),
		zap.Float64("latency_ms", latencyMs),
	}
	if parts, ok := parseKey(key); ok {
		fields = append(fields,
			zap.String("backend", parts.backend),
			zap.String("model", parts.model),
		)
	}

	if err != nil {
		logger.Warn("response_cache_set", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("response_cache_set", fields...)
	}

	return err
}

type keyParts struct {
	backend string
	model   string
	hash    string
}

// Expecting: resp:<BACKEND>:<MODEL>:<HASH>
func parseKey(key string) (keyParts, bool) {
	parts := strings.Split(key, ":")
	if len(parts) != 4 || parts[0] != "resp" {
		return keyParts{}, false
	}
	return keyParts{
		backend: parts[1],
		model:   parts[2],
		hash:    parts[3],
	}, true
}
