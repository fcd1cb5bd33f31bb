package llm

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

const (
	defaultMaxRetries     = 2
	defaultAttemptTimeout = 30 * time.Second
	defaultBaseDelay      = 500 * time.Millisecond

	maxBackoff = 30 * time.Second
	maxJitter  = 300 * time.Millisecond
)

// RetryConfig bounds the retry engine for one wrapped operation.
type RetryConfig struct {
	MaxRetries     int           // additional attempts after the first (default 2)
	AttemptTimeout time.Duration // per-attempt deadline (default 30s)
	BaseDelay      time.Duration // backoff base (default 500ms)
}

// WithDefaults returns a copy of the config with sane defaults applied.
func (c RetryConfig) WithDefaults() RetryConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = defaultAttemptTimeout
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = defaultBaseDelay
	}
	return c
}

// Operation is any call the retry engine can wrap. The engine has no
// knowledge of what it retries beyond the classified error.
type Operation[T any] func(ctx context.Context) (T, error)

// DoWithRetry runs op up to cfg.MaxRetries+1 times. Each attempt is bounded
// by cfg.AttemptTimeout; exceeding it classifies as a Timeout failure. After
// a retryable failure the engine sleeps min(2^attempt*base + jitter, 30s)
// and tries again. Non-retryable failures and exhaustion surface the final
// classified error unchanged.
func DoWithRetry[T any](ctx context.Context, cfg RetryConfig, logger *zap.Logger, op Operation[T]) (T, error) {
	var zero T
	cfg = cfg.WithDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	maxAttempts := cfg.MaxRetries + 1
	var lastErr *GenerationError

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, Classify(err)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, cfg.AttemptTimeout)
		start := time.Now()
		result, err := op(attemptCtx)
		duration := time.Since(start)
		cancel()

		if err == nil {
			if attempt > 0 {
				logger.Info("attempt succeeded after retries",
					zap.Int("attempt", attempt+1),
					zap.Duration("duration", duration),
				)
			}
			return result, nil
		}

		// An attempt that outlived its own deadline is a per-attempt
		// timeout, not a caller cancellation.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = context.DeadlineExceeded
		}
		lastErr = Classify(err)

		logger.Debug("attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxAttempts),
			zap.String("kind", lastErr.Kind.String()),
			zap.Duration("duration", duration),
			zap.Error(err),
		)

		if !lastErr.Retryable() {
			return zero, lastErr
		}
		if attempt == maxAttempts-1 {
			break
		}

		backoff := backoffDelay(cfg.BaseDelay, attempt)
		logger.Debug("backing off before retry",
			zap.Duration("backoff", backoff),
			zap.Int("next_attempt", attempt+2),
		)

		select {
		case <-ctx.Done():
			return zero, Classify(ctx.Err())
		case <-time.After(backoff):
		}
	}

	logger.Warn("retries exhausted",
		zap.Int("attempts", maxAttempts),
		zap.String("kind", lastErr.Kind.String()),
		zap.Error(lastErr),
	)
	return zero, lastErr
}

// backoffBase is the pre-jitter delay for the given attempt: base doubled
// per attempt, capped at 30s. Split out so the growth curve is testable
// without randomness.
func backoffBase(base time.Duration, attempt int) time.Duration {
	// Cap the exponent so the shift cannot overflow.
	const maxExponent = 10
	if attempt > maxExponent {
		attempt = maxExponent
	}

	delay := base << uint(attempt)
	if delay > maxBackoff || delay <= 0 {
		delay = maxBackoff
	}
	return delay
}

// backoffDelay adds uniform jitter in [0, 300ms) to the exponential base,
// keeping the total under the 30s ceiling.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	delay := backoffBase(base, attempt) + time.Duration(rand.Int63n(int64(maxJitter)))
	if delay > maxBackoff {
		delay = maxBackoff
	}
	return delay
}
