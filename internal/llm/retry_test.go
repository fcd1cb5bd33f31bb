package llm

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap/zaptest"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	// 429 on the first two attempts, success on the third.
	calls := 0
	op := func(ctx context.Context) (string, error) {
		calls++
		if calls <= 2 {
			return "", &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests}
		}
		return "done", nil
	}

	cfg := RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond}
	got, err := DoWithRetry(context.Background(), cfg, zaptest.NewLogger(t), op)
	if err != nil {
		t.Fatalf("DoWithRetry: %v", err)
	}
	if got != "done" {
		t.Fatalf("unexpected result %q", got)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	t.Parallel()

	calls := 0
	op := func(ctx context.Context) (string, error) {
		calls++
		return "", &openai.APIError{HTTPStatusCode: http.StatusBadRequest, Code: "context_length_exceeded"}
	}

	cfg := RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond}
	_, err := DoWithRetry(context.Background(), cfg, zaptest.NewLogger(t), op)
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("non-retryable error must not be retried, got %d attempts", calls)
	}

	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected *GenerationError, got %T", err)
	}
	if genErr.Kind != KindContextLengthExceeded {
		t.Fatalf("unexpected kind %s", genErr.Kind)
	}
}

func TestRetryTerminatesWhenExhausted(t *testing.T) {
	t.Parallel()

	calls := 0
	op := func(ctx context.Context) (string, error) {
		calls++
		return "", &openai.APIError{HTTPStatusCode: http.StatusServiceUnavailable}
	}

	cfg := RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond}
	_, err := DoWithRetry(context.Background(), cfg, zaptest.NewLogger(t), op)
	if err == nil {
		t.Fatal("expected error after exhaustion")
	}
	if calls != cfg.MaxRetries+1 {
		t.Fatalf("expected exactly %d attempts, got %d", cfg.MaxRetries+1, calls)
	}

	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected *GenerationError, got %T", err)
	}
	if genErr.Kind != KindServerTransient {
		t.Fatalf("exhaustion must surface the final kind, got %s", genErr.Kind)
	}
}

func TestRetryAttemptTimeoutClassifiesAsTimeout(t *testing.T) {
	t.Parallel()

	calls := 0
	op := func(ctx context.Context) (string, error) {
		calls++
		<-ctx.Done()
		return "", ctx.Err()
	}

	cfg := RetryConfig{
		MaxRetries:     1,
		AttemptTimeout: 10 * time.Millisecond,
		BaseDelay:      time.Millisecond,
	}
	_, err := DoWithRetry(context.Background(), cfg, zaptest.NewLogger(t), op)
	if err == nil {
		t.Fatal("expected error")
	}

	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected *GenerationError, got %T", err)
	}
	if genErr.Kind != KindTimeout {
		t.Fatalf("unexpected kind %s", genErr.Kind)
	}
	// A per-attempt timeout is retryable, so both attempts run.
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}

func TestRetryRespectsCallerCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	op := func(ctx context.Context) (string, error) {
		calls++
		return "unused", nil
	}

	_, err := DoWithRetry(ctx, RetryConfig{}, zaptest.NewLogger(t), op)
	if err == nil {
		t.Fatal("expected error for canceled context")
	}
	if calls != 0 {
		t.Fatalf("no attempts expected on a canceled context, got %d", calls)
	}
}

func TestBackoffBaseMonotonicAndCapped(t *testing.T) {
	t.Parallel()

	base := 500 * time.Millisecond
	prev := time.Duration(0)
	for attempt := 0; attempt < 20; attempt++ {
		delay := backoffBase(base, attempt)
		if delay < prev {
			t.Fatalf("backoff decreased at attempt %d: %v < %v", attempt, delay, prev)
		}
		if delay > maxBackoff {
			t.Fatalf("backoff exceeds cap at attempt %d: %v", attempt, delay)
		}
		prev = delay
	}

	if got := backoffBase(base, 0); got != base {
		t.Fatalf("attempt 0 should use the base delay, got %v", got)
	}
	if got := backoffBase(base, 19); got != maxBackoff {
		t.Fatalf("large attempts should hit the cap, got %v", got)
	}
}

func TestBackoffDelayStaysUnderCeiling(t *testing.T) {
	t.Parallel()

	for attempt := 0; attempt < 15; attempt++ {
		for i := 0; i < 100; i++ {
			if d := backoffDelay(500*time.Millisecond, attempt); d > maxBackoff {
				t.Fatalf("jittered backoff exceeds cap: %v", d)
			}
		}
	}
}
