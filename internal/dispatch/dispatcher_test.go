package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap/zaptest"

	"textgate/internal/cache"
	"textgate/internal/llm"
	"textgate/internal/store"
)

// fakeAdapter counts calls and records the parameters it was last given.
// Prompts containing "fail:<status>" produce an API error with that status.
type fakeAdapter struct {
	family llm.Family

	mu         sync.Mutex
	calls      int
	lastParams llm.EffectiveParameters
}

func (f *fakeAdapter) Generate(_ context.Context, params llm.EffectiveParameters) (*llm.GenerationResult, error) {
	f.mu.Lock()
	f.calls++
	f.lastParams = params
	f.mu.Unlock()

	if i := strings.Index(params.Prompt, "fail:"); i >= 0 {
		status := 0
		for _, c := range params.Prompt[i+len("fail:"):] {
			if c < '0' || c > '9' {
				break
			}
			status = status*10 + int(c-'0')
		}
		return nil, &openai.APIError{HTTPStatusCode: status}
	}

	return &llm.GenerationResult{
		Text:  "echo: " + params.Prompt,
		Model: params.Model,
		Usage: llm.Usage{PromptTokens: 5, CompletionTokens: 10, TotalTokens: 15},
	}, nil
}

func (f *fakeAdapter) ListModels(context.Context) ([]llm.ModelInfo, error) {
	return []llm.ModelInfo{{ID: "fake-model", Backend: string(f.family)}}, nil
}

func (f *fakeAdapter) HealthCheck(context.Context) error { return nil }

func (f *fakeAdapter) Family() llm.Family { return f.family }

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeAdapter) last() llm.EffectiveParameters {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastParams
}

type fakePrefStore struct {
	prefs map[string]*store.Preference
}

func (s *fakePrefStore) Find(_ context.Context, userID string) (*store.Preference, error) {
	return s.prefs[userID], nil
}

// failingCache errors on every operation to exercise best-effort handling.
type failingCache struct{}

func (failingCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("cache down")
}

func (failingCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("cache down")
}

func testDefaults() llm.Defaults {
	return llm.Defaults{Model: "gpt-4o-mini", Temperature: 0.7, MaxTokens: 1024}
}

func testRetry() llm.RetryConfig {
	return llm.RetryConfig{MaxRetries: 2, AttemptTimeout: time.Second, BaseDelay: time.Millisecond}
}

func newTestDispatcher(t *testing.T, cfg Config) *Dispatcher {
	t.Helper()

	if cfg.Cache == nil {
		mem := cache.NewMemoryCache(time.Minute)
		t.Cleanup(func() { mem.Close() })
		cfg.Cache = mem
	}
	if cfg.Retry == (llm.RetryConfig{}) {
		cfg.Retry = testRetry()
	}
	if cfg.Defaults == (llm.Defaults{}) {
		cfg.Defaults = testDefaults()
	}
	cfg.Logger = zaptest.NewLogger(t)

	d, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func TestDispatchCacheWriteThroughAndHit(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{family: llm.FamilyOpenAI}
	d := newTestDispatcher(t, Config{Adapters: []llm.Adapter{adapter}})

	req := llm.GenerationRequest{Prompt: "what is the capital of France"}

	first, err := d.Dispatch(context.Background(), req, Options{})
	if err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	if adapter.callCount() != 1 {
		t.Fatalf("expected 1 backend call, got %d", adapter.callCount())
	}

	second, err := d.Dispatch(context.Background(), req, Options{})
	if err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	// The repeat must be served from cache without touching the backend.
	if adapter.callCount() != 1 {
		t.Fatalf("cached repeat reached the backend, calls = %d", adapter.callCount())
	}
	if second.Text != first.Text || second.Usage != first.Usage {
		t.Fatalf("cached result differs: %+v vs %+v", second, first)
	}
}

func TestDispatchAppliesSystemDefaults(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{family: llm.FamilyOpenAI}
	d := newTestDispatcher(t, Config{Adapters: []llm.Adapter{adapter}})

	_, err := d.Dispatch(context.Background(), llm.GenerationRequest{Prompt: "hi"}, Options{})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	got := adapter.last()
	if got.Model != "gpt-4o-mini" {
		t.Errorf("model default not applied, got %q", got.Model)
	}
	if got.Temperature != 0.7 {
		t.Errorf("temperature default not applied, got %v", got.Temperature)
	}
	if got.MaxTokens != 1024 {
		t.Errorf("max_tokens default not applied, got %d", got.MaxTokens)
	}
}

func TestDispatchPreferencePrecedence(t *testing.T) {
	t.Parallel()

	prefTemp := 0.3
	prefs := &fakePrefStore{prefs: map[string]*store.Preference{
		"user-1": {
			PreferredModel:      "gpt-4",
			DefaultTemperature:  &prefTemp,
			DefaultSystemPrompt: "be terse",
		},
	}}

	adapter := &fakeAdapter{family: llm.FamilyOpenAI}
	d := newTestDispatcher(t, Config{
		Adapters:    []llm.Adapter{adapter},
		Preferences: prefs,
	})

	// Unset fields come from the stored preference.
	_, err := d.Dispatch(context.Background(), llm.GenerationRequest{
		Prompt: "first",
		UserID: "user-1",
	}, Options{})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	got := adapter.last()
	if got.Model != "gpt-4" {
		t.Errorf("preferred model not applied, got %q", got.Model)
	}
	if got.Temperature != 0.3 {
		t.Errorf("preferred temperature not applied, got %v", got.Temperature)
	}
	if got.SystemPrompt != "be terse" {
		t.Errorf("preferred system prompt not applied, got %q", got.SystemPrompt)
	}

	// Explicit request values beat the stored preference.
	explicitTemp := 1.5
	_, err = d.Dispatch(context.Background(), llm.GenerationRequest{
		Prompt:       "second",
		UserID:       "user-1",
		Model:        "gpt-4o",
		Temperature:  &explicitTemp,
		SystemPrompt: "be verbose",
	}, Options{})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	got = adapter.last()
	if got.Model != "gpt-4o" {
		t.Errorf("explicit model overridden, got %q", got.Model)
	}
	if got.Temperature != 1.5 {
		t.Errorf("explicit temperature overridden, got %v", got.Temperature)
	}
	if got.SystemPrompt != "be verbose" {
		t.Errorf("explicit system prompt overridden, got %q", got.SystemPrompt)
	}

	// Users without a preference row fall back to the system defaults.
	_, err = d.Dispatch(context.Background(), llm.GenerationRequest{
		Prompt: "third",
		UserID: "user-2",
	}, Options{})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got := adapter.last(); got.Model != "gpt-4o-mini" {
		t.Errorf("system default model not applied, got %q", got.Model)
	}
}

func TestDispatchRoutesByModelFamily(t *testing.T) {
	t.Parallel()

	openaiAdapter := &fakeAdapter{family: llm.FamilyOpenAI}
	ollamaAdapter := &fakeAdapter{family: llm.FamilyOllama}
	d := newTestDispatcher(t, Config{
		Adapters:      []llm.Adapter{openaiAdapter, ollamaAdapter},
		DefaultFamily: llm.FamilyOpenAI,
	})

	_, err := d.Dispatch(context.Background(), llm.GenerationRequest{
		Prompt: "hello",
		Model:  "llama3:8b",
	}, Options{})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if ollamaAdapter.callCount() != 1 || openaiAdapter.callCount() != 0 {
		t.Fatalf("llama model routed wrong: openai=%d ollama=%d",
			openaiAdapter.callCount(), ollamaAdapter.callCount())
	}

	// Unrecognized names land on the default family.
	_, err = d.Dispatch(context.Background(), llm.GenerationRequest{
		Prompt: "hello again",
		Model:  "some-custom-model",
	}, Options{})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if openaiAdapter.callCount() != 1 {
		t.Fatalf("unknown model did not use the default family, openai=%d", openaiAdapter.callCount())
	}
}

func TestDispatchRejectsInvalidInputWithoutBackendCall(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{family: llm.FamilyOpenAI}
	d := newTestDispatcher(t, Config{Adapters: []llm.Adapter{adapter}})

	_, err := d.Dispatch(context.Background(), llm.GenerationRequest{Prompt: ""}, Options{})
	if err == nil {
		t.Fatal("expected validation error")
	}

	var genErr *llm.GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected *llm.GenerationError, got %T", err)
	}
	if genErr.Kind != llm.KindInvalidInput {
		t.Fatalf("unexpected kind %s", genErr.Kind)
	}
	if adapter.callCount() != 0 {
		t.Fatalf("validation failure reached the backend, calls = %d", adapter.callCount())
	}
}

func TestDispatchNonRetryableBackendError(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{family: llm.FamilyOpenAI}
	d := newTestDispatcher(t, Config{Adapters: []llm.Adapter{adapter}})

	_, err := d.Dispatch(context.Background(), llm.GenerationRequest{
		Prompt: "fail:401 please",
	}, Options{})
	if err == nil {
		t.Fatal("expected error")
	}

	var genErr *llm.GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected *llm.GenerationError, got %T", err)
	}
	if genErr.Kind != llm.KindUnauthorized {
		t.Fatalf("unexpected kind %s", genErr.Kind)
	}
	if adapter.callCount() != 1 {
		t.Fatalf("non-retryable failure must not be retried, calls = %d", adapter.callCount())
	}
}

func TestDispatchRetriesTransientBackendError(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{family: llm.FamilyOpenAI}
	d := newTestDispatcher(t, Config{Adapters: []llm.Adapter{adapter}})

	_, err := d.Dispatch(context.Background(), llm.GenerationRequest{
		Prompt: "fail:503 persistent outage",
	}, Options{})
	if err == nil {
		t.Fatal("expected error")
	}

	var genErr *llm.GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected *llm.GenerationError, got %T", err)
	}
	if genErr.Kind != llm.KindServerTransient {
		t.Fatalf("unexpected kind %s", genErr.Kind)
	}
	if adapter.callCount() != 3 {
		t.Fatalf("expected MaxRetries+1 attempts, got %d", adapter.callCount())
	}
}

func TestDispatchCacheFailureDegradesToMiss(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{family: llm.FamilyOpenAI}
	d := newTestDispatcher(t, Config{
		Adapters: []llm.Adapter{adapter},
		Cache:    failingCache{},
	})

	result, err := d.Dispatch(context.Background(), llm.GenerationRequest{Prompt: "hi"}, Options{})
	if err != nil {
		t.Fatalf("cache failure must not fail the dispatch: %v", err)
	}
	if result.Text == "" {
		t.Fatal("expected a generated result")
	}
	if adapter.callCount() != 1 {
		t.Fatalf("expected 1 backend call, got %d", adapter.callCount())
	}
}
