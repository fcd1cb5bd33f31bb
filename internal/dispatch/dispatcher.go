package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"textgate/internal/cache"
	"textgate/internal/llm"
	"textgate/internal/metrics"
	"textgate/internal/store"
	"textgate/pkg/logging"
)

const persistTimeout = 10 * time.Second

// Config wires the dispatcher's collaborators. Everything is injected and
// constructed at startup; the dispatcher holds no ambient global state.
type Config struct {
	Adapters      []llm.Adapter
	DefaultFamily llm.Family
	Cache         cache.ResponseCache
	Retry         llm.RetryConfig
	Preferences   store.PreferenceStore
	Projects      store.ProjectStore
	Sink          metrics.Sink
	Defaults      llm.Defaults
	Logger        *zap.Logger
}

// Dispatcher resolves a generation request end to end: effective
// parameters, backend selection, cache short-circuit, retry-wrapped
// adapter call, write-through, and metrics.
type Dispatcher struct {
	adapters      map[llm.Family]llm.Adapter
	defaultFamily llm.Family
	cache         cache.ResponseCache
	retry         llm.RetryConfig
	prefs         store.PreferenceStore
	projects      store.ProjectStore
	sink          metrics.Sink
	defaults      llm.Defaults
	logger        *zap.Logger
}

func New(cfg Config) (*Dispatcher, error) {
	if len(cfg.Adapters) == 0 {
		return nil, errors.New("dispatch: at least one adapter is required")
	}

	adapters := make(map[llm.Family]llm.Adapter, len(cfg.Adapters))
	for _, a := range cfg.Adapters {
		adapters[a.Family()] = a
	}

	if cfg.DefaultFamily == "" {
		cfg.DefaultFamily = cfg.Adapters[0].Family()
	}
	if _, ok := adapters[cfg.DefaultFamily]; !ok {
		return nil, errors.New("dispatch: default family has no configured adapter")
	}
	if cfg.Cache == nil {
		return nil, errors.New("dispatch: cache is required")
	}
	if cfg.Preferences == nil {
		cfg.Preferences = store.NopPreferenceStore{}
	}
	if cfg.Projects == nil {
		cfg.Projects = store.NopProjectStore{}
	}
	if cfg.Sink == nil {
		cfg.Sink = metrics.NopSink{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Dispatcher{
		adapters:      adapters,
		defaultFamily: cfg.DefaultFamily,
		cache:         cfg.Cache,
		retry:         cfg.Retry.WithDefaults(),
		prefs:         cfg.Preferences,
		projects:      cfg.Projects,
		sink:          cfg.Sink,
		defaults:      cfg.Defaults,
		logger:        cfg.Logger.Named("dispatcher"),
	}, nil
}

// Options tune one dispatch call.
type Options struct {
	Operation string // metrics label; defaults to "generate"
	Persist   bool   // fire-and-forget project write on success
	Title     string // project title when persisting
}

// Dispatch resolves and executes one generation request. Failures come back
// as *llm.GenerationError with the final classified kind; cache, preference,
// metrics, and persistence problems degrade gracefully and never fail the
// call.
func (d *Dispatcher) Dispatch(ctx context.Context, req llm.GenerationRequest, opts Options) (*llm.GenerationResult, error) {
	start := time.Now()
	logger := logging.L(ctx)

	if req.UserID == "" {
		req.UserID = llm.AnonymousUser
	}
	if opts.Operation == "" {
		opts.Operation = "generate"
	}

	eff := d.resolve(ctx, req)
	if err := eff.Validate(); err != nil {
		return nil, &llm.GenerationError{Kind: llm.KindInvalidInput, Message: err.Error(), Err: err}
	}

	adapter := d.adapterFor(eff.Model)
	key := cache.BuildKey(string(adapter.Family()), eff).String()

	// Cache is best-effort: errors are logged and treated as misses.
	if cached, hit, err := d.cache.Get(ctx, key); err != nil {
		logger.Warn("cache get failed", zap.Error(err))
	} else if hit {
		var result llm.GenerationResult
		if err := json.Unmarshal(cached, &result); err != nil {
			logger.Warn("cached result unmarshal failed", zap.Error(err))
		} else {
			d.record(req, opts, eff, &result, time.Since(start), true, true)
			logger.Info("dispatch served from cache",
				zap.String("model", eff.Model),
				zap.String("backend", string(adapter.Family())),
				zap.Duration("duration", time.Since(start)),
			)
			return &result, nil
		}
	}

	result, err := llm.DoWithRetry(ctx, d.retry, logger, func(ctx context.Context) (*llm.GenerationResult, error) {
		return adapter.Generate(ctx, eff)
	})
	if err != nil {
		genErr := llm.Classify(err)
		d.record(req, opts, eff, nil, time.Since(start), false, false)
		logger.Error("dispatch failed",
			zap.String("model", eff.Model),
			zap.String("backend", string(adapter.Family())),
			zap.String("kind", genErr.Kind.String()),
			zap.Duration("duration", time.Since(start)),
			zap.Error(genErr),
		)
		return nil, genErr
	}

	// Write-through only for outermost successful results.
	if data, err := json.Marshal(result); err != nil {
		logger.Warn("result marshal for cache failed", zap.Error(err))
	} else {
		ttl := cache.TTLFor(result.Usage.TotalTokens)
		if err := d.cache.Set(ctx, key, data, ttl); err != nil {
			logger.Warn("cache set failed", zap.Error(err))
		}
	}

	if opts.Persist {
		d.persist(ctx, req, eff, adapter.Family(), result, opts.Title)
	}

	d.record(req, opts, eff, result, time.Since(start), true, false)
	logger.Info("dispatch completed",
		zap.String("model", result.Model),
		zap.String("backend", string(adapter.Family())),
		zap.Int("total_tokens", result.Usage.TotalTokens),
		zap.Duration("duration", time.Since(start)),
	)

	return result, nil
}

// resolve applies the precedence rule: explicit request value, else stored
// preference, else system default. Preference store unavailability degrades
// to no personalization.
func (d *Dispatcher) resolve(ctx context.Context, req llm.GenerationRequest) llm.EffectiveParameters {
	eff := llm.EffectiveParameters{
		Model:        req.Model,
		MaxTokens:    req.MaxTokens,
		Prompt:       req.Prompt,
		SystemPrompt: req.SystemPrompt,
		Options:      req.Options,
	}

	temperatureSet := false
	if req.Temperature != nil {
		eff.Temperature = *req.Temperature
		temperatureSet = true
	}

	if req.UserID != "" && req.UserID != llm.AnonymousUser {
		pref, err := d.prefs.Find(ctx, req.UserID)
		if err != nil {
			logging.L(ctx).Warn("preference lookup failed",
				zap.String("user_id", req.UserID),
				zap.Error(err),
			)
		} else if pref != nil {
			if eff.Model == "" && pref.PreferredModel != "" {
				eff.Model = pref.PreferredModel
			}
			if !temperatureSet && pref.DefaultTemperature != nil {
				eff.Temperature = *pref.DefaultTemperature
				temperatureSet = true
			}
			if eff.SystemPrompt == "" && pref.DefaultSystemPrompt != "" {
				eff.SystemPrompt = pref.DefaultSystemPrompt
			}
		}
	}

	if eff.Model == "" {
		eff.Model = d.defaults.Model
	}
	if !temperatureSet {
		eff.Temperature = d.defaults.Temperature
	}
	if eff.MaxTokens <= 0 {
		eff.MaxTokens = d.defaults.MaxTokens
	}

	return eff
}

// adapterFor selects the backend for a model name. Unknown names degrade to
// the default family, never an error.
func (d *Dispatcher) adapterFor(model string) llm.Adapter {
	family := llm.FamilyForModel(model, d.defaultFamily)
	if adapter, ok := d.adapters[family]; ok {
		return adapter
	}
	return d.adapters[d.defaultFamily]
}

// ListModels aggregates the model catalogs of every configured adapter.
// A failing backend is skipped, not fatal.
func (d *Dispatcher) ListModels(ctx context.Context) []llm.ModelInfo {
	var models []llm.ModelInfo
	for family, adapter := range d.adapters {
		list, err := adapter.ListModels(ctx)
		if err != nil {
			logging.L(ctx).Warn("list models failed",
				zap.String("backend", string(family)),
				zap.Error(err),
			)
			continue
		}
		models = append(models, list...)
	}
	return models
}

// HealthCheck reports per-backend health.
func (d *Dispatcher) HealthCheck(ctx context.Context) map[string]error {
	health := make(map[string]error, len(d.adapters))
	for family, adapter := range d.adapters {
		health[string(family)] = adapter.HealthCheck(ctx)
	}
	return health
}

// persist writes the result to the project store without blocking or
// failing the dispatch. The write outlives the caller's context.
func (d *Dispatcher) persist(ctx context.Context, req llm.GenerationRequest, eff llm.EffectiveParameters, family llm.Family, result *llm.GenerationResult, title string) {
	if title == "" {
		title = truncate(eff.Prompt, 64)
	}

	project := &store.Project{
		UserID:  req.UserID,
		Title:   title,
		Content: result.Text,
		Prompt:  eff.Prompt,
		Model:   result.Model,
		Metadata: map[string]string{
			"backend":      string(family),
			"total_tokens": strconv.Itoa(result.Usage.TotalTokens),
		},
	}

	saveCtx := context.WithoutCancel(ctx)
	logger := logging.L(ctx)
	go func() {
		saveCtx, cancel := context.WithTimeout(saveCtx, persistTimeout)
		defer cancel()
		if err := d.projects.Save(saveCtx, project); err != nil {
			logger.Warn("project save failed",
				zap.String("user_id", project.UserID),
				zap.Error(err),
			)
		}
	}()
}

func (d *Dispatcher) record(req llm.GenerationRequest, opts Options, eff llm.EffectiveParameters, result *llm.GenerationResult, elapsed time.Duration, successful, cacheHit bool) {
	rec := metrics.DispatchRecord{
		UserID:         req.UserID,
		Operation:      opts.Operation,
		Model:          eff.Model,
		PromptLength:   len(eff.Prompt),
		ProcessingTime: elapsed,
		Successful:     successful,
		CacheHit:       cacheHit,
	}
	if result != nil {
		rec.ResponseLength = len(result.Text)
		rec.TokensUsed = result.Usage.TotalTokens
	}
	d.sink.RecordDispatch(rec)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
