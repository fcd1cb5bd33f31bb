package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"textgate/internal/cache"
	"textgate/internal/config"
	"textgate/internal/dispatch"
	"textgate/internal/handlers"
	"textgate/internal/httpserver"
	"textgate/internal/llm"
	"textgate/internal/metrics"
	"textgate/internal/store"
	"textgate/pkg/logging"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("gateway exited with error: %v", err)
	}
}

func run() error {
	// ----- Logger -----
	logger := logging.DefaultLogger()
	defer logger.Sync()

	// ----- Metrics -----
	metrics.Register()

	// ----- Config -----
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger.Info("loaded config",
		zap.String("port", cfg.Port),
		zap.String("cache_backend", cfg.CacheBackend),
		zap.String("default_backend", cfg.DefaultBackend),
		zap.String("default_model", cfg.DefaultModel),
		zap.Int("max_retries", cfg.MaxRetries),
	)

	// ----- Redis client (only if needed) -----
	var redisClient *redis.Client
	if cfg.CacheBackend == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})

		// Fail fast if Redis is misconfigured.
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Error("redis connection failed", zap.Error(err))
			return err
		}
		defer redisClient.Close()
		logger.Info("redis connection established", zap.String("addr", cfg.RedisAddr))
	}

	// ----- Response cache -----
	responseCache := cache.New(cache.Config{
		Backend:         cfg.CacheBackend,
		Prefix:          cfg.CachePrefix,
		CleanupInterval: 5 * time.Minute,
	}, redisClient)
	responseCache = cache.NewLoggingCache(responseCache)

	// ----- Preference / project stores (optional PostgreSQL) -----
	var (
		prefs    store.PreferenceStore = store.NopPreferenceStore{}
		projects store.ProjectStore    = store.NopProjectStore{}
	)
	if cfg.DatabaseURL != "" {
		connectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pool, err := pgxpool.New(connectCtx, cfg.DatabaseURL)
		cancel()
		if err != nil {
			logger.Error("postgres connection failed", zap.Error(err))
			return err
		}
		defer pool.Close()

		prefs = store.NewPgPreferenceStore(pool, logger)
		projects = store.NewPgProjectStore(pool, logger)
		logger.Info("postgres connection established")
	} else {
		logger.Info("no DATABASE_URL set, preference and project stores disabled")
	}

	// ----- Backend adapters -----
	var adapters []llm.Adapter

	if cfg.OpenAIAPIKey != "" {
		openaiAdapter, err := llm.NewOpenAIAdapter(llm.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
		}, logger)
		if err != nil {
			return err
		}
		adapters = append(adapters, openaiAdapter)
	} else {
		logger.Warn("no OPENAI_API_KEY set, hosted backend disabled")
	}

	ollamaAdapter, err := llm.NewOllamaAdapter(llm.OllamaConfig{
		Host: cfg.OllamaHost,
	}, logger)
	if err != nil {
		return err
	}
	adapters = append(adapters, ollamaAdapter)

	// ----- Dispatcher -----
	dispatcher, err := dispatch.New(dispatch.Config{
		Adapters:      adapters,
		DefaultFamily: llm.Family(cfg.DefaultBackend),
		Cache:         responseCache,
		Retry: llm.RetryConfig{
			MaxRetries:     cfg.MaxRetries,
			AttemptTimeout: cfg.AttemptTimeout,
			BaseDelay:      cfg.RetryBaseDelay,
		},
		Preferences: prefs,
		Projects:    projects,
		Sink:        metrics.NewPromSink(),
		Defaults: llm.Defaults{
			Model:       cfg.DefaultModel,
			Temperature: cfg.DefaultTemperature,
			MaxTokens:   cfg.DefaultMaxTokens,
		},
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("build dispatcher: %w", err)
	}

	// ----- Handlers + router -----
	gen := handlers.NewGenerateHandler(dispatcher)

	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, gen, dispatcher)

	// ----- HTTP server -----
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      3 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting gateway",
		zap.String("addr", srv.Addr),
		zap.String("cache_backend", cfg.CacheBackend),
	)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	// ----- Graceful shutdown -----
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}
