package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the gateway's full environment configuration.
type Config struct {
	Port string `envconfig:"PORT" default:"8080"`

	// Cache settings.
	CacheBackend string `envconfig:"CACHE_BACKEND" default:"memory"` // "memory" or "redis"
	CachePrefix  string `envconfig:"CACHE_PREFIX" default:"textgate"`
	RedisAddr    string `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`

	// Optional PostgreSQL for preference and project stores. Empty means
	// the no-op stores are used.
	DatabaseURL string `envconfig:"DATABASE_URL"`

	// Backend settings.
	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL"`
	OllamaHost    string `envconfig:"OLLAMA_HOST" default:"http://127.0.0.1:11434"`

	// DefaultBackend receives requests whose model name matches no known
	// family.
	DefaultBackend string `envconfig:"DEFAULT_BACKEND" default:"openai"`

	// System-wide generation defaults.
	DefaultModel       string  `envconfig:"DEFAULT_MODEL" default:"gpt-4o-mini"`
	DefaultTemperature float64 `envconfig:"DEFAULT_TEMPERATURE" default:"0.7"`
	DefaultMaxTokens   int     `envconfig:"DEFAULT_MAX_TOKENS" default:"1024"`

	// Retry policy.
	MaxRetries     int           `envconfig:"MAX_RETRIES" default:"2"`
	AttemptTimeout time.Duration `envconfig:"ATTEMPT_TIMEOUT" default:"30s"`
	RetryBaseDelay time.Duration `envconfig:"RETRY_BASE_DELAY" default:"500ms"`
}

// Load reads configuration from the environment, consulting a local .env
// file when present.
func Load() (*Config, error) {
	// A missing .env is the normal production case.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cfg.DefaultTemperature < 0 || cfg.DefaultTemperature > 2 {
		return nil, fmt.Errorf("DEFAULT_TEMPERATURE must be between 0 and 2, got %v", cfg.DefaultTemperature)
	}
	if cfg.DefaultMaxTokens <= 0 {
		return nil, fmt.Errorf("DEFAULT_MAX_TOKENS must be positive, got %d", cfg.DefaultMaxTokens)
	}

	return &cfg, nil
}
