package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	ollama "github.com/ollama/ollama/api"
	"go.uber.org/zap"
)

// OllamaAdapter serves the locally hosted runtime family through the
// Ollama native API.
type OllamaAdapter struct {
	client *ollama.Client
	logger *zap.Logger
}

type OllamaConfig struct {
	// Host is the Ollama base URL, e.g. http://127.0.0.1:11434.
	Host string

	HTTPClient *http.Client
}

func NewOllamaAdapter(cfg OllamaConfig, logger *zap.Logger) (*OllamaAdapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	host := strings.TrimSuffix(cfg.Host, "/")
	if host == "" {
		host = "http://127.0.0.1:11434"
	}
	base, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("ollama: parse host %q: %w", cfg.Host, err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &OllamaAdapter{
		client: ollama.NewClient(base, httpClient),
		logger: logger.Named("ollama"),
	}, nil
}

func (a *OllamaAdapter) Family() Family { return FamilyOllama }

// Generate performs one non-streaming chat call against the local runtime.
func (a *OllamaAdapter) Generate(ctx context.Context, params EffectiveParameters) (*GenerationResult, error) {
	start := time.Now()

	messages := make([]ollama.Message, 0, 2)
	if params.SystemPrompt != "" {
		messages = append(messages, ollama.Message{Role: "system", Content: params.SystemPrompt})
	}
	messages = append(messages, ollama.Message{Role: "user", Content: params.Prompt})

	options := map[string]any{
		"temperature": params.Temperature,
		"num_predict": params.MaxTokens,
	}
	if topP, ok := floatOption(params.Options, "top_p"); ok {
		options["top_p"] = topP
	}
	if topK, ok := intOption(params.Options, "top_k"); ok {
		options["top_k"] = topK
	}
	if seed, ok := intOption(params.Options, "seed"); ok {
		options["seed"] = seed
	}
	if penalty, ok := floatOption(params.Options, "repeat_penalty"); ok {
		options["repeat_penalty"] = penalty
	}
	if stop, ok := stringsOption(params.Options, "stop"); ok {
		options["stop"] = stop
	}

	stream := false
	req := &ollama.ChatRequest{
		Model:    params.Model,
		Messages: messages,
		Stream:   &stream,
		Options:  options,
	}

	var final ollama.ChatResponse
	err := a.client.Chat(ctx, req, func(resp ollama.ChatResponse) error {
		final = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	if final.Message.Content == "" {
		return nil, fmt.Errorf("ollama: provider returned empty response")
	}

	result := &GenerationResult{
		Text:  final.Message.Content,
		Model: final.Model,
		Usage: Usage{
			PromptTokens:     final.PromptEvalCount,
			CompletionTokens: final.EvalCount,
			TotalTokens:      final.PromptEvalCount + final.EvalCount,
		},
	}

	a.logger.Info("generation completed",
		zap.String("model", result.Model),
		zap.Int("prompt_tokens", result.Usage.PromptTokens),
		zap.Int("completion_tokens", result.Usage.CompletionTokens),
		zap.Duration("duration", time.Since(start)),
	)

	return result, nil
}

func (a *OllamaAdapter) ListModels(ctx context.Context) ([]ModelInfo, error) {
	list, err := a.client.List(ctx)
	if err != nil {
		return nil, err
	}

	models := make([]ModelInfo, 0, len(list.Models))
	for _, m := range list.Models {
		models = append(models, ModelInfo{ID: m.Name, Backend: string(FamilyOllama)})
	}
	return models, nil
}

func (a *OllamaAdapter) HealthCheck(ctx context.Context) error {
	if err := a.client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("ollama health check: %w", err)
	}
	return nil
}
