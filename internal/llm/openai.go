package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIAdapter serves the hosted-API provider family through any
// OpenAI-compatible endpoint (OpenAI itself, OpenRouter, vLLM, ...).
type OpenAIAdapter struct {
	client *openai.Client
	logger *zap.Logger
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string // optional; defaults to the OpenAI API

	// Custom HTTP client (for testing or special transports).
	HTTPClient *http.Client
}

func NewOpenAIAdapter(cfg OpenAIConfig, logger *zap.Logger) (*OpenAIAdapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	return &OpenAIAdapter{
		client: openai.NewClientWithConfig(clientCfg),
		logger: logger.Named("openai"),
	}, nil
}

func (a *OpenAIAdapter) Family() Family { return FamilyOpenAI }

// Generate performs one chat-completion call. Errors from the SDK are
// returned verbatim for the classifier.
func (a *OpenAIAdapter) Generate(ctx context.Context, params EffectiveParameters) (*GenerationResult, error) {
	start := time.Now()

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if params.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: params.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: params.Prompt,
	})

	req := openai.ChatCompletionRequest{
		Model:       params.Model,
		Messages:    messages,
		Temperature: float32(params.Temperature),
		MaxTokens:   params.MaxTokens,
	}

	// Recognized tuning knobs only; unknown keys are ignored.
	if topP, ok := floatOption(params.Options, "top_p"); ok {
		req.TopP = float32(topP)
	}
	if stop, ok := stringsOption(params.Options, "stop"); ok {
		req.Stop = stop
	}
	if seed, ok := intOption(params.Options, "seed"); ok {
		req.Seed = &seed
	}
	if penalty, ok := floatOption(params.Options, "frequency_penalty"); ok {
		req.FrequencyPenalty = float32(penalty)
	}
	if penalty, ok := floatOption(params.Options, "presence_penalty"); ok {
		req.PresencePenalty = float32(penalty)
	}

	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: provider returned no choices")
	}

	result := &GenerationResult{
		Text:  resp.Choices[0].Message.Content,
		Model: resp.Model,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
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

func (a *OpenAIAdapter) ListModels(ctx context.Context) ([]ModelInfo, error) {
	list, err := a.client.ListModels(ctx)
	if err != nil {
		return nil, err
	}

	models := make([]ModelInfo, 0, len(list.Models))
	for _, m := range list.Models {
		models = append(models, ModelInfo{ID: m.ID, Backend: string(FamilyOpenAI)})
	}
	return models, nil
}

func (a *OpenAIAdapter) HealthCheck(ctx context.Context) error {
	if _, err := a.client.ListModels(ctx); err != nil {
		return fmt.Errorf("openai health check: %w", err)
	}
	return nil
}
