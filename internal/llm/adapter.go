package llm

import (
	"context"
	"strings"
)

// Family identifies one interchangeable backend variant.
type Family string

const (
	FamilyOpenAI Family = "openai"
	FamilyOllama Family = "ollama"
)

// Adapter is the uniform capability surface over one provider family.
// Generate performs exactly one outbound call; repetition belongs to the
// retry engine, and error interpretation to Classify. Adapters propagate
// their backend's raw errors verbatim.
type Adapter interface {
	Generate(ctx context.Context, params EffectiveParameters) (*GenerationResult, error)
	ListModels(ctx context.Context) ([]ModelInfo, error)
	HealthCheck(ctx context.Context) error
	Family() Family
}

// ollamaModelPrefixes are the model-name families served by a local Ollama
// runtime rather than a hosted API.
var ollamaModelPrefixes = []string{
	"llama",
	"codellama",
	"mistral",
	"mixtral",
	"gemma",
	"qwen",
	"phi",
	"deepseek",
	"tinyllama",
	"vicuna",
}

var openAIModelPrefixes = []string{
	"gpt",
	"chatgpt",
	"o1",
	"o3",
	"o4",
	"davinci",
	"text-",
}

// FamilyForModel maps a model identifier to its backend family. The mapping
// is total: an unrecognized name falls through to the provided default,
// never an error.
func FamilyForModel(model string, fallback Family) Family {
	name := strings.ToLower(strings.TrimSpace(model))

	for _, prefix := range openAIModelPrefixes {
		if strings.HasPrefix(name, prefix) {
			return FamilyOpenAI
		}
	}
	for _, prefix := range ollamaModelPrefixes {
		if strings.HasPrefix(name, prefix) {
			return FamilyOllama
		}
	}
	return fallback
}
