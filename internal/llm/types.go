package llm

import (
	"errors"
	"fmt"
)

// AnonymousUser is the sentinel user id for requests without an
// authenticated caller.
const AnonymousUser = "anon"

const maxPromptSize = 512 * 1024 // 512KB per prompt field

// GenerationRequest is a caller's request as it arrives at the dispatcher,
// before preference resolution. Zero values mean "not set": the dispatcher
// fills them from the user's stored preference or the system defaults.
type GenerationRequest struct {
	Prompt       string         `json:"prompt"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	Model        string         `json:"model,omitempty"`
	Temperature  *float64       `json:"temperature,omitempty"`
	MaxTokens    int            `json:"max_tokens,omitempty"`
	UserID       string         `json:"-"`
	Options      map[string]any `json:"options,omitempty"`
}

// Usage reports token consumption for one generation.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// GenerationResult is the outcome of one successful dispatch.
type GenerationResult struct {
	Text  string `json:"text"`
	Usage Usage  `json:"usage"`
	Model string `json:"model"` // model identifier echoed by the backend
}

// EffectiveParameters is a request after preference resolution. Every field
// is concrete: explicit request value, else stored preference, else system
// default.
type EffectiveParameters struct {
	Model        string
	Temperature  float64
	MaxTokens    int
	Prompt       string
	SystemPrompt string
	Options      map[string]any
}

// Validate checks the resolved parameters before any backend is contacted.
func (p *EffectiveParameters) Validate() error {
	if p.Prompt == "" {
		return errors.New("prompt is required")
	}
	if len(p.Prompt) > maxPromptSize {
		return fmt.Errorf("prompt too large (%d bytes, max %d)", len(p.Prompt), maxPromptSize)
	}
	if len(p.SystemPrompt) > maxPromptSize {
		return fmt.Errorf("system prompt too large (%d bytes, max %d)", len(p.SystemPrompt), maxPromptSize)
	}
	if p.Model == "" {
		return errors.New("model is required")
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		return errors.New("temperature must be between 0 and 2")
	}
	if p.MaxTokens <= 0 {
		return errors.New("max_tokens must be positive")
	}
	return nil
}

// Defaults are the system-wide fallback generation parameters.
type Defaults struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// ModelInfo describes one model a backend can serve.
type ModelInfo struct {
	ID      string `json:"id"`
	Backend string `json:"backend"`
}

// floatOption reads a recognized float tuning knob from an options map.
// JSON numbers decode as float64; ints are accepted for convenience.
func floatOption(opts map[string]any, key string) (float64, bool) {
	v, ok := opts[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

// intOption reads a recognized integer tuning knob from an options map.
func intOption(opts map[string]any, key string) (int, bool) {
	v, ok := opts[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}

// stringsOption reads a recognized string-list tuning knob (e.g. stop
// sequences) from an options map.
func stringsOption(opts map[string]any, key string) ([]string, bool) {
	v, ok := opts[key]
	if !ok {
		return nil, false
	}
	switch s := v.(type) {
	case []string:
		return s, true
	case string:
		return []string{s}, true
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	}
	return nil, false
}
