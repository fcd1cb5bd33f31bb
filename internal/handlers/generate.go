package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"textgate/internal/dispatch"
	"textgate/internal/llm"
	"textgate/pkg/logging"
)

// GenerateHandler exposes the dispatcher over the thin HTTP edge.
type GenerateHandler struct {
	Dispatcher *dispatch.Dispatcher
}

func NewGenerateHandler(d *dispatch.Dispatcher) *GenerateHandler {
	return &GenerateHandler{Dispatcher: d}
}

type generateRequest struct {
	Prompt       string         `json:"prompt"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	Model        string         `json:"model,omitempty"`
	Temperature  *float64       `json:"temperature,omitempty"`
	MaxTokens    int            `json:"max_tokens,omitempty"`
	Options      map[string]any `json:"options,omitempty"`
	Persist      bool           `json:"persist,omitempty"`
	Title        string         `json:"title,omitempty"`
}

type batchDefaults struct {
	Model        string         `json:"model,omitempty"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	Temperature  *float64       `json:"temperature,omitempty"`
	MaxTokens    int            `json:"max_tokens,omitempty"`
	Options      map[string]any `json:"options,omitempty"`
}

type batchRequest struct {
	Defaults batchDefaults     `json:"defaults"`
	Items    []generateRequest `json:"items"`
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type batchItemResponse struct {
	Index  int                   `json:"index"`
	Result *llm.GenerationResult `json:"result,omitempty"`
	Error  *errorBody            `json:"error,omitempty"`
}

type batchResponse struct {
	Items        []batchItemResponse `json:"items"`
	SuccessCount int                 `json:"success_count"`
	FailureCount int                 `json:"failure_count"`
	ElapsedMs    int64               `json:"elapsed_ms"`
}

// Generate handles POST /v1/generate.
func (h *GenerateHandler) Generate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)

	var body generateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		logger.Warn("invalid request body", zap.Error(err))
		writeError(w, http.StatusBadRequest, llm.KindInvalidInput.String(), "invalid JSON")
		return
	}

	req := body.toRequest(userID(r))
	result, err := h.Dispatcher.Dispatch(ctx, req, dispatch.Options{
		Persist: body.Persist,
		Title:   body.Title,
	})
	if err != nil {
		writeGenerationError(w, logger, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GenerateBatch handles POST /v1/generate/batch. Shared defaults fill any
// field an item leaves unset; per-item values win.
func (h *GenerateHandler) GenerateBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)

	var body batchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		logger.Warn("invalid request body", zap.Error(err))
		writeError(w, http.StatusBadRequest, llm.KindInvalidInput.String(), "invalid JSON")
		return
	}
	if len(body.Items) == 0 {
		writeError(w, http.StatusBadRequest, llm.KindInvalidInput.String(), "at least one item is required")
		return
	}

	uid := userID(r)
	reqs := make([]llm.GenerationRequest, len(body.Items))
	for i, item := range body.Items {
		item.applyDefaults(body.Defaults)
		reqs[i] = item.toRequest(uid)
	}

	batch, err := h.Dispatcher.RunBatch(ctx, reqs)
	if err != nil {
		writeGenerationError(w, logger, err)
		return
	}

	resp := batchResponse{
		Items:        make([]batchItemResponse, len(batch.Items)),
		SuccessCount: batch.SuccessCount,
		FailureCount: batch.FailureCount,
		ElapsedMs:    batch.Elapsed.Milliseconds(),
	}
	for i, item := range batch.Items {
		out := batchItemResponse{Index: item.Index, Result: item.Result}
		if item.Err != nil {
			out.Error = &errorBody{
				Kind:    item.Err.Kind.String(),
				Message: item.Err.Error(),
			}
		}
		resp.Items[i] = out
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListModels handles GET /v1/models.
func (h *GenerateHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	models := h.Dispatcher.ListModels(r.Context())
	if models == nil {
		models = []llm.ModelInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

func (b generateRequest) toRequest(userID string) llm.GenerationRequest {
	return llm.GenerationRequest{
		Prompt:       b.Prompt,
		SystemPrompt: b.SystemPrompt,
		Model:        b.Model,
		Temperature:  b.Temperature,
		MaxTokens:    b.MaxTokens,
		UserID:       userID,
		Options:      b.Options,
	}
}

func (b *generateRequest) applyDefaults(d batchDefaults) {
	if b.Model == "" {
		b.Model = d.Model
	}
	if b.SystemPrompt == "" {
		b.SystemPrompt = d.SystemPrompt
	}
	if b.Temperature == nil {
		b.Temperature = d.Temperature
	}
	if b.MaxTokens == 0 {
		b.MaxTokens = d.MaxTokens
	}
	if b.Options == nil {
		b.Options = d.Options
	}
}

func userID(r *http.Request) string {
	if uid := r.Header.Get("X-User-ID"); uid != "" {
		return uid
	}
	return llm.AnonymousUser
}

// writeGenerationError maps the classified kind to its HTTP status hint.
func writeGenerationError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var genErr *llm.GenerationError
	if !errors.As(err, &genErr) {
		genErr = llm.Classify(err)
	}

	status := genErr.Kind.HTTPStatus()
	logger.Warn("generation request failed",
		zap.String("kind", genErr.Kind.String()),
		zap.Int("status", status),
		zap.Error(err),
	)
	writeError(w, status, genErr.Kind.String(), genErr.Error())
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]errorBody{
		"error": {Kind: kind, Message: message},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
