package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"textgate/internal/llm"
)

const (
	// TTL policy bounds: longer responses are costlier to regenerate, so
	// they are retained longer, within [30min, 24h].
	ttlPerToken = 20 * time.Second
	minTTL      = 30 * time.Minute
	maxTTL      = 24 * time.Hour
)

// BuildKey derives the deterministic cache key for one resolved request.
// It is the single derivation used by both the pre-call lookup and the
// post-call write-through, so the two always agree. Any difference in
// backend, model, temperature, max tokens, prompt, or system prompt yields
// a different key.
func BuildKey(backend string, params llm.EffectiveParameters) Key {
	var b strings.Builder
	b.WriteString(backend)
	b.WriteByte(0)
	b.WriteString(params.Model)
	b.WriteByte(0)
	b.WriteString(strconv.FormatFloat(params.Temperature, 'f', -1, 64))
	b.WriteByte(0)
	b.WriteString(strconv.Itoa(params.MaxTokens))
	b.WriteByte(0)
	b.WriteString(params.Prompt)
	b.WriteByte(0)
	b.WriteString(params.SystemPrompt)

	sum := sha256.Sum256([]byte(b.String()))

	return Key{
		Backend: sanitizeSegment(backend),
		Model:   sanitizeSegment(params.Model),
		Hash:    hex.EncodeToString(sum[:]),
	}
}

// TTLFor computes the retention for a response that consumed totalTokens:
// clamp(totalTokens * 20s, 30min, 24h).
func TTLFor(totalTokens int) time.Duration {
	if totalTokens < 0 {
		totalTokens = 0
	}
	ttl := time.Duration(totalTokens) * ttlPerToken
	if ttl < minTTL {
		return minTTL
	}
	if ttl > maxTTL {
		return maxTTL
	}
	return ttl
}

// sanitizeSegment keeps key segments parseable: model names like
// "llama3:8b" would otherwise break on the key separator.
func sanitizeSegment(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ":", "-")
	s = strings.ReplaceAll(s, " ", "-")
	return s
}
