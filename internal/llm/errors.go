package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	ollama "github.com/ollama/ollama/api"
	openai "github.com/sashabaranov/go-openai"
)

// ErrorKind is the uniform failure taxonomy. Backends fail in their own
// native vocabulary; Classify maps every failure into one of these kinds,
// and the retry engine consults nothing else.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindTimeout
	KindRateLimited
	KindServerTransient
	KindNetworkTransient
	KindInvalidInput
	KindContextLengthExceeded
	KindUnauthorized
	KindForbidden
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindRateLimited:
		return "rate_limited"
	case KindServerTransient:
		return "server_transient"
	case KindNetworkTransient:
		return "network_transient"
	case KindInvalidInput:
		return "invalid_input"
	case KindContextLengthExceeded:
		return "context_length_exceeded"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Retryable reports whether the retry engine may re-attempt after this kind.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindTimeout, KindRateLimited, KindServerTransient, KindNetworkTransient:
		return true
	default:
		return false
	}
}

// HTTPStatus is the status hint an HTTP layer must honor when surfacing
// this kind: 400 invalid input, 429 rate limited, 503 backend unavailable,
// 500 everything else. Upstream auth/path failures are gateway
// misconfiguration, not caller faults, so they land in the 500 bucket.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindInvalidInput, KindContextLengthExceeded:
		return http.StatusBadRequest
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindTimeout, KindServerTransient, KindNetworkTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// GenerationError wraps a raw backend failure with its classified kind.
type GenerationError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Err.Error())
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return e.Kind.String()
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Retryable reports whether this failure may be retried.
func (e *GenerationError) Retryable() bool {
	return e.Kind.Retryable()
}

// InvalidInputError builds a non-retryable input error without a backend
// failure behind it.
func InvalidInputError(format string, args ...any) *GenerationError {
	return &GenerationError{Kind: KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// Classify maps a raw backend failure into the uniform taxonomy. It is a
// pure function of the error value; adapters propagate their native errors
// verbatim and this is the single place they are interpreted.
func Classify(err error) *GenerationError {
	if err == nil {
		return nil
	}

	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return genErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &GenerationError{Kind: KindTimeout, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &GenerationError{Kind: KindTimeout, Message: "request canceled", Err: err}
	}

	// OpenAI-compatible API errors carry the upstream status code.
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &GenerationError{
			Kind: kindForStatus(apiErr.HTTPStatusCode, apiErr.Message, fmt.Sprint(apiErr.Code)),
			Err:  err,
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &GenerationError{
			Kind: kindForStatus(reqErr.HTTPStatusCode, reqErr.Error(), ""),
			Err:  err,
		}
	}

	// Ollama reports non-2xx responses as StatusError values.
	var statusErr ollama.StatusError
	if errors.As(err, &statusErr) {
		return &GenerationError{
			Kind: kindForStatus(statusErr.StatusCode, statusErr.ErrorMessage, ""),
			Err:  err,
		}
	}

	if isTransientNetError(err) {
		return &GenerationError{Kind: KindNetworkTransient, Err: err}
	}

	return &GenerationError{Kind: KindUnknown, Err: err}
}

// kindForStatus applies the status-code decision table. A 400 with a
// context-length sub-code is refined into KindContextLengthExceeded.
func kindForStatus(status int, message, code string) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusRequestTimeout:
		return KindTimeout
	case status >= 500 && status <= 599:
		return KindServerTransient
	case status == http.StatusBadRequest:
		if isContextLengthMessage(message, code) {
			return KindContextLengthExceeded
		}
		return KindInvalidInput
	case status == http.StatusUnauthorized:
		return KindUnauthorized
	case status == http.StatusForbidden:
		return KindForbidden
	case status == http.StatusNotFound:
		return KindNotFound
	default:
		return KindUnknown
	}
}

func isContextLengthMessage(message, code string) bool {
	if strings.Contains(code, "context_length_exceeded") {
		return true
	}
	lower := strings.ToLower(message)
	return strings.Contains(lower, "context length") ||
		strings.Contains(lower, "context_length") ||
		strings.Contains(lower, "maximum context")
}

// isTransientNetError determines whether a low-level network error is worth
// retrying: timeouts, flaky DNS, refused or reset connections.
func isTransientNetError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.IsTemporary || dnsErr.IsNotFound
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial", "read", "write":
			return true
		}
	}

	// Wrapped errors sometimes lose their type; fall back to string matching.
	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"temporary failure",
	} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
