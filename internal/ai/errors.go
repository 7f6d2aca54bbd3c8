package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go/v3"
	"google.golang.org/genai"
)

// ErrorType categorizes provider failures.
type ErrorType string

const (
	ErrAuth      ErrorType = "auth_error"   // 401/403, bad or revoked key
	ErrRateLimit ErrorType = "rate_limit"   // 429, provider or local limit
	ErrServer    ErrorType = "server_error" // 5xx, provider down
	ErrTimeout   ErrorType = "timeout"      // deadline exceeded
	ErrResponse  ErrorType = "bad_response" // empty or unusable output
)

// ServiceError wraps a provider failure with a user-facing apology.
type ServiceError struct {
	Type      ErrorType
	Message   string
	Err       error
	Retryable bool
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("ai: %s: %v", e.Type, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// UserMessage is the apology sent in place of a recommendation.
func (e *ServiceError) UserMessage() string { return e.Message }

// ClassifyError maps a provider error to a ServiceError. Errors that are
// already classified are returned as is.
func ClassifyError(err error) *ServiceError {
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}

	raw := err.Error()
	status := statusCode(err)

	switch {
	case errors.Is(err, context.DeadlineExceeded) || containsAny(raw, "deadline exceeded", "timeout"):
		return &ServiceError{
			Type: ErrTimeout, Retryable: true, Err: err,
			Message: "The estimator took too long to answer. Please send your last answer again.",
		}
	case status == 429 || containsAny(raw, "rate limit", "too many requests", "resource_exhausted"):
		return &ServiceError{
			Type: ErrRateLimit, Retryable: true, Err: err,
			Message: "The estimator is busy right now. Please try again in a minute.",
		}
	case status == 401 || status == 403 || containsAny(raw, "unauthorized", "invalid api key", "permission_denied"):
		return &ServiceError{
			Type: ErrAuth, Retryable: false, Err: err,
			Message: "The estimator is unavailable at the moment. Please try again later.",
		}
	case status >= 500 || containsAny(raw, "server error", "overloaded", "unavailable"):
		return &ServiceError{
			Type: ErrServer, Retryable: true, Err: err,
			Message: "The estimator is temporarily unavailable. Please try again in a few minutes.",
		}
	default:
		return &ServiceError{
			Type: ErrServer, Retryable: false, Err: err,
			Message: "Sorry, I couldn't prepare an estimate. Please send your last answer again.",
		}
	}
}

func statusCode(err error) int {
	var oe *openai.Error
	if errors.As(err, &oe) {
		return oe.StatusCode
	}
	var ae *anthropic.Error
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	var ge genai.APIError
	if errors.As(err, &ge) {
		return ge.Code
	}
	return 0
}

func containsAny(s string, patterns ...string) bool {
	lower := strings.ToLower(s)
	for _, p := range patterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
