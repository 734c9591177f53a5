package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType classifies an upstream LLM failure.
type ErrorType string

const (
	ErrorTypeTimeout         ErrorType = "timeout"
	ErrorTypeRateLimit       ErrorType = "rate_limit"
	ErrorTypeAuth            ErrorType = "auth"
	ErrorTypeUnavailable     ErrorType = "unavailable"
	ErrorTypeInvalidRequest  ErrorType = "invalid_request"
	ErrorTypeInvalidResponse ErrorType = "invalid_response"
	ErrorTypeUnsupported     ErrorType = "unsupported"
	ErrorTypeUnknown         ErrorType = "unknown"
)

// Error represents a structured upstream service error with classification.
type Error struct {
	Type      ErrorType
	Message   string
	Retryable bool
	Cause     error
	Model     string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string
	parts = append(parts, string(e.Type))
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	parts = append(parts, e.Message)

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", strings.Join(parts, " "), e.Cause)
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable implements the retry.RetryableError interface.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// NewError creates a new structured upstream error.
func NewError(errType ErrorType, message string, retryable bool, cause error) *Error {
	return &Error{
		Type:      errType,
		Message:   message,
		Retryable: retryable,
		Cause:     cause,
	}
}

// IsUpstreamError reports whether err originated in an upstream LLM call.
func IsUpstreamError(err error) bool {
	var llmErr *Error
	return errors.As(err, &llmErr)
}

// classifyError categorizes an upstream error into a structured Error for
// consistent retry and HTTP mapping decisions.
func classifyError(err error, model string) *Error {
	if err == nil {
		return nil
	}

	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr
	}

	lower := strings.ToLower(err.Error())

	switch {
	case strings.Contains(lower, "context deadline exceeded"),
		strings.Contains(lower, "timeout"),
		strings.Contains(lower, "timed out"):
		return &Error{Type: ErrorTypeTimeout, Message: "request timed out", Retryable: true, Cause: err, Model: model}
	case strings.Contains(lower, "429"),
		strings.Contains(lower, "rate limit"),
		strings.Contains(lower, "too many requests"):
		return &Error{Type: ErrorTypeRateLimit, Message: "rate limited", Retryable: true, Cause: err, Model: model}
	case strings.Contains(lower, "401"),
		strings.Contains(lower, "403"),
		strings.Contains(lower, "unauthorized"),
		strings.Contains(lower, "invalid api key"):
		return &Error{Type: ErrorTypeAuth, Message: "authentication failed", Retryable: false, Cause: err, Model: model}
	case strings.Contains(lower, "500"),
		strings.Contains(lower, "502"),
		strings.Contains(lower, "503"),
		strings.Contains(lower, "504"),
		strings.Contains(lower, "connection refused"),
		strings.Contains(lower, "service unavailable"),
		strings.Contains(lower, "overloaded"):
		return &Error{Type: ErrorTypeUnavailable, Message: "service unavailable", Retryable: true, Cause: err, Model: model}
	case strings.Contains(lower, "400"),
		strings.Contains(lower, "invalid request"),
		strings.Contains(lower, "context length"):
		return &Error{Type: ErrorTypeInvalidRequest, Message: "invalid request", Retryable: false, Cause: err, Model: model}
	default:
		return &Error{Type: ErrorTypeUnknown, Message: "request failed", Retryable: false, Cause: err, Model: model}
	}
}
