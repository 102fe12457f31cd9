package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode classifies a provider failure independently of the vendor.
type ErrorCode string

const (
	ErrCodeAuthentication ErrorCode = "authentication_error"
	ErrCodeRateLimit      ErrorCode = "rate_limit_exceeded"
	ErrCodeModelNotFound  ErrorCode = "model_not_found"
	ErrCodeInvalidRequest ErrorCode = "invalid_request"
	ErrCodeContextLength  ErrorCode = "context_length_exceeded"
	ErrCodeServerError    ErrorCode = "server_error"
	ErrCodeTimeout        ErrorCode = "timeout"
	ErrCodeUnavailable    ErrorCode = "provider_unavailable"
)

// ProviderError is the typed error every adapter returns.
type ProviderError struct {
	Provider ProviderName // Empty for errors raised before a vendor was chosen.
	Code     ErrorCode
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if e.Provider != "" {
		msg = string(e.Provider) + ": " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a typed provider error.
func NewProviderError(code ErrorCode, message string, err error) *ProviderError {
	return &ProviderError{Code: code, Message: message, Err: err}
}

// CodeOf returns the code of the first ProviderError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

func IsAuthenticationError(err error) bool { return CodeOf(err) == ErrCodeAuthentication }
func IsRateLimitError(err error) bool      { return CodeOf(err) == ErrCodeRateLimit }
func IsModelNotFoundError(err error) bool  { return CodeOf(err) == ErrCodeModelNotFound }
func IsContextLengthError(err error) bool  { return CodeOf(err) == ErrCodeContextLength }
func IsServerError(err error) bool         { return CodeOf(err) == ErrCodeServerError }
func IsTimeoutError(err error) bool        { return CodeOf(err) == ErrCodeTimeout }
func IsInvalidRequestError(err error) bool { return CodeOf(err) == ErrCodeInvalidRequest }

// IsUnavailableError reports whether no provider is configured for the model.
func IsUnavailableError(err error) bool { return CodeOf(err) == ErrCodeUnavailable }

// IsRetryable reports whether the call may succeed if repeated.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case ErrCodeRateLimit, ErrCodeServerError, ErrCodeTimeout:
		return true
	}
	return false
}

// HTTPStatus picks the status an API handler should answer with when a
// provider call fails. It returns 0 when err carries no ProviderError.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case "":
		return 0
	case ErrCodeRateLimit, ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// StatusError is a non-2xx response from a vendor API. Type carries the
// vendor's own error type or status string when the body had one.
type StatusError struct {
	Provider   ProviderName
	StatusCode int
	Type       string
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %d %s: %s", e.Provider, e.StatusCode, e.Type, e.Message)
}

// Classify converts transport failures and StatusError values into a
// ProviderError. refine may claim vendor-specific cases first; returning ""
// falls through to the status-code mapping.
func Classify(provider ProviderName, err error, refine func(*StatusError) ErrorCode) error {
	if err == nil {
		return nil
	}
	wrap := func(code ErrorCode, msg string) error {
		return &ProviderError{Provider: provider, Code: code, Message: msg, Err: err}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return wrap(ErrCodeTimeout, "request timed out or cancelled")
	}

	var se *StatusError
	if errors.As(err, &se) {
		if refine != nil {
			if code := refine(se); code != "" {
				return wrap(code, se.Message)
			}
		}
		switch {
		case se.StatusCode == http.StatusUnauthorized:
			return wrap(ErrCodeAuthentication, se.Message)
		case se.StatusCode == http.StatusTooManyRequests:
			return wrap(ErrCodeRateLimit, se.Message)
		case se.StatusCode >= 500:
			return wrap(ErrCodeServerError, se.Message)
		case se.StatusCode >= 400:
			return wrap(ErrCodeInvalidRequest, se.Message)
		}
	}

	msg := err.Error()
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "dial tcp") {
		return wrap(ErrCodeServerError, "server unreachable")
	}
	return wrap(ErrCodeServerError, "request failed")
}
