package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestClassify(t *testing.T) {
	refine := func(se *StatusError) ErrorCode {
		if se.Type == "quota" {
			return ErrCodeRateLimit
		}
		return ""
	}
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"deadline", context.DeadlineExceeded, ErrCodeTimeout},
		{"wrapped cancel", fmt.Errorf("do: %w", context.Canceled), ErrCodeTimeout},
		{"401", &StatusError{StatusCode: 401}, ErrCodeAuthentication},
		{"429", &StatusError{StatusCode: 429}, ErrCodeRateLimit},
		{"refined", &StatusError{StatusCode: 400, Type: "quota"}, ErrCodeRateLimit},
		{"500", &StatusError{StatusCode: 502}, ErrCodeServerError},
		{"400", &StatusError{StatusCode: 422}, ErrCodeInvalidRequest},
		{"dial", errors.New("dial tcp 127.0.0.1:1: connection refused"), ErrCodeServerError},
		{"other", errors.New("weird"), ErrCodeServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(ProviderOpenAI, tt.err, refine)
			if code := CodeOf(got); code != tt.want {
				t.Errorf("CodeOf(Classify(%v)) = %q, want %q", tt.err, code, tt.want)
			}
			if !errors.Is(got, tt.err) {
				t.Error("classified error should wrap the original")
			}
			if !strings.HasPrefix(got.Error(), "openai: ") {
				t.Errorf("Error() = %q, want provider prefix", got.Error())
			}
		})
	}

	if Classify(ProviderOpenAI, nil, nil) != nil {
		t.Error("Classify(nil) should be nil")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.New("plain"), 0},
		{NewProviderError(ErrCodeRateLimit, "slow", nil), http.StatusServiceUnavailable},
		{NewProviderError(ErrCodeUnavailable, "none", nil), http.StatusServiceUnavailable},
		{NewProviderError(ErrCodeTimeout, "late", nil), http.StatusGatewayTimeout},
		{fmt.Errorf("send: %w", NewProviderError(ErrCodeAuthentication, "key", nil)), http.StatusBadGateway},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(NewProviderError(ErrCodeServerError, "x", nil)) {
		t.Error("server errors are retryable")
	}
	if IsRetryable(NewProviderError(ErrCodeAuthentication, "x", nil)) {
		t.Error("authentication errors are not retryable")
	}
	if IsRetryable(errors.New("x")) {
		t.Error("untyped errors are not retryable")
	}
}
