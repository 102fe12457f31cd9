package anthropic

import (
	"strings"

	"github.com/HerbHall/counsellor/pkg/llm"
)

func mapError(err error) error {
	return llm.Classify(llm.ProviderAnthropic, err, refine)
}

// refine reads Anthropic's error.type field.
func refine(se *llm.StatusError) llm.ErrorCode {
	lower := strings.ToLower(se.Message)
	switch {
	case se.Type == "authentication_error":
		return llm.ErrCodeAuthentication
	case se.Type == "rate_limit_error" || se.Type == "overloaded_error":
		return llm.ErrCodeRateLimit
	case se.Type == "not_found_error":
		return llm.ErrCodeModelNotFound
	case se.Type == "invalid_request_error" &&
		(strings.Contains(lower, "token") || strings.Contains(lower, "context")):
		return llm.ErrCodeContextLength
	}
	return ""
}
