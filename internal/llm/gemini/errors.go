package gemini

import (
	"strings"

	"github.com/HerbHall/counsellor/pkg/llm"
)

func mapError(err error) error {
	return llm.Classify(llm.ProviderGoogle, err, refine)
}

// refine reads the google.rpc status carried in StatusError.Type.
func refine(se *llm.StatusError) llm.ErrorCode {
	lower := strings.ToLower(se.Message)
	switch {
	case se.StatusCode == 403 || se.Type == "UNAUTHENTICATED" || se.Type == "PERMISSION_DENIED" ||
		strings.Contains(lower, "api key not valid"):
		return llm.ErrCodeAuthentication
	case se.Type == "RESOURCE_EXHAUSTED":
		return llm.ErrCodeRateLimit
	case se.StatusCode == 404 || se.Type == "NOT_FOUND":
		return llm.ErrCodeModelNotFound
	case strings.Contains(lower, "token") && strings.Contains(lower, "exceed"):
		return llm.ErrCodeContextLength
	}
	return ""
}
