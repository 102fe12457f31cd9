package openai

import (
	"strings"

	"github.com/HerbHall/counsellor/pkg/llm"
)

func mapError(err error) error {
	return llm.Classify(llm.ProviderOpenAI, err, refine)
}

// refine recognises OpenAI's missing-model and context-window errors, which
// share status codes with ordinary invalid requests.
func refine(se *llm.StatusError) llm.ErrorCode {
	lower := strings.ToLower(se.Message)
	switch {
	case se.StatusCode == 404 && strings.Contains(lower, "model"):
		return llm.ErrCodeModelNotFound
	case se.Type == "context_length_exceeded" || strings.Contains(lower, "context length"):
		return llm.ErrCodeContextLength
	}
	return ""
}
