package conversation

import (
	"encoding/json"
	"unicode/utf8"

	"github.com/HerbHall/counsellor/pkg/llm"
)

// Estimation constants. There is no real tokenizer; four characters per
// token is a conservative upper bound for English prose.
const (
	charsPerToken = 4
	roleTokens    = 4
	formatTokens  = 3

	// SystemPromptOverhead is reserved for the therapy system prompt that is
	// prepended after truncation.
	SystemPromptOverhead = 2000
	// ResponseBuffer is reserved for the model's reply.
	ResponseBuffer = 2000
)

// EstimateTokens returns ceil(characters / 4).
func EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + charsPerToken - 1) / charsPerToken
}

// MessageTokens returns the estimated cost of one message including the
// role and formatting overhead.
func MessageTokens(m llm.Message) int {
	return roleTokens + EstimateTokens(m.Content) + formatTokens
}

// EstimateMessagesTokens returns the estimated cost of a message list.
func EstimateMessagesTokens(messages []llm.Message) int {
	total := 0
	for _, m := range messages {
		total += MessageTokens(m)
	}
	return total
}

// AvailableTokens returns the history budget for model once the serialized
// profile, the system prompt and the response buffer are reserved. A nil
// profile, including a nil pointer, or an unserializable one costs nothing.
func AvailableTokens(model string, profile any) int {
	return llm.ContextBudget(model) - profileTokens(profile) - SystemPromptOverhead - ResponseBuffer
}

func profileTokens(profile any) int {
	if profile == nil {
		return 0
	}
	b, err := json.Marshal(profile)
	if err != nil || string(b) == "null" {
		return 0
	}
	return EstimateTokens(string(b))
}
