package llm

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a chat transcript.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SystemMessage, UserMessage and AssistantMessage build a Message with the
// matching role.
func SystemMessage(content string) Message    { return Message{Role: RoleSystem, Content: content} }
func UserMessage(content string) Message      { return Message{Role: RoleUser, Content: content} }
func AssistantMessage(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// WithSystem returns a new transcript with a system message in front.
func WithSystem(prompt string, messages []Message) []Message {
	out := make([]Message, 0, len(messages)+1)
	out = append(out, SystemMessage(prompt))
	return append(out, messages...)
}

// Response is a completed generation.
type Response struct {
	Content string `json:"content"`
	Model   string `json:"model"` // Model that actually served the call, after any fallback.
	Usage   Usage  `json:"usage"`
	Done    bool   `json:"done"` // False when the output hit the token limit.
}

// Usage counts tokens for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add returns the sum of two usages.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}
