// Package openai adapts the OpenAI chat completions API to llm.Provider.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/HerbHall/counsellor/internal/llm/rest"
	"github.com/HerbHall/counsellor/pkg/llm"
	"go.uber.org/zap"
)

var (
	_ llm.Provider       = (*Provider)(nil)
	_ llm.HealthReporter = (*Provider)(nil)
)

// Provider talks to /v1/chat/completions.
type Provider struct {
	client *rest.Client
	model  string
	logger *zap.Logger
}

// New returns a provider authenticating with apiKey. Empty cfg fields take
// their DefaultConfig values.
func New(cfg Config, apiKey string, logger *zap.Logger) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	cfg = cfg.WithDefaults(DefaultConfig())
	auth := func(h http.Header) { h.Set("Authorization", "Bearer "+apiKey) }
	return &Provider{
		client: rest.NewClient(llm.ProviderOpenAI, cfg, auth, decodeError),
		model:  cfg.Model,
		logger: logger,
	}, nil
}

// Generate sends prompt as a single user turn.
func (p *Provider) Generate(ctx context.Context, prompt string, opts ...llm.CallOption) (*llm.Response, error) {
	return p.Chat(ctx, []llm.Message{llm.UserMessage(prompt)}, opts...)
}

// Chat sends the conversation as is; OpenAI accepts system turns inline.
func (p *Provider) Chat(ctx context.Context, messages []llm.Message, opts ...llm.CallOption) (*llm.Response, error) {
	if len(messages) == 0 {
		return nil, llm.NewProviderError(llm.ErrCodeInvalidRequest, "messages must not be empty", nil)
	}
	call := llm.ApplyOptions(opts...)

	req := chatRequest{
		Model:       wireModel(call.ModelOr(p.model)),
		Messages:    make([]chatMessage, len(messages)),
		Temperature: call.Temperature,
		MaxTokens:   call.MaxTokens,
	}
	for i, m := range messages {
		req.Messages[i] = chatMessage{Role: m.Role, Content: m.Content}
	}
	if call.JSONResponse {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	var resp chatResponse
	if err := p.client.Post(ctx, "/v1/chat/completions", req, &resp); err != nil {
		return nil, mapError(err)
	}

	out := &llm.Response{
		Model: resp.Model,
		Usage: llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Done: true,
	}
	if len(resp.Choices) > 0 {
		out.Content = resp.Choices[0].Message.Content
		out.Done = resp.Choices[0].FinishReason != "length"
	}

	p.logger.Debug("chat completion",
		zap.String("model", out.Model),
		zap.Int("prompt_tokens", out.Usage.PromptTokens),
		zap.Int("completion_tokens", out.Usage.CompletionTokens),
	)
	return out, nil
}

// Heartbeat lists models and discards the result.
func (p *Provider) Heartbeat(ctx context.Context) error {
	if err := p.client.Get(ctx, "/v1/models", nil); err != nil {
		return mapError(err)
	}
	return nil
}

// ListModels returns the model IDs visible to the key.
func (p *Provider) ListModels(ctx context.Context) ([]string, error) {
	var list struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := p.client.Get(ctx, "/v1/models", &list); err != nil {
		return nil, mapError(err)
	}
	ids := make([]string, 0, len(list.Data))
	for _, m := range list.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// wireModel maps catalog identifiers that OpenAI does not serve yet onto
// the closest released model.
func wireModel(model string) string {
	if model == llm.ModelO3 {
		return llm.ModelGPT45Preview
	}
	return model
}

// decodeError reads {"error":{"message","type","code"}}. A
// context_length_exceeded code wins over the generic type.
func decodeError(body []byte) (string, string) {
	var e struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) != nil {
		return "", ""
	}
	if e.Error.Code == "context_length_exceeded" {
		return e.Error.Code, e.Error.Message
	}
	return e.Error.Type, e.Error.Message
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}
