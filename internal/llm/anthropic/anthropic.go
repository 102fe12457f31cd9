// Package anthropic adapts the Anthropic Messages API to llm.Provider.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/HerbHall/counsellor/internal/llm/rest"
	"github.com/HerbHall/counsellor/pkg/llm"
	"go.uber.org/zap"
)

const apiVersion = "2023-06-01"

// jsonInstruction is appended to the system prompt for JSON calls; the
// Messages API has no response-format switch.
const jsonInstruction = "Respond with a single valid JSON object and nothing else."

var (
	_ llm.Provider       = (*Provider)(nil)
	_ llm.HealthReporter = (*Provider)(nil)
)

// Provider talks to /v1/messages.
type Provider struct {
	client *rest.Client
	model  string
	logger *zap.Logger
}

// New returns a provider authenticating with apiKey.
func New(cfg Config, apiKey string, logger *zap.Logger) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	cfg = cfg.WithDefaults(DefaultConfig())
	auth := func(h http.Header) {
		h.Set("x-api-key", apiKey)
		h.Set("anthropic-version", apiVersion)
	}
	return &Provider{
		client: rest.NewClient(llm.ProviderAnthropic, cfg, auth, decodeError),
		model:  cfg.Model,
		logger: logger,
	}, nil
}

// Generate sends prompt as a single user turn.
func (p *Provider) Generate(ctx context.Context, prompt string, opts ...llm.CallOption) (*llm.Response, error) {
	return p.Chat(ctx, []llm.Message{llm.UserMessage(prompt)}, opts...)
}

// Chat lifts system messages into the top-level system field and sends the
// remaining turns in order.
func (p *Provider) Chat(ctx context.Context, messages []llm.Message, opts ...llm.CallOption) (*llm.Response, error) {
	if len(messages) == 0 {
		return nil, llm.NewProviderError(llm.ErrCodeInvalidRequest, "messages must not be empty", nil)
	}
	call := llm.ApplyOptions(opts...)

	system, turns := splitSystem(messages)
	if len(turns) == 0 {
		return nil, llm.NewProviderError(llm.ErrCodeInvalidRequest, "at least one non-system message is required", nil)
	}
	if call.JSONResponse {
		system = joinNonEmpty(system, jsonInstruction)
	}

	req := messagesRequest{
		Model:       call.ModelOr(p.model),
		System:      system,
		Messages:    turns,
		MaxTokens:   call.MaxTokens,
		Temperature: call.Temperature,
	}
	var resp messagesResponse
	if err := p.client.Post(ctx, "/v1/messages", req, &resp); err != nil {
		return nil, mapError(err)
	}

	var text strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			text.WriteString(b.Text)
		}
	}
	usage := llm.Usage{
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}

	p.logger.Debug("messages completion",
		zap.String("model", resp.Model),
		zap.Int("input_tokens", usage.PromptTokens),
		zap.Int("output_tokens", usage.CompletionTokens),
	)
	return &llm.Response{
		Content: text.String(),
		Model:   resp.Model,
		Usage:   usage,
		Done:    resp.StopReason != "max_tokens",
	}, nil
}

// Heartbeat probes the models endpoint.
func (p *Provider) Heartbeat(ctx context.Context) error {
	if err := p.client.Get(ctx, "/v1/models", nil); err != nil {
		return mapError(err)
	}
	return nil
}

// ListModels returns the Claude models in the catalog.
func (p *Provider) ListModels(context.Context) ([]string, error) {
	var ids []string
	for _, m := range llm.Models() {
		if m.Provider == llm.ProviderAnthropic {
			ids = append(ids, m.ID)
		}
	}
	return ids, nil
}

// splitSystem separates system messages from the conversation turns,
// joining several system messages with a blank line.
func splitSystem(messages []llm.Message) (string, []chatMessage) {
	var system string
	turns := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == llm.RoleSystem {
			system = joinNonEmpty(system, m.Content)
			continue
		}
		turns = append(turns, chatMessage{Role: m.Role, Content: m.Content})
	}
	return system, turns
}

func joinNonEmpty(a, b string) string {
	if a == "" {
		return b
	}
	return a + "\n\n" + b
}

// decodeError reads {"type":"error","error":{"type","message"}}.
func decodeError(body []byte) (string, string) {
	var e struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) != nil {
		return "", ""
	}
	return e.Error.Type, e.Error.Message
}

type messagesRequest struct {
	Model       string        `json:"model"`
	System      string        `json:"system,omitempty"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}
