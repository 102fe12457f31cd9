// Package gemini adapts the Google Generative Language REST API
// (models/*:generateContent) to llm.Provider.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/HerbHall/counsellor/internal/llm/rest"
	"github.com/HerbHall/counsellor/pkg/llm"
	"go.uber.org/zap"
)

var (
	_ llm.Provider       = (*Provider)(nil)
	_ llm.HealthReporter = (*Provider)(nil)
)

// Provider talks to the v1beta generateContent endpoint.
type Provider struct {
	client *rest.Client
	model  string
	logger *zap.Logger
}

// New returns a provider authenticating with apiKey.
func New(cfg Config, apiKey string, logger *zap.Logger) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	cfg = cfg.WithDefaults(DefaultConfig())
	auth := func(h http.Header) { h.Set("x-goog-api-key", apiKey) }
	return &Provider{
		client: rest.NewClient(llm.ProviderGoogle, cfg, auth, decodeError),
		model:  cfg.Model,
		logger: logger,
	}, nil
}

// Generate sends prompt as a single user turn.
func (p *Provider) Generate(ctx context.Context, prompt string, opts ...llm.CallOption) (*llm.Response, error) {
	return p.Chat(ctx, []llm.Message{llm.UserMessage(prompt)}, opts...)
}

// Chat moves system messages into systemInstruction and sends assistant
// turns with role "model".
func (p *Provider) Chat(ctx context.Context, messages []llm.Message, opts ...llm.CallOption) (*llm.Response, error) {
	if len(messages) == 0 {
		return nil, llm.NewProviderError(llm.ErrCodeInvalidRequest, "messages must not be empty", nil)
	}
	call := llm.ApplyOptions(opts...)
	model := call.ModelOr(p.model)

	req := buildRequest(messages, call)
	if len(req.Contents) == 0 {
		return nil, llm.NewProviderError(llm.ErrCodeInvalidRequest, "at least one non-system message is required", nil)
	}

	var resp generateResponse
	path := "/v1beta/models/" + url.PathEscape(model) + ":generateContent"
	if err := p.client.Post(ctx, path, req, &resp); err != nil {
		return nil, mapError(err)
	}

	out := &llm.Response{
		Model: model,
		Usage: llm.Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		},
		Done: true,
	}
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}
	if len(resp.Candidates) > 0 {
		first := resp.Candidates[0]
		var text strings.Builder
		for _, pt := range first.Content.Parts {
			text.WriteString(pt.Text)
		}
		out.Content = text.String()
		out.Done = first.FinishReason != "MAX_TOKENS"
	}

	p.logger.Debug("generate content",
		zap.String("model", out.Model),
		zap.Int("prompt_tokens", out.Usage.PromptTokens),
		zap.Int("candidates_tokens", out.Usage.CompletionTokens),
	)
	return out, nil
}

func buildRequest(messages []llm.Message, call llm.CallConfig) generateRequest {
	req := generateRequest{
		GenerationConfig: generationConfig{
			Temperature:     call.Temperature,
			MaxOutputTokens: call.MaxTokens,
		},
	}
	if call.JSONResponse {
		req.GenerationConfig.ResponseMimeType = "application/json"
	}
	for _, m := range messages {
		if m.Role == llm.RoleSystem {
			if req.SystemInstruction == nil {
				req.SystemInstruction = &content{}
			}
			req.SystemInstruction.Parts = append(req.SystemInstruction.Parts, part{Text: m.Content})
			continue
		}
		req.Contents = append(req.Contents, content{Role: wireRole(m.Role), Parts: []part{{Text: m.Content}}})
	}
	return req
}

// Heartbeat succeeds when the model list can be fetched.
func (p *Provider) Heartbeat(ctx context.Context) error {
	_, err := p.ListModels(ctx)
	return err
}

// ListModels returns the model IDs served to this key, without the
// "models/" resource prefix.
func (p *Provider) ListModels(ctx context.Context) ([]string, error) {
	var list struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := p.client.Get(ctx, "/v1beta/models", &list); err != nil {
		return nil, mapError(err)
	}
	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, strings.TrimPrefix(m.Name, "models/"))
	}
	return ids, nil
}

// NormalizeRole maps a Gemini content role onto the llm role set.
func NormalizeRole(role string) string {
	r := strings.ToLower(strings.TrimSpace(role))
	if r == "model" {
		return llm.RoleAssistant
	}
	return r
}

func wireRole(role string) string {
	if role == llm.RoleAssistant {
		return "model"
	}
	return "user"
}

// decodeError reads a google.rpc.Status body. The rpc status name is
// returned as the type.
func decodeError(body []byte) (string, string) {
	var e struct {
		Error struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) != nil {
		return "", ""
	}
	return e.Error.Status, e.Error.Message
}

type generateRequest struct {
	Contents          []content        `json:"contents"`
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}
