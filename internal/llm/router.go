// Package llm routes chat completions to the provider adapter that serves
// the requested model, with a single retry against a fallback model.
package llm

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/HerbHall/counsellor/internal/llm/anthropic"
	"github.com/HerbHall/counsellor/internal/llm/gemini"
	"github.com/HerbHall/counsellor/internal/llm/openai"
	pkgllm "github.com/HerbHall/counsellor/pkg/llm"
	"go.uber.org/zap"
)

// Compile-time interface guard.
var _ pkgllm.Provider = (*Router)(nil)

// Config holds the router configuration with per-provider sub-configs.
type Config struct {
	DefaultModel  string           `mapstructure:"default_model"`
	FallbackModel string           `mapstructure:"fallback_model"`
	OpenAI        openai.Config    `mapstructure:"openai"`
	Anthropic     anthropic.Config `mapstructure:"anthropic"`
	Gemini        gemini.Config    `mapstructure:"gemini"`
}

// DefaultConfig returns the router defaults.
func DefaultConfig() Config {
	return Config{
		DefaultModel:  pkgllm.ModelGPT4Turbo,
		FallbackModel: pkgllm.ModelGPT4Turbo,
		OpenAI:        openai.DefaultConfig(),
		Anthropic:     anthropic.DefaultConfig(),
		Gemini:        gemini.DefaultConfig(),
	}
}

// APIKeys carries provider credentials. Empty keys leave the provider
// unconfigured.
type APIKeys struct {
	OpenAI    string
	Anthropic string
	Google    string
}

// KeysFromEnv reads provider credentials from the process environment.
func KeysFromEnv() APIKeys {
	return APIKeys{
		OpenAI:    os.Getenv("OPENAI_API_KEY"),
		Anthropic: os.Getenv("ANTHROPIC_API_KEY"),
		Google:    os.Getenv("GOOGLE_API_KEY"),
	}
}

// ModelAvailability is one entry of the model listing.
type ModelAvailability struct {
	pkgllm.ModelInfo
	Available bool `json:"available"`
}

// Router implements pkgllm.Provider over a set of vendor adapters.
type Router struct {
	cfg       Config
	providers map[pkgllm.ProviderName]pkgllm.Provider
	logger    *zap.Logger
}

// NewRouter builds the adapters for every provider with a key.
func NewRouter(cfg Config, keys APIKeys, logger *zap.Logger) (*Router, error) {
	providers := make(map[pkgllm.ProviderName]pkgllm.Provider)

	if keys.OpenAI != "" {
		p, err := openai.New(cfg.OpenAI, keys.OpenAI, logger.Named("openai"))
		if err != nil {
			return nil, fmt.Errorf("create openai provider: %w", err)
		}
		providers[pkgllm.ProviderOpenAI] = p
	}
	if keys.Anthropic != "" {
		p, err := anthropic.New(cfg.Anthropic, keys.Anthropic, logger.Named("anthropic"))
		if err != nil {
			return nil, fmt.Errorf("create anthropic provider: %w", err)
		}
		providers[pkgllm.ProviderAnthropic] = p
	}
	if keys.Google != "" {
		p, err := gemini.New(cfg.Gemini, keys.Google, logger.Named("gemini"))
		if err != nil {
			return nil, fmt.Errorf("create gemini provider: %w", err)
		}
		providers[pkgllm.ProviderGoogle] = p
	}

	if len(providers) == 0 {
		logger.Warn("no llm provider configured; chat features are unavailable")
	}
	return NewRouterWithProviders(cfg, providers, logger), nil
}

// NewRouterWithProviders builds a router over already constructed adapters.
func NewRouterWithProviders(cfg Config, providers map[pkgllm.ProviderName]pkgllm.Provider, logger *zap.Logger) *Router {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = pkgllm.ModelGPT4Turbo
	}
	if cfg.FallbackModel == "" {
		cfg.FallbackModel = pkgllm.ModelGPT4Turbo
	}
	return &Router{cfg: cfg, providers: providers, logger: logger}
}

// DefaultModel returns the model used when a call names none.
func (r *Router) DefaultModel() string {
	return r.cfg.DefaultModel
}

// Generate creates a completion from a single prompt.
func (r *Router) Generate(ctx context.Context, prompt string, opts ...pkgllm.CallOption) (*pkgllm.Response, error) {
	return r.Chat(ctx, []pkgllm.Message{{Role: pkgllm.RoleUser, Content: prompt}}, opts...)
}

// Chat routes the call by model. A failure on any model other than the
// fallback is retried once with the fallback model.
func (r *Router) Chat(ctx context.Context, messages []pkgllm.Message, opts ...pkgllm.CallOption) (*pkgllm.Response, error) {
	model := pkgllm.ApplyOptions(opts...).Model
	if model == "" {
		model = r.cfg.DefaultModel
	}

	resp, err := r.call(ctx, model, messages, opts)
	if err == nil {
		return resp, nil
	}
	if model == r.cfg.FallbackModel || errors.Is(err, context.Canceled) {
		return nil, err
	}

	r.logger.Warn("llm call failed, retrying with fallback model",
		zap.String("model", model),
		zap.String("fallback", r.cfg.FallbackModel),
		zap.Error(err),
	)
	fallbacksTotal.Inc()

	resp, fbErr := r.call(ctx, r.cfg.FallbackModel, messages, opts)
	if fbErr != nil {
		return nil, fmt.Errorf("model %s failed (%v); fallback %s: %w", model, err, r.cfg.FallbackModel, fbErr)
	}
	return resp, nil
}

func (r *Router) call(ctx context.Context, model string, messages []pkgllm.Message, opts []pkgllm.CallOption) (*pkgllm.Response, error) {
	name := pkgllm.ProviderFor(model)
	p, ok := r.providers[name]
	if !ok {
		requestsTotal.WithLabelValues(model, "unavailable").Inc()
		return nil, pkgllm.NewProviderError(pkgllm.ErrCodeUnavailable,
			fmt.Sprintf("no %s provider configured for model %s", name, model), nil)
	}

	callOpts := append(append([]pkgllm.CallOption{}, opts...), pkgllm.WithModel(model))
	resp, err := p.Chat(ctx, messages, callOpts...)
	if err != nil {
		requestsTotal.WithLabelValues(model, "error").Inc()
		return nil, err
	}

	requestsTotal.WithLabelValues(model, "ok").Inc()
	tokensTotal.WithLabelValues(model, "prompt").Add(float64(resp.Usage.PromptTokens))
	tokensTotal.WithLabelValues(model, "completion").Add(float64(resp.Usage.CompletionTokens))

	if resp.Model == "" {
		resp.Model = model
	}
	return resp, nil
}

// Available lists the catalog with a flag for models that can be called:
// the model is released and its provider is configured.
func (r *Router) Available() []ModelAvailability {
	models := pkgllm.Models()
	out := make([]ModelAvailability, len(models))
	for i, m := range models {
		_, configured := r.providers[m.Provider]
		out[i] = ModelAvailability{ModelInfo: m, Available: configured && m.Released}
	}
	return out
}

// Heartbeat checks every configured provider that reports health.
func (r *Router) Heartbeat(ctx context.Context) map[pkgllm.ProviderName]error {
	out := make(map[pkgllm.ProviderName]error, len(r.providers))
	for name, p := range r.providers {
		hr, ok := p.(pkgllm.HealthReporter)
		if !ok {
			continue
		}
		out[name] = hr.Heartbeat(ctx)
	}
	return out
}
