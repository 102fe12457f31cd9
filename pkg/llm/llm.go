// Package llm is the vendor-neutral language model SDK: the Provider
// interface, per-call options, messages, errors and the model catalog.
// Vendor adapters live under internal/llm.
package llm

import "context"

// Provider is implemented by every vendor adapter.
type Provider interface {
	// Generate completes a single user prompt.
	Generate(ctx context.Context, prompt string, opts ...CallOption) (*Response, error)

	// Chat completes a conversation. System messages may appear anywhere;
	// adapters move them to wherever their API expects them.
	Chat(ctx context.Context, messages []Message, opts ...CallOption) (*Response, error)
}

// HealthReporter is implemented by providers that can be probed.
type HealthReporter interface {
	Heartbeat(ctx context.Context) error
	ListModels(ctx context.Context) ([]string, error)
}

// Defaults applied when a call does not override them.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 4096
)

// CallConfig is the resolved set of per-call settings.
type CallConfig struct {
	Model        string // empty means the provider's configured model
	Temperature  float64
	MaxTokens    int
	JSONResponse bool
}

// ModelOr returns the requested model, or fallback when none was set.
func (c CallConfig) ModelOr(fallback string) string {
	if c.Model != "" {
		return c.Model
	}
	return fallback
}

// CallOption adjusts one Generate or Chat call.
type CallOption func(*CallConfig)

// WithModel overrides the provider's configured model.
func WithModel(model string) CallOption {
	return func(c *CallConfig) { c.Model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) CallOption {
	return func(c *CallConfig) { c.Temperature = t }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) CallOption {
	return func(c *CallConfig) { c.MaxTokens = n }
}

// WithJSONResponse asks for a single JSON object. Vendors without a native
// JSON mode receive an extra instruction instead.
func WithJSONResponse() CallOption {
	return func(c *CallConfig) { c.JSONResponse = true }
}

// ApplyOptions resolves opts on top of the package defaults.
func ApplyOptions(opts ...CallOption) CallConfig {
	c := CallConfig{Temperature: DefaultTemperature, MaxTokens: DefaultMaxTokens}
	for _, o := range opts {
		o(&c)
	}
	return c
}
