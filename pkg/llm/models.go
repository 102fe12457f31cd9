package llm

import "sort"

// ProviderName identifies the vendor that serves a model.
type ProviderName string

const (
	ProviderOpenAI    ProviderName = "openai"
	ProviderAnthropic ProviderName = "anthropic"
	ProviderGoogle    ProviderName = "google"
)

// Model identifiers understood by the router.
const (
	ModelGPT45Preview  = "gpt-4.5-preview"
	ModelGPT4Turbo     = "gpt-4-turbo-preview"
	ModelGPT4          = "gpt-4"
	ModelO3            = "o3-preview"
	ModelClaude4Opus   = "claude-4-opus"
	ModelClaude4Sonnet = "claude-4-sonnet"
	ModelClaude3Opus   = "claude-3-opus-20240229"
	ModelClaude3Sonnet = "claude-3-sonnet-20240229"
	ModelGemini25Pro   = "gemini-2.5-pro"
	ModelGemini25Flash = "gemini-2.5-flash"
	ModelGeminiPro     = "gemini-pro"
	ModelGeminiUltra   = "gemini-ultra"
)

// DefaultContextBudget is used for model identifiers missing from the catalog.
const DefaultContextBudget = 12000

// ModelInfo describes one entry of the model catalog.
type ModelInfo struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Provider ProviderName `json:"provider"`
	// ContextBudget is the conservative number of prompt tokens the
	// conversation truncator plans for, not the vendor's hard limit.
	ContextBudget int `json:"context_budget"`
	// InputCost and OutputCost are USD per 1K tokens.
	InputCost  float64 `json:"input_cost"`
	OutputCost float64 `json:"output_cost"`
	// Released is false for models announced but not yet served.
	Released bool `json:"released"`
}

var catalog = map[string]ModelInfo{
	ModelGPT45Preview:  {ModelGPT45Preview, "GPT-4.5 Preview", ProviderOpenAI, 12000, 0.075, 0.15, true},
	ModelGPT4Turbo:     {ModelGPT4Turbo, "GPT-4 Turbo", ProviderOpenAI, 12000, 0.01, 0.03, true},
	ModelGPT4:          {ModelGPT4, "GPT-4", ProviderOpenAI, 8000, 0.03, 0.06, true},
	ModelO3:            {ModelO3, "O3 (Coming Soon)", ProviderOpenAI, 12000, 0.02, 0.04, false},
	ModelClaude4Opus:   {ModelClaude4Opus, "Claude 4 Opus", ProviderAnthropic, 16000, 0.015, 0.075, true},
	ModelClaude4Sonnet: {ModelClaude4Sonnet, "Claude 4 Sonnet", ProviderAnthropic, 16000, 0.003, 0.015, true},
	ModelClaude3Opus:   {ModelClaude3Opus, "Claude 3 Opus", ProviderAnthropic, 16000, 0.015, 0.075, true},
	ModelClaude3Sonnet: {ModelClaude3Sonnet, "Claude 3 Sonnet", ProviderAnthropic, 16000, 0.003, 0.015, true},
	ModelGemini25Pro:   {ModelGemini25Pro, "Gemini 2.5 Pro", ProviderGoogle, 20000, 0.00125, 0.01, true},
	ModelGemini25Flash: {ModelGemini25Flash, "Gemini 2.5 Flash", ProviderGoogle, 20000, 0.0003, 0.0025, true},
	ModelGeminiPro:     {ModelGeminiPro, "Gemini Pro", ProviderGoogle, 15000, 0.0005, 0.0015, true},
	ModelGeminiUltra:   {ModelGeminiUltra, "Gemini Ultra (Coming Soon)", ProviderGoogle, 20000, 0.002, 0.006, false},
}

// LookupModel returns the catalog entry for id.
func LookupModel(id string) (ModelInfo, bool) {
	m, ok := catalog[id]
	return m, ok
}

// Models returns every catalog entry ordered by provider, then ID.
func Models() []ModelInfo {
	out := make([]ModelInfo, 0, len(catalog))
	for _, m := range catalog {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ContextBudget returns the planning budget for a model, falling back to
// DefaultContextBudget for unknown identifiers.
func ContextBudget(model string) int {
	if m, ok := catalog[model]; ok {
		return m.ContextBudget
	}
	return DefaultContextBudget
}

// ProviderFor returns the vendor serving model. Unknown models are routed to OpenAI.
func ProviderFor(model string) ProviderName {
	if m, ok := catalog[model]; ok {
		return m.Provider
	}
	return ProviderOpenAI
}

// EstimateCost returns the approximate USD cost of a call. Unknown models are
// priced as GPT-4 Turbo.
func EstimateCost(model string, inputTokens, outputTokens int) float64 {
	m, ok := catalog[model]
	if !ok {
		m = catalog[ModelGPT4Turbo]
	}
	return float64(inputTokens)/1000*m.InputCost + float64(outputTokens)/1000*m.OutputCost
}
