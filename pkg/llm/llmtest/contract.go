// Package llmtest holds the behavioural checks every llm.Provider must
// pass. Adapter tests point a provider at an httptest server speaking the
// vendor's wire format and hand a factory to TestProviderContract.
package llmtest

import (
	"context"
	"testing"

	"github.com/HerbHall/counsellor/pkg/llm"
)

// contractCase is one named check run against a fresh provider.
type contractCase struct {
	name string
	run  func(t *testing.T, p llm.Provider)
}

var contractCases = []contractCase{
	{"generate", func(t *testing.T, p llm.Provider) {
		resp, err := p.Generate(context.Background(), "Name one small thing that went well today.")
		requireResponse(t, "Generate", resp, err)
		if resp.Model == "" {
			t.Error("Generate: Response.Model is empty")
		}
	}},
	{"chat with history", func(t *testing.T, p llm.Provider) {
		resp, err := p.Chat(context.Background(), []llm.Message{
			llm.SystemMessage("You are a supportive journaling companion. Be concise."),
			llm.AssistantMessage("Welcome back. How has your week been?"),
			llm.UserMessage("Busy, but I slept better."),
		})
		requireResponse(t, "Chat", resp, err)
		if u := resp.Usage; u.TotalTokens < u.PromptTokens {
			t.Errorf("Chat: TotalTokens %d < PromptTokens %d", u.TotalTokens, u.PromptTokens)
		}
	}},
	{"json mode", func(t *testing.T, p llm.Provider) {
		resp, err := p.Chat(context.Background(),
			[]llm.Message{llm.UserMessage("Return an empty JSON object.")},
			llm.WithJSONResponse(), llm.WithTemperature(0.3))
		requireResponse(t, "Chat(JSON)", resp, err)
	}},
	{"cancelled context", func(t *testing.T, p llm.Provider) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := p.Generate(ctx, "Write a long essay."); err == nil {
			t.Error("Generate with a cancelled context returned no error")
		}
	}},
	{"empty conversation", func(t *testing.T, p llm.Provider) {
		_, err := p.Chat(context.Background(), nil)
		if !llm.IsInvalidRequestError(err) {
			t.Errorf("Chat(nil) error = %v, want invalid request", err)
		}
	}},
	{"health", func(t *testing.T, p llm.Provider) {
		hr, ok := p.(llm.HealthReporter)
		if !ok {
			t.Skip("provider does not report health")
		}
		if err := hr.Heartbeat(context.Background()); err != nil {
			t.Errorf("Heartbeat: %v", err)
		}
		ids, err := hr.ListModels(context.Background())
		if err != nil {
			t.Fatalf("ListModels: %v", err)
		}
		if len(ids) == 0 {
			t.Error("ListModels returned no models")
		}
	}},
}

// TestProviderContract runs every contract check against a fresh provider
// from factory.
func TestProviderContract(t *testing.T, factory func() llm.Provider) {
	t.Helper()
	for _, c := range contractCases {
		t.Run(c.name, func(t *testing.T) { c.run(t, factory()) })
	}
}

func requireResponse(t *testing.T, call string, resp *llm.Response, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", call, err)
	}
	if resp == nil {
		t.Fatalf("%s: nil response", call)
	}
	if resp.Content == "" {
		t.Errorf("%s: empty content", call)
	}
}
