package openai

import (
	"time"

	"github.com/HerbHall/counsellor/internal/llm/rest"
)

// Config is the llm.openai.* section.
type Config = rest.Config

// DefaultConfig targets the public API with the catalog's GPT-4 Turbo model.
func DefaultConfig() Config {
	return Config{
		Model:   "gpt-4-turbo-preview",
		Timeout: 2 * time.Minute,
		BaseURL: "https://api.openai.com",
	}
}
