package gemini

import (
	"time"

	"github.com/HerbHall/counsellor/internal/llm/rest"
)

// Config is the llm.gemini.* section.
type Config = rest.Config

// DefaultConfig targets the Generative Language REST endpoint.
func DefaultConfig() Config {
	return Config{
		Model:   "gemini-2.5-flash",
		Timeout: 2 * time.Minute,
		BaseURL: "https://generativelanguage.googleapis.com",
	}
}
