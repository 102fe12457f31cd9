package anthropic

import (
	"time"

	"github.com/HerbHall/counsellor/internal/llm/rest"
)

// Config is the llm.anthropic.* section.
type Config = rest.Config

// DefaultConfig targets the public Messages API.
func DefaultConfig() Config {
	return Config{
		Model:   "claude-3-sonnet-20240229",
		Timeout: 2 * time.Minute,
		BaseURL: "https://api.anthropic.com",
	}
}
