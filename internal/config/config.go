// Package config loads Counsellor settings from defaults, an optional YAML
// file, a .env file and COUNSELLOR_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override:
// COUNSELLOR_SERVER_PORT=9090 sets server.port.
const EnvPrefix = "COUNSELLOR"

// Load reads configuration from file and environment variables. The .env
// files (default ".env") are loaded into the process environment first so
// provider API keys and overrides can live there; missing files are ignored.
// An empty configPath searches for counsellor.yaml in the usual places.
func Load(configPath string, envFiles ...string) (*viper.Viper, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", f, err)
		}
	}

	v := viper.New()
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("counsellor")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/counsellor")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is fine -- use defaults
	}

	return v, nil
}

// SetDefaults registers the default value of every known key. Keys must
// have a default for environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.dev_mode", false)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000", "http://localhost:5173"})
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "2m")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.trusted_proxies", []string{})

	v.SetDefault("database.path", "./data/counsellor.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.access_token_ttl", "15m")
	v.SetDefault("auth.refresh_token_ttl", "168h")
	v.SetDefault("auth.max_failed_logins", 5)
	v.SetDefault("auth.lockout_duration", "15m")

	v.SetDefault("csrf.secret", "")
	v.SetDefault("csrf.cookie_name", "csrf-token")
	v.SetDefault("csrf.secure", false)

	// 100 requests per 15 minutes, 30 for AI endpoints.
	v.SetDefault("ratelimit.rps", 100.0/900.0)
	v.SetDefault("ratelimit.burst", 100)
	v.SetDefault("ratelimit.ai_rps", 30.0/900.0)
	v.SetDefault("ratelimit.ai_burst", 30)

	v.SetDefault("llm.default_model", "gpt-4-turbo-preview")
	v.SetDefault("llm.fallback_model", "gpt-4-turbo-preview")
	v.SetDefault("llm.openai.model", "gpt-4-turbo-preview")
	v.SetDefault("llm.openai.timeout", "2m")
	v.SetDefault("llm.openai.base_url", "https://api.openai.com")
	v.SetDefault("llm.anthropic.model", "claude-3-sonnet-20240229")
	v.SetDefault("llm.anthropic.timeout", "2m")
	v.SetDefault("llm.anthropic.base_url", "https://api.anthropic.com")
	v.SetDefault("llm.gemini.model", "gemini-2.5-flash")
	v.SetDefault("llm.gemini.timeout", "2m")
	v.SetDefault("llm.gemini.base_url", "https://generativelanguage.googleapis.com")
}
