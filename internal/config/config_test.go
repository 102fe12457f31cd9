package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	v, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := v.GetInt("server.port"); got != 3001 {
		t.Errorf("server.port = %d, want 3001", got)
	}
	if got := v.GetDuration("auth.access_token_ttl"); got != 15*time.Minute {
		t.Errorf("auth.access_token_ttl = %v, want 15m", got)
	}
	if got := v.GetString("llm.default_model"); got != "gpt-4-turbo-preview" {
		t.Errorf("llm.default_model = %q", got)
	}
	if got := v.GetInt("ratelimit.ai_burst"); got != 30 {
		t.Errorf("ratelimit.ai_burst = %d, want 30", got)
	}
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "counsellor.yaml")
	yaml := "server:\n  port: 4000\nlogging:\n  level: debug\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("COUNSELLOR_LOGGING_LEVEL", "warn")
	t.Setenv("COUNSELLOR_LLM_DEFAULT_MODEL", "claude-4-sonnet")

	v, err := Load(path, filepath.Join(dir, "missing.env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := v.GetInt("server.port"); got != 4000 {
		t.Errorf("server.port = %d, want 4000 from file", got)
	}
	if got := v.GetString("logging.level"); got != "warn" {
		t.Errorf("logging.level = %q, want env override", got)
	}

	cfg, err := Decode(v)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.LLM.DefaultModel != "claude-4-sonnet" {
		t.Errorf("decoded default_model = %q, want env override", cfg.LLM.DefaultModel)
	}
	if cfg.Server.Port != 4000 {
		t.Errorf("decoded port = %d, want 4000", cfg.Server.Port)
	}
	if cfg.LLM.OpenAI.Timeout != 2*time.Minute {
		t.Errorf("decoded openai timeout = %v, want 2m", cfg.LLM.OpenAI.Timeout)
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	if err := os.WriteFile(envFile, []byte("COUNSELLOR_DATABASE_PATH=/tmp/from-dotenv.db\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	// Registered so the variable is removed again after the test.
	t.Setenv("COUNSELLOR_DATABASE_PATH", "")
	os.Unsetenv("COUNSELLOR_DATABASE_PATH")

	t.Chdir(dir)

	v, err := Load("", envFile)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := v.GetString("database.path"); got != "/tmp/from-dotenv.db" {
		t.Errorf("database.path = %q, want value from .env", got)
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path, filepath.Join(dir, "missing.env")); err == nil {
		t.Fatal("expected error for malformed config")
	}
}

func TestDecode_Validation(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("server.port", 0)

	if _, err := Decode(v); err == nil {
		t.Error("expected error for port 0")
	}

	v.Set("server.port", 8080)
	v.Set("database.path", "")
	if _, err := Decode(v); err == nil {
		t.Error("expected error for empty database path")
	}

	v.Set("database.path", "counsellor.db")
	v.Set("server.trusted_proxies", []string{"10.0.0.0/33"})
	if _, err := Decode(v); err == nil {
		t.Error("expected error for invalid trusted proxy prefix")
	}
}

func TestServerConfig_TrustedProxyPrefixes(t *testing.T) {
	c := ServerConfig{TrustedProxies: []string{"10.0.0.0/8", " 192.168.1.7 ", "::ffff:172.16.0.1", "fd00::/8"}}
	got, err := c.TrustedProxyPrefixes()
	if err != nil {
		t.Fatalf("TrustedProxyPrefixes() error = %v", err)
	}
	want := []string{"10.0.0.0/8", "192.168.1.7/32", "172.16.0.1/32", "fd00::/8"}
	if len(got) != len(want) {
		t.Fatalf("got %d prefixes, want %d", len(got), len(want))
	}
	for i, p := range got {
		if p.String() != want[i] {
			t.Errorf("prefix[%d] = %s, want %s", i, p, want[i])
		}
	}

	bad := ServerConfig{TrustedProxies: []string{"proxy.internal"}}
	if _, err := bad.TrustedProxyPrefixes(); err == nil {
		t.Error("expected error for hostname entry")
	}
}

func TestServerConfig_Addr(t *testing.T) {
	c := ServerConfig{Host: "127.0.0.1", Port: 3001}
	if got := c.Addr(); got != "127.0.0.1:3001" {
		t.Errorf("Addr() = %q", got)
	}
}
