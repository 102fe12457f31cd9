package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/HerbHall/counsellor/internal/llm"
	"github.com/spf13/viper"
)

// Config is the typed view of every setting.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Auth      AuthConfig      `mapstructure:"auth"`
	CSRF      CSRFConfig      `mapstructure:"csrf"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	LLM       llm.Config      `mapstructure:"llm"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	DevMode         bool          `mapstructure:"dev_mode"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// TrustedProxies lists the IPs and CIDRs whose X-Forwarded-For header
	// is believed. Empty means clients are keyed by their socket address.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// Addr returns the listen address as host:port.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address becomes a
// single-host prefix.
func (c ServerConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, entry := range c.TrustedProxies {
		entry = strings.TrimSpace(entry)
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid server.trusted_proxies entry %q: %w", entry, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid server.trusted_proxies entry %q: %w", entry, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// DatabaseConfig locates the SQLite file.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig selects the log level, encoding and destination. Output is
// a zap sink: "stderr", "stdout" or a file path.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// AuthConfig holds token and lockout settings.
type AuthConfig struct {
	JWTSecret       string        `mapstructure:"jwt_secret"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
	MaxFailedLogins int           `mapstructure:"max_failed_logins"`
	LockoutDuration time.Duration `mapstructure:"lockout_duration"`
}

// CSRFConfig holds the double-submit cookie settings.
type CSRFConfig struct {
	Secret     string `mapstructure:"secret"`
	CookieName string `mapstructure:"cookie_name"`
	Secure     bool   `mapstructure:"secure"`
}

// RateLimitConfig holds the per-IP token bucket settings.
type RateLimitConfig struct {
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
	AIRPS   float64 `mapstructure:"ai_rps"`
	AIBurst int     `mapstructure:"ai_burst"`
}

// Decode unmarshals v into a Config. Unmarshal goes through every known key,
// so environment overrides are applied.
func Decode(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return nil, fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if _, err := c.Server.TrustedProxyPrefixes(); err != nil {
		return nil, err
	}
	if c.Database.Path == "" {
		return nil, fmt.Errorf("database.path is required")
	}
	return &c, nil
}
