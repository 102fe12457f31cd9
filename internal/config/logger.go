package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger from the logging.* keys of v.
func NewLogger(v *viper.Viper) (*zap.Logger, error) {
	return BuildLogger(LoggingConfig{
		Level:  v.GetString("logging.level"),
		Format: v.GetString("logging.format"),
		Output: v.GetString("logging.output"),
	})
}

// BuildLogger returns a zap logger for cfg. Empty fields fall back to info
// level, JSON encoding and stderr. Every entry carries service=counsellor.
func BuildLogger(cfg LoggingConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}

	var zc zap.Config
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "ts"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	case "console":
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("invalid log format %q: want json or console", cfg.Format)
	}

	zc.Level = zap.NewAtomicLevelAt(level)
	// Stack traces only on panics; error logs already carry the cause.
	zc.DisableStacktrace = true
	if cfg.Output != "" {
		zc.OutputPaths = []string{cfg.Output}
	}

	return zc.Build(zap.Fields(zap.String("service", "counsellor")))
}
