// Package logging builds the process-wide zap logger from configuration.
package logging

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"duelkit/config"
)

// New creates a configured zap.Logger. Format "json" uses the production
// encoder with ISO8601 timestamps, "text" uses the console encoder. Static
// attributes are attached to every entry.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zc zap.Config
	switch cfg.Format {
	case "text":
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		zc.Development = false
	case "json", "":
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	switch cfg.Output {
	case "stdout", "":
		zc.OutputPaths = []string{"stdout"}
	case "stderr":
		zc.OutputPaths = []string{"stderr"}
	default:
		return nil, fmt.Errorf("unknown log output %q", cfg.Output)
	}
	zc.ErrorOutputPaths = []string{"stderr"}

	logger, err := zc.Build()
	if err != nil {
		return nil, err
	}
	if fields := attributes(cfg.Attributes); len(fields) > 0 {
		logger = logger.With(fields...)
	}
	return logger, nil
}

// MustNew creates a logger and panics if initialization fails.
func MustNew(cfg config.LoggingConfig) *zap.Logger {
	logger, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return logger
}

// ParseLevel maps a config level name to a zap level. Empty means info.
func ParseLevel(level string) (zapcore.Level, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		return zapcore.InfoLevel, nil
	}
	var l zapcore.Level
	if err := l.Set(level); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return l, nil
}

// attributes are sorted so every entry carries them in a stable order.
func attributes(attrs map[string]string) []zap.Field {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, zap.String(k, attrs[k]))
	}
	return fields
}
