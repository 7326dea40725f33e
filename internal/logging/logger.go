package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const serviceName = "codecollab-api"

// ParseLevel maps a configured level name onto a zap level. Unknown or empty
// names fall back to info.
func ParseLevel(level string) zapcore.Level {
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "warning" {
		normalized = "warn"
	}
	parsed, err := zapcore.ParseLevel(normalized)
	if err != nil || normalized == "" {
		return zapcore.InfoLevel
	}
	switch parsed {
	case zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel:
		return parsed
	default:
		return zapcore.InfoLevel
	}
}

// NewLogger returns a zap logger configured for structured production logging.
// Sampling is off so per-frame debug entries from the hub are not collapsed.
func NewLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(ParseLevel(level))
	cfg.Sampling = nil
	cfg.InitialFields = map[string]interface{}{"service": serviceName}

	return cfg.Build()
}
