package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewFromEnv construye el zap logger del proceso:
// - LOG_LEVEL=debug|info|warn|error (default info)
// - APP_NAME opcional, se agrega como campo fijo
func NewFromEnv() *zap.Logger {
	cfg := zap.NewProductionConfig()

	if raw := strings.TrimSpace(os.Getenv("LOG_LEVEL")); raw != "" {
		if lvl, err := zapcore.ParseLevel(raw); err == nil {
			cfg.Level = zap.NewAtomicLevelAt(lvl)
		}
	}

	log, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}

	if app := strings.TrimSpace(os.Getenv("APP_NAME")); app != "" {
		log = log.With(zap.String("app", app))
	}
	return log
}
