// Package logger builds the process logger from the log config.
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options select the logger mode and level.
type Options struct {
	Level       string // debug, info, warn, error; empty keeps the mode default
	Development bool
	Version     string // attached to every production entry when set
}

// New creates a zap logger. Development mode writes colored console
// output; production writes JSON to stderr.
func New(opts Options) (*zap.Logger, error) {
	var cfg zap.Config

	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		if opts.Version != "" {
			cfg.InitialFields = map[string]any{"version": opts.Version}
		}
	}

	if opts.Level != "" {
		lvl, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	return cfg.Build()
}
