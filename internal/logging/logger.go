// Package logging builds the process-wide zap logger. Binaries build it
// once in main and pass it down; library packages take a *zap.Logger
// explicitly and never log through globals.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls logger construction.
type Config struct {
	Level       string // debug | info | warn | error; defaults to info
	Encoding    string // json | console; defaults to json
	Development bool
}

// NewLogger creates a zap.Logger from the config.
func NewLogger(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
	}

	encoding := cfg.Encoding
	if encoding == "" {
		encoding = "json"
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	encoderConfig.TimeKey = "ts"
	if encoding == "console" {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zapCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Development,
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		InitialFields:    map[string]interface{}{"service": "backtest-lab"},
	}

	logger, err := zapCfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	return logger, nil
}
