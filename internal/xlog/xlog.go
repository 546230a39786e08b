// Package xlog centralizes zap logger construction so every package in
// this module gets the same field conventions (component name, dataset
// path) instead of rolling its own.
package xlog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production zap logger writing JSON to stderr at the given
// level. Pass "debug", "info", "warn" or "error"; unrecognized levels
// fall back to "info".
func New(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		// Build only fails on a malformed config; ours is static.
		panic(err)
	}
	return logger
}

// Nop returns a logger that discards everything, for tests and library
// callers that haven't configured logging.
func Nop() *zap.Logger {
	return zap.NewNop()
}

func parseLevel(level string) zapcore.Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel
	}
	return l
}

// Component returns a child logger tagged with a "component" field so
// log lines can be filtered by subsystem.
func Component(base *zap.Logger, name string) *zap.Logger {
	if base == nil {
		base = Nop()
	}
	return base.With(zap.String("component", name))
}
