// Package logging configures the node's structured logger. It wraps
// go.uber.org/zap rather than hand-rolling a formatter: every subsystem
// takes a *zap.Logger (or the sugared variant) constructed here.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// New builds a production-shaped zap.Logger at the given level/format.
// level accepts the usual zap level names (debug, info, warn, error).
func New(level string, format Format) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if err := lvl.Set(level); err == nil {
		// lvl mutated in place by Set.
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	if format == FormatText {
		cfg.Encoding = "console"
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	return cfg.Build()
}

// Default returns a best-effort development logger for use before a
// configured logger is available (e.g. while parsing config itself).
func Default() *zap.Logger {
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// WithFields mirrors a WithField/WithFields chaining shape,
// mapped onto zap.Logger.With.
func WithFields(l *zap.Logger, fields map[string]interface{}) *zap.Logger {
	zf := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	return l.With(zf...)
}
