// Package log builds the logr.Logger used across the module, backed by zap.
package log

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a development-style logger with ISO8601 timestamps. verbosity
// maps to logr V-levels: 0 shows Info and Error only, 5 includes the
// coordinator's per-task debug output.
func New(verbosity int) logr.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(zapcore.Level(-verbosity))

	zapLog, err := cfg.Build()
	if err != nil {
		return logr.Discard()
	}
	return zapr.NewLogger(zapLog)
}
