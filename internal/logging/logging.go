// Package logging wraps a zap.SugaredLogger behind the Printf/Verbosef
// call sites the rest of this tree uses, matching the logging idiom of
// the federation node this module is part of.
package logging

import (
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu      sync.Mutex
	sugar   *zap.SugaredLogger
	verbose atomic.Bool
)

func init() {
	sugar = build(zapcore.InfoLevel)
}

func build(level zapcore.Level) *zap.SugaredLogger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.AddSync(os.Stderr), level)
	return zap.New(core).Sugar()
}

// SetLevel adjusts the minimum emitted level. Accepts "debug", "info",
// "warn", "error"; anything else falls back to "info".
func SetLevel(level string) {
	mu.Lock()
	defer mu.Unlock()
	var l zapcore.Level
	switch level {
	case "debug":
		l = zapcore.DebugLevel
	case "warn":
		l = zapcore.WarnLevel
	case "error":
		l = zapcore.ErrorLevel
	default:
		l = zapcore.InfoLevel
	}
	verbose.Store(l <= zapcore.DebugLevel)
	sugar = build(l)
}

// Printf logs at info level, matching the teacher's unconditional
// progress-trace call sites.
func Printf(format string, args ...any) {
	mu.Lock()
	l := sugar
	mu.Unlock()
	l.Infof(format, args...)
}

// Verbosef logs at debug level; call sites that would otherwise be noisy
// on every request use this instead of Printf.
func Verbosef(format string, args ...any) {
	mu.Lock()
	l := sugar
	mu.Unlock()
	l.Debugf(format, args...)
}

// Debugf is an alias kept distinct from Verbosef for call sites that are
// explicitly about a decision point rather than a high-frequency trace.
func Debugf(format string, args ...any) {
	Verbosef(format, args...)
}

// Warnf records a recoverable anomaly: a peer misbehaving, an RPC retry,
// a signature rejected. These never abort the caller.
func Warnf(format string, args ...any) {
	mu.Lock()
	l := sugar
	mu.Unlock()
	l.Warnf(format, args...)
}

// Errorf records a handled failure that the caller is about to surface
// to the framework (a rejected transaction), not a crash.
func Errorf(format string, args ...any) {
	mu.Lock()
	l := sugar
	mu.Unlock()
	l.Errorf(format, args...)
}
