// Package logging provides the package-level structured logger used
// across this repository, matching the call-site idiom the reference
// corpus's services use (logger.Infow("message", "key", value, ...))
// while swapping the underlying implementation for go.uber.org/zap's
// SugaredLogger, since the corpus's own private logging package is
// not something this module can depend on.
package logging

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu  sync.RWMutex
	log *zap.SugaredLogger
)

func init() {
	log = mustBuild(false)
}

// Init (re)configures the global logger. Pass development=true for
// human-readable console output during local runs and tests;
// development=false (the default, also used by init) selects
// structured JSON suitable for production log sinks.
func Init(development bool) {
	mu.Lock()
	defer mu.Unlock()
	log = mustBuild(development)
}

func mustBuild(development bool) *zap.SugaredLogger {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Logging must never be fatal to the process; fall back to
		// zap's example logger (JSON to stdout) rather than panicking
		// on a bad config.
		fallback := zap.NewExample().Sugar()
		fallback.Warnw("logging: falling back to example logger", "error", err)
		return fallback
	}
	_ = os.Stderr
	return l.Sugar()
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// Debugw logs at debug level with structured key/value pairs.
func Debugw(msg string, kv ...any) { current().Debugw(msg, kv...) }

// Infow logs at info level with structured key/value pairs.
func Infow(msg string, kv ...any) { current().Infow(msg, kv...) }

// Warnw logs at warn level with structured key/value pairs.
func Warnw(msg string, kv ...any) { current().Warnw(msg, kv...) }

// Errorw logs at error level with structured key/value pairs.
func Errorw(msg string, kv ...any) { current().Errorw(msg, kv...) }

// Sync flushes any buffered log entries; call before process exit.
func Sync() error { return current().Sync() }

// With returns a derived logger with the given structured context
// preattached, for call sites that log the same fields repeatedly
// (e.g. a node's own id and address).
func With(kv ...any) *zap.SugaredLogger { return current().With(kv...) }
