// Package logger provides the package-level structured logging calls used
// throughout the gateway core. Configuring where logs go (file, stdout,
// log level from the environment, sampling, ...) is an application-level
// concern and out of scope for this package; callers that want a different
// sink can call SetLogger with their own *zap.SugaredLogger.
package logger

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var singleton atomic.Pointer[zap.SugaredLogger]

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}
	singleton.Store(l.Sugar())
}

// SetLogger replaces the package-level logger. Intended for applications
// wiring the gateway core into their own logging setup, and for tests.
func SetLogger(l *zap.SugaredLogger) {
	if l == nil {
		return
	}
	singleton.Store(l)
}

func current() *zap.SugaredLogger {
	return singleton.Load()
}

// Debugf logs a formatted debug-level message.
func Debugf(format string, args ...any) {
	current().Debugf(format, args...)
}

// Infof logs a formatted info-level message.
func Infof(format string, args ...any) {
	current().Infof(format, args...)
}

// Warnf logs a formatted warning-level message.
func Warnf(format string, args ...any) {
	current().Warnf(format, args...)
}

// Errorf logs a formatted error-level message.
func Errorf(format string, args ...any) {
	current().Errorf(format, args...)
}

// With returns a child logger with the given structured fields attached,
// for call sites that log more than once with shared context (e.g. a
// request's username or issuer).
func With(args ...any) *zap.SugaredLogger {
	return current().With(args...)
}
