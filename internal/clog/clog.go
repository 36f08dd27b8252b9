// Package clog provides conditional, structured logging for orchestrator
// components. It keeps the teacher's shape (a per-component prefixed
// logger with a global enable switch for verbose output) but backs it with
// a structured zap logger instead of the standard library one, so that
// callers can attach typed fields (worker_id, failure_code, attempt, ...)
// instead of formatting them into a string.
package clog

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu      sync.RWMutex
	enabled = false
	base    *zap.Logger
)

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}
	base = l
}

// Enable turns on conditional (Printf-level) log output. Errorf output is
// always emitted regardless of this switch, matching the teacher's clog.
func Enable() {
	mu.Lock()
	enabled = true
	mu.Unlock()
}

// SetBase replaces the underlying zap logger, e.g. to install a
// configured production/development logger built from internal/config.
func SetBase(l *zap.Logger) {
	mu.Lock()
	base = l
	mu.Unlock()
}

func isEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled
}

// CLogger is a component-scoped logger carrying a fixed set of fields
// (e.g. component role and id) applied to every message it emits.
type CLogger struct {
	sugar *zap.SugaredLogger
}

// New creates a conditional logger scoped to the given component name with
// the given structured fields attached to every subsequent call.
func New(component string, fields ...any) *CLogger {
	mu.RLock()
	l := base
	mu.RUnlock()
	return &CLogger{sugar: l.Sugar().With(append([]any{"component", component}, fields...)...)}
}

// With returns a derived logger with additional fields attached.
func (c *CLogger) With(fields ...any) *CLogger {
	return &CLogger{sugar: c.sugar.With(fields...)}
}

// Printf logs conditionally (only if Enable has been called), in the
// manner of the teacher's clog.Printf.
func (c *CLogger) Printf(format string, a ...any) {
	if !isEnabled() {
		return
	}
	c.sugar.Infof(format, a...)
}

// Errorf logs unconditionally, in the manner of the teacher's clog.Errorf.
func (c *CLogger) Errorf(format string, a ...any) {
	c.sugar.Errorf(format, a...)
}

// Warnf logs a warning unconditionally; used for non-fatal protocol
// surprises such as unhandled membership states or dropped frames.
func (c *CLogger) Warnf(format string, a ...any) {
	c.sugar.Warnf(format, a...)
}

// Sync flushes any buffered log entries. Call it once at process shutdown.
func Sync() {
	mu.RLock()
	l := base
	mu.RUnlock()
	_ = l.Sync()
}
