// Package diag provides the minimal stderr diagnostics used across the
// stream transform: debug traces gated by a flag, warnings always on.
package diag

import (
	"fmt"
	"os"
	"sync"
)

// Logger writes single-line diagnostics to stderr. The zero value is a
// usable logger with debug disabled.
type Logger struct {
	mu    sync.Mutex
	debug bool
}

// New creates a logger. When debug is false, Debugf calls are dropped.
func New(debug bool) *Logger {
	return &Logger{debug: debug}
}

// Debugf prints a trace line when debug output is enabled.
func (l *Logger) Debugf(format string, args ...any) {
	if l == nil || !l.debug {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(os.Stderr, "patchnar: "+format+"\n", args...)
}

// Warnf prints a warning line unconditionally.
func (l *Logger) Warnf(format string, args ...any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(os.Stderr, "patchnar: warning: "+format+"\n", args...)
}

// Enabled reports whether debug output is on.
func (l *Logger) Enabled() bool {
	return l != nil && l.debug
}
