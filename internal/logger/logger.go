// Package logger provides leveled logging for sercha-kb.
// Debug and Info output is gated by verbose mode (the --verbose flag);
// warnings and errors are always written. Records are emitted through a
// log/slog text handler so stage logs carry structured key/value pairs.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

var (
	mu      sync.RWMutex
	verbose bool
	output  io.Writer = os.Stderr
	base    *slog.Logger
)

func init() {
	base = newLogger(output)
}

// newLogger builds a text logger without timestamps so output stays stable
// in terminals and tests.
func newLogger(w io.Writer) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	})
	return slog.New(handler)
}

// SetVerbose enables or disables verbose logging.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
}

// IsVerbose returns true if verbose mode is enabled.
func IsVerbose() bool {
	mu.RLock()
	defer mu.RUnlock()
	return verbose
}

// SetOutput sets the output writer for logs.
// Defaults to os.Stderr. Useful for testing.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
	base = newLogger(w)
}

// Slog returns the underlying structured logger.
func Slog() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

func emit(level slog.Level, gated bool, format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	if gated && !verbose {
		return
	}
	base.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

// Debug logs a message if verbose mode is enabled.
func Debug(format string, args ...any) {
	emit(slog.LevelDebug, true, format, args...)
}

// Info logs an informational message if verbose mode is enabled.
func Info(format string, args ...any) {
	emit(slog.LevelInfo, true, format, args...)
}

// Warn logs a warning. Warnings are always written.
func Warn(format string, args ...any) {
	emit(slog.LevelWarn, false, format, args...)
}

// Error logs an error. Errors are always written.
func Error(format string, args ...any) {
	emit(slog.LevelError, false, format, args...)
}

// Section logs a stage header if verbose mode is enabled.
func Section(name string) {
	mu.RLock()
	defer mu.RUnlock()
	if verbose {
		base.Debug("=== "+name+" ===", slog.String("section", name))
	}
}

// With returns a structured logger carrying the given attributes.
// Its records ignore the verbose gate.
func With(args ...any) *slog.Logger {
	return Slog().With(args...)
}
