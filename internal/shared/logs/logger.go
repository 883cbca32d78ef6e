package logs

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu     sync.RWMutex
	out    io.Writer = os.Stdout
	level            = new(slog.LevelVar)
	loaded sync.Once
)

// Logger returns a structured JSON logger. The level comes from LOG_LEVEL
// unless EnableDebug or SetLevel changed it.
func Logger() *slog.Logger {
	loaded.Do(func() {
		level.Set(parseLogLevel(os.Getenv("LOG_LEVEL")))
	})
	mu.RLock()
	w := out
	mu.RUnlock()
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

func parseLogLevel(v string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// EnableDebug forces debug output regardless of LOG_LEVEL.
func EnableDebug() {
	SetLevel(slog.LevelDebug)
}

// SetLevel overrides the process wide log level.
func SetLevel(l slog.Level) {
	loaded.Do(func() {})
	level.Set(l)
}

// SetOutput redirects log output, mostly for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	out = w
	mu.Unlock()
}

// Convenience helpers for functions to log without wiring a logger.

// Debug logs a debug message with optional key/value pairs.
func Debug(msg string, kv ...any) {
	Logger().Debug(msg, kv...)
}

// Info logs an info message with optional key/value pairs.
func Info(msg string, kv ...any) {
	Logger().Info(msg, kv...)
}

// Warn logs a warning message with optional key/value pairs.
func Warn(msg string, kv ...any) {
	Logger().Warn(msg, kv...)
}

// Error logs an error message with optional key/value pairs.
func Error(msg string, kv ...any) {
	Logger().Error(msg, kv...)
}

// Component returns a logger pre-tagged with a component field.
func Component(name string) *slog.Logger {
	return Logger().With(slog.String("component", name))
}
