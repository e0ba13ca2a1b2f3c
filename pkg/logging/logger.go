// Package logging provides the bridge's diagnostic channel.
//
// All diagnostics (host warnings, script prints, stack traces) are written
// here, never to the protocol stream: the protocol stream carries exactly
// one JSON object per line and any stray output would corrupt it.
package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
)

// Logger is a structured logger for bridge components
type Logger struct {
	*slog.Logger
}

// New creates a structured JSON logger writing to stderr.
// Each process run is tagged with a fresh run id so interleaved host logs
// from multiple bridges can be told apart.
func New(level string) *Logger {
	return NewWithWriter(os.Stderr, level)
}

// NewWithWriter creates a logger writing to the given sink. Used by tests
// and by hosts that redirect diagnostics to a file.
func NewWithWriter(w io.Writer, level string) *Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}

	handler := slog.NewJSONHandler(w, opts)

	logger := slog.New(handler).With(
		slog.String("run_id", uuid.NewString()),
		slog.String("system", "scriptbridge"),
	)

	return &Logger{Logger: logger}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(io.Discard, nil))}
}

// WithComponent returns a logger scoped to a subsystem
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.Logger.With(slog.String("component", component)),
	}
}

// WithScript returns a logger scoped to the loaded script
func (l *Logger) WithScript(path string) *Logger {
	return &Logger{
		Logger: l.Logger.With(slog.String("script", path)),
	}
}

// ParseLevel maps a config level string to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
