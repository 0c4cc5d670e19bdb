// Package logging wraps log/slog with resolver-specific conveniences: a
// package-level global logger, structured-field helpers, and config-driven
// handler/output selection. Adapted from the teacher's pkg/logging.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/foxhound-dns/resolver/internal/config"
)

// Logger wraps slog.Logger with the resolver's configuration attached.
type Logger struct {
	*slog.Logger
	cfg *config.LoggingConfig
}

// New creates a Logger from configuration.
func New(cfg *config.LoggingConfig) (*Logger, error) {
	var output io.Writer
	switch cfg.Output {
	case "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	case "file":
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, err
		}
		output = f
	default:
		output = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return &Logger{Logger: slog.New(handler), cfg: cfg}, nil
}

// NewDefault returns a logger with sensible defaults: info level, text
// format, stdout.
func NewDefault() *Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	return &Logger{
		Logger: slog.New(handler),
		cfg:    &config.LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
	}
}

// WithContext returns a logger scoped to ctx; reserved for future
// request-scoped fields (trace id, client ip) pulled out of the context.
func (l *Logger) WithContext(_ context.Context) *Logger {
	return &Logger{Logger: l.Logger.With(), cfg: l.cfg}
}

// WithFields returns a logger with additional structured fields attached.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{Logger: l.Logger.With(args...), cfg: l.cfg}
}

func parseLevel(level string) slog.Level {
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

var global = NewDefault()

// SetGlobal replaces the package-level logger used by the convenience
// functions below, and makes it slog's default.
func SetGlobal(logger *Logger) {
	global = logger
	slog.SetDefault(logger.Logger)
}

// Global returns the current package-level logger.
func Global() *Logger { return global }

func Debug(msg string, args ...any) { global.Debug(msg, args...) }
func Info(msg string, args ...any)  { global.Info(msg, args...) }
func Warn(msg string, args ...any)  { global.Warn(msg, args...) }
func Error(msg string, args ...any) { global.Error(msg, args...) }
