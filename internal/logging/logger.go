// Package logging wraps slog with correlation-id propagation.
package logging

import (
	"context"
	"log/slog"
	"os"

	"github.com/ira-chat/tier-router/internal/config"
)

type correlationIDKey struct{}

// Logger wraps slog.Logger with correlation-id support.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new logger with the specified configuration.
func NewLogger(cfg config.LoggingConfig) *Logger {
	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Level),
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return &Logger{Logger: slog.New(handler)}
}

// WithCorrelationID stores a correlation id on the context for later
// retrieval by logging calls and downstream handlers.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, correlationID)
}

// CorrelationIDFromContext retrieves the correlation id from the context.
func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(correlationIDKey{}).(string)
	return id, ok
}

func (l *Logger) withCorrelationID(ctx context.Context, args []any) []any {
	if id, ok := CorrelationIDFromContext(ctx); ok {
		return append([]any{"correlation_id", id}, args...)
	}
	return args
}

// InfoContext logs an info message, attaching the correlation id if present.
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.Logger.InfoContext(ctx, msg, l.withCorrelationID(ctx, args)...)
}

// ErrorContext logs an error message, attaching the correlation id if present.
func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.Logger.ErrorContext(ctx, msg, l.withCorrelationID(ctx, args)...)
}

// DebugContext logs a debug message, attaching the correlation id if present.
func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.Logger.DebugContext(ctx, msg, l.withCorrelationID(ctx, args)...)
}

// WarnContext logs a warning message, attaching the correlation id if present.
func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.Logger.WarnContext(ctx, msg, l.withCorrelationID(ctx, args)...)
}

// WithPool returns a logger with pool name attached.
func (l *Logger) WithPool(pool string) *Logger {
	return &Logger{Logger: l.Logger.With("pool", pool)}
}

// WithComponent returns a logger with a component name attached.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.Logger.With("component", component)}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
