// Package logging provides structured logging for the client core
package logging

import (
	"context"
	"log/slog"
	"os"
)

type contextKey string

const (
	purchaseIDKey contextKey = "purchase_id"
	loggerKey     contextKey = "logger"
)

// New creates a new structured logger
func New(level string, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// WithPurchaseID tags the context with the purchase being processed,
// so every log line of one buy flow can be correlated.
func WithPurchaseID(ctx context.Context, purchaseID string) context.Context {
	return context.WithValue(ctx, purchaseIDKey, purchaseID)
}

// PurchaseID extracts the purchase ID from context
func PurchaseID(ctx context.Context) string {
	if id, ok := ctx.Value(purchaseIDKey).(string); ok {
		return id
	}
	return ""
}

// WithLogger adds a logger to the context
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext extracts the logger from context, or returns the default
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// L is a convenience function to get a logger with purchase context
func L(ctx context.Context) *slog.Logger {
	logger := FromContext(ctx)
	if id := PurchaseID(ctx); id != "" {
		return logger.With("purchase_id", id)
	}
	return logger
}
