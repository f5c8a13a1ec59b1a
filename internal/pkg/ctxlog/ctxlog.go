// Package ctxlog carries a request- or loop-scoped *slog.Logger in a context.
package ctxlog

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

// FromContext returns the logger stored in ctx, or slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// With derives a logger carrying args and stores it in the returned context.
func With(ctx context.Context, args ...any) context.Context {
	return WithLogger(ctx, FromContext(ctx).With(args...))
}

// WithUser tags the context logger with the authenticated user.
func WithUser(ctx context.Context, uid string) context.Context {
	if uid == "" {
		return ctx
	}
	return With(ctx, "user_id", uid)
}

// WithChannel tags the context logger with a Telegram channel.
func WithChannel(ctx context.Context, channelID string) context.Context {
	return With(ctx, "channel_id", channelID)
}
