// Package ctxlog carries the build's slog.Logger through context.Context so
// every phase of a kernel build logs to the same, per-invocation sink.
package ctxlog

import (
	"context"
	"io"
	"log/slog"
)

type key struct{}

var loggerKey = key{}

// WithLogger returns a copy of ctx that carries logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// With tags the logger carried by ctx with args and returns both the derived
// context and the tagged logger. Everything logged further down the call
// chain carries the same attributes.
func With(ctx context.Context, args ...any) (context.Context, *slog.Logger) {
	logger := FromContext(ctx).With(args...)
	return WithLogger(ctx, logger), logger
}

// FromContext extracts the logger stored by WithLogger. Library callers that
// never installed one get a logger that drops everything, so the builder can
// be used from code that does not care about kernelbake's logs.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return discard
}

var discard = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
