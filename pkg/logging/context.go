package logging

import (
	"context"

	"github.com/rs/zerolog"
)

// Request-scoped loggers travel under zerolog's own context key, so
// FromContext and zerolog.Ctx always agree.

type requestIDKey struct{}

// WithLogger returns ctx carrying logger, or the default logger when nil.
func WithLogger(ctx context.Context, logger *zerolog.Logger) context.Context {
	if logger == nil {
		logger = Default()
	}
	return logger.WithContext(ctx)
}

// FromContext returns the logger in ctx, or the default logger.
func FromContext(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		return Default()
	}
	return zerolog.Ctx(ctx)
}

// WithRequestID records the request id in ctx and tags the context logger
// with it.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	ctx = context.WithValue(ctx, requestIDKey{}, requestID)
	return with(ctx, func(c zerolog.Context) zerolog.Context {
		return c.Str("request_id", requestID)
	})
}

// RequestID returns the request id stored by WithRequestID.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// WithServer tags the context logger with a Discord server (guild) id.
func WithServer(ctx context.Context, serverID string) context.Context {
	return with(ctx, func(c zerolog.Context) zerolog.Context {
		return c.Str("server_id", serverID)
	})
}

// WithUser tags the context logger with a player id.
func WithUser(ctx context.Context, userID string) context.Context {
	return with(ctx, func(c zerolog.Context) zerolog.Context {
		return c.Str("user_id", userID)
	})
}

// WithOperation tags the context logger with the operation being run.
func WithOperation(ctx context.Context, operation string) context.Context {
	return with(ctx, func(c zerolog.Context) zerolog.Context {
		return c.Str("operation", operation)
	})
}

// WithError tags the context logger with err. A nil err leaves ctx as is.
func WithError(ctx context.Context, err error) context.Context {
	if err == nil {
		return ctx
	}
	return with(ctx, func(c zerolog.Context) zerolog.Context {
		return c.Err(err)
	})
}

func with(ctx context.Context, fn func(zerolog.Context) zerolog.Context) context.Context {
	l := fn(FromContext(ctx).With()).Logger()
	return l.WithContext(ctx)
}
