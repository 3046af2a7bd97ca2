package logger

import (
	"context"

	"go.uber.org/zap"
)

// loggerKey keys the request-scoped logger; an unexported struct type cannot
// collide with other packages' context values.
type loggerKey struct{}

// ContextWithLogger returns a child context carrying logger, typically one
// pre-tagged with the request id by the HTTP middleware.
func ContextWithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the logger carried by ctx. Code paths reached outside a
// request (startup, background sweeps) get a no-op logger rather than a nil.
func FromContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok {
		return l
	}
	return zap.NewNop()
}
