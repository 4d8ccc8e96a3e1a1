package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type contextKey string

const (
	loggerContextKey contextKey = "github.com/hanko-field/orders/internal/platform/requestctx/logger"
	traceContextKey  contextKey = "github.com/hanko-field/orders/internal/platform/requestctx/trace"
	orderContextKey  contextKey = "github.com/hanko-field/orders/internal/platform/requestctx/order"
)

var noopLogger = zap.NewNop()

// TraceInfo captures trace metadata propagated through request context.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// WithLogger stores the logger in context for downstream consumers.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ctx, loggerContextKey, logger)
}

// Logger retrieves the zap logger from context or returns a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return noopLogger
	}
	if logger, ok := ctx.Value(loggerContextKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// NoopLogger exposes the shared noop logger instance used across the package.
func NoopLogger() *zap.Logger { return noopLogger }

// WithTrace stores the trace metadata on the context for downstream usage.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceContextKey, info)
}

// Trace retrieves the trace metadata from context when available.
func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceContextKey).(TraceInfo)
	return info, ok
}

// TraceID extracts the trace identifier from context when present.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// WithOrderID records the order a request operates on so request logs can carry it.
// The returned context shares a mutable slot with ctx, letting handlers deeper in the chain
// fill in the ID after routing.
func WithOrderID(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Value(orderContextKey).(*string); ok {
		return ctx
	}
	return context.WithValue(ctx, orderContextKey, new(string))
}

// SetOrderID fills the slot created by WithOrderID. It is a no-op without one.
func SetOrderID(ctx context.Context, orderID string) {
	if ctx == nil {
		return
	}
	if slot, ok := ctx.Value(orderContextKey).(*string); ok {
		*slot = orderID
	}
}

// OrderID returns the order recorded on the context.
func OrderID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if slot, ok := ctx.Value(orderContextKey).(*string); ok {
		return *slot
	}
	return ""
}
