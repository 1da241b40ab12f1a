package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// contextKey is a private type for the values this package stores in contexts
type contextKey string

const (
	loggerKey    contextKey = "logger"
	requestIDKey contextKey = "request_id"
	batchIDKey   contextKey = "batch_id"
	entityIDKey  contextKey = "entity_id"
)

// WithContext attaches the logger to the context
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the logger from the context, or a no-op logger when
// none was attached
func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return logger
	}
	return zap.NewNop()
}

// WithRequestID stores the request id and returns a logger carrying it
func WithRequestID(ctx context.Context, logger *zap.Logger, requestID string) (context.Context, *zap.Logger) {
	ctx = context.WithValue(ctx, requestIDKey, requestID)
	enriched := logger.With(zap.String("request_id", requestID))
	return WithContext(ctx, enriched), enriched
}

// WithBatchID stores the batch id so downstream logs (including gorm's query
// trace) can be correlated with the batch run
func WithBatchID(ctx context.Context, logger *zap.Logger, batchID string) (context.Context, *zap.Logger) {
	ctx = context.WithValue(ctx, batchIDKey, batchID)
	enriched := logger.With(zap.String("batch_id", batchID))
	return WithContext(ctx, enriched), enriched
}

// WithEntityID stores the catalog entity id being processed
func WithEntityID(ctx context.Context, logger *zap.Logger, entityID string) (context.Context, *zap.Logger) {
	ctx = context.WithValue(ctx, entityIDKey, entityID)
	enriched := logger.With(zap.String("entity_id", entityID))
	return WithContext(ctx, enriched), enriched
}

// GetRequestID returns the request id from the context, or ""
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// GetBatchID returns the batch id from the context, or ""
func GetBatchID(ctx context.Context) string {
	v, _ := ctx.Value(batchIDKey).(string)
	return v
}

// GetEntityID returns the entity id from the context, or ""
func GetEntityID(ctx context.Context) string {
	v, _ := ctx.Value(entityIDKey).(string)
	return v
}

// WithTraceContext enriches the logger with trace_id and span_id from the
// active OpenTelemetry span, when there is one
func WithTraceContext(ctx context.Context, logger *zap.Logger) *zap.Logger {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.IsValid() {
		return logger
	}
	return logger.With(
		zap.String("trace_id", spanCtx.TraceID().String()),
		zap.String("span_id", spanCtx.SpanID().String()),
	)
}
