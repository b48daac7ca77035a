// Package tracing carries a per-request trace ID through contexts and log
// lines, so one HTTP call can be followed across the gateway, the store,
// and the audit trail.
package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const traceIDKey contextKey = "trace_id"

// Header is the HTTP header trace IDs propagate through
const Header = "X-Trace-Id"

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID retrieves the trace ID from the context, empty if absent
func TraceID(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return ""
}

// LoggerFromContext returns base enriched with the context's trace ID
func LoggerFromContext(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	if id := TraceID(ctx); id != "" {
		return base.With().Str("trace_id", id).Logger()
	}
	return base
}
