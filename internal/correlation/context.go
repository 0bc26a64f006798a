// Package correlation carries ambient request/trace identifiers through a
// request's lifetime as explicit context.Context values - from the HTTP
// middleware that first sees them, through the business transaction that
// enqueues an outbox event, into the worker that eventually dispatches it.
//
// Nothing here is a package-level mutable or goroutine-local: every value
// travels on the context it was attached to, so a worker processing an event
// enqueued by request A never sees request B's identifiers.
package correlation

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	traceParentKey
)

// unknownRequestID is returned by RequestID when no value has been attached
// to the context - it should only ever appear in logs for paths that bypass
// the request-id middleware (e.g. a test calling a handler directly).
const unknownRequestID = "unknown"

// NewRequestID generates a new opaque request identifier.
func NewRequestID() string {
	return uuid.NewString()
}

// WithRequestID returns a new context carrying the given request id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID extracts the request id from ctx, or "unknown" if none is set.
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v
	}

	return unknownRequestID
}

// HasRequestID reports whether ctx carries an explicit request id.
func HasRequestID(ctx context.Context) bool {
	v, ok := ctx.Value(requestIDKey).(string)

	return ok && v != ""
}

// WithTraceParent returns a new context carrying the given W3C traceparent
// header value (https://www.w3.org/TR/trace-context/).
func WithTraceParent(ctx context.Context, traceParent string) context.Context {
	return context.WithValue(ctx, traceParentKey, traceParent)
}

// TraceParent extracts the traceparent value from ctx, or "" if none is set.
func TraceParent(ctx context.Context) string {
	v, _ := ctx.Value(traceParentKey).(string)

	return v
}
