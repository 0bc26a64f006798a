// Package middleware provides HTTP middleware components for the qhse-outbox API.
package middleware

import (
	"context"
	"net/http"

	"github.com/qhse-systems/qhse-outbox/internal/correlation"
)

// DefaultRequestIDHeader is used when no header name is configured.
const DefaultRequestIDHeader = "X-Request-Id"

// RequestID creates a middleware that attaches a request id to every request's
// context and always echoes it back on the response, generating a new one
// when the incoming request doesn't carry one. headerName defaults to
// DefaultRequestIDHeader when empty.
func RequestID(headerName string) func(http.Handler) http.Handler {
	if headerName == "" {
		headerName = DefaultRequestIDHeader
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(headerName)
			if requestID == "" {
				requestID = correlation.NewRequestID()
			}

			w.Header().Set(headerName, requestID)

			ctx := correlation.WithRequestID(r.Context(), requestID)

			if tp := r.Header.Get("traceparent"); tp != "" {
				ctx = correlation.WithTraceParent(ctx, tp)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetCorrelationID extracts the request id from the request context for use
// in logging and error responses.
func GetCorrelationID(ctx context.Context) string {
	return correlation.RequestID(ctx)
}
