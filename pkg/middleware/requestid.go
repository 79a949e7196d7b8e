package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/platinummonkey/portal/pkg/observability"
)

// RequestIDHeader carries the request id in both directions
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLength = 128

// RequestID assigns every request an id (the caller's X-Request-ID when it is
// sane, a fresh UUID otherwise), echoes it in the response and attaches a
// request-scoped logger to the context.
func RequestID(logger *observability.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" || len(id) > maxRequestIDLength {
				id = uuid.NewString()
			}

			ctx := observability.WithRequestID(r.Context(), id)
			ctx = observability.WithLogger(ctx, observability.LoggerWithTrace(ctx, logger))
			w.Header().Set(RequestIDHeader, id)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
