package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/greenroomhq/greenroom/pkg/observability"
)

// RequestIDHeader carries the request ID in and out of the service.
const RequestIDHeader = "X-Request-ID"

// RequestID attaches a request ID to every request, honoring one
// supplied by the caller and minting one otherwise. The ID is echoed on
// the response and carried in the request context for logging and
// audit.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)
		ctx := observability.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
