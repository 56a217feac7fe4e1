package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/mindwell/convomem/pkg/api/response"
	"github.com/mindwell/convomem/pkg/logger"
)

// Recovery returns a middleware that recovers from panics.
func Recovery(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					// Log the panic with stack trace
					stack := debug.Stack()
					log.ErrorContext(r.Context(), "Panic recovered",
						"error", err,
						"path", r.URL.Path,
						"method", r.Method,
						"stack", string(stack),
					)

					// Get request ID from context if available
					requestID := GetRequestID(r.Context())
					if requestID == "" {
						requestID = r.Header.Get(RequestIDHeader)
					}
					if requestID == "" {
						requestID = "unknown"
					}

					// Return 500 error
					response.Error(w,
						http.StatusInternalServerError,
						response.ErrCodeInternalServer,
						"Internal server error",
						requestID,
					)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
