package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// MetricsRecorder defines the interface for recording HTTP metrics.
type MetricsRecorder interface {
	RecordHTTPRequest(method, path, status string, duration time.Duration)
	IncActiveConnections()
	DecActiveConnections()
}

// contextMetricsRecorder is implemented by recorders that correlate
// observations with the active trace.
type contextMetricsRecorder interface {
	RecordHTTPRequestContext(ctx context.Context, method, path, status string, duration time.Duration)
}

func record(recorder MetricsRecorder, r *http.Request, status int, duration time.Duration) {
	path := metricsPath(r)
	code := strconv.Itoa(status)
	if cr, ok := recorder.(contextMetricsRecorder); ok {
		cr.RecordHTTPRequestContext(r.Context(), r.Method, path, code, duration)
		return
	}
	recorder.RecordHTTPRequest(r.Method, path, code, duration)
}

// metricsPath prefers the matched chi route so session ids do not become
// label values.
func metricsPath(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return normalizePath(r.URL.Path)
}

// Metrics returns a middleware that records HTTP metrics.
func Metrics(recorder MetricsRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip metrics endpoint to avoid recursion
			if strings.HasPrefix(r.URL.Path, "/metrics") {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			recorder.IncActiveConnections()
			defer recorder.DecActiveConnections()

			// Wrap response writer to capture status code
			wrapped := &statusWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			// Handle panics to ensure metrics are recorded
			defer func() {
				if err := recover(); err != nil {
					record(recorder, r, http.StatusInternalServerError, time.Since(start))
					panic(err) // Re-panic after recording
				}
			}()

			next.ServeHTTP(wrapped, r)

			record(recorder, r, wrapped.statusCode, time.Since(start))
		})
	}
}

// normalizePath normalizes URL paths to reduce cardinality.
// Replaces UUIDs and numeric IDs with placeholders.
func normalizePath(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		// Replace UUIDs (8-4-4-4-12 format)
		if len(part) == 36 && strings.Count(part, "-") == 4 {
			parts[i] = ":id"
			continue
		}
		// Replace numeric IDs
		if _, err := strconv.Atoi(part); err == nil && len(part) > 0 {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}
