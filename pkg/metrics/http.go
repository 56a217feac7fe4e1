package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

// initHTTPMetrics initializes HTTP API metrics.
func (m *Manager) initHTTPMetrics(cfg Config) {
	m.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	m.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: cfg.HTTPDurationBuckets,
		},
		[]string{"method", "path"},
	)

	m.httpConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_active_connections",
			Help: "Current number of active HTTP connections",
		},
	)

	m.wsClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_clients",
			Help: "Current number of connected event stream clients",
		},
	)

	m.rateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "http_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)

	m.registry.MustRegister(m.httpRequests)
	m.registry.MustRegister(m.httpDuration)
	m.registry.MustRegister(m.httpConnections)
	m.registry.MustRegister(m.wsClients)
	m.registry.MustRegister(m.rateLimited)
}

// RecordHTTPRequest records an HTTP request with method, path, and status.
func (m *Manager) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RecordHTTPRequestContext(context.Background(), method, path, status, duration)
}

// RecordHTTPRequestContext records an HTTP request and attaches the active
// trace as an exemplar on the duration histogram.
func (m *Manager) RecordHTTPRequestContext(ctx context.Context, method, path, status string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.httpRequests.WithLabelValues(method, path, status).Inc()

	observer := m.httpDuration.WithLabelValues(method, path)
	if labels, ok := traceExemplarLabels(ctx); ok {
		if eo, ok := observer.(prometheus.ExemplarObserver); ok {
			eo.ObserveWithExemplar(duration.Seconds(), labels)
			return
		}
	}
	observer.Observe(duration.Seconds())
}

// IncActiveConnections increments the active HTTP connections count.
func (m *Manager) IncActiveConnections() {
	if !m.enabled {
		return
	}
	m.httpConnections.Inc()
}

// DecActiveConnections decrements the active HTTP connections count.
func (m *Manager) DecActiveConnections() {
	if !m.enabled {
		return
	}
	m.httpConnections.Dec()
}

// IncWebSocketClients increments the connected event stream clients.
func (m *Manager) IncWebSocketClients() {
	if !m.enabled {
		return
	}
	m.wsClients.Inc()
}

// DecWebSocketClients decrements the connected event stream clients.
func (m *Manager) DecWebSocketClients() {
	if !m.enabled {
		return
	}
	m.wsClients.Dec()
}

// RecordRateLimited records a request rejected by the rate limiter.
func (m *Manager) RecordRateLimited() {
	if !m.enabled {
		return
	}
	m.rateLimited.Inc()
}

func traceExemplarLabels(ctx context.Context) (prometheus.Labels, bool) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil, false
	}
	return prometheus.Labels{
		"trace_id": sc.TraceID().String(),
		"span_id":  sc.SpanID().String(),
	}, true
}
