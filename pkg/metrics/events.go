package metrics

import "github.com/prometheus/client_golang/prometheus"

func (m *Manager) initEventMetrics() {
	m.eventsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cognition_events_emitted_total",
			Help: "Total cognition events delivered to sinks by type",
		},
		[]string{"event_type"},
	)

	m.eventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cognition_events_dropped_total",
			Help: "Total cognition events dropped on a full queue by type",
		},
		[]string{"event_type"},
	)

	m.sinkErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cognition_sink_errors_total",
			Help: "Total sink failures by sink",
		},
		[]string{"sink"},
	)

	m.queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cognition_event_queue_depth",
			Help: "Current number of events waiting for delivery",
		},
	)

	m.registry.MustRegister(m.eventsEmitted)
	m.registry.MustRegister(m.eventsDropped)
	m.registry.MustRegister(m.sinkErrors)
	m.registry.MustRegister(m.queueDepth)
}

// RecordEventEmitted records a delivered cognition event.
func (m *Manager) RecordEventEmitted(eventType string) {
	if !m.enabled {
		return
	}
	m.eventsEmitted.WithLabelValues(eventType).Inc()
}

// RecordEventDropped records a cognition event dropped on a full queue.
func (m *Manager) RecordEventDropped(eventType string) {
	if !m.enabled {
		return
	}
	m.eventsDropped.WithLabelValues(eventType).Inc()
}

// RecordSinkError records a failing sink.
func (m *Manager) RecordSinkError(sink string) {
	if !m.enabled {
		return
	}
	m.sinkErrors.WithLabelValues(sink).Inc()
}

// SetEventQueueDepth sets the emitter queue depth gauge.
func (m *Manager) SetEventQueueDepth(depth int) {
	if !m.enabled {
		return
	}
	m.queueDepth.Set(float64(depth))
}
