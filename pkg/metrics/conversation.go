package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// initConversationMetrics initializes per-turn and session metrics.
func (m *Manager) initConversationMetrics(cfg Config) {
	m.turns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_turns_total",
			Help: "Total number of processed turns by resulting phase",
		},
		[]string{"phase"},
	)

	m.turnDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "conversation_turn_duration_seconds",
			Help:    "Time spent applying one turn to session memory",
			Buckets: cfg.TurnDurationBuckets,
		},
	)

	m.transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_phase_transitions_total",
			Help: "Total number of phase transitions",
		},
		[]string{"from", "to"},
	)

	m.breakthroughs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "conversation_breakthroughs_total",
			Help: "Total number of detected breakthroughs",
		},
	)

	m.closures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "conversation_closure_ready_total",
			Help: "Total number of turns that signalled closure readiness",
		},
	)

	m.exercises = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_exercises_total",
			Help: "Total number of logged exercises by outcome",
		},
		[]string{"outcome"},
	)

	m.activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "conversation_active_sessions",
			Help: "Current number of sessions held in memory",
		},
	)

	m.sessionsEnded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "conversation_sessions_ended_total",
			Help: "Total number of summarized and ended sessions",
		},
	)

	m.persistErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "conversation_persist_errors_total",
			Help: "Total number of failed session snapshot writes",
		},
	)

	m.registry.MustRegister(m.turns)
	m.registry.MustRegister(m.turnDuration)
	m.registry.MustRegister(m.transitions)
	m.registry.MustRegister(m.breakthroughs)
	m.registry.MustRegister(m.closures)
	m.registry.MustRegister(m.exercises)
	m.registry.MustRegister(m.activeSessions)
	m.registry.MustRegister(m.sessionsEnded)
	m.registry.MustRegister(m.persistErrors)
}

// RecordTurn records one processed turn.
func (m *Manager) RecordTurn(phase string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.turns.WithLabelValues(phase).Inc()
	m.turnDuration.Observe(duration.Seconds())
}

// RecordTransition records a phase transition.
func (m *Manager) RecordTransition(from, to string) {
	if !m.enabled {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// RecordBreakthrough records a detected breakthrough.
func (m *Manager) RecordBreakthrough() {
	if !m.enabled {
		return
	}
	m.breakthroughs.Inc()
}

// RecordClosureReady records a closure-ready signal.
func (m *Manager) RecordClosureReady() {
	if !m.enabled {
		return
	}
	m.closures.Inc()
}

// RecordExercise records a logged exercise.
func (m *Manager) RecordExercise(outcome string) {
	if !m.enabled {
		return
	}
	m.exercises.WithLabelValues(outcome).Inc()
}

// SetActiveSessions sets the number of sessions held in memory.
func (m *Manager) SetActiveSessions(count int) {
	if !m.enabled {
		return
	}
	m.activeSessions.Set(float64(count))
}

// RecordSessionEnded records a summarized session.
func (m *Manager) RecordSessionEnded() {
	if !m.enabled {
		return
	}
	m.sessionsEnded.Inc()
}

// RecordPersistError records a failed snapshot write.
func (m *Manager) RecordPersistError() {
	if !m.enabled {
		return
	}
	m.persistErrors.Inc()
}
