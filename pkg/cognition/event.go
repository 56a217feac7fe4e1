// Package cognition publishes the observable trail of conversation state
// changes. Every mutation of a session's memory becomes an Event that
// downstream consumers can correlate by exchange.
package cognition

import (
	"fmt"
	"time"
)

// Event types.
const (
	EmotionDecayed      = "memory.emotion.decayed"
	EmotionFaded        = "memory.emotion.faded"
	TopicFaded          = "memory.topic.faded"
	EmotionDetected     = "memory.emotion.detected"
	TopicIdentified     = "memory.topic.identified"
	InsightExtracted    = "memory.insight.extracted"
	TechniqueUsed       = "memory.technique.used"
	PhaseTransitioned   = "memory.phase.transitioned"
	BreakthroughFound   = "memory.breakthrough.detected"
	ConflictDetected    = "memory.conflict.detected"
	ExerciseCompleted   = "memory.exercise.completed"
	StateUpdated        = "memory.state.updated"
	SessionClosureReady = "session.closure.ready"
	SessionSummarized   = "session.summarized"
)

// TimestampLayout is the wire layout of Event.Timestamp (UTC, microseconds,
// no zone suffix).
const TimestampLayout = "2006-01-02T15:04:05.000000"

// Event is one observable state change.
type Event struct {
	EventType     string         `json:"event_type"`
	CorrelationID string         `json:"correlation_id"`
	SessionID     string         `json:"session_id"`
	TurnNumber    int            `json:"turn_number"`
	Timestamp     string         `json:"timestamp"`
	Data          map[string]any `json:"data"`
	Reason        string         `json:"reason,omitempty"`
}

// Time parses the event timestamp. It returns the zero time when the
// timestamp is malformed.
func (e Event) Time() time.Time {
	t, err := time.Parse(TimestampLayout, e.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// CorrelationID links every event produced within one exchange.
func CorrelationID(sessionID string, turn int) string {
	return fmt.Sprintf("%s-turn%d", sessionID, turn)
}

// Publisher accepts events without blocking the caller.
type Publisher interface {
	Emit(Event)
}

// Recorder stamps events for one exchange of one session and forwards them
// to a Publisher. It also keeps the events it produced so callers can return
// them synchronously. A Recorder is not safe for concurrent use.
type Recorder struct {
	sessionID string
	turn      int
	pub       Publisher
	now       func() time.Time
	events    []Event
}

// NewRecorder creates a recorder for the given exchange. pub may be nil.
func NewRecorder(sessionID string, turn int, pub Publisher) *Recorder {
	return &Recorder{
		sessionID: sessionID,
		turn:      turn,
		pub:       pub,
		now:       time.Now,
	}
}

// Record builds, keeps and publishes one event.
func (r *Recorder) Record(eventType string, data map[string]any, reason string) Event {
	e := Event{
		EventType:     eventType,
		CorrelationID: CorrelationID(r.sessionID, r.turn),
		SessionID:     r.sessionID,
		TurnNumber:    r.turn,
		Timestamp:     r.now().UTC().Format(TimestampLayout),
		Data:          data,
		Reason:        reason,
	}
	r.events = append(r.events, e)
	if r.pub != nil {
		r.pub.Emit(e)
	}
	return e
}

// Events returns the events recorded so far.
func (r *Recorder) Events() []Event {
	return append([]Event(nil), r.events...)
}
