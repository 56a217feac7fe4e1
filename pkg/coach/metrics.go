package coach

import "time"

// MetricsRecorder records coaching runtime metrics.
type MetricsRecorder interface {
	RecordTurn(phase string, duration time.Duration)
	RecordTransition(from, to string)
	RecordBreakthrough()
	RecordClosureReady()
	RecordExercise(outcome string)
	SetActiveSessions(count int)
	RecordSessionEnded()
	RecordPersistError()
}

type nopMetricsRecorder struct{}

func (n *nopMetricsRecorder) RecordTurn(phase string, duration time.Duration) {}
func (n *nopMetricsRecorder) RecordTransition(from, to string)                {}
func (n *nopMetricsRecorder) RecordBreakthrough()                             {}
func (n *nopMetricsRecorder) RecordClosureReady()                             {}
func (n *nopMetricsRecorder) RecordExercise(outcome string)                   {}
func (n *nopMetricsRecorder) SetActiveSessions(count int)                     {}
func (n *nopMetricsRecorder) RecordSessionEnded()                             {}
func (n *nopMetricsRecorder) RecordPersistError()                             {}
