package coach

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const coachTracerName = "convomem.coach"

const (
	spanTurn     = "coach.turn"
	spanGuidance = "coach.guidance"
	spanEnd      = "coach.session.end"
	spanRestore  = "coach.session.restore"
	spanPersist  = "coach.session.persist"
)

func coachTracer() trace.Tracer {
	return otel.Tracer(coachTracerName)
}
