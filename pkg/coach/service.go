// Package coach drives a coaching session turn by turn. It sits between the
// transport and the conversation memory: it repairs transcripts, records
// exercise feedback, applies the turn, signals closure and persists the
// result.
package coach

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mindwell/convomem/pkg/cognition"
	"github.com/mindwell/convomem/pkg/conversation"
	"github.com/mindwell/convomem/pkg/logger"
	"github.com/mindwell/convomem/pkg/phase"
	"github.com/mindwell/convomem/pkg/signals"
	"github.com/mindwell/convomem/pkg/storage"
)

const persistTimeout = 5 * time.Second

// Words that mark a message as talking about an exercise the user just did.
var exerciseMentions = []string{
	"completed", "finished", "did the", "tried the", "exercise", "breathing", "grounding",
}

// Options configures a Service.
type Options struct {
	Memory  conversation.Options
	Store   storage.Storage
	Events  cognition.Publisher
	Metrics MetricsRecorder
	Logger  logger.Logger
}

// Service owns the live sessions of one process.
type Service struct {
	registry *conversation.Registry
	store    storage.Storage
	events   cognition.Publisher
	metrics  MetricsRecorder
	log      logger.Logger
	now      func() time.Time

	// restoreMu serializes lazy restores so a session is loaded at most once.
	restoreMu sync.Mutex
}

// New creates a service. Store and Events may be nil.
func New(opts Options) *Service {
	if opts.Metrics == nil {
		opts.Metrics = &nopMetricsRecorder{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.Global()
	}
	return &Service{
		registry: conversation.NewRegistry(opts.Memory),
		store:    opts.Store,
		events:   opts.Events,
		metrics:  opts.Metrics,
		log:      opts.Logger.With("component", "coach"),
		now:      time.Now,
	}
}

// TurnRequest is one completed exchange as reported by the response
// generator.
type TurnRequest struct {
	SessionID string   `json:"-"`
	Turn      int      `json:"turn_number" validate:"gte=0"`
	Message   string   `json:"message" validate:"required,max=4000"`
	Response  string   `json:"response" validate:"max=8000"`
	Emotion   string   `json:"emotion" validate:"max=64"`
	Intensity *float64 `json:"intensity"`
	Technique string   `json:"technique" validate:"max=64"`
}

// TurnOutcome reports what a turn changed.
type TurnOutcome struct {
	SessionID       string                       `json:"session_id"`
	Turn            int                          `json:"turn_number"`
	Message         string                       `json:"message"`
	SpeechHint      *signals.SpeechHint          `json:"speech_correction,omitempty"`
	Exercise        *conversation.ExerciseRecord `json:"exercise,omitempty"`
	Phase           phase.Phase                  `json:"phase"`
	PreviousPhase   *phase.Phase                 `json:"previous_phase,omitempty"`
	TotalExchanges  int                          `json:"total_exchanges"`
	Insight         string                       `json:"insight,omitempty"`
	Breakthrough    string                       `json:"breakthrough,omitempty"`
	NewTopics       []string                     `json:"new_topics,omitempty"`
	ReturningTopics []string                     `json:"returning_topics,omitempty"`
	ClosureReady    bool                         `json:"closure_ready"`
	Events          []cognition.Event            `json:"events"`
}

// Guidance is what the response generator reads before drafting a reply.
type Guidance struct {
	SessionID      string                       `json:"session_id"`
	Context        string                       `json:"context"`
	AntiRepetition string                       `json:"anti_repetition"`
	Clarification  string                       `json:"clarification,omitempty"`
	LastExercise   *conversation.ExerciseRecord `json:"last_exercise,omitempty"`
	ExerciseCount  int                          `json:"exercise_count"`
}

// tee forwards events and keeps a copy for the caller.
type tee struct {
	next   cognition.Publisher
	events []cognition.Event
}

func (t *tee) Emit(e cognition.Event) {
	t.events = append(t.events, e)
	if t.next != nil {
		t.next.Emit(e)
	}
}

// Turn applies one exchange to the session. An omitted turn number means
// the next exchange.
func (s *Service) Turn(ctx context.Context, req TurnRequest) (TurnOutcome, error) {
	ctx, span := coachTracer().Start(ctx, spanTurn, trace.WithAttributes(
		attribute.String("session.id", req.SessionID),
		attribute.Int("turn.number", req.Turn),
	))
	defer span.End()
	start := s.now()

	if strings.TrimSpace(req.SessionID) == "" {
		return TurnOutcome{}, ErrInvalidSessionID
	}
	var out TurnOutcome
	var sink *tee
	err := s.withSession(ctx, req.SessionID, true, func(m *conversation.Memory) {
		out = TurnOutcome{SessionID: req.SessionID, Message: req.Message}
		sink = &tee{next: s.events}
		if req.Turn <= 0 {
			req.Turn = m.TotalExchanges() + 1
		}
		out.Turn = req.Turn

		if hint, ok := signals.DetectUnclearSpeech(req.Message); ok {
			out.Message = signals.Correct(req.Message, hint)
			out.SpeechHint = &hint
			m.SetClarification(hint.UnclearWord)
			s.log.InfoContext(ctx, "auto-corrected transcript",
				"session_id", req.SessionID,
				"unclear", hint.UnclearWord,
				"suggested", hint.Correction,
			)
		}

		if fb, ok := signals.DetectExerciseFeedback(out.Message); ok {
			rec := m.LogExercise(req.Turn, fb.Type, fb.Outcome, out.Message, sink)
			out.Exercise = &rec
			s.metrics.RecordExercise(fb.Outcome)
		}

		in := conversation.TurnInput{
			Turn:      req.Turn,
			Message:   out.Message,
			Response:  req.Response,
			Emotion:   req.Emotion,
			Intensity: conversation.DefaultIntensity,
			Technique: req.Technique,
		}
		if req.Intensity != nil {
			in.Intensity = *req.Intensity
		}
		res := m.Update(in, sink)

		out.Phase = res.Phase
		out.TotalExchanges = res.TotalExchanges
		out.Insight = res.Insight
		out.Breakthrough = res.Breakthrough
		out.NewTopics = res.NewTopics
		out.ReturningTopics = res.ReturningTopics
		if t := res.Transition; t != nil {
			from := t.From
			out.PreviousPhase = &from
			s.metrics.RecordTransition(t.From.String(), t.To.String())
		}
		if res.Breakthrough != "" {
			s.metrics.RecordBreakthrough()
		}

		closure := m.Closure(in.Emotion, in.Intensity)
		if closure.Ready {
			out.ClosureReady = true
			cognition.NewRecorder(req.SessionID, req.Turn, sink).Record(
				cognition.SessionClosureReady,
				closure.Data(),
				fmt.Sprintf("User reached a positive state (%s) after %d exchanges", closure.Emotion, closure.TotalExchanges),
			)
			s.metrics.RecordClosureReady()
		}
		s.persist(ctx, m, nil)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return TurnOutcome{}, err
	}
	out.Events = sink.events

	span.SetAttributes(
		attribute.String("session.phase", out.Phase.String()),
		attribute.Int("turn.events", len(out.Events)),
		attribute.Bool("session.closure_ready", out.ClosureReady),
	)
	s.metrics.RecordTurn(out.Phase.String(), s.now().Sub(start))
	s.metrics.SetActiveSessions(s.registry.Len())
	return out, nil
}

// Guidance returns the state summary and the anti-repetition notes for the
// next reply. message is the user's latest utterance, if known; when it
// mentions an exercise the last logged exercise is included. Any pending
// clarification is consumed.
func (s *Service) Guidance(ctx context.Context, sessionID, message string) (Guidance, error) {
	ctx, span := coachTracer().Start(ctx, spanGuidance, trace.WithAttributes(
		attribute.String("session.id", sessionID),
	))
	defer span.End()

	if strings.TrimSpace(sessionID) == "" {
		return Guidance{}, ErrInvalidSessionID
	}
	g := Guidance{SessionID: sessionID}
	err := s.withSession(ctx, sessionID, true, func(m *conversation.Memory) {
		g.Context = m.ContextString()
		g.AntiRepetition = m.AntiRepetitionGuidance()
		g.Clarification, _ = m.TakeClarification()

		exercises := m.Exercises()
		g.ExerciseCount = len(exercises)
		if len(exercises) > 0 && mentionsExercise(message) {
			last := exercises[len(exercises)-1]
			g.LastExercise = &last
		}
	})
	if err != nil {
		return Guidance{}, err
	}
	return g, nil
}

func mentionsExercise(message string) bool {
	lower := strings.ToLower(message)
	for _, w := range exerciseMentions {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// AddGoal records a goal the user stated for the session.
func (s *Service) AddGoal(ctx context.Context, sessionID, goal string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrInvalidSessionID
	}
	return s.withSession(ctx, sessionID, true, func(m *conversation.Memory) {
		m.AddGoal(goal)
		s.persist(ctx, m, nil)
	})
}

// Session returns the session's memory, restoring it from storage if needed.
func (s *Service) Session(ctx context.Context, sessionID string) (conversation.Snapshot, error) {
	var snap conversation.Snapshot
	err := s.withSession(ctx, sessionID, false, func(m *conversation.Memory) {
		snap = m.Snapshot()
	})
	return snap, err
}

// ContextString renders the session's memory for display.
func (s *Service) ContextString(ctx context.Context, sessionID string) (string, error) {
	var out string
	err := s.withSession(ctx, sessionID, false, func(m *conversation.Memory) {
		out = m.ContextString()
	})
	return out, err
}

// Sessions returns every live session, most recently active first.
func (s *Service) Sessions() []conversation.Snapshot {
	return s.registry.Snapshots()
}

// EndSession summarizes the session, emits session.summarized, marks the
// stored record ended and forgets the live memory.
func (s *Service) EndSession(ctx context.Context, sessionID string, turn int) (conversation.Summary, error) {
	ctx, span := coachTracer().Start(ctx, spanEnd, trace.WithAttributes(
		attribute.String("session.id", sessionID),
	))
	defer span.End()

	var summary conversation.Summary
	for retired := false; !retired; {
		if err := s.ensure(ctx, sessionID, false); err != nil {
			return conversation.Summary{}, err
		}
		// Summary, ended record and removal happen under the session lock, so
		// no turn can land between them.
		retired = s.registry.Retire(sessionID, func(m *conversation.Memory) {
			if turn <= 0 {
				turn = m.TotalExchanges()
			}
			summary = m.Summary()
			cognition.NewRecorder(sessionID, turn, s.events).Record(
				cognition.SessionSummarized, summary.Data(), summary.Reason(),
			)
			endedAt := s.now().UTC()
			s.persist(ctx, m, &endedAt)
		})
		if !retired {
			if err := ctx.Err(); err != nil {
				return conversation.Summary{}, err
			}
		}
	}

	s.metrics.RecordSessionEnded()
	s.metrics.SetActiveSessions(s.registry.Len())
	s.log.InfoContext(ctx, "session summarized",
		"session_id", sessionID,
		"exchanges", summary.TotalExchanges,
		"breakthroughs", summary.Breakthroughs,
	)
	return summary, nil
}

// Clear forgets the live memory of a session without summarizing it. The
// stored record is kept.
func (s *Service) Clear(sessionID string) bool {
	ok := s.registry.Clear(sessionID)
	s.metrics.SetActiveSessions(s.registry.Len())
	return ok
}

// ensure makes the session live. A session missing from memory is restored
// from storage; when create is set an unknown session is started fresh.
func (s *Service) ensure(ctx context.Context, sessionID string, create bool) error {
	if s.registry.Has(sessionID) {
		return nil
	}

	s.restoreMu.Lock()
	defer s.restoreMu.Unlock()
	if s.registry.Has(sessionID) {
		return nil
	}

	if s.store != nil {
		ctx, span := coachTracer().Start(ctx, spanRestore)
		rec, err := s.store.GetSession(ctx, sessionID)
		span.End()

		var nf *storage.NotFoundError
		switch {
		case err == nil:
			if rec.Status == storage.StatusEnded {
				return ErrSessionEnded
			}
			s.registry.Restore(rec.Memory)
			s.log.DebugContext(ctx, "session restored", "session_id", sessionID)
			return nil
		case errors.As(err, &nf):
		default:
			// Storage is best-effort; fall through to a fresh session.
			s.log.WarnContext(ctx, "failed to restore session",
				"session_id", sessionID,
				"error", err,
			)
		}
	}

	if !create {
		return ErrSessionNotFound
	}
	s.registry.Do(sessionID, func(*conversation.Memory) {})
	return nil
}

// withSession runs fn under the session lock once the session is live. A
// session cleared or ended between the lookup and the lock is looked up
// again, so fn never runs on a memory that has left the registry.
func (s *Service) withSession(ctx context.Context, sessionID string, create bool, fn func(m *conversation.Memory)) error {
	for {
		if err := s.ensure(ctx, sessionID, create); err != nil {
			return err
		}
		if s.registry.View(sessionID, fn) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// persist writes the memory's snapshot, as ended when endedAt is set. The
// caller holds the session lock. Failures are logged.
func (s *Service) persist(ctx context.Context, m *conversation.Memory, endedAt *time.Time) {
	if s.store == nil {
		return
	}

	ctx, span := coachTracer().Start(ctx, spanPersist)
	defer span.End()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	snap := m.Snapshot()
	rec := &storage.SessionRecord{
		ID:        snap.SessionID,
		Status:    storage.StatusActive,
		Memory:    snap,
		CreatedAt: snap.CreatedAt,
	}
	if endedAt != nil {
		rec.Status = storage.StatusEnded
		rec.EndedAt = endedAt
	}
	if err := s.store.SaveSession(ctx, rec); err != nil {
		span.RecordError(err)
		s.metrics.RecordPersistError()
		s.log.WarnContext(ctx, "failed to persist session",
			"session_id", snap.SessionID,
			"error", err,
		)
	}
}
