package conversation

import (
	"fmt"
	"strings"

	"github.com/mindwell/convomem/pkg/cognition"
	"github.com/mindwell/convomem/pkg/phase"
)

const (
	closureMinExchanges = 4
	closureMinIntensity = 0.5
	feedbackPreview     = 100
	summaryBreakthrough = 3
	summaryInsights     = 5
)

// closureEmotions are the feelings that signal a session can wind down.
var closureEmotions = map[string]struct{}{
	"joy": {}, "relief": {}, "gratitude": {}, "hope": {},
	"calm": {}, "happy": {}, "better": {}, "good": {},
}

// Closure is the closure-readiness verdict for the current turn.
type Closure struct {
	Ready          bool
	Emotion        string
	Intensity      float64
	TotalExchanges int
	Breakthroughs  int
	Phase          phase.Phase
}

// Data returns the session.closure.ready event payload.
func (c Closure) Data() map[string]any {
	return map[string]any{
		"reason":  "positive_resolution",
		"emotion": c.Emotion,
		"wellness_indicators": map[string]any{
			"positive_emotion": c.Emotion,
			"total_turns":      c.TotalExchanges,
			"breakthroughs":    c.Breakthroughs,
			"phase":            c.Phase.String(),
		},
	}
}

// Closure reports whether the session may be wound down given the emotion
// just classified. It needs enough exchanges, a strong positive emotion and
// either a breakthrough or a late phase.
func (m *Memory) Closure(emotion string, intensity float64) Closure {
	c := Closure{
		Emotion:        emotion,
		Intensity:      intensity,
		TotalExchanges: m.totalExchanges,
		Breakthroughs:  len(m.breakthroughs),
		Phase:          m.phase,
	}
	if m.totalExchanges < closureMinExchanges {
		return c
	}
	if _, ok := closureEmotions[strings.ToLower(emotion)]; !ok {
		return c
	}
	if normalizeIntensity(intensity) < closureMinIntensity {
		return c
	}
	late := m.phase == phase.Technique || m.phase == phase.Integration || m.phase == phase.Closing
	c.Ready = len(m.breakthroughs) > 0 || late
	return c
}

// LogExercise records a completed exercise and emits
// memory.exercise.completed for the given turn.
func (m *Memory) LogExercise(turn int, exerciseType, outcome, feedback string, pub cognition.Publisher) ExerciseRecord {
	before := "unknown"
	if key, _, ok := m.emotions.Dominant(); ok {
		before = key
	}
	record := ExerciseRecord{
		Type:          exerciseType,
		Outcome:       outcome,
		Feedback:      feedback,
		Timestamp:     m.now().UTC(),
		EmotionBefore: before,
	}
	m.exercises = append(m.exercises, record)
	m.touch()

	cognition.NewRecorder(m.sessionID, turn, pub).Record(cognition.ExerciseCompleted, map[string]any{
		"exercise_type":   exerciseType,
		"outcome":         outcome,
		"user_feedback":   truncate(feedback, feedbackPreview),
		"total_exercises": len(m.exercises),
	}, fmt.Sprintf("User completed %s exercise - outcome: %s", exerciseType, outcome))
	return record
}

// EmotionalDelta compares the first and the last observed emotion.
type EmotionalDelta struct {
	StartEmotion   string  `json:"start_emotion"`
	StartIntensity float64 `json:"start_intensity"`
	EndEmotion     string  `json:"end_emotion"`
	EndIntensity   float64 `json:"end_intensity"`
	Shifted        bool    `json:"shifted"`
}

// Summary describes a session at its end.
type Summary struct {
	SessionID           string           `json:"session_id"`
	TotalExchanges      int              `json:"total_exchanges"`
	EmotionalDelta      *EmotionalDelta  `json:"emotional_delta,omitempty"`
	Breakthroughs       int              `json:"breakthroughs"`
	BreakthroughDetails []string         `json:"breakthrough_details"`
	UniqueTechniques    int              `json:"unique_techniques"`
	TechniqueUses       int              `json:"total_technique_uses"`
	Techniques          []TechniqueCount `json:"techniques_breakdown"`
	FinalPhase          phase.Phase      `json:"final_phase"`
	TopicsExplored      []string         `json:"topics_explored"`
	KeyInsights         []string         `json:"key_insights"`
	ExercisesCompleted  int              `json:"exercises_completed"`
}

// Summary builds the end-of-session summary.
func (m *Memory) Summary() Summary {
	s := Summary{
		SessionID:           m.sessionID,
		TotalExchanges:      m.totalExchanges,
		Breakthroughs:       len(m.breakthroughs),
		BreakthroughDetails: clone(m.breakthroughs[:min(len(m.breakthroughs), summaryBreakthrough)]),
		UniqueTechniques:    len(m.techniques.names),
		TechniqueUses:       m.techniques.total(),
		Techniques:          m.techniques.items(),
		FinalPhase:          m.phase,
		TopicsExplored:      m.topics.Keys(),
		KeyInsights:         clone(m.insights[:min(len(m.insights), summaryInsights)]),
		ExercisesCompleted:  len(m.exercises),
	}
	if n := len(m.journey); n >= 2 {
		first, last := m.journey[0], m.journey[n-1]
		s.EmotionalDelta = &EmotionalDelta{
			StartEmotion:   first.Emotion,
			StartIntensity: first.Intensity,
			EndEmotion:     last.Emotion,
			EndIntensity:   last.Intensity,
			Shifted:        first.Emotion != last.Emotion,
		}
	}
	return s
}

// Reason is the human-readable conclusion of the session.
func (s Summary) Reason() string {
	start, end := "unknown", "unknown"
	if s.EmotionalDelta != nil {
		start, end = s.EmotionalDelta.StartEmotion, s.EmotionalDelta.EndEmotion
	}
	return fmt.Sprintf("Session concluded after %d exchanges. User started feeling %s and ended feeling %s. "+
		"%d breakthrough(s) detected. %d different techniques used.",
		s.TotalExchanges, start, end, s.Breakthroughs, s.UniqueTechniques)
}

// Data returns the session.summarized event payload.
func (s Summary) Data() map[string]any {
	delta := map[string]any{}
	if d := s.EmotionalDelta; d != nil {
		delta = map[string]any{
			"start_emotion":   d.StartEmotion,
			"start_intensity": d.StartIntensity,
			"end_emotion":     d.EndEmotion,
			"end_intensity":   d.EndIntensity,
			"shifted":         d.Shifted,
		}
	}
	breakdown := make(map[string]int, len(s.Techniques))
	for _, t := range s.Techniques {
		breakdown[t.Technique] = t.Count
	}
	return map[string]any{
		"total_exchanges":      s.TotalExchanges,
		"emotional_delta":      delta,
		"breakthroughs":        s.Breakthroughs,
		"breakthrough_details": nonNil(s.BreakthroughDetails),
		"techniques_diversity": map[string]any{
			"unique_techniques":    s.UniqueTechniques,
			"total_uses":           s.TechniqueUses,
			"techniques_breakdown": breakdown,
		},
		"final_phase":         s.FinalPhase.String(),
		"topics_explored":     nonNil(s.TopicsExplored),
		"key_insights":        nonNil(s.KeyInsights),
		"exercises_completed": s.ExercisesCompleted,
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
