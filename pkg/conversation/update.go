package conversation

import (
	"fmt"
	"slices"
	"strings"

	"github.com/mindwell/convomem/pkg/cognition"
	"github.com/mindwell/convomem/pkg/phase"
	"github.com/mindwell/convomem/pkg/signals"
)

// TurnInput is one exchange: what the user said, how it was classified, and
// what the assistant answered.
type TurnInput struct {
	Turn      int
	Message   string
	Response  string
	Emotion   string
	Intensity float64
	Technique string
}

// TurnResult describes what one update changed.
type TurnResult struct {
	Events          []cognition.Event
	Transition      *phase.Transition
	Insight         string
	Breakthrough    string
	NewTopics       []string
	ReturningTopics []string
	Conflicts       []signals.Conflict
	Phase           phase.Phase
	TotalExchanges  int
}

var techniqueReasons = map[string]string{
	"reflective_listening":      "User needs to feel heard - mirroring back their feelings validates their experience",
	"cognitive_reframing":       "User may benefit from seeing situation from a different perspective",
	"grounding":                 "User showing signs of emotional overwhelm - grounding helps return to present moment",
	"validation":                "User's feelings deserve acknowledgment before problem-solving",
	"psychoeducation":           "User would benefit from understanding the psychology behind their experience",
	"solution_focused":          "User is ready and asking for actionable steps forward",
	"motivational_interviewing": "Helping user discover their own motivation for change",
	"general":                   "Providing general supportive response based on conversation flow",
}

// Update applies one exchange to the memory. Existing weights decay before
// the new observation is folded in. Every state change is recorded as an
// event and handed to pub, which may be nil. Update never fails; missing
// inputs fall back to neutral defaults.
func (m *Memory) Update(in TurnInput, pub cognition.Publisher) TurnResult {
	emotion := strings.TrimSpace(in.Emotion)
	if emotion == "" {
		emotion = DefaultEmotion
	}
	intensity := normalizeIntensity(in.Intensity)
	technique := strings.TrimSpace(in.Technique)
	if technique == "" {
		technique = DefaultTechnique
	}

	rec := cognition.NewRecorder(m.sessionID, in.Turn, pub)
	var res TurnResult

	m.decay(rec)

	m.totalExchanges++
	m.exchangesInPhase++
	m.journey = append(m.journey, JournalEntry{
		Emotion:   emotion,
		Intensity: intensity,
		Exchange:  m.totalExchanges,
		Timestamp: m.now().UTC(),
	})

	blend := m.emotions.Blend(emotion, intensity)
	var reason string
	switch {
	case blend.New() && blend.Stored:
		reason = fmt.Sprintf("Detected new emotion '%s' (intensity: %.1f, stored: %.1f) from user's words",
			emotion, intensity, blend.Next)
	case blend.New():
		reason = fmt.Sprintf("Detected emotion '%s' (intensity: %.1f) below fade threshold %.1f - not stored",
			emotion, intensity, m.emotions.Threshold())
	case blend.Stored:
		reason = fmt.Sprintf("User reinforced existing emotion '%s' - blended from %.1f to %.1f (raw: %.1f)",
			emotion, blend.Prev, blend.Next, intensity)
	default:
		reason = fmt.Sprintf("Emotion '%s' blended from %.1f to %.2f (raw: %.1f), below fade threshold %.1f - removed from memory",
			emotion, blend.Prev, blend.Next, intensity, m.emotions.Threshold())
	}
	rec.Record(cognition.EmotionDetected, map[string]any{
		"emotion":         emotion,
		"intensity":       intensity,
		"previous_weight": blend.Prev,
		"blended_weight":  blend.Next,
		"is_new":          blend.New(),
		"stored":          blend.Stored,
		"evicted":         blend.Evicted(),
		"all_emotions":    m.emotions.Entries(),
	}, reason)

	if n := len(m.journey); n >= 2 {
		before := m.journey[n-2]
		previous := signals.Observation{Emotion: before.Emotion, Intensity: before.Intensity}
		res.Conflicts = signals.Conflicts(previous, emotion, m.emotions.Entries())
		for _, c := range res.Conflicts {
			rec.Record(cognition.ConflictDetected, c.Data(), c.Reason)
		}
	}

	res.NewTopics, res.ReturningTopics = m.observeTopics(in.Message, rec)

	if insight := signals.Insight(in.Message, emotion); insight != "" && !slices.Contains(m.insights, insight) {
		m.insights = append(m.insights, insight)
		res.Insight = insight
		rec.Record(cognition.InsightExtracted, map[string]any{
			"insight":              insight,
			"derived_from_emotion": emotion,
			"total_insights":       len(m.insights),
		}, fmt.Sprintf("User expressed meaningful insight during %s state - this could indicate self-awareness growth", emotion))
	}

	count := m.techniques.inc(technique)
	rec.Record(cognition.TechniqueUsed, map[string]any{
		"technique":      technique,
		"usage_count":    count,
		"all_techniques": m.techniques.snapshot(),
	}, techniqueReason(technique, count))

	if in.Response != "" {
		m.patterns.add(signals.ResponsePattern(in.Response))
	}
	if theme, ok := signals.QuestionTheme(in.Response); ok {
		m.questions.add(theme)
	}

	if tr, ok := phase.Check(m.phase, m.exchangesInPhase, in.Message); ok {
		m.phase = tr.To
		m.exchangesInPhase = 0
		res.Transition = &tr
		rec.Record(cognition.PhaseTransitioned, map[string]any{
			"from_phase":                  tr.From.String(),
			"to_phase":                    tr.To.String(),
			"exchanges_in_previous_phase": tr.ExchangesInPhase,
			"trigger":                     "user_signal_detected",
			"matched_phrase":              tr.Trigger,
		}, tr.Reason)
	}

	if b := signals.Breakthrough(in.Message, emotion); b != "" {
		m.breakthroughs = append(m.breakthroughs, b)
		res.Breakthrough = b
		rec.Record(cognition.BreakthroughFound, map[string]any{
			"breakthrough":        b,
			"emotion_context":     emotion,
			"exchange_number":     m.totalExchanges,
			"total_breakthroughs": len(m.breakthroughs),
		}, fmt.Sprintf("USER BREAKTHROUGH: User showed moment of clarity/realization - '%s' - this is a significant therapeutic moment", b))
	}

	dominant, weight := m.Dominant()
	rec.Record(cognition.StateUpdated, map[string]any{
		"exchange_number":         m.totalExchanges,
		"phase":                   m.phase.String(),
		"dominant_emotion":        dominant,
		"dominant_emotion_weight": weight,
		"active_topics":           m.topics.Keys(),
		"techniques_used_count":   m.techniques.total(),
		"insights_count":          len(m.insights),
		"breakthroughs_count":     len(m.breakthroughs),
	}, fmt.Sprintf("Turn %d complete. User feeling primarily %s (%.0f%% relevance). Phase: %s.",
		m.totalExchanges, dominant, weight*100, m.phase))

	m.touch()
	res.Events = rec.Events()
	res.Phase = m.phase
	res.TotalExchanges = m.totalExchanges
	return res
}

func (m *Memory) decay(rec *cognition.Recorder) {
	emotions := m.emotions.Decay()
	if len(emotions.Decayed) > 0 {
		decayed := make(map[string]any, len(emotions.Decayed))
		for _, c := range emotions.Decayed {
			decayed[c.Key] = map[string]float64{"from": c.From, "to": c.To}
		}
		rec.Record(cognition.EmotionDecayed, map[string]any{
			"decayed_emotions": decayed,
			"decay_factor":     m.emotions.Factor(),
		}, fmt.Sprintf("Temporal decay applied - emotions fade by %gx per turn to keep focus on current feelings", m.emotions.Factor()))
	}
	for _, e := range emotions.Faded {
		rec.Record(cognition.EmotionFaded, map[string]any{"emotion": e},
			fmt.Sprintf("'%s' dropped below relevance threshold (%g) - user hasn't mentioned this feeling recently", e, m.emotions.Threshold()))
	}

	for _, t := range m.topics.Decay().Faded {
		rec.Record(cognition.TopicFaded, map[string]any{"topic": t},
			fmt.Sprintf("Topic '%s' faded from focus - conversation moved to other subjects", t))
	}
}

// observeTopics resets every mentioned topic to full relevance. A topic seen
// for the first time is new; one that had faded from the ledger is returning.
func (m *Memory) observeTopics(message string, rec *cognition.Recorder) (fresh, returning []string) {
	for _, topic := range signals.Topics(message) {
		_, live := m.topics.Weight(topic)
		switch {
		case !slices.Contains(m.userTopics, topic):
			m.userTopics = append(m.userTopics, topic)
			fresh = append(fresh, topic)
		case !live:
			returning = append(returning, topic)
		}
		m.topics.Reset(topic)
	}
	if len(fresh) == 0 && len(returning) == 0 {
		return nil, nil
	}

	var parts []string
	if len(fresh) > 0 {
		parts = append(parts, fmt.Sprintf("User introduced new topic(s): %s", strings.Join(fresh, ", ")))
	}
	if len(returning) > 0 {
		parts = append(parts, fmt.Sprintf("User returned to faded topic(s): %s", strings.Join(returning, ", ")))
	}
	rec.Record(cognition.TopicIdentified, map[string]any{
		"new_topics":       nonNil(fresh),
		"returning_topics": nonNil(returning),
		"all_topics":       clone(m.userTopics),
	}, strings.Join(parts, "; ")+" - adding to conversation context")
	return fresh, returning
}

func techniqueReason(technique string, count int) string {
	reason, ok := techniqueReasons[technique]
	if !ok {
		reason = fmt.Sprintf("Selected '%s' as most appropriate therapeutic approach for current emotional state", technique)
	}
	if count > 1 {
		reason += fmt.Sprintf(" (used %dx - varying application to avoid repetition)", count)
	}
	return reason
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
