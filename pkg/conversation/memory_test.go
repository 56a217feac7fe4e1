package conversation

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindwell/convomem/pkg/cognition"
	"github.com/mindwell/convomem/pkg/phase"
	"github.com/mindwell/convomem/pkg/salience"
	"github.com/mindwell/convomem/pkg/signals"
)

const eps = 1e-9

type capture struct {
	mu     sync.Mutex
	events []cognition.Event
}

func (c *capture) Emit(e cognition.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *capture) ofType(eventType string) []cognition.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []cognition.Event
	for _, e := range c.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func weight(t *testing.T, m *Memory, emotion string) float64 {
	t.Helper()
	for _, e := range m.EmotionWeights() {
		if e.Key == emotion {
			return e.Weight
		}
	}
	t.Fatalf("emotion %q not in ledger", emotion)
	return 0
}

func turn(n int, msg, emotion string, intensity float64) TurnInput {
	return TurnInput{
		Turn:      n,
		Message:   msg,
		Response:  "I hear you. What feels heaviest right now?",
		Emotion:   emotion,
		Intensity: intensity,
		Technique: "reflective_listening",
	}
}

func TestMemory_AnxiousAboutWork(t *testing.T) {
	m := New("s1", Options{})
	pub := &capture{}

	res := m.Update(turn(1, "I'm really anxious about work deadlines", "anxiety", 0.9), pub)
	assert.InDelta(t, 0.81, weight(t, m, "anxiety"), eps)
	assert.Equal(t, []string{"work", "anxiety"}, res.NewTopics)
	assert.Equal(t, phase.Opening, m.Phase())
	assert.Nil(t, res.Transition)

	res = m.Update(turn(2, "I've been feeling this way since my boss changed", "anxiety", 0.6), pub)
	assert.InDelta(t, math.Max(0.567*0.6+0.6*0.4, 0.48), weight(t, m, "anxiety"), eps)
	assert.InDelta(t, 0.5802, weight(t, m, "anxiety"), 1e-4)
	require.NotNil(t, res.Transition)
	assert.Equal(t, phase.Exploration, m.Phase())
	assert.Zero(t, m.ExchangesInPhase())
	assert.NotEmpty(t, res.Insight)

	decayed := pub.ofType(cognition.EmotionDecayed)
	require.Len(t, decayed, 1)
	assert.Equal(t, "s1-turn2", decayed[0].CorrelationID)
	assert.Equal(t, 0.7, decayed[0].Data["decay_factor"])
}

func TestMemory_StateUpdatedEveryTurn(t *testing.T) {
	m := New("s1", Options{})
	messages := []string{"hi", "", "I feel lost", "because of my job", "what should i do", "thanks"}
	for i, msg := range messages {
		res := m.Update(turn(i+1, msg, "", math.NaN()), nil)

		require.NotEmpty(t, res.Events)
		last := res.Events[len(res.Events)-1]
		assert.Equal(t, cognition.StateUpdated, last.EventType)
		assert.Equal(t, m.TotalExchanges(), last.Data["exchange_number"])
		assert.Equal(t, fmt.Sprintf("s1-turn%d", i+1), last.CorrelationID)
		for _, e := range res.Events {
			assert.Equal(t, last.CorrelationID, e.CorrelationID)
		}
	}
	assert.Equal(t, len(messages), len(m.Journey()))
	assert.Equal(t, DefaultEmotion, m.Journey()[0].Emotion)
	assert.Equal(t, DefaultIntensity, m.Journey()[0].Intensity)
	assert.Equal(t, []TechniqueCount{{Technique: "reflective_listening", Count: len(messages)}}, m.Techniques())
}

func TestMemory_InputDefaults(t *testing.T) {
	m := New("s1", Options{})
	res := m.Update(TurnInput{Turn: 7, Intensity: 3}, nil)

	assert.Equal(t, 1, res.TotalExchanges)
	j := m.Journey()[0]
	assert.Equal(t, DefaultEmotion, j.Emotion)
	assert.Equal(t, 1.0, j.Intensity)
	assert.Equal(t, DefaultTechnique, m.Techniques()[0].Technique)

	// Repeated turn numbers are accepted as the next exchange.
	m.Update(TurnInput{Turn: 7}, nil)
	assert.Equal(t, 2, m.TotalExchanges())
}

func TestMemory_DecayWithoutObservation(t *testing.T) {
	m := New("s1", Options{})
	m.Update(turn(1, "hello", "sadness", 1.0), nil)
	before := weight(t, m, "sadness")

	m.Update(turn(2, "hello", "calm", 0.9), nil)
	assert.InDelta(t, before*0.7, weight(t, m, "sadness"), eps)

	pub := &capture{}
	for i := 3; i < 10; i++ {
		m.Update(turn(i, "hello", "calm", 0.9), pub)
	}
	for _, e := range m.EmotionWeights() {
		assert.NotEqual(t, "sadness", e.Key)
		assert.GreaterOrEqual(t, e.Weight, 0.2)
	}
	faded := pub.ofType(cognition.EmotionFaded)
	require.Len(t, faded, 1)
	assert.Equal(t, "sadness", faded[0].Data["emotion"])
}

func TestMemory_ReturningTopic(t *testing.T) {
	m := New("s1", Options{})
	pub := &capture{}

	m.Update(turn(1, "my boss again", "stressed", 0.7), pub)
	for i := 2; i <= 11; i++ {
		m.Update(turn(i, "ok", "calm", 0.7), pub)
	}
	for _, e := range m.TopicWeights() {
		assert.NotEqual(t, "work", e.Key)
	}
	require.Len(t, pub.ofType(cognition.TopicFaded), 1)

	res := m.Update(turn(12, "the deadline is back", "stressed", 0.7), pub)
	assert.Empty(t, res.NewTopics)
	assert.Equal(t, []string{"work"}, res.ReturningTopics)

	snap := m.Snapshot()
	assert.Equal(t, []string{"work"}, snap.UserTopics)
	require.Len(t, snap.TopicWeights, 1)
	assert.Equal(t, 1.0, snap.TopicWeights[0].Weight)

	identified := pub.ofType(cognition.TopicIdentified)
	require.Len(t, identified, 2)
	assert.Equal(t, []string{"work"}, identified[1].Data["returning_topics"])
	assert.Contains(t, identified[1].Reason, "returned")

	// A live topic mentioned again resets quietly.
	res = m.Update(turn(13, "work work work", "stressed", 0.7), pub)
	assert.Empty(t, res.NewTopics)
	assert.Empty(t, res.ReturningTopics)
	assert.Len(t, pub.ofType(cognition.TopicIdentified), 2)
}

func TestMemory_PhaseNeverRegresses(t *testing.T) {
	messages := []string{
		"hello", "I need help", "ok", "it started when I moved", "because of everything",
		"hmm", "how can i fix this", "what should i do", "that helps", "makes sense",
		"i see", "thank you so much", "I feel lost again", "because", "bye",
	}
	m := New("s1", Options{})
	prev := m.Phase()
	for i, msg := range messages {
		res := m.Update(turn(i+1, msg, "calm", 0.6), nil)
		assert.GreaterOrEqual(t, int(res.Phase), int(prev), "turn %d", i+1)
		assert.LessOrEqual(t, int(res.Phase-prev), 1, "turn %d skipped a phase", i+1)
		prev = res.Phase
	}
	assert.Equal(t, phase.Closing, m.Phase())
}

func TestMemory_Breakthrough(t *testing.T) {
	tests := []struct {
		emotion string
		want    bool
	}{
		{"anger", false},
		{"relief", true},
	}
	for _, tt := range tests {
		t.Run(tt.emotion, func(t *testing.T) {
			m := New("s1", Options{})
			pub := &capture{}
			res := m.Update(turn(1, "I realize this is my fault", tt.emotion, 0.8), pub)
			assert.Equal(t, tt.want, res.Breakthrough != "")
			assert.Equal(t, tt.want, len(pub.ofType(cognition.BreakthroughFound)) == 1)
			assert.Equal(t, tt.want, len(m.Breakthroughs()) == 1)
		})
	}
}

func TestMemory_Conflicts(t *testing.T) {
	m := New("s1", Options{})
	pub := &capture{}
	m.Update(turn(1, "everything is too much", "anxiety", 0.9), pub)
	res := m.Update(turn(2, "thank you", "gratitude", 0.8), pub)

	require.Len(t, res.Conflicts, 2)
	assert.Equal(t, signals.SuddenPolarityShift, res.Conflicts[0].Type)
	assert.Equal(t, signals.MixedResolution, res.Conflicts[1].Type)
	assert.Len(t, pub.ofType(cognition.ConflictDetected), 2)
}

func TestMemory_InsightsAreDeduplicated(t *testing.T) {
	m := New("s1", Options{})
	pub := &capture{}
	m.Update(turn(1, "I always mess things up", "sadness", 0.7), pub)
	m.Update(turn(2, "I always mess things up", "sadness", 0.7), pub)
	assert.Len(t, pub.ofType(cognition.InsightExtracted), 1)
	assert.Len(t, m.Snapshot().KeyInsights, 1)
}

func TestMemory_Closure(t *testing.T) {
	m := New("s1", Options{})
	for i := 1; i <= 3; i++ {
		m.Update(turn(i, "hello there", "joy", 0.9), nil)
	}
	require.Equal(t, phase.Opening, m.Phase())
	assert.False(t, m.Closure("joy", 0.9).Ready)

	m.Update(turn(4, "I realize this is my fault", "relief", 0.9), nil)
	m.Update(turn(5, "hello there", "joy", 0.9), nil)
	require.Equal(t, 5, m.TotalExchanges())
	require.Len(t, m.Breakthroughs(), 1)

	c := m.Closure("joy", 0.9)
	assert.True(t, c.Ready)
	assert.True(t, m.Closure("JOY", 0.9).Ready)
	assert.False(t, m.Closure("joy", 0.4).Ready)
	assert.False(t, m.Closure("sadness", 0.9).Ready)

	data := c.Data()
	assert.Equal(t, "positive_resolution", data["reason"])
	indicators := data["wellness_indicators"].(map[string]any)
	assert.Equal(t, 5, indicators["total_turns"])
	assert.Equal(t, 1, indicators["breakthroughs"])
	assert.Equal(t, "opening", indicators["phase"])
}

func TestMemory_ClosureInLatePhase(t *testing.T) {
	m := FromSnapshot(Snapshot{
		SessionID:      "s1",
		Phase:          phase.Technique,
		EmotionJourney: make([]JournalEntry, 4),
	}, Options{})
	assert.True(t, m.Closure("calm", 0.6).Ready)
}

func TestMemory_AntiRepetitionGuidance(t *testing.T) {
	m := New("s1", Options{})
	assert.Empty(t, m.AntiRepetitionGuidance())

	for i := 1; i <= 3; i++ {
		m.Update(TurnInput{
			Turn:      i,
			Message:   "still anxious",
			Response:  fmt.Sprintf("Let's try grounding %d. What do you notice around you?", i),
			Emotion:   "anxiety",
			Intensity: 0.7,
			Technique: "grounding",
		}, nil)
	}
	m.LogExercise(3, signals.ExerciseGrounding, signals.OutcomeHelped, "that helped a lot", nil)

	g := m.AntiRepetitionGuidance()
	lines := strings.Split(g, "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "DO NOT start your response with any of these patterns: let's try grounding 1."))
	assert.True(t, strings.HasPrefix(lines[1], "DO NOT ask about these themes again: "))
	assert.Equal(t, "AVOID using these overused techniques: grounding. Try something different.", lines[2])
	assert.Contains(t, lines[3], "completed 1 exercise(s) (grounding)")
}

func TestMemory_ContextString(t *testing.T) {
	m := New("s1", Options{})
	m.Update(turn(1, "I'm really anxious about work deadlines", "anxiety", 0.9), nil)
	m.AddGoal("sleep better")

	ctx := m.ContextString()
	assert.True(t, strings.HasPrefix(ctx, "CONVERSATION STATE:\n- Phase: OPENING (exchange 2 in this phase)\n- Total exchanges: 1\n"))
	assert.Contains(t, ctx, "- User's topics: work, anxiety\n")
	assert.Contains(t, ctx, "- CURRENT emotional state (with decay): anxiety(0.8 - strong)\n")
	assert.Contains(t, ctx, "- Dominant emotion NOW: anxiety (relevance: 0.8)\n")
	assert.Contains(t, ctx, "- User's goals: sleep better\n")
	assert.Contains(t, ctx, "- Techniques used: reflective_listening(1x)\n")
	assert.True(t, strings.HasSuffix(ctx, "\nPHASE GUIDANCE: "+phase.Opening.Guidance()))
}

func TestMemory_EmotionSummary(t *testing.T) {
	m := New("s1", Options{})
	assert.Equal(t, "No emotional data yet", m.EmotionSummary())

	m.emotions.Load(salience.Weights{
		{Key: "fear", Weight: 0.3},
		{Key: "anxiety", Weight: 0.8},
		{Key: "sadness", Weight: 0.6},
	})
	assert.Equal(t, "anxiety(0.8 - strong), sadness(0.6), fear(0.3 - fading)", m.EmotionSummary())
	e, w := m.Dominant()
	assert.Equal(t, "anxiety", e)
	assert.Equal(t, 0.8, w)
}

func TestMemory_LogExercise(t *testing.T) {
	m := New("s1", Options{})
	pub := &capture{}

	rec := m.LogExercise(2, signals.ExerciseBreathing, signals.OutcomeHelped, strings.Repeat("ok ", 60), pub)
	assert.Equal(t, "unknown", rec.EmotionBefore)

	events := pub.ofType(cognition.ExerciseCompleted)
	require.Len(t, events, 1)
	assert.Equal(t, "s1-turn2", events[0].CorrelationID)
	assert.Len(t, events[0].Data["user_feedback"], 100)
	assert.Equal(t, 1, events[0].Data["total_exercises"])

	m.Update(turn(3, "hi", "calm", 0.9), nil)
	assert.Equal(t, "calm", m.LogExercise(3, signals.ExerciseGeneral, signals.OutcomeNeutral, "", nil).EmotionBefore)
}

func TestMemory_Clarification(t *testing.T) {
	m := New("s1", Options{})
	_, ok := m.TakeClarification()
	assert.False(t, ok)

	m.SetClarification("demon")
	word, ok := m.TakeClarification()
	assert.True(t, ok)
	assert.Equal(t, "demon", word)
	_, ok = m.TakeClarification()
	assert.False(t, ok)
}

func TestMemory_Summary(t *testing.T) {
	m := New("s1", Options{})
	assert.Nil(t, m.Summary().EmotionalDelta)
	assert.Contains(t, m.Summary().Reason(), "started feeling unknown")

	m.Update(turn(1, "I'm anxious about my job", "anxiety", 0.9), nil)
	m.Update(turn(2, "I realize it's ok", "relief", 0.8), nil)
	m.Update(TurnInput{Turn: 3, Message: "thanks", Emotion: "calm", Intensity: 0.7, Technique: "validation"}, nil)

	s := m.Summary()
	require.NotNil(t, s.EmotionalDelta)
	assert.Equal(t, "anxiety", s.EmotionalDelta.StartEmotion)
	assert.Equal(t, "calm", s.EmotionalDelta.EndEmotion)
	assert.True(t, s.EmotionalDelta.Shifted)
	assert.Equal(t, 1, s.Breakthroughs)
	assert.Equal(t, 2, s.UniqueTechniques)
	assert.Equal(t, 3, s.TechniqueUses)
	assert.Equal(t,
		"Session concluded after 3 exchanges. User started feeling anxiety and ended feeling calm. 1 breakthrough(s) detected. 2 different techniques used.",
		s.Reason())

	data := s.Data()
	assert.Equal(t, "opening", data["final_phase"])
	assert.Equal(t, map[string]int{"reflective_listening": 2, "validation": 1},
		data["techniques_diversity"].(map[string]any)["techniques_breakdown"])
}

func TestSnapshot_RoundTrip(t *testing.T) {
	m := New("s1", Options{})
	m.Update(turn(1, "I'm really anxious about work deadlines", "anxiety", 0.9), nil)
	m.Update(turn(2, "I've been feeling this way since my boss changed", "anxiety", 0.6), nil)
	m.LogExercise(2, signals.ExerciseBreathing, signals.OutcomeHelped, "better", nil)
	m.AddGoal("rest")

	want := m.Snapshot()
	raw, err := json.Marshal(want)
	require.NoError(t, err)

	var decoded Snapshot
	require.NoError(t, json.Unmarshal(raw, &decoded))
	got := FromSnapshot(decoded, Options{}).Snapshot()

	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty(), cmpopts.EquateApproxTime(time.Microsecond)); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}

	restored := FromSnapshot(decoded, Options{})
	next := restored.Update(turn(3, "ok", "anxiety", 0.5), nil)
	assert.Equal(t, 3, next.TotalExchanges)
}

func TestMemory_WeakReinforcementEvicts(t *testing.T) {
	m := New("s1", Options{})
	m.Update(turn(1, "I miss her", "sadness", 0.4), nil)

	pub := &capture{}
	m.Update(turn(2, "I guess it's fine", "sadness", 0), pub)

	detected := pub.ofType(cognition.EmotionDetected)
	require.Len(t, detected, 1)
	data := detected[0].Data
	assert.Equal(t, false, data["is_new"])
	assert.Equal(t, false, data["stored"])
	assert.Equal(t, true, data["evicted"])
	assert.InDelta(t, 0.252, data["previous_weight"], eps)
	assert.InDelta(t, 0.1512, data["blended_weight"], eps)
	assert.Contains(t, detected[0].Reason, "below fade threshold")
	assert.Empty(t, data["all_emotions"])

	assert.Empty(t, m.EmotionWeights())
	emotion, w := m.Dominant()
	assert.Equal(t, DefaultEmotion, emotion)
	assert.Equal(t, DefaultIntensity, w)
}

func TestMemory_WeakFirstObservationNotStored(t *testing.T) {
	m := New("s1", Options{})
	pub := &capture{}
	m.Update(turn(1, "it's nothing really", "fear", 0.2), pub)

	detected := pub.ofType(cognition.EmotionDetected)
	require.Len(t, detected, 1)
	assert.Equal(t, true, detected[0].Data["is_new"])
	assert.Equal(t, false, detected[0].Data["stored"])
	assert.Equal(t, false, detected[0].Data["evicted"])
	assert.NotContains(t, detected[0].Reason, "stored:")
	assert.Contains(t, detected[0].Reason, "not stored")
	assert.Empty(t, m.EmotionWeights())
}

func TestSnapshot_RoundTripKeepsLowReinforcedWeights(t *testing.T) {
	m := New("s1", Options{})
	m.Update(turn(1, "I miss her", "sadness", 0.9), nil)
	m.Update(turn(2, "and the job is a mess", "anxiety", 0.8), nil)
	// sadness: 0.3969*0.6 + 0.05*0.4 = 0.25814
	m.Update(turn(3, "I guess it's fine", "sadness", 0.05), nil)
	// anxiety: 0.3528*0.6 + 0.1*0.4 = 0.25168
	m.Update(turn(4, "still here", "anxiety", 0.1), nil)
	require.Len(t, m.EmotionWeights(), 1)
	assert.InDelta(t, 0.25168, weight(t, m, "anxiety"), 1e-6)

	for _, e := range m.EmotionWeights() {
		assert.GreaterOrEqual(t, e.Weight, salience.DefaultFadeThreshold, "live %s", e.Key)
	}

	raw, err := json.Marshal(m.Snapshot())
	require.NoError(t, err)
	var decoded Snapshot
	require.NoError(t, json.Unmarshal(raw, &decoded))
	restored := FromSnapshot(decoded, Options{})

	if diff := cmp.Diff(m.EmotionWeights(), restored.EmotionWeights(), cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("emotion weights changed across restore (-live +restored):\n%s", diff)
	}
	wantEmotion, wantWeight := m.Dominant()
	gotEmotion, gotWeight := restored.Dominant()
	assert.Equal(t, wantEmotion, gotEmotion)
	assert.InDelta(t, wantWeight, gotWeight, eps)
	assert.Equal(t, m.ContextString(), restored.ContextString())
}

func TestFromSnapshot_Sanitizes(t *testing.T) {
	m := FromSnapshot(Snapshot{
		SessionID:        "s1",
		Phase:            phase.Phase(42),
		ExchangesInPhase: 9,
		EmotionJourney:   make([]JournalEntry, 2),
	}, Options{})
	assert.Equal(t, phase.Opening, m.Phase())
	assert.Equal(t, 2, m.TotalExchanges())
	assert.Equal(t, 2, m.ExchangesInPhase())
}
