package conversation

import (
	"time"

	"github.com/mindwell/convomem/pkg/phase"
	"github.com/mindwell/convomem/pkg/salience"
)

// Snapshot is a serializable copy of a Memory. Dashboards read it and
// storage persists it.
type Snapshot struct {
	SessionID            string           `json:"session_id"`
	Phase                phase.Phase      `json:"phase"`
	ExchangesInPhase     int              `json:"exchanges_in_phase"`
	TotalExchanges       int              `json:"total_exchanges"`
	EmotionJourney       []JournalEntry   `json:"emotion_journey"`
	EmotionWeights       salience.Weights `json:"emotion_weights"`
	UserTopics           []string         `json:"user_topics"`
	TopicWeights         salience.Weights `json:"topic_weights"`
	KeyInsights          []string         `json:"key_insights"`
	Breakthroughs        []string         `json:"breakthroughs"`
	TechniquesUsed       []TechniqueCount `json:"techniques_used"`
	UsedResponsePatterns []string         `json:"used_response_patterns"`
	QuestionsAsked       []string         `json:"questions_asked"`
	UserGoals            []string         `json:"user_goals"`
	ExercisesCompleted   []ExerciseRecord `json:"exercises_completed"`
	PendingClarification string           `json:"pending_clarification,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
	LastActivity         time.Time        `json:"last_activity"`
}

// Snapshot copies the memory.
func (m *Memory) Snapshot() Snapshot {
	return Snapshot{
		SessionID:            m.sessionID,
		Phase:                m.phase,
		ExchangesInPhase:     m.exchangesInPhase,
		TotalExchanges:       m.totalExchanges,
		EmotionJourney:       m.Journey(),
		EmotionWeights:       m.emotions.Entries(),
		UserTopics:           clone(m.userTopics),
		TopicWeights:         m.topics.Entries(),
		KeyInsights:          clone(m.insights),
		Breakthroughs:        clone(m.breakthroughs),
		TechniquesUsed:       m.techniques.items(),
		UsedResponsePatterns: clone(m.patterns.items),
		QuestionsAsked:       clone(m.questions.items),
		UserGoals:            clone(m.goals),
		ExercisesCompleted:   append([]ExerciseRecord(nil), m.exercises...),
		PendingClarification: m.clarification,
		CreatedAt:            m.createdAt,
		LastActivity:         m.lastActivity,
	}
}

// FromSnapshot rebuilds a Memory. Weights are clamped to [0,1] and counters
// that disagree with the journal are taken from the journal.
func FromSnapshot(s Snapshot, opts Options) *Memory {
	m := New(s.SessionID, opts)
	m.phase = s.Phase
	if !m.phase.Valid() {
		m.phase = phase.Opening
	}
	m.totalExchanges = len(s.EmotionJourney)
	m.exchangesInPhase = min(max(s.ExchangesInPhase, 0), m.totalExchanges)
	m.journey = append([]JournalEntry(nil), s.EmotionJourney...)
	m.emotions.Load(s.EmotionWeights)
	m.topics.Load(s.TopicWeights)
	m.userTopics = clone(s.UserTopics)
	m.insights = clone(s.KeyInsights)
	m.breakthroughs = clone(s.Breakthroughs)
	m.techniques.load(s.TechniquesUsed)
	m.patterns.load(s.UsedResponsePatterns)
	m.questions.load(s.QuestionsAsked)
	m.goals = clone(s.UserGoals)
	m.exercises = append([]ExerciseRecord(nil), s.ExercisesCompleted...)
	m.clarification = s.PendingClarification
	if !s.CreatedAt.IsZero() {
		m.createdAt = s.CreatedAt
	}
	if !s.LastActivity.IsZero() {
		m.lastActivity = s.LastActivity
	}
	return m
}
