// Package conversation keeps the evolving state of one coaching session:
// what the user feels and talks about right now, what was already said, and
// where the conversation stands in its progression.
package conversation

import (
	"math"
	"time"

	"github.com/mindwell/convomem/pkg/phase"
	"github.com/mindwell/convomem/pkg/salience"
)

// Input defaults.
const (
	DefaultEmotion   = "neutral"
	DefaultIntensity = 0.5
	DefaultTechnique = "general"
)

// Options tunes the salience ledgers of a Memory.
type Options struct {
	EmotionDecay  float64
	TopicDecay    float64
	FadeThreshold float64
}

// DefaultOptions returns the standard ledger tuning.
func DefaultOptions() Options {
	return Options{
		EmotionDecay:  salience.DefaultEmotionDecay,
		TopicDecay:    salience.DefaultTopicDecay,
		FadeThreshold: salience.DefaultFadeThreshold,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.EmotionDecay <= 0 || o.EmotionDecay > 1 {
		o.EmotionDecay = d.EmotionDecay
	}
	if o.TopicDecay <= 0 || o.TopicDecay > 1 {
		o.TopicDecay = d.TopicDecay
	}
	if o.FadeThreshold <= 0 || o.FadeThreshold >= 1 {
		o.FadeThreshold = d.FadeThreshold
	}
	return o
}

// JournalEntry is one classified emotion in the order it was observed.
type JournalEntry struct {
	Emotion   string    `json:"emotion"`
	Intensity float64   `json:"intensity"`
	Exchange  int       `json:"exchange"`
	Timestamp time.Time `json:"timestamp"`
}

// ExerciseRecord is a completed exercise and how it went.
type ExerciseRecord struct {
	Type          string    `json:"exercise_type"`
	Outcome       string    `json:"outcome"`
	Feedback      string    `json:"user_feedback"`
	Timestamp     time.Time `json:"timestamp"`
	EmotionBefore string    `json:"emotion_before"`
}

// TechniqueCount is the usage count of one technique.
type TechniqueCount struct {
	Technique string `json:"technique"`
	Count     int    `json:"count"`
}

// Memory is the state of one session. A Memory is not safe for concurrent
// use; Registry serializes access per session.
type Memory struct {
	sessionID string
	opts      Options
	now       func() time.Time

	phase            phase.Phase
	exchangesInPhase int
	totalExchanges   int

	journey    []JournalEntry
	emotions   *salience.Ledger
	topics     *salience.Ledger
	userTopics []string

	insights      []string
	breakthroughs []string
	techniques    tally
	patterns      orderedSet
	questions     orderedSet
	goals         []string
	exercises     []ExerciseRecord
	clarification string

	createdAt    time.Time
	lastActivity time.Time
}

// New creates an empty memory in the opening phase.
func New(sessionID string, opts Options) *Memory {
	opts = opts.withDefaults()
	m := &Memory{
		sessionID: sessionID,
		opts:      opts,
		now:       time.Now,
		phase:     phase.Opening,
		emotions:  salience.NewLedger(opts.EmotionDecay, opts.FadeThreshold),
		topics:    salience.NewLedger(opts.TopicDecay, opts.FadeThreshold),
	}
	m.createdAt = m.now().UTC()
	m.lastActivity = m.createdAt
	return m
}

// SessionID returns the session the memory belongs to.
func (m *Memory) SessionID() string { return m.sessionID }

// Phase returns the current phase.
func (m *Memory) Phase() phase.Phase { return m.phase }

// ExchangesInPhase returns the number of exchanges since the last transition.
func (m *Memory) ExchangesInPhase() int { return m.exchangesInPhase }

// TotalExchanges returns the number of exchanges so far.
func (m *Memory) TotalExchanges() int { return m.totalExchanges }

// Breakthroughs returns the recorded breakthroughs.
func (m *Memory) Breakthroughs() []string { return clone(m.breakthroughs) }

// LastActivity returns the time of the last mutation.
func (m *Memory) LastActivity() time.Time { return m.lastActivity }

// CreatedAt returns the creation time.
func (m *Memory) CreatedAt() time.Time { return m.createdAt }

// EmotionWeights returns the live emotion ledger in insertion order.
func (m *Memory) EmotionWeights() salience.Weights { return m.emotions.Entries() }

// TopicWeights returns the live topic ledger in insertion order.
func (m *Memory) TopicWeights() salience.Weights { return m.topics.Entries() }

// Journey returns the emotion journal.
func (m *Memory) Journey() []JournalEntry {
	return append([]JournalEntry(nil), m.journey...)
}

// Exercises returns the logged exercises, oldest first.
func (m *Memory) Exercises() []ExerciseRecord {
	return append([]ExerciseRecord(nil), m.exercises...)
}

// Techniques returns technique usage counts in first-use order.
func (m *Memory) Techniques() []TechniqueCount { return m.techniques.items() }

// Dominant returns the emotion with the highest live weight, or the neutral
// default when nothing is live.
func (m *Memory) Dominant() (emotion string, weight float64) {
	if key, w, ok := m.emotions.Dominant(); ok {
		return key, w
	}
	return DefaultEmotion, DefaultIntensity
}

// AddGoal records a goal the user stated.
func (m *Memory) AddGoal(goal string) {
	if goal == "" {
		return
	}
	m.goals = append(m.goals, goal)
	m.touch()
}

// SetClarification marks a word the assistant should check with the user.
func (m *Memory) SetClarification(word string) {
	m.clarification = word
	m.touch()
}

// TakeClarification returns and clears the pending clarification.
func (m *Memory) TakeClarification() (string, bool) {
	word := m.clarification
	m.clarification = ""
	return word, word != ""
}

func (m *Memory) touch() {
	m.lastActivity = m.now().UTC()
}

func normalizeIntensity(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return DefaultIntensity
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func clone(s []string) []string {
	return append([]string(nil), s...)
}

// tally counts occurrences and remembers first-seen order.
type tally struct {
	names  []string
	counts map[string]int
}

func (t *tally) inc(name string) int {
	t.add(name, 1)
	return t.counts[name]
}

func (t *tally) add(name string, n int) {
	if t.counts == nil {
		t.counts = make(map[string]int)
	}
	if _, ok := t.counts[name]; !ok {
		t.names = append(t.names, name)
	}
	t.counts[name] += n
}

// top returns the name with the highest count, first-seen on ties, or def
// when empty.
func (t *tally) top(def string) string {
	best, name := 0, def
	for _, n := range t.names {
		if c := t.counts[n]; c > best {
			best, name = c, n
		}
	}
	return name
}

func (t *tally) max() int {
	best := 0
	for _, c := range t.counts {
		best = max(best, c)
	}
	return best
}

func (t *tally) total() int {
	sum := 0
	for _, c := range t.counts {
		sum += c
	}
	return sum
}

func (t *tally) snapshot() map[string]int {
	out := make(map[string]int, len(t.counts))
	for name, c := range t.counts {
		out[name] = c
	}
	return out
}

func (t *tally) items() []TechniqueCount {
	out := make([]TechniqueCount, 0, len(t.names))
	for _, name := range t.names {
		out = append(out, TechniqueCount{Technique: name, Count: t.counts[name]})
	}
	return out
}

func (t *tally) load(items []TechniqueCount) {
	t.names, t.counts = nil, make(map[string]int, len(items))
	for _, it := range items {
		if _, ok := t.counts[it.Technique]; !ok {
			t.names = append(t.names, it.Technique)
		}
		t.counts[it.Technique] = it.Count
	}
}

// orderedSet is a string set that remembers insertion order.
type orderedSet struct {
	items []string
	index map[string]struct{}
}

func (s *orderedSet) add(v string) bool {
	if s.index == nil {
		s.index = make(map[string]struct{})
	}
	if _, ok := s.index[v]; ok {
		return false
	}
	s.index[v] = struct{}{}
	s.items = append(s.items, v)
	return true
}

func (s *orderedSet) len() int { return len(s.items) }

// last returns up to n most recently added items, oldest first.
func (s *orderedSet) last(n int) []string {
	if len(s.items) <= n {
		return clone(s.items)
	}
	return clone(s.items[len(s.items)-n:])
}

func (s *orderedSet) load(items []string) {
	s.items, s.index = nil, nil
	for _, it := range items {
		s.add(it)
	}
}
