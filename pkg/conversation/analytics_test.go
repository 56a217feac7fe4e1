package conversation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindwell/convomem/pkg/salience"
)

func TestOverview(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	snaps := []Snapshot{
		{
			SessionID:      "active",
			TotalExchanges: 3,
			EmotionJourney: []JournalEntry{
				{Emotion: "anxiety", Intensity: 0.8, Timestamp: now.Add(-10 * time.Minute)},
				{Emotion: "anxiety", Intensity: 0.6, Timestamp: now.Add(-5 * time.Minute)},
				{Emotion: "calm", Intensity: 0.7, Timestamp: now.Add(-time.Minute)},
			},
			EmotionWeights: salience.Weights{{Key: "anxiety", Weight: 0.4}, {Key: "calm", Weight: 0.63}},
			TechniquesUsed: []TechniqueCount{{Technique: "grounding", Count: 3}},
			Breakthroughs:  []string{"b"},
			UserTopics:     []string{"a", "b", "c", "d", "e", "f"},
		},
		{
			SessionID:      "idle",
			TotalExchanges: 1,
			EmotionJourney: []JournalEntry{
				{Emotion: "sadness", Intensity: 0.5, Timestamp: now.Add(-time.Hour)},
			},
			TechniquesUsed: []TechniqueCount{{Technique: "validation", Count: 1}},
		},
	}

	rows, stats := Overview(snaps, now)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].IsActive)
	assert.False(t, rows[1].IsActive)
	assert.Equal(t, "calm", rows[0].DominantEmotion)
	assert.Equal(t, DefaultEmotion, rows[1].DominantEmotion)
	assert.Equal(t, []string{"b", "c", "d", "e", "f"}, rows[0].Topics)

	assert.Equal(t, OverviewStats{
		TotalSessions:      2,
		ActiveSessions:     1,
		TotalTurns:         4,
		TotalBreakthroughs: 1,
		AvgSessionLength:   2,
		MostCommonEmotion:  "anxiety",
		MostUsedTechnique:  "grounding",
	}, stats)
}

func TestOverview_Empty(t *testing.T) {
	rows, stats := Overview(nil, time.Now())
	assert.Empty(t, rows)
	assert.Equal(t, DefaultEmotion, stats.MostCommonEmotion)
	assert.Equal(t, "validation", stats.MostUsedTechnique)
	assert.Zero(t, stats.AvgSessionLength)
}

func TestEmotionAndTechniqueAnalytics(t *testing.T) {
	snaps := []Snapshot{
		{
			EmotionJourney: []JournalEntry{{Emotion: "anxiety", Intensity: 0.9}, {Emotion: "anxiety", Intensity: 0.6}},
			TechniquesUsed: []TechniqueCount{{Technique: "grounding", Count: 2}},
		},
		{
			EmotionJourney: []JournalEntry{{Emotion: "calm", Intensity: 0.333}},
			TechniquesUsed: []TechniqueCount{{Technique: "grounding", Count: 1}, {Technique: "validation", Count: 4}},
		},
	}

	e := Emotions(snaps)
	assert.Equal(t, map[string]int{"anxiety": 2, "calm": 1}, e.Frequency)
	assert.Equal(t, map[string]float64{"anxiety": 0.75, "calm": 0.33}, e.AvgIntensity)

	assert.Equal(t, map[string]int{"grounding": 3, "validation": 4}, Techniques(snaps).UsageCount)
}
