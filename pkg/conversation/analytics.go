package conversation

import (
	"math"
	"time"
)

// ActiveWindow is how recently a session must have had an exchange to count
// as active.
const ActiveWindow = 5 * time.Minute

// SessionOverview is the dashboard row of one session.
type SessionOverview struct {
	SessionID       string     `json:"session_id"`
	StartTime       *time.Time `json:"start_time"`
	LastActivity    *time.Time `json:"last_activity"`
	TotalTurns      int        `json:"total_turns"`
	CurrentPhase    string     `json:"current_phase"`
	DominantEmotion string     `json:"dominant_emotion"`
	TechniquesUsed  []string   `json:"techniques_used"`
	Breakthroughs   int        `json:"breakthroughs"`
	IsActive        bool       `json:"is_active"`
	InsightsCount   int        `json:"insights_count"`
	Topics          []string   `json:"topics"`
}

// OverviewStats aggregates across sessions.
type OverviewStats struct {
	TotalSessions      int     `json:"total_sessions"`
	ActiveSessions     int     `json:"active_sessions"`
	TotalTurns         int     `json:"total_turns"`
	TotalBreakthroughs int     `json:"total_breakthroughs"`
	AvgSessionLength   float64 `json:"avg_session_length"`
	MostCommonEmotion  string  `json:"most_common_emotion"`
	MostUsedTechnique  string  `json:"most_used_technique"`
}

// Overview summarizes snapshots for the dashboard. Sessions whose last
// exchange is within ActiveWindow of now are active.
func Overview(snaps []Snapshot, now time.Time) ([]SessionOverview, OverviewStats) {
	var stats OverviewStats
	emotions := &tally{}
	techniques := &tally{}
	rows := make([]SessionOverview, 0, len(snaps))

	for _, s := range snaps {
		row := SessionOverview{
			SessionID:       s.SessionID,
			TotalTurns:      s.TotalExchanges,
			CurrentPhase:    s.Phase.String(),
			DominantEmotion: DefaultEmotion,
			TechniquesUsed:  []string{},
			Breakthroughs:   len(s.Breakthroughs),
			InsightsCount:   len(s.KeyInsights),
			Topics:          clone(lastN(s.UserTopics, recentTopics)),
		}
		if n := len(s.EmotionJourney); n > 0 {
			start, last := s.EmotionJourney[0].Timestamp, s.EmotionJourney[n-1].Timestamp
			row.StartTime, row.LastActivity = &start, &last
			row.IsActive = now.Sub(last) < ActiveWindow
		}
		if key, _, ok := dominant(s); ok {
			row.DominantEmotion = key
		}
		for _, e := range s.EmotionJourney {
			emotions.inc(e.Emotion)
		}
		for _, t := range s.TechniquesUsed {
			row.TechniquesUsed = append(row.TechniquesUsed, t.Technique)
			techniques.add(t.Technique, t.Count)
		}

		if row.IsActive {
			stats.ActiveSessions++
		}
		stats.TotalTurns += s.TotalExchanges
		stats.TotalBreakthroughs += len(s.Breakthroughs)
		rows = append(rows, row)
	}

	stats.TotalSessions = len(rows)
	stats.AvgSessionLength = float64(stats.TotalTurns) / float64(max(len(rows), 1))
	stats.MostCommonEmotion = emotions.top(DefaultEmotion)
	stats.MostUsedTechnique = techniques.top("validation")
	return rows, stats
}

// EmotionAnalytics is emotion frequency and mean intensity across sessions.
type EmotionAnalytics struct {
	Frequency    map[string]int     `json:"frequency"`
	AvgIntensity map[string]float64 `json:"avg_intensity"`
}

// Emotions computes emotion analytics over every journal entry. Averages
// are rounded to two decimals.
func Emotions(snaps []Snapshot) EmotionAnalytics {
	out := EmotionAnalytics{
		Frequency:    make(map[string]int),
		AvgIntensity: make(map[string]float64),
	}
	sums := make(map[string]float64)
	for _, s := range snaps {
		for _, e := range s.EmotionJourney {
			out.Frequency[e.Emotion]++
			sums[e.Emotion] += e.Intensity
		}
	}
	for emotion, n := range out.Frequency {
		out.AvgIntensity[emotion] = math.Round(sums[emotion]/float64(n)*100) / 100
	}
	return out
}

// TechniqueAnalytics is technique usage across sessions.
type TechniqueAnalytics struct {
	UsageCount map[string]int `json:"usage_count"`
}

// Techniques sums technique usage over sessions.
func Techniques(snaps []Snapshot) TechniqueAnalytics {
	out := TechniqueAnalytics{UsageCount: make(map[string]int)}
	for _, s := range snaps {
		for _, t := range s.TechniquesUsed {
			out.UsageCount[t.Technique] += t.Count
		}
	}
	return out
}

func dominant(s Snapshot) (key string, weight float64, ok bool) {
	for _, e := range s.EmotionWeights {
		if !ok || e.Weight > weight {
			key, weight, ok = e.Key, e.Weight, true
		}
	}
	return key, weight, ok
}
