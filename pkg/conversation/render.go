package conversation

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/mindwell/convomem/pkg/salience"
)

const (
	recentTopics        = 5
	recentInsights      = 3
	recentBreakthroughs = 2
	recentEmotions      = 3
	recentFingerprints  = 5
	overuseFloor        = 2

	strongWeight = 0.7
	steadyWeight = 0.4
	fadedTopic   = 0.5
)

// EmotionSummary lists live emotions by descending weight, e.g.
// "anxiety(0.8 - strong), sadness(0.4), fear(0.2 - fading)".
func (m *Memory) EmotionSummary() string {
	entries := m.emotions.Entries()
	if len(entries) == 0 {
		return "No emotional data yet"
	}
	slices.SortStableFunc(entries, func(a, b salience.Entry) int {
		return cmp.Compare(b.Weight, a.Weight)
	})

	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		switch {
		case e.Weight < m.emotions.Threshold():
			continue
		case e.Weight >= strongWeight:
			parts = append(parts, fmt.Sprintf("%s(%.1f - strong)", e.Key, e.Weight))
		case e.Weight >= steadyWeight:
			parts = append(parts, fmt.Sprintf("%s(%.1f)", e.Key, e.Weight))
		default:
			parts = append(parts, fmt.Sprintf("%s(%.1f - fading)", e.Key, e.Weight))
		}
	}
	if len(parts) == 0 {
		return "emotions fading"
	}
	return strings.Join(parts, ", ")
}

// ContextString renders the memory as guidance for response generation.
func (m *Memory) ContextString() string {
	var b strings.Builder
	b.WriteString("CONVERSATION STATE:\n")
	fmt.Fprintf(&b, "- Phase: %s (exchange %d in this phase)\n", strings.ToUpper(m.phase.String()), m.exchangesInPhase+1)
	fmt.Fprintf(&b, "- Total exchanges: %d\n", m.totalExchanges)

	if len(m.userTopics) > 0 {
		var topics []string
		for _, t := range lastN(m.userTopics, recentTopics) {
			w, ok := m.topics.Weight(t)
			if !ok {
				w = fadedTopic
			}
			switch {
			case w > fadedTopic:
				topics = append(topics, t)
			case w >= m.topics.Threshold():
				topics = append(topics, t+"(fading)")
			}
		}
		if len(topics) > 0 {
			fmt.Fprintf(&b, "- User's topics: %s\n", strings.Join(topics, ", "))
		}
	}

	if m.emotions.Len() > 0 {
		dominant, weight := m.Dominant()
		fmt.Fprintf(&b, "- CURRENT emotional state (with decay): %s\n", m.EmotionSummary())
		fmt.Fprintf(&b, "- Dominant emotion NOW: %s (relevance: %.1f)\n", dominant, weight)
	} else if len(m.journey) > 0 {
		var recent []string
		for _, e := range m.journey[max(0, len(m.journey)-recentEmotions):] {
			recent = append(recent, e.Emotion)
		}
		fmt.Fprintf(&b, "- Emotional journey: %s\n", strings.Join(recent, " → "))
	}

	if len(m.insights) > 0 {
		fmt.Fprintf(&b, "- Key insights gathered: %s\n", strings.Join(lastN(m.insights, recentInsights), "; "))
	}
	if len(m.goals) > 0 {
		fmt.Fprintf(&b, "- User's goals: %s\n", strings.Join(m.goals, "; "))
	}
	if techniques := m.techniques.items(); len(techniques) > 0 {
		parts := make([]string, len(techniques))
		for i, t := range techniques {
			parts[i] = fmt.Sprintf("%s(%dx)", t.Technique, t.Count)
		}
		fmt.Fprintf(&b, "- Techniques used: %s\n", strings.Join(parts, ", "))
	}
	if n := m.questions.len(); n > 0 {
		fmt.Fprintf(&b, "- Questions already asked (%d): Avoid repeating these themes\n", n)
	}
	if len(m.breakthroughs) > 0 {
		fmt.Fprintf(&b, "- Breakthroughs: %s\n", strings.Join(lastN(m.breakthroughs, recentBreakthroughs), "; "))
	}
	if len(m.exercises) > 0 {
		types := make([]string, len(m.exercises))
		for i, e := range m.exercises {
			types[i] = e.Type
		}
		fmt.Fprintf(&b, "- EXERCISES ALREADY COMPLETED: %s - DO NOT suggest these again or keep discussing them. Move the conversation forward.\n",
			strings.Join(types, ", "))
	}

	fmt.Fprintf(&b, "\nPHASE GUIDANCE: %s", m.phase.Guidance())
	return b.String()
}

// AntiRepetitionGuidance tells the response generator what not to repeat.
// It is empty while there is nothing to avoid.
func (m *Memory) AntiRepetitionGuidance() string {
	var parts []string

	if m.patterns.len() > 0 {
		parts = append(parts, "DO NOT start your response with any of these patterns: "+
			strings.Join(m.patterns.last(recentFingerprints), ", "))
	}
	if m.questions.len() > 0 {
		parts = append(parts, "DO NOT ask about these themes again: "+
			strings.Join(m.questions.last(recentFingerprints), ", "))
	}
	if overused := m.overusedTechniques(); len(overused) > 0 {
		parts = append(parts, fmt.Sprintf("AVOID using these overused techniques: %s. Try something different.",
			strings.Join(overused, ", ")))
	}
	if len(m.exercises) > 0 {
		parts = append(parts, fmt.Sprintf(
			"IMPORTANT: User has already completed %d exercise(s) (%s). "+
				"DO NOT keep talking about exercises or asking about them. Move the conversation forward to other topics. "+
				"Acknowledge briefly if user mentions it again, then redirect.",
			len(m.exercises), strings.Join(m.exerciseTypes(), ", ")))
	}
	return strings.Join(parts, "\n")
}

// overusedTechniques returns the most used techniques once the top count
// exceeds the overuse floor.
func (m *Memory) overusedTechniques() []string {
	top := m.techniques.max()
	if top <= overuseFloor {
		return nil
	}
	var out []string
	for _, t := range m.techniques.items() {
		if t.Count >= top {
			out = append(out, t.Technique)
		}
	}
	return out
}

// exerciseTypes returns distinct completed exercise types in first-seen order.
func (m *Memory) exerciseTypes() []string {
	var seen orderedSet
	for _, e := range m.exercises {
		seen.add(e.Type)
	}
	return seen.items
}

func lastN(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
