package signals

import (
	"fmt"
	"strings"
)

var (
	causalPatterns = []string{"because", "since", "when", "after", "before", "makes me"}
	beliefPatterns = []string{"i think", "i feel like", "i believe", "i always", "i never"}

	breakthroughSignals = []string{
		"i realize", "i never thought", "that makes sense",
		"i see now", "i understand", "aha", "oh wow",
		"you're right", "i didn't think of it", "that's true",
		"that helps", "i feel better", "this is helping",
	}
)

const (
	causalLead    = 20
	causalTail    = 50
	beliefTail    = 60
	breakthroughN = 60
)

// Insight derives at most one insight from message. Causal statements take
// priority over belief statements. It returns "" when nothing matches.
func Insight(message, emotion string) string {
	t := newText(message)
	for _, p := range causalPatterns {
		if idx := t.index(p); idx >= 0 {
			snippet := strings.TrimSpace(t.slice(idx-causalLead, idx+causalTail))
			return fmt.Sprintf("User feels %s %s...", emotion, snippet)
		}
	}
	for _, p := range beliefPatterns {
		if idx := t.index(p); idx >= 0 {
			snippet := strings.TrimSpace(t.slice(idx, idx+beliefTail))
			return fmt.Sprintf("Core belief: '%s'", snippet)
		}
	}
	return ""
}

// Breakthrough reports a moment of insight. Both a lexical signal and a
// positive emotion are required, so the same words under negative affect are
// read as sarcasm or dismissal. It returns "" when there is no breakthrough.
func Breakthrough(message, emotion string) string {
	if !IsPositive(emotion) {
		return ""
	}
	t := newText(message)
	if _, ok := containsAny(t.lower, breakthroughSignals); !ok {
		return ""
	}
	return fmt.Sprintf("User had insight: '%s...'", t.slice(0, breakthroughN))
}
