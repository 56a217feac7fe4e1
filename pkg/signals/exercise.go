package signals

import "strings"

// Exercise types and outcomes.
const (
	ExerciseBreathing = "breathing"
	ExerciseGrounding = "grounding"
	ExerciseGeneral   = "general"

	OutcomeHelped    = "helped"
	OutcomeDidntHelp = "didnt_help"
	OutcomeNeutral   = "neutral"
)

var (
	exerciseGate = []string{
		"exercise", "exercice", "exorcist", "excersize",
		"breathing", "breath", "grounding", "ground",
		"technique", "that helped", "feel better", "feel calmer",
		"didn't help", "didn't work", "still feel",
	}
	breathingWords = []string{"breath", "breathing"}
	groundingWords = []string{"ground", "grounding", "5 things", "senses"}

	positiveOutcome = []string{"helped", "better", "calmer", "relaxed", "thank", "good", "worked"}
	negativeOutcome = []string{"didn't help", "didn't work", "still", "same", "worse", "not really"}
)

// ExerciseFeedback is feedback a user gave about an exercise.
type ExerciseFeedback struct {
	Type     string `json:"exercise_type"`
	Outcome  string `json:"outcome"`
	Original string `json:"original_message"`
}

// DetectExerciseFeedback reports whether message talks about an exercise and,
// if so, what kind and how it went. Positive outcomes are checked before
// negative ones.
func DetectExerciseFeedback(message string) (ExerciseFeedback, bool) {
	lower := strings.ToLower(message)
	if _, ok := containsAny(lower, exerciseGate); !ok {
		return ExerciseFeedback{}, false
	}

	fb := ExerciseFeedback{Type: ExerciseGeneral, Outcome: OutcomeNeutral, Original: message}
	if _, ok := containsAny(lower, breathingWords); ok {
		fb.Type = ExerciseBreathing
	} else if _, ok := containsAny(lower, groundingWords); ok {
		fb.Type = ExerciseGrounding
	}

	if _, ok := containsAny(lower, positiveOutcome); ok {
		fb.Outcome = OutcomeHelped
	} else if _, ok := containsAny(lower, negativeOutcome); ok {
		fb.Outcome = OutcomeDidntHelp
	}
	return fb, true
}
