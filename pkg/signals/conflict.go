package signals

import (
	"fmt"
	"strings"

	"github.com/mindwell/convomem/pkg/salience"
)

// Conflict types.
const (
	SuddenPolarityShift = "sudden_polarity_shift"
	MixedResolution     = "mixed_resolution"
)

const (
	shiftIntensity   = 0.6
	lingeringWeight  = 0.4
	gratitudeEmotion = "gratitude"
)

// Observation is one classified emotion.
type Observation struct {
	Emotion   string
	Intensity float64
}

// Conflict is a contradictory emotional pattern.
type Conflict struct {
	Type           string
	From           Observation
	To             string
	Lingering      salience.Weights
	Interpretation string
	Reason         string
}

// Data returns the event payload for c.
func (c Conflict) Data() map[string]any {
	switch c.Type {
	case SuddenPolarityShift:
		return map[string]any{
			"conflict_type":   c.Type,
			"from_emotion":    c.From.Emotion,
			"from_intensity":  c.From.Intensity,
			"to_emotion":      c.To,
			"exchanges_apart": 1,
			"interpretation":  c.Interpretation,
		}
	default:
		return map[string]any{
			"conflict_type":       c.Type,
			"gratitude_expressed": true,
			"lingering_negatives": c.Lingering,
			"interpretation":      c.Interpretation,
		}
	}
}

// Conflicts compares the current emotion against the previous observation
// and the live emotion ledger. Both conflict kinds may fire on one turn.
func Conflicts(previous Observation, current string, weights salience.Weights) []Conflict {
	var out []Conflict

	if IsPositive(current) && IsNegative(previous.Emotion) && previous.Intensity > shiftIntensity {
		out = append(out, Conflict{
			Type:           SuddenPolarityShift,
			From:           previous,
			To:             current,
			Interpretation: "User may be suppressing or processing emotions rapidly",
			Reason: fmt.Sprintf(
				"Detected emotional conflict: user shifted from %s (%.0f%%) to %s in one exchange - may indicate emotional processing or suppression",
				previous.Emotion, previous.Intensity*100, current),
		})
	}

	if current == gratitudeEmotion {
		var lingering salience.Weights
		var names []string
		for _, e := range weights {
			if IsNegative(e.Key) && e.Weight > lingeringWeight {
				lingering = append(lingering, e)
				names = append(names, e.Key)
			}
		}
		if len(lingering) > 0 {
			out = append(out, Conflict{
				Type:           MixedResolution,
				To:             current,
				Lingering:      lingering,
				Interpretation: "User showing gratitude despite unresolved negative emotions",
				Reason: fmt.Sprintf(
					"User expressed gratitude but still has elevated %s - partial but incomplete resolution",
					strings.Join(names, ", ")),
			})
		}
	}

	return out
}
