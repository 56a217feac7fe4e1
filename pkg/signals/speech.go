package signals

import "strings"

// SpeechHint flags a probable transcription error.
type SpeechHint struct {
	UnclearWord string `json:"unclear_word"`
	Correction  string `json:"suggested_correction"`
	Context     string `json:"context"`
	Original    string `json:"original_message"`
}

type correction struct {
	word, fix, context string
}

const (
	contextWellness    = "wellness/therapy"
	contextRecognition = "speech_recognition_error"
)

// Known misrecognitions are checked first, then words that rarely belong in
// a coaching conversation.
var speechCorrections = []correction{
	{"exorcist", "exercise", contextWellness},
	{"exercice", "exercise", contextWellness},
	{"exercist", "exercise", contextWellness},
	{"excersize", "exercise", contextWellness},
	{"breath thing", "breathing", contextWellness},
	{"ground thing", "grounding", contextWellness},
	{"demon", "them", contextRecognition},
}

// DetectUnclearSpeech returns the first known misrecognition in message.
func DetectUnclearSpeech(message string) (SpeechHint, bool) {
	lower := strings.ToLower(message)
	for _, c := range speechCorrections {
		if strings.Contains(lower, c.word) {
			return SpeechHint{
				UnclearWord: c.word,
				Correction:  c.fix,
				Context:     c.context,
				Original:    message,
			}, true
		}
	}
	return SpeechHint{}, false
}

// Correct applies hint to message. The result is lower-cased.
func Correct(message string, hint SpeechHint) string {
	lower := strings.ToLower(message)
	if hint.UnclearWord == "" {
		return lower
	}
	return strings.ReplaceAll(lower, hint.UnclearWord, hint.Correction)
}
