package signals

import (
	"strings"
	"unicode/utf8"
)

const (
	patternWords = 5
	themeWords   = 3
	minThemeLen  = 4
)

var themeStopWords = set("what", "that", "this", "your", "with", "about", "have", "does")

// ResponsePattern fingerprints how a response opens: its first five words,
// lower-cased.
func ResponsePattern(response string) string {
	words := strings.Fields(response)
	if len(words) > patternWords {
		words = words[:patternWords]
	}
	return strings.ToLower(strings.Join(words, " "))
}

// QuestionTheme reduces the last question in response to its first three
// content words. ok is false when response asks nothing or the question has
// no content words.
func QuestionTheme(response string) (theme string, ok bool) {
	q := strings.LastIndex(response, "?")
	if q < 0 {
		return "", false
	}
	start := max(strings.LastIndex(response[:q], "."), strings.LastIndex(response[:q], "!"), 0)
	question := strings.TrimSpace(response[start : q+1])

	var keys []string
	for _, w := range strings.Fields(strings.ToLower(question)) {
		if utf8.RuneCountInString(w) < minThemeLen {
			continue
		}
		if _, stop := themeStopWords[w]; stop {
			continue
		}
		keys = append(keys, w)
		if len(keys) == themeWords {
			break
		}
	}
	return strings.Join(keys, " "), len(keys) > 0
}
