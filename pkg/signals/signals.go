// Package signals extracts conversational signals from user text.
//
// Every extractor is a pure function: the same input always yields the same
// output and a missing signal is reported as a zero value, never an error.
// Matching is case-insensitive substring matching.
package signals

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Positive and negative affect as used by breakthrough and conflict
// detection.
var (
	PositiveEmotions = set("relief", "calm", "gratitude", "hopeful", "curious", "peaceful", "content")
	NegativeEmotions = set("anxiety", "sadness", "frustration", "anger", "fear", "overwhelmed", "stressed")
)

func set(items ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, it := range items {
		m[it] = struct{}{}
	}
	return m
}

// IsPositive reports whether emotion belongs to the positive set.
func IsPositive(emotion string) bool {
	_, ok := PositiveEmotions[emotion]
	return ok
}

// IsNegative reports whether emotion belongs to the negative set.
func IsNegative(emotion string) bool {
	_, ok := NegativeEmotions[emotion]
	return ok
}

func containsAny(lower string, needles []string) (string, bool) {
	for _, n := range needles {
		if strings.Contains(lower, n) {
			return n, true
		}
	}
	return "", false
}

// text keeps a message and a rune-aligned lower-case copy so that match
// positions found in the lower-case copy index the original.
type text struct {
	orig  []rune
	lower string
}

func newText(s string) text {
	r := []rune(s)
	l := make([]rune, len(r))
	for i, c := range r {
		l[i] = unicode.ToLower(c)
	}
	return text{orig: r, lower: string(l)}
}

// index returns the rune offset of the first occurrence of needle, or -1.
func (t text) index(needle string) int {
	b := strings.Index(t.lower, needle)
	if b < 0 {
		return -1
	}
	return utf8.RuneCountInString(t.lower[:b])
}

// slice returns orig[from:to] clamped to the message bounds.
func (t text) slice(from, to int) string {
	if from < 0 {
		from = 0
	}
	if to > len(t.orig) {
		to = len(t.orig)
	}
	if from >= to {
		return ""
	}
	return string(t.orig[from:to])
}
