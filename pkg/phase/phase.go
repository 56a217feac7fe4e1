// Package phase models the fixed progression of a coaching conversation.
package phase

import (
	"fmt"
	"strings"
)

// Phase is a stage of the conversation. Phases are totally ordered and only
// ever advance.
type Phase int

const (
	Opening Phase = iota
	Exploration
	Deepening
	Technique
	Integration
	Closing
)

var names = [...]string{"opening", "exploration", "deepening", "technique", "integration", "closing"}

// String returns the lower-case phase name.
func (p Phase) String() string {
	if !p.Valid() {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return names[p]
}

// Valid reports whether p is one of the defined phases.
func (p Phase) Valid() bool { return p >= Opening && p <= Closing }

// Terminal reports whether no transition leaves p.
func (p Phase) Terminal() bool { return p == Closing }

// Parse converts a phase name into a Phase.
func Parse(s string) (Phase, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range names {
		if n == s {
			return Phase(i), nil
		}
	}
	return Opening, fmt.Errorf("unknown phase %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Phase) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
