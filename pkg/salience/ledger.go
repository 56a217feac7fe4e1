// Package salience implements decaying relevance weights for the signals a
// conversation keeps in focus (emotions, topics).
package salience

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// Default tuning for conversation ledgers.
const (
	DefaultEmotionDecay  = 0.7
	DefaultTopicDecay    = 0.85
	DefaultFadeThreshold = 0.2

	historyWeight    = 0.6
	intensityWeight  = 0.4
	reobservedFloor  = 0.8
	firstObservation = 0.9
)

// Change describes one entry that survived a decay pass.
type Change struct {
	Key  string
	From float64
	To   float64
}

// DecayResult reports what a decay pass did.
type DecayResult struct {
	Decayed []Change
	Faded   []string
}

// Ledger is an insertion-ordered map of weights in [0,1] that decays by a
// fixed factor per pass. Entries below the fade threshold are evicted.
// A Ledger is not safe for concurrent use.
type Ledger struct {
	factor    float64
	threshold float64
	keys      []string
	weights   map[string]float64
}

// NewLedger creates an empty ledger.
func NewLedger(factor, threshold float64) *Ledger {
	return &Ledger{
		factor:    factor,
		threshold: threshold,
		weights:   make(map[string]float64),
	}
}

// Factor returns the per-pass decay multiplier.
func (l *Ledger) Factor() float64 { return l.factor }

// Threshold returns the fade threshold.
func (l *Ledger) Threshold() float64 { return l.threshold }

// Decay multiplies every weight by the decay factor and evicts entries that
// fall below the fade threshold.
func (l *Ledger) Decay() DecayResult {
	var res DecayResult
	kept := l.keys[:0]
	for _, key := range l.keys {
		from := l.weights[key]
		to := from * l.factor
		if to < l.threshold {
			delete(l.weights, key)
			res.Faded = append(res.Faded, key)
			continue
		}
		l.weights[key] = to
		kept = append(kept, key)
		res.Decayed = append(res.Decayed, Change{Key: key, From: from, To: to})
	}
	l.keys = kept
	return res
}

// Reset sets key to full relevance.
func (l *Ledger) Reset(key string) {
	l.set(key, 1.0)
}

// BlendResult reports how an observation changed one entry.
type BlendResult struct {
	Prev float64
	Next float64
	// Stored is false when Next fell below the fade threshold. A new key is
	// then not admitted and an existing key is evicted.
	Stored bool
}

// New reports whether the key had no live entry before the observation.
func (r BlendResult) New() bool { return r.Prev == 0 }

// Evicted reports whether a live entry was removed by the observation.
func (r BlendResult) Evicted() bool { return r.Prev > 0 && !r.Stored }

// Blend folds a new observation into the ledger. A previously seen key keeps
// the higher of a history-favoring blend and a floor of the raw intensity; a
// new key starts slightly dampened. A result below the fade threshold is never
// stored.
func (l *Ledger) Blend(key string, intensity float64) BlendResult {
	intensity = clamp(intensity)
	res := BlendResult{Prev: l.weights[key]}
	if res.Prev > 0 {
		res.Next = math.Max(res.Prev*historyWeight+intensity*intensityWeight, intensity*reobservedFloor)
	} else {
		res.Next = intensity * firstObservation
	}
	res.Next = clamp(res.Next)
	if res.Next < l.threshold {
		l.remove(key)
		return res
	}
	l.set(key, res.Next)
	res.Stored = true
	return res
}

// Weight returns the weight of key and whether it is present.
func (l *Ledger) Weight(key string) (float64, bool) {
	w, ok := l.weights[key]
	return w, ok
}

// Len returns the number of live entries.
func (l *Ledger) Len() int { return len(l.keys) }

// Keys returns live keys in insertion order.
func (l *Ledger) Keys() []string {
	return append([]string(nil), l.keys...)
}

// Entries returns live entries in insertion order.
func (l *Ledger) Entries() Weights {
	out := make(Weights, 0, len(l.keys))
	for _, key := range l.keys {
		out = append(out, Entry{Key: key, Weight: l.weights[key]})
	}
	return out
}

// Dominant returns the entry with the highest weight. Ties go to the key that
// was inserted first. ok is false when the ledger is empty.
func (l *Ledger) Dominant() (key string, weight float64, ok bool) {
	for _, k := range l.keys {
		if w := l.weights[k]; !ok || w > weight {
			key, weight, ok = k, w, true
		}
	}
	return key, weight, ok
}

// Load replaces the ledger contents with entries, keeping their order.
// Entries below the fade threshold are dropped.
func (l *Ledger) Load(entries Weights) {
	l.keys = l.keys[:0]
	l.weights = make(map[string]float64, len(entries))
	for _, e := range entries {
		if w := clamp(e.Weight); w >= l.threshold {
			l.set(e.Key, w)
		}
	}
}

func (l *Ledger) set(key string, w float64) {
	if _, ok := l.weights[key]; !ok {
		l.keys = append(l.keys, key)
	}
	l.weights[key] = w
}

func (l *Ledger) remove(key string) {
	if _, ok := l.weights[key]; !ok {
		return
	}
	delete(l.weights, key)
	for i, k := range l.keys {
		if k == key {
			l.keys = append(l.keys[:i], l.keys[i+1:]...)
			break
		}
	}
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Entry is one weighted key.
type Entry struct {
	Key    string
	Weight float64
}

// Weights is an ordered list of entries. It encodes as a JSON object whose
// keys keep their order.
type Weights []Entry

// Map returns the weights as a plain map.
func (ws Weights) Map() map[string]float64 {
	m := make(map[string]float64, len(ws))
	for _, e := range ws {
		m[e.Key] = e.Weight
	}
	return m
}

// MarshalJSON implements json.Marshaler.
func (ws Weights) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range ws {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.Weight)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (ws *Weights) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*ws = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("salience: weights must be a JSON object, got %v", tok)
	}
	out := Weights{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("salience: unexpected key %v", tok)
		}
		var w float64
		if err := dec.Decode(&w); err != nil {
			return fmt.Errorf("salience: weight for %q: %w", key, err)
		}
		out = append(out, Entry{Key: key, Weight: w})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*ws = out
	return nil
}
