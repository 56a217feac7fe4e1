package eventbus

import (
	"encoding/json"
	"fmt"
	"sync"
)

const defaultDedupWindow = 4096

// EnvelopeConsumer validates and routes envelopes and suppresses duplicate
// deliveries within a bounded window of recent event ids.
type EnvelopeConsumer struct {
	router *SchemaRouter

	mu     sync.Mutex
	seen   map[string]struct{}
	order  []string
	next   int
	window int
}

// NewEnvelopeConsumer creates a schema-aware consumer. router may be nil.
func NewEnvelopeConsumer(router *SchemaRouter, window int) *EnvelopeConsumer {
	if window <= 0 {
		window = defaultDedupWindow
	}
	return &EnvelopeConsumer{
		router: router,
		seen:   make(map[string]struct{}, window),
		order:  make([]string, 0, window),
		window: window,
	}
}

// DecodeAndValidate decodes raw bytes into an envelope. duplicate is true
// when the event id was already consumed.
func (c *EnvelopeConsumer) DecodeAndValidate(raw []byte) (envelope Envelope, decoded any, duplicate bool, err error) {
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Envelope{}, nil, false, fmt.Errorf("eventbus: invalid envelope json: %w", err)
	}

	if c.router != nil {
		if err := c.router.ValidateIncoming(envelope); err != nil {
			return Envelope{}, nil, false, err
		}
	}

	if !c.remember(envelope.EventID) {
		return envelope, nil, true, nil
	}

	decoded = envelope
	if c.router != nil {
		decoded, err = c.router.Decode(envelope)
		if err != nil {
			return Envelope{}, nil, false, err
		}
	}
	return envelope, decoded, false, nil
}

// remember records id and reports whether it was new.
func (c *EnvelopeConsumer) remember(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seen[id]; ok {
		return false
	}
	if len(c.order) < c.window {
		c.order = append(c.order, id)
	} else {
		delete(c.seen, c.order[c.next])
		c.order[c.next] = id
		c.next = (c.next + 1) % c.window
	}
	c.seen[id] = struct{}{}
	return true
}
