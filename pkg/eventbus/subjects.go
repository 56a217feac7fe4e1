package eventbus

import (
	"context"
	"errors"
	"strings"
)

// DefaultSubjectPrefix is the subject namespace for conversation cognition
// events.
const DefaultSubjectPrefix = "convomem.v1.cognition"

// ErrBusClosed is returned by a closed bus.
var ErrBusClosed = errors.New("eventbus: bus closed")

// Transport publishes bytes to a subject.
type Transport interface {
	Publish(ctx context.Context, subject string, payload []byte) error
}

// Bus is a Transport that also delivers messages to subscribers.
type Bus interface {
	Transport
	Subscribe(ctx context.Context, pattern string, buffer int) (*Subscription, error)
	Close() error
}

// Subject returns the subject for eventType under prefix. Dotted event types
// keep their segments so consumers can subscribe with wildcards.
func Subject(prefix, eventType string) string {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return prefix + "." + sanitizeSegment(eventType)
}

// WildcardSubject matches every subject under prefix.
func WildcardSubject(prefix string) string {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return prefix + ".>"
}

func sanitizeSegment(value string) string {
	value = strings.Trim(strings.TrimSpace(value), ".")
	if value == "" {
		return "unknown"
	}
	return strings.ReplaceAll(value, " ", "_")
}
