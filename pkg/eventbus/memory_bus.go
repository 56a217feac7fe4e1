package eventbus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultSubscriptionBuffer = 32

// Message is a delivered event-bus message.
type Message struct {
	Subject   string
	Payload   []byte
	Timestamp time.Time
}

// Subscription is a stream of messages matching one subject pattern.
type Subscription struct {
	pattern string
	ch      chan Message
	done    chan struct{}
	once    sync.Once
	stop    func()
}

// C returns the message channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan Message {
	return s.ch
}

// Pattern returns the subject pattern of s.
func (s *Subscription) Pattern() string {
	return s.pattern
}

// Close ends the subscription and closes its channel.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
		close(s.ch)
		close(s.done)
	})
	return nil
}

func newSubscription(ctx context.Context, pattern string, ch chan Message, stop func()) *Subscription {
	sub := &Subscription{
		pattern: pattern,
		ch:      ch,
		done:    make(chan struct{}),
		stop:    stop,
	}
	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.done:
		}
	}()
	return sub
}

// MemoryBus is an in-process pub/sub transport. It serves single-node
// deployments and tests.
type MemoryBus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan Message
	closed      bool
	onDrop      func(subject string)
}

// NewMemoryBus creates an in-memory event bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subscribers: make(map[string][]chan Message),
	}
}

// OnDrop registers a callback invoked when a slow subscriber misses a message.
func (b *MemoryBus) OnDrop(fn func(subject string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDrop = fn
}

// Publish delivers payload to every matching subscription without blocking.
func (b *MemoryBus) Publish(ctx context.Context, subject string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if subject == "" {
		return fmt.Errorf("eventbus: subject cannot be empty")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	msg := Message{
		Subject:   subject,
		Payload:   append([]byte(nil), payload...),
		Timestamp: time.Now().UTC(),
	}
	for pattern, channels := range b.subscribers {
		if !SubjectMatches(pattern, subject) {
			continue
		}
		for _, ch := range channels {
			select {
			case ch <- msg:
			default:
				if b.onDrop != nil {
					b.onDrop(subject)
				}
			}
		}
	}
	return nil
}

// Subscribe subscribes by subject pattern. The subscription ends when ctx is
// done or Close is called.
func (b *MemoryBus) Subscribe(ctx context.Context, pattern string, buffer int) (*Subscription, error) {
	if pattern == "" {
		return nil, fmt.Errorf("eventbus: subscription pattern cannot be empty")
	}
	if buffer <= 0 {
		buffer = defaultSubscriptionBuffer
	}
	ch := make(chan Message, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBusClosed
	}
	b.subscribers[pattern] = append(b.subscribers[pattern], ch)
	b.mu.Unlock()

	return newSubscription(ctx, pattern, ch, func() { b.unsubscribe(pattern, ch) }), nil
}

// Close rejects further publishes and subscriptions.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *MemoryBus) unsubscribe(pattern string, target chan Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	channels := b.subscribers[pattern]
	filtered := channels[:0]
	for _, ch := range channels {
		if ch == target {
			continue
		}
		filtered = append(filtered, ch)
	}
	if len(filtered) == 0 {
		delete(b.subscribers, pattern)
		return
	}
	b.subscribers[pattern] = filtered
}

// SubjectMatches supports exact, "*" segment, and ">" suffix wildcards.
func SubjectMatches(pattern, subject string) bool {
	if pattern == subject {
		return true
	}
	if pattern == ">" {
		return true
	}
	if strings.HasSuffix(pattern, ".>") {
		prefix := strings.TrimSuffix(pattern, ".>")
		return strings.HasPrefix(subject, prefix+".")
	}

	patternParts := strings.Split(pattern, ".")
	subjectParts := strings.Split(subject, ".")
	if len(patternParts) != len(subjectParts) {
		return false
	}
	for i := range patternParts {
		if patternParts[i] == "*" {
			continue
		}
		if patternParts[i] != subjectParts[i] {
			return false
		}
	}
	return true
}
