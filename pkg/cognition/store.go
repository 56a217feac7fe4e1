package cognition

import (
	"context"
	"sync"
)

// DefaultStoreSize is the number of events a Store keeps by default.
const DefaultStoreSize = 500

// Query filters stored events. Zero fields match everything; a Limit of 0
// returns every match.
type Query struct {
	SessionID string
	EventType string
	Limit     int
}

// Store keeps the most recent events in a fixed-size ring for dashboards.
type Store struct {
	mu    sync.RWMutex
	ring  []Event
	start int
	count int
}

// NewStore creates a store holding up to capacity events.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultStoreSize
	}
	return &Store{ring: make([]Event, capacity)}
}

// Publish implements Sink.
func (s *Store) Publish(_ context.Context, event Event) error {
	s.Add(event)
	return nil
}

// Add appends event, evicting the oldest one when full.
func (s *Store) Add(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count < len(s.ring) {
		s.ring[(s.start+s.count)%len(s.ring)] = event
		s.count++
		return
	}
	s.ring[s.start] = event
	s.start = (s.start + 1) % len(s.ring)
}

// Len returns the number of stored events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Query returns matching events, newest first.
func (s *Store) Query(q Query) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Event, 0, min(s.count, max(q.Limit, 0)))
	for i := s.count - 1; i >= 0; i-- {
		e := s.ring[(s.start+i)%len(s.ring)]
		if q.SessionID != "" && e.SessionID != q.SessionID {
			continue
		}
		if q.EventType != "" && e.EventType != q.EventType {
			continue
		}
		out = append(out, e)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out
}

// Recent returns the n newest events.
func (s *Store) Recent(n int) []Event {
	return s.Query(Query{Limit: n})
}

// Clear drops every stored event.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring = make([]Event, len(s.ring))
	s.start, s.count = 0, 0
}
