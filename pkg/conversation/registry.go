package conversation

import (
	"sort"
	"sync"

	"github.com/mindwell/convomem/pkg/cognition"
)

type slot struct {
	mu   sync.Mutex
	mem  *Memory
	gone bool // set under mu once the slot has left the registry
}

// Registry owns the memories of all live sessions. Operations on one
// session are serialized; different sessions proceed in parallel.
type Registry struct {
	opts Options

	mu       sync.Mutex
	sessions map[string]*slot
}

// NewRegistry creates an empty registry whose memories use opts.
func NewRegistry(opts Options) *Registry {
	return &Registry{
		opts:     opts.withDefaults(),
		sessions: make(map[string]*slot),
	}
}

func (r *Registry) slot(sessionID string, create bool) *slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok && create {
		s = &slot{mem: New(sessionID, r.opts)}
		r.sessions[sessionID] = s
	}
	return s
}

// Do runs fn with exclusive access to the session's memory, creating the
// memory on first reference.
func (r *Registry) Do(sessionID string, fn func(m *Memory)) {
	for {
		s := r.slot(sessionID, true)
		s.mu.Lock()
		if s.gone {
			s.mu.Unlock()
			continue
		}
		fn(s.mem)
		s.mu.Unlock()
		return
	}
}

// View runs fn with exclusive access to an existing memory. It reports
// false when the session is unknown or was cleared before fn could run.
func (r *Registry) View(sessionID string, fn func(m *Memory)) bool {
	s := r.slot(sessionID, false)
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gone {
		return false
	}
	fn(s.mem)
	return true
}

// Retire runs fn on the session's memory and removes the session while still
// holding its lock, so no other operation observes the memory after fn. It
// reports false when the session is not live.
func (r *Registry) Retire(sessionID string, fn func(m *Memory)) bool {
	s := r.slot(sessionID, false)
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gone {
		return false
	}
	fn(s.mem)
	r.evict(sessionID, s)
	return true
}

// evict removes s from the map. The caller holds s.mu.
func (r *Registry) evict(sessionID string, s *slot) {
	s.gone = true
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[sessionID] == s {
		delete(r.sessions, sessionID)
	}
}

// Update applies one exchange to the session's memory.
func (r *Registry) Update(sessionID string, in TurnInput, pub cognition.Publisher) TurnResult {
	var res TurnResult
	r.Do(sessionID, func(m *Memory) {
		res = m.Update(in, pub)
	})
	return res
}

// Snapshot copies the session's memory if it exists.
func (r *Registry) Snapshot(sessionID string) (Snapshot, bool) {
	var snap Snapshot
	ok := r.View(sessionID, func(m *Memory) {
		snap = m.Snapshot()
	})
	return snap, ok
}

// Restore installs a memory rebuilt from snap unless the session is already
// live. It reports whether the snapshot was installed.
func (r *Registry) Restore(snap Snapshot) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[snap.SessionID]; ok {
		return false
	}
	r.sessions[snap.SessionID] = &slot{mem: FromSnapshot(snap, r.opts)}
	return true
}

// Has reports whether the session is live.
func (r *Registry) Has(sessionID string) bool {
	return r.slot(sessionID, false) != nil
}

// Clear forgets the session. It reports whether it was live.
func (r *Registry) Clear(sessionID string) bool {
	return r.Retire(sessionID, func(*Memory) {})
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Snapshots copies every live memory, most recently active first.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	slots := make([]*slot, 0, len(r.sessions))
	for _, s := range r.sessions {
		slots = append(slots, s)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(slots))
	for _, s := range slots {
		s.mu.Lock()
		if !s.gone {
			out = append(out, s.mem.Snapshot())
		}
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out
}
