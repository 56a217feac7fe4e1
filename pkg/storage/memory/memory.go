// Package memory provides an in-memory implementation of the storage interface.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/mindwell/convomem/pkg/storage"
)

// MemoryStorage implements the Storage interface using an in-memory map.
// Records are stored serialized so callers never share state with the store.
type MemoryStorage struct {
	mu       sync.RWMutex
	sessions map[string][]byte
	closed   bool
	now      func() time.Time
}

// NewMemoryStorage creates a new in-memory storage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		sessions: make(map[string][]byte),
		now:      time.Now,
	}
}

// SaveSession saves a session to memory.
func (m *MemoryStorage) SaveSession(ctx context.Context, rec *storage.SessionRecord) error {
	if rec == nil || rec.ID == "" {
		return &storage.InvalidRecordError{Reason: "id is required"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed()
	}

	if prev, err := m.get(rec.ID); err == nil {
		rec.Inherit(prev)
	}
	rec.Normalize(m.now().UTC())

	data, err := json.Marshal(rec)
	if err != nil {
		return &storage.SerializationError{Operation: "marshal", Cause: err}
	}
	m.sessions[rec.ID] = data
	return nil
}

// GetSession retrieves a session by ID.
func (m *MemoryStorage) GetSession(ctx context.Context, id string) (*storage.SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errClosed()
	}
	return m.get(id)
}

func (m *MemoryStorage) get(id string) (*storage.SessionRecord, error) {
	data, ok := m.sessions[id]
	if !ok {
		return nil, &storage.NotFoundError{EntityType: "session", ID: id}
	}
	var rec storage.SessionRecord
	if err := decode(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListSessions lists sessions, most recently updated first, with optional
// filtering and pagination.
func (m *MemoryStorage) ListSessions(ctx context.Context, filter *storage.SessionFilter) ([]*storage.SessionRecord, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, 0, errClosed()
	}

	var sessions []*storage.SessionRecord
	for id := range m.sessions {
		rec, err := m.get(id)
		if err != nil {
			continue
		}
		if filter.Matches(rec) {
			sessions = append(sessions, rec)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].UpdatedAt.Equal(sessions[j].UpdatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})

	total := len(sessions)
	return storage.Page(sessions, filter), total, nil
}

// EndSession marks a session as ended.
func (m *MemoryStorage) EndSession(ctx context.Context, id string, endedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed()
	}

	rec, err := m.get(id)
	if err != nil {
		return err
	}
	endedAt = endedAt.UTC()
	rec.Status = storage.StatusEnded
	rec.EndedAt = &endedAt
	rec.UpdatedAt = endedAt

	data, err := json.Marshal(rec)
	if err != nil {
		return &storage.SerializationError{Operation: "marshal", Cause: err}
	}
	m.sessions[id] = data
	return nil
}

// DeleteSession deletes a session.
func (m *MemoryStorage) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed()
	}
	if _, ok := m.sessions[id]; !ok {
		return &storage.NotFoundError{EntityType: "session", ID: id}
	}
	delete(m.sessions, id)
	return nil
}

// Close releases the store. Later calls fail with StorageUnavailableError.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func decode(data []byte, rec *storage.SessionRecord) error {
	if err := json.Unmarshal(data, rec); err != nil {
		return &storage.SerializationError{Operation: "unmarshal", Cause: err}
	}
	return nil
}

func errClosed() error {
	return &storage.StorageUnavailableError{Cause: errStoreClosed}
}

var errStoreClosed = errors.New("memory store closed")
