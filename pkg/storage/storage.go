// Package storage provides persistent storage abstraction for coaching
// sessions.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/mindwell/convomem/pkg/conversation"
)

// Session statuses.
const (
	StatusActive = "active"
	StatusEnded  = "ended"
)

// Storage defines the interface for persistent storage operations.
type Storage interface {
	// Session operations
	SaveSession(ctx context.Context, rec *SessionRecord) error
	GetSession(ctx context.Context, id string) (*SessionRecord, error)
	ListSessions(ctx context.Context, filter *SessionFilter) ([]*SessionRecord, int, error)
	EndSession(ctx context.Context, id string, endedAt time.Time) error
	DeleteSession(ctx context.Context, id string) error

	// Lifecycle
	Close() error
}

// SessionRecord represents the persisted state of a session.
type SessionRecord struct {
	ID        string                `json:"id"`
	Status    string                `json:"status"`
	Memory    conversation.Snapshot `json:"memory"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
	EndedAt   *time.Time            `json:"ended_at,omitempty"`
}

// SessionFilter defines filtering options for listing sessions.
type SessionFilter struct {
	Status []string `json:"status,omitempty"`
	Limit  int      `json:"limit"`
	Offset int      `json:"offset"`
}

// Matches reports whether rec passes the status filter.
func (f *SessionFilter) Matches(rec *SessionRecord) bool {
	if f == nil || len(f.Status) == 0 {
		return true
	}
	for _, s := range f.Status {
		if rec.Status == s {
			return true
		}
	}
	return false
}

// Page applies the filter's offset and limit to records.
func Page[T any](records []T, filter *SessionFilter) []T {
	if filter == nil || filter.Limit <= 0 {
		return records
	}
	start := min(max(filter.Offset, 0), len(records))
	end := min(start+filter.Limit, len(records))
	return records[start:end]
}

// Inherit carries over what a save must not change from the stored record:
// the creation time when rec has none, and the ended status, which is final.
func (rec *SessionRecord) Inherit(prev *SessionRecord) {
	if prev == nil {
		return
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = prev.CreatedAt
	}
	if prev.Status == StatusEnded {
		rec.Status = StatusEnded
		if rec.EndedAt == nil {
			rec.EndedAt = prev.EndedAt
		}
	}
}

// Normalize fills defaults before a record is stored.
func (rec *SessionRecord) Normalize(now time.Time) {
	if rec.Status == "" {
		rec.Status = StatusActive
	}
	if rec.Memory.SessionID == "" {
		rec.Memory.SessionID = rec.ID
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
}

// NotFoundError indicates that the requested entity was not found.
type NotFoundError struct {
	EntityType string
	ID         string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.EntityType, e.ID)
}

// StorageUnavailableError indicates that the storage backend is unavailable.
type StorageUnavailableError struct {
	Cause error
}

func (e *StorageUnavailableError) Error() string {
	return fmt.Sprintf("storage unavailable: %v", e.Cause)
}

func (e *StorageUnavailableError) Unwrap() error { return e.Cause }

// SerializationError indicates a failure in data serialization/deserialization.
type SerializationError struct {
	Operation string
	Cause     error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization error during %s: %v", e.Operation, e.Cause)
}

func (e *SerializationError) Unwrap() error { return e.Cause }

// InvalidRecordError indicates a record that cannot be stored.
type InvalidRecordError struct {
	Reason string
}

func (e *InvalidRecordError) Error() string {
	return fmt.Sprintf("invalid session record: %s", e.Reason)
}
