// Package badger provides a Badger-based implementation of the storage interface.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/mindwell/convomem/pkg/storage"
)

// Config holds configuration for BadgerStorage.
type Config struct {
	Path              string
	InMemory          bool
	SyncWrites        bool
	ValueLogFileSize  int64
	NumVersionsToKeep int
}

// BadgerStorage implements the Storage interface using Badger.
type BadgerStorage struct {
	db     *badger.DB
	config *Config
	now    func() time.Time
}

// NewBadgerStorage creates a new Badger storage instance.
func NewBadgerStorage(config *Config) (*BadgerStorage, error) {
	opts := badger.DefaultOptions(config.Path)
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.SyncWrites = config.SyncWrites
	if config.ValueLogFileSize > 0 {
		opts.ValueLogFileSize = config.ValueLogFileSize
	}
	if config.NumVersionsToKeep > 0 {
		opts.NumVersionsToKeep = config.NumVersionsToKeep
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, &storage.StorageUnavailableError{Cause: err}
	}

	return &BadgerStorage{
		db:     db,
		config: config,
		now:    time.Now,
	}, nil
}

const (
	sessionPrefix     = "session:data:"
	statusIndexPrefix = "session:index:status:"
)

// Key generation functions
func sessionKey(id string) []byte {
	return []byte(sessionPrefix + id)
}

func statusIndexKey(status, id string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", statusIndexPrefix, status, id))
}

// Serialization helpers
func serialize(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &storage.SerializationError{
			Operation: "marshal",
			Cause:     err,
		}
	}
	return data, nil
}

func deserialize(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return &storage.SerializationError{
			Operation: "unmarshal",
			Cause:     err,
		}
	}
	return nil
}

// SaveSession saves a session and keeps its status index current.
func (b *BadgerStorage) SaveSession(ctx context.Context, rec *storage.SessionRecord) error {
	if rec == nil || rec.ID == "" {
		return &storage.InvalidRecordError{Reason: "id is required"}
	}

	return b.db.Update(func(txn *badger.Txn) error {
		prev, err := getSessionInTxn(txn, rec.ID)
		var nf *storage.NotFoundError
		if err != nil && !errors.As(err, &nf) {
			return err
		}
		rec.Inherit(prev)
		rec.Normalize(b.now().UTC())
		if prev != nil && prev.Status != rec.Status {
			if err := txn.Delete(statusIndexKey(prev.Status, rec.ID)); err != nil {
				return err
			}
		}
		return putSession(txn, rec)
	})
}

func putSession(txn *badger.Txn, rec *storage.SessionRecord) error {
	data, err := serialize(rec)
	if err != nil {
		return err
	}
	if err := txn.Set(sessionKey(rec.ID), data); err != nil {
		return err
	}
	return txn.Set(statusIndexKey(rec.Status, rec.ID), []byte{})
}

// GetSession retrieves a session by ID.
func (b *BadgerStorage) GetSession(ctx context.Context, id string) (*storage.SessionRecord, error) {
	var rec *storage.SessionRecord
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getSessionInTxn(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// getSessionInTxn retrieves a session within a transaction.
func getSessionInTxn(txn *badger.Txn, id string) (*storage.SessionRecord, error) {
	item, err := txn.Get(sessionKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, &storage.NotFoundError{
				EntityType: "session",
				ID:         id,
			}
		}
		return nil, err
	}

	var rec storage.SessionRecord
	if err := item.Value(func(val []byte) error {
		return deserialize(val, &rec)
	}); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListSessions lists sessions, most recently updated first, with optional
// filtering and pagination.
func (b *BadgerStorage) ListSessions(ctx context.Context, filter *storage.SessionFilter) ([]*storage.SessionRecord, int, error) {
	var sessions []*storage.SessionRecord

	err := b.db.View(func(txn *badger.Txn) error {
		// If status filter is specified, use status index
		if filter != nil && len(filter.Status) > 0 {
			for _, status := range filter.Status {
				prefix := []byte(statusIndexPrefix + status + ":")
				opts := badger.DefaultIteratorOptions
				opts.Prefix = prefix
				opts.PrefetchValues = false

				it := txn.NewIterator(opts)
				for it.Rewind(); it.Valid(); it.Next() {
					id := strings.TrimPrefix(string(it.Item().Key()), string(prefix))
					rec, err := getSessionInTxn(txn, id)
					if err != nil {
						continue // Skip if session not found
					}
					sessions = append(sessions, rec)
				}
				it.Close()
			}
			return nil
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(sessionPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec storage.SessionRecord
			err := it.Item().Value(func(val []byte) error {
				return deserialize(val, &rec)
			})
			if err != nil {
				continue
			}
			sessions = append(sessions, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
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
func (b *BadgerStorage) EndSession(ctx context.Context, id string, endedAt time.Time) error {
	return b.db.Update(func(txn *badger.Txn) error {
		rec, err := getSessionInTxn(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(statusIndexKey(rec.Status, id)); err != nil {
			return err
		}
		endedAt = endedAt.UTC()
		rec.Status = storage.StatusEnded
		rec.EndedAt = &endedAt
		rec.UpdatedAt = endedAt
		return putSession(txn, rec)
	})
}

// DeleteSession deletes a session and its index entry.
func (b *BadgerStorage) DeleteSession(ctx context.Context, id string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		rec, err := getSessionInTxn(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(sessionKey(id)); err != nil {
			return err
		}
		return txn.Delete(statusIndexKey(rec.Status, id))
	})
}

// Close closes the Badger database.
func (b *BadgerStorage) Close() error {
	if !b.config.InMemory {
		// Value log GC is best effort; ErrNoRewrite just means nothing to collect.
		_ = b.db.RunValueLogGC(0.5)
	}
	return b.db.Close()
}
