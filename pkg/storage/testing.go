package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mindwell/convomem/pkg/conversation"
)

// StorageTestSuite defines a test suite that can be run against any Storage implementation.
type StorageTestSuite struct {
	NewStorage func(t *testing.T) Storage
}

// RunAllTests runs all storage tests against the provided storage implementation.
func (s *StorageTestSuite) RunAllTests(t *testing.T) {
	t.Run("SessionCRUD", s.TestSessionCRUD)
	t.Run("MemoryRoundTrip", s.TestMemoryRoundTrip)
	t.Run("EndSession", s.TestEndSession)
	t.Run("ListSessionsWithFilter", s.TestListSessionsWithFilter)
	t.Run("ListSessionsWithPagination", s.TestListSessionsWithPagination)
	t.Run("ConcurrentAccess", s.TestConcurrentAccess)
	t.Run("ErrorHandling", s.TestErrorHandling)
}

func sampleMemory(id string) conversation.Snapshot {
	m := conversation.New(id, conversation.Options{})
	m.Update(conversation.TurnInput{
		Turn:      1,
		Message:   "I'm really anxious about work deadlines",
		Response:  "That sounds like a lot. What feels most pressing?",
		Emotion:   "anxiety",
		Intensity: 0.9,
		Technique: "validation",
	}, nil)
	m.Update(conversation.TurnInput{
		Turn:      2,
		Message:   "I've been feeling this way since my boss changed",
		Emotion:   "anxiety",
		Intensity: 0.6,
		Technique: "reflective_listening",
	}, nil)
	return m.Snapshot()
}

// TestSessionCRUD tests basic session CRUD operations.
func (s *StorageTestSuite) TestSessionCRUD(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()

	ctx := context.Background()

	rec := &SessionRecord{ID: "s-1", Memory: sampleMemory("s-1")}
	if err := store.SaveSession(ctx, rec); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	retrieved, err := store.GetSession(ctx, "s-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if retrieved.Status != StatusActive {
		t.Errorf("expected status %s, got %s", StatusActive, retrieved.Status)
	}
	if retrieved.CreatedAt.IsZero() || retrieved.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}
	created := retrieved.CreatedAt

	// Update keeps the creation time.
	retrieved.Memory.UserGoals = append(retrieved.Memory.UserGoals, "sleep")
	retrieved.CreatedAt = time.Time{}
	time.Sleep(2 * time.Millisecond)
	if err := store.SaveSession(ctx, retrieved); err != nil {
		t.Fatalf("SaveSession (update) failed: %v", err)
	}

	updated, err := store.GetSession(ctx, "s-1")
	if err != nil {
		t.Fatalf("GetSession (after update) failed: %v", err)
	}
	if !updated.CreatedAt.Equal(created) {
		t.Errorf("expected CreatedAt %v, got %v", created, updated.CreatedAt)
	}
	if len(updated.Memory.UserGoals) != 1 {
		t.Errorf("expected 1 goal, got %d", len(updated.Memory.UserGoals))
	}

	if err := store.DeleteSession(ctx, "s-1"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if _, err := store.GetSession(ctx, "s-1"); err == nil {
		t.Error("expected error when getting deleted session")
	}
}

// TestMemoryRoundTrip verifies the stored snapshot restores the same memory.
func (s *StorageTestSuite) TestMemoryRoundTrip(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()

	ctx := context.Background()
	snap := sampleMemory("s-rt")
	if err := store.SaveSession(ctx, &SessionRecord{ID: "s-rt", Memory: snap}); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	rec, err := store.GetSession(ctx, "s-rt")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	m := conversation.FromSnapshot(rec.Memory, conversation.Options{})
	if m.TotalExchanges() != snap.TotalExchanges {
		t.Errorf("expected %d exchanges, got %d", snap.TotalExchanges, m.TotalExchanges())
	}
	if m.Phase() != snap.Phase {
		t.Errorf("expected phase %s, got %s", snap.Phase, m.Phase())
	}
	if got, want := m.EmotionWeights(), snap.EmotionWeights; len(got) != len(want) || got[0] != want[0] {
		t.Errorf("expected weights %v, got %v", want, got)
	}
}

// TestEndSession tests marking sessions ended.
func (s *StorageTestSuite) TestEndSession(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()

	ctx := context.Background()
	if err := store.SaveSession(ctx, &SessionRecord{ID: "s-end"}); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	if err := store.EndSession(ctx, "s-end", at); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}

	rec, err := store.GetSession(ctx, "s-end")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if rec.Status != StatusEnded {
		t.Errorf("expected status %s, got %s", StatusEnded, rec.Status)
	}
	if rec.EndedAt == nil || !rec.EndedAt.Equal(at) {
		t.Errorf("expected EndedAt %v, got %v", at, rec.EndedAt)
	}

	active, _, err := store.ListSessions(ctx, &SessionFilter{Status: []string{StatusActive}})
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("expected no active sessions, got %d", len(active))
	}

	// A later save of an active snapshot must not reopen the session.
	if err := store.SaveSession(ctx, &SessionRecord{ID: "s-end", Status: StatusActive, Memory: sampleMemory("s-end")}); err != nil {
		t.Fatalf("SaveSession after end failed: %v", err)
	}
	rec, err = store.GetSession(ctx, "s-end")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if rec.Status != StatusEnded {
		t.Errorf("save after end reopened the session: status %s", rec.Status)
	}
	if rec.EndedAt == nil || !rec.EndedAt.Equal(at) {
		t.Errorf("save after end changed EndedAt to %v", rec.EndedAt)
	}
	if rec.Memory.TotalExchanges != 2 {
		t.Errorf("expected saved memory with 2 exchanges, got %d", rec.Memory.TotalExchanges)
	}
	active, _, err = store.ListSessions(ctx, &SessionFilter{Status: []string{StatusActive}})
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("expected no active sessions after re-save, got %d", len(active))
	}

	err = store.EndSession(ctx, "missing", at)
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

// TestListSessionsWithFilter tests listing with status filters.
func (s *StorageTestSuite) TestListSessionsWithFilter(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		status := StatusActive
		if i%2 == 0 {
			status = StatusEnded
		}
		if err := store.SaveSession(ctx, &SessionRecord{ID: fmt.Sprintf("s-%d", i), Status: status}); err != nil {
			t.Fatalf("SaveSession failed: %v", err)
		}
	}

	ended, total, err := store.ListSessions(ctx, &SessionFilter{Status: []string{StatusEnded}})
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if total != 3 || len(ended) != 3 {
		t.Errorf("expected 3 ended sessions, got %d (total %d)", len(ended), total)
	}
	for _, rec := range ended {
		if rec.Status != StatusEnded {
			t.Errorf("expected status %s, got %s", StatusEnded, rec.Status)
		}
	}

	all, total, err := store.ListSessions(ctx, nil)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if total != 5 || len(all) != 5 {
		t.Errorf("expected 5 sessions, got %d (total %d)", len(all), total)
	}
}

// TestListSessionsWithPagination tests listing with pagination.
func (s *StorageTestSuite) TestListSessionsWithPagination(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if err := store.SaveSession(ctx, &SessionRecord{ID: fmt.Sprintf("s-%02d", i)}); err != nil {
			t.Fatalf("SaveSession failed: %v", err)
		}
	}

	page, total, err := store.ListSessions(ctx, &SessionFilter{Limit: 4, Offset: 8})
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if total != 10 {
		t.Errorf("expected total 10, got %d", total)
	}
	if len(page) != 2 {
		t.Errorf("expected 2 sessions on last page, got %d", len(page))
	}

	page, _, err = store.ListSessions(ctx, &SessionFilter{Limit: 4, Offset: 20})
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(page) != 0 {
		t.Errorf("expected empty page, got %d", len(page))
	}
}

// TestConcurrentAccess tests concurrent saves of different sessions.
func (s *StorageTestSuite) TestConcurrentAccess(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s-%d", i)
			if err := store.SaveSession(ctx, &SessionRecord{ID: id}); err != nil {
				errs <- err
				return
			}
			if _, err := store.GetSession(ctx, id); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent access failed: %v", err)
	}

	_, total, err := store.ListSessions(ctx, nil)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if total != 20 {
		t.Errorf("expected 20 sessions, got %d", total)
	}
}

// TestErrorHandling tests typed errors.
func (s *StorageTestSuite) TestErrorHandling(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()

	ctx := context.Background()
	var nf *NotFoundError
	if _, err := store.GetSession(ctx, "missing"); !errors.As(err, &nf) {
		t.Errorf("expected NotFoundError, got %v", err)
	} else if nf.EntityType != "session" || nf.ID != "missing" {
		t.Errorf("unexpected NotFoundError fields: %+v", nf)
	}
	if err := store.DeleteSession(ctx, "missing"); !errors.As(err, &nf) {
		t.Errorf("expected NotFoundError, got %v", err)
	}

	var invalid *InvalidRecordError
	if err := store.SaveSession(ctx, &SessionRecord{}); !errors.As(err, &invalid) {
		t.Errorf("expected InvalidRecordError, got %v", err)
	}
}
