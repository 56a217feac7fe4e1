package conversation

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindwell/convomem/pkg/phase"
)

func TestRegistry_ConcurrentSessions(t *testing.T) {
	r := NewRegistry(Options{})
	pub := &capture{}

	const (
		sessions = 4
		workers  = 8
		turns    = 50
	)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", w%sessions)
			for i := 0; i < turns; i++ {
				r.Update(id, turn(i+1, "I feel anxious about work", "anxiety", 0.7), pub)
			}
		}(w)
	}
	wg.Wait()

	require.Equal(t, sessions, r.Len())
	for i := 0; i < sessions; i++ {
		snap, ok := r.Snapshot(fmt.Sprintf("s%d", i))
		require.True(t, ok)
		assert.Equal(t, workers/sessions*turns, snap.TotalExchanges)
		assert.Len(t, snap.EmotionJourney, snap.TotalExchanges)
	}
	assert.Len(t, pub.ofType("memory.state.updated"), workers*turns)
}

func TestRegistry_Lifecycle(t *testing.T) {
	r := NewRegistry(Options{})
	assert.False(t, r.Has("a"))
	assert.False(t, r.View("a", func(*Memory) { t.Fatal("unexpected call") }))

	r.Update("a", turn(1, "hi", "calm", 0.5), nil)
	assert.True(t, r.Has("a"))

	assert.False(t, r.Restore(Snapshot{SessionID: "a"}), "live session must not be replaced")
	assert.True(t, r.Restore(Snapshot{SessionID: "b", Phase: phase.Deepening}))
	snap, ok := r.Snapshot("b")
	require.True(t, ok)
	assert.Equal(t, phase.Deepening, snap.Phase)

	assert.True(t, r.Clear("a"))
	assert.False(t, r.Clear("a"))
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_RetireIsFinal(t *testing.T) {
	r := NewRegistry(Options{})
	r.Update("a", turn(1, "hi", "calm", 0.5), nil)
	r.Update("a", turn(2, "still calm", "calm", 0.5), nil)

	var seen int
	require.True(t, r.Retire("a", func(m *Memory) { seen = m.TotalExchanges() }))
	assert.Equal(t, 2, seen)

	assert.False(t, r.Has("a"))
	assert.False(t, r.View("a", func(*Memory) { t.Fatal("view after retire") }))
	assert.False(t, r.Retire("a", func(*Memory) { t.Fatal("second retire") }))
	assert.Empty(t, r.Snapshots())

	// A later reference starts over.
	r.Do("a", func(m *Memory) { seen = m.TotalExchanges() })
	assert.Equal(t, 0, seen)
}

func TestRegistry_NothingRunsAfterRetire(t *testing.T) {
	r := NewRegistry(Options{})
	r.Update("a", turn(1, "hi", "calm", 0.5), nil)

	holding := make(chan struct{})
	release := make(chan struct{})
	var (
		mu    sync.Mutex
		order []string
	)
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.View("a", func(*Memory) {
			close(holding)
			<-release
			record("first")
		})
	}()
	<-holding

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.View("a", func(*Memory) { record("view") })
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.Retire("a", func(*Memory) { record("retire") })
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Contains(t, order, "retire")
	retired := false
	for _, s := range order {
		if retired {
			t.Fatalf("%q ran after retire: %v", s, order)
		}
		retired = s == "retire"
	}
	assert.False(t, r.Has("a"))
}

func TestRegistry_SnapshotsByActivity(t *testing.T) {
	r := NewRegistry(Options{})
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.Restore(Snapshot{SessionID: "old", LastActivity: base})
	r.Restore(Snapshot{SessionID: "new", LastActivity: base.Add(time.Minute)})
	r.Restore(Snapshot{SessionID: "mid", LastActivity: base.Add(time.Second)})

	var ids []string
	for _, s := range r.Snapshots() {
		ids = append(ids, s.SessionID)
	}
	assert.Equal(t, []string{"new", "mid", "old"}, ids)
}
