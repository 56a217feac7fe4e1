package cognition

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_EvictsOldest(t *testing.T) {
	s := NewStore(3)
	for i := 1; i <= 5; i++ {
		s.Add(Event{EventType: StateUpdated, TurnNumber: i})
	}
	require.Equal(t, 3, s.Len())

	got := s.Recent(10)
	turns := make([]int, len(got))
	for i, e := range got {
		turns[i] = e.TurnNumber
	}
	assert.Equal(t, []int{5, 4, 3}, turns)
}

func TestStore_Query(t *testing.T) {
	s := NewStore(0)
	for i := 0; i < 6; i++ {
		typ := StateUpdated
		if i%2 == 0 {
			typ = EmotionDetected
		}
		require.NoError(t, s.Publish(context.Background(), Event{
			EventType:  typ,
			SessionID:  fmt.Sprintf("s%d", i%3),
			TurnNumber: i,
		}))
	}

	assert.Len(t, s.Query(Query{}), 6)
	assert.Len(t, s.Query(Query{EventType: EmotionDetected}), 3)
	assert.Len(t, s.Query(Query{SessionID: "s0"}), 2)
	assert.Len(t, s.Query(Query{SessionID: "s0", EventType: StateUpdated}), 1)

	limited := s.Query(Query{Limit: 2})
	require.Len(t, limited, 2)
	assert.Equal(t, 5, limited[0].TurnNumber)

	s.Clear()
	assert.Zero(t, s.Len())
	assert.Empty(t, s.Recent(5))
}
