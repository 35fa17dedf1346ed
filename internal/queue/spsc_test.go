package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdoElHodaky/matchcore/pkg/matching"
)

func TestSPSC_RoundsCapacityToPowerOfTwo(t *testing.T) {
	q := New(5)
	assert.Equal(t, 8, q.Cap())
}

func TestSPSC_EnqueueDequeueOrder(t *testing.T) {
	q := New(4)
	for i := uint64(1); i <= 3; i++ {
		require.True(t, q.TryEnqueue(matching.Message{OrderID: matching.OrderID(i)}))
	}
	for i := uint64(1); i <= 3; i++ {
		msg, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, matching.OrderID(i), msg.OrderID)
	}
	_, ok := q.TryDequeue()
	assert.False(t, ok)
}

func TestSPSC_DropsOnFullAndCountsStats(t *testing.T) {
	q := New(2)
	require.True(t, q.TryEnqueue(matching.Message{OrderID: 1}))
	require.True(t, q.TryEnqueue(matching.Message{OrderID: 2}))
	assert.False(t, q.TryEnqueue(matching.Message{OrderID: 3}), "queue at capacity must refuse rather than overwrite")

	enq, dropped := q.Stats()
	assert.Equal(t, uint64(2), enq)
	assert.Equal(t, uint64(1), dropped)
}

func TestSPSC_WrapAroundReusesSlots(t *testing.T) {
	q := New(2)
	for round := 0; round < 5; round++ {
		require.True(t, q.TryEnqueue(matching.Message{OrderID: matching.OrderID(round)}))
		msg, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, matching.OrderID(round), msg.OrderID)
	}
}

func TestSPSC_LenTracksOccupancy(t *testing.T) {
	q := New(4)
	assert.Equal(t, 0, q.Len())
	q.TryEnqueue(matching.Message{OrderID: 1})
	q.TryEnqueue(matching.Message{OrderID: 2})
	assert.Equal(t, 2, q.Len())
	q.TryDequeue()
	assert.Equal(t, 1, q.Len())
}
