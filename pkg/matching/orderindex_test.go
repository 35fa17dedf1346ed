package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderIndex_PutGetDelete(t *testing.T) {
	idx := NewOrderIndex(16)

	idx.Put(1, Handle(100))
	idx.Put(2, Handle(200))

	h, ok := idx.Get(1)
	require.True(t, ok)
	assert.Equal(t, Handle(100), h)

	h, ok = idx.Get(2)
	require.True(t, ok)
	assert.Equal(t, Handle(200), h)

	_, ok = idx.Get(3)
	assert.False(t, ok)

	assert.True(t, idx.Delete(1))
	_, ok = idx.Get(1)
	assert.False(t, ok)
	assert.False(t, idx.Delete(1), "double delete returns false")
}

func TestOrderIndex_UpdateExistingKey(t *testing.T) {
	idx := NewOrderIndex(16)
	idx.Put(1, Handle(100))
	idx.Put(1, Handle(999))

	h, ok := idx.Get(1)
	require.True(t, ok)
	assert.Equal(t, Handle(999), h)
	assert.Equal(t, 1, idx.Len())
}

func TestOrderIndex_TombstoneAllowsProbeContinuation(t *testing.T) {
	idx := NewOrderIndex(16)
	for i := OrderID(1); i <= 8; i++ {
		idx.Put(i, Handle(i))
	}
	for i := OrderID(1); i <= 4; i++ {
		idx.Delete(i)
	}
	for i := OrderID(5); i <= 8; i++ {
		h, ok := idx.Get(i)
		require.True(t, ok)
		assert.Equal(t, Handle(i), h)
	}
}

func TestOrderIndex_GrowPreservesEntries(t *testing.T) {
	idx := NewOrderIndex(4)
	const n = 200
	for i := OrderID(0); i < n; i++ {
		idx.Put(i, Handle(i+1))
	}
	assert.Equal(t, n, idx.Len())
	for i := OrderID(0); i < n; i++ {
		h, ok := idx.Get(i)
		require.True(t, ok)
		assert.Equal(t, Handle(i+1), h)
	}
}

func TestOrderIndex_GrowAfterTombstonesStillFindsLiveEntries(t *testing.T) {
	idx := NewOrderIndex(8)
	for i := OrderID(0); i < 16; i++ {
		idx.Put(i, Handle(i))
	}
	for i := OrderID(0); i < 8; i++ {
		idx.Delete(i)
	}
	for i := OrderID(16); i < 40; i++ {
		idx.Put(i, Handle(i))
	}
	for i := OrderID(8); i < 16; i++ {
		_, ok := idx.Get(i)
		assert.True(t, ok)
	}
	for i := OrderID(0); i < 8; i++ {
		_, ok := idx.Get(i)
		assert.False(t, ok)
	}
}
