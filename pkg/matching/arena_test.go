package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArena_AllocFreeReuse(t *testing.T) {
	a := NewArena(2, false)
	h1, ok := a.Alloc(Order{ID: 1})
	require.True(t, ok)
	h2, ok := a.Alloc(Order{ID: 2})
	require.True(t, ok)

	_, ok = a.Alloc(Order{ID: 3})
	assert.False(t, ok, "fixed-capacity arena must refuse allocation when full")

	a.Free(h1)
	h3, ok := a.Alloc(Order{ID: 3})
	require.True(t, ok)
	assert.Equal(t, h1, h3, "freed slot should be reused")
	assert.Equal(t, OrderID(2), a.Get(h2).ID)
}

func TestArena_ElasticGrows(t *testing.T) {
	a := NewArena(1, true)
	a.Alloc(Order{ID: 1})
	h2, ok := a.Alloc(Order{ID: 2})
	require.True(t, ok, "elastic arena should grow rather than refuse")
	assert.Equal(t, OrderID(2), a.Get(h2).ID)
}

func TestArena_DoubleFreePanics(t *testing.T) {
	a := NewArena(2, false)
	h, _ := a.Alloc(Order{ID: 1})
	a.Free(h)
	assert.Panics(t, func() { a.Free(h) })
}

func TestArena_DerefInvalidHandlePanics(t *testing.T) {
	a := NewArena(2, false)
	assert.Panics(t, func() { a.Get(HNone) })
}
