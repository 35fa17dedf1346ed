package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookSide_PushTailFIFOAndLevelQty(t *testing.T) {
	a := NewArena(8, false)
	bs := newBookSide(4)
	bs.init()

	h1, _ := a.Alloc(Order{ID: 1, PriceIdx: 2, QtyOpen: 5})
	h2, _ := a.Alloc(Order{ID: 2, PriceIdx: 2, QtyOpen: 7})
	bs.pushTail(a, h1)
	bs.pushTail(a, h2)

	assert.Equal(t, uint64(12), bs.levelQty(2))
	assert.True(t, bs.bits.IsSet(2))
	assert.Equal(t, h1, bs.bestHandle(2), "FIFO head should be the first pushed order")
	assert.Equal(t, h2, a.Get(h1).Next)
	assert.Equal(t, h1, a.Get(h2).Prev)
}

func TestBookSide_UnlinkHead(t *testing.T) {
	a := NewArena(8, false)
	bs := newBookSide(4)
	bs.init()

	h1, _ := a.Alloc(Order{ID: 1, PriceIdx: 2, QtyOpen: 5})
	h2, _ := a.Alloc(Order{ID: 2, PriceIdx: 2, QtyOpen: 7})
	bs.pushTail(a, h1)
	bs.pushTail(a, h2)

	bs.unlink(a, h1)
	assert.Equal(t, uint64(7), bs.levelQty(2))
	assert.Equal(t, h2, bs.bestHandle(2))
	assert.Equal(t, HNone, a.Get(h2).Prev)
	assert.True(t, bs.bits.IsSet(2), "level still non-empty")
}

func TestBookSide_UnlinkLastClearsBit(t *testing.T) {
	a := NewArena(8, false)
	bs := newBookSide(4)
	bs.init()

	h1, _ := a.Alloc(Order{ID: 1, PriceIdx: 3, QtyOpen: 5})
	bs.pushTail(a, h1)
	require.True(t, bs.bits.IsSet(3))

	bs.unlink(a, h1)
	assert.Equal(t, uint64(0), bs.levelQty(3))
	assert.Equal(t, HNone, bs.bestHandle(3))
	assert.False(t, bs.bits.IsSet(3), "level should be cleared once empty")
}

func TestBookSide_UnlinkMiddle(t *testing.T) {
	a := NewArena(8, false)
	bs := newBookSide(4)
	bs.init()

	h1, _ := a.Alloc(Order{ID: 1, PriceIdx: 1, QtyOpen: 1})
	h2, _ := a.Alloc(Order{ID: 2, PriceIdx: 1, QtyOpen: 1})
	h3, _ := a.Alloc(Order{ID: 3, PriceIdx: 1, QtyOpen: 1})
	bs.pushTail(a, h1)
	bs.pushTail(a, h2)
	bs.pushTail(a, h3)

	bs.unlink(a, h2)
	assert.Equal(t, h3, a.Get(h1).Next)
	assert.Equal(t, h1, a.Get(h3).Prev)
	assert.Equal(t, uint64(2), bs.levelQty(1))
}

func TestBook_SideSelectsBidsOrAsks(t *testing.T) {
	b := newBook(4)
	assert.Same(t, b.bids, b.side(Buy))
	assert.Same(t, b.asks, b.side(Sell))
}
