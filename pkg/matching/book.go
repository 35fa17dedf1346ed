package matching

// level is one price level's intrusive FIFO: head/tail arena handles plus
// an aggregated qty for O(1) depth reporting.
type level struct {
	head    Handle
	tail    Handle
	qty     uint64
}

func emptyLevel() level {
	return level{head: HNone, tail: HNone}
}

// bookSide holds one side's price-indexed levels plus the non-empty bitset.
type bookSide struct {
	levels []level
	bits   *PriceBitset
}

func newBookSide(length int) *bookSide {
	return &bookSide{
		levels: make([]level, length),
		bits:   NewPriceBitset(length),
		// levels start as emptyLevel() via per-slot init below
	}
}

func (s *bookSide) init() {
	for i := range s.levels {
		s.levels[i] = emptyLevel()
	}
}

// book owns both sides of a symbol's order book.
type book struct {
	bids *bookSide
	asks *bookSide
}

func newBook(length int) *book {
	bids := newBookSide(length)
	bids.init()
	asks := newBookSide(length)
	asks.init()
	return &book{bids: bids, asks: asks}
}

func (b *book) side(s Side) *bookSide {
	if s == Buy {
		return b.bids
	}
	return b.asks
}

// pushTail appends handle h (already populated, Side+PriceIdx set) to the
// FIFO at its level, updates level_qty, and sets the bitset bit.
func (bs *bookSide) pushTail(arena *Arena, h Handle) {
	o := arena.Get(h)
	lv := &bs.levels[o.PriceIdx]
	o.Prev = lv.tail
	o.Next = HNone
	if lv.tail == HNone {
		lv.head = h
	} else {
		arena.Get(lv.tail).Next = h
	}
	lv.tail = h
	lv.qty += o.QtyOpen
	bs.bits.Set(o.PriceIdx)
}

// unlink removes handle h from its level's FIFO, updates level_qty, and
// clears the bitset bit if the level becomes empty.
func (bs *bookSide) unlink(arena *Arena, h Handle) {
	o := arena.Get(h)
	lv := &bs.levels[o.PriceIdx]
	if o.Prev != HNone {
		arena.Get(o.Prev).Next = o.Next
	} else {
		lv.head = o.Next
	}
	if o.Next != HNone {
		arena.Get(o.Next).Prev = o.Prev
	} else {
		lv.tail = o.Prev
	}
	lv.qty -= o.QtyOpen
	if lv.head == HNone {
		bs.bits.Clear(o.PriceIdx)
	}
}

// levelQty returns the current level_qty at price index i.
func (bs *bookSide) levelQty(i PriceIdx) uint64 {
	return bs.levels[i].qty
}

// reduceLevelQty decrements level_qty at price index i by qty, for a
// trade that partially fills a resting order without unlinking it from
// the FIFO. unlink's own qty -= o.QtyOpen only accounts for whatever
// quantity the order still held at removal time, so a partial fill must
// be subtracted here at the trade site or level_qty never reflects it.
func (bs *bookSide) reduceLevelQty(i PriceIdx, qty uint64) {
	bs.levels[i].qty -= qty
}

// bestHandle returns the head order handle at price index i.
func (bs *bookSide) bestHandle(i PriceIdx) Handle {
	return bs.levels[i].head
}
