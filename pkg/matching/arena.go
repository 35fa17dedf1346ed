package matching

import "fmt"

// Arena is fixed-capacity slab storage for Order values, addressed by
// 32-bit handles with an explicit free list. Orders are copied by value;
// there is no pointer graph and no per-order heap allocation once the
// arena has been sized.
type Arena struct {
	slots    []Order
	used     []bool
	freeList []Handle
	capacity int
	elastic  bool
}

// NewArena allocates an arena with the given fixed capacity. If elastic is
// true the arena may grow between ticks.
func NewArena(capacity int, elastic bool) *Arena {
	a := &Arena{
		slots:    make([]Order, capacity),
		used:     make([]bool, capacity),
		freeList: make([]Handle, capacity),
		capacity: capacity,
		elastic:  elastic,
	}
	for i := 0; i < capacity; i++ {
		a.freeList[i] = Handle(capacity - 1 - i)
	}
	return a
}

// Len returns the number of live (used) orders.
func (a *Arena) Len() int {
	return a.capacity - len(a.freeList)
}

// Cap returns the current capacity.
func (a *Arena) Cap() int {
	return a.capacity
}

// Full reports whether the arena has no free slots.
func (a *Arena) Full() bool {
	return len(a.freeList) == 0
}

// Alloc copies o into a free slot and returns its handle. ok is false
// only if the arena is full and not elastic. An elastic arena that is
// full grows inside Alloc, whenever Alloc is called; Alloc has no notion
// of ticks, so this includes residual inserts in the middle of a tick.
func (a *Arena) Alloc(o Order) (Handle, bool) {
	if len(a.freeList) == 0 {
		if !a.elastic {
			return HNone, false
		}
		a.grow()
	}
	n := len(a.freeList)
	h := a.freeList[n-1]
	a.freeList = a.freeList[:n-1]
	a.slots[h] = o
	a.used[h] = true
	return h, true
}

// grow doubles arena capacity. Its only caller is Alloc, on a full
// elastic arena.
func (a *Arena) grow() {
	newCap := a.capacity * 2
	if newCap == 0 {
		newCap = 1
	}
	newSlots := make([]Order, newCap)
	copy(newSlots, a.slots)
	newUsed := make([]bool, newCap)
	copy(newUsed, a.used)
	for i := a.capacity; i < newCap; i++ {
		a.freeList = append(a.freeList, Handle(newCap-1-(i-a.capacity)))
	}
	a.slots = newSlots
	a.used = newUsed
	a.capacity = newCap
}

// Free returns a handle's slot to the free list. Freeing a handle that is
// not currently in use is a double-free and is process-fatal: determinism
// requires catching this immediately rather than corrupting the free list.
func (a *Arena) Free(h Handle) {
	if h == HNone || int(h) >= a.capacity || !a.used[h] {
		panic(fmt.Sprintf("matching: double-free or invalid arena handle %d", h))
	}
	a.used[h] = false
	a.freeList = append(a.freeList, h)
}

// Get returns a pointer to the live order at h. Dereferencing a handle
// whose slot is not in use is process-fatal (dangling handle).
func (a *Arena) Get(h Handle) *Order {
	if h == HNone || int(h) >= a.capacity || !a.used[h] {
		panic(fmt.Sprintf("matching: dereference of empty/invalid arena slot %d", h))
	}
	return &a.slots[h]
}

// InUse reports whether h currently refers to a live order.
func (a *Arena) InUse(h Handle) bool {
	return h != HNone && int(h) < a.capacity && a.used[h]
}
