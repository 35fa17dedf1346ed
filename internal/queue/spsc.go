// Package queue implements the per-symbol ingress queue connecting the
// Order Router (single producer) to the Symbol Coordinator's worker pool
// (single consumer per symbol).
package queue

import (
	"sync/atomic"

	"github.com/abdoElHodaky/matchcore/pkg/matching"
)

// SPSC is a lock-free, fixed-capacity, single-producer/single-consumer
// ring buffer of matching.Message. Capacity must be a power of two so
// index wraparound is a bitwise AND, following the cache-line-aligned
// ring buffer pattern used elsewhere in the corpus for producer/consumer
// order flow.
type SPSC struct {
	mask  uint64
	slots []slot

	head uint64 // next write index, producer-owned
	tail uint64 // next read index, consumer-owned

	enqueued uint64 // diagnostic counters, safe for atomic reads from either side
	dropped  uint64
}

type slot struct {
	seq uint64
	msg matching.Message
}

// New allocates an SPSC queue. capacity is rounded up to the next power
// of two.
func New(capacity int) *SPSC {
	if capacity < 1 {
		capacity = 1
	}
	n := 1
	for n < capacity {
		n <<= 1
	}
	q := &SPSC{
		mask:  uint64(n - 1),
		slots: make([]slot, n),
	}
	for i := range q.slots {
		q.slots[i].seq = uint64(i)
	}
	return q
}

// TryEnqueue appends msg, returning false if the queue is full. The
// router observes this and applies its configured backpressure policy
// instead of blocking.
func (q *SPSC) TryEnqueue(msg matching.Message) bool {
	head := atomic.LoadUint64(&q.head)
	s := &q.slots[head&q.mask]
	if atomic.LoadUint64(&s.seq) != head {
		atomic.AddUint64(&q.dropped, 1)
		return false
	}
	s.msg = msg
	atomic.StoreUint64(&s.seq, head+1)
	atomic.StoreUint64(&q.head, head+1)
	atomic.AddUint64(&q.enqueued, 1)
	return true
}

// TryDequeue implements matching.IngressQueue: it never blocks, returning
// false immediately if no message is available.
func (q *SPSC) TryDequeue() (matching.Message, bool) {
	tail := q.tail
	s := &q.slots[tail&q.mask]
	if atomic.LoadUint64(&s.seq) != tail+1 {
		return matching.Message{}, false
	}
	msg := s.msg
	atomic.StoreUint64(&s.seq, tail+q.mask+1)
	q.tail = tail + 1
	return msg, true
}

// Len estimates the number of queued messages. Exact only when no
// producer/consumer race is in flight; for diagnostics only, not for
// correctness-critical decisions.
func (q *SPSC) Len() int {
	head := atomic.LoadUint64(&q.head)
	tail := atomic.LoadUint64(&q.tail)
	return int(head - tail)
}

// Cap returns the queue's fixed slot count.
func (q *SPSC) Cap() int { return len(q.slots) }

// Stats returns (enqueued, dropped) lifetime counters.
func (q *SPSC) Stats() (uint64, uint64) {
	return atomic.LoadUint64(&q.enqueued), atomic.LoadUint64(&q.dropped)
}
