// Package matching implements the per-symbol deterministic matching engine:
// an arena-allocated limit order book with intrusive FIFO price levels,
// price/time priority matching, and canonical per-tick event emission.
package matching

// Side is the side of an order or price level.
type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// OrderType is the lifetime/marketability class of an order.
type OrderType uint8

const (
	Limit OrderType = iota
	Market
	IOC
	PostOnly
)

// SelfMatchPolicy controls what happens when an aggressor would trade
// against a resting order from the same account.
type SelfMatchPolicy uint8

const (
	// SelfMatchSkip steps over the resting order without filling it.
	SelfMatchSkip SelfMatchPolicy = iota
	// SelfMatchCancelResting cancels the resting maker, then continues matching.
	SelfMatchCancelResting
	// SelfMatchCancelAggressor cancels the remaining taker quantity and stops.
	SelfMatchCancelAggressor
)

// ExecIDMode selects how exec_id values are generated.
type ExecIDMode uint8

const (
	// ExecIDSharded embeds shard, tick, and a local counter into the id.
	ExecIDSharded ExecIDMode = iota
	// ExecIDExternal defers id assignment to an external collaborator.
	ExecIDExternal
)

// BandMode selects how the price band check interprets BandValue.
type BandMode uint8

const (
	BandAbsolute BandMode = iota
	BandPercent
)

// ReferencePriceSource selects where the band-check reference price comes from.
type ReferencePriceSource uint8

const (
	RefLastTrade ReferencePriceSource = iota
	RefPriorClose
	RefMidpoint
	RefManual
)

// RejectReason is a stable numeric reason code carried on Lifecycle{Rejected}.
type RejectReason uint8

const (
	ReasonNone RejectReason = iota
	ReasonBadTick
	ReasonOutOfBand
	ReasonMarketDisallowed
	ReasonIocDisallowed
	ReasonPostOnlyCross
	ReasonMalformed
	ReasonArenaFull
	ReasonUnknownOrder
	ReasonSelfMatchBlocked
	ReasonMarketHalted
	ReasonQueueBackpressure
)

func (r RejectReason) String() string {
	switch r {
	case ReasonBadTick:
		return "bad_tick"
	case ReasonOutOfBand:
		return "out_of_band"
	case ReasonMarketDisallowed:
		return "market_disallowed"
	case ReasonIocDisallowed:
		return "ioc_disallowed"
	case ReasonPostOnlyCross:
		return "post_only_cross"
	case ReasonMalformed:
		return "malformed"
	case ReasonArenaFull:
		return "arena_full"
	case ReasonUnknownOrder:
		return "unknown_order"
	case ReasonSelfMatchBlocked:
		return "self_match_blocked"
	case ReasonMarketHalted:
		return "market_halted"
	case ReasonQueueBackpressure:
		return "queue_backpressure"
	default:
		return "none"
	}
}

// TickID is the logical clock value driving the engine. Ticks are
// monotonically increasing per symbol; no two ticks for the same symbol
// may be equal or decrease.
type TickID uint64

// Handle is a 32-bit arena slot reference. HNone is the sentinel for "no order".
type Handle uint32

// HNone is the null handle: no order, no next/prev link.
const HNone Handle = 1<<32 - 1

// OrderID uniquely identifies an order within a symbol, for its lifetime.
type OrderID uint64

// AccountID identifies the owner of an order, used for self-match detection.
type AccountID uint64

// PriceIdx is an index into a symbol's price ladder ([0, ladder length)).
type PriceIdx uint32

// Order is the value copied into an arena slot. It is never referenced by
// pointer outside the arena: all linkage is via Handle.
type Order struct {
	ID       OrderID
	Account  AccountID
	Side     Side
	Type     OrderType
	PriceIdx PriceIdx // meaningful only for Limit/PostOnly
	HasPrice bool
	QtyOpen  uint64
	TSNorm   uint64
	EnqSeq   uint32
	Prev     Handle
	Next     Handle
}

// PriorityKey returns the lexicographic ordering key (ts_norm, enq_seq).
func (o Order) PriorityKey() (uint64, uint32) {
	return o.TSNorm, o.EnqSeq
}

// Less reports whether a has priority over b under (ts_norm, enq_seq).
func Less(aTS uint64, aSeq uint32, bTS uint64, bSeq uint32) bool {
	if aTS != bTS {
		return aTS < bTS
	}
	return aSeq < bSeq
}
