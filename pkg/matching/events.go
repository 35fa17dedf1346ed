package matching

import "fmt"

// EventKind tags the variant carried by EngineEvent.
type EventKind uint8

const (
	EventTrade EventKind = iota
	EventBookDelta
	EventLifecycle
	EventTickComplete
)

// LifecycleKind is the sub-kind of a Lifecycle event.
type LifecycleKind uint8

const (
	LifecycleAccepted LifecycleKind = iota
	LifecycleRejected
	LifecycleCancelled
)

// EngineEvent is the tagged union emitted by the engine. Exactly one of
// the payload field groups below is meaningful, selected by Kind. Numeric
// fields use a stable wire encoding: sides as {0:Buy, 1:Sell}, reasons/
// kinds as stable small integers.
type EngineEvent struct {
	Kind   EventKind
	Symbol uint64
	Tick   TickID

	// Trade
	ExecID     uint64
	Price      uint32
	Qty        uint64
	TakerSide  Side
	MakerOrder OrderID
	TakerOrder OrderID

	// BookDelta
	BDSide         Side
	BDPrice        uint32
	LevelQtyAfter  uint64

	// Lifecycle
	LCKind  LifecycleKind
	OrderID OrderID
	Reason  RejectReason
}

// emitter enforces the canonical per-tick ordering Trade* · BookDelta* ·
// Lifecycle* · TickComplete. An out-of-order emission is a developer
// error and panics immediately rather than silently corrupting state.
type emitter struct {
	tick     TickID
	symbol   uint64
	lastKind EventKind
	started  bool
	done     bool
	events   []EngineEvent
}

func newEmitter(symbol uint64) *emitter {
	return &emitter{symbol: symbol}
}

// reset starts a new tick's emission window.
func (e *emitter) reset(tick TickID) {
	e.tick = tick
	e.lastKind = EventTrade
	e.started = false
	e.done = false
	e.events = e.events[:0]
}

func (e *emitter) checkOrder(kind EventKind) {
	if e.done {
		panic("matching: event emitted after TickComplete")
	}
	if !e.started {
		e.started = true
		e.lastKind = kind
		return
	}
	if kind < e.lastKind {
		panic(fmt.Sprintf("matching: canonical order violation: kind %d after %d", kind, e.lastKind))
	}
	e.lastKind = kind
}

func (e *emitter) trade(ev EngineEvent) {
	ev.Kind = EventTrade
	ev.Symbol = e.symbol
	ev.Tick = e.tick
	e.checkOrder(EventTrade)
	e.events = append(e.events, ev)
}

func (e *emitter) bookDelta(ev EngineEvent) {
	ev.Kind = EventBookDelta
	ev.Symbol = e.symbol
	ev.Tick = e.tick
	e.checkOrder(EventBookDelta)
	e.events = append(e.events, ev)
}

func (e *emitter) lifecycle(ev EngineEvent) {
	ev.Kind = EventLifecycle
	ev.Symbol = e.symbol
	ev.Tick = e.tick
	e.checkOrder(EventLifecycle)
	e.events = append(e.events, ev)
}

func (e *emitter) tickComplete() {
	ev := EngineEvent{Kind: EventTickComplete, Symbol: e.symbol, Tick: e.tick}
	e.checkOrder(EventTickComplete)
	e.events = append(e.events, ev)
	e.done = true
}

// Take returns the events accumulated since the last reset.
func (e *emitter) Take() []EngineEvent {
	return e.events
}

// TickBoundary is the system-level event emitted once every active
// symbol has reached TickComplete for a tick. Unlike EngineEvent, no
// single engine owns it — it is assembled by whatever drives tick
// cadence across symbols, in that driver's symbol collection order
// (ascending symbol id by default).
type TickBoundary struct {
	Tick           TickID
	FlushedSymbols []uint64
}
