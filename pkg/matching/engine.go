package matching

import (
	"fmt"
	"sort"
)

// Engine owns one symbol's order book: an arena of orders, an intrusive
// FIFO per price level, a price-index bitset per side, and an order-id
// index. Tick is the only entry point that matches orders and mutates the
// book in normal operation; SetReferencePrice replaces the band reference
// and Restore rebuilds a fresh engine from a snapshot. Between calls the
// engine is fully at rest.
type Engine struct {
	cfg    Config
	arena  *Arena
	book   *book
	idx    *OrderIndex
	emit   *emitter
	domain PriceDomain

	priorT    TickID
	hasTicked bool
	hasTraded bool

	localCounter uint64
	refPrice     uint32

	pendingTrades     []EngineEvent
	pendingLifecycles []EngineEvent
	touchedSell       map[PriceIdx]struct{}
	touchedBuy        map[PriceIdx]struct{}
}

// NewEngine validates cfg and constructs an engine. No engine is returned
// on a validation failure.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	length := cfg.Domain.Length()
	idxCap := cfg.OrderIndexCapacity
	if idxCap == 0 {
		idxCap = cfg.ArenaCapacity
	}
	return &Engine{
		cfg:         cfg,
		arena:       NewArena(cfg.ArenaCapacity, cfg.ElasticArena),
		book:        newBook(length),
		idx:         NewOrderIndex(idxCap),
		emit:        newEmitter(cfg.SymbolID),
		domain:      cfg.Domain,
		touchedSell: make(map[PriceIdx]struct{}),
		touchedBuy:  make(map[PriceIdx]struct{}),
	}, nil
}

// SetReferencePrice sets the band-check reference price. A zero
// reference disables the band check — used
// for a symbol that has not yet traded and has no externally supplied
// reference (an Open-Question resolution recorded in DESIGN.md).
func (e *Engine) SetReferencePrice(p uint32) {
	e.refPrice = p
}

// ArenaLen reports the number of live orders (diagnostic / testing).
func (e *Engine) ArenaLen() int { return e.arena.Len() }

// OrderCount reports the number of indexed orders (diagnostic / testing).
func (e *Engine) OrderCount() int { return e.idx.Len() }

// LevelQty reports the level_qty for (side, price) — testing/diagnostics.
func (e *Engine) LevelQty(side Side, priceIdx PriceIdx) uint64 {
	return e.book.side(side).levelQty(priceIdx)
}

// Tick drains up to BatchMax messages from q, matches them in arrival
// order, and returns the tick's events in canonical order: Trade* ·
// BookDelta* · Lifecycle* · TickComplete.
func (e *Engine) Tick(t TickID, q IngressQueue) []EngineEvent {
	if e.hasTicked && t < e.priorT+1 {
		panic(fmt.Sprintf("matching: tick regression: got %d, prior %d", t, e.priorT))
	}
	e.emit.reset(t)
	e.pendingTrades = e.pendingTrades[:0]
	e.pendingLifecycles = e.pendingLifecycles[:0]
	for k := range e.touchedSell {
		delete(e.touchedSell, k)
	}
	for k := range e.touchedBuy {
		delete(e.touchedBuy, k)
	}
	e.localCounter = 0

	for i := 0; i < e.cfg.BatchMax; i++ {
		msg, ok := q.TryDequeue()
		if !ok {
			break
		}
		e.handleMessage(msg, t)
	}

	e.flush()
	e.priorT = t
	e.hasTicked = true
	return e.emit.Take()
}

func (e *Engine) handleMessage(msg Message, t TickID) {
	switch msg.Kind {
	case MsgCancel:
		e.handleCancel(msg)
	case MsgSubmit:
		e.handleSubmit(msg, t)
	}
}

func (e *Engine) handleCancel(msg Message) {
	h, ok := e.idx.Get(msg.OrderID)
	if !ok {
		e.rejectLifecycle(msg.OrderID, ReasonUnknownOrder)
		return
	}
	o := e.arena.Get(h)
	side := o.Side
	e.book.side(side).unlink(e.arena, h)
	e.idx.Delete(msg.OrderID)
	e.arena.Free(h)
	e.cancelledLifecycle(msg.OrderID)
}

func (e *Engine) handleSubmit(msg Message, t TickID) {
	if reason, bad := e.validateSubmit(msg); bad {
		e.rejectLifecycle(msg.OrderID, reason)
		return
	}

	priceIdx := PriceIdx(0)
	if msg.HasPrice {
		priceIdx, _ = e.domain.Idx(msg.Price)
	}

	if msg.Type == PostOnly {
		if e.wouldCross(msg.Side, priceIdx) {
			e.rejectLifecycle(msg.OrderID, ReasonPostOnlyCross)
			return
		}
		e.insertResidual(msg, priceIdx, msg.Qty)
		return
	}

	remaining := msg.Qty
	aggressorCancelled := e.match(msg.Side, priceIdx, msg.HasPrice, &remaining, msg.Account, msg.OrderID, t)

	if aggressorCancelled {
		if msg.Type == Market || msg.Type == IOC {
			e.acceptedLifecycle(msg.OrderID)
		}
		e.cancelledLifecycle(msg.OrderID)
		return
	}

	switch msg.Type {
	case Limit:
		if remaining > 0 {
			e.insertResidual(msg, priceIdx, remaining)
		} else {
			e.acceptedLifecycle(msg.OrderID)
		}
	case Market, IOC:
		// Entry acceptance is always surfaced, filled or not (resolved
		// in favor of observability, see DESIGN.md).
		e.acceptedLifecycle(msg.OrderID)
		if remaining > 0 {
			e.cancelledLifecycle(msg.OrderID)
		}
	}
}

// validateSubmit applies price alignment, band, and type-allowed checks
//. It never mutates book/arena state.
func (e *Engine) validateSubmit(msg Message) (RejectReason, bool) {
	if msg.Qty == 0 {
		return ReasonMalformed, true
	}
	if (msg.Type == Limit || msg.Type == PostOnly) && !msg.HasPrice {
		return ReasonMalformed, true
	}
	if msg.Type == Limit || msg.Type == PostOnly {
		_, ok := e.domain.Idx(msg.Price)
		if !ok {
			return ReasonBadTick, true
		}
		if e.refPrice != 0 && !e.withinBand(msg.Price) {
			return ReasonOutOfBand, true
		}
	}
	if (msg.Type == Market || msg.Type == IOC) && !e.cfg.AllowMarketColdStart && !e.hasTraded {
		if msg.Type == Market {
			return ReasonMarketDisallowed, true
		}
		return ReasonIocDisallowed, true
	}
	return ReasonNone, false
}

func (e *Engine) withinBand(price uint32) bool {
	ref := float64(e.refPrice)
	var lo, hi float64
	switch e.cfg.BandMode {
	case BandAbsolute:
		lo = ref - e.cfg.BandValue
		hi = ref + e.cfg.BandValue
	case BandPercent:
		lo = ref * (1 - e.cfg.BandValue)
		hi = ref * (1 + e.cfg.BandValue)
	}
	p := float64(price)
	return p >= lo && p <= hi
}

func (e *Engine) wouldCross(side Side, priceIdx PriceIdx) bool {
	opp := opposite(side)
	bs := e.book.side(opp)
	if side == Buy {
		idx, ok := bs.bits.NextSetAtOrAfter(0)
		return ok && e.domain.Price(idx) <= e.domain.Price(priceIdx)
	}
	idx, ok := bs.bits.PrevSetAtOrBefore(PriceIdx(len(bs.levels) - 1))
	return ok && e.domain.Price(idx) >= e.domain.Price(priceIdx)
}

func opposite(s Side) Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// match walks the opposite side of the book, generating trades into the
// pending buffer. It returns aggressorCancelled=true if SelfMatchCancelAggressor
// fired and the remainder must be discarded without further handling.
func (e *Engine) match(taker Side, priceIdx PriceIdx, hasPrice bool, remaining *uint64, account AccountID, takerID OrderID, t TickID) bool {
	opp := opposite(taker)
	bs := e.book.side(opp)
	limitPrice := uint32(0)
	if hasPrice {
		limitPrice = e.domain.Price(priceIdx)
	}

	// scan moves past each level once it has been walked, so makers left in
	// place by SelfMatchSkip never make the sweep revisit their level.
	scan := PriceIdx(0)
	if taker == Sell {
		scan = PriceIdx(len(bs.levels) - 1)
	}
	for *remaining > 0 {
		var idx PriceIdx
		var ok bool
		if taker == Buy {
			idx, ok = bs.bits.NextSetAtOrAfter(scan)
		} else {
			idx, ok = bs.bits.PrevSetAtOrBefore(scan)
		}
		if !ok {
			break
		}
		levelPrice := e.domain.Price(idx)
		if hasPrice {
			if taker == Buy && levelPrice > limitPrice {
				break
			}
			if taker == Sell && levelPrice < limitPrice {
				break
			}
		}

		h := bs.bestHandle(idx)
		for h != HNone && *remaining > 0 {
			maker := e.arena.Get(h)
			if maker.Account == account {
				switch e.cfg.SelfMatch {
				case SelfMatchSkip:
					h = maker.Next
					continue
				case SelfMatchCancelResting:
					nextH := maker.Next
					makerID := maker.ID
					bs.unlink(e.arena, h)
					e.idx.Delete(makerID)
					e.arena.Free(h)
					e.touch(opp, idx)
					e.cancelledLifecycle(makerID)
					h = nextH
					continue
				case SelfMatchCancelAggressor:
					*remaining = 0
					return true
				}
			}

			tradeQty := min64(*remaining, maker.QtyOpen)
			execID := e.genExecID(t)
			e.pendingTrades = append(e.pendingTrades, EngineEvent{
				ExecID:     execID,
				Price:      levelPrice,
				Qty:        tradeQty,
				TakerSide:  taker,
				MakerOrder: maker.ID,
				TakerOrder: takerID,
			})
			maker.QtyOpen -= tradeQty
			*remaining -= tradeQty
			e.hasTraded = true
			bs.reduceLevelQty(idx, tradeQty)
			e.touch(opp, idx)

			if maker.QtyOpen == 0 {
				nextH := maker.Next
				makerID := maker.ID
				bs.unlink(e.arena, h)
				e.idx.Delete(makerID)
				e.arena.Free(h)
				h = nextH
			} else {
				h = maker.Next
			}
		}
		if taker == Buy {
			scan = idx + 1
		} else {
			if idx == 0 {
				break
			}
			scan = idx - 1
		}
	}
	return false
}

func (e *Engine) insertResidual(msg Message, priceIdx PriceIdx, qty uint64) {
	h, ok := e.arena.Alloc(Order{
		ID:       msg.OrderID,
		Account:  msg.Account,
		Side:     msg.Side,
		Type:     msg.Type,
		PriceIdx: priceIdx,
		HasPrice: true,
		QtyOpen:  qty,
		TSNorm:   msg.TSNorm,
		EnqSeq:   msg.EnqSeq,
	})
	if !ok {
		e.rejectLifecycle(msg.OrderID, ReasonArenaFull)
		return
	}
	e.book.side(msg.Side).pushTail(e.arena, h)
	e.idx.Put(msg.OrderID, h)
	e.touch(msg.Side, priceIdx)
	e.acceptedLifecycle(msg.OrderID)
}

func (e *Engine) touch(side Side, idx PriceIdx) {
	if side == Sell {
		e.touchedSell[idx] = struct{}{}
	} else {
		e.touchedBuy[idx] = struct{}{}
	}
}

func (e *Engine) acceptedLifecycle(id OrderID) {
	e.pendingLifecycles = append(e.pendingLifecycles, EngineEvent{LCKind: LifecycleAccepted, OrderID: id})
}

func (e *Engine) cancelledLifecycle(id OrderID) {
	e.pendingLifecycles = append(e.pendingLifecycles, EngineEvent{LCKind: LifecycleCancelled, OrderID: id})
}

func (e *Engine) rejectLifecycle(id OrderID, reason RejectReason) {
	e.pendingLifecycles = append(e.pendingLifecycles, EngineEvent{LCKind: LifecycleRejected, OrderID: id, Reason: reason})
}

// flush emits the tick's events in canonical order: all trades (in
// generation order), then book deltas (asks ascending, then bids
// descending, an arbitrary but fixed total order), then lifecycles (in
// generation order), then TickComplete.
func (e *Engine) flush() {
	for _, ev := range e.pendingTrades {
		e.emit.trade(ev)
	}

	sellIdxs := make([]int, 0, len(e.touchedSell))
	for idx := range e.touchedSell {
		sellIdxs = append(sellIdxs, int(idx))
	}
	sort.Ints(sellIdxs)
	for _, i := range sellIdxs {
		idx := PriceIdx(i)
		e.emit.bookDelta(EngineEvent{
			BDSide:        Sell,
			BDPrice:       e.domain.Price(idx),
			LevelQtyAfter: e.book.asks.levelQty(idx),
		})
	}

	buyIdxs := make([]int, 0, len(e.touchedBuy))
	for idx := range e.touchedBuy {
		buyIdxs = append(buyIdxs, int(idx))
	}
	sort.Sort(sort.Reverse(sort.IntSlice(buyIdxs)))
	for _, i := range buyIdxs {
		idx := PriceIdx(i)
		e.emit.bookDelta(EngineEvent{
			BDSide:        Buy,
			BDPrice:       e.domain.Price(idx),
			LevelQtyAfter: e.book.bids.levelQty(idx),
		})
	}

	for _, ev := range e.pendingLifecycles {
		e.emit.lifecycle(ev)
	}

	e.emit.tickComplete()
}

// genExecID assigns a globally-unique trade id. In Sharded mode the id
// embeds shard, tick, and a per-tick local counter so no two shards or
// ticks can collide; in External mode generation is deferred and the
// engine returns the bare local counter as a placeholder. That counter
// restarts at zero every tick, so External-mode ids are unique only
// within one tick.
func (e *Engine) genExecID(t TickID) uint64 {
	counter := e.localCounter
	e.localCounter++
	if e.cfg.ExecIDMode == ExecIDExternal {
		return counter
	}
	shift := e.cfg.ExecShiftBits
	const shardBits = 8
	shardPart := e.cfg.ShardID << (64 - shardBits)
	tickPart := uint64(t) << shift
	return shardPart | tickPart | counter
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// OrderSnapshot is one resting order captured at a snapshot boundary.
type OrderSnapshot struct {
	ID       OrderID
	Account  AccountID
	Side     Side
	Type     OrderType
	PriceIdx PriceIdx
	QtyOpen  uint64
	TSNorm   uint64
	EnqSeq   uint32
}

// Snapshot is a full, restorable capture of a symbol's engine state at a
// tick boundary. It must only be taken between ticks, never mid-Tick.
type Snapshot struct {
	SymbolID uint64
	Tick     TickID
	RefPrice uint32
	Orders   []OrderSnapshot
}

// Snapshot captures every resting order in priority order per level.
// Order within a level is recoverable because Restore replays pushTail
// in the same iteration order, reconstructing identical FIFO linkage.
func (e *Engine) Snapshot() Snapshot {
	snap := Snapshot{
		SymbolID: e.cfg.SymbolID,
		Tick:     e.priorT,
		RefPrice: e.refPrice,
	}
	walkSide := func(bs *bookSide) {
		for i := range bs.levels {
			h := bs.levels[i].head
			for h != HNone {
				o := e.arena.Get(h)
				snap.Orders = append(snap.Orders, OrderSnapshot{
					ID: o.ID, Account: o.Account, Side: o.Side, Type: o.Type,
					PriceIdx: o.PriceIdx, QtyOpen: o.QtyOpen, TSNorm: o.TSNorm, EnqSeq: o.EnqSeq,
				})
				h = o.Next
			}
		}
	}
	walkSide(e.book.bids)
	walkSide(e.book.asks)
	return snap
}

// Restore rebuilds engine state from snap into a freshly constructed
// engine for the same Config. It is the caller's responsibility to
// construct the Engine with NewEngine(cfg) first.
func (e *Engine) Restore(snap Snapshot) error {
	if snap.SymbolID != e.cfg.SymbolID {
		return fmt.Errorf("matching: snapshot symbol %d does not match engine symbol %d", snap.SymbolID, e.cfg.SymbolID)
	}
	for _, os := range snap.Orders {
		h, ok := e.arena.Alloc(Order{
			ID: os.ID, Account: os.Account, Side: os.Side, Type: os.Type,
			PriceIdx: os.PriceIdx, HasPrice: true, QtyOpen: os.QtyOpen,
			TSNorm: os.TSNorm, EnqSeq: os.EnqSeq,
		})
		if !ok {
			return fmt.Errorf("matching: restore: arena full at order %d", os.ID)
		}
		e.book.side(os.Side).pushTail(e.arena, h)
		e.idx.Put(os.ID, h)
	}
	e.priorT = snap.Tick
	e.hasTicked = snap.Tick > 0
	e.refPrice = snap.RefPrice
	return nil
}
