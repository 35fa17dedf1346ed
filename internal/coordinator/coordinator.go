// Package coordinator implements the Symbol Coordinator:
// it owns every symbol's engine lifecycle, assigns symbols to a bounded
// worker pool via a placement policy, and drives each symbol's ingress
// queue through the matching engine on demand from the Simulation Clock.
package coordinator

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/matchcore/internal/metrics"
	"github.com/abdoElHodaky/matchcore/internal/queue"
	"github.com/abdoElHodaky/matchcore/internal/router"
	"github.com/abdoElHodaky/matchcore/pkg/matching"
)

// ErrAlreadyRegistered is returned by Register for a known symbol.
var ErrAlreadyRegistered = errors.New("coordinator: symbol already registered")

// ErrUnknownSymbol is returned by operations on a symbol with no entry.
var ErrUnknownSymbol = errors.New("coordinator: unknown symbol")

// ErrNotActive is returned by Tick when the symbol is neither Active nor
// Evicting.
var ErrNotActive = errors.New("coordinator: symbol not active")

// ErrCapacity is returned by Register/EnsureActive when the global
// symbol cap or a worker's per-thread symbol cap would be exceeded.
var ErrCapacity = errors.New("coordinator: capacity exceeded")

// SymbolOrdering selects the cross-symbol order Symbols() returns, which
// in turn drives the order the clock ticks symbols and collects a tick
// boundary in.
type SymbolOrdering int

const (
	// BySymbolID orders ascending by symbol id. Default.
	BySymbolID SymbolOrdering = iota
	// ByActivationTime orders by the sequence symbols were activated in.
	ByActivationTime
)

type symbolEntry struct {
	mu        sync.Mutex // serializes this symbol's ticks; Tick holds it while waiting on the pool task
	state     LifecycleState
	engine    *matching.Engine
	queue     *queue.SPSC
	worker    int
	idleTicks uint64 // consecutive ticks with no events beyond TickComplete
}

// Config configures the coordinator's worker pool and default placement
// policy.
type Config struct {
	WorkerCount   int
	Placement     string // "round_robin" or "hash"
	QueueCapacity int
	CoreVersion   string

	// EngineTemplate is copied (with SymbolID overwritten) to construct
	// an engine on EnsureActive's first call for a symbol. Required for
	// EnsureActive; Register remains the explicit, per-symbol-config
	// entry point and does not use it.
	EngineTemplate matching.Config

	// ReferencePriceTTL bounds how long an externally pushed reference
	// price stays valid before the band check falls back to disabled
	// (zero). Defaults to 5s.
	ReferencePriceTTL time.Duration

	// SymbolOrdering selects Symbols()' iteration order. Defaults to
	// BySymbolID.
	SymbolOrdering SymbolOrdering

	// MaxConcurrentSymbols caps the coordinator's total registered
	// symbol count. Zero means unlimited.
	MaxConcurrentSymbols int
	// MaxSymbolsPerThread caps how many symbols one worker slot may
	// host. Zero means unlimited.
	MaxSymbolsPerThread int
}

// Router is the coordinator's write-side view of the Order Router, used
// only to register/unregister a symbol's ingress queue.
type Router interface {
	Register(symbol uint64, q router.Queue)
	Unregister(symbol uint64)
}

// Coordinator owns the registry of symbol engines and their placement.
type Coordinator struct {
	mu             sync.RWMutex
	symbols        map[uint64]*symbolEntry
	workerCounts   map[int]int // worker slot -> number of symbols hosted, for MaxSymbolsPerThread
	activationSeq  map[uint64]uint64
	activationNext uint64
	pool           *ants.Pool
	registry       *PlacementRegistry
	policy         PlacementPolicy
	workers        int
	qcap           int
	router         Router
	metrics        *metrics.EngineMetrics
	logger         *zap.Logger

	engineTemplate  matching.Config
	refCache        *matching.ReferenceCache
	symbolOrdering  SymbolOrdering
	maxConcurrent   int
	maxPerThread    int

	currentTick uint64 // atomic; updated by UpdateTick, read by EnsureActive/diagnostics
}

// New constructs a Coordinator with a bounded ants.Pool sized to
// cfg.WorkerCount.
func New(cfg Config, router Router, m *metrics.EngineMetrics, logger *zap.Logger) (*Coordinator, error) {
	if cfg.WorkerCount <= 0 {
		return nil, fmt.Errorf("coordinator: worker_count must be > 0")
	}
	pool, err := ants.NewPool(cfg.WorkerCount, ants.WithPanicHandler(func(i interface{}) {
		logger.Error("coordinator: worker task panicked", zap.Any("panic", i))
	}))
	if err != nil {
		return nil, fmt.Errorf("coordinator: new pool: %w", err)
	}

	coreVersion := cfg.CoreVersion
	if coreVersion == "" {
		coreVersion = "1.0.0"
	}
	registry, err := NewPlacementRegistry(coreVersion)
	if err != nil {
		return nil, err
	}
	policy, ok := registry.Get(cfg.Placement)
	if !ok {
		policy, _ = registry.Get("round_robin")
	}

	refTTL := cfg.ReferencePriceTTL
	if refTTL <= 0 {
		refTTL = 5 * time.Second
	}

	return &Coordinator{
		symbols:        make(map[uint64]*symbolEntry),
		workerCounts:   make(map[int]int),
		activationSeq:  make(map[uint64]uint64),
		pool:           pool,
		registry:       registry,
		policy:         policy,
		workers:        cfg.WorkerCount,
		qcap:           cfg.QueueCapacity,
		router:         router,
		metrics:        m,
		logger:         logger,
		engineTemplate: cfg.EngineTemplate,
		refCache:       matching.NewReferenceCache(refTTL),
		symbolOrdering: cfg.SymbolOrdering,
		maxConcurrent:  cfg.MaxConcurrentSymbols,
		maxPerThread:   cfg.MaxSymbolsPerThread,
	}, nil
}

// Register constructs a symbol's engine and ingress queue and moves it
// to Registered.
func (c *Coordinator) Register(cfg matching.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.symbols[cfg.SymbolID]; exists {
		return ErrAlreadyRegistered
	}
	if c.maxConcurrent > 0 && len(c.symbols) >= c.maxConcurrent {
		return ErrCapacity
	}

	worker := c.policy.Place(cfg.SymbolID, c.workers)
	if c.maxPerThread > 0 && c.workerCounts[worker] >= c.maxPerThread {
		return ErrCapacity
	}

	eng, err := matching.NewEngine(cfg)
	if err != nil {
		return fmt.Errorf("coordinator: new engine: %w", err)
	}

	qcap := c.qcap
	if qcap <= 0 {
		qcap = 4096
	}
	q := queue.New(qcap)

	entry := &symbolEntry{
		state:  Registered,
		engine: eng,
		queue:  q,
		worker: worker,
	}
	c.symbols[cfg.SymbolID] = entry
	c.workerCounts[worker]++
	if c.router != nil {
		c.router.Register(cfg.SymbolID, q)
	}
	if c.metrics != nil {
		c.metrics.SymbolsActive.Inc()
	}
	return nil
}

// Activate transitions a symbol from Registered to Active, making it
// eligible for ticking.
func (c *Coordinator) Activate(symbol uint64) error {
	c.mu.RLock()
	entry, ok := c.symbols[symbol]
	c.mu.RUnlock()
	if !ok {
		return ErrUnknownSymbol
	}
	entry.mu.Lock()
	err := transition(entry.state, Active)
	if err == nil {
		entry.state = Active
	}
	entry.mu.Unlock()
	if err != nil {
		return err
	}
	c.recordActivation(symbol)
	return nil
}

// recordActivation stamps symbol's activation order, consulted by
// ByActivationTime ordering. Called with entry.mu already released:
// activationSeq is coordinator-level bookkeeping, not part of
// symbolEntry state, and must never be touched while holding entry.mu to
// avoid a lock-order inversion against FinishEviction (which takes c.mu
// then entry.mu).
func (c *Coordinator) recordActivation(symbol uint64) {
	c.mu.Lock()
	if _, seen := c.activationSeq[symbol]; !seen {
		c.activationSeq[symbol] = c.activationNext
		c.activationNext++
	}
	c.mu.Unlock()
}

// EnsureActive implements the coordinator's idempotent activation
// contract: the first call for a symbol registers its engine (from the
// coordinator's engine config template) and ingress queue and activates
// it; every later call for the same symbol returns the existing handle,
// only resetting the symbol's idle-tick count (and activating it if it
// is still Registered). Concurrent first calls for the same new symbol race
// on Register; the loser's ErrAlreadyRegistered is swallowed and it
// falls through to the same idempotent activation path as a repeat call.
func (c *Coordinator) EnsureActive(symbol uint64) (router.ReadyAtTick, error) {
	c.mu.RLock()
	entry, ok := c.symbols[symbol]
	c.mu.RUnlock()

	if !ok {
		cfg := c.engineTemplate
		cfg.SymbolID = symbol
		if err := c.Register(cfg); err != nil && !errors.Is(err, ErrAlreadyRegistered) {
			return router.ReadyAtTick{}, err
		}
		c.mu.RLock()
		entry, ok = c.symbols[symbol]
		c.mu.RUnlock()
		if !ok {
			return router.ReadyAtTick{}, ErrUnknownSymbol
		}
	}

	entry.mu.Lock()
	switch entry.state {
	case Active:
		entry.idleTicks = 0
	case Registered:
		entry.state = Active
		entry.idleTicks = 0
	default:
		entry.mu.Unlock()
		return router.ReadyAtTick{}, fmt.Errorf("coordinator: symbol %d cannot be activated from state %s", symbol, entry.state)
	}
	q := entry.queue
	entry.mu.Unlock()

	c.recordActivation(symbol)
	return router.ReadyAtTick{
		NextTick:    matching.TickID(atomic.LoadUint64(&c.currentTick)),
		QueueWriter: q,
	}, nil
}

// ReleaseIfIdle requests eviction for symbol once it has gone at least
// idleTicks consecutive ticks with no events beyond TickComplete.
// Advisory only: RequestEviction still only takes effect at the next
// tick boundary.
func (c *Coordinator) ReleaseIfIdle(symbol uint64, idleTicks uint64) error {
	c.mu.RLock()
	entry, ok := c.symbols[symbol]
	c.mu.RUnlock()
	if !ok {
		return ErrUnknownSymbol
	}
	entry.mu.Lock()
	idle := entry.idleTicks >= idleTicks
	entry.mu.Unlock()
	if !idle {
		return nil
	}
	return c.RequestEviction(symbol)
}

// UpdateTick records the coordinator's view of the current simulation
// tick. EnsureActive's next_tick and diagnostics read it back.
func (c *Coordinator) UpdateTick(t matching.TickID) {
	atomic.StoreUint64(&c.currentTick, uint64(t))
}

// CurrentTick returns the coordinator's last recorded tick.
func (c *Coordinator) CurrentTick() matching.TickID {
	return matching.TickID(atomic.LoadUint64(&c.currentTick))
}

// UpdateReferencePrice pushes an externally sourced reference price into
// the per-symbol cache Tick consults ahead of each engine tick. The
// entry expires after Config.ReferencePriceTTL; Tick re-reads the cache
// on every call rather than once at activation time, so a feed that
// stops updating lets the band check fall back to disabled (zero)
// instead of freezing on a stale price.
func (c *Coordinator) UpdateReferencePrice(symbol uint64, price uint32) error {
	c.mu.RLock()
	_, ok := c.symbols[symbol]
	c.mu.RUnlock()
	if !ok {
		return ErrUnknownSymbol
	}
	c.refCache.Set(symbol, price)
	return nil
}

// RequestEviction marks a symbol Evicting. The symbol keeps ticking
// normally until the clock observes TickComplete and calls
// FinishEviction.
func (c *Coordinator) RequestEviction(symbol uint64) error {
	c.mu.RLock()
	entry, ok := c.symbols[symbol]
	c.mu.RUnlock()
	if !ok {
		return ErrUnknownSymbol
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if err := transition(entry.state, Evicting); err != nil {
		return err
	}
	entry.state = Evicting
	return nil
}

// FinishEviction completes eviction after the current tick boundary,
// removing the symbol from the coordinator and router.
func (c *Coordinator) FinishEviction(symbol uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.symbols[symbol]
	if !ok {
		return ErrUnknownSymbol
	}
	entry.mu.Lock()
	if err := transition(entry.state, Evicted); err != nil {
		entry.mu.Unlock()
		return err
	}
	entry.state = Evicted
	entry.mu.Unlock()

	delete(c.symbols, symbol)
	delete(c.activationSeq, symbol)
	c.workerCounts[entry.worker]--
	if c.router != nil {
		c.router.Unregister(symbol)
	}
	if c.metrics != nil {
		c.metrics.SymbolsActive.Dec()
		c.metrics.SymbolsEvicted.Inc()
	}
	return nil
}

// State reports a symbol's current lifecycle state.
func (c *Coordinator) State(symbol uint64) (LifecycleState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.symbols[symbol]
	if !ok {
		return Unregistered, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.state, true
}

// Symbols returns the ids of every registered (non-evicted) symbol, in
// the coordinator's configured cross-symbol order (symbol-id ascending
// by default). The clock relies on this order for tick-boundary
// collection, so it must never be a raw, unordered map iteration.
func (c *Coordinator) Symbols() []uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]uint64, 0, len(c.symbols))
	for id := range c.symbols {
		ids = append(ids, id)
	}
	switch c.symbolOrdering {
	case ByActivationTime:
		sort.Slice(ids, func(i, j int) bool {
			return c.activationSeq[ids[i]] < c.activationSeq[ids[j]]
		})
	default:
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}
	return ids
}

// Tick submits symbol's engine tick to the worker pool and blocks until
// it completes, returning the emitted events. The
// per-symbol mutex guarantees a symbol is never ticked concurrently with
// itself even though the pool is shared across symbols.
func (c *Coordinator) Tick(symbol uint64, t matching.TickID) ([]matching.EngineEvent, error) {
	c.mu.RLock()
	entry, ok := c.symbols[symbol]
	c.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownSymbol
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.state != Active && entry.state != Evicting {
		return nil, ErrNotActive
	}

	if price, ok := c.refCache.Get(symbol); ok {
		entry.engine.SetReferencePrice(price)
	} else {
		entry.engine.SetReferencePrice(0)
	}

	type result struct {
		events []matching.EngineEvent
		panicVal interface{}
	}
	done := make(chan result, 1)
	err := c.pool.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{panicVal: r}
				return
			}
		}()
		events := entry.engine.Tick(t, entry.queue)
		done <- result{events: events}
	})
	if err != nil {
		return nil, fmt.Errorf("coordinator: submit tick: %w", err)
	}

	r := <-done
	if r.panicVal != nil {
		panic(r.panicVal)
	}

	// TickComplete is always emitted and always last; any other event
	// means the symbol did something this tick, resetting idleTicks.
	if len(r.events) > 1 {
		entry.idleTicks = 0
	} else {
		entry.idleTicks++
	}

	if c.metrics != nil {
		c.metrics.TicksProcessed.WithLabelValues(symbolLabel(symbol)).Inc()
		for _, ev := range r.events {
			if ev.Kind == matching.EventTrade {
				c.metrics.TradesEmitted.WithLabelValues(symbolLabel(symbol)).Inc()
			}
		}
	}
	return r.events, nil
}

// Release stops accepting new work and frees the worker pool.
func (c *Coordinator) Release() {
	c.pool.Release()
}

func symbolLabel(symbol uint64) string {
	return fmt.Sprintf("%d", symbol)
}
