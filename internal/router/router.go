// Package router implements the Order Router: it maps an
// inbound request to a symbol's shard, stamps a monotonic enqueue
// sequence, and applies per-symbol backpressure before handing the
// message to the Symbol Coordinator's ingress queue.
package router

import (
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/abdoElHodaky/matchcore/internal/metrics"
	"github.com/abdoElHodaky/matchcore/pkg/matching"
)

// ErrNoRoute is returned when a symbol has no registered ingress queue.
var ErrNoRoute = errors.New("router: no route for symbol")

// ErrBackpressure is returned when a symbol's ingress queue rejects a
// message under load.
var ErrBackpressure = errors.New("router: symbol backpressure")

// ErrActivationFailed wraps an Activator's own error when a route-miss's
// activate-and-retry attempt fails.
var ErrActivationFailed = errors.New("router: activation failed")

// Queue is the router's write-side view of a symbol's ingress queue.
type Queue interface {
	TryEnqueue(msg matching.Message) bool
}

// ReadyAtTick is the activator's answer to an activation request: the
// tick the symbol becomes eligible to be ticked at, and the queue to
// enqueue into.
type ReadyAtTick struct {
	NextTick    matching.TickID
	QueueWriter Queue
}

// Activator is the router's view of the Symbol Coordinator's activation
// contract. Defined here rather than in the coordinator package: the
// coordinator already imports router for Queue/Router, so the reverse
// import would cycle.
type Activator interface {
	EnsureActive(symbol uint64) (ReadyAtTick, error)
}

// RouterError carries the correlation id and symbol a Submit failure
// occurred for, so logs and callers can tie a rejection back to the
// request that caused it.
type RouterError struct {
	CorrelationID string
	Symbol        uint64
	Err           error
}

func (e *RouterError) Error() string {
	return fmt.Sprintf("router: symbol %d (correlation %s): %v", e.Symbol, e.CorrelationID, e.Err)
}

func (e *RouterError) Unwrap() error { return e.Err }

// Route pairs a symbol's queue with its own limiter, so one congested
// symbol's pacing never borrows budget from another.
type Route struct {
	Queue   Queue
	Limiter *rate.Limiter
}

// Router shard-maps symbols to routes, stamps a monotonic per-symbol
// enqueue sequence, and enforces backpressure pacing ahead of enqueue.
type Router struct {
	mu     sync.RWMutex
	routes map[uint64]*Route
	seqs   map[uint64]*uint64

	shards    uint64
	qps       float64
	burst     int
	metrics   *metrics.EngineMetrics
	logger    *zap.Logger
	activator Activator
}

// Config configures shard count and default backpressure pacing.
type Config struct {
	Shards            int
	BackpressureQPS   float64
	BackpressureBurst int
}

// New constructs a Router.
func New(cfg Config, m *metrics.EngineMetrics, logger *zap.Logger) *Router {
	shards := cfg.Shards
	if shards < 1 {
		shards = 1
	}
	return &Router{
		routes:  make(map[uint64]*Route),
		seqs:    make(map[uint64]*uint64),
		shards:  uint64(shards),
		qps:     cfg.BackpressureQPS,
		burst:   cfg.BackpressureBurst,
		metrics: m,
		logger:  logger,
	}
}

// ShardFor returns the shard index symbol maps to: a stable FNV-1a
// hash over the symbol id, reduced mod shard count.
func (r *Router) ShardFor(symbol uint64) uint64 {
	h := fnv.New64a()
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(symbol >> (8 * i))
	}
	h.Write(b[:])
	return h.Sum64() % r.shards
}

// Register installs the ingress queue for symbol, creating a dedicated
// rate limiter for its backpressure pacing.
func (r *Router) Register(symbol uint64, q Queue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[symbol] = &Route{
		Queue:   q,
		Limiter: rate.NewLimiter(rate.Limit(r.qps), r.burst),
	}
	seq := uint64(0)
	r.seqs[symbol] = &seq
}

// Unregister removes symbol's route.
func (r *Router) Unregister(symbol uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.routes, symbol)
	delete(r.seqs, symbol)
}

// SetActivator wires the coordinator's activation contract into the
// router after both are constructed, breaking the circular construction
// order between the two.
func (r *Router) SetActivator(a Activator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activator = a
}

func (r *Router) lookup(symbol uint64) (*Route, *uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	route, ok := r.routes[symbol]
	if !ok {
		return nil, nil, false
	}
	return route, r.seqs[symbol], true
}

// Submit draws a fresh correlation id for the call (carried on any
// returned *RouterError and on the debug log line, not on msg), stamps
// msg with a monotonically increasing EnqSeq for its symbol, then
// attempts enqueue under the
// symbol's pacing limiter. On a route miss with an activator wired, it
// triggers ensure_active on the coordinator and retries the lookup
// exactly once before giving up.
func (r *Router) Submit(symbol uint64, msg matching.Message) error {
	correlationID := uuid.New().String()

	route, seqPtr, ok := r.lookup(symbol)
	if !ok {
		r.mu.RLock()
		activator := r.activator
		r.mu.RUnlock()
		if activator == nil {
			return &RouterError{CorrelationID: correlationID, Symbol: symbol, Err: ErrNoRoute}
		}
		if _, err := activator.EnsureActive(symbol); err != nil {
			return &RouterError{CorrelationID: correlationID, Symbol: symbol, Err: fmt.Errorf("%w: %v", ErrActivationFailed, err)}
		}
		route, seqPtr, ok = r.lookup(symbol)
		if !ok {
			return &RouterError{CorrelationID: correlationID, Symbol: symbol, Err: ErrNoRoute}
		}
	}

	if !route.Limiter.Allow() {
		if r.metrics != nil {
			r.metrics.RouterDropped.WithLabelValues(symbolLabel(symbol)).Inc()
		}
		return &RouterError{CorrelationID: correlationID, Symbol: symbol, Err: ErrBackpressure}
	}

	msg.EnqSeq = uint32(atomic.AddUint64(seqPtr, 1))

	if !route.Queue.TryEnqueue(msg) {
		if r.metrics != nil {
			r.metrics.RouterDropped.WithLabelValues(symbolLabel(symbol)).Inc()
		}
		return &RouterError{CorrelationID: correlationID, Symbol: symbol, Err: ErrBackpressure}
	}
	if r.metrics != nil {
		r.metrics.RouterEnqueued.WithLabelValues(symbolLabel(symbol)).Inc()
	}
	if r.logger != nil {
		r.logger.Debug("router: submitted",
			zap.String("correlation_id", correlationID),
			zap.Uint64("symbol", symbol),
			zap.Uint32("enq_seq", msg.EnqSeq),
		)
	}
	return nil
}

func symbolLabel(symbol uint64) string {
	return strconv.FormatUint(symbol, 10)
}
