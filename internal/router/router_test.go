package router

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/matchcore/pkg/matching"
)

type fakeQueue struct {
	accept bool
	got    []matching.Message
}

func (q *fakeQueue) TryEnqueue(msg matching.Message) bool {
	if !q.accept {
		return false
	}
	q.got = append(q.got, msg)
	return true
}

// fakeActivator stands in for the Symbol Coordinator's ensure_active
// contract: the first EnsureActive call for a symbol installs its route
// into the router (as the coordinator's real EnsureActive would, via
// Router.Register); later calls are no-ops.
type fakeActivator struct {
	r        *Router
	q        *fakeQueue
	calls    map[uint64]int
	shouldErr bool
}

func newFakeActivator(r *Router, q *fakeQueue) *fakeActivator {
	return &fakeActivator{r: r, q: q, calls: map[uint64]int{}}
}

func (a *fakeActivator) EnsureActive(symbol uint64) (ReadyAtTick, error) {
	a.calls[symbol]++
	if a.shouldErr {
		return ReadyAtTick{}, errors.New("activation refused")
	}
	a.r.Register(symbol, a.q)
	return ReadyAtTick{NextTick: matching.TickID(1), QueueWriter: a.q}, nil
}

func newTestRouter(cfg Config) *Router {
	return New(cfg, nil, zap.NewNop())
}

func TestRouter_ShardForIsStableAndBounded(t *testing.T) {
	r := newTestRouter(Config{Shards: 4, BackpressureQPS: 1000, BackpressureBurst: 1000})
	s1 := r.ShardFor(42)
	s2 := r.ShardFor(42)
	assert.Equal(t, s1, s2, "shard mapping must be stable for the same symbol")
	assert.Less(t, s1, uint64(4))
}

func TestRouter_SubmitWithoutRouteFails(t *testing.T) {
	r := newTestRouter(Config{Shards: 1, BackpressureQPS: 1000, BackpressureBurst: 1000})
	err := r.Submit(1, matching.Message{})
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestRouter_SubmitEnqueuesAndStampsMonotonicSeq(t *testing.T) {
	r := newTestRouter(Config{Shards: 1, BackpressureQPS: 1000, BackpressureBurst: 1000})
	q := &fakeQueue{accept: true}
	r.Register(1, q)

	require.NoError(t, r.Submit(1, matching.Message{OrderID: 10}))
	require.NoError(t, r.Submit(1, matching.Message{OrderID: 11}))

	require.Len(t, q.got, 2)
	assert.Less(t, q.got[0].EnqSeq, q.got[1].EnqSeq)
}

func TestRouter_SubmitPropagatesQueueBackpressure(t *testing.T) {
	r := newTestRouter(Config{Shards: 1, BackpressureQPS: 1000, BackpressureBurst: 1000})
	q := &fakeQueue{accept: false}
	r.Register(1, q)

	err := r.Submit(1, matching.Message{OrderID: 1})
	assert.ErrorIs(t, err, ErrBackpressure)
}

func TestRouter_SubmitAppliesRateLimiterBackpressure(t *testing.T) {
	r := newTestRouter(Config{Shards: 1, BackpressureQPS: 0, BackpressureBurst: 0})
	q := &fakeQueue{accept: true}
	r.Register(1, q)

	err := r.Submit(1, matching.Message{OrderID: 1})
	assert.ErrorIs(t, err, ErrBackpressure)
	assert.Empty(t, q.got)
}

func TestRouter_UnregisterRemovesRoute(t *testing.T) {
	r := newTestRouter(Config{Shards: 1, BackpressureQPS: 1000, BackpressureBurst: 1000})
	q := &fakeQueue{accept: true}
	r.Register(1, q)
	r.Unregister(1)

	err := r.Submit(1, matching.Message{})
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestRouter_SubmitActivatesInactiveSymbolAndRetriesOnce(t *testing.T) {
	r := newTestRouter(Config{Shards: 1, BackpressureQPS: 1000, BackpressureBurst: 1000})
	q := &fakeQueue{accept: true}
	activator := newFakeActivator(r, q)
	r.SetActivator(activator)

	err := r.Submit(1, matching.Message{OrderID: 7})
	require.NoError(t, err)
	assert.Equal(t, 1, activator.calls[1])
	require.Len(t, q.got, 1)
	assert.Equal(t, matching.OrderID(7), q.got[0].OrderID)
}

func TestRouter_SubmitWithoutRouteAndNoActivatorFails(t *testing.T) {
	r := newTestRouter(Config{Shards: 1, BackpressureQPS: 1000, BackpressureBurst: 1000})
	err := r.Submit(1, matching.Message{})
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestRouter_SubmitActivationFailureWrapsError(t *testing.T) {
	r := newTestRouter(Config{Shards: 1, BackpressureQPS: 1000, BackpressureBurst: 1000})
	activator := newFakeActivator(r, &fakeQueue{accept: true})
	activator.shouldErr = true
	r.SetActivator(activator)

	err := r.Submit(1, matching.Message{})
	assert.ErrorIs(t, err, ErrActivationFailed)

	var rerr *RouterError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, uint64(1), rerr.Symbol)
	assert.NotEmpty(t, rerr.CorrelationID)
}

func TestRouter_SubmitBackpressureErrorCarriesCorrelationID(t *testing.T) {
	r := newTestRouter(Config{Shards: 1, BackpressureQPS: 1000, BackpressureBurst: 1000})
	q := &fakeQueue{accept: false}
	r.Register(1, q)

	err := r.Submit(1, matching.Message{OrderID: 1})
	assert.ErrorIs(t, err, ErrBackpressure)

	var rerr *RouterError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, uint64(1), rerr.Symbol)
	assert.NotEmpty(t, rerr.CorrelationID)
}
