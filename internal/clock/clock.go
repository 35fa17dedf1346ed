// Package clock implements the Simulation Clock: it
// advances a monotonic TickID at a configured cadence, calls Tick for
// every active symbol, and gates downstream fanout on TickComplete so no
// partial tick is ever observed by a subscriber.
package clock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/abdoElHodaky/matchcore/pkg/matching"
)

// Coordinator is the clock's view of the Symbol Coordinator.
type Coordinator interface {
	Symbols() []uint64
	Tick(symbol uint64, t matching.TickID) ([]matching.EngineEvent, error)
	UpdateTick(t matching.TickID)
	RequestEviction(symbol uint64) error
	FinishEviction(symbol uint64) error
}

// Sink receives a symbol's events only after every engine has reached
// TickComplete for the current TickID, plus the tick's boundary once
// every symbol has been flushed.
type Sink interface {
	Publish(ctx context.Context, symbol uint64, t matching.TickID, events []matching.EngineEvent) error
	PublishBoundary(ctx context.Context, boundary matching.TickBoundary) error
}

// ParallelismMode selects how a tick is spread across symbols.
type ParallelismMode int

const (
	// Sequential ticks one symbol at a time, in Symbols() order.
	Sequential ParallelismMode = iota
	// Pooled ticks every symbol concurrently and waits for all of them
	// (the coordinator's own worker pool still bounds concurrency).
	Pooled
)

// ErrorRecoveryMode selects how the clock reacts to a symbol's tick
// returning an error.
type ErrorRecoveryMode int

const (
	// RecoveryContinue logs the failure, skips publishing that symbol
	// this tick, and carries on with the rest. Default.
	RecoveryContinue ErrorRecoveryMode = iota
	// RecoveryHalt aborts the whole Step (and so Run) on the first
	// symbol tick failure.
	RecoveryHalt
	// RecoveryRetry re-attempts the failing symbol's tick up to Retries
	// times before falling back to RecoveryContinue's skip behavior.
	RecoveryRetry
)

// ErrorRecoveryPolicy configures per-symbol tick-failure handling.
type ErrorRecoveryPolicy struct {
	Mode    ErrorRecoveryMode
	Retries int
}

// Config configures tick cadence, scheduling mode, and failure handling.
type Config struct {
	TickHz              float64
	ParallelismMode     ParallelismMode
	ErrorRecovery       ErrorRecoveryPolicy
	ShutdownTimeoutSecs int
}

// Clock drives tick cadence for every registered symbol.
type Clock struct {
	coordinator Coordinator
	sink        Sink
	limiter     *rate.Limiter
	mode        ParallelismMode
	logger      *zap.Logger

	errorRecovery   ErrorRecoveryPolicy
	shutdownTimeout time.Duration
	stopping        atomic.Bool

	current matching.TickID
}

// New constructs a Clock paced at cfg.TickHz ticks per second.
func New(cfg Config, coordinator Coordinator, sink Sink, logger *zap.Logger) *Clock {
	hz := cfg.TickHz
	if hz <= 0 {
		hz = 10
	}
	shutdownTimeout := time.Duration(cfg.ShutdownTimeoutSecs) * time.Second
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	return &Clock{
		coordinator:     coordinator,
		sink:            sink,
		limiter:         rate.NewLimiter(rate.Limit(hz), 1),
		mode:            cfg.ParallelismMode,
		logger:          logger,
		errorRecovery:   cfg.ErrorRecovery,
		shutdownTimeout: shutdownTimeout,
	}
}

// Run advances the clock until ctx is cancelled or Stop is called. Each
// iteration waits for the pacing limiter, advances TickID, calls Tick
// for every symbol, and publishes each symbol's events once every
// symbol has reached TickComplete for that tick.
func (c *Clock) Run(ctx context.Context) error {
	for {
		if c.stopping.Load() {
			return nil
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := c.Step(ctx); err != nil {
			return err
		}
	}
}

type tickOutcome int

const (
	outcomePublish tickOutcome = iota
	outcomeSkip
)

type tickResult struct {
	symbol  uint64
	events  []matching.EngineEvent
	outcome tickOutcome
}

// Step advances exactly one tick, synchronously. Exposed directly so
// tests (and the simulation replay tooling) can drive deterministic
// tick-by-tick execution without the pacing limiter.
//
// Every symbol reaches TickComplete (the barrier) before any symbol's
// events are published, and publishing happens in Symbols() order
// (ascending symbol id by default) regardless of which goroutine
// finished ticking first in Pooled mode.
func (c *Clock) Step(ctx context.Context) error {
	c.current++
	t := c.current
	c.coordinator.UpdateTick(t)
	symbols := c.coordinator.Symbols()
	results := make([]tickResult, len(symbols))

	switch c.mode {
	case Sequential:
		for i, sym := range symbols {
			events, outcome, err := c.tickWithRecovery(ctx, sym, t)
			if err != nil {
				return err
			}
			results[i] = tickResult{symbol: sym, events: events, outcome: outcome}
		}
	case Pooled:
		var wg sync.WaitGroup
		errs := make([]error, len(symbols))
		for i, sym := range symbols {
			wg.Add(1)
			go func(i int, sym uint64) {
				defer wg.Done()
				events, outcome, err := c.tickWithRecovery(ctx, sym, t)
				results[i] = tickResult{symbol: sym, events: events, outcome: outcome}
				errs[i] = err
			}(i, sym)
		}
		wg.Wait() // barrier: nothing downstream sees any symbol until every symbol has reached TickComplete
		for _, err := range errs {
			if err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("clock: unknown parallelism mode %d", c.mode)
	}

	if c.sink == nil {
		return nil
	}

	flushed := make([]uint64, 0, len(results))
	for _, r := range results {
		if r.outcome == outcomeSkip {
			continue
		}
		if err := c.sink.Publish(ctx, r.symbol, t, r.events); err != nil {
			return err
		}
		flushed = append(flushed, r.symbol)
	}
	return c.sink.PublishBoundary(ctx, matching.TickBoundary{Tick: t, FlushedSymbols: flushed})
}

// tickWithRecovery ticks symbol, applying the configured
// ErrorRecoveryPolicy on failure. RecoveryHalt's error propagates out of
// Step; RecoveryContinue and an exhausted RecoveryRetry both skip
// publishing for symbol this tick without aborting the rest.
func (c *Clock) tickWithRecovery(ctx context.Context, symbol uint64, t matching.TickID) ([]matching.EngineEvent, tickOutcome, error) {
	attempts := 1
	if c.errorRecovery.Mode == RecoveryRetry && c.errorRecovery.Retries > 0 {
		attempts += c.errorRecovery.Retries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		events, err := c.coordinator.Tick(symbol, t)
		if err == nil {
			return events, outcomePublish, nil
		}
		lastErr = err
		c.logger.Warn("clock: tick failed",
			zap.Uint64("symbol", symbol),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	if c.errorRecovery.Mode == RecoveryHalt {
		return nil, outcomeSkip, fmt.Errorf("clock: symbol %d tick failed, halting: %w", symbol, lastErr)
	}
	return nil, outcomeSkip, nil
}

// Stop requests eviction of every registered symbol, steps the clock so
// each reaches its eviction tick boundary, and finishes their eviction,
// until none remain or Config.ShutdownTimeoutSecs elapses, whichever
// comes first. Run's loop exits on its next iteration once Stop has
// been called.
func (c *Clock) Stop(ctx context.Context) error {
	c.stopping.Store(true)

	pending := make(map[uint64]struct{})
	for _, sym := range c.coordinator.Symbols() {
		if err := c.coordinator.RequestEviction(sym); err != nil {
			c.logger.Warn("clock: request eviction failed during shutdown",
				zap.Uint64("symbol", sym), zap.Error(err))
			continue
		}
		pending[sym] = struct{}{}
	}

	deadline := time.Now().Add(c.shutdownTimeout)
	for len(pending) > 0 {
		if !time.Now().Before(deadline) {
			return fmt.Errorf("clock: shutdown timed out with %d symbol(s) still evicting", len(pending))
		}
		if err := c.Step(ctx); err != nil {
			return err
		}
		for sym := range pending {
			if err := c.coordinator.FinishEviction(sym); err == nil {
				delete(pending, sym)
			}
		}
	}
	return nil
}

// Current reports the last TickID completed.
func (c *Clock) Current() matching.TickID {
	return c.current
}
