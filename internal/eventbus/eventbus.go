// Package eventbus publishes a symbol's tick events downstream once the
// Simulation Clock has observed TickComplete. Publish failures are
// isolated behind a circuit breaker so a stalled downstream transport
// degrades instead of stalling the clock.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/matchcore/pkg/matching"
)

// wireEvent is the JSON-on-the-wire shape of one matching.EngineEvent,
// tagged with the symbol and tick it belongs to.
type wireEvent struct {
	Symbol uint64              `json:"symbol"`
	Tick   matching.TickID     `json:"tick"`
	Kind   matching.EventKind  `json:"kind"`
	Event  matching.EngineEvent `json:"event"`
}

// wireBoundary is the JSON-on-the-wire shape of a matching.TickBoundary.
type wireBoundary struct {
	Tick           matching.TickID `json:"tick"`
	FlushedSymbols []uint64        `json:"flushed_symbols"`
}

// Config configures the NATS transport and breaker thresholds.
type Config struct {
	NATSURL          string
	Subject          string
	BreakerThreshold uint32
}

// Bus publishes per-tick events to NATS via watermill, guarded by a
// circuit breaker.
type Bus struct {
	publisher message.Publisher
	subject   string
	breaker   *gobreaker.CircuitBreaker
	logger    *zap.Logger
}

// New constructs a Bus connected to cfg.NATSURL.
func New(cfg Config, logger *zap.Logger) (*Bus, error) {
	wmLogger := watermill.NewStdLogger(false, false)

	publisher, err := nats.NewPublisher(
		nats.PublisherConfig{
			URL:       cfg.NATSURL,
			Marshaler: &nats.GobMarshaler{},
			NatsOptions: []natsgo.Option{
				natsgo.Name("matchcore-eventbus"),
				natsgo.RetryOnFailedConnect(true),
				natsgo.MaxReconnects(-1),
			},
		},
		wmLogger,
	)
	if err != nil {
		return nil, fmt.Errorf("eventbus: new publisher: %w", err)
	}

	threshold := cfg.BreakerThreshold
	if threshold == 0 {
		threshold = 5
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "matchcore-eventbus",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	})

	return &Bus{
		publisher: publisher,
		subject:   cfg.Subject,
		breaker:   breaker,
		logger:    logger,
	}, nil
}

// Publish implements clock.Sink: it publishes every event for (symbol,
// tick) as an individually-ordered wire message, preserving the
// canonical Trade*/BookDelta*/Lifecycle*/TickComplete sequence as
// message order on the subject.
func (b *Bus) Publish(ctx context.Context, symbol uint64, t matching.TickID, events []matching.EngineEvent) error {
	_, err := b.breaker.Execute(func() (interface{}, error) {
		for _, ev := range events {
			payload, merr := json.Marshal(wireEvent{Symbol: symbol, Tick: t, Kind: ev.Kind, Event: ev})
			if merr != nil {
				return nil, fmt.Errorf("eventbus: marshal event: %w", merr)
			}
			msg := message.NewMessage(uuid.New().String(), payload)
			if perr := b.publisher.Publish(b.subject, msg); perr != nil {
				return nil, fmt.Errorf("eventbus: publish: %w", perr)
			}
		}
		return nil, nil
	})
	if err != nil {
		b.logger.Error("eventbus: publish failed, breaker may trip Fatal backpressure", zap.Uint64("symbol", symbol), zap.Error(err))
	}
	return err
}

// PublishBoundary implements clock.Sink: it publishes the tick's
// TickBoundary on a dedicated subject, once every symbol flushed this
// tick has already been published via Publish.
func (b *Bus) PublishBoundary(ctx context.Context, boundary matching.TickBoundary) error {
	_, err := b.breaker.Execute(func() (interface{}, error) {
		payload, merr := json.Marshal(wireBoundary{Tick: boundary.Tick, FlushedSymbols: boundary.FlushedSymbols})
		if merr != nil {
			return nil, fmt.Errorf("eventbus: marshal boundary: %w", merr)
		}
		msg := message.NewMessage(uuid.New().String(), payload)
		if perr := b.publisher.Publish(b.subject+".boundary", msg); perr != nil {
			return nil, fmt.Errorf("eventbus: publish boundary: %w", perr)
		}
		return nil, nil
	})
	if err != nil {
		b.logger.Error("eventbus: publish boundary failed", zap.Uint64("tick", uint64(boundary.Tick)), zap.Error(err))
	}
	return err
}

// Close releases the underlying transport.
func (b *Bus) Close() error {
	return b.publisher.Close()
}
