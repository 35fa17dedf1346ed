package eventbus

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/matchcore/pkg/matching"
)

type fakePublisher struct {
	fail      bool
	published []*message.Message
}

func (p *fakePublisher) Publish(topic string, messages ...*message.Message) error {
	if p.fail {
		return errors.New("publish failed")
	}
	p.published = append(p.published, messages...)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func newTestBus(pub message.Publisher, threshold uint32) *Bus {
	return &Bus{
		publisher: pub,
		subject:   "matchcore.events",
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "test",
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
		}),
		logger: zap.NewNop(),
	}
}

func TestBus_PublishSendsOneMessagePerEvent(t *testing.T) {
	pub := &fakePublisher{}
	b := newTestBus(pub, 5)

	events := []matching.EngineEvent{
		{Kind: matching.EventTrade},
		{Kind: matching.EventBookDelta},
		{Kind: matching.EventTickComplete},
	}
	require.NoError(t, b.Publish(context.Background(), 1, 7, events))
	assert.Len(t, pub.published, 3)
}

func TestBus_PublishPropagatesTransportFailure(t *testing.T) {
	pub := &fakePublisher{fail: true}
	b := newTestBus(pub, 5)

	err := b.Publish(context.Background(), 1, 1, []matching.EngineEvent{{Kind: matching.EventTrade}})
	assert.Error(t, err)
}

func TestBus_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	pub := &fakePublisher{fail: true}
	b := newTestBus(pub, 2)

	_ = b.Publish(context.Background(), 1, 1, []matching.EngineEvent{{Kind: matching.EventTrade}})
	_ = b.Publish(context.Background(), 1, 2, []matching.EngineEvent{{Kind: matching.EventTrade}})

	err := b.Publish(context.Background(), 1, 3, []matching.EngineEvent{{Kind: matching.EventTrade}})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState, "breaker should short-circuit after threshold consecutive failures")
}

func TestBus_EmptyEventsIsNoop(t *testing.T) {
	pub := &fakePublisher{}
	b := newTestBus(pub, 5)

	require.NoError(t, b.Publish(context.Background(), 1, 1, nil))
	assert.Empty(t, pub.published)
}
