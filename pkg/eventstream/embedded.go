package eventstream

import (
	"context"

	"github.com/getmockd/gqlgateway/pkg/broker"
)

// EmbeddedSource subscribes through the inline client of an embedded broker.
type EmbeddedSource struct {
	broker *broker.Broker
}

// NewEmbeddedSource creates a Source on b.
func NewEmbeddedSource(b *broker.Broker) *EmbeddedSource {
	return &EmbeddedSource{broker: b}
}

// Subscribe implements Source.
func (s *EmbeddedSource) Subscribe(_ context.Context, topic, exchange string) (RawSubscription, error) {
	filter := Filter(exchange, topic)
	sub := newChanSubscription()
	id, err := s.broker.Subscribe(filter, sub.deliver)
	if err != nil {
		_ = sub.Close()
		return nil, err
	}
	sub.unsubscribe = func() error {
		return s.broker.Unsubscribe(filter, id)
	}
	return sub, nil
}
