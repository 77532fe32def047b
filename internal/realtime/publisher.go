//go:generate go run go.uber.org/mock/mockgen -source=publisher.go -destination=../mocks/mock_publisher.go -package=mocks
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
)

// Publisher is the fire-and-forget side of the fan-out channel service.
type Publisher interface {
	Publish(ctx context.Context, channel string, evt Event) error
}

type BrokerPublisher struct {
	broker Broker
}

func NewPublisher(broker Broker) *BrokerPublisher {
	return &BrokerPublisher{broker: broker}
}

func (p *BrokerPublisher) Publish(ctx context.Context, channel string, evt Event) error {
	evt.Channel = channel
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", evt.Type, err)
	}
	return p.broker.Publish(ctx, channel, payload)
}
