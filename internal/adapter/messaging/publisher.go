package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/rl1809/crop-exchange/internal/core/domain"
	"github.com/rl1809/crop-exchange/internal/port"
)

const eventTypeHeader = "event-type"

// EventPublisher writes order events keyed by order id, so every event of
// one order lands on the same partition in commit order.
type EventPublisher struct {
	producer Producer
	logger   *zap.Logger
}

var _ port.EventPublisher = (*EventPublisher)(nil)

func NewEventPublisher(producer Producer, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{producer: producer, logger: logger}
}

func (p *EventPublisher) PublishOrderEvent(ctx context.Context, event domain.OrderEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Type, err)
	}

	msg := kafka.Message{
		Key:   []byte(event.OrderID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: eventTypeHeader, Value: []byte(event.Type)},
		},
	}
	if err := p.producer.WriteMessage(ctx, msg); err != nil {
		return fmt.Errorf("publish %s event: %w", event.Type, err)
	}

	p.logger.Debug("Published order event",
		zap.String("event", string(event.Type)),
		zap.String("order_id", event.OrderID),
	)
	return nil
}

func (p *EventPublisher) Close() error {
	return p.producer.Close()
}
