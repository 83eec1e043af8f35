// Package messaging carries order lifecycle events out to Kafka and shipment
// telemetry in from it.
package messaging

import (
	"context"
	"time"

	otelkafka "github.com/Trendyol/otel-kafka-konsumer"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	OrderEventsTopic = "crop-exchange.order-events"
	TelemetryTopic   = "crop-exchange.shipment-telemetry"
	TelemetryGroupID = "crop-exchange-telemetry"

	batchTimeout = 10 * time.Millisecond
	batchSize    = 100
	clientID     = "crop-exchange"
)

type Producer interface {
	WriteMessage(ctx context.Context, msg kafka.Message) error
	Close() error
}

type Consumer interface {
	ReadMessage(ctx context.Context) (*kafka.Message, error)
	Close() error
}

// NewProducer returns a traced writer for topic.
func NewProducer(broker, topic string, tp trace.TracerProvider) (Producer, error) {
	base := &kafka.Writer{
		Addr:         kafka.TCP(broker),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: batchTimeout,
		BatchSize:    batchSize,
	}
	writer, err := otelkafka.NewWriter(base,
		otelkafka.WithTracerProvider(tp),
		otelkafka.WithPropagator(propagation.TraceContext{}),
		otelkafka.WithAttributes([]attribute.KeyValue{
			semconv.MessagingDestinationNameKey.String(topic),
			attribute.String("messaging.kafka.client_id", clientID),
		}),
	)
	if err != nil {
		return nil, err
	}
	return writer, nil
}

// NewConsumer returns a traced group reader for topic.
func NewConsumer(broker, topic, groupID string) (Consumer, error) {
	base := kafka.NewReader(kafka.ReaderConfig{
		Brokers: []string{broker},
		Topic:   topic,
		GroupID: groupID,
	})
	reader, err := otelkafka.NewReader(base)
	if err != nil {
		return nil, err
	}
	return reader, nil
}
