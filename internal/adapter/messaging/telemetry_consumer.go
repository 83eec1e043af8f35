package messaging

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/rl1809/crop-exchange/internal/core/domain"
)

type TelemetryRecorder interface {
	RecordTelemetry(ctx context.Context, reading domain.TelemetryReading) (*domain.Shipment, error)
}

// TelemetryConsumer feeds sensor readings from Kafka into the shipment
// records. Bad messages are logged and skipped.
type TelemetryConsumer struct {
	consumer Consumer
	recorder TelemetryRecorder
	logger   *zap.Logger
}

func NewTelemetryConsumer(consumer Consumer, recorder TelemetryRecorder, logger *zap.Logger) *TelemetryConsumer {
	return &TelemetryConsumer{consumer: consumer, recorder: recorder, logger: logger}
}

// Start reads until ctx is done.
func (c *TelemetryConsumer) Start(ctx context.Context) error {
	c.logger.Info("Telemetry consumer started")

	for {
		msg, err := c.consumer.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				break
			}
			c.logger.Error("Error reading telemetry", zap.Error(err))
			continue
		}
		c.handle(ctx, *msg)
	}

	c.logger.Info("Telemetry consumer stopped")
	return nil
}

func (c *TelemetryConsumer) handle(ctx context.Context, msg kafka.Message) {
	ctx = extractTraceContext(ctx, msg.Headers)

	var reading domain.TelemetryReading
	if err := json.Unmarshal(msg.Value, &reading); err != nil {
		c.logger.Warn("Invalid telemetry message", zap.Error(err), zap.ByteString("raw_value", msg.Value))
		return
	}
	if reading.ShipmentID == "" {
		c.logger.Warn("Telemetry message without shipment id", zap.Int64("offset", msg.Offset))
		return
	}

	if _, err := c.recorder.RecordTelemetry(ctx, reading); err != nil {
		c.logger.Warn("Failed to record telemetry",
			zap.String("shipment_id", reading.ShipmentID),
			zap.Error(err),
		)
	}
}

func extractTraceContext(ctx context.Context, headers []kafka.Header) context.Context {
	carrier := propagation.MapCarrier{}
	for _, h := range headers {
		carrier[h.Key] = string(h.Value)
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
