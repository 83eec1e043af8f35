package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/crop-exchange/internal/core/domain"
)

type fakeProducer struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (p *fakeProducer) WriteMessage(_ context.Context, msg kafka.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *fakeProducer) Close() error { return nil }

// fakeConsumer replays msgs then blocks until ctx is done.
type fakeConsumer struct {
	msgs chan kafka.Message
}

func (c *fakeConsumer) ReadMessage(ctx context.Context) (*kafka.Message, error) {
	select {
	case msg := <-c.msgs:
		return &msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConsumer) Close() error { return nil }

type fakeRecorder struct {
	mu       sync.Mutex
	readings []domain.TelemetryReading
	done     chan struct{}
}

func (r *fakeRecorder) RecordTelemetry(_ context.Context, reading domain.TelemetryReading) (*domain.Shipment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readings = append(r.readings, reading)
	if reading.ShipmentID == "missing" {
		return nil, domain.ErrNotFound
	}
	r.done <- struct{}{}
	return &domain.Shipment{ID: reading.ShipmentID}, nil
}

func TestEventPublisher(t *testing.T) {
	producer := &fakeProducer{}
	pub := NewEventPublisher(producer, zap.NewNop())

	event := domain.NewOrderEvent(domain.EventOrderAccepted, domain.Order{
		ID:         "order-1",
		BatchID:    "batch-1",
		Quantity:   decimal.NewFromInt(40),
		TotalPrice: decimal.NewFromInt(200),
		Status:     domain.OrderStatusAccepted,
	}, time.Now())

	if err := pub.PublishOrderEvent(context.Background(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(producer.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(producer.msgs))
	}
	msg := producer.msgs[0]
	if string(msg.Key) != "order-1" {
		t.Errorf("expected key order-1, got %s", msg.Key)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != "order.accepted" {
		t.Errorf("unexpected headers %v", msg.Headers)
	}

	var decoded domain.OrderEvent
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Status != domain.OrderStatusAccepted || !decoded.TotalPrice.Equal(decimal.NewFromInt(200)) {
		t.Errorf("unexpected payload %+v", decoded)
	}

	producer.err = errors.New("broker down")
	if err := pub.PublishOrderEvent(context.Background(), event); err == nil {
		t.Error("expected error when the broker is down")
	}
}

func TestTelemetryConsumer(t *testing.T) {
	consumer := &fakeConsumer{msgs: make(chan kafka.Message, 4)}
	recorder := &fakeRecorder{done: make(chan struct{}, 4)}
	c := NewTelemetryConsumer(consumer, recorder, zap.NewNop())

	temp := 6.5
	valid, _ := json.Marshal(domain.TelemetryReading{ShipmentID: "ship-1", Location: "Local Hub", Temperature: &temp})
	missing, _ := json.Marshal(domain.TelemetryReading{ShipmentID: "missing"})
	consumer.msgs <- kafka.Message{Value: []byte("garbage")}
	consumer.msgs <- kafka.Message{Value: []byte(`{"location":"nowhere"}`)}
	consumer.msgs <- kafka.Message{Value: missing}
	consumer.msgs <- kafka.Message{Value: valid}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- c.Start(ctx) }()

	select {
	case <-recorder.done:
	case <-time.After(2 * time.Second):
		t.Fatal("reading was not recorded")
	}
	cancel()
	if err := <-stopped; err != nil {
		t.Errorf("expected clean stop, got %v", err)
	}

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if len(recorder.readings) != 2 {
		t.Fatalf("expected 2 readings to reach the recorder, got %d", len(recorder.readings))
	}
	got := recorder.readings[1]
	if got.ShipmentID != "ship-1" || got.Location != "Local Hub" || *got.Temperature != temp {
		t.Errorf("unexpected reading %+v", got)
	}
}
