package service

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/crop-exchange/internal/core/domain"
	"github.com/rl1809/crop-exchange/internal/port"
)

const (
	estimatedTransit  = 72 * time.Hour
	lastMileHub       = "Last Mile Hub"
	deliveredLocation = "Delivered to Customer"
)

var hubs = []string{"Local Hub", "In Transit - Highway 42", "Regional Distribution Ctr", lastMileHub}

var shipmentRank = map[domain.ShipmentStatus]int{
	domain.ShipmentStatusShipped:   0,
	domain.ShipmentStatusInTransit: 1,
	domain.ShipmentStatusDelivered: 2,
}

type CreateShipmentRequest struct {
	OrderID       string
	Location      string
	TransportMode string
	Carrier       string
}

// ShipmentService couples a shipment to its order. Shipment transitions that
// complete the order run the order transition in the same transaction.
type ShipmentService struct {
	deps
	orders *OrderService
}

func NewShipmentService(db port.DatabaseRepository, orders *OrderService, opts ...Option) *ShipmentService {
	return &ShipmentService{deps: newDeps(db, nil, opts), orders: orders}
}

// CreateShipment opens the shipment of an accepted order and marks the
// order SHIPPED.
func (s *ShipmentService) CreateShipment(ctx context.Context, req CreateShipmentRequest) (shipment *domain.Shipment, err error) {
	ctx, span := s.tracer.Start(ctx, "ShipmentService.CreateShipment", trace.WithAttributes(attribute.String("order.id", req.OrderID)))
	defer func() { endSpan(span, err) }()

	var order *domain.Order
	err = s.db.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		o, err := tx.GetOrder(ctx, req.OrderID)
		if err != nil {
			return err
		}
		if o.Status != domain.OrderStatusAccepted {
			return fmt.Errorf("%w: shipments need an accepted order, %s is %s", domain.ErrInvalidTransition, o.ID, o.Status)
		}
		if existing, err := tx.GetShipmentByOrder(ctx, o.ID); err == nil {
			return fmt.Errorf("%w: order %s already has shipment %s", domain.ErrConflict, o.ID, existing.ID)
		}

		now := s.now()
		sh := domain.Shipment{
			ID:                uuid.NewString(),
			OrderID:           o.ID,
			TrackingNumber:    trackingNumber(),
			Carrier:           req.Carrier,
			TransportMode:     req.TransportMode,
			Location:          req.Location,
			Status:            domain.ShipmentStatusShipped,
			Temperature:       ptr(20 + rand.Float64()*5),
			Humidity:          ptr(50 + rand.Float64()*10),
			LastSensorUpdate:  &now,
			EstimatedDelivery: now.Add(estimatedTransit),
			CreatedAt:         now,
			UpdatedAt:         now,
		}

		if order, err = s.orders.shipTx(ctx, tx, o.ID); err != nil {
			return err
		}
		if err := tx.InsertShipment(ctx, sh); err != nil {
			return fmt.Errorf("insert shipment: %w", err)
		}
		shipment = &sh
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.orders.publish(ctx, domain.EventOrderShipped, *order)
	return shipment, nil
}

func (s *ShipmentService) UpdateLocation(ctx context.Context, shipmentID, location string) (*domain.Shipment, error) {
	return s.mutate(ctx, "ShipmentService.UpdateLocation", shipmentID, func(sh *domain.Shipment) {
		sh.Location = location
	})
}

// UpdateCondition records sensor readings. A nil reading keeps the last one.
func (s *ShipmentService) UpdateCondition(ctx context.Context, shipmentID string, temperature, humidity *float64) (*domain.Shipment, error) {
	return s.mutate(ctx, "ShipmentService.UpdateCondition", shipmentID, func(sh *domain.Shipment) {
		if temperature != nil {
			sh.Temperature = temperature
		}
		if humidity != nil {
			sh.Humidity = humidity
		}
		now := s.now()
		sh.LastSensorUpdate = &now
	})
}

// RecordTelemetry applies one ingested reading. Location and sensors are
// last-write-wins.
func (s *ShipmentService) RecordTelemetry(ctx context.Context, reading domain.TelemetryReading) (*domain.Shipment, error) {
	return s.mutate(ctx, "ShipmentService.RecordTelemetry", reading.ShipmentID, func(sh *domain.Shipment) {
		if reading.Location != "" {
			sh.Location = reading.Location
		}
		if reading.Temperature != nil || reading.Humidity != nil {
			if reading.Temperature != nil {
				sh.Temperature = reading.Temperature
			}
			if reading.Humidity != nil {
				sh.Humidity = reading.Humidity
			}
			now := s.now()
			sh.LastSensorUpdate = &now
		}
	})
}

// UpdateStatus moves the shipment forward. DELIVERED delivers the order in
// the same transaction; repeating the current status is a no-op.
func (s *ShipmentService) UpdateStatus(ctx context.Context, shipmentID string, status domain.ShipmentStatus) (shipment *domain.Shipment, err error) {
	ctx, span := s.tracer.Start(ctx, "ShipmentService.UpdateStatus", trace.WithAttributes(
		attribute.String("shipment.id", shipmentID),
		attribute.String("shipment.status", string(status)),
	))
	defer func() { endSpan(span, err) }()

	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown shipment status %q", domain.ErrInvalidArgument, status)
	}

	var delivered *deliveryResult
	err = s.db.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		sh, err := tx.GetShipment(ctx, shipmentID)
		if err != nil {
			return err
		}
		if sh.Status == status {
			shipment = sh
			return nil
		}
		if shipmentRank[status] < shipmentRank[sh.Status] {
			return fmt.Errorf("%w: shipment %s is %s", domain.ErrInvalidTransition, sh.ID, sh.Status)
		}

		sh.Status = status
		if status == domain.ShipmentStatusDelivered {
			if delivered, err = s.deliver(ctx, tx, sh); err != nil {
				return err
			}
		}
		sh.UpdatedAt = s.now()
		if err := tx.UpdateShipment(ctx, *sh); err != nil {
			return fmt.Errorf("update shipment: %w", err)
		}
		shipment = sh
		return nil
	})
	if err != nil {
		return nil, err
	}

	if delivered != nil {
		s.orders.afterDelivery(ctx, delivered.order, delivered.batch)
	}
	return shipment, nil
}

// SimulateMovement moves the shipment to a random hub. From the last mile
// hub it is delivered. A delivered shipment is returned unchanged.
func (s *ShipmentService) SimulateMovement(ctx context.Context, shipmentID string) (shipment *domain.Shipment, err error) {
	ctx, span := s.tracer.Start(ctx, "ShipmentService.SimulateMovement", trace.WithAttributes(attribute.String("shipment.id", shipmentID)))
	defer func() { endSpan(span, err) }()

	var delivered *deliveryResult
	err = s.db.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		sh, err := tx.GetShipment(ctx, shipmentID)
		if err != nil {
			return err
		}
		if sh.Status == domain.ShipmentStatusDelivered {
			shipment = sh
			return nil
		}

		if sh.Location == lastMileHub {
			sh.Status = domain.ShipmentStatusDelivered
			if delivered, err = s.deliver(ctx, tx, sh); err != nil {
				return err
			}
			sh.Location = deliveredLocation
		} else {
			sh.Status = domain.ShipmentStatusInTransit
			sh.Location = hubs[rand.Intn(len(hubs))]
		}

		now := s.now()
		sh.Temperature = ptr(18 + rand.Float64()*10)
		sh.Humidity = ptr(40 + rand.Float64()*30)
		sh.LastSensorUpdate = &now
		sh.UpdatedAt = now
		if err := tx.UpdateShipment(ctx, *sh); err != nil {
			return fmt.Errorf("update shipment: %w", err)
		}
		shipment = sh
		return nil
	})
	if err != nil {
		return nil, err
	}

	if delivered != nil {
		s.orders.afterDelivery(ctx, delivered.order, delivered.batch)
	}
	s.logger.Debug("Shipment moved",
		zap.String("shipment_id", shipment.ID),
		zap.String("location", shipment.Location),
		zap.String("status", string(shipment.Status)),
	)
	return shipment, nil
}

func (s *ShipmentService) GetShipment(ctx context.Context, shipmentID string) (*domain.Shipment, error) {
	return s.db.GetShipment(ctx, shipmentID)
}

func (s *ShipmentService) GetShipmentByOrder(ctx context.Context, orderID string) (*domain.Shipment, error) {
	return s.db.GetShipmentByOrder(ctx, orderID)
}

func (s *ShipmentService) Track(ctx context.Context, trackingNumber string) (*domain.Shipment, error) {
	return s.db.GetShipmentByTracking(ctx, trackingNumber)
}

// ListShipments lists every shipment when status is empty.
func (s *ShipmentService) ListShipments(ctx context.Context, status domain.ShipmentStatus) ([]domain.Shipment, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown shipment status %q", domain.ErrInvalidArgument, status)
	}
	return s.db.ListShipments(ctx, status)
}

type deliveryResult struct {
	order *domain.Order
	batch *domain.Batch
}

func (s *ShipmentService) deliver(ctx context.Context, tx port.Tx, sh *domain.Shipment) (*deliveryResult, error) {
	order, derived, err := s.orders.deliverTx(ctx, tx, sh.OrderID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	sh.ActualDelivery = &now
	return &deliveryResult{order: order, batch: derived}, nil
}

func (s *ShipmentService) mutate(ctx context.Context, op, shipmentID string, apply func(*domain.Shipment)) (shipment *domain.Shipment, err error) {
	ctx, span := s.tracer.Start(ctx, op, trace.WithAttributes(attribute.String("shipment.id", shipmentID)))
	defer func() { endSpan(span, err) }()

	err = s.db.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		sh, err := tx.GetShipment(ctx, shipmentID)
		if err != nil {
			return err
		}
		apply(sh)
		sh.UpdatedAt = s.now()
		if err := tx.UpdateShipment(ctx, *sh); err != nil {
			return fmt.Errorf("update shipment: %w", err)
		}
		shipment = sh
		return nil
	})
	if err != nil {
		return nil, err
	}
	return shipment, nil
}

func trackingNumber() string {
	return "FXC-" + strings.ToUpper(uuid.NewString()[:8])
}

func ptr[T any](v T) *T {
	return &v
}
