package service

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/rl1809/crop-exchange/internal/core/domain"
)

// acceptedOrder returns an accepted order of 40 from a producer to a distributor.
func acceptedOrder(t *testing.T, f *fixture) (*domain.Order, *domain.Party) {
	t.Helper()
	producer := f.party(t, domain.RoleProducer)
	distributor := f.party(t, domain.RoleDistributor)
	batch := f.listedBatch(t, producer, "100", "100")
	order := f.order(t, batch, distributor, producer, "40")
	if _, err := f.orders.AcceptOrder(context.Background(), order.ID, producer.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	return order, distributor
}

func newShipment(t *testing.T, f *fixture, orderID string) *domain.Shipment {
	t.Helper()
	sh, err := f.shipments.CreateShipment(context.Background(), CreateShipmentRequest{
		OrderID:       orderID,
		Location:      "Farm Gate",
		TransportMode: "TRUCK",
		Carrier:       "AgriFreight",
	})
	if err != nil {
		t.Fatalf("create shipment: %v", err)
	}
	return sh
}

func TestCreateShipment_ShipsOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, _ := acceptedOrder(t, f)

	sh := newShipment(t, f, order.ID)
	if !strings.HasPrefix(sh.TrackingNumber, "FXC-") || len(sh.TrackingNumber) != 12 {
		t.Errorf("unexpected tracking number %q", sh.TrackingNumber)
	}
	if sh.TrackingNumber != strings.ToUpper(sh.TrackingNumber) {
		t.Errorf("tracking number must be upper case, got %q", sh.TrackingNumber)
	}
	if sh.Status != domain.ShipmentStatusShipped {
		t.Errorf("expected SHIPPED, got %s", sh.Status)
	}
	if got := sh.EstimatedDelivery.Sub(sh.CreatedAt); got != estimatedTransit {
		t.Errorf("expected estimate of %v, got %v", estimatedTransit, got)
	}
	if sh.Temperature == nil || sh.Humidity == nil || sh.LastSensorUpdate == nil {
		t.Error("expected initial sensor readings")
	}

	stored, _ := f.orders.GetOrder(ctx, order.ID)
	if stored.Status != domain.OrderStatusShipped {
		t.Errorf("expected order SHIPPED, got %s", stored.Status)
	}

	if _, err := f.shipments.CreateShipment(ctx, CreateShipmentRequest{OrderID: order.ID}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("second shipment: expected ErrInvalidTransition, got %v", err)
	}

	tracked, err := f.shipments.Track(ctx, sh.TrackingNumber)
	if err != nil || tracked.ID != sh.ID {
		t.Errorf("track: expected %s, got %v (%v)", sh.ID, tracked, err)
	}
	byOrder, err := f.shipments.GetShipmentByOrder(ctx, order.ID)
	if err != nil || byOrder.ID != sh.ID {
		t.Errorf("by order: expected %s, got %v (%v)", sh.ID, byOrder, err)
	}
}

func TestCreateShipment_RequiresAcceptedOrder(t *testing.T) {
	f := newFixture(t)
	producer := f.party(t, domain.RoleProducer)
	distributor := f.party(t, domain.RoleDistributor)
	batch := f.listedBatch(t, producer, "100", "100")
	order := f.order(t, batch, distributor, producer, "1")

	_, err := f.shipments.CreateShipment(context.Background(), CreateShipmentRequest{OrderID: order.ID})
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := f.shipments.GetShipmentByOrder(context.Background(), order.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected no shipment, got %v", err)
	}

	_, err = f.shipments.CreateShipment(context.Background(), CreateShipmentRequest{OrderID: "missing"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateStatus_DeliveredDrivesOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, distributor := acceptedOrder(t, f)
	sh := newShipment(t, f, order.ID)

	if _, err := f.shipments.UpdateStatus(ctx, sh.ID, domain.ShipmentStatusInTransit); err != nil {
		t.Fatalf("in transit: %v", err)
	}
	delivered, err := f.shipments.UpdateStatus(ctx, sh.ID, domain.ShipmentStatusDelivered)
	if err != nil {
		t.Fatalf("delivered: %v", err)
	}
	if delivered.ActualDelivery == nil {
		t.Error("expected actual delivery time")
	}

	stored, _ := f.orders.GetOrder(ctx, order.ID)
	if stored.Status != domain.OrderStatusDelivered || stored.DerivedBatchID == "" {
		t.Errorf("expected delivered order with derived batch, got %s %q", stored.Status, stored.DerivedBatchID)
	}

	again, err := f.shipments.UpdateStatus(ctx, sh.ID, domain.ShipmentStatusDelivered)
	if err != nil {
		t.Errorf("repeating DELIVERED should be a no-op, got %v", err)
	}
	if again.Status != domain.ShipmentStatusDelivered {
		t.Errorf("expected DELIVERED, got %s", again.Status)
	}
	if _, err := f.shipments.UpdateStatus(ctx, sh.ID, domain.ShipmentStatusInTransit); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("moving back: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := f.shipments.UpdateStatus(ctx, sh.ID, "LOST"); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("unknown status: expected ErrInvalidArgument, got %v", err)
	}

	owned, _ := f.batches.ListBatchesByOwner(ctx, distributor.ID)
	if len(owned) != 1 {
		t.Errorf("expected one derived batch, got %d", len(owned))
	}
}

func TestUpdateStatus_DeliveryFailureRollsBackShipment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, _ := acceptedOrder(t, f)
	sh := newShipment(t, f, order.ID)

	// delivering the order directly leaves the shipment behind
	if _, err := f.orders.MarkDelivered(ctx, order.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.shipments.UpdateStatus(ctx, sh.ID, domain.ShipmentStatusDelivered); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	stored, _ := f.shipments.GetShipment(ctx, sh.ID)
	if stored.Status != domain.ShipmentStatusShipped {
		t.Errorf("failed delivery must not change shipment, got %s", stored.Status)
	}
}

func TestSimulateMovement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, _ := acceptedOrder(t, f)
	sh := newShipment(t, f, order.ID)

	moved, err := f.shipments.SimulateMovement(ctx, sh.ID)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if moved.Location != deliveredLocation && !slices.Contains(hubs, moved.Location) {
		t.Errorf("unexpected location %q", moved.Location)
	}

	if _, err := f.shipments.UpdateLocation(ctx, sh.ID, lastMileHub); err != nil {
		t.Fatal(err)
	}
	delivered, err := f.shipments.SimulateMovement(ctx, sh.ID)
	if err != nil {
		t.Fatalf("simulate from last mile: %v", err)
	}
	if delivered.Status != domain.ShipmentStatusDelivered || delivered.Location != deliveredLocation {
		t.Errorf("expected delivered to customer, got %s at %q", delivered.Status, delivered.Location)
	}
	stored, _ := f.orders.GetOrder(ctx, order.ID)
	if stored.Status != domain.OrderStatusDelivered {
		t.Errorf("expected order DELIVERED, got %s", stored.Status)
	}

	unchanged, err := f.shipments.SimulateMovement(ctx, sh.ID)
	if err != nil {
		t.Fatalf("simulate delivered: %v", err)
	}
	if unchanged.Location != deliveredLocation || !unchanged.UpdatedAt.Equal(delivered.UpdatedAt) {
		t.Error("simulating a delivered shipment must not change it")
	}
}

func TestSimulateAndStatusUpdateRace_MintOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, distributor := acceptedOrder(t, f)
	sh := newShipment(t, f, order.ID)
	if _, err := f.shipments.UpdateLocation(ctx, sh.ID, lastMileHub); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			f.shipments.SimulateMovement(ctx, sh.ID)
		}()
		go func() {
			defer wg.Done()
			f.shipments.UpdateStatus(ctx, sh.ID, domain.ShipmentStatusDelivered)
		}()
	}
	wg.Wait()

	owned, _ := f.batches.ListBatchesByOwner(ctx, distributor.ID)
	if len(owned) != 1 {
		t.Errorf("expected one derived batch, got %d", len(owned))
	}
	stored, _ := f.shipments.GetShipment(ctx, sh.ID)
	if stored.Status != domain.ShipmentStatusDelivered {
		t.Errorf("expected DELIVERED, got %s", stored.Status)
	}
}

func TestTelemetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, _ := acceptedOrder(t, f)
	sh := newShipment(t, f, order.ID)

	temp := 4.5
	updated, err := f.shipments.UpdateCondition(ctx, sh.ID, &temp, nil)
	if err != nil {
		t.Fatal(err)
	}
	if *updated.Temperature != temp {
		t.Errorf("expected temperature %v, got %v", temp, *updated.Temperature)
	}
	if *updated.Humidity != *sh.Humidity {
		t.Error("nil humidity must keep the last reading")
	}

	humidity := 61.0
	recorded, err := f.shipments.RecordTelemetry(ctx, domain.TelemetryReading{
		ShipmentID: sh.ID,
		Location:   "Regional Distribution Ctr",
		Humidity:   &humidity,
	})
	if err != nil {
		t.Fatal(err)
	}
	if recorded.Location != "Regional Distribution Ctr" || *recorded.Humidity != humidity || *recorded.Temperature != temp {
		t.Errorf("unexpected telemetry state: %+v", recorded)
	}

	if _, err := f.shipments.RecordTelemetry(ctx, domain.TelemetryReading{ShipmentID: "missing"}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListShipments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, _ := acceptedOrder(t, f)
	second, _ := acceptedOrder(t, f)
	a := newShipment(t, f, first.ID)
	newShipment(t, f, second.ID)

	if _, err := f.shipments.UpdateStatus(ctx, a.ID, domain.ShipmentStatusInTransit); err != nil {
		t.Fatal(err)
	}

	all, err := f.shipments.ListShipments(ctx, "")
	if err != nil || len(all) != 2 {
		t.Errorf("expected 2 shipments, got %d (%v)", len(all), err)
	}
	inTransit, err := f.shipments.ListShipments(ctx, domain.ShipmentStatusInTransit)
	if err != nil || len(inTransit) != 1 || inTransit[0].ID != a.ID {
		t.Errorf("expected only %s in transit, got %v (%v)", a.ID, inTransit, err)
	}
	if _, err := f.shipments.ListShipments(ctx, "LOST"); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}
