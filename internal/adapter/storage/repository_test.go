package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rl1809/crop-exchange/internal/core/domain"
	"github.com/rl1809/crop-exchange/internal/port"
)

// testRepository runs the behaviour every DatabaseRepository must share.
// IDs are random so it can run against a live database without cleanup.
func testRepository(t *testing.T, db port.DatabaseRepository) {
	t.Run("BatchRoundTrip", func(t *testing.T) { testBatchRoundTrip(t, db) })
	t.Run("ConditionalDecrement", func(t *testing.T) { testConditionalDecrement(t, db) })
	t.Run("ConcurrentDecrement", func(t *testing.T) { testConcurrentDecrement(t, db) })
	t.Run("OptimisticLock", func(t *testing.T) { testOptimisticLock(t, db) })
	t.Run("OrderStatusGuard", func(t *testing.T) { testOrderStatusGuard(t, db) })
	t.Run("ShipmentPerOrder", func(t *testing.T) { testShipmentPerOrder(t, db) })
	t.Run("PaymentPerOrder", func(t *testing.T) { testPaymentPerOrder(t, db) })
	t.Run("Rollback", func(t *testing.T) { testRollback(t, db) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, db) })
	t.Run("ReplacePendingProof", func(t *testing.T) { testReplacePendingProof(t, db) })
}

func newBatch(owner string, quantity int64) domain.Batch {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return domain.Batch{
		ID:         uuid.NewString(),
		Name:       "Test Rice",
		Unit:       "kg",
		Quantity:   decimal.NewFromInt(quantity),
		Available:  decimal.NewFromInt(quantity),
		UnitPrice:  decimal.NewNullDecimal(decimal.RequireFromString("2.5")),
		Sellable:   true,
		Status:     domain.BatchStatusHarvested,
		OwnerID:    owner,
		ProducerID: owner,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func newOrder(batch domain.Batch, buyer string) domain.Order {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return domain.Order{
		ID:         uuid.NewString(),
		BatchID:    batch.ID,
		BuyerID:    buyer,
		SellerID:   batch.OwnerID,
		Quantity:   decimal.NewFromInt(1),
		UnitPrice:  batch.UnitPrice.Decimal,
		TotalPrice: batch.UnitPrice.Decimal,
		Status:     domain.OrderStatusRequested,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func mustInsertBatch(t *testing.T, db port.DatabaseRepository, b domain.Batch) {
	t.Helper()
	if err := db.InsertBatch(context.Background(), b); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}
}

func testBatchRoundTrip(t *testing.T, db port.DatabaseRepository) {
	ctx := context.Background()
	owner := uuid.NewString()
	b := newBatch(owner, 10)
	mustInsertBatch(t, db, b)

	got, err := db.GetBatch(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if !got.Quantity.Equal(b.Quantity) || !got.UnitPrice.Decimal.Equal(b.UnitPrice.Decimal) || got.OwnerID != owner {
		t.Errorf("round trip mismatch: %+v", got)
	}

	if err := db.SetBatchProof(ctx, b.ID, "0xabc"); err != nil {
		t.Fatalf("SetBatchProof: %v", err)
	}
	owned, err := db.ListBatchesByOwner(ctx, owner)
	if err != nil {
		t.Fatalf("ListBatchesByOwner: %v", err)
	}
	if len(owned) != 1 || owned[0].AnchorProof != "0xabc" {
		t.Errorf("expected one anchored batch, got %+v", owned)
	}

	market, err := db.ListMarketplace(ctx)
	if err != nil {
		t.Fatalf("ListMarketplace: %v", err)
	}
	found := false
	for _, m := range market {
		if m.ID == b.ID {
			found = true
		}
	}
	if !found {
		t.Error("sellable batch missing from marketplace")
	}
}

func testConditionalDecrement(t *testing.T, db port.DatabaseRepository) {
	ctx := context.Background()
	b := newBatch(uuid.NewString(), 5)
	mustInsertBatch(t, db, b)

	ok, err := db.DecrementAvailable(ctx, b.ID, decimal.NewFromInt(6))
	if err != nil || ok {
		t.Fatalf("over-decrement: ok=%v err=%v", ok, err)
	}
	ok, err = db.DecrementAvailable(ctx, b.ID, decimal.NewFromInt(5))
	if err != nil || !ok {
		t.Fatalf("exact decrement: ok=%v err=%v", ok, err)
	}

	ok, err = db.MarkDepleted(ctx, b.ID)
	if err != nil || !ok {
		t.Fatalf("MarkDepleted: ok=%v err=%v", ok, err)
	}
	got, _ := db.GetBatch(ctx, b.ID)
	if got.Sellable || got.Status != domain.BatchStatusSoldOut {
		t.Errorf("expected unsellable SOLD_OUT batch, got %+v", got)
	}

	ok, err = db.IncrementAvailable(ctx, b.ID, decimal.NewFromInt(6))
	if err != nil || ok {
		t.Fatalf("increment past quantity: ok=%v err=%v", ok, err)
	}
	ok, err = db.IncrementAvailable(ctx, b.ID, decimal.NewFromInt(2))
	if err != nil || !ok {
		t.Fatalf("increment: ok=%v err=%v", ok, err)
	}
}

func testConcurrentDecrement(t *testing.T, db port.DatabaseRepository) {
	ctx := context.Background()
	b := newBatch(uuid.NewString(), 20)
	mustInsertBatch(t, db, b)

	var wg sync.WaitGroup
	var taken atomic.Int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := db.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
				if _, err := tx.GetBatch(ctx, b.ID); err != nil {
					return err
				}
				ok, err := tx.DecrementAvailable(ctx, b.ID, decimal.NewFromInt(1))
				if err != nil {
					return err
				}
				if ok {
					taken.Add(1)
				}
				return nil
			})
			if err != nil {
				t.Errorf("tx: %v", err)
			}
		}()
	}
	wg.Wait()

	if taken.Load() != 20 {
		t.Errorf("expected 20 decrements, got %d", taken.Load())
	}
	got, _ := db.GetBatch(ctx, b.ID)
	if !got.Available.IsZero() {
		t.Errorf("expected 0 available, got %s", got.Available)
	}
}

func testOptimisticLock(t *testing.T, db port.DatabaseRepository) {
	ctx := context.Background()
	b := newBatch(uuid.NewString(), 10)
	mustInsertBatch(t, db, b)

	stale, _ := db.GetBatch(ctx, b.ID)
	fresh, _ := db.GetBatch(ctx, b.ID)

	fresh.Sellable = false
	if err := db.UpdateBatch(ctx, *fresh); err != nil {
		t.Fatalf("UpdateBatch: %v", err)
	}
	stale.UnitPrice = decimal.NewNullDecimal(decimal.NewFromInt(9))
	if err := db.UpdateBatch(ctx, *stale); !errors.Is(err, ErrOptimisticLock) {
		t.Fatalf("expected ErrOptimisticLock, got %v", err)
	}
}

func testOrderStatusGuard(t *testing.T, db port.DatabaseRepository) {
	ctx := context.Background()
	b := newBatch(uuid.NewString(), 10)
	mustInsertBatch(t, db, b)
	o := newOrder(b, uuid.NewString())
	if err := db.InsertOrder(ctx, o); err != nil {
		t.Fatalf("InsertOrder: %v", err)
	}

	accepted := o
	accepted.Status = domain.OrderStatusAccepted
	now := time.Now().UTC().Truncate(time.Millisecond)
	accepted.AcceptedAt = &now

	ok, err := db.UpdateOrderStatus(ctx, accepted, domain.OrderStatusRequested)
	if err != nil || !ok {
		t.Fatalf("first transition: ok=%v err=%v", ok, err)
	}
	ok, err = db.UpdateOrderStatus(ctx, accepted, domain.OrderStatusRequested)
	if err != nil || ok {
		t.Fatalf("repeated transition must not apply: ok=%v err=%v", ok, err)
	}

	got, err := db.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.Status != domain.OrderStatusAccepted || got.AcceptedAt == nil {
		t.Errorf("unexpected order %+v", got)
	}

	byBuyer, _ := db.ListOrdersByParty(ctx, o.BuyerID)
	bySeller, _ := db.ListOrdersByParty(ctx, o.SellerID)
	if len(byBuyer) != 1 || len(bySeller) != 1 {
		t.Errorf("expected order listed for both parties, got %d/%d", len(byBuyer), len(bySeller))
	}
}

func testShipmentPerOrder(t *testing.T, db port.DatabaseRepository) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	temp := 21.5
	s := domain.Shipment{
		ID:                uuid.NewString(),
		OrderID:           uuid.NewString(),
		TrackingNumber:    "FXC-" + uuid.NewString()[:8],
		Location:          "Farm Gate",
		Status:            domain.ShipmentStatusShipped,
		Temperature:       &temp,
		EstimatedDelivery: now.Add(72 * time.Hour),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := db.InsertShipment(ctx, s); err != nil {
		t.Fatalf("InsertShipment: %v", err)
	}

	dup := s
	dup.ID = uuid.NewString()
	dup.TrackingNumber = "FXC-" + uuid.NewString()[:8]
	if err := db.InsertShipment(ctx, dup); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second shipment: expected ErrConflict, got %v", err)
	}

	s.Status = domain.ShipmentStatusInTransit
	s.Location = "Regional Hub"
	if err := db.UpdateShipment(ctx, s); err != nil {
		t.Fatalf("UpdateShipment: %v", err)
	}
	got, err := db.GetShipmentByTracking(ctx, s.TrackingNumber)
	if err != nil {
		t.Fatalf("GetShipmentByTracking: %v", err)
	}
	if got.Location != "Regional Hub" || got.Temperature == nil || *got.Temperature != temp {
		t.Errorf("unexpected shipment %+v", got)
	}
	byOrder, err := db.GetShipmentByOrder(ctx, s.OrderID)
	if err != nil || byOrder.ID != s.ID {
		t.Errorf("GetShipmentByOrder: %v %+v", err, byOrder)
	}
}

func testPaymentPerOrder(t *testing.T, db port.DatabaseRepository) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	p := domain.Payment{
		ID:            uuid.NewString(),
		OrderID:       uuid.NewString(),
		Amount:        decimal.RequireFromString("12.5"),
		Method:        "UPI",
		Gateway:       "FarmX-Gateway-v1",
		TransactionID: "TXN-TEST",
		Status:        domain.PaymentStatusCompleted,
		InitiatedAt:   now,
		CompletedAt:   &now,
	}
	if err := db.InsertPayment(ctx, p); err != nil {
		t.Fatalf("InsertPayment: %v", err)
	}
	p.ID = uuid.NewString()
	if err := db.InsertPayment(ctx, p); !errors.Is(err, domain.ErrAlreadyPaid) {
		t.Fatalf("second payment: expected ErrAlreadyPaid, got %v", err)
	}
	got, err := db.GetPaymentByOrder(ctx, p.OrderID)
	if err != nil || !got.Amount.Equal(p.Amount) {
		t.Errorf("GetPaymentByOrder: %v %+v", err, got)
	}
}

func testRollback(t *testing.T, db port.DatabaseRepository) {
	ctx := context.Background()
	b := newBatch(uuid.NewString(), 10)
	mustInsertBatch(t, db, b)

	boom := errors.New("boom")
	err := db.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		if _, err := tx.DecrementAvailable(ctx, b.ID, decimal.NewFromInt(4)); err != nil {
			return err
		}
		if err := tx.InsertOrder(ctx, newOrder(b, uuid.NewString())); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, _ := db.GetBatch(ctx, b.ID)
	if !got.Available.Equal(decimal.NewFromInt(10)) {
		t.Errorf("rollback left available at %s", got.Available)
	}
	orders, _ := db.ListOrdersByParty(ctx, b.OwnerID)
	if len(orders) != 0 {
		t.Errorf("rollback left %d orders", len(orders))
	}
}

func testNotFound(t *testing.T, db port.DatabaseRepository) {
	ctx := context.Background()
	missing := uuid.NewString()

	if _, err := db.GetBatch(ctx, missing); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetBatch: expected ErrNotFound, got %v", err)
	}
	if _, err := db.GetOrder(ctx, missing); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetOrder: expected ErrNotFound, got %v", err)
	}
	if _, err := db.GetShipment(ctx, missing); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetShipment: expected ErrNotFound, got %v", err)
	}
	if _, err := db.GetPaymentByOrder(ctx, missing); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetPaymentByOrder: expected ErrNotFound, got %v", err)
	}
	if _, err := db.GetParty(ctx, missing); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetParty: expected ErrNotFound, got %v", err)
	}
}

func testReplacePendingProof(t *testing.T, db port.DatabaseRepository) {
	ctx := context.Background()
	b := newBatch(uuid.NewString(), 10)
	b.AnchorProof = domain.PendingProof(time.Now())
	mustInsertBatch(t, db, b)
	o := newOrder(b, uuid.NewString())
	o.AnchorProof = domain.PendingProof(time.Now())
	if err := db.InsertOrder(ctx, o); err != nil {
		t.Fatalf("InsertOrder: %v", err)
	}

	ok, err := db.ReplacePendingBatchProof(ctx, b.ID, "0xbatch")
	if err != nil || !ok {
		t.Fatalf("replace pending batch proof: ok=%v err=%v", ok, err)
	}
	ok, err = db.ReplacePendingBatchProof(ctx, b.ID, "0xother")
	if err != nil || ok {
		t.Fatalf("settled batch proof must not be replaced: ok=%v err=%v", ok, err)
	}
	gotBatch, err := db.GetBatch(ctx, b.ID)
	if err != nil || gotBatch.AnchorProof != "0xbatch" {
		t.Errorf("expected batch proof 0xbatch, got %+v (%v)", gotBatch, err)
	}

	ok, err = db.ReplacePendingOrderProof(ctx, o.ID, "0xorder")
	if err != nil || !ok {
		t.Fatalf("replace pending order proof: ok=%v err=%v", ok, err)
	}
	ok, err = db.ReplacePendingOrderProof(ctx, o.ID, "0xother")
	if err != nil || ok {
		t.Fatalf("settled order proof must not be replaced: ok=%v err=%v", ok, err)
	}
	gotOrder, err := db.GetOrder(ctx, o.ID)
	if err != nil || gotOrder.AnchorProof != "0xorder" {
		t.Errorf("expected order proof 0xorder, got %+v (%v)", gotOrder, err)
	}

	if ok, err := db.ReplacePendingOrderProof(ctx, uuid.NewString(), "0xorder"); err != nil || ok {
		t.Errorf("missing order: ok=%v err=%v", ok, err)
	}
}
