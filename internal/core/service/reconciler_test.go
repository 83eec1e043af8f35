package service

import (
	"context"
	"testing"

	"github.com/rl1809/crop-exchange/internal/adapter/storage"
	"github.com/rl1809/crop-exchange/internal/core/domain"
)

func TestAnchorReconciler_RetriesPendingProofs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.anchor.failing.Store(true)

	producer := f.party(t, domain.RoleProducer)
	distributor := f.party(t, domain.RoleDistributor)
	batch, err := f.batches.RegisterBatch(ctx, RegisterBatchRequest{ProducerID: producer.ID, Quantity: dec("10"), Sellable: true})
	if err != nil {
		t.Fatal(err)
	}
	order := f.order(t, batch, distributor, producer, "5")
	if _, err := f.orders.AcceptOrder(ctx, order.ID, producer.ID); err != nil {
		t.Fatal(err)
	}

	reconciler := NewAnchorReconciler(f.db, f.anchor, 2)

	res, err := reconciler.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Attempted != 2 || res.Anchored != 0 {
		t.Errorf("while degraded: expected 2 attempted 0 anchored, got %+v", res)
	}

	f.anchor.failing.Store(false)
	res, err = reconciler.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Attempted != 2 || res.Anchored != 2 {
		t.Errorf("after recovery: expected 2 anchored, got %+v", res)
	}

	storedOrder, _ := f.db.GetOrder(ctx, order.ID)
	if domain.IsPendingProof(storedOrder.AnchorProof) || storedOrder.AnchorProof == "" {
		t.Errorf("order proof not reconciled: %q", storedOrder.AnchorProof)
	}
	storedBatch, _ := f.db.GetBatch(ctx, batch.ID)
	if domain.IsPendingProof(storedBatch.AnchorProof) || storedBatch.AnchorProof == "" {
		t.Errorf("batch proof not reconciled: %q", storedBatch.AnchorProof)
	}

	res, err = reconciler.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Attempted != 0 {
		t.Errorf("nothing left to reconcile, got %+v", res)
	}
}

// settlingRepository hands out pending rows, then settles them before the
// reconciler gets to write, as a concurrent anchor writer would.
type settlingRepository struct {
	*storage.MemoryAdapter
}

func (r settlingRepository) ListPendingOrderProofs(ctx context.Context, limit int) ([]domain.Order, error) {
	orders, err := r.MemoryAdapter.ListPendingOrderProofs(ctx, limit)
	for _, o := range orders {
		if err := r.SetOrderProof(ctx, o.ID, "0xsettled-order"); err != nil {
			return nil, err
		}
	}
	return orders, err
}

func (r settlingRepository) ListPendingBatchProofs(ctx context.Context, limit int) ([]domain.Batch, error) {
	batches, err := r.MemoryAdapter.ListPendingBatchProofs(ctx, limit)
	for _, b := range batches {
		if err := r.SetBatchProof(ctx, b.ID, "0xsettled-batch"); err != nil {
			return nil, err
		}
	}
	return batches, err
}

func TestAnchorReconciler_KeepsSettledProofs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.anchor.failing.Store(true)

	producer := f.party(t, domain.RoleProducer)
	distributor := f.party(t, domain.RoleDistributor)
	batch, err := f.batches.RegisterBatch(ctx, RegisterBatchRequest{ProducerID: producer.ID, Quantity: dec("10"), Sellable: true})
	if err != nil {
		t.Fatal(err)
	}
	order := f.order(t, batch, distributor, producer, "5")
	if _, err := f.orders.AcceptOrder(ctx, order.ID, producer.ID); err != nil {
		t.Fatal(err)
	}
	f.anchor.failing.Store(false)

	reconciler := NewAnchorReconciler(settlingRepository{f.db}, f.anchor, 2)
	res, err := reconciler.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Attempted != 2 || res.Anchored != 0 {
		t.Errorf("expected 2 attempted 0 anchored, got %+v", res)
	}

	storedOrder, _ := f.db.GetOrder(ctx, order.ID)
	if storedOrder.AnchorProof != "0xsettled-order" {
		t.Errorf("settled order proof overwritten: %q", storedOrder.AnchorProof)
	}
	storedBatch, _ := f.db.GetBatch(ctx, batch.ID)
	if storedBatch.AnchorProof != "0xsettled-batch" {
		t.Errorf("settled batch proof overwritten: %q", storedBatch.AnchorProof)
	}
}
