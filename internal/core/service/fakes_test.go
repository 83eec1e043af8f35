package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/rl1809/crop-exchange/internal/adapter/storage"
	"github.com/rl1809/crop-exchange/internal/core/domain"
)

var errAnchorDown = errors.New("anchor unreachable")

// fakeAnchor returns numbered proofs, or errAnchorDown while failing is set.
type fakeAnchor struct {
	failing atomic.Bool
	block   bool
	calls   atomic.Int32
}

func (a *fakeAnchor) proof(ctx context.Context) (string, error) {
	n := a.calls.Add(1)
	if a.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if a.failing.Load() {
		return "", errAnchorDown
	}
	return fmt.Sprintf("0xproof%d", n), nil
}

func (a *fakeAnchor) RegisterBatch(ctx context.Context, _ domain.Batch) (string, error) {
	return a.proof(ctx)
}

func (a *fakeAnchor) TransferOwnership(ctx context.Context, _, _ string) (string, error) {
	return a.proof(ctx)
}

type fakeCache struct {
	mu          sync.Mutex
	idempotency map[string]bool
	available   map[string]decimal.Decimal
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		idempotency: make(map[string]bool),
		available:   make(map[string]decimal.Decimal),
	}
}

func (c *fakeCache) SetIdempotency(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idempotency[key] {
		return false, nil
	}
	c.idempotency[key] = true
	return true, nil
}

func (c *fakeCache) ClearIdempotency(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.idempotency, key)
	return nil
}

func (c *fakeCache) SetAvailable(_ context.Context, batchID string, available decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.available[batchID] = available
	return nil
}

func (c *fakeCache) LowerAvailable(_ context.Context, batchID string, available decimal.Decimal) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if current, ok := c.available[batchID]; ok && current.LessThanOrEqual(available) {
		return false, nil
	}
	c.available[batchID] = available
	return true, nil
}

func (c *fakeCache) GetAvailable(_ context.Context, batchID string) (decimal.Decimal, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.available[batchID]
	return v, ok, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.OrderEvent
}

func (p *fakePublisher) PublishOrderEvent(_ context.Context, event domain.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	db        *storage.MemoryAdapter
	anchor    *fakeAnchor
	cache     *fakeCache
	events    *fakePublisher
	orders    *OrderService
	shipments *ShipmentService
	batches   *BatchService
	parties   *PartyService
	payments  *PaymentService
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		db:     storage.NewMemoryAdapter(),
		anchor: &fakeAnchor{},
		cache:  newFakeCache(),
		events: &fakePublisher{},
	}
	opts = append([]Option{WithCache(f.cache), WithEvents(f.events)}, opts...)
	f.orders = NewOrderService(f.db, f.anchor, opts...)
	f.shipments = NewShipmentService(f.db, f.orders, opts...)
	f.batches = NewBatchService(f.db, f.anchor, opts...)
	f.parties = NewPartyService(f.db, opts...)
	f.payments = NewPaymentService(f.db, opts...)
	return f
}

func (f *fixture) party(t *testing.T, role domain.Role) *domain.Party {
	t.Helper()
	p, err := f.parties.RegisterParty(context.Background(), RegisterPartyRequest{
		Name:          string(role) + " party",
		Role:          role,
		WalletAddress: "0xwallet-" + string(role),
	})
	if err != nil {
		t.Fatalf("register party: %v", err)
	}
	return p
}

// listedBatch stores a sellable batch owned by owner without going through
// registration, so any role can be the seller.
func (f *fixture) listedBatch(t *testing.T, owner *domain.Party, quantity, available string) *domain.Batch {
	t.Helper()
	b := domain.Batch{
		ID:         "batch-" + owner.ID,
		Name:       "Basmati Rice",
		Unit:       "kg",
		Quantity:   decimal.RequireFromString(quantity),
		Available:  decimal.RequireFromString(available),
		UnitPrice:  decimal.NewNullDecimal(decimal.NewFromInt(5)),
		Sellable:   true,
		Status:     domain.BatchStatusHarvested,
		OwnerID:    owner.ID,
		ProducerID: owner.ID,
	}
	if err := f.db.InsertBatch(context.Background(), b); err != nil {
		t.Fatalf("insert batch: %v", err)
	}
	return &b
}

func (f *fixture) order(t *testing.T, batch *domain.Batch, buyer, seller *domain.Party, qty string) *domain.Order {
	t.Helper()
	o, err := f.orders.CreateOrder(context.Background(), CreateOrderRequest{
		BatchID:   batch.ID,
		BuyerID:   buyer.ID,
		SellerID:  seller.ID,
		Quantity:  decimal.RequireFromString(qty),
		UnitPrice: decimal.NewFromInt(5),
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

func (f *fixture) batchAvailable(t *testing.T, id string) decimal.Decimal {
	t.Helper()
	b, err := f.db.GetBatch(context.Background(), id)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	return b.Available
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
