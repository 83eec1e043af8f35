package storage

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/rl1809/crop-exchange/internal/core/domain"
	"github.com/rl1809/crop-exchange/internal/port"
)

type memoryState struct {
	batches   map[string]domain.Batch
	orders    map[string]domain.Order
	shipments map[string]domain.Shipment
	payments  map[string]domain.Payment // keyed by order id
	parties   map[string]domain.Party
}

func newMemoryState() memoryState {
	return memoryState{
		batches:   make(map[string]domain.Batch),
		orders:    make(map[string]domain.Order),
		shipments: make(map[string]domain.Shipment),
		payments:  make(map[string]domain.Payment),
		parties:   make(map[string]domain.Party),
	}
}

func (s memoryState) clone() memoryState {
	return memoryState{
		batches:   maps.Clone(s.batches),
		orders:    maps.Clone(s.orders),
		shipments: maps.Clone(s.shipments),
		payments:  maps.Clone(s.payments),
		parties:   maps.Clone(s.parties),
	}
}

// MemoryAdapter keeps everything in process. Transactions are serialized
// by one mutex and roll back by restoring a snapshot.
type MemoryAdapter struct {
	mu    sync.Mutex
	state memoryState
}

var _ port.DatabaseRepository = (*MemoryAdapter)(nil)

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{state: newMemoryState()}
}

func (m *MemoryAdapter) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(ctx, &memoryTx{state: &m.state}); err != nil {
		m.state = snapshot
		return err
	}
	if err := ctx.Err(); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (m *MemoryAdapter) view() *memoryTx {
	return &memoryTx{state: &m.state}
}

func (m *MemoryAdapter) GetBatch(ctx context.Context, id string) (*domain.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().GetBatch(ctx, id)
}

func (m *MemoryAdapter) InsertBatch(ctx context.Context, batch domain.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().InsertBatch(ctx, batch)
}

func (m *MemoryAdapter) DecrementAvailable(ctx context.Context, id string, qty decimal.Decimal) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().DecrementAvailable(ctx, id, qty)
}

func (m *MemoryAdapter) IncrementAvailable(ctx context.Context, id string, qty decimal.Decimal) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().IncrementAvailable(ctx, id, qty)
}

func (m *MemoryAdapter) MarkDepleted(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().MarkDepleted(ctx, id)
}

func (m *MemoryAdapter) UpdateBatch(ctx context.Context, batch domain.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().UpdateBatch(ctx, batch)
}

func (m *MemoryAdapter) SetBatchProof(ctx context.Context, id, proof string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().SetBatchProof(ctx, id, proof)
}

func (m *MemoryAdapter) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().GetOrder(ctx, id)
}

func (m *MemoryAdapter) InsertOrder(ctx context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().InsertOrder(ctx, order)
}

func (m *MemoryAdapter) UpdateOrderStatus(ctx context.Context, order domain.Order, from domain.OrderStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().UpdateOrderStatus(ctx, order, from)
}

func (m *MemoryAdapter) SetOrderProof(ctx context.Context, id, proof string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().SetOrderProof(ctx, id, proof)
}

func (m *MemoryAdapter) GetShipment(ctx context.Context, id string) (*domain.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().GetShipment(ctx, id)
}

func (m *MemoryAdapter) GetShipmentByOrder(ctx context.Context, orderID string) (*domain.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().GetShipmentByOrder(ctx, orderID)
}

func (m *MemoryAdapter) GetShipmentByTracking(ctx context.Context, trackingNumber string) (*domain.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().GetShipmentByTracking(ctx, trackingNumber)
}

func (m *MemoryAdapter) InsertShipment(ctx context.Context, shipment domain.Shipment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().InsertShipment(ctx, shipment)
}

func (m *MemoryAdapter) UpdateShipment(ctx context.Context, shipment domain.Shipment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().UpdateShipment(ctx, shipment)
}

func (m *MemoryAdapter) GetPaymentByOrder(ctx context.Context, orderID string) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().GetPaymentByOrder(ctx, orderID)
}

func (m *MemoryAdapter) InsertPayment(ctx context.Context, payment domain.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().InsertPayment(ctx, payment)
}

func (m *MemoryAdapter) GetParty(ctx context.Context, id string) (*domain.Party, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().GetParty(ctx, id)
}

func (m *MemoryAdapter) InsertParty(ctx context.Context, party domain.Party) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().InsertParty(ctx, party)
}

func (m *MemoryAdapter) ListBatchesByOwner(ctx context.Context, ownerID string) ([]domain.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return filterBatches(m.state.batches, func(b domain.Batch) bool { return b.OwnerID == ownerID }), nil
}

func (m *MemoryAdapter) ListMarketplace(ctx context.Context) ([]domain.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return filterBatches(m.state.batches, func(b domain.Batch) bool { return b.Sellable }), nil
}

func (m *MemoryAdapter) ListPendingBatchProofs(ctx context.Context, limit int) ([]domain.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := filterBatches(m.state.batches, func(b domain.Batch) bool { return domain.IsPendingProof(b.AnchorProof) })
	return truncate(out, limit), nil
}

func (m *MemoryAdapter) ListOrdersByParty(ctx context.Context, partyID string) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return filterOrders(m.state.orders, func(o domain.Order) bool { return o.Involves(partyID) }), nil
}

func (m *MemoryAdapter) ListPendingOrderProofs(ctx context.Context, limit int) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := filterOrders(m.state.orders, func(o domain.Order) bool { return domain.IsPendingProof(o.AnchorProof) })
	return truncate(out, limit), nil
}

func (m *MemoryAdapter) ReplacePendingOrderProof(ctx context.Context, id, proof string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.state.orders[id]
	if !ok || !domain.IsPendingProof(o.AnchorProof) {
		return false, nil
	}
	o.AnchorProof = proof
	m.state.orders[id] = o
	return true, nil
}

func (m *MemoryAdapter) ReplacePendingBatchProof(ctx context.Context, id, proof string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.state.batches[id]
	if !ok || !domain.IsPendingProof(b.AnchorProof) {
		return false, nil
	}
	b.AnchorProof = proof
	m.state.batches[id] = b
	return true, nil
}

func (m *MemoryAdapter) ListShipments(ctx context.Context, status domain.ShipmentStatus) ([]domain.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Shipment
	for _, s := range m.state.shipments {
		if status == "" || s.Status == status {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func filterBatches(in map[string]domain.Batch, keep func(domain.Batch) bool) []domain.Batch {
	var out []domain.Batch
	for _, b := range in {
		if keep(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func filterOrders(in map[string]domain.Order, keep func(domain.Order) bool) []domain.Order {
	var out []domain.Order
	for _, o := range in {
		if keep(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func truncate[T any](in []T, limit int) []T {
	if limit > 0 && len(in) > limit {
		return in[:limit]
	}
	return in
}

// memoryTx operates on the state without locking; the caller holds the mutex.
type memoryTx struct {
	state *memoryState
}

func (t *memoryTx) GetBatch(_ context.Context, id string) (*domain.Batch, error) {
	b, ok := t.state.batches[id]
	if !ok {
		return nil, fmt.Errorf("%w: batch %s", domain.ErrNotFound, id)
	}
	return &b, nil
}

func (t *memoryTx) InsertBatch(_ context.Context, batch domain.Batch) error {
	if _, ok := t.state.batches[batch.ID]; ok {
		return fmt.Errorf("%w: batch %s exists", domain.ErrConflict, batch.ID)
	}
	t.state.batches[batch.ID] = batch
	return nil
}

func (t *memoryTx) DecrementAvailable(_ context.Context, id string, qty decimal.Decimal) (bool, error) {
	b, ok := t.state.batches[id]
	if !ok || !b.Sellable || b.Available.LessThan(qty) {
		return false, nil
	}
	b.Available = b.Available.Sub(qty)
	b.Version++
	t.state.batches[id] = b
	return true, nil
}

func (t *memoryTx) IncrementAvailable(_ context.Context, id string, qty decimal.Decimal) (bool, error) {
	b, ok := t.state.batches[id]
	if !ok || b.Available.Add(qty).GreaterThan(b.Quantity) {
		return false, nil
	}
	b.Available = b.Available.Add(qty)
	b.Version++
	t.state.batches[id] = b
	return true, nil
}

func (t *memoryTx) MarkDepleted(_ context.Context, id string) (bool, error) {
	b, ok := t.state.batches[id]
	if !ok || b.Available.IsPositive() {
		return false, nil
	}
	b.Sellable = false
	b.Status = domain.BatchStatusSoldOut
	b.Version++
	t.state.batches[id] = b
	return true, nil
}

func (t *memoryTx) UpdateBatch(_ context.Context, batch domain.Batch) error {
	current, ok := t.state.batches[batch.ID]
	if !ok {
		return fmt.Errorf("%w: batch %s", domain.ErrNotFound, batch.ID)
	}
	if current.Version != batch.Version {
		return ErrOptimisticLock
	}
	batch.Version++
	t.state.batches[batch.ID] = batch
	return nil
}

func (t *memoryTx) SetBatchProof(_ context.Context, id, proof string) error {
	b, ok := t.state.batches[id]
	if !ok {
		return fmt.Errorf("%w: batch %s", domain.ErrNotFound, id)
	}
	b.AnchorProof = proof
	t.state.batches[id] = b
	return nil
}

func (t *memoryTx) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	o, ok := t.state.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
	}
	return &o, nil
}

func (t *memoryTx) InsertOrder(_ context.Context, order domain.Order) error {
	if _, ok := t.state.orders[order.ID]; ok {
		return fmt.Errorf("%w: order %s exists", domain.ErrConflict, order.ID)
	}
	t.state.orders[order.ID] = order
	return nil
}

func (t *memoryTx) UpdateOrderStatus(_ context.Context, order domain.Order, from domain.OrderStatus) (bool, error) {
	current, ok := t.state.orders[order.ID]
	if !ok || current.Status != from {
		return false, nil
	}
	t.state.orders[order.ID] = order
	return true, nil
}

func (t *memoryTx) SetOrderProof(_ context.Context, id, proof string) error {
	o, ok := t.state.orders[id]
	if !ok {
		return fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
	}
	o.AnchorProof = proof
	t.state.orders[id] = o
	return nil
}

func (t *memoryTx) GetShipment(_ context.Context, id string) (*domain.Shipment, error) {
	s, ok := t.state.shipments[id]
	if !ok {
		return nil, fmt.Errorf("%w: shipment %s", domain.ErrNotFound, id)
	}
	return &s, nil
}

func (t *memoryTx) GetShipmentByOrder(_ context.Context, orderID string) (*domain.Shipment, error) {
	for _, s := range t.state.shipments {
		if s.OrderID == orderID {
			return &s, nil
		}
	}
	return nil, fmt.Errorf("%w: shipment for order %s", domain.ErrNotFound, orderID)
}

func (t *memoryTx) GetShipmentByTracking(_ context.Context, trackingNumber string) (*domain.Shipment, error) {
	for _, s := range t.state.shipments {
		if s.TrackingNumber == trackingNumber {
			return &s, nil
		}
	}
	return nil, fmt.Errorf("%w: tracking number %s", domain.ErrNotFound, trackingNumber)
}

func (t *memoryTx) InsertShipment(_ context.Context, shipment domain.Shipment) error {
	for _, s := range t.state.shipments {
		if s.OrderID == shipment.OrderID {
			return fmt.Errorf("%w: order %s already has shipment %s", domain.ErrConflict, shipment.OrderID, s.ID)
		}
	}
	t.state.shipments[shipment.ID] = shipment
	return nil
}

func (t *memoryTx) UpdateShipment(_ context.Context, shipment domain.Shipment) error {
	if _, ok := t.state.shipments[shipment.ID]; !ok {
		return fmt.Errorf("%w: shipment %s", domain.ErrNotFound, shipment.ID)
	}
	t.state.shipments[shipment.ID] = shipment
	return nil
}

func (t *memoryTx) GetPaymentByOrder(_ context.Context, orderID string) (*domain.Payment, error) {
	p, ok := t.state.payments[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: payment for order %s", domain.ErrNotFound, orderID)
	}
	return &p, nil
}

func (t *memoryTx) InsertPayment(_ context.Context, payment domain.Payment) error {
	if _, ok := t.state.payments[payment.OrderID]; ok {
		return fmt.Errorf("%w: order %s", domain.ErrAlreadyPaid, payment.OrderID)
	}
	t.state.payments[payment.OrderID] = payment
	return nil
}

func (t *memoryTx) GetParty(_ context.Context, id string) (*domain.Party, error) {
	p, ok := t.state.parties[id]
	if !ok {
		return nil, fmt.Errorf("%w: party %s", domain.ErrNotFound, id)
	}
	return &p, nil
}

func (t *memoryTx) InsertParty(_ context.Context, party domain.Party) error {
	if _, ok := t.state.parties[party.ID]; ok {
		return fmt.Errorf("%w: party %s exists", domain.ErrConflict, party.ID)
	}
	t.state.parties[party.ID] = party
	return nil
}
