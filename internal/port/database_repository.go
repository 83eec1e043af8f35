package port

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/rl1809/crop-exchange/internal/core/domain"
)

type BatchRepository interface {
	// GetBatch returns domain.ErrNotFound when missing. Inside a Tx the row stays locked until commit.
	GetBatch(ctx context.Context, id string) (*domain.Batch, error)

	InsertBatch(ctx context.Context, batch domain.Batch) error

	// DecrementAvailable takes qty only if the batch is sellable and has at least qty available
	DecrementAvailable(ctx context.Context, id string, qty decimal.Decimal) (bool, error)

	// IncrementAvailable gives qty back only if it keeps available <= quantity
	IncrementAvailable(ctx context.Context, id string, qty decimal.Decimal) (bool, error)

	// MarkDepleted flips sellable off and status to SOLD_OUT when nothing is available
	MarkDepleted(ctx context.Context, id string) (bool, error)

	// UpdateBatch writes listing fields with version check for optimistic locking
	UpdateBatch(ctx context.Context, batch domain.Batch) error

	SetBatchProof(ctx context.Context, id, proof string) error
}

type OrderRepository interface {
	GetOrder(ctx context.Context, id string) (*domain.Order, error)

	InsertOrder(ctx context.Context, order domain.Order) error

	// UpdateOrderStatus persists the order only while it is still in status from
	UpdateOrderStatus(ctx context.Context, order domain.Order, from domain.OrderStatus) (bool, error)

	SetOrderProof(ctx context.Context, id, proof string) error
}

type ShipmentRepository interface {
	GetShipment(ctx context.Context, id string) (*domain.Shipment, error)
	GetShipmentByOrder(ctx context.Context, orderID string) (*domain.Shipment, error)
	GetShipmentByTracking(ctx context.Context, trackingNumber string) (*domain.Shipment, error)

	// InsertShipment returns domain.ErrConflict when the order already has a shipment
	InsertShipment(ctx context.Context, shipment domain.Shipment) error

	UpdateShipment(ctx context.Context, shipment domain.Shipment) error
}

type PaymentRepository interface {
	GetPaymentByOrder(ctx context.Context, orderID string) (*domain.Payment, error)

	// InsertPayment returns domain.ErrAlreadyPaid when the order already has a payment
	InsertPayment(ctx context.Context, payment domain.Payment) error
}

type PartyRepository interface {
	GetParty(ctx context.Context, id string) (*domain.Party, error)
	InsertParty(ctx context.Context, party domain.Party) error
}

// Tx is the set of repositories bound to one transaction.
type Tx interface {
	BatchRepository
	OrderRepository
	ShipmentRepository
	PaymentRepository
	PartyRepository
}

type DatabaseRepository interface {
	Tx

	// WithinTx commits when fn returns nil and rolls back otherwise
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	ListBatchesByOwner(ctx context.Context, ownerID string) ([]domain.Batch, error)
	ListMarketplace(ctx context.Context) ([]domain.Batch, error)
	ListOrdersByParty(ctx context.Context, partyID string) ([]domain.Order, error)

	// ListShipments lists every shipment when status is empty
	ListShipments(ctx context.Context, status domain.ShipmentStatus) ([]domain.Shipment, error)

	ListPendingOrderProofs(ctx context.Context, limit int) ([]domain.Order, error)
	ListPendingBatchProofs(ctx context.Context, limit int) ([]domain.Batch, error)

	// ReplacePendingOrderProof and ReplacePendingBatchProof store proof only
	// while the current proof is still a pending marker. They report false
	// when the row holds a real proof or does not exist.
	ReplacePendingOrderProof(ctx context.Context, id, proof string) (bool, error)
	ReplacePendingBatchProof(ctx context.Context, id, proof string) (bool, error)
}
