package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type BatchStatus string

const (
	BatchStatusHarvested      BatchStatus = "HARVESTED"
	BatchStatusInDistribution BatchStatus = "IN_DISTRIBUTION"
	BatchStatusAtRetail       BatchStatus = "AT_RETAIL"
	BatchStatusSold           BatchStatus = "SOLD"
	BatchStatusSoldOut        BatchStatus = "SOLD_OUT"
)

// Batch is one inventory record owned by a single party. Available never
// exceeds Quantity and Sellable is false whenever Available is zero.
type Batch struct {
	ID            string
	Name          string
	Unit          string
	Quantity      decimal.Decimal
	Available     decimal.Decimal
	UnitPrice     decimal.NullDecimal
	Sellable      bool
	Status        BatchStatus
	OwnerID       string
	ProducerID    string // originating producer, copied on every split
	ParentBatchID string // empty for a producer's original batch
	AnchorProof   string
	Version       int // optimistic locking
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CanReserve reports whether qty can be taken from the batch right now. A
// batch that sold out reports insufficient inventory rather than unlisted.
func (b Batch) CanReserve(qty decimal.Decimal) error {
	if b.Status == BatchStatusSoldOut {
		return ErrInsufficientInventory
	}
	if !b.Sellable {
		return ErrBatchNotSellable
	}
	if qty.GreaterThan(b.Available) {
		return ErrInsufficientInventory
	}
	return nil
}

// Depleted reports whether the batch has nothing left to sell.
func (b Batch) Depleted() bool {
	return !b.Available.IsPositive()
}

// StatusForBuyer is the lifecycle status a derived batch starts with when
// it lands with a buyer of the given role.
func StatusForBuyer(role Role) BatchStatus {
	switch role {
	case RoleDistributor:
		return BatchStatusInDistribution
	case RoleRetailer:
		return BatchStatusAtRetail
	default:
		return BatchStatusSold
	}
}
