// Package ledger is the single mutation entry point for batch records.
// Every method works on a port.BatchRepository, which is expected to be
// bound to the caller's transaction so that reads lock the batch row.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rl1809/crop-exchange/internal/core/domain"
	"github.com/rl1809/crop-exchange/internal/port"
)

type Reservation struct {
	BatchID   string
	Quantity  decimal.Decimal
	Remaining decimal.Decimal
	Depleted  bool
}

type Ledger struct {
	now func() time.Time
}

func New() *Ledger {
	return &Ledger{now: time.Now}
}

// NewWithClock is New with an injectable clock.
func NewWithClock(now func() time.Time) *Ledger {
	return &Ledger{now: now}
}

// RegisterInput describes a producer's freshly harvested batch.
type RegisterInput struct {
	Name       string
	Unit       string
	Quantity   decimal.Decimal
	UnitPrice  decimal.NullDecimal
	Sellable   bool
	ProducerID string
}

// Register opens a batch owned and originated by the producer.
func (l *Ledger) Register(ctx context.Context, repo port.BatchRepository, in RegisterInput) (*domain.Batch, error) {
	if !in.Quantity.IsPositive() {
		return nil, fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidArgument)
	}
	if in.ProducerID == "" {
		return nil, fmt.Errorf("%w: producer is required", domain.ErrInvalidArgument)
	}

	now := l.now()
	batch := domain.Batch{
		ID:         uuid.NewString(),
		Name:       in.Name,
		Unit:       in.Unit,
		Quantity:   in.Quantity,
		Available:  in.Quantity,
		UnitPrice:  in.UnitPrice,
		Sellable:   in.Sellable,
		Status:     domain.BatchStatusHarvested,
		OwnerID:    in.ProducerID,
		ProducerID: in.ProducerID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := repo.InsertBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("insert batch: %w", err)
	}
	return &batch, nil
}

// Reserve atomically checks and takes qty from the batch. The read locks the
// row and the decrement is conditional, so two reservations can never both
// see the same units.
func (l *Ledger) Reserve(ctx context.Context, repo port.BatchRepository, batchID string, qty decimal.Decimal) (*Reservation, error) {
	if !qty.IsPositive() {
		return nil, fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidArgument)
	}

	batch, err := repo.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if err := batch.CanReserve(qty); err != nil {
		return nil, fmt.Errorf("%w: batch %s has %s available", err, batchID, batch.Available)
	}

	ok, err := repo.DecrementAvailable(ctx, batchID, qty)
	if err != nil {
		return nil, fmt.Errorf("decrement available: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: batch %s", domain.ErrInsufficientInventory, batchID)
	}

	res := &Reservation{
		BatchID:   batchID,
		Quantity:  qty,
		Remaining: batch.Available.Sub(qty),
	}
	if !res.Remaining.IsPositive() {
		if _, err := l.MarkDepleted(ctx, repo, batchID); err != nil {
			return nil, err
		}
		res.Depleted = true
	}
	return res, nil
}

// Release gives qty back to the batch. It never lets available exceed the
// batch quantity and leaves sellable untouched; the owner relists explicitly.
func (l *Ledger) Release(ctx context.Context, repo port.BatchRepository, batchID string, qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidArgument)
	}
	ok, err := repo.IncrementAvailable(ctx, batchID, qty)
	if err != nil {
		return fmt.Errorf("increment available: %w", err)
	}
	if !ok {
		if _, err := repo.GetBatch(ctx, batchID); err != nil {
			return err
		}
		return fmt.Errorf("%w: releasing %s would exceed batch %s quantity", domain.ErrInvalidArgument, qty, batchID)
	}
	return nil
}

// MarkDepleted sets sellable=false and status=SOLD_OUT once nothing is
// available. It reports whether the batch was depleted.
func (l *Ledger) MarkDepleted(ctx context.Context, repo port.BatchRepository, batchID string) (bool, error) {
	ok, err := repo.MarkDepleted(ctx, batchID)
	if err != nil {
		return false, fmt.Errorf("mark depleted: %w", err)
	}
	return ok, nil
}

// Split mints the buyer's batch out of qty sold from the source. The source
// keeps its owner; its available quantity was already taken by Reserve.
func (l *Ledger) Split(ctx context.Context, repo port.BatchRepository, sourceBatchID, buyerID string, buyerRole domain.Role, qty decimal.Decimal) (*domain.Batch, error) {
	if !qty.IsPositive() {
		return nil, fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidArgument)
	}

	source, err := repo.GetBatch(ctx, sourceBatchID)
	if err != nil {
		return nil, err
	}

	now := l.now()
	derived := domain.Batch{
		ID:            uuid.NewString(),
		Name:          source.Name,
		Unit:          source.Unit,
		Quantity:      qty,
		Available:     qty,
		Sellable:      false,
		Status:        domain.StatusForBuyer(buyerRole),
		OwnerID:       buyerID,
		ProducerID:    source.ProducerID,
		ParentBatchID: source.ID,
		AnchorProof:   domain.SplitProof(source.ID, now),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := repo.InsertBatch(ctx, derived); err != nil {
		return nil, fmt.Errorf("insert derived batch: %w", err)
	}
	return &derived, nil
}

// ListingInput changes how a batch is offered. Nil fields are left as is.
type ListingInput struct {
	Sellable  bool
	UnitPrice *decimal.Decimal
	Available *decimal.Decimal
}

// UpdateListing lets the owner offer or withdraw the batch. Available can
// only be lowered, and a batch with nothing available cannot be listed.
func (l *Ledger) UpdateListing(ctx context.Context, repo port.BatchRepository, batchID, ownerID string, in ListingInput) (*domain.Batch, error) {
	batch, err := repo.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: only the current owner can list batch %s", domain.ErrUnauthorized, batchID)
	}

	if in.UnitPrice != nil {
		if in.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("%w: unit price must not be negative", domain.ErrInvalidArgument)
		}
		batch.UnitPrice = decimal.NewNullDecimal(*in.UnitPrice)
	}
	if in.Available != nil {
		if in.Available.IsNegative() || in.Available.GreaterThan(batch.Available) {
			return nil, fmt.Errorf("%w: available can only be lowered (currently %s)", domain.ErrInvalidArgument, batch.Available)
		}
		batch.Available = *in.Available
	}

	batch.Sellable = in.Sellable
	if batch.Depleted() {
		if in.Sellable {
			return nil, fmt.Errorf("%w: batch %s has nothing available", domain.ErrBatchNotSellable, batchID)
		}
		batch.Status = domain.BatchStatusSoldOut
	}
	batch.UpdatedAt = l.now()

	if err := repo.UpdateBatch(ctx, *batch); err != nil {
		return nil, fmt.Errorf("update batch: %w", err)
	}
	batch.Version++
	return batch, nil
}
