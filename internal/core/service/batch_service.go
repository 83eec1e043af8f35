package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/crop-exchange/internal/core/domain"
	"github.com/rl1809/crop-exchange/internal/core/ledger"
	"github.com/rl1809/crop-exchange/internal/port"
)

// maxProvenanceDepth bounds the parent walk in case of a corrupted cycle.
const maxProvenanceDepth = 64

type RegisterBatchRequest struct {
	ProducerID string
	Name       string
	Unit       string
	Quantity   decimal.Decimal
	UnitPrice  decimal.NullDecimal
	Sellable   bool
}

type BatchService struct {
	deps
	ledger *ledger.Ledger
}

func NewBatchService(db port.DatabaseRepository, anchor port.Anchor, opts ...Option) *BatchService {
	d := newDeps(db, anchor, opts)
	return &BatchService{deps: d, ledger: ledger.NewWithClock(d.now)}
}

// RegisterBatch opens a HARVESTED batch for a producer and anchors it.
func (s *BatchService) RegisterBatch(ctx context.Context, req RegisterBatchRequest) (batch *domain.Batch, err error) {
	ctx, span := s.tracer.Start(ctx, "BatchService.RegisterBatch", trace.WithAttributes(attribute.String("producer.id", req.ProducerID)))
	defer func() { endSpan(span, err) }()

	if req.UnitPrice.Valid && req.UnitPrice.Decimal.IsNegative() {
		return nil, fmt.Errorf("%w: unit price must not be negative", domain.ErrInvalidArgument)
	}

	err = s.db.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		producer, err := tx.GetParty(ctx, req.ProducerID)
		if err != nil {
			return err
		}
		if producer.Role != domain.RoleProducer {
			return fmt.Errorf("%w: %s is a %s, only producers register batches", domain.ErrUnauthorized, producer.ID, producer.Role)
		}
		batch, err = s.ledger.Register(ctx, tx, ledger.RegisterInput{
			Name:       req.Name,
			Unit:       req.Unit,
			Quantity:   req.Quantity,
			UnitPrice:  req.UnitPrice,
			Sellable:   req.Sellable,
			ProducerID: producer.ID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("batch.id", batch.ID))
	batch.AnchorProof = s.anchorRegistration(ctx, batch)
	s.cacheAvailable(ctx, batch)
	return batch, nil
}

// UpdateListing lets the current owner offer or withdraw a batch.
func (s *BatchService) UpdateListing(ctx context.Context, batchID, ownerID string, in ledger.ListingInput) (batch *domain.Batch, err error) {
	ctx, span := s.tracer.Start(ctx, "BatchService.UpdateListing", trace.WithAttributes(attribute.String("batch.id", batchID)))
	defer func() { endSpan(span, err) }()

	err = s.db.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		batch, err = s.ledger.UpdateListing(ctx, tx, batchID, ownerID, in)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.cacheAvailable(ctx, batch)
	return batch, nil
}

func (s *BatchService) GetBatch(ctx context.Context, batchID string) (*domain.Batch, error) {
	return s.db.GetBatch(ctx, batchID)
}

func (s *BatchService) ListBatchesByOwner(ctx context.Context, ownerID string) ([]domain.Batch, error) {
	return s.db.ListBatchesByOwner(ctx, ownerID)
}

// ListMarketplace lists sellable batches only.
func (s *BatchService) ListMarketplace(ctx context.Context) ([]domain.Batch, error) {
	return s.db.ListMarketplace(ctx)
}

// Availability answers from the cache first and fills it on a miss.
func (s *BatchService) Availability(ctx context.Context, batchID string) (decimal.Decimal, error) {
	if s.cache != nil {
		available, ok, err := s.cache.GetAvailable(ctx, batchID)
		if err != nil {
			s.logger.Warn("Availability cache read failed", zap.String("batch_id", batchID), zap.Error(err))
		} else if ok {
			return available, nil
		}
	}

	batch, err := s.db.GetBatch(ctx, batchID)
	if err != nil {
		return decimal.Zero, err
	}
	s.cacheAvailable(ctx, batch)
	return batch.Available, nil
}

// Provenance returns the batch followed by each parent up to the
// producer's original batch.
func (s *BatchService) Provenance(ctx context.Context, batchID string) ([]domain.Batch, error) {
	var chain []domain.Batch
	id := batchID
	for id != "" {
		if len(chain) == maxProvenanceDepth {
			return nil, fmt.Errorf("%w: provenance of %s deeper than %d", domain.ErrConflict, batchID, maxProvenanceDepth)
		}
		batch, err := s.db.GetBatch(ctx, id)
		if err != nil {
			return nil, err
		}
		chain = append(chain, *batch)
		id = batch.ParentBatchID
	}
	return chain, nil
}

func (s *BatchService) anchorRegistration(ctx context.Context, batch *domain.Batch) string {
	ctx = context.WithoutCancel(ctx)
	proof, err := s.anchorCall(ctx, func(ctx context.Context) (string, error) {
		return s.anchor.RegisterBatch(ctx, *batch)
	})
	if err != nil {
		proof = domain.PendingProof(s.now())
		s.logger.Warn("Batch anchor degraded, storing pending proof",
			zap.String("batch_id", batch.ID),
			zap.String("proof", proof),
			zap.Error(err),
		)
	}
	if err := s.db.SetBatchProof(ctx, batch.ID, proof); err != nil {
		s.logger.Error("Failed to store batch proof", zap.String("batch_id", batch.ID), zap.Error(err))
	}
	return proof
}
