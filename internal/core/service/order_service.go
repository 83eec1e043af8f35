package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/crop-exchange/internal/core/domain"
	"github.com/rl1809/crop-exchange/internal/core/ledger"
	"github.com/rl1809/crop-exchange/internal/core/rolechain"
	"github.com/rl1809/crop-exchange/internal/port"
)

type CreateOrderRequest struct {
	RequestID string // optional, deduplicated through the cache
	BatchID   string
	BuyerID   string
	SellerID  string
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal // zero falls back to the batch's listed price
}

// OrderService drives the order lifecycle. Every transition runs inside one
// store transaction; anchor calls, cache writes and events happen after commit.
type OrderService struct {
	deps
	ledger *ledger.Ledger
}

func NewOrderService(db port.DatabaseRepository, anchor port.Anchor, opts ...Option) *OrderService {
	d := newDeps(db, anchor, opts)
	return &OrderService{deps: d, ledger: ledger.NewWithClock(d.now)}
}

func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (order *domain.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.CreateOrder", trace.WithAttributes(
		attribute.String("batch.id", req.BatchID),
		attribute.String("buyer.id", req.BuyerID),
		attribute.String("seller.id", req.SellerID),
	))
	defer func() { endSpan(span, err) }()

	if !req.Quantity.IsPositive() {
		return nil, fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidArgument)
	}
	if req.UnitPrice.IsNegative() {
		return nil, fmt.Errorf("%w: unit price must not be negative", domain.ErrInvalidArgument)
	}

	if req.RequestID != "" && s.cache != nil {
		key := "order:" + req.RequestID
		ok, cacheErr := s.cache.SetIdempotency(ctx, key)
		if cacheErr != nil {
			return nil, fmt.Errorf("idempotency check failed: %w", cacheErr)
		}
		if !ok {
			return nil, fmt.Errorf("%w: request %s", domain.ErrDuplicateRequest, req.RequestID)
		}
		defer func() {
			if err == nil {
				return
			}
			if clearErr := s.cache.ClearIdempotency(context.WithoutCancel(ctx), key); clearErr != nil {
				s.logger.Warn("Failed to clear idempotency key", zap.String("key", key), zap.Error(clearErr))
			}
		}()
	}

	err = s.db.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		batch, err := tx.GetBatch(ctx, req.BatchID)
		if err != nil {
			return err
		}
		if err := batch.CanReserve(req.Quantity); err != nil {
			return fmt.Errorf("%w: batch %s has %s available", err, batch.ID, batch.Available)
		}

		seller, err := tx.GetParty(ctx, req.SellerID)
		if err != nil {
			return err
		}
		buyer, err := tx.GetParty(ctx, req.BuyerID)
		if err != nil {
			return err
		}
		if err := rolechain.Validate(seller.Role, buyer.Role); err != nil {
			return err
		}
		if batch.OwnerID != seller.ID {
			return fmt.Errorf("%w: %s does not own batch %s", domain.ErrUnauthorized, seller.ID, batch.ID)
		}

		price := req.UnitPrice
		if price.IsZero() && batch.UnitPrice.Valid {
			price = batch.UnitPrice.Decimal
		}

		now := s.now()
		o := domain.Order{
			ID:         uuid.NewString(),
			BatchID:    batch.ID,
			BuyerID:    buyer.ID,
			SellerID:   seller.ID,
			Quantity:   req.Quantity,
			UnitPrice:  price,
			TotalPrice: req.Quantity.Mul(price),
			Status:     domain.OrderStatusRequested,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.InsertOrder(ctx, o); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		order = &o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, domain.EventOrderCreated, *order)
	return order, nil
}

// AcceptOrder binds the reservation: the batch decrement and the status
// write commit together. The ownership anchor is called afterwards and a
// failure only leaves a pending proof on the order.
func (s *OrderService) AcceptOrder(ctx context.Context, orderID, sellerID string) (order *domain.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.AcceptOrder", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer func() { endSpan(span, err) }()

	var reservation *ledger.Reservation
	err = s.db.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		o, err := s.decidable(ctx, tx, orderID, sellerID)
		if err != nil {
			return err
		}

		res, err := s.ledger.Reserve(ctx, tx, o.BatchID, o.Quantity)
		if err != nil {
			return err
		}
		if err := s.advance(ctx, tx, o, domain.OrderStatusAccepted); err != nil {
			return err
		}
		order, reservation = o, res
		return nil
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.String("batch.id", order.BatchID),
		attribute.Bool("batch.depleted", reservation.Depleted),
	)

	order.AnchorProof = s.anchorTransfer(ctx, order)
	if s.cache != nil {
		if _, err := s.cache.LowerAvailable(ctx, order.BatchID, reservation.Remaining); err != nil {
			s.logger.Warn("Failed to update cached availability", zap.String("batch_id", order.BatchID), zap.Error(err))
		}
	}
	s.publish(ctx, domain.EventOrderAccepted, *order)
	return order, nil
}

func (s *OrderService) RejectOrder(ctx context.Context, orderID, sellerID string) (order *domain.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.RejectOrder", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer func() { endSpan(span, err) }()

	err = s.db.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		o, err := s.decidable(ctx, tx, orderID, sellerID)
		if err != nil {
			return err
		}
		if err := s.advance(ctx, tx, o, domain.OrderStatusRejected); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, domain.EventOrderRejected, *order)
	return order, nil
}

func (s *OrderService) MarkShipped(ctx context.Context, orderID string) (order *domain.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.MarkShipped", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer func() { endSpan(span, err) }()

	err = s.db.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		order, err = s.shipTx(ctx, tx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, domain.EventOrderShipped, *order)
	return order, nil
}

// MarkDelivered completes the order and mints the buyer's batch. Calling it
// again for the same order fails with ErrInvalidTransition and mints nothing.
func (s *OrderService) MarkDelivered(ctx context.Context, orderID string) (order *domain.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.MarkDelivered", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer func() { endSpan(span, err) }()

	var derived *domain.Batch
	err = s.db.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		order, derived, err = s.deliverTx(ctx, tx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("batch.derived_id", derived.ID))
	s.afterDelivery(ctx, order, derived)
	return order, nil
}

func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.db.GetOrder(ctx, orderID)
}

func (s *OrderService) ListOrdersByParty(ctx context.Context, partyID string) ([]domain.Order, error) {
	return s.db.ListOrdersByParty(ctx, partyID)
}

// decidable loads an order the seller may still accept or reject.
func (s *OrderService) decidable(ctx context.Context, tx port.Tx, orderID, sellerID string) (*domain.Order, error) {
	o, err := tx.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.SellerID != sellerID {
		return nil, fmt.Errorf("%w: %s is not the seller of order %s", domain.ErrUnauthorized, sellerID, orderID)
	}
	if o.Status != domain.OrderStatusRequested {
		return nil, fmt.Errorf("%w: order %s is %s", domain.ErrInvalidTransition, orderID, o.Status)
	}
	return o, nil
}

// advance writes the transition only if no one else moved the order first.
func (s *OrderService) advance(ctx context.Context, tx port.Tx, o *domain.Order, to domain.OrderStatus) error {
	from := o.Status
	if err := o.Advance(to, s.now()); err != nil {
		return fmt.Errorf("%w: order %s %s -> %s", err, o.ID, from, to)
	}
	ok, err := tx.UpdateOrderStatus(ctx, *o, from)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: order %s is no longer %s", domain.ErrInvalidTransition, o.ID, from)
	}
	return nil
}

func (s *OrderService) shipTx(ctx context.Context, tx port.Tx, orderID string) (*domain.Order, error) {
	o, err := tx.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.advance(ctx, tx, o, domain.OrderStatusShipped); err != nil {
		return nil, err
	}
	return o, nil
}

// deliverTx moves a SHIPPED order to DELIVERED and splits the sold quantity
// into a new batch for the buyer within the caller's transaction.
func (s *OrderService) deliverTx(ctx context.Context, tx port.Tx, orderID string) (*domain.Order, *domain.Batch, error) {
	o, err := tx.GetOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if o.Status != domain.OrderStatusShipped {
		return nil, nil, fmt.Errorf("%w: order %s is %s", domain.ErrInvalidTransition, orderID, o.Status)
	}

	buyer, err := tx.GetParty(ctx, o.BuyerID)
	if err != nil {
		return nil, nil, err
	}
	derived, err := s.ledger.Split(ctx, tx, o.BatchID, o.BuyerID, buyer.Role, o.Quantity)
	if err != nil {
		return nil, nil, err
	}

	o.DerivedBatchID = derived.ID
	if err := s.advance(ctx, tx, o, domain.OrderStatusDelivered); err != nil {
		return nil, nil, err
	}
	if _, err := s.ledger.MarkDepleted(ctx, tx, o.BatchID); err != nil {
		return nil, nil, err
	}
	return o, derived, nil
}

func (s *OrderService) afterDelivery(ctx context.Context, order *domain.Order, derived *domain.Batch) {
	s.cacheAvailable(ctx, derived)
	s.publish(ctx, domain.EventOrderDelivered, *order)
}

// anchorTransfer records the ownership change externally and stores the
// proof, or a pending marker when the anchor is unavailable.
func (s *OrderService) anchorTransfer(ctx context.Context, order *domain.Order) string {
	ctx = context.WithoutCancel(ctx)
	wallet := order.BuyerID
	if buyer, err := s.db.GetParty(ctx, order.BuyerID); err == nil && buyer.WalletAddress != "" {
		wallet = buyer.WalletAddress
	}

	proof, err := s.anchorCall(ctx, func(ctx context.Context) (string, error) {
		return s.anchor.TransferOwnership(ctx, order.BatchID, wallet)
	})
	if err != nil {
		proof = domain.PendingProof(s.now())
		s.logger.Warn("Ownership anchor degraded, storing pending proof",
			zap.String("order_id", order.ID),
			zap.String("batch_id", order.BatchID),
			zap.String("proof", proof),
			zap.Error(err),
		)
	}

	if err := s.db.SetOrderProof(ctx, order.ID, proof); err != nil {
		s.logger.Error("Failed to store order proof", zap.String("order_id", order.ID), zap.Error(err))
	}
	return proof
}
