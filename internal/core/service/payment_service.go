package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/crop-exchange/internal/core/domain"
	"github.com/rl1809/crop-exchange/internal/port"
)

const (
	defaultPaymentMethod = "UPI"
	paymentGateway       = "FarmX-Gateway-v1"
)

type CaptureRequest struct {
	OrderID string
	Method  string          // defaults to UPI
	Amount  decimal.Decimal // zero captures the order total
}

// PaymentService captures at most one payment per order. It never touches
// the order lifecycle.
type PaymentService struct {
	deps
}

func NewPaymentService(db port.DatabaseRepository, opts ...Option) *PaymentService {
	return &PaymentService{deps: newDeps(db, nil, opts)}
}

func (s *PaymentService) Capture(ctx context.Context, req CaptureRequest) (payment *domain.Payment, err error) {
	ctx, span := s.tracer.Start(ctx, "PaymentService.Capture", trace.WithAttributes(attribute.String("order.id", req.OrderID)))
	defer func() { endSpan(span, err) }()

	if req.Amount.IsNegative() {
		return nil, fmt.Errorf("%w: amount must not be negative", domain.ErrInvalidArgument)
	}
	method := req.Method
	if method == "" {
		method = defaultPaymentMethod
	}

	if s.cache != nil {
		key := "payment:" + req.OrderID
		ok, cacheErr := s.cache.SetIdempotency(ctx, key)
		if cacheErr != nil {
			return nil, fmt.Errorf("idempotency check failed: %w", cacheErr)
		}
		if !ok {
			return nil, fmt.Errorf("%w: order %s", domain.ErrAlreadyPaid, req.OrderID)
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
		order, err := tx.GetOrder(ctx, req.OrderID)
		if err != nil {
			return err
		}

		amount := req.Amount
		if amount.IsZero() {
			amount = order.TotalPrice
		}

		now := s.now()
		p := domain.Payment{
			ID:            uuid.NewString(),
			OrderID:       order.ID,
			Amount:        amount,
			Method:        method,
			Gateway:       paymentGateway,
			TransactionID: "TXN-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12]),
			Status:        domain.PaymentStatusCompleted,
			InitiatedAt:   now,
			CompletedAt:   &now,
		}
		if err := tx.InsertPayment(ctx, p); err != nil {
			return err
		}
		payment = &p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Payment captured",
		zap.String("order_id", payment.OrderID),
		zap.String("transaction_id", payment.TransactionID),
		zap.String("amount", payment.Amount.String()),
	)
	return payment, nil
}

func (s *PaymentService) GetPayment(ctx context.Context, orderID string) (*domain.Payment, error) {
	return s.db.GetPaymentByOrder(ctx, orderID)
}
