package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
)

// Payment is the receipt of a captured payment. There is at most one per order.
type Payment struct {
	ID            string
	OrderID       string
	Amount        decimal.Decimal
	Method        string
	Gateway       string
	TransactionID string
	Status        PaymentStatus
	InitiatedAt   time.Time
	CompletedAt   *time.Time
}
