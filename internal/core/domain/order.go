package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusRequested OrderStatus = "REQUESTED"
	OrderStatusAccepted  OrderStatus = "ACCEPTED"
	OrderStatusRejected  OrderStatus = "REJECTED"
	OrderStatusShipped   OrderStatus = "SHIPPED"
	OrderStatusDelivered OrderStatus = "DELIVERED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusRequested: {OrderStatusAccepted, OrderStatusRejected},
	OrderStatusAccepted:  {OrderStatusShipped},
	OrderStatusShipped:   {OrderStatusDelivered},
}

// CanTransition reports whether the edge from -> to exists in the order graph.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	for _, next := range orderTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	return s == OrderStatusRejected || s == OrderStatusDelivered
}

// Order references its source batch by id only. BatchID never changes, even
// after delivery mints DerivedBatchID for the buyer.
type Order struct {
	ID             string
	BatchID        string
	BuyerID        string
	SellerID       string
	Quantity       decimal.Decimal
	UnitPrice      decimal.Decimal
	TotalPrice     decimal.Decimal
	Status         OrderStatus
	AnchorProof    string
	DerivedBatchID string
	CreatedAt      time.Time
	AcceptedAt     *time.Time
	RejectedAt     *time.Time
	ShippedAt      *time.Time
	DeliveredAt    *time.Time
	UpdatedAt      time.Time
}

// Involves reports whether partyID is the buyer or the seller.
func (o Order) Involves(partyID string) bool {
	return o.BuyerID == partyID || o.SellerID == partyID
}

// Advance moves the order along one edge of the graph and stamps the
// matching timestamp.
func (o *Order) Advance(to OrderStatus, at time.Time) error {
	if !o.Status.CanTransition(to) {
		return ErrInvalidTransition
	}
	o.Status = to
	o.UpdatedAt = at
	switch to {
	case OrderStatusAccepted:
		o.AcceptedAt = &at
	case OrderStatusRejected:
		o.RejectedAt = &at
	case OrderStatusShipped:
		o.ShippedAt = &at
	case OrderStatusDelivered:
		o.DeliveredAt = &at
	}
	return nil
}
