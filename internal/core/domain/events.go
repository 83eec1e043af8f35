package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventOrderCreated   EventType = "order.created"
	EventOrderAccepted  EventType = "order.accepted"
	EventOrderRejected  EventType = "order.rejected"
	EventOrderShipped   EventType = "order.shipped"
	EventOrderDelivered EventType = "order.delivered"
)

// OrderEvent is published after an order transition has been committed.
type OrderEvent struct {
	Type           EventType       `json:"type"`
	OrderID        string          `json:"order_id"`
	BatchID        string          `json:"batch_id"`
	BuyerID        string          `json:"buyer_id"`
	SellerID       string          `json:"seller_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	TotalPrice     decimal.Decimal `json:"total_price"`
	Status         OrderStatus     `json:"status"`
	DerivedBatchID string          `json:"derived_batch_id,omitempty"`
	AnchorProof    string          `json:"anchor_proof,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

func NewOrderEvent(t EventType, o Order, at time.Time) OrderEvent {
	return OrderEvent{
		Type:           t,
		OrderID:        o.ID,
		BatchID:        o.BatchID,
		BuyerID:        o.BuyerID,
		SellerID:       o.SellerID,
		Quantity:       o.Quantity,
		TotalPrice:     o.TotalPrice,
		Status:         o.Status,
		DerivedBatchID: o.DerivedBatchID,
		AnchorProof:    o.AnchorProof,
		OccurredAt:     at,
	}
}

// TelemetryReading is one sensor/location update for a shipment.
type TelemetryReading struct {
	ShipmentID  string   `json:"shipment_id"`
	Location    string   `json:"location,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
}
