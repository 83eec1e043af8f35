package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/crop-exchange/internal/core/domain"
)

type PartyRequest struct {
	Name          string `json:"name"`
	Role          string `json:"role"`
	WalletAddress string `json:"wallet_address"`
}

type PartyResponse struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Role          string    `json:"role"`
	WalletAddress string    `json:"wallet_address,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func toParty(p *domain.Party) PartyResponse {
	return PartyResponse{
		ID:            p.ID,
		Name:          p.Name,
		Role:          string(p.Role),
		WalletAddress: p.WalletAddress,
		CreatedAt:     p.CreatedAt,
	}
}

type RegisterBatchRequest struct {
	Name      string           `json:"name"`
	Unit      string           `json:"unit"`
	Quantity  decimal.Decimal  `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price"`
	Sellable  bool             `json:"sellable"`
}

type ListingRequest struct {
	Sellable  bool             `json:"sellable"`
	UnitPrice *decimal.Decimal `json:"unit_price"`
	Available *decimal.Decimal `json:"available"`
}

type BatchResponse struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Unit          string           `json:"unit"`
	Quantity      decimal.Decimal  `json:"quantity"`
	Available     decimal.Decimal  `json:"available"`
	UnitPrice     *decimal.Decimal `json:"unit_price,omitempty"`
	Sellable      bool             `json:"sellable"`
	Status        string           `json:"status"`
	OwnerID       string           `json:"owner_id"`
	ProducerID    string           `json:"producer_id"`
	ParentBatchID string           `json:"parent_batch_id,omitempty"`
	AnchorProof   string           `json:"anchor_proof,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

func toBatch(b *domain.Batch) BatchResponse {
	resp := BatchResponse{
		ID:            b.ID,
		Name:          b.Name,
		Unit:          b.Unit,
		Quantity:      b.Quantity,
		Available:     b.Available,
		Sellable:      b.Sellable,
		Status:        string(b.Status),
		OwnerID:       b.OwnerID,
		ProducerID:    b.ProducerID,
		ParentBatchID: b.ParentBatchID,
		AnchorProof:   b.AnchorProof,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
	if b.UnitPrice.Valid {
		price := b.UnitPrice.Decimal
		resp.UnitPrice = &price
	}
	return resp
}

func toBatches(in []domain.Batch) []BatchResponse {
	out := make([]BatchResponse, len(in))
	for i := range in {
		out[i] = toBatch(&in[i])
	}
	return out
}

type CreateOrderRequest struct {
	RequestID string          `json:"request_id"`
	BatchID   string          `json:"batch_id"`
	BuyerID   string          `json:"buyer_id"`
	SellerID  string          `json:"seller_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type OrderResponse struct {
	ID             string          `json:"id"`
	BatchID        string          `json:"batch_id"`
	BuyerID        string          `json:"buyer_id"`
	SellerID       string          `json:"seller_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	TotalPrice     decimal.Decimal `json:"total_price"`
	Status         string          `json:"status"`
	AnchorProof    string          `json:"anchor_proof,omitempty"`
	DerivedBatchID string          `json:"derived_batch_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	AcceptedAt     *time.Time      `json:"accepted_at,omitempty"`
	RejectedAt     *time.Time      `json:"rejected_at,omitempty"`
	ShippedAt      *time.Time      `json:"shipped_at,omitempty"`
	DeliveredAt    *time.Time      `json:"delivered_at,omitempty"`
}

func toOrder(o *domain.Order) OrderResponse {
	return OrderResponse{
		ID:             o.ID,
		BatchID:        o.BatchID,
		BuyerID:        o.BuyerID,
		SellerID:       o.SellerID,
		Quantity:       o.Quantity,
		UnitPrice:      o.UnitPrice,
		TotalPrice:     o.TotalPrice,
		Status:         string(o.Status),
		AnchorProof:    o.AnchorProof,
		DerivedBatchID: o.DerivedBatchID,
		CreatedAt:      o.CreatedAt,
		AcceptedAt:     o.AcceptedAt,
		RejectedAt:     o.RejectedAt,
		ShippedAt:      o.ShippedAt,
		DeliveredAt:    o.DeliveredAt,
	}
}

func toOrders(in []domain.Order) []OrderResponse {
	out := make([]OrderResponse, len(in))
	for i := range in {
		out[i] = toOrder(&in[i])
	}
	return out
}

type ShipmentRequest struct {
	Location      string `json:"location"`
	TransportMode string `json:"transport_mode"`
	Carrier       string `json:"carrier"`
}

type ConditionRequest struct {
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
}

type ShipmentResponse struct {
	ID                string     `json:"id"`
	OrderID           string     `json:"order_id"`
	TrackingNumber    string     `json:"tracking_number"`
	Carrier           string     `json:"carrier,omitempty"`
	TransportMode     string     `json:"transport_mode,omitempty"`
	Location          string     `json:"location"`
	Status            string     `json:"status"`
	Temperature       *float64   `json:"temperature,omitempty"`
	Humidity          *float64   `json:"humidity,omitempty"`
	LastSensorUpdate  *time.Time `json:"last_sensor_update,omitempty"`
	EstimatedDelivery time.Time  `json:"estimated_delivery"`
	ActualDelivery    *time.Time `json:"actual_delivery,omitempty"`
}

func toShipment(s *domain.Shipment) ShipmentResponse {
	return ShipmentResponse{
		ID:                s.ID,
		OrderID:           s.OrderID,
		TrackingNumber:    s.TrackingNumber,
		Carrier:           s.Carrier,
		TransportMode:     s.TransportMode,
		Location:          s.Location,
		Status:            string(s.Status),
		Temperature:       s.Temperature,
		Humidity:          s.Humidity,
		LastSensorUpdate:  s.LastSensorUpdate,
		EstimatedDelivery: s.EstimatedDelivery,
		ActualDelivery:    s.ActualDelivery,
	}
}

type PaymentRequest struct {
	Method string          `json:"method"`
	Amount decimal.Decimal `json:"amount"`
}

type PaymentResponse struct {
	ID            string          `json:"id"`
	OrderID       string          `json:"order_id"`
	Amount        decimal.Decimal `json:"amount"`
	Method        string          `json:"method"`
	Gateway       string          `json:"gateway"`
	TransactionID string          `json:"transaction_id"`
	Status        string          `json:"status"`
	InitiatedAt   time.Time       `json:"initiated_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

func toPayment(p *domain.Payment) PaymentResponse {
	return PaymentResponse{
		ID:            p.ID,
		OrderID:       p.OrderID,
		Amount:        p.Amount,
		Method:        p.Method,
		Gateway:       p.Gateway,
		TransactionID: p.TransactionID,
		Status:        string(p.Status),
		InitiatedAt:   p.InitiatedAt,
		CompletedAt:   p.CompletedAt,
	}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
