package storage

import (
	"errors"

	"github.com/rl1809/crop-exchange/internal/core/domain"
)

var ErrOptimisticLock = errors.New("optimistic lock conflict")

// Column lists shared by the MySQL and PostgreSQL adapters. The scan
// helpers below read them in this exact order.
const (
	batchColumns = `id, name, unit, quantity, available, unit_price, sellable, status,
		owner_id, producer_id, parent_batch_id, anchor_proof, version, created_at, updated_at`

	orderColumns = `id, batch_id, buyer_id, seller_id, quantity, unit_price, total_price, status,
		anchor_proof, derived_batch_id, created_at, accepted_at, rejected_at, shipped_at, delivered_at, updated_at`

	shipmentColumns = `id, order_id, tracking_number, carrier, transport_mode, location, status,
		temperature, humidity, last_sensor_update, estimated_delivery, actual_delivery,
		created_at, updated_at`

	paymentColumns = `id, order_id, amount, method, gateway, transaction_id, status, initiated_at, completed_at`

	partyColumns = `id, name, role, wallet_address, created_at`
)

// rowScanner is satisfied by *sql.Row, *sql.Rows and pgx.Row.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (*domain.Batch, error) {
	var b domain.Batch
	var status string
	err := row.Scan(
		&b.ID, &b.Name, &b.Unit, &b.Quantity, &b.Available, &b.UnitPrice, &b.Sellable, &status,
		&b.OwnerID, &b.ProducerID, &b.ParentBatchID, &b.AnchorProof, &b.Version, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.Status = domain.BatchStatus(status)
	return &b, nil
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var o domain.Order
	var status string
	err := row.Scan(
		&o.ID, &o.BatchID, &o.BuyerID, &o.SellerID, &o.Quantity, &o.UnitPrice, &o.TotalPrice, &status,
		&o.AnchorProof, &o.DerivedBatchID, &o.CreatedAt, &o.AcceptedAt, &o.RejectedAt, &o.ShippedAt,
		&o.DeliveredAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Status = domain.OrderStatus(status)
	return &o, nil
}

func scanShipment(row rowScanner) (*domain.Shipment, error) {
	var s domain.Shipment
	var status string
	err := row.Scan(
		&s.ID, &s.OrderID, &s.TrackingNumber, &s.Carrier, &s.TransportMode, &s.Location, &status,
		&s.Temperature, &s.Humidity, &s.LastSensorUpdate, &s.EstimatedDelivery, &s.ActualDelivery,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Status = domain.ShipmentStatus(status)
	return &s, nil
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var p domain.Payment
	var status string
	err := row.Scan(
		&p.ID, &p.OrderID, &p.Amount, &p.Method, &p.Gateway, &p.TransactionID, &status,
		&p.InitiatedAt, &p.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = domain.PaymentStatus(status)
	return &p, nil
}

func scanParty(row rowScanner) (*domain.Party, error) {
	var p domain.Party
	var role string
	if err := row.Scan(&p.ID, &p.Name, &role, &p.WalletAddress, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Role = domain.Role(role)
	return &p, nil
}

const pendingProofPattern = "PENDING\\_RETRY\\_%"
