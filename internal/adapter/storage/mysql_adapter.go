package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"github.com/rl1809/crop-exchange/internal/core/domain"
	"github.com/rl1809/crop-exchange/internal/port"
)

const mysqlDuplicateEntry = 1062

// sqlExecutor is satisfied by both *sql.DB and *sql.Tx.
type sqlExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// mysqlQueries runs every statement against db. Inside a transaction lock
// is " FOR UPDATE" so that reads pin the row until commit.
type mysqlQueries struct {
	db   sqlExecutor
	lock string
}

type MySQLAdapter struct {
	mysqlQueries
	conn *sql.DB
}

var _ port.DatabaseRepository = (*MySQLAdapter)(nil)

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{mysqlQueries: mysqlQueries{db: db}, conn: db}
}

func (m *MySQLAdapter) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	tx, err := m.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &mysqlQueries{db: tx, lock: " FOR UPDATE"}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isDuplicate(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry
}

func notFound(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", domain.ErrNotFound, what, id)
	}
	return fmt.Errorf("query %s: %w", what, err)
}

func affected(result sql.Result) (bool, error) {
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (q *mysqlQueries) GetBatch(ctx context.Context, id string) (*domain.Batch, error) {
	b, err := scanBatch(q.db.QueryRowContext(ctx,
		`SELECT `+batchColumns+` FROM batches WHERE id = ?`+q.lock, id))
	if err != nil {
		return nil, notFound(err, "batch", id)
	}
	return b, nil
}

func (q *mysqlQueries) InsertBatch(ctx context.Context, b domain.Batch) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO batches (`+batchColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Name, b.Unit, b.Quantity, b.Available, b.UnitPrice, b.Sellable, b.Status,
		b.OwnerID, b.ProducerID, b.ParentBatchID, b.AnchorProof, b.Version, b.CreatedAt, b.UpdatedAt,
	)
	if isDuplicate(err) {
		return fmt.Errorf("%w: batch %s exists", domain.ErrConflict, b.ID)
	}
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

func (q *mysqlQueries) DecrementAvailable(ctx context.Context, id string, qty decimal.Decimal) (bool, error) {
	result, err := q.db.ExecContext(ctx, `
		UPDATE batches
		SET available = available - ?, version = version + 1, updated_at = NOW()
		WHERE id = ? AND sellable = TRUE AND available >= ?`,
		qty, id, qty,
	)
	if err != nil {
		return false, fmt.Errorf("update batch: %w", err)
	}
	return affected(result)
}

func (q *mysqlQueries) IncrementAvailable(ctx context.Context, id string, qty decimal.Decimal) (bool, error) {
	result, err := q.db.ExecContext(ctx, `
		UPDATE batches
		SET available = available + ?, version = version + 1, updated_at = NOW()
		WHERE id = ? AND available + ? <= quantity`,
		qty, id, qty,
	)
	if err != nil {
		return false, fmt.Errorf("update batch: %w", err)
	}
	return affected(result)
}

func (q *mysqlQueries) MarkDepleted(ctx context.Context, id string) (bool, error) {
	result, err := q.db.ExecContext(ctx, `
		UPDATE batches
		SET sellable = FALSE, status = ?, version = version + 1, updated_at = NOW()
		WHERE id = ? AND available <= 0`,
		domain.BatchStatusSoldOut, id,
	)
	if err != nil {
		return false, fmt.Errorf("update batch: %w", err)
	}
	return affected(result)
}

func (q *mysqlQueries) UpdateBatch(ctx context.Context, b domain.Batch) error {
	result, err := q.db.ExecContext(ctx, `
		UPDATE batches
		SET available = ?, unit_price = ?, sellable = ?, status = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		b.Available, b.UnitPrice, b.Sellable, b.Status, b.UpdatedAt, b.ID, b.Version,
	)
	if err != nil {
		return fmt.Errorf("update batch: %w", err)
	}

	ok, err := affected(result)
	if err != nil {
		return err
	}
	if !ok {
		return ErrOptimisticLock
	}
	return nil
}

func (q *mysqlQueries) SetBatchProof(ctx context.Context, id, proof string) error {
	_, err := q.db.ExecContext(ctx, `UPDATE batches SET anchor_proof = ? WHERE id = ?`, proof, id)
	if err != nil {
		return fmt.Errorf("update batch proof: %w", err)
	}
	return nil
}

func (q *mysqlQueries) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	o, err := scanOrder(q.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = ?`+q.lock, id))
	if err != nil {
		return nil, notFound(err, "order", id)
	}
	return o, nil
}

func (q *mysqlQueries) InsertOrder(ctx context.Context, o domain.Order) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.BatchID, o.BuyerID, o.SellerID, o.Quantity, o.UnitPrice, o.TotalPrice, o.Status,
		o.AnchorProof, o.DerivedBatchID, o.CreatedAt, o.AcceptedAt, o.RejectedAt, o.ShippedAt,
		o.DeliveredAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (q *mysqlQueries) UpdateOrderStatus(ctx context.Context, o domain.Order, from domain.OrderStatus) (bool, error) {
	result, err := q.db.ExecContext(ctx, `
		UPDATE orders
		SET status = ?, derived_batch_id = ?, accepted_at = ?, rejected_at = ?, shipped_at = ?,
			delivered_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		o.Status, o.DerivedBatchID, o.AcceptedAt, o.RejectedAt, o.ShippedAt,
		o.DeliveredAt, o.UpdatedAt, o.ID, from,
	)
	if err != nil {
		return false, fmt.Errorf("update order: %w", err)
	}
	return affected(result)
}

func (q *mysqlQueries) SetOrderProof(ctx context.Context, id, proof string) error {
	_, err := q.db.ExecContext(ctx, `UPDATE orders SET anchor_proof = ? WHERE id = ?`, proof, id)
	if err != nil {
		return fmt.Errorf("update order proof: %w", err)
	}
	return nil
}

func (q *mysqlQueries) GetShipment(ctx context.Context, id string) (*domain.Shipment, error) {
	s, err := scanShipment(q.db.QueryRowContext(ctx,
		`SELECT `+shipmentColumns+` FROM shipments WHERE id = ?`+q.lock, id))
	if err != nil {
		return nil, notFound(err, "shipment", id)
	}
	return s, nil
}

func (q *mysqlQueries) GetShipmentByOrder(ctx context.Context, orderID string) (*domain.Shipment, error) {
	s, err := scanShipment(q.db.QueryRowContext(ctx,
		`SELECT `+shipmentColumns+` FROM shipments WHERE order_id = ?`+q.lock, orderID))
	if err != nil {
		return nil, notFound(err, "shipment for order", orderID)
	}
	return s, nil
}

func (q *mysqlQueries) GetShipmentByTracking(ctx context.Context, trackingNumber string) (*domain.Shipment, error) {
	s, err := scanShipment(q.db.QueryRowContext(ctx,
		`SELECT `+shipmentColumns+` FROM shipments WHERE tracking_number = ?`, trackingNumber))
	if err != nil {
		return nil, notFound(err, "tracking number", trackingNumber)
	}
	return s, nil
}

func (q *mysqlQueries) InsertShipment(ctx context.Context, s domain.Shipment) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO shipments (`+shipmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.OrderID, s.TrackingNumber, s.Carrier, s.TransportMode, s.Location, s.Status,
		s.Temperature, s.Humidity, s.LastSensorUpdate, s.EstimatedDelivery, s.ActualDelivery,
		s.CreatedAt, s.UpdatedAt,
	)
	if isDuplicate(err) {
		return fmt.Errorf("%w: order %s already has a shipment", domain.ErrConflict, s.OrderID)
	}
	if err != nil {
		return fmt.Errorf("insert shipment: %w", err)
	}
	return nil
}

func (q *mysqlQueries) UpdateShipment(ctx context.Context, s domain.Shipment) error {
	result, err := q.db.ExecContext(ctx, `
		UPDATE shipments
		SET location = ?, status = ?, temperature = ?, humidity = ?, last_sensor_update = ?,
			actual_delivery = ?, updated_at = ?
		WHERE id = ?`,
		s.Location, s.Status, s.Temperature, s.Humidity, s.LastSensorUpdate,
		s.ActualDelivery, s.UpdatedAt, s.ID,
	)
	if err != nil {
		return fmt.Errorf("update shipment: %w", err)
	}
	ok, err := affected(result)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: shipment %s", domain.ErrNotFound, s.ID)
	}
	return nil
}

func (q *mysqlQueries) GetPaymentByOrder(ctx context.Context, orderID string) (*domain.Payment, error) {
	p, err := scanPayment(q.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE order_id = ?`, orderID))
	if err != nil {
		return nil, notFound(err, "payment for order", orderID)
	}
	return p, nil
}

func (q *mysqlQueries) InsertPayment(ctx context.Context, p domain.Payment) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.OrderID, p.Amount, p.Method, p.Gateway, p.TransactionID, p.Status,
		p.InitiatedAt, p.CompletedAt,
	)
	if isDuplicate(err) {
		return fmt.Errorf("%w: order %s", domain.ErrAlreadyPaid, p.OrderID)
	}
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (q *mysqlQueries) GetParty(ctx context.Context, id string) (*domain.Party, error) {
	p, err := scanParty(q.db.QueryRowContext(ctx,
		`SELECT `+partyColumns+` FROM parties WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "party", id)
	}
	return p, nil
}

func (q *mysqlQueries) InsertParty(ctx context.Context, p domain.Party) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO parties (`+partyColumns+`) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Role, p.WalletAddress, p.CreatedAt,
	)
	if isDuplicate(err) {
		return fmt.Errorf("%w: party %s exists", domain.ErrConflict, p.ID)
	}
	if err != nil {
		return fmt.Errorf("insert party: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) ListBatchesByOwner(ctx context.Context, ownerID string) ([]domain.Batch, error) {
	return m.listBatches(ctx, `WHERE owner_id = ? ORDER BY created_at`, ownerID)
}

func (m *MySQLAdapter) ListMarketplace(ctx context.Context) ([]domain.Batch, error) {
	return m.listBatches(ctx, `WHERE sellable = TRUE ORDER BY created_at`)
}

func (m *MySQLAdapter) ListPendingBatchProofs(ctx context.Context, limit int) ([]domain.Batch, error) {
	return m.listBatches(ctx, `WHERE anchor_proof LIKE ? ORDER BY created_at LIMIT ?`, pendingProofPattern, limit)
}

func (m *MySQLAdapter) listBatches(ctx context.Context, where string, args ...any) ([]domain.Batch, error) {
	rows, err := m.conn.QueryContext(ctx, `SELECT `+batchColumns+` FROM batches `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	var out []domain.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (m *MySQLAdapter) ListOrdersByParty(ctx context.Context, partyID string) ([]domain.Order, error) {
	return m.listOrders(ctx, `WHERE buyer_id = ? OR seller_id = ? ORDER BY created_at`, partyID, partyID)
}

func (m *MySQLAdapter) ListPendingOrderProofs(ctx context.Context, limit int) ([]domain.Order, error) {
	return m.listOrders(ctx, `WHERE anchor_proof LIKE ? ORDER BY created_at LIMIT ?`, pendingProofPattern, limit)
}

func (m *MySQLAdapter) ReplacePendingOrderProof(ctx context.Context, id, proof string) (bool, error) {
	result, err := m.conn.ExecContext(ctx,
		`UPDATE orders SET anchor_proof = ? WHERE id = ? AND anchor_proof LIKE ?`, proof, id, pendingProofPattern)
	if err != nil {
		return false, fmt.Errorf("replace order proof: %w", err)
	}
	return affected(result)
}

func (m *MySQLAdapter) ReplacePendingBatchProof(ctx context.Context, id, proof string) (bool, error) {
	result, err := m.conn.ExecContext(ctx,
		`UPDATE batches SET anchor_proof = ? WHERE id = ? AND anchor_proof LIKE ?`, proof, id, pendingProofPattern)
	if err != nil {
		return false, fmt.Errorf("replace batch proof: %w", err)
	}
	return affected(result)
}

func (m *MySQLAdapter) listOrders(ctx context.Context, where string, args ...any) ([]domain.Order, error) {
	rows, err := m.conn.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (m *MySQLAdapter) ListShipments(ctx context.Context, status domain.ShipmentStatus) ([]domain.Shipment, error) {
	query := `SELECT ` + shipmentColumns + ` FROM shipments`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	rows, err := m.conn.QueryContext(ctx, query+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("query shipments: %w", err)
	}
	defer rows.Close()

	var out []domain.Shipment
	for rows.Next() {
		s, err := scanShipment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan shipment: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// Migrate creates the tables when they do not exist yet.
func (m *MySQLAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range mysqlSchema {
		if _, err := m.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS parties (
		id VARCHAR(36) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		role VARCHAR(32) NOT NULL,
		wallet_address VARCHAR(128) NOT NULL DEFAULT '',
		created_at DATETIME(3) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS batches (
		id VARCHAR(36) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		unit VARCHAR(32) NOT NULL DEFAULT '',
		quantity DECIMAL(20,4) NOT NULL,
		available DECIMAL(20,4) NOT NULL,
		unit_price DECIMAL(20,4) NULL,
		sellable BOOLEAN NOT NULL DEFAULT FALSE,
		status VARCHAR(32) NOT NULL,
		owner_id VARCHAR(36) NOT NULL,
		producer_id VARCHAR(36) NOT NULL,
		parent_batch_id VARCHAR(36) NOT NULL DEFAULT '',
		anchor_proof VARCHAR(255) NOT NULL DEFAULT '',
		version INT NOT NULL DEFAULT 0,
		created_at DATETIME(3) NOT NULL,
		updated_at DATETIME(3) NOT NULL,
		INDEX idx_batches_owner (owner_id),
		CONSTRAINT chk_batches_available CHECK (available >= 0 AND available <= quantity)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id VARCHAR(36) PRIMARY KEY,
		batch_id VARCHAR(36) NOT NULL,
		buyer_id VARCHAR(36) NOT NULL,
		seller_id VARCHAR(36) NOT NULL,
		quantity DECIMAL(20,4) NOT NULL,
		unit_price DECIMAL(20,4) NOT NULL,
		total_price DECIMAL(20,4) NOT NULL,
		status VARCHAR(32) NOT NULL,
		anchor_proof VARCHAR(255) NOT NULL DEFAULT '',
		derived_batch_id VARCHAR(36) NOT NULL DEFAULT '',
		created_at DATETIME(3) NOT NULL,
		accepted_at DATETIME(3) NULL,
		rejected_at DATETIME(3) NULL,
		shipped_at DATETIME(3) NULL,
		delivered_at DATETIME(3) NULL,
		updated_at DATETIME(3) NOT NULL,
		INDEX idx_orders_buyer (buyer_id),
		INDEX idx_orders_seller (seller_id)
	)`,
	`CREATE TABLE IF NOT EXISTS shipments (
		id VARCHAR(36) PRIMARY KEY,
		order_id VARCHAR(36) NOT NULL UNIQUE,
		tracking_number VARCHAR(32) NOT NULL UNIQUE,
		carrier VARCHAR(255) NOT NULL DEFAULT '',
		transport_mode VARCHAR(32) NOT NULL DEFAULT '',
		location VARCHAR(255) NOT NULL,
		status VARCHAR(32) NOT NULL,
		temperature DOUBLE NULL,
		humidity DOUBLE NULL,
		last_sensor_update DATETIME(3) NULL,
		estimated_delivery DATETIME(3) NOT NULL,
		actual_delivery DATETIME(3) NULL,
		created_at DATETIME(3) NOT NULL,
		updated_at DATETIME(3) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS payments (
		id VARCHAR(36) PRIMARY KEY,
		order_id VARCHAR(36) NOT NULL UNIQUE,
		amount DECIMAL(20,4) NOT NULL,
		method VARCHAR(32) NOT NULL,
		gateway VARCHAR(64) NOT NULL,
		transaction_id VARCHAR(128) NOT NULL,
		status VARCHAR(32) NOT NULL,
		initiated_at DATETIME(3) NOT NULL,
		completed_at DATETIME(3) NULL
	)`,
}
