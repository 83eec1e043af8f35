package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/rl1809/crop-exchange/internal/core/domain"
	"github.com/rl1809/crop-exchange/internal/port"
)

const pgUniqueViolation = "23505"

// pgExecutor is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgQueries struct {
	db   pgExecutor
	lock string
}

// PostgresAdapter is the pgx-backed store. It mirrors MySQLAdapter statement
// for statement.
type PostgresAdapter struct {
	pgQueries
	pool *pgxpool.Pool
}

var _ port.DatabaseRepository = (*PostgresAdapter)(nil)

func NewPostgresAdapter(pool *pgxpool.Pool) *PostgresAdapter {
	return &PostgresAdapter{pgQueries: pgQueries{db: pool}, pool: pool}
}

func (p *PostgresAdapter) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgQueries{db: tx, lock: " FOR UPDATE"}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func pgNotFound(err error, what, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", domain.ErrNotFound, what, id)
	}
	return fmt.Errorf("query %s: %w", what, err)
}

func (q *pgQueries) GetBatch(ctx context.Context, id string) (*domain.Batch, error) {
	b, err := scanBatch(q.db.QueryRow(ctx,
		`SELECT `+batchColumns+` FROM batches WHERE id = $1`+q.lock, id))
	if err != nil {
		return nil, pgNotFound(err, "batch", id)
	}
	return b, nil
}

func (q *pgQueries) InsertBatch(ctx context.Context, b domain.Batch) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO batches (`+batchColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		b.ID, b.Name, b.Unit, b.Quantity, b.Available, b.UnitPrice, b.Sellable, string(b.Status),
		b.OwnerID, b.ProducerID, b.ParentBatchID, b.AnchorProof, b.Version, b.CreatedAt, b.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: batch %s exists", domain.ErrConflict, b.ID)
	}
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

func (q *pgQueries) DecrementAvailable(ctx context.Context, id string, qty decimal.Decimal) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE batches
		SET available = available - $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND sellable AND available >= $1`,
		qty, id,
	)
	if err != nil {
		return false, fmt.Errorf("update batch: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (q *pgQueries) IncrementAvailable(ctx context.Context, id string, qty decimal.Decimal) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE batches
		SET available = available + $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND available + $1 <= quantity`,
		qty, id,
	)
	if err != nil {
		return false, fmt.Errorf("update batch: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (q *pgQueries) MarkDepleted(ctx context.Context, id string) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE batches
		SET sellable = FALSE, status = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND available <= 0`,
		string(domain.BatchStatusSoldOut), id,
	)
	if err != nil {
		return false, fmt.Errorf("update batch: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (q *pgQueries) UpdateBatch(ctx context.Context, b domain.Batch) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE batches
		SET available = $1, unit_price = $2, sellable = $3, status = $4, version = version + 1, updated_at = $5
		WHERE id = $6 AND version = $7`,
		b.Available, b.UnitPrice, b.Sellable, string(b.Status), b.UpdatedAt, b.ID, b.Version,
	)
	if err != nil {
		return fmt.Errorf("update batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOptimisticLock
	}
	return nil
}

func (q *pgQueries) SetBatchProof(ctx context.Context, id, proof string) error {
	if _, err := q.db.Exec(ctx, `UPDATE batches SET anchor_proof = $1 WHERE id = $2`, proof, id); err != nil {
		return fmt.Errorf("update batch proof: %w", err)
	}
	return nil
}

func (q *pgQueries) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	o, err := scanOrder(q.db.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`+q.lock, id))
	if err != nil {
		return nil, pgNotFound(err, "order", id)
	}
	return o, nil
}

func (q *pgQueries) InsertOrder(ctx context.Context, o domain.Order) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		o.ID, o.BatchID, o.BuyerID, o.SellerID, o.Quantity, o.UnitPrice, o.TotalPrice, string(o.Status),
		o.AnchorProof, o.DerivedBatchID, o.CreatedAt, o.AcceptedAt, o.RejectedAt, o.ShippedAt,
		o.DeliveredAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (q *pgQueries) UpdateOrderStatus(ctx context.Context, o domain.Order, from domain.OrderStatus) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE orders
		SET status = $1, derived_batch_id = $2, accepted_at = $3, rejected_at = $4, shipped_at = $5,
			delivered_at = $6, updated_at = $7
		WHERE id = $8 AND status = $9`,
		string(o.Status), o.DerivedBatchID, o.AcceptedAt, o.RejectedAt, o.ShippedAt,
		o.DeliveredAt, o.UpdatedAt, o.ID, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("update order: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (q *pgQueries) SetOrderProof(ctx context.Context, id, proof string) error {
	if _, err := q.db.Exec(ctx, `UPDATE orders SET anchor_proof = $1 WHERE id = $2`, proof, id); err != nil {
		return fmt.Errorf("update order proof: %w", err)
	}
	return nil
}

func (q *pgQueries) GetShipment(ctx context.Context, id string) (*domain.Shipment, error) {
	s, err := scanShipment(q.db.QueryRow(ctx,
		`SELECT `+shipmentColumns+` FROM shipments WHERE id = $1`+q.lock, id))
	if err != nil {
		return nil, pgNotFound(err, "shipment", id)
	}
	return s, nil
}

func (q *pgQueries) GetShipmentByOrder(ctx context.Context, orderID string) (*domain.Shipment, error) {
	s, err := scanShipment(q.db.QueryRow(ctx,
		`SELECT `+shipmentColumns+` FROM shipments WHERE order_id = $1`+q.lock, orderID))
	if err != nil {
		return nil, pgNotFound(err, "shipment for order", orderID)
	}
	return s, nil
}

func (q *pgQueries) GetShipmentByTracking(ctx context.Context, trackingNumber string) (*domain.Shipment, error) {
	s, err := scanShipment(q.db.QueryRow(ctx,
		`SELECT `+shipmentColumns+` FROM shipments WHERE tracking_number = $1`, trackingNumber))
	if err != nil {
		return nil, pgNotFound(err, "tracking number", trackingNumber)
	}
	return s, nil
}

func (q *pgQueries) InsertShipment(ctx context.Context, s domain.Shipment) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO shipments (`+shipmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		s.ID, s.OrderID, s.TrackingNumber, s.Carrier, s.TransportMode, s.Location, string(s.Status),
		s.Temperature, s.Humidity, s.LastSensorUpdate, s.EstimatedDelivery, s.ActualDelivery,
		s.CreatedAt, s.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: order %s already has a shipment", domain.ErrConflict, s.OrderID)
	}
	if err != nil {
		return fmt.Errorf("insert shipment: %w", err)
	}
	return nil
}

func (q *pgQueries) UpdateShipment(ctx context.Context, s domain.Shipment) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE shipments
		SET location = $1, status = $2, temperature = $3, humidity = $4, last_sensor_update = $5,
			actual_delivery = $6, updated_at = $7
		WHERE id = $8`,
		s.Location, string(s.Status), s.Temperature, s.Humidity, s.LastSensorUpdate,
		s.ActualDelivery, s.UpdatedAt, s.ID,
	)
	if err != nil {
		return fmt.Errorf("update shipment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: shipment %s", domain.ErrNotFound, s.ID)
	}
	return nil
}

func (q *pgQueries) GetPaymentByOrder(ctx context.Context, orderID string) (*domain.Payment, error) {
	p, err := scanPayment(q.db.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE order_id = $1`, orderID))
	if err != nil {
		return nil, pgNotFound(err, "payment for order", orderID)
	}
	return p, nil
}

func (q *pgQueries) InsertPayment(ctx context.Context, p domain.Payment) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.OrderID, p.Amount, p.Method, p.Gateway, p.TransactionID, string(p.Status),
		p.InitiatedAt, p.CompletedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: order %s", domain.ErrAlreadyPaid, p.OrderID)
	}
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (q *pgQueries) GetParty(ctx context.Context, id string) (*domain.Party, error) {
	p, err := scanParty(q.db.QueryRow(ctx,
		`SELECT `+partyColumns+` FROM parties WHERE id = $1`, id))
	if err != nil {
		return nil, pgNotFound(err, "party", id)
	}
	return p, nil
}

func (q *pgQueries) InsertParty(ctx context.Context, p domain.Party) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO parties (`+partyColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.Name, string(p.Role), p.WalletAddress, p.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: party %s exists", domain.ErrConflict, p.ID)
	}
	if err != nil {
		return fmt.Errorf("insert party: %w", err)
	}
	return nil
}

func (p *PostgresAdapter) ListBatchesByOwner(ctx context.Context, ownerID string) ([]domain.Batch, error) {
	return p.listBatches(ctx, `WHERE owner_id = $1 ORDER BY created_at`, ownerID)
}

func (p *PostgresAdapter) ListMarketplace(ctx context.Context) ([]domain.Batch, error) {
	return p.listBatches(ctx, `WHERE sellable ORDER BY created_at`)
}

func (p *PostgresAdapter) ListPendingBatchProofs(ctx context.Context, limit int) ([]domain.Batch, error) {
	return p.listBatches(ctx, `WHERE anchor_proof LIKE $1 ORDER BY created_at LIMIT $2`, pendingProofPattern, limit)
}

func (p *PostgresAdapter) listBatches(ctx context.Context, where string, args ...any) ([]domain.Batch, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+batchColumns+` FROM batches `+where, args...)
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

func (p *PostgresAdapter) ListOrdersByParty(ctx context.Context, partyID string) ([]domain.Order, error) {
	return p.listOrders(ctx, `WHERE buyer_id = $1 OR seller_id = $1 ORDER BY created_at`, partyID)
}

func (p *PostgresAdapter) ListPendingOrderProofs(ctx context.Context, limit int) ([]domain.Order, error) {
	return p.listOrders(ctx, `WHERE anchor_proof LIKE $1 ORDER BY created_at LIMIT $2`, pendingProofPattern, limit)
}

func (p *PostgresAdapter) ReplacePendingOrderProof(ctx context.Context, id, proof string) (bool, error) {
	tag, err := p.pool.Exec(ctx,
		`UPDATE orders SET anchor_proof = $1 WHERE id = $2 AND anchor_proof LIKE $3`, proof, id, pendingProofPattern)
	if err != nil {
		return false, fmt.Errorf("replace order proof: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *PostgresAdapter) ReplacePendingBatchProof(ctx context.Context, id, proof string) (bool, error) {
	tag, err := p.pool.Exec(ctx,
		`UPDATE batches SET anchor_proof = $1 WHERE id = $2 AND anchor_proof LIKE $3`, proof, id, pendingProofPattern)
	if err != nil {
		return false, fmt.Errorf("replace batch proof: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *PostgresAdapter) listOrders(ctx context.Context, where string, args ...any) ([]domain.Order, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders `+where, args...)
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

func (p *PostgresAdapter) ListShipments(ctx context.Context, status domain.ShipmentStatus) ([]domain.Shipment, error) {
	query := `SELECT ` + shipmentColumns + ` FROM shipments`
	var args []any
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	rows, err := p.pool.Query(ctx, query+` ORDER BY created_at`, args...)
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
func (p *PostgresAdapter) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS parties (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	role TEXT NOT NULL,
	wallet_address TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS batches (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	unit TEXT NOT NULL DEFAULT '',
	quantity NUMERIC(20,4) NOT NULL,
	available NUMERIC(20,4) NOT NULL CHECK (available >= 0 AND available <= quantity),
	unit_price NUMERIC(20,4),
	sellable BOOLEAN NOT NULL DEFAULT FALSE,
	status TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	producer_id TEXT NOT NULL,
	parent_batch_id TEXT NOT NULL DEFAULT '',
	anchor_proof TEXT NOT NULL DEFAULT '',
	version INT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
	id TEXT PRIMARY KEY,
	batch_id TEXT NOT NULL,
	buyer_id TEXT NOT NULL,
	seller_id TEXT NOT NULL,
	quantity NUMERIC(20,4) NOT NULL,
	unit_price NUMERIC(20,4) NOT NULL,
	total_price NUMERIC(20,4) NOT NULL,
	status TEXT NOT NULL,
	anchor_proof TEXT NOT NULL DEFAULT '',
	derived_batch_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	accepted_at TIMESTAMPTZ,
	rejected_at TIMESTAMPTZ,
	shipped_at TIMESTAMPTZ,
	delivered_at TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS shipments (
	id TEXT PRIMARY KEY,
	order_id TEXT NOT NULL UNIQUE,
	tracking_number TEXT NOT NULL UNIQUE,
	carrier TEXT NOT NULL DEFAULT '',
	transport_mode TEXT NOT NULL DEFAULT '',
	location TEXT NOT NULL,
	status TEXT NOT NULL,
	temperature DOUBLE PRECISION,
	humidity DOUBLE PRECISION,
	last_sensor_update TIMESTAMPTZ,
	estimated_delivery TIMESTAMPTZ NOT NULL,
	actual_delivery TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS payments (
	id TEXT PRIMARY KEY,
	order_id TEXT NOT NULL UNIQUE,
	amount NUMERIC(20,4) NOT NULL,
	method TEXT NOT NULL,
	gateway TEXT NOT NULL,
	transaction_id TEXT NOT NULL,
	status TEXT NOT NULL,
	initiated_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_batches_owner ON batches(owner_id);
CREATE INDEX IF NOT EXISTS idx_orders_buyer ON orders(buyer_id);
CREATE INDEX IF NOT EXISTS idx_orders_seller ON orders(seller_id);
`
