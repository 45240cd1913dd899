package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	appinventory "ordersaga/application/inventory"
	"ordersaga/domain/event"
	"ordersaga/domain/inventory"
	"ordersaga/infrastructure/outbox"
)

// InventoryRepository persists products, reservations and outgoing events
// in the inventory service database.
type InventoryRepository struct {
	db     *sql.DB
	outbox *outbox.Store
}

func NewInventoryRepository(db *sql.DB, ob *outbox.Store) *InventoryRepository {
	return &InventoryRepository{db: db, outbox: ob}
}

func (r *InventoryRepository) WithinTx(ctx context.Context, fn func(tx appinventory.Tx) error) error {
	dbtx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(&inventoryTx{tx: dbtx, outbox: r.outbox}); err != nil {
		dbtx.Rollback()
		return err
	}
	if err := dbtx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const productColumns = `id, name, description, price, available_quantity, reserved_quantity, created_at, updated_at`

func (r *InventoryRepository) GetProduct(ctx context.Context, id string) (*inventory.Product, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	return scanProduct(row)
}

func (r *InventoryRepository) ListProducts(ctx context.Context) ([]*inventory.Product, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var products []*inventory.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (r *InventoryRepository) InsertProduct(ctx context.Context, p *inventory.Product) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.Name, p.Description, p.Price, p.AvailableQuantity, p.ReservedQuantity, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert product: %w", err)
	}
	return nil
}

func (r *InventoryRepository) CountProducts(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}
	return count, nil
}

func (r *InventoryRepository) GetReservationByOrderID(ctx context.Context, orderID string) (*inventory.Reservation, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, order_id, correlation_id, status, items, created_at, released_at
		FROM reservations WHERE order_id = $1`,
		orderID,
	)
	return scanReservation(row)
}

type inventoryTx struct {
	tx     *sql.Tx
	outbox *outbox.Store
}

func (t *inventoryTx) GetReservationForUpdate(orderID string) (*inventory.Reservation, error) {
	row := t.tx.QueryRow(`
		SELECT id, order_id, correlation_id, status, items, created_at, released_at
		FROM reservations WHERE order_id = $1 FOR UPDATE`,
		orderID,
	)
	return scanReservation(row)
}

func (t *inventoryTx) InsertReservation(res *inventory.Reservation) error {
	items, err := json.Marshal(res.Items)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(`
		INSERT INTO reservations (id, order_id, correlation_id, status, items, created_at, released_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		res.ID, res.OrderID, res.CorrelationID, string(res.Status), items, res.CreatedAt, res.ReleasedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert reservation: %w", err)
	}
	return nil
}

func (t *inventoryTx) UpdateReservation(res *inventory.Reservation) error {
	_, err := t.tx.Exec(`
		UPDATE reservations SET status = $2, released_at = $3 WHERE id = $1`,
		res.ID, string(res.Status), res.ReleasedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update reservation: %w", err)
	}
	return nil
}

func (t *inventoryTx) ProductAvailability(productIDs []string) (map[string]int, error) {
	rows, err := t.tx.Query(`
		SELECT id, available_quantity FROM products WHERE id = ANY($1) FOR UPDATE`,
		pq.Array(productIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query availability: %w", err)
	}
	defer rows.Close()

	availability := make(map[string]int, len(productIDs))
	for rows.Next() {
		var id string
		var available int
		if err := rows.Scan(&id, &available); err != nil {
			return nil, fmt.Errorf("failed to scan availability: %w", err)
		}
		availability[id] = available
	}
	return availability, rows.Err()
}

func (t *inventoryTx) ReserveStock(productID string, qty int) error {
	res, err := t.tx.Exec(`
		UPDATE products
		SET available_quantity = available_quantity - $2,
		    reserved_quantity = reserved_quantity + $2,
		    updated_at = NOW()
		WHERE id = $1 AND available_quantity >= $2`,
		productID, qty,
	)
	if err != nil {
		return fmt.Errorf("failed to reserve stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("insufficient stock for product %s", productID)
	}
	return nil
}

func (t *inventoryTx) ReleaseStock(productID string, qty int) error {
	res, err := t.tx.Exec(`
		UPDATE products
		SET available_quantity = available_quantity + $2,
		    reserved_quantity = reserved_quantity - $2,
		    updated_at = NOW()
		WHERE id = $1 AND reserved_quantity >= $2`,
		productID, qty,
	)
	if err != nil {
		return fmt.Errorf("failed to release stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("reserved quantity below release for product %s", productID)
	}
	return nil
}

func (t *inventoryTx) AppendEvent(evt event.Event) error {
	return t.outbox.AppendTx(t.tx, evt)
}

func scanProduct(row rowScanner) (*inventory.Product, error) {
	var p inventory.Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.AvailableQuantity, &p.ReservedQuantity, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan product: %w", err)
	}
	return &p, nil
}

func scanReservation(row rowScanner) (*inventory.Reservation, error) {
	var res inventory.Reservation
	var status string
	var items []byte
	err := row.Scan(&res.ID, &res.OrderID, &res.CorrelationID, &status, &items, &res.CreatedAt, &res.ReleasedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan reservation: %w", err)
	}
	res.Status = inventory.ReservationStatus(status)
	if err := json.Unmarshal(items, &res.Items); err != nil {
		return nil, fmt.Errorf("failed to decode reservation items: %w", err)
	}
	return &res, nil
}
