package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"ordersaga/application/saga"
	"ordersaga/domain/event"
	"ordersaga/domain/order"
	"ordersaga/infrastructure/outbox"
)

// OrderRepository persists orders, their saga logs and outgoing events in
// the order service database.
type OrderRepository struct {
	db     *sql.DB
	outbox *outbox.Store
}

func NewOrderRepository(db *sql.DB, ob *outbox.Store) *OrderRepository {
	return &OrderRepository{db: db, outbox: ob}
}

func (r *OrderRepository) WithinTx(ctx context.Context, fn func(tx saga.Tx) error) error {
	dbtx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(&orderTx{tx: dbtx, outbox: r.outbox}); err != nil {
		dbtx.Rollback()
		return err
	}
	if err := dbtx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const orderColumns = `id, customer_id, status, current_step, items, total_amount,
	shipping_address, correlation_id, reservation_id, transaction_id, shipping_id,
	error_message, created_at, updated_at`

func (r *OrderRepository) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return scanOrder(row)
}

func (r *OrderRepository) ListOrders(ctx context.Context, limit int) ([]*order.Order, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []*order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (r *OrderRepository) ListSagaLogs(ctx context.Context, orderID string) ([]order.SagaLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, correlation_id, step, event_type, event_id, status, event_data, error_message, created_at
		FROM saga_logs
		WHERE order_id = $1
		ORDER BY created_at ASC`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list saga logs: %w", err)
	}
	defer rows.Close()

	var logs []order.SagaLog
	for rows.Next() {
		var l order.SagaLog
		var step, eventType, status string
		var eventData []byte
		if err := rows.Scan(&l.ID, &l.OrderID, &l.CorrelationID, &step, &eventType, &l.EventID, &status, &eventData, &l.ErrorMessage, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan saga log: %w", err)
		}
		l.Step = order.Step(step)
		l.EventType = event.Type(eventType)
		l.Status = order.LogStatus(status)
		l.EventData = eventData
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

type orderTx struct {
	tx     *sql.Tx
	outbox *outbox.Store
}

func (t *orderTx) InsertOrder(o *order.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return err
	}
	address, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(`
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		o.ID, o.CustomerID, string(o.Status), string(o.CurrentStep), items, o.TotalAmount,
		address, o.CorrelationID, o.ReservationID, o.TransactionID, o.ShippingID,
		o.ErrorMessage, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func (t *orderTx) GetOrderForUpdate(id string) (*order.Order, error) {
	row := t.tx.QueryRow(`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
	return scanOrder(row)
}

func (t *orderTx) UpdateOrder(o *order.Order) error {
	_, err := t.tx.Exec(`
		UPDATE orders
		SET status = $2, current_step = $3, reservation_id = $4, transaction_id = $5,
		    shipping_id = $6, error_message = $7, updated_at = $8
		WHERE id = $1`,
		o.ID, string(o.Status), string(o.CurrentStep), o.ReservationID, o.TransactionID,
		o.ShippingID, o.ErrorMessage, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	return nil
}

func (t *orderTx) AppendSagaLog(l order.SagaLog) error {
	var eventData any
	if len(l.EventData) > 0 {
		eventData = l.EventData
	}
	_, err := t.tx.Exec(`
		INSERT INTO saga_logs (id, order_id, correlation_id, step, event_type, event_id, status, event_data, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		l.ID, l.OrderID, l.CorrelationID, string(l.Step), string(l.EventType), l.EventID, string(l.Status), eventData, l.ErrorMessage, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append saga log: %w", err)
	}
	return nil
}

func (t *orderTx) AppendEvent(evt event.Event) error {
	return t.outbox.AppendTx(t.tx, evt)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*order.Order, error) {
	var o order.Order
	var status, step string
	var items, address []byte
	err := row.Scan(&o.ID, &o.CustomerID, &status, &step, &items, &o.TotalAmount,
		&address, &o.CorrelationID, &o.ReservationID, &o.TransactionID, &o.ShippingID,
		&o.ErrorMessage, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}
	o.Status = order.Status(status)
	o.CurrentStep = order.Step(step)
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("failed to decode order items: %w", err)
	}
	if err := json.Unmarshal(address, &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("failed to decode shipping address: %w", err)
	}
	return &o, nil
}
