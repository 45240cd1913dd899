package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	appshipping "ordersaga/application/shipping"
	"ordersaga/domain/event"
	"ordersaga/domain/shipping"
	"ordersaga/infrastructure/outbox"
)

// ShippingRepository persists shipments and outgoing events in the
// shipping service database.
type ShippingRepository struct {
	db     *sql.DB
	outbox *outbox.Store
}

func NewShippingRepository(db *sql.DB, ob *outbox.Store) *ShippingRepository {
	return &ShippingRepository{db: db, outbox: ob}
}

func (r *ShippingRepository) WithinTx(ctx context.Context, fn func(tx appshipping.Tx) error) error {
	dbtx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(&shippingTx{tx: dbtx, outbox: r.outbox}); err != nil {
		dbtx.Rollback()
		return err
	}
	if err := dbtx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const shipmentColumns = `id, order_id, correlation_id, status, tracking_number, shipping_address,
	estimated_delivery, created_at, dispatched_at, delivered_at`

func (r *ShippingRepository) GetShipmentByOrderID(ctx context.Context, orderID string) (*shipping.Shipment, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE order_id = $1`, orderID)
	return scanShipment(row)
}

type shippingTx struct {
	tx     *sql.Tx
	outbox *outbox.Store
}

func (t *shippingTx) GetShipmentForUpdate(orderID string) (*shipping.Shipment, error) {
	row := t.tx.QueryRow(`SELECT `+shipmentColumns+` FROM shipments WHERE order_id = $1 FOR UPDATE`, orderID)
	return scanShipment(row)
}

func (t *shippingTx) InsertShipment(sh *shipping.Shipment) error {
	address, err := json.Marshal(sh.ShippingAddress)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(`
		INSERT INTO shipments (`+shipmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		sh.ID, sh.OrderID, sh.CorrelationID, string(sh.Status), sh.TrackingNumber, address,
		sh.EstimatedDelivery, sh.CreatedAt, sh.DispatchedAt, sh.DeliveredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert shipment: %w", err)
	}
	return nil
}

func (t *shippingTx) AppendEvent(evt event.Event) error {
	return t.outbox.AppendTx(t.tx, evt)
}

func scanShipment(row rowScanner) (*shipping.Shipment, error) {
	var sh shipping.Shipment
	var status string
	var address []byte
	err := row.Scan(&sh.ID, &sh.OrderID, &sh.CorrelationID, &status, &sh.TrackingNumber, &address,
		&sh.EstimatedDelivery, &sh.CreatedAt, &sh.DispatchedAt, &sh.DeliveredAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan shipment: %w", err)
	}
	sh.Status = shipping.Status(status)
	if err := json.Unmarshal(address, &sh.ShippingAddress); err != nil {
		return nil, fmt.Errorf("failed to decode shipping address: %w", err)
	}
	return &sh, nil
}
