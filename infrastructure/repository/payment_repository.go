package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	apppayment "ordersaga/application/payment"
	"ordersaga/domain/event"
	"ordersaga/domain/payment"
	"ordersaga/infrastructure/outbox"
)

// PaymentRepository persists transactions, refunds and outgoing events in
// the payment service database.
type PaymentRepository struct {
	db     *sql.DB
	outbox *outbox.Store
}

func NewPaymentRepository(db *sql.DB, ob *outbox.Store) *PaymentRepository {
	return &PaymentRepository{db: db, outbox: ob}
}

func (r *PaymentRepository) WithinTx(ctx context.Context, fn func(tx apppayment.Tx) error) error {
	dbtx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(&paymentTx{tx: dbtx, outbox: r.outbox}); err != nil {
		dbtx.Rollback()
		return err
	}
	if err := dbtx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const transactionColumns = `id, order_id, customer_id, correlation_id, idempotency_key, amount,
	currency, status, payment_method, gateway_response, error_message, created_at, processed_at`

func (r *PaymentRepository) GetTransactionByOrderID(ctx context.Context, orderID string) (*payment.Transaction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE order_id = $1`, orderID)
	return scanTransaction(row)
}

func (r *PaymentRepository) ListRefundsByOrderID(ctx context.Context, orderID string) ([]*payment.Refund, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, transaction_id, order_id, correlation_id, amount, reason, status, gateway_response, created_at, processed_at
		FROM refunds
		WHERE order_id = $1
		ORDER BY created_at ASC`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list refunds: %w", err)
	}
	defer rows.Close()

	var refunds []*payment.Refund
	for rows.Next() {
		ref, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		refunds = append(refunds, ref)
	}
	return refunds, rows.Err()
}

type paymentTx struct {
	tx     *sql.Tx
	outbox *outbox.Store
}

func (t *paymentTx) GetTransactionForUpdate(orderID string) (*payment.Transaction, error) {
	row := t.tx.QueryRow(`SELECT `+transactionColumns+` FROM transactions WHERE order_id = $1 FOR UPDATE`, orderID)
	return scanTransaction(row)
}

func (t *paymentTx) InsertTransaction(trx *payment.Transaction) error {
	method, err := json.Marshal(trx.PaymentMethod)
	if err != nil {
		return err
	}
	response, err := json.Marshal(trx.GatewayResponse)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(`
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		trx.ID, trx.OrderID, trx.CustomerID, trx.CorrelationID, trx.IdempotencyKey, trx.Amount,
		trx.Currency, string(trx.Status), method, response, trx.ErrorMessage, trx.CreatedAt, trx.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (t *paymentTx) UpdateTransaction(trx *payment.Transaction) error {
	response, err := json.Marshal(trx.GatewayResponse)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(`
		UPDATE transactions
		SET status = $2, gateway_response = $3, error_message = $4, processed_at = $5
		WHERE id = $1`,
		trx.ID, string(trx.Status), response, trx.ErrorMessage, trx.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	return nil
}

func (t *paymentTx) GetCompletedRefund(transactionID string) (*payment.Refund, error) {
	row := t.tx.QueryRow(`
		SELECT id, transaction_id, order_id, correlation_id, amount, reason, status, gateway_response, created_at, processed_at
		FROM refunds
		WHERE transaction_id = $1 AND status = 'completed'`,
		transactionID,
	)
	ref, err := scanRefund(row)
	if err != nil {
		return nil, err
	}
	return ref, nil
}

func (t *paymentTx) InsertRefund(ref *payment.Refund) error {
	response, err := json.Marshal(ref.GatewayResponse)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(`
		INSERT INTO refunds (id, transaction_id, order_id, correlation_id, amount, reason, status, gateway_response, created_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ref.ID, ref.TransactionID, ref.OrderID, ref.CorrelationID, ref.Amount, ref.Reason, ref.Status, response, ref.CreatedAt, ref.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert refund: %w", err)
	}
	return nil
}

func (t *paymentTx) AppendEvent(evt event.Event) error {
	return t.outbox.AppendTx(t.tx, evt)
}

func scanTransaction(row rowScanner) (*payment.Transaction, error) {
	var trx payment.Transaction
	var status string
	var method, response []byte
	err := row.Scan(&trx.ID, &trx.OrderID, &trx.CustomerID, &trx.CorrelationID, &trx.IdempotencyKey, &trx.Amount,
		&trx.Currency, &status, &method, &response, &trx.ErrorMessage, &trx.CreatedAt, &trx.ProcessedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}
	trx.Status = payment.TransactionStatus(status)
	if len(method) > 0 {
		if err := json.Unmarshal(method, &trx.PaymentMethod); err != nil {
			return nil, fmt.Errorf("failed to decode payment method: %w", err)
		}
	}
	if len(response) > 0 {
		if err := json.Unmarshal(response, &trx.GatewayResponse); err != nil {
			return nil, fmt.Errorf("failed to decode gateway response: %w", err)
		}
	}
	return &trx, nil
}

func scanRefund(row rowScanner) (*payment.Refund, error) {
	var ref payment.Refund
	var response []byte
	err := row.Scan(&ref.ID, &ref.TransactionID, &ref.OrderID, &ref.CorrelationID, &ref.Amount, &ref.Reason, &ref.Status, &response, &ref.CreatedAt, &ref.ProcessedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan refund: %w", err)
	}
	if len(response) > 0 {
		if err := json.Unmarshal(response, &ref.GatewayResponse); err != nil {
			return nil, fmt.Errorf("failed to decode gateway response: %w", err)
		}
	}
	return &ref, nil
}
