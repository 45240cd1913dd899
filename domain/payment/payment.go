package payment

import (
	"fmt"
	"time"

	pkguuid "ordersaga/pkg/uuid"
)

// TransactionStatus of a payment transaction.
type TransactionStatus string

const (
	TransactionPending    TransactionStatus = "pending"
	TransactionProcessing TransactionStatus = "processing"
	TransactionCompleted  TransactionStatus = "completed"
	TransactionFailed     TransactionStatus = "failed"
	TransactionRefunded   TransactionStatus = "refunded"
)

// IdempotencyKey is the stable per-order key that collapses replayed
// payment.requested deliveries onto one transaction row.
func IdempotencyKey(orderID string) string {
	return fmt.Sprintf("payment_%s", orderID)
}

// Transaction is one charge attempt against an order. order_id and
// idempotency_key are UNIQUE, so a replay can never create a second row.
type Transaction struct {
	ID              string
	OrderID         string
	CustomerID      string
	CorrelationID   string
	IdempotencyKey  string
	Amount          float64
	Currency        string
	Status          TransactionStatus
	PaymentMethod   map[string]any
	GatewayResponse map[string]any
	ErrorMessage    string
	CreatedAt       time.Time
	ProcessedAt     *time.Time
}

// NewTransaction creates a processing transaction for an order.
func NewTransaction(orderID, customerID, correlationID string, amount float64, currency string, method map[string]any) *Transaction {
	if currency == "" {
		currency = "USD"
	}
	return &Transaction{
		ID:             pkguuid.New(),
		OrderID:        orderID,
		CustomerID:     customerID,
		CorrelationID:  correlationID,
		IdempotencyKey: IdempotencyKey(orderID),
		Amount:         amount,
		Currency:       currency,
		Status:         TransactionProcessing,
		PaymentMethod:  method,
		CreatedAt:      time.Now().UTC(),
	}
}

// Complete records a successful gateway result.
func (t *Transaction) Complete(gatewayResponse map[string]any) {
	now := time.Now().UTC()
	t.Status = TransactionCompleted
	t.GatewayResponse = gatewayResponse
	t.ProcessedAt = &now
}

// Fail records a declined or unreachable gateway result.
func (t *Transaction) Fail(reason string, gatewayResponse map[string]any) {
	now := time.Now().UTC()
	t.Status = TransactionFailed
	t.ErrorMessage = reason
	t.GatewayResponse = gatewayResponse
	t.ProcessedAt = &now
}

// Refund reverses a completed transaction. Only one completed refund may
// exist per transaction.
type Refund struct {
	ID              string
	TransactionID   string
	OrderID         string
	CorrelationID   string
	Amount          float64
	Reason          string
	Status          string
	GatewayResponse map[string]any
	CreatedAt       time.Time
	ProcessedAt     *time.Time
}

// NewCompletedRefund creates a refund that already settled at the gateway.
func NewCompletedRefund(id, transactionID, orderID, correlationID string, amount float64, reason string, gatewayResponse map[string]any) *Refund {
	if id == "" {
		id = pkguuid.New()
	}
	now := time.Now().UTC()
	return &Refund{
		ID:              id,
		TransactionID:   transactionID,
		OrderID:         orderID,
		CorrelationID:   correlationID,
		Amount:          amount,
		Reason:          reason,
		Status:          "completed",
		GatewayResponse: gatewayResponse,
		CreatedAt:       now,
		ProcessedAt:     &now,
	}
}
