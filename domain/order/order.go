package order

import (
	"errors"
	"fmt"
	"time"

	"ordersaga/domain/event"
	pkguuid "ordersaga/pkg/uuid"
)

// ErrInvalidOrder wraps order validation failures.
var ErrInvalidOrder = errors.New("invalid order")

// Status of an order along the saga. Transitions are monotone on the
// success path and terminate at confirmed, failed or cancelled.
type Status string

const (
	StatusPending           Status = "pending"
	StatusInventoryReserved Status = "inventory_reserved"
	StatusPaymentProcessing Status = "payment_processing"
	StatusConfirmed         Status = "confirmed"
	StatusCancelled         Status = "cancelled"
	StatusFailed            Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusCancelled || s == StatusFailed
}

// Step names the saga step an order is currently executing.
type Step string

const (
	StepOrderPlaced          Step = "order_placed"
	StepInventoryReservation Step = "inventory_reservation"
	StepPaymentProcessing    Step = "payment_processing"
	StepOrderConfirmation    Step = "order_confirmation"
	StepCompensation         Step = "compensation"
)

// LogStatus is the outcome recorded for a saga log entry.
type LogStatus string

const (
	LogStarted     LogStatus = "started"
	LogCompleted   LogStatus = "completed"
	LogFailed      LogStatus = "failed"
	LogCompensated LogStatus = "compensated"
)

// Order is the aggregate owned by the orchestrator. reservation_id,
// transaction_id and shipping_id are set only after the corresponding step
// succeeded.
type Order struct {
	ID              string
	CustomerID      string
	Status          Status
	CurrentStep     Step
	Items           []event.Item
	TotalAmount     float64
	ShippingAddress map[string]string
	CorrelationID   string
	ReservationID   string
	TransactionID   string
	ShippingID      string
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// New creates a pending order with a fresh correlation ID. The total is
// computed from the items, keeping the amount invariant by construction.
func New(customerID string, items []event.Item, shippingAddress map[string]string) (*Order, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: order must contain at least one item", ErrInvalidOrder)
	}

	total := 0.0
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: item %s: quantity must be positive", ErrInvalidOrder, item.ProductID)
		}
		if item.Price < 0 {
			return nil, fmt.Errorf("%w: item %s: price must not be negative", ErrInvalidOrder, item.ProductID)
		}
		total += item.Price * float64(item.Quantity)
	}

	now := time.Now().UTC()
	return &Order{
		ID:              pkguuid.New(),
		CustomerID:      customerID,
		Status:          StatusPending,
		CurrentStep:     StepOrderPlaced,
		Items:           items,
		TotalAmount:     total,
		ShippingAddress: shippingAddress,
		CorrelationID:   pkguuid.New(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// ReserveItems projects the order lines into the shape the inventory
// participant consumes.
func (o *Order) ReserveItems() []event.ReserveItem {
	items := make([]event.ReserveItem, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, event.ReserveItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return items
}

// MarkInventoryReserved applies the inventory.reserved reply. The state
// guard makes duplicate or late replies no-ops.
func (o *Order) MarkInventoryReserved(reservationID string) bool {
	if o.Status != StatusPending {
		return false
	}
	o.Status = StatusInventoryReserved
	o.ReservationID = reservationID
	o.CurrentStep = StepPaymentProcessing
	o.UpdatedAt = time.Now().UTC()
	return true
}

// MarkConfirmed applies the payment.processed reply.
func (o *Order) MarkConfirmed(transactionID string) bool {
	if o.Status != StatusInventoryReserved {
		return false
	}
	o.Status = StatusConfirmed
	o.TransactionID = transactionID
	o.CurrentStep = StepOrderConfirmation
	o.UpdatedAt = time.Now().UTC()
	return true
}

// MarkCancelled applies a customer cancellation. Terminal orders other
// than confirmed stay as they are; a confirmed order may still be
// cancelled, which obliges the payment service to refund.
func (o *Order) MarkCancelled(reason string) bool {
	if o.Status == StatusCancelled || o.Status == StatusFailed {
		return false
	}
	o.Status = StatusCancelled
	o.ErrorMessage = reason
	o.UpdatedAt = time.Now().UTC()
	return true
}

// MarkFailed moves the order to its terminal failed state.
func (o *Order) MarkFailed(reason string) bool {
	if o.Status.Terminal() {
		return false
	}
	o.Status = StatusFailed
	o.ErrorMessage = reason
	o.UpdatedAt = time.Now().UTC()
	return true
}

// SagaLog is one append-only entry in the orchestrator's causal history of
// an order. Each started entry has at most one matching completed or failed.
type SagaLog struct {
	ID            string
	OrderID       string
	CorrelationID string
	Step          Step
	EventType     event.Type
	EventID       string
	Status        LogStatus
	EventData     []byte
	ErrorMessage  string
	CreatedAt     time.Time
}

// NewSagaLog builds a log entry for a step transition.
func NewSagaLog(orderID, correlationID string, step Step, eventType event.Type, eventID string, status LogStatus, errorMessage string) SagaLog {
	return SagaLog{
		ID:            pkguuid.New(),
		OrderID:       orderID,
		CorrelationID: correlationID,
		Step:          step,
		EventType:     eventType,
		EventID:       eventID,
		Status:        status,
		ErrorMessage:  errorMessage,
		CreatedAt:     time.Now().UTC(),
	}
}
