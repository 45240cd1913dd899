package event

import (
	"time"

	pkguuid "ordersaga/pkg/uuid"
)

// Type is the routing key of an event on the saga_events exchange.
type Type string

const (
	// Order events
	OrderPlacedType    Type = "order.placed"
	OrderConfirmedType Type = "order.confirmed"
	OrderCancelledType Type = "order.cancelled"
	OrderFailedType    Type = "order.failed"

	// Inventory events
	InventoryReserveRequestedType Type = "inventory.reserve.requested"
	InventoryReservedType         Type = "inventory.reserved"
	InventoryReserveFailedType    Type = "inventory.reserve.failed"
	InventoryReleasedType         Type = "inventory.released"

	// Payment events
	PaymentRequestedType Type = "payment.requested"
	PaymentProcessedType Type = "payment.processed"
	PaymentFailedType    Type = "payment.failed"
	PaymentRefundedType  Type = "payment.refunded"

	// Shipping events
	ShippingScheduledType  Type = "shipping.scheduled"
	ShippingDispatchedType Type = "shipping.dispatched"
	ShippingDeliveredType  Type = "shipping.delivered"
	ShippingFailedType     Type = "shipping.failed"
)

// Envelope carries the fields shared by every saga event. Concrete events
// embed it, so the fields marshal inline into the JSON body.
type Envelope struct {
	EventID       string         `json:"event_id"`
	EventType     Type           `json:"event_type"`
	AggregateID   string         `json:"aggregate_id"`
	Timestamp     time.Time      `json:"timestamp"`
	Version       int            `json:"version"`
	CorrelationID string         `json:"correlation_id"`
	CausationID   string         `json:"causation_id,omitempty"`
	Metadata      map[string]any `json:"metadata"`
}

// Meta exposes the envelope to code that only cares about common fields.
func (e *Envelope) Meta() *Envelope { return e }

// Event is any saga event. Exactly the types registered in registry.go
// implement it.
type Event interface {
	Meta() *Envelope
}

// NewEnvelope builds an envelope for a freshly emitted event. causationID is
// empty for saga-initiating events (order.placed has no cause).
func NewEnvelope(t Type, aggregateID, correlationID, causationID string) Envelope {
	return Envelope{
		EventID:       pkguuid.New(),
		EventType:     t,
		AggregateID:   aggregateID,
		Timestamp:     time.Now().UTC(),
		Version:       1,
		CorrelationID: correlationID,
		CausationID:   causationID,
		Metadata:      map[string]any{},
	}
}

// Item is an order line as carried in order.placed.
type Item struct {
	ProductID string  `json:"product_id"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

// ReserveItem is an order line as carried in inventory commands; price is
// not the inventory service's business.
type ReserveItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// UnavailableItem reports a line that could not be reserved.
type UnavailableItem struct {
	ProductID string `json:"product_id"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// Order events

type OrderPlaced struct {
	Envelope
	CustomerID      string            `json:"customer_id"`
	Items           []Item            `json:"items"`
	TotalAmount     float64           `json:"total_amount"`
	ShippingAddress map[string]string `json:"shipping_address"`
}

type OrderConfirmed struct {
	Envelope
	OrderID         string            `json:"order_id"`
	ShippingAddress map[string]string `json:"shipping_address"`
}

type OrderCancelled struct {
	Envelope
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

type OrderFailed struct {
	Envelope
	OrderID    string `json:"order_id"`
	Reason     string `json:"reason"`
	FailedStep string `json:"failed_step"`
}

// Inventory events

type InventoryReserveRequested struct {
	Envelope
	OrderID string        `json:"order_id"`
	Items   []ReserveItem `json:"items"`
}

type InventoryReserved struct {
	Envelope
	OrderID       string        `json:"order_id"`
	ReservationID string        `json:"reservation_id"`
	Items         []ReserveItem `json:"items"`
}

type InventoryReserveFailed struct {
	Envelope
	OrderID          string            `json:"order_id"`
	Reason           string            `json:"reason"`
	UnavailableItems []UnavailableItem `json:"unavailable_items"`
}

type InventoryReleased struct {
	Envelope
	OrderID       string `json:"order_id"`
	ReservationID string `json:"reservation_id"`
}

// Payment events

type PaymentRequested struct {
	Envelope
	OrderID       string         `json:"order_id"`
	CustomerID    string         `json:"customer_id"`
	Amount        float64        `json:"amount"`
	Currency      string         `json:"currency"`
	PaymentMethod map[string]any `json:"payment_method"`
}

type PaymentProcessed struct {
	Envelope
	OrderID       string  `json:"order_id"`
	TransactionID string  `json:"transaction_id"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
}

type PaymentFailed struct {
	Envelope
	OrderID   string `json:"order_id"`
	Reason    string `json:"reason"`
	ErrorCode string `json:"error_code,omitempty"`
}

type PaymentRefunded struct {
	Envelope
	OrderID       string  `json:"order_id"`
	TransactionID string  `json:"transaction_id"`
	RefundID      string  `json:"refund_id"`
	Amount        float64 `json:"amount"`
}

// Shipping events

type ShippingScheduled struct {
	Envelope
	OrderID           string            `json:"order_id"`
	ShippingID        string            `json:"shipping_id"`
	EstimatedDelivery time.Time         `json:"estimated_delivery"`
	ShippingAddress   map[string]string `json:"shipping_address"`
}

type ShippingDispatched struct {
	Envelope
	OrderID        string `json:"order_id"`
	ShippingID     string `json:"shipping_id"`
	TrackingNumber string `json:"tracking_number"`
}

type ShippingDelivered struct {
	Envelope
	OrderID     string    `json:"order_id"`
	ShippingID  string    `json:"shipping_id"`
	DeliveredAt time.Time `json:"delivered_at"`
}

type ShippingFailed struct {
	Envelope
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}
