package inventory

import (
	"time"

	"ordersaga/domain/event"
	pkguuid "ordersaga/pkg/uuid"
)

// ReservationStatus of an inventory reservation.
type ReservationStatus string

const (
	ReservationActive   ReservationStatus = "active"
	ReservationReleased ReservationStatus = "released"
	ReservationExpired  ReservationStatus = "expired"
)

// Product is a stock-keeping unit. available_quantity and reserved_quantity
// never go negative; the database enforces the same with CHECK constraints.
type Product struct {
	ID                string
	Name              string
	Description       string
	Price             float64
	AvailableQuantity int
	ReservedQuantity  int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewProduct creates a product with the full quantity available.
func NewProduct(name, description string, price float64, quantity int) *Product {
	now := time.Now().UTC()
	return &Product{
		ID:                pkguuid.New(),
		Name:              name,
		Description:       description,
		Price:             price,
		AvailableQuantity: quantity,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Reservation holds stock for one order. At most one active reservation
// exists per order_id (UNIQUE in the database).
type Reservation struct {
	ID            string
	OrderID       string
	CorrelationID string
	Status        ReservationStatus
	Items         []event.ReserveItem
	CreatedAt     time.Time
	ReleasedAt    *time.Time
}

// NewReservation creates an active reservation for an order.
func NewReservation(orderID, correlationID string, items []event.ReserveItem) *Reservation {
	return &Reservation{
		ID:            pkguuid.New(),
		OrderID:       orderID,
		CorrelationID: correlationID,
		Status:        ReservationActive,
		Items:         items,
		CreatedAt:     time.Now().UTC(),
	}
}

// Release marks the reservation released. Returns false when it already
// was, making release idempotent.
func (r *Reservation) Release() bool {
	if r.Status == ReservationReleased {
		return false
	}
	now := time.Now().UTC()
	r.Status = ReservationReleased
	r.ReleasedAt = &now
	return true
}
