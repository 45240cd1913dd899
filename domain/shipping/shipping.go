package shipping

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	pkguuid "ordersaga/pkg/uuid"
)

// Status of a shipment.
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusDispatched Status = "dispatched"
	StatusInTransit  Status = "in_transit"
	StatusDelivered  Status = "delivered"
	StatusFailed     Status = "failed"
)

// deliveryLeadTime is the estimate used when scheduling (3-5 business days).
const deliveryLeadTime = 4 * 24 * time.Hour

// Shipment tracks delivery for one confirmed order. order_id and
// tracking_number are UNIQUE.
type Shipment struct {
	ID                string
	OrderID           string
	CorrelationID     string
	Status            Status
	TrackingNumber    string
	ShippingAddress   map[string]string
	EstimatedDelivery time.Time
	CreatedAt         time.Time
	DispatchedAt      *time.Time
	DeliveredAt       *time.Time
}

// NewScheduled creates a scheduled shipment with a fresh tracking number
// and an estimated delivery date.
func NewScheduled(orderID, correlationID string, address map[string]string) *Shipment {
	now := time.Now().UTC()
	return &Shipment{
		ID:                pkguuid.New(),
		OrderID:           orderID,
		CorrelationID:     correlationID,
		Status:            StatusScheduled,
		TrackingNumber:    NewTrackingNumber(),
		ShippingAddress:   address,
		EstimatedDelivery: now.Add(deliveryLeadTime),
		CreatedAt:         now,
	}
}

// NewTrackingNumber generates a carrier-style tracking number.
func NewTrackingNumber() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("TRK%s", strings.ToUpper(raw[:12]))
}
