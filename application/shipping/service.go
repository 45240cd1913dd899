package shipping

import (
	"context"

	"go.uber.org/zap"

	"ordersaga/domain/event"
	"ordersaga/domain/shipping"
)

// Store is the shipping service's persistence surface. Lookups returning
// (nil, nil) mean not found.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
	GetShipmentByOrderID(ctx context.Context, orderID string) (*shipping.Shipment, error)
}

// Tx groups the shipment row and outbox rows that must commit together.
type Tx interface {
	GetShipmentForUpdate(orderID string) (*shipping.Shipment, error)
	InsertShipment(sh *shipping.Shipment) error
	AppendEvent(evt event.Event) error
}

// Service is the shipping saga participant: it schedules delivery once an
// order is confirmed.
type Service struct {
	store  Store
	logger *zap.Logger
}

func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// HandleEvent dispatches bus deliveries for the shipping queue.
func (s *Service) HandleEvent(ctx context.Context, evt event.Event) error {
	switch e := evt.(type) {
	case *event.OrderConfirmed:
		return s.handleOrderConfirmed(ctx, e)
	default:
		s.logger.Warn("ignoring unexpected event",
			zap.String("event_type", string(evt.Meta().EventType)),
		)
		return nil
	}
}

// handleOrderConfirmed schedules a shipment. The UNIQUE order_id means a
// redelivery finds the existing shipment and re-emits its scheduling
// event instead of booking twice.
func (s *Service) handleOrderConfirmed(ctx context.Context, evt *event.OrderConfirmed) error {
	return s.store.WithinTx(ctx, func(tx Tx) error {
		existing, err := tx.GetShipmentForUpdate(evt.OrderID)
		if err != nil {
			return err
		}
		if existing != nil {
			s.logger.Info("shipment already scheduled, re-emitting reply",
				zap.String("order_id", evt.OrderID),
				zap.String("shipping_id", existing.ID),
			)
			return tx.AppendEvent(s.scheduledEvent(existing, evt))
		}

		sh := shipping.NewScheduled(evt.OrderID, evt.CorrelationID, evt.ShippingAddress)
		if err := tx.InsertShipment(sh); err != nil {
			return err
		}

		s.logger.Info("shipment scheduled",
			zap.String("order_id", evt.OrderID),
			zap.String("shipping_id", sh.ID),
			zap.String("tracking_number", sh.TrackingNumber),
		)
		return tx.AppendEvent(s.scheduledEvent(sh, evt))
	})
}

func (s *Service) scheduledEvent(sh *shipping.Shipment, cause *event.OrderConfirmed) *event.ShippingScheduled {
	return &event.ShippingScheduled{
		Envelope:          event.NewEnvelope(event.ShippingScheduledType, sh.OrderID, cause.CorrelationID, cause.EventID),
		OrderID:           sh.OrderID,
		ShippingID:        sh.ID,
		EstimatedDelivery: sh.EstimatedDelivery,
		ShippingAddress:   sh.ShippingAddress,
	}
}

// GetShipment returns the shipment for an order, nil when absent.
func (s *Service) GetShipment(ctx context.Context, orderID string) (*shipping.Shipment, error) {
	return s.store.GetShipmentByOrderID(ctx, orderID)
}
