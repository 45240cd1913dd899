package saga

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"ordersaga/domain/event"
	"ordersaga/domain/order"
)

// Store is the order service's persistence surface. Lookups returning
// (nil, nil) mean not found.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
	GetOrder(ctx context.Context, id string) (*order.Order, error)
	ListOrders(ctx context.Context, limit int) ([]*order.Order, error)
	ListSagaLogs(ctx context.Context, orderID string) ([]order.SagaLog, error)
}

// Tx groups the writes that must commit atomically: the order row, its
// saga log entries and the outbox rows for outgoing events.
type Tx interface {
	InsertOrder(o *order.Order) error
	GetOrderForUpdate(id string) (*order.Order, error)
	UpdateOrder(o *order.Order) error
	AppendSagaLog(log order.SagaLog) error
	AppendEvent(evt event.Event) error
}

// Orchestrator drives the order saga. It owns the order state machine and
// reacts to participant replies; every transition commits the state
// change, the saga log and the next command in one transaction.
type Orchestrator struct {
	store  Store
	logger *zap.Logger
}

func NewOrchestrator(store Store, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{store: store, logger: logger}
}

// StartOrderSaga creates a pending order and stages order.placed plus the
// first saga command, inventory.reserve.requested.
func (s *Orchestrator) StartOrderSaga(ctx context.Context, customerID string, items []event.Item, shippingAddress map[string]string) (*order.Order, error) {
	o, err := order.New(customerID, items, shippingAddress)
	if err != nil {
		return nil, err
	}

	placed := &event.OrderPlaced{
		Envelope:        event.NewEnvelope(event.OrderPlacedType, o.ID, o.CorrelationID, ""),
		CustomerID:      o.CustomerID,
		Items:           o.Items,
		TotalAmount:     o.TotalAmount,
		ShippingAddress: o.ShippingAddress,
	}
	reserve := &event.InventoryReserveRequested{
		Envelope: event.NewEnvelope(event.InventoryReserveRequestedType, o.ID, o.CorrelationID, placed.EventID),
		OrderID:  o.ID,
		Items:    o.ReserveItems(),
	}

	err = s.store.WithinTx(ctx, func(tx Tx) error {
		if err := tx.InsertOrder(o); err != nil {
			return err
		}
		if err := s.appendLog(tx, o, order.StepOrderPlaced, placed, order.LogCompleted, ""); err != nil {
			return err
		}
		if err := s.appendLog(tx, o, order.StepInventoryReservation, reserve, order.LogStarted, ""); err != nil {
			return err
		}
		if err := tx.AppendEvent(placed); err != nil {
			return err
		}
		return tx.AppendEvent(reserve)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start order saga: %w", err)
	}

	s.logger.Info("order saga started",
		zap.String("order_id", o.ID),
		zap.String("correlation_id", o.CorrelationID),
		zap.Float64("total_amount", o.TotalAmount),
	)
	return o, nil
}

// ErrCannotCancel is returned when an order is already failed or
// cancelled.
var ErrCannotCancel = fmt.Errorf("order cannot be cancelled")

// ErrOrderNotFound is returned for lookups of unknown orders.
var ErrOrderNotFound = fmt.Errorf("order not found")

// CancelOrder cancels an order on customer request. Reserved stock is
// released; if payment already settled, the staged order.cancelled event
// triggers a refund in the payment service.
func (s *Orchestrator) CancelOrder(ctx context.Context, orderID, reason string) (*order.Order, error) {
	var cancelled *order.Order
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		o, err := tx.GetOrderForUpdate(orderID)
		if err != nil {
			return err
		}
		if o == nil {
			return ErrOrderNotFound
		}
		if !o.MarkCancelled(reason) {
			return ErrCannotCancel
		}
		cancelled = o

		evt := &event.OrderCancelled{
			Envelope: event.NewEnvelope(event.OrderCancelledType, o.ID, o.CorrelationID, ""),
			OrderID:  o.ID,
			Reason:   reason,
		}

		if o.ReservationID != "" {
			release := &event.InventoryReleased{
				Envelope:      event.NewEnvelope(event.InventoryReleasedType, o.ID, o.CorrelationID, evt.EventID),
				OrderID:       o.ID,
				ReservationID: o.ReservationID,
			}
			if err := s.appendLog(tx, o, order.StepCompensation, release, order.LogCompensated, ""); err != nil {
				return err
			}
			if err := tx.AppendEvent(release); err != nil {
				return err
			}
		}

		if err := tx.UpdateOrder(o); err != nil {
			return err
		}
		if err := s.appendLog(tx, o, order.StepCompensation, evt, order.LogCompensated, reason); err != nil {
			return err
		}
		return tx.AppendEvent(evt)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order cancelled",
		zap.String("order_id", orderID),
		zap.String("reason", reason),
	)
	return cancelled, nil
}

// HandleEvent dispatches a participant reply to its transition. Unhandled
// event types are acked and dropped.
func (s *Orchestrator) HandleEvent(ctx context.Context, evt event.Event) error {
	switch e := evt.(type) {
	case *event.InventoryReserved:
		return s.handleInventoryReserved(ctx, e)
	case *event.InventoryReserveFailed:
		return s.handleInventoryReserveFailed(ctx, e)
	case *event.PaymentProcessed:
		return s.handlePaymentProcessed(ctx, e)
	case *event.PaymentFailed:
		return s.handlePaymentFailed(ctx, e)
	default:
		s.logger.Warn("ignoring unexpected event",
			zap.String("event_type", string(evt.Meta().EventType)),
		)
		return nil
	}
}

func (s *Orchestrator) handleInventoryReserved(ctx context.Context, evt *event.InventoryReserved) error {
	return s.transition(ctx, evt.OrderID, evt, func(tx Tx, o *order.Order) error {
		if !o.MarkInventoryReserved(evt.ReservationID) {
			// A reply landing on a dead order must still compensate:
			// the stock was reserved and nothing else will release it.
			if o.Status == order.StatusCancelled || o.Status == order.StatusFailed {
				return s.releaseLateReservation(tx, o, evt)
			}
			s.dropStale(o, evt)
			return nil
		}

		request := &event.PaymentRequested{
			Envelope:      event.NewEnvelope(event.PaymentRequestedType, o.ID, o.CorrelationID, evt.EventID),
			OrderID:       o.ID,
			CustomerID:    o.CustomerID,
			Amount:        o.TotalAmount,
			Currency:      "USD",
			PaymentMethod: map[string]any{"type": "card"},
		}

		if err := tx.UpdateOrder(o); err != nil {
			return err
		}
		if err := s.appendLog(tx, o, order.StepInventoryReservation, evt, order.LogCompleted, ""); err != nil {
			return err
		}
		if err := s.appendLog(tx, o, order.StepPaymentProcessing, request, order.LogStarted, ""); err != nil {
			return err
		}
		return tx.AppendEvent(request)
	})
}

func (s *Orchestrator) handleInventoryReserveFailed(ctx context.Context, evt *event.InventoryReserveFailed) error {
	return s.transition(ctx, evt.OrderID, evt, func(tx Tx, o *order.Order) error {
		if !o.MarkFailed(evt.Reason) {
			s.dropStale(o, evt)
			return nil
		}

		failed := &event.OrderFailed{
			Envelope:   event.NewEnvelope(event.OrderFailedType, o.ID, o.CorrelationID, evt.EventID),
			OrderID:    o.ID,
			Reason:     evt.Reason,
			FailedStep: string(order.StepInventoryReservation),
		}

		if err := tx.UpdateOrder(o); err != nil {
			return err
		}
		if err := s.appendLog(tx, o, order.StepInventoryReservation, evt, order.LogFailed, evt.Reason); err != nil {
			return err
		}
		return tx.AppendEvent(failed)
	})
}

func (s *Orchestrator) handlePaymentProcessed(ctx context.Context, evt *event.PaymentProcessed) error {
	return s.transition(ctx, evt.OrderID, evt, func(tx Tx, o *order.Order) error {
		if !o.MarkConfirmed(evt.TransactionID) {
			s.dropStale(o, evt)
			return nil
		}

		confirmed := &event.OrderConfirmed{
			Envelope:        event.NewEnvelope(event.OrderConfirmedType, o.ID, o.CorrelationID, evt.EventID),
			OrderID:         o.ID,
			ShippingAddress: o.ShippingAddress,
		}

		if err := tx.UpdateOrder(o); err != nil {
			return err
		}
		if err := s.appendLog(tx, o, order.StepPaymentProcessing, evt, order.LogCompleted, ""); err != nil {
			return err
		}
		if err := s.appendLog(tx, o, order.StepOrderConfirmation, confirmed, order.LogCompleted, ""); err != nil {
			return err
		}
		return tx.AppendEvent(confirmed)
	})
}

// handlePaymentFailed compensates: stock reserved for the order is
// released before the order is failed.
func (s *Orchestrator) handlePaymentFailed(ctx context.Context, evt *event.PaymentFailed) error {
	return s.transition(ctx, evt.OrderID, evt, func(tx Tx, o *order.Order) error {
		if !o.MarkFailed(evt.Reason) {
			s.dropStale(o, evt)
			return nil
		}

		if o.ReservationID != "" {
			release := &event.InventoryReleased{
				Envelope:      event.NewEnvelope(event.InventoryReleasedType, o.ID, o.CorrelationID, evt.EventID),
				OrderID:       o.ID,
				ReservationID: o.ReservationID,
			}
			if err := s.appendLog(tx, o, order.StepCompensation, release, order.LogCompensated, ""); err != nil {
				return err
			}
			if err := tx.AppendEvent(release); err != nil {
				return err
			}
		}

		failed := &event.OrderFailed{
			Envelope:   event.NewEnvelope(event.OrderFailedType, o.ID, o.CorrelationID, evt.EventID),
			OrderID:    o.ID,
			Reason:     evt.Reason,
			FailedStep: string(order.StepPaymentProcessing),
		}

		if err := tx.UpdateOrder(o); err != nil {
			return err
		}
		if err := s.appendLog(tx, o, order.StepPaymentProcessing, evt, order.LogFailed, evt.Reason); err != nil {
			return err
		}
		return tx.AppendEvent(failed)
	})
}

// releaseLateReservation compensates a reservation confirmed after the
// order already reached cancelled or failed.
func (s *Orchestrator) releaseLateReservation(tx Tx, o *order.Order, evt *event.InventoryReserved) error {
	s.logger.Info("reservation confirmed for dead order, releasing",
		zap.String("order_id", o.ID),
		zap.String("order_status", string(o.Status)),
		zap.String("reservation_id", evt.ReservationID),
	)

	release := &event.InventoryReleased{
		Envelope:      event.NewEnvelope(event.InventoryReleasedType, o.ID, o.CorrelationID, evt.EventID),
		OrderID:       o.ID,
		ReservationID: evt.ReservationID,
	}
	if err := s.appendLog(tx, o, order.StepCompensation, release, order.LogCompensated, ""); err != nil {
		return err
	}
	return tx.AppendEvent(release)
}

// transition loads the order under a row lock and applies fn. A missing
// order is logged and dropped rather than retried; nothing can make it
// appear later.
func (s *Orchestrator) transition(ctx context.Context, orderID string, evt event.Event, fn func(tx Tx, o *order.Order) error) error {
	return s.store.WithinTx(ctx, func(tx Tx) error {
		o, err := tx.GetOrderForUpdate(orderID)
		if err != nil {
			return err
		}
		if o == nil {
			s.logger.Warn("reply for unknown order, dropping",
				zap.String("order_id", orderID),
				zap.String("event_type", string(evt.Meta().EventType)),
				zap.String("event_id", evt.Meta().EventID),
			)
			return nil
		}
		return fn(tx, o)
	})
}

func (s *Orchestrator) dropStale(o *order.Order, evt event.Event) {
	s.logger.Info("state guard rejected reply, dropping",
		zap.String("order_id", o.ID),
		zap.String("order_status", string(o.Status)),
		zap.String("event_type", string(evt.Meta().EventType)),
		zap.String("event_id", evt.Meta().EventID),
	)
}

func (s *Orchestrator) appendLog(tx Tx, o *order.Order, step order.Step, evt event.Event, status order.LogStatus, errorMessage string) error {
	meta := evt.Meta()
	log := order.NewSagaLog(o.ID, o.CorrelationID, step, meta.EventType, meta.EventID, status, errorMessage)
	if body, err := event.Encode(evt); err == nil {
		log.EventData = body
	}
	return tx.AppendSagaLog(log)
}

// GetOrder returns an order by ID, nil when absent.
func (s *Orchestrator) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	return s.store.GetOrder(ctx, id)
}

// ListOrders returns the most recent orders.
func (s *Orchestrator) ListOrders(ctx context.Context, limit int) ([]*order.Order, error) {
	return s.store.ListOrders(ctx, limit)
}

// SagaLogs returns the saga history of an order, oldest first.
func (s *Orchestrator) SagaLogs(ctx context.Context, orderID string) ([]order.SagaLog, error) {
	return s.store.ListSagaLogs(ctx, orderID)
}
