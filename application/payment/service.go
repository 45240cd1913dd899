package payment

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"ordersaga/domain/event"
	"ordersaga/domain/payment"
)

// Store is the payment service's persistence surface. Lookups returning
// (nil, nil) mean not found.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
	GetTransactionByOrderID(ctx context.Context, orderID string) (*payment.Transaction, error)
	ListRefundsByOrderID(ctx context.Context, orderID string) ([]*payment.Refund, error)
}

// Tx groups the transaction row, refund rows and outbox rows that must
// commit together.
type Tx interface {
	GetTransactionForUpdate(orderID string) (*payment.Transaction, error)
	InsertTransaction(t *payment.Transaction) error
	UpdateTransaction(t *payment.Transaction) error
	GetCompletedRefund(transactionID string) (*payment.Refund, error)
	InsertRefund(r *payment.Refund) error
	AppendEvent(evt event.Event) error
}

// Service is the payment saga participant. Charging spans two
// transactions around the gateway call: the first claims the order with a
// processing row, the second records the outcome and stages the reply.
// The UNIQUE idempotency key makes the claim race-safe.
type Service struct {
	store   Store
	gateway Gateway
	logger  *zap.Logger
}

func NewService(store Store, gateway Gateway, logger *zap.Logger) *Service {
	return &Service{store: store, gateway: gateway, logger: logger}
}

// HandleEvent dispatches bus deliveries for the payment queue.
func (s *Service) HandleEvent(ctx context.Context, evt event.Event) error {
	switch e := evt.(type) {
	case *event.PaymentRequested:
		return s.handlePaymentRequested(ctx, e)
	case *event.OrderCancelled:
		return s.refundOrder(ctx, e.OrderID, "order cancelled", e)
	case *event.PaymentRefunded:
		return s.refundOrder(ctx, e.OrderID, "refund requested", e)
	default:
		s.logger.Warn("ignoring unexpected event",
			zap.String("event_type", string(evt.Meta().EventType)),
		)
		return nil
	}
}

func (s *Service) handlePaymentRequested(ctx context.Context, evt *event.PaymentRequested) error {
	var t *payment.Transaction
	replayed := false

	err := s.store.WithinTx(ctx, func(tx Tx) error {
		existing, err := tx.GetTransactionForUpdate(evt.OrderID)
		if err != nil {
			return err
		}
		if existing != nil {
			t = existing
			// A settled transaction means this delivery is a replay:
			// re-emit the stored outcome without touching the gateway.
			if existing.Status == payment.TransactionCompleted || existing.Status == payment.TransactionRefunded {
				replayed = true
				return tx.AppendEvent(s.processedEvent(existing, evt))
			}
			if existing.Status == payment.TransactionFailed {
				replayed = true
				return tx.AppendEvent(s.failedEvent(existing.OrderID, existing.ErrorMessage, evt))
			}
			// Still processing: a previous attempt died between the claim
			// and the outcome. Fall through and retry the gateway call;
			// the idempotency key keeps the charge single.
			return nil
		}

		t = payment.NewTransaction(evt.OrderID, evt.CustomerID, evt.CorrelationID, evt.Amount, evt.Currency, evt.PaymentMethod)

		// Zero-amount orders settle without a gateway round trip.
		if t.Amount == 0 {
			replayed = true
			t.Complete(map[string]any{"status": "approved", "note": "zero amount"})
			if err := tx.InsertTransaction(t); err != nil {
				return err
			}
			return tx.AppendEvent(s.processedEvent(t, evt))
		}

		return tx.InsertTransaction(t)
	})
	if err != nil {
		return err
	}
	if replayed {
		s.logger.Info("payment already settled, re-emitted outcome",
			zap.String("order_id", evt.OrderID),
			zap.String("status", string(t.Status)),
		)
		return nil
	}

	response, chargeErr := s.gateway.Charge(ctx, t.Amount, t.Currency, t.IdempotencyKey)
	if chargeErr != nil && !errors.Is(chargeErr, ErrDeclined) {
		// Transient gateway failure: leave the row processing and let the
		// bus redeliver.
		return chargeErr
	}

	return s.store.WithinTx(ctx, func(tx Tx) error {
		t, err := tx.GetTransactionForUpdate(evt.OrderID)
		if err != nil {
			return err
		}
		if t == nil || t.Status != payment.TransactionProcessing {
			// Another consumer settled it while we were at the gateway.
			return nil
		}

		if chargeErr != nil {
			t.Fail(chargeErr.Error(), response)
			if err := tx.UpdateTransaction(t); err != nil {
				return err
			}
			s.logger.Info("payment declined",
				zap.String("order_id", evt.OrderID),
				zap.String("transaction_id", t.ID),
			)
			return tx.AppendEvent(s.failedEvent(t.OrderID, t.ErrorMessage, evt))
		}

		t.Complete(response)
		if err := tx.UpdateTransaction(t); err != nil {
			return err
		}
		s.logger.Info("payment processed",
			zap.String("order_id", evt.OrderID),
			zap.String("transaction_id", t.ID),
			zap.Float64("amount", t.Amount),
		)
		return tx.AppendEvent(s.processedEvent(t, evt))
	})
}

// refundOrder reverses a settled charge, whether the trigger is a refund
// request or a cancelled order. At most one completed refund exists per
// transaction; redeliveries (including the staged payment.refunded event
// coming back through the refund queue) find it and stop.
func (s *Service) refundOrder(ctx context.Context, orderID, reason string, cause event.Event) error {
	var t *payment.Transaction

	err := s.store.WithinTx(ctx, func(tx Tx) error {
		existing, err := tx.GetTransactionForUpdate(orderID)
		if err != nil {
			return err
		}
		if existing == nil || existing.Status != payment.TransactionCompleted {
			return nil
		}
		refund, err := tx.GetCompletedRefund(existing.ID)
		if err != nil {
			return err
		}
		if refund != nil {
			return nil
		}
		t = existing
		return nil
	})
	if err != nil || t == nil {
		return err
	}

	gatewayRef, _ := t.GatewayResponse["gateway_transaction_id"].(string)
	response, err := s.gateway.Refund(ctx, gatewayRef, t.Amount)
	if err != nil {
		return err
	}

	return s.store.WithinTx(ctx, func(tx Tx) error {
		existing, err := tx.GetCompletedRefund(t.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return nil
		}

		refund := payment.NewCompletedRefund("", t.ID, t.OrderID, t.CorrelationID, t.Amount, reason, response)
		if err := tx.InsertRefund(refund); err != nil {
			return err
		}

		t.Status = payment.TransactionRefunded
		if err := tx.UpdateTransaction(t); err != nil {
			return err
		}

		meta := cause.Meta()
		refunded := &event.PaymentRefunded{
			Envelope:      event.NewEnvelope(event.PaymentRefundedType, t.OrderID, meta.CorrelationID, meta.EventID),
			OrderID:       t.OrderID,
			TransactionID: t.ID,
			RefundID:      refund.ID,
			Amount:        refund.Amount,
		}
		s.logger.Info("payment refunded",
			zap.String("order_id", t.OrderID),
			zap.String("refund_id", refund.ID),
		)
		return tx.AppendEvent(refunded)
	})
}

func (s *Service) processedEvent(t *payment.Transaction, cause event.Event) *event.PaymentProcessed {
	meta := cause.Meta()
	return &event.PaymentProcessed{
		Envelope:      event.NewEnvelope(event.PaymentProcessedType, t.OrderID, meta.CorrelationID, meta.EventID),
		OrderID:       t.OrderID,
		TransactionID: t.ID,
		Amount:        t.Amount,
		Currency:      t.Currency,
	}
}

func (s *Service) failedEvent(orderID, reason string, cause event.Event) *event.PaymentFailed {
	meta := cause.Meta()
	return &event.PaymentFailed{
		Envelope:  event.NewEnvelope(event.PaymentFailedType, orderID, meta.CorrelationID, meta.EventID),
		OrderID:   orderID,
		Reason:    reason,
		ErrorCode: "PAYMENT_FAILED",
	}
}

// GetTransaction returns the transaction for an order, nil when absent.
func (s *Service) GetTransaction(ctx context.Context, orderID string) (*payment.Transaction, error) {
	return s.store.GetTransactionByOrderID(ctx, orderID)
}

// ListRefunds returns refunds recorded for an order.
func (s *Service) ListRefunds(ctx context.Context, orderID string) ([]*payment.Refund, error) {
	return s.store.ListRefundsByOrderID(ctx, orderID)
}
