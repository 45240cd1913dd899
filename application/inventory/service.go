package inventory

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"ordersaga/domain/event"
	"ordersaga/domain/inventory"
)

// Store is the inventory service's persistence surface. Lookups returning
// (nil, nil) mean not found.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
	GetProduct(ctx context.Context, id string) (*inventory.Product, error)
	ListProducts(ctx context.Context) ([]*inventory.Product, error)
	InsertProduct(ctx context.Context, p *inventory.Product) error
	CountProducts(ctx context.Context) (int, error)
	GetReservationByOrderID(ctx context.Context, orderID string) (*inventory.Reservation, error)
}

// Tx groups the stock mutations, the reservation row and the outbox rows
// that must commit together.
type Tx interface {
	GetReservationForUpdate(orderID string) (*inventory.Reservation, error)
	InsertReservation(r *inventory.Reservation) error
	UpdateReservation(r *inventory.Reservation) error
	// ProductAvailability returns available quantity per product ID;
	// unknown products are simply absent from the map.
	ProductAvailability(productIDs []string) (map[string]int, error)
	// ReserveStock moves qty from available to reserved, failing when the
	// conditional update matches no row.
	ReserveStock(productID string, qty int) error
	ReleaseStock(productID string, qty int) error
	AppendEvent(evt event.Event) error
}

// Service is the inventory saga participant: it reserves stock on
// inventory.reserve.requested and releases it on inventory.released.
type Service struct {
	store  Store
	logger *zap.Logger
}

func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// HandleEvent dispatches bus deliveries for the inventory queue.
func (s *Service) HandleEvent(ctx context.Context, evt event.Event) error {
	switch e := evt.(type) {
	case *event.InventoryReserveRequested:
		return s.handleReserveRequested(ctx, e)
	case *event.InventoryReleased:
		return s.handleReleased(ctx, e)
	default:
		s.logger.Warn("ignoring unexpected event",
			zap.String("event_type", string(evt.Meta().EventType)),
		)
		return nil
	}
}

// handleReserveRequested reserves stock for an order. A redelivery finds
// the existing reservation row and re-emits the original reply instead of
// reserving twice. Insufficient stock is a domain rejection: the failure
// event is staged and the delivery acked.
func (s *Service) handleReserveRequested(ctx context.Context, evt *event.InventoryReserveRequested) error {
	return s.store.WithinTx(ctx, func(tx Tx) error {
		existing, err := tx.GetReservationForUpdate(evt.OrderID)
		if err != nil {
			return err
		}
		if existing != nil {
			s.logger.Info("reservation already exists, re-emitting reply",
				zap.String("order_id", evt.OrderID),
				zap.String("reservation_id", existing.ID),
			)
			return tx.AppendEvent(s.reservedEvent(existing, evt))
		}

		ids := make([]string, 0, len(evt.Items))
		for _, item := range evt.Items {
			ids = append(ids, item.ProductID)
		}
		availability, err := tx.ProductAvailability(ids)
		if err != nil {
			return err
		}

		var unavailable []event.UnavailableItem
		for _, item := range evt.Items {
			if avail := availability[item.ProductID]; avail < item.Quantity {
				unavailable = append(unavailable, event.UnavailableItem{
					ProductID: item.ProductID,
					Requested: item.Quantity,
					Available: avail,
				})
			}
		}
		if len(unavailable) > 0 {
			s.logger.Info("insufficient stock, rejecting reservation",
				zap.String("order_id", evt.OrderID),
				zap.Int("unavailable_items", len(unavailable)),
			)
			failed := &event.InventoryReserveFailed{
				Envelope:         event.NewEnvelope(event.InventoryReserveFailedType, evt.OrderID, evt.CorrelationID, evt.EventID),
				OrderID:          evt.OrderID,
				Reason:           "Insufficient inventory",
				UnavailableItems: unavailable,
			}
			return tx.AppendEvent(failed)
		}

		// The pre-check passed but a concurrent order may have taken the
		// stock since; a failed conditional update rolls the transaction
		// back and the redelivery re-runs the check.
		for _, item := range evt.Items {
			if err := tx.ReserveStock(item.ProductID, item.Quantity); err != nil {
				return fmt.Errorf("failed to reserve %s: %w", item.ProductID, err)
			}
		}

		res := inventory.NewReservation(evt.OrderID, evt.CorrelationID, evt.Items)
		if err := tx.InsertReservation(res); err != nil {
			return err
		}

		s.logger.Info("stock reserved",
			zap.String("order_id", evt.OrderID),
			zap.String("reservation_id", res.ID),
		)
		return tx.AppendEvent(s.reservedEvent(res, evt))
	})
}

// handleReleased returns reserved stock during compensation. Releasing a
// released reservation is a no-op; no reply event is emitted either way.
func (s *Service) handleReleased(ctx context.Context, evt *event.InventoryReleased) error {
	return s.store.WithinTx(ctx, func(tx Tx) error {
		res, err := tx.GetReservationForUpdate(evt.OrderID)
		if err != nil {
			return err
		}
		if res == nil {
			s.logger.Warn("release for unknown reservation, dropping",
				zap.String("order_id", evt.OrderID),
			)
			return nil
		}
		if !res.Release() {
			s.logger.Info("reservation already released",
				zap.String("order_id", evt.OrderID),
				zap.String("reservation_id", res.ID),
			)
			return nil
		}

		for _, item := range res.Items {
			if err := tx.ReleaseStock(item.ProductID, item.Quantity); err != nil {
				return fmt.Errorf("failed to release %s: %w", item.ProductID, err)
			}
		}

		s.logger.Info("stock released",
			zap.String("order_id", evt.OrderID),
			zap.String("reservation_id", res.ID),
		)
		return tx.UpdateReservation(res)
	})
}

func (s *Service) reservedEvent(res *inventory.Reservation, cause *event.InventoryReserveRequested) *event.InventoryReserved {
	return &event.InventoryReserved{
		Envelope:      event.NewEnvelope(event.InventoryReservedType, res.OrderID, cause.CorrelationID, cause.EventID),
		OrderID:       res.OrderID,
		ReservationID: res.ID,
		Items:         res.Items,
	}
}

// CreateProduct registers a new product.
func (s *Service) CreateProduct(ctx context.Context, name, description string, price float64, quantity int) (*inventory.Product, error) {
	if name == "" {
		return nil, fmt.Errorf("product name is required")
	}
	if price < 0 {
		return nil, fmt.Errorf("price must not be negative")
	}
	if quantity < 0 {
		return nil, fmt.Errorf("quantity must not be negative")
	}

	p := inventory.NewProduct(name, description, price, quantity)
	if err := s.store.InsertProduct(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info("product created", zap.String("product_id", p.ID), zap.String("name", p.Name))
	return p, nil
}

// GetProduct returns a product by ID, nil when absent.
func (s *Service) GetProduct(ctx context.Context, id string) (*inventory.Product, error) {
	return s.store.GetProduct(ctx, id)
}

// ListProducts returns all products.
func (s *Service) ListProducts(ctx context.Context) ([]*inventory.Product, error) {
	return s.store.ListProducts(ctx)
}

// GetReservation returns the reservation for an order, nil when absent.
func (s *Service) GetReservation(ctx context.Context, orderID string) (*inventory.Reservation, error) {
	return s.store.GetReservationByOrderID(ctx, orderID)
}

// Seed inserts demo products when the catalog is empty.
func (s *Service) Seed(ctx context.Context) error {
	count, err := s.store.CountProducts(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	demo := []*inventory.Product{
		inventory.NewProduct("Laptop", "15 inch, 16GB RAM", 1299.99, 50),
		inventory.NewProduct("Wireless Mouse", "Ergonomic, USB-C receiver", 29.99, 200),
		inventory.NewProduct("Mechanical Keyboard", "Tenkeyless, brown switches", 89.99, 120),
		inventory.NewProduct("USB-C Hub", "7 ports", 49.99, 150),
	}
	for _, p := range demo {
		if err := s.store.InsertProduct(ctx, p); err != nil {
			return err
		}
	}
	s.logger.Info("seeded product catalog", zap.Int("count", len(demo)))
	return nil
}
