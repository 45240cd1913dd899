package inventory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ordersaga/domain/event"
	"ordersaga/domain/inventory"
)

type fakeStore struct {
	products     map[string]*inventory.Product
	reservations map[string]*inventory.Reservation
	events       []event.Event
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		products:     map[string]*inventory.Product{},
		reservations: map[string]*inventory.Reservation{},
	}
}

func (s *fakeStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	return fn(&fakeTx{store: s})
}

func (s *fakeStore) GetProduct(ctx context.Context, id string) (*inventory.Product, error) {
	return s.products[id], nil
}

func (s *fakeStore) ListProducts(ctx context.Context) ([]*inventory.Product, error) {
	var out []*inventory.Product
	for _, p := range s.products {
		out = append(out, p)
	}
	return out, nil
}

func (s *fakeStore) InsertProduct(ctx context.Context, p *inventory.Product) error {
	s.products[p.ID] = p
	return nil
}

func (s *fakeStore) CountProducts(ctx context.Context) (int, error) {
	return len(s.products), nil
}

func (s *fakeStore) GetReservationByOrderID(ctx context.Context, orderID string) (*inventory.Reservation, error) {
	return s.reservations[orderID], nil
}

type fakeTx struct {
	store *fakeStore
}

func (t *fakeTx) GetReservationForUpdate(orderID string) (*inventory.Reservation, error) {
	return t.store.reservations[orderID], nil
}

func (t *fakeTx) InsertReservation(r *inventory.Reservation) error {
	t.store.reservations[r.OrderID] = r
	return nil
}

func (t *fakeTx) UpdateReservation(r *inventory.Reservation) error {
	t.store.reservations[r.OrderID] = r
	return nil
}

func (t *fakeTx) ProductAvailability(productIDs []string) (map[string]int, error) {
	availability := map[string]int{}
	for _, id := range productIDs {
		if p, ok := t.store.products[id]; ok {
			availability[id] = p.AvailableQuantity
		}
	}
	return availability, nil
}

func (t *fakeTx) ReserveStock(productID string, qty int) error {
	p, ok := t.store.products[productID]
	if !ok || p.AvailableQuantity < qty {
		return fmt.Errorf("insufficient stock for product %s", productID)
	}
	p.AvailableQuantity -= qty
	p.ReservedQuantity += qty
	return nil
}

func (t *fakeTx) ReleaseStock(productID string, qty int) error {
	p, ok := t.store.products[productID]
	if !ok || p.ReservedQuantity < qty {
		return fmt.Errorf("reserved quantity below release for product %s", productID)
	}
	p.AvailableQuantity += qty
	p.ReservedQuantity -= qty
	return nil
}

func (t *fakeTx) AppendEvent(evt event.Event) error {
	t.store.events = append(t.store.events, evt)
	return nil
}

func newService() (*Service, *fakeStore) {
	store := newFakeStore()
	return NewService(store, zap.NewNop()), store
}

func seedProduct(store *fakeStore, id string, available int) {
	p := inventory.NewProduct("Widget "+id, "", 9.99, available)
	p.ID = id
	store.products[id] = p
}

func reserveRequest(orderID string, items ...event.ReserveItem) *event.InventoryReserveRequested {
	return &event.InventoryReserveRequested{
		Envelope: event.NewEnvelope(event.InventoryReserveRequestedType, orderID, "corr-1", "cause-1"),
		OrderID:  orderID,
		Items:    items,
	}
}

func TestReserveSuccess(t *testing.T) {
	svc, store := newService()
	seedProduct(store, "p1", 10)
	seedProduct(store, "p2", 5)

	evt := reserveRequest("order-1",
		event.ReserveItem{ProductID: "p1", Quantity: 3},
		event.ReserveItem{ProductID: "p2", Quantity: 5},
	)
	require.NoError(t, svc.HandleEvent(context.Background(), evt))

	assert.Equal(t, 7, store.products["p1"].AvailableQuantity)
	assert.Equal(t, 3, store.products["p1"].ReservedQuantity)
	assert.Equal(t, 0, store.products["p2"].AvailableQuantity)

	res := store.reservations["order-1"]
	require.NotNil(t, res)
	assert.Equal(t, inventory.ReservationActive, res.Status)

	require.Len(t, store.events, 1)
	reserved := store.events[0].(*event.InventoryReserved)
	assert.Equal(t, res.ID, reserved.ReservationID)
	assert.Equal(t, evt.EventID, reserved.CausationID)
	assert.Equal(t, "corr-1", reserved.CorrelationID)
}

func TestReserveInsufficientStock(t *testing.T) {
	svc, store := newService()
	seedProduct(store, "p1", 2)

	evt := reserveRequest("order-1", event.ReserveItem{ProductID: "p1", Quantity: 5})
	require.NoError(t, svc.HandleEvent(context.Background(), evt))

	// No stock was touched and no reservation row was written.
	assert.Equal(t, 2, store.products["p1"].AvailableQuantity)
	assert.Nil(t, store.reservations["order-1"])

	require.Len(t, store.events, 1)
	failed := store.events[0].(*event.InventoryReserveFailed)
	assert.Equal(t, "Insufficient inventory", failed.Reason)
	require.Len(t, failed.UnavailableItems, 1)
	assert.Equal(t, "p1", failed.UnavailableItems[0].ProductID)
	assert.Equal(t, 5, failed.UnavailableItems[0].Requested)
	assert.Equal(t, 2, failed.UnavailableItems[0].Available)
}

func TestReserveUnknownProduct(t *testing.T) {
	svc, store := newService()

	evt := reserveRequest("order-1", event.ReserveItem{ProductID: "ghost", Quantity: 1})
	require.NoError(t, svc.HandleEvent(context.Background(), evt))

	require.Len(t, store.events, 1)
	failed := store.events[0].(*event.InventoryReserveFailed)
	require.Len(t, failed.UnavailableItems, 1)
	assert.Equal(t, 0, failed.UnavailableItems[0].Available)
}

func TestReserveRedeliveryReEmitsReply(t *testing.T) {
	svc, store := newService()
	seedProduct(store, "p1", 10)

	evt := reserveRequest("order-1", event.ReserveItem{ProductID: "p1", Quantity: 3})
	require.NoError(t, svc.HandleEvent(context.Background(), evt))
	firstReservation := store.reservations["order-1"].ID
	store.events = nil

	require.NoError(t, svc.HandleEvent(context.Background(), evt))

	// Stock is reserved once; the reply carries the original reservation.
	assert.Equal(t, 7, store.products["p1"].AvailableQuantity)
	require.Len(t, store.events, 1)
	reserved := store.events[0].(*event.InventoryReserved)
	assert.Equal(t, firstReservation, reserved.ReservationID)
}

func TestReleaseReturnsStock(t *testing.T) {
	svc, store := newService()
	seedProduct(store, "p1", 10)

	require.NoError(t, svc.HandleEvent(context.Background(),
		reserveRequest("order-1", event.ReserveItem{ProductID: "p1", Quantity: 4})))
	store.events = nil

	release := &event.InventoryReleased{
		Envelope:      event.NewEnvelope(event.InventoryReleasedType, "order-1", "corr-1", ""),
		OrderID:       "order-1",
		ReservationID: store.reservations["order-1"].ID,
	}
	require.NoError(t, svc.HandleEvent(context.Background(), release))

	assert.Equal(t, 10, store.products["p1"].AvailableQuantity)
	assert.Equal(t, 0, store.products["p1"].ReservedQuantity)
	assert.Equal(t, inventory.ReservationReleased, store.reservations["order-1"].Status)
	assert.Empty(t, store.events)
}

func TestReleaseIsIdempotent(t *testing.T) {
	svc, store := newService()
	seedProduct(store, "p1", 10)

	require.NoError(t, svc.HandleEvent(context.Background(),
		reserveRequest("order-1", event.ReserveItem{ProductID: "p1", Quantity: 4})))

	release := &event.InventoryReleased{
		Envelope: event.NewEnvelope(event.InventoryReleasedType, "order-1", "corr-1", ""),
		OrderID:  "order-1",
	}
	require.NoError(t, svc.HandleEvent(context.Background(), release))
	require.NoError(t, svc.HandleEvent(context.Background(), release))

	// The second release must not inflate available stock.
	assert.Equal(t, 10, store.products["p1"].AvailableQuantity)
}

func TestReleaseUnknownReservation(t *testing.T) {
	svc, store := newService()

	release := &event.InventoryReleased{
		Envelope: event.NewEnvelope(event.InventoryReleasedType, "missing", "corr-1", ""),
		OrderID:  "missing",
	}
	require.NoError(t, svc.HandleEvent(context.Background(), release))
	assert.Empty(t, store.events)
}

func TestCreateProductValidation(t *testing.T) {
	svc, _ := newService()

	_, err := svc.CreateProduct(context.Background(), "", "", 1.0, 1)
	assert.Error(t, err)

	_, err = svc.CreateProduct(context.Background(), "Widget", "", -1.0, 1)
	assert.Error(t, err)

	_, err = svc.CreateProduct(context.Background(), "Widget", "", 1.0, -1)
	assert.Error(t, err)
}

func TestSeedOnlyWhenEmpty(t *testing.T) {
	svc, store := newService()

	require.NoError(t, svc.Seed(context.Background()))
	seeded := len(store.products)
	assert.Greater(t, seeded, 0)

	require.NoError(t, svc.Seed(context.Background()))
	assert.Equal(t, seeded, len(store.products))
}
