package shipping

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ordersaga/domain/event"
	"ordersaga/domain/shipping"
)

type fakeStore struct {
	shipments map[string]*shipping.Shipment
	events    []event.Event
}

func newFakeStore() *fakeStore {
	return &fakeStore{shipments: map[string]*shipping.Shipment{}}
}

func (s *fakeStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	return fn(&fakeTx{store: s})
}

func (s *fakeStore) GetShipmentByOrderID(ctx context.Context, orderID string) (*shipping.Shipment, error) {
	return s.shipments[orderID], nil
}

type fakeTx struct {
	store *fakeStore
}

func (t *fakeTx) GetShipmentForUpdate(orderID string) (*shipping.Shipment, error) {
	return t.store.shipments[orderID], nil
}

func (t *fakeTx) InsertShipment(sh *shipping.Shipment) error {
	t.store.shipments[sh.OrderID] = sh
	return nil
}

func (t *fakeTx) AppendEvent(evt event.Event) error {
	t.store.events = append(t.store.events, evt)
	return nil
}

func confirmedEvent(orderID string) *event.OrderConfirmed {
	return &event.OrderConfirmed{
		Envelope:        event.NewEnvelope(event.OrderConfirmedType, orderID, "corr-1", "cause-1"),
		OrderID:         orderID,
		ShippingAddress: map[string]string{"street": "1 Main St", "city": "Springfield"},
	}
}

func TestScheduleShipment(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, zap.NewNop())

	evt := confirmedEvent("order-1")
	require.NoError(t, svc.HandleEvent(context.Background(), evt))

	sh := store.shipments["order-1"]
	require.NotNil(t, sh)
	assert.Equal(t, shipping.StatusScheduled, sh.Status)
	assert.Regexp(t, `^TRK[0-9A-F]{12}$`, sh.TrackingNumber)
	assert.Equal(t, evt.ShippingAddress, sh.ShippingAddress)
	assert.WithinDuration(t, time.Now().UTC().Add(4*24*time.Hour), sh.EstimatedDelivery, time.Minute)

	require.Len(t, store.events, 1)
	scheduled := store.events[0].(*event.ShippingScheduled)
	assert.Equal(t, sh.ID, scheduled.ShippingID)
	assert.Equal(t, evt.EventID, scheduled.CausationID)
	assert.Equal(t, "corr-1", scheduled.CorrelationID)
}

func TestScheduleRedeliveryReEmitsReply(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, zap.NewNop())

	evt := confirmedEvent("order-1")
	require.NoError(t, svc.HandleEvent(context.Background(), evt))
	first := store.shipments["order-1"]
	store.events = nil

	require.NoError(t, svc.HandleEvent(context.Background(), evt))

	// Only the original shipment exists; the reply is re-emitted.
	assert.Same(t, first, store.shipments["order-1"])
	require.Len(t, store.events, 1)
	scheduled := store.events[0].(*event.ShippingScheduled)
	assert.Equal(t, first.ID, scheduled.ShippingID)
}

func TestIgnoresUnexpectedEvent(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, zap.NewNop())

	evt := &event.OrderPlaced{
		Envelope: event.NewEnvelope(event.OrderPlacedType, "order-1", "corr-1", ""),
	}
	require.NoError(t, svc.HandleEvent(context.Background(), evt))
	assert.Empty(t, store.shipments)
	assert.Empty(t, store.events)
}
