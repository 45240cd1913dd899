package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkguuid "ordersaga/pkg/uuid"
)

func TestNewEnvelope(t *testing.T) {
	env := NewEnvelope(OrderPlacedType, "agg-1", "corr-1", "cause-1")

	assert.True(t, pkguuid.Validate(env.EventID))
	assert.Equal(t, OrderPlacedType, env.EventType)
	assert.Equal(t, "agg-1", env.AggregateID)
	assert.Equal(t, 1, env.Version)
	assert.Equal(t, "corr-1", env.CorrelationID)
	assert.Equal(t, "cause-1", env.CausationID)
	assert.False(t, env.Timestamp.IsZero())
	assert.NotNil(t, env.Metadata)
}

func TestDecodeDispatchesOnTypeTag(t *testing.T) {
	placed := &OrderPlaced{
		Envelope:   NewEnvelope(OrderPlacedType, "order-1", "corr-1", ""),
		CustomerID: "cust-1",
		Items: []Item{
			{ProductID: "p1", Quantity: 2, Price: 10.50},
		},
		TotalAmount:     21.0,
		ShippingAddress: map[string]string{"city": "Springfield"},
	}

	body, err := Encode(placed)
	require.NoError(t, err)

	decoded, err := Decode(body)
	require.NoError(t, err)

	got, ok := decoded.(*OrderPlaced)
	require.True(t, ok)
	assert.Equal(t, placed.EventID, got.EventID)
	assert.Equal(t, placed.CustomerID, got.CustomerID)
	assert.Equal(t, placed.Items, got.Items)
	assert.InDelta(t, placed.TotalAmount, got.TotalAmount, 0.001)
}

func TestDecodeReplyEvent(t *testing.T) {
	failed := &InventoryReserveFailed{
		Envelope: NewEnvelope(InventoryReserveFailedType, "order-1", "corr-1", "cause-1"),
		OrderID:  "order-1",
		Reason:   "Insufficient inventory",
		UnavailableItems: []UnavailableItem{
			{ProductID: "p1", Requested: 5, Available: 2},
		},
	}

	body, err := Encode(failed)
	require.NoError(t, err)

	decoded, err := Decode(body)
	require.NoError(t, err)

	got := decoded.(*InventoryReserveFailed)
	assert.Equal(t, "cause-1", got.CausationID)
	assert.Equal(t, failed.UnavailableItems, got.UnavailableItems)
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"event_type":"order.imploded"}`))
	assert.ErrorContains(t, err, "unknown event type")
}

func TestDecodeMalformedBody(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	assert.Error(t, err)
}

func TestRegistryCoversAllTypes(t *testing.T) {
	types := []Type{
		OrderPlacedType, OrderConfirmedType, OrderCancelledType, OrderFailedType,
		InventoryReserveRequestedType, InventoryReservedType, InventoryReserveFailedType, InventoryReleasedType,
		PaymentRequestedType, PaymentProcessedType, PaymentFailedType, PaymentRefundedType,
		ShippingScheduledType, ShippingDispatchedType, ShippingDeliveredType, ShippingFailedType,
	}
	for _, typ := range types {
		ctor, ok := registry[typ]
		require.True(t, ok, "missing constructor for %s", typ)
		assert.NotNil(t, ctor())
	}
}
