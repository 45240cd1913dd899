package event

import (
	"encoding/json"
	"fmt"
)

// registry maps an event type tag to a constructor for the concrete struct.
// Deserialization dispatches on the tag, so adding an event means adding a
// struct and one line here.
var registry = map[Type]func() Event{
	OrderPlacedType:    func() Event { return &OrderPlaced{} },
	OrderConfirmedType: func() Event { return &OrderConfirmed{} },
	OrderCancelledType: func() Event { return &OrderCancelled{} },
	OrderFailedType:    func() Event { return &OrderFailed{} },

	InventoryReserveRequestedType: func() Event { return &InventoryReserveRequested{} },
	InventoryReservedType:         func() Event { return &InventoryReserved{} },
	InventoryReserveFailedType:    func() Event { return &InventoryReserveFailed{} },
	InventoryReleasedType:         func() Event { return &InventoryReleased{} },

	PaymentRequestedType: func() Event { return &PaymentRequested{} },
	PaymentProcessedType: func() Event { return &PaymentProcessed{} },
	PaymentFailedType:    func() Event { return &PaymentFailed{} },
	PaymentRefundedType:  func() Event { return &PaymentRefunded{} },

	ShippingScheduledType:  func() Event { return &ShippingScheduled{} },
	ShippingDispatchedType: func() Event { return &ShippingDispatched{} },
	ShippingDeliveredType:  func() Event { return &ShippingDelivered{} },
	ShippingFailedType:     func() Event { return &ShippingFailed{} },
}

// Encode serializes an event to its JSON wire form.
func Encode(evt Event) ([]byte, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event %s: %w", evt.Meta().EventType, err)
	}
	return data, nil
}

// Decode deserializes an event body by dispatching on the event_type tag.
func Decode(data []byte) (Event, error) {
	var head struct {
		EventType Type `json:"event_type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("failed to read event type tag: %w", err)
	}

	ctor, ok := registry[head.EventType]
	if !ok {
		return nil, fmt.Errorf("unknown event type: %q", head.EventType)
	}

	evt := ctor()
	if err := json.Unmarshal(data, evt); err != nil {
		return nil, fmt.Errorf("failed to decode %s event: %w", head.EventType, err)
	}

	return evt, nil
}
