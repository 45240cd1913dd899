package outbox

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ordersaga/domain/event"
)

type fakeStore struct {
	pending    []Message
	published  []string
	failures   map[string]int
	pendingErr error
}

func newFakeStore(messages ...Message) *fakeStore {
	return &fakeStore{pending: messages, failures: map[string]int{}}
}

func (s *fakeStore) Pending(ctx context.Context, limit int) ([]Message, error) {
	if s.pendingErr != nil {
		return nil, s.pendingErr
	}
	if len(s.pending) > limit {
		return s.pending[:limit], nil
	}
	return s.pending, nil
}

func (s *fakeStore) MarkPublished(ctx context.Context, ids []string) error {
	s.published = append(s.published, ids...)
	return nil
}

func (s *fakeStore) RecordFailure(ctx context.Context, id, lastError string, maxRetries int) error {
	s.failures[id]++
	return nil
}

type fakePublisher struct {
	events  []event.Event
	failFor map[string]error
}

func (p *fakePublisher) Publish(ctx context.Context, evt event.Event) error {
	if err, ok := p.failFor[evt.Meta().EventID]; ok {
		return err
	}
	p.events = append(p.events, evt)
	return nil
}

func (p *fakePublisher) eventIDs() []string {
	ids := make([]string, 0, len(p.events))
	for _, evt := range p.events {
		ids = append(ids, evt.Meta().EventID)
	}
	return ids
}

func message(t *testing.T, id string, evt event.Event) Message {
	t.Helper()
	payload, err := event.Encode(evt)
	require.NoError(t, err)
	meta := evt.Meta()
	return Message{
		ID:        id,
		EventID:   meta.EventID,
		EventType: meta.EventType,
		Payload:   payload,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

func placedEvent(eventID string) *event.OrderPlaced {
	env := event.NewEnvelope(event.OrderPlacedType, "order-1", "corr-1", "")
	env.EventID = eventID
	return &event.OrderPlaced{Envelope: env, CustomerID: "cust-1"}
}

func TestTickPublishesPendingBatch(t *testing.T) {
	store := newFakeStore(
		message(t, "m1", placedEvent("e1")),
		message(t, "m2", placedEvent("e2")),
	)
	pub := &fakePublisher{}
	relay := NewRelay(store, pub, zap.NewNop(), time.Second, 100, 3)

	require.NoError(t, relay.Tick(context.Background()))

	assert.Equal(t, []string{"e1", "e2"}, pub.eventIDs())
	assert.Equal(t, []string{"m1", "m2"}, store.published)
	assert.Empty(t, store.failures)
}

func TestTickPreservesEnvelope(t *testing.T) {
	store := newFakeStore(message(t, "m1", placedEvent("e1")))
	pub := &fakePublisher{}
	relay := NewRelay(store, pub, zap.NewNop(), time.Second, 100, 3)

	require.NoError(t, relay.Tick(context.Background()))

	// The relay hands the decoded event to the bus, so the broker
	// headers carry the stored correlation ID and version.
	require.Len(t, pub.events, 1)
	meta := pub.events[0].Meta()
	assert.Equal(t, "e1", meta.EventID)
	assert.Equal(t, event.OrderPlacedType, meta.EventType)
	assert.Equal(t, "corr-1", meta.CorrelationID)
	assert.Equal(t, 1, meta.Version)
}

func TestTickEmptyOutbox(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	relay := NewRelay(store, pub, zap.NewNop(), time.Second, 100, 3)

	require.NoError(t, relay.Tick(context.Background()))
	assert.Empty(t, pub.events)
	assert.Empty(t, store.published)
}

func TestTickFailureDoesNotStallBatch(t *testing.T) {
	store := newFakeStore(
		message(t, "m1", placedEvent("e1")),
		message(t, "m2", placedEvent("e2")),
		message(t, "m3", placedEvent("e3")),
	)
	pub := &fakePublisher{failFor: map[string]error{"e2": fmt.Errorf("broker unavailable")}}
	relay := NewRelay(store, pub, zap.NewNop(), time.Second, 100, 3)

	require.NoError(t, relay.Tick(context.Background()))

	assert.Equal(t, []string{"e1", "e3"}, pub.eventIDs())
	assert.Equal(t, []string{"m1", "m3"}, store.published)
	assert.Equal(t, 1, store.failures["m2"])
}

func TestTickUndecodablePayloadRecordedAsFailure(t *testing.T) {
	bad := Message{
		ID:        "m2",
		EventID:   "e2",
		EventType: "order.imploded",
		Payload:   []byte(`{"event_type":"order.imploded"}`),
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	store := newFakeStore(message(t, "m1", placedEvent("e1")), bad)
	pub := &fakePublisher{}
	relay := NewRelay(store, pub, zap.NewNop(), time.Second, 100, 3)

	require.NoError(t, relay.Tick(context.Background()))

	assert.Equal(t, []string{"e1"}, pub.eventIDs())
	assert.Equal(t, []string{"m1"}, store.published)
	assert.Equal(t, 1, store.failures["m2"])
}

func TestTickRespectsBatchSize(t *testing.T) {
	store := newFakeStore(
		message(t, "m1", placedEvent("e1")),
		message(t, "m2", placedEvent("e2")),
		message(t, "m3", placedEvent("e3")),
	)
	pub := &fakePublisher{}
	relay := NewRelay(store, pub, zap.NewNop(), time.Second, 2, 3)

	require.NoError(t, relay.Tick(context.Background()))
	assert.Len(t, store.published, 2)
}

func TestTickPropagatesStoreError(t *testing.T) {
	store := newFakeStore()
	store.pendingErr = fmt.Errorf("connection reset")
	relay := NewRelay(store, &fakePublisher{}, zap.NewNop(), time.Second, 100, 3)

	assert.Error(t, relay.Tick(context.Background()))
}
