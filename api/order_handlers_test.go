package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ordersaga/application/saga"
	"ordersaga/domain/event"
	"ordersaga/domain/order"
	"ordersaga/infrastructure/messaging"
)

type memStore struct {
	orders map[string]*order.Order
	logs   []order.SagaLog
	events []event.Event
}

func (s *memStore) WithinTx(ctx context.Context, fn func(tx saga.Tx) error) error {
	return fn(&memTx{store: s})
}

func (s *memStore) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	return s.orders[id], nil
}

func (s *memStore) ListOrders(ctx context.Context, limit int) ([]*order.Order, error) {
	var out []*order.Order
	for _, o := range s.orders {
		out = append(out, o)
	}
	return out, nil
}

func (s *memStore) ListSagaLogs(ctx context.Context, orderID string) ([]order.SagaLog, error) {
	var out []order.SagaLog
	for _, l := range s.logs {
		if l.OrderID == orderID {
			out = append(out, l)
		}
	}
	return out, nil
}

type memTx struct {
	store *memStore
}

func (t *memTx) InsertOrder(o *order.Order) error {
	t.store.orders[o.ID] = o
	return nil
}

func (t *memTx) GetOrderForUpdate(id string) (*order.Order, error) {
	return t.store.orders[id], nil
}

func (t *memTx) UpdateOrder(o *order.Order) error {
	t.store.orders[o.ID] = o
	return nil
}

func (t *memTx) AppendSagaLog(l order.SagaLog) error {
	t.store.logs = append(t.store.logs, l)
	return nil
}

func (t *memTx) AppendEvent(evt event.Event) error {
	t.store.events = append(t.store.events, evt)
	return nil
}

type noRetry struct{}

func (noRetry) RetryFailed(ctx context.Context, limit int) (int, error) { return 0, nil }

func newTestRouter() (http.Handler, *memStore) {
	store := &memStore{orders: map[string]*order.Order{}}
	orchestrator := saga.NewOrchestrator(store, zap.NewNop())
	bus := messaging.NewEventBus("amqp://localhost", zap.NewNop())
	handlers := NewOrderHandlers(orchestrator, bus, noRetry{}, zap.NewNop())
	return handlers.Router(), store
}

func TestCreateOrder(t *testing.T) {
	router, store := newTestRouter()

	body := `{
		"customer_id": "cust-1",
		"items": [{"product_id": "p1", "quantity": 2, "price": 10.5}],
		"shipping_address": {"city": "Springfield"}
	}`
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"pending"`)
	assert.Contains(t, rec.Body.String(), `"total_amount":21`)
	assert.Len(t, store.events, 2)
}

func TestCreateOrderRejectsEmptyItems(t *testing.T) {
	router, _ := newTestRouter()

	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"customer_id":"cust-1","items":[]}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateOrderRejectsMissingCustomer(t *testing.T) {
	router, _ := newTestRouter()

	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"items":[{"product_id":"p1","quantity":1,"price":1}]}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetOrderNotFound(t *testing.T) {
	router, _ := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/orders/missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelOrder(t *testing.T) {
	router, store := newTestRouter()

	o, err := order.New("cust-1", []event.Item{{ProductID: "p1", Quantity: 1, Price: 5}}, nil)
	require.NoError(t, err)
	store.orders[o.ID] = o

	req := httptest.NewRequest(http.MethodPost, "/orders/"+o.ID+"/cancel", strings.NewReader(`{"reason":"test"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, order.StatusCancelled, o.Status)

	// Cancelling again conflicts.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/orders/"+o.ID+"/cancel", strings.NewReader(`{}`))
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "order-service")
}
