package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"ordersaga/application/saga"
	"ordersaga/domain/event"
	"ordersaga/domain/order"
	"ordersaga/infrastructure/messaging"
)

// OutboxAdmin is the slice of the outbox store the admin endpoints use.
type OutboxAdmin interface {
	RetryFailed(ctx context.Context, limit int) (int, error)
}

// OrderHandlers exposes the order service HTTP surface: order intake,
// saga inspection and the DLQ and outbox admin endpoints.
type OrderHandlers struct {
	orchestrator *saga.Orchestrator
	bus          *messaging.EventBus
	outbox       OutboxAdmin
	logger       *zap.Logger
}

func NewOrderHandlers(orchestrator *saga.Orchestrator, bus *messaging.EventBus, outbox OutboxAdmin, logger *zap.Logger) *OrderHandlers {
	return &OrderHandlers{orchestrator: orchestrator, bus: bus, outbox: outbox, logger: logger}
}

func (h *OrderHandlers) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", Health("order-service"))
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Get("/orders/{orderID}/saga-logs", h.getSagaLogs)
	r.Post("/orders/{orderID}/cancel", h.cancelOrder)
	r.Get("/dlq", h.drainDLQ)
	r.Post("/dlq/replay", h.replayDLQ)
	r.Post("/outbox/retry", h.retryOutbox)

	return r
}

type createOrderRequest struct {
	CustomerID      string            `json:"customer_id"`
	Items           []event.Item      `json:"items"`
	ShippingAddress map[string]string `json:"shipping_address"`
}

type orderResponse struct {
	ID              string            `json:"id"`
	CustomerID      string            `json:"customer_id"`
	Status          string            `json:"status"`
	CurrentStep     string            `json:"current_step"`
	Items           []event.Item      `json:"items"`
	TotalAmount     float64           `json:"total_amount"`
	ShippingAddress map[string]string `json:"shipping_address"`
	CorrelationID   string            `json:"correlation_id"`
	ReservationID   string            `json:"reservation_id,omitempty"`
	TransactionID   string            `json:"transaction_id,omitempty"`
	ErrorMessage    string            `json:"error_message,omitempty"`
	CreatedAt       string            `json:"created_at"`
	UpdatedAt       string            `json:"updated_at"`
}

func toOrderResponse(o *order.Order) orderResponse {
	return orderResponse{
		ID:              o.ID,
		CustomerID:      o.CustomerID,
		Status:          string(o.Status),
		CurrentStep:     string(o.CurrentStep),
		Items:           o.Items,
		TotalAmount:     o.TotalAmount,
		ShippingAddress: o.ShippingAddress,
		CorrelationID:   o.CorrelationID,
		ReservationID:   o.ReservationID,
		TransactionID:   o.TransactionID,
		ErrorMessage:    o.ErrorMessage,
		CreatedAt:       o.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
		UpdatedAt:       o.UpdatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
	}
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CustomerID == "" {
		respondError(w, http.StatusBadRequest, "customer_id is required")
		return
	}

	o, err := h.orchestrator.StartOrderSaga(r.Context(), req.CustomerID, req.Items, req.ShippingAddress)
	if err != nil {
		if errors.Is(err, order.ErrInvalidOrder) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		logRequestError(h.logger, r, err)
		respondError(w, http.StatusInternalServerError, "failed to place order")
		return
	}

	respondJSON(w, http.StatusCreated, toOrderResponse(o))
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	orders, err := h.orchestrator.ListOrders(r.Context(), limit)
	if err != nil {
		logRequestError(h.logger, r, err)
		respondError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}

	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orchestrator.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		logRequestError(h.logger, r, err)
		respondError(w, http.StatusInternalServerError, "failed to load order")
		return
	}
	if o == nil {
		respondError(w, http.StatusNotFound, "order not found")
		return
	}
	respondJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *OrderHandlers) getSagaLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.orchestrator.SagaLogs(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		logRequestError(h.logger, r, err)
		respondError(w, http.StatusInternalServerError, "failed to load saga logs")
		return
	}

	type logResponse struct {
		ID            string          `json:"id"`
		OrderID       string          `json:"order_id"`
		CorrelationID string          `json:"correlation_id"`
		Step          string          `json:"step"`
		EventType     string          `json:"event_type"`
		EventID       string          `json:"event_id"`
		Status        string          `json:"status"`
		EventData     json.RawMessage `json:"event_data,omitempty"`
		ErrorMessage  string          `json:"error_message,omitempty"`
		CreatedAt     string          `json:"created_at"`
	}

	out := make([]logResponse, 0, len(logs))
	for _, l := range logs {
		out = append(out, logResponse{
			ID:            l.ID,
			OrderID:       l.OrderID,
			CorrelationID: l.CorrelationID,
			Step:          string(l.Step),
			EventType:     string(l.EventType),
			EventID:       l.EventID,
			Status:        string(l.Status),
			EventData:     json.RawMessage(l.EventData),
			ErrorMessage:  l.ErrorMessage,
			CreatedAt:     l.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	json.NewDecoder(r.Body).Decode(&req)
	if req.Reason == "" {
		req.Reason = "cancelled by customer"
	}

	o, err := h.orchestrator.CancelOrder(r.Context(), chi.URLParam(r, "orderID"), req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, saga.ErrOrderNotFound):
			respondError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, saga.ErrCannotCancel):
			respondError(w, http.StatusConflict, "order cannot be cancelled")
		default:
			logRequestError(h.logger, r, err)
			respondError(w, http.StatusInternalServerError, "failed to cancel order")
		}
		return
	}

	respondJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *OrderHandlers) drainDLQ(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	letters, err := h.bus.DrainDLQ(limit)
	if err != nil {
		logRequestError(h.logger, r, err)
		respondError(w, http.StatusInternalServerError, "failed to drain dead letter queue")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"count":    len(letters),
		"messages": letters,
	})
}

func (h *OrderHandlers) replayDLQ(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Event json.RawMessage `json:"event"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Event) == 0 {
		respondError(w, http.StatusBadRequest, "event payload is required")
		return
	}

	evt, err := event.Decode(req.Event)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.bus.Replay(r.Context(), evt); err != nil {
		logRequestError(h.logger, r, err)
		respondError(w, http.StatusInternalServerError, "failed to replay event")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{
		"event_id": evt.Meta().EventID,
		"status":   "replayed",
	})
}

func (h *OrderHandlers) retryOutbox(w http.ResponseWriter, r *http.Request) {
	n, err := h.outbox.RetryFailed(r.Context(), 100)
	if err != nil {
		logRequestError(h.logger, r, err)
		respondError(w, http.StatusInternalServerError, "failed to retry outbox messages")
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"reset": n})
}
