package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apppayment "ordersaga/application/payment"
)

// PaymentHandlers exposes transaction and refund lookups.
type PaymentHandlers struct {
	service *apppayment.Service
	logger  *zap.Logger
}

func NewPaymentHandlers(service *apppayment.Service, logger *zap.Logger) *PaymentHandlers {
	return &PaymentHandlers{service: service, logger: logger}
}

func (h *PaymentHandlers) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", Health("payment-service"))
	r.Get("/transactions/{orderID}", h.getTransaction)
	r.Get("/transactions/{orderID}/refunds", h.listRefunds)

	return r
}

func (h *PaymentHandlers) getTransaction(w http.ResponseWriter, r *http.Request) {
	t, err := h.service.GetTransaction(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		logRequestError(h.logger, r, err)
		respondError(w, http.StatusInternalServerError, "failed to load transaction")
		return
	}
	if t == nil {
		respondError(w, http.StatusNotFound, "transaction not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"id":             t.ID,
		"order_id":       t.OrderID,
		"customer_id":    t.CustomerID,
		"correlation_id": t.CorrelationID,
		"amount":         t.Amount,
		"currency":       t.Currency,
		"status":         string(t.Status),
		"error_message":  t.ErrorMessage,
		"created_at":     t.CreatedAt,
		"processed_at":   t.ProcessedAt,
	})
}

func (h *PaymentHandlers) listRefunds(w http.ResponseWriter, r *http.Request) {
	refunds, err := h.service.ListRefunds(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		logRequestError(h.logger, r, err)
		respondError(w, http.StatusInternalServerError, "failed to list refunds")
		return
	}

	out := make([]map[string]any, 0, len(refunds))
	for _, ref := range refunds {
		out = append(out, map[string]any{
			"id":             ref.ID,
			"transaction_id": ref.TransactionID,
			"order_id":       ref.OrderID,
			"amount":         ref.Amount,
			"reason":         ref.Reason,
			"status":         ref.Status,
			"created_at":     ref.CreatedAt,
		})
	}
	respondJSON(w, http.StatusOK, out)
}
