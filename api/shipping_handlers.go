package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	appshipping "ordersaga/application/shipping"
)

// ShippingHandlers exposes shipment lookups.
type ShippingHandlers struct {
	service *appshipping.Service
	logger  *zap.Logger
}

func NewShippingHandlers(service *appshipping.Service, logger *zap.Logger) *ShippingHandlers {
	return &ShippingHandlers{service: service, logger: logger}
}

func (h *ShippingHandlers) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", Health("shipping-service"))
	r.Get("/shipments/{orderID}", h.getShipment)

	return r
}

func (h *ShippingHandlers) getShipment(w http.ResponseWriter, r *http.Request) {
	sh, err := h.service.GetShipment(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		logRequestError(h.logger, r, err)
		respondError(w, http.StatusInternalServerError, "failed to load shipment")
		return
	}
	if sh == nil {
		respondError(w, http.StatusNotFound, "shipment not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"id":                 sh.ID,
		"order_id":           sh.OrderID,
		"correlation_id":     sh.CorrelationID,
		"status":             string(sh.Status),
		"tracking_number":    sh.TrackingNumber,
		"shipping_address":   sh.ShippingAddress,
		"estimated_delivery": sh.EstimatedDelivery,
		"created_at":         sh.CreatedAt,
	})
}
