package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	appinventory "ordersaga/application/inventory"
	"ordersaga/domain/inventory"
)

// InventoryHandlers exposes the product catalog and reservation lookups.
type InventoryHandlers struct {
	service *appinventory.Service
	logger  *zap.Logger
}

func NewInventoryHandlers(service *appinventory.Service, logger *zap.Logger) *InventoryHandlers {
	return &InventoryHandlers{service: service, logger: logger}
}

func (h *InventoryHandlers) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", Health("inventory-service"))
	r.Post("/products", h.createProduct)
	r.Get("/products", h.listProducts)
	r.Get("/products/{productID}", h.getProduct)
	r.Get("/reservations/{orderID}", h.getReservation)

	return r
}

type productResponse struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Description       string  `json:"description"`
	Price             float64 `json:"price"`
	AvailableQuantity int     `json:"available_quantity"`
	ReservedQuantity  int     `json:"reserved_quantity"`
}

func toProductResponse(p *inventory.Product) productResponse {
	return productResponse{
		ID:                p.ID,
		Name:              p.Name,
		Description:       p.Description,
		Price:             p.Price,
		AvailableQuantity: p.AvailableQuantity,
		ReservedQuantity:  p.ReservedQuantity,
	}
}

func (h *InventoryHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string  `json:"name"`
		Description string  `json:"description"`
		Price       float64 `json:"price"`
		Quantity    int     `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := h.service.CreateProduct(r.Context(), req.Name, req.Description, req.Price, req.Quantity)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, toProductResponse(p))
}

func (h *InventoryHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.ListProducts(r.Context())
	if err != nil {
		logRequestError(h.logger, r, err)
		respondError(w, http.StatusInternalServerError, "failed to list products")
		return
	}

	out := make([]productResponse, 0, len(products))
	for _, p := range products {
		out = append(out, toProductResponse(p))
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *InventoryHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.GetProduct(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		logRequestError(h.logger, r, err)
		respondError(w, http.StatusInternalServerError, "failed to load product")
		return
	}
	if p == nil {
		respondError(w, http.StatusNotFound, "product not found")
		return
	}
	respondJSON(w, http.StatusOK, toProductResponse(p))
}

func (h *InventoryHandlers) getReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.GetReservation(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		logRequestError(h.logger, r, err)
		respondError(w, http.StatusInternalServerError, "failed to load reservation")
		return
	}
	if res == nil {
		respondError(w, http.StatusNotFound, "reservation not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"id":             res.ID,
		"order_id":       res.OrderID,
		"correlation_id": res.CorrelationID,
		"status":         string(res.Status),
		"items":          res.Items,
		"created_at":     res.CreatedAt,
		"released_at":    res.ReleasedAt,
	})
}
