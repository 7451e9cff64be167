package catalog

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/toko-pos/internal/common"
)

// Handler exposes catalog endpoints.
type Handler struct {
	service *Service
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Service *Service
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{service: cfg.Service}
}

// Products handles GET /api/v1/products.
func (h *Handler) Products(w http.ResponseWriter, r *http.Request) {
	limit, err := common.ParseLimit(r, 200, 1000)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	items, err := h.service.ListProducts(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, items)
}

// Product handles GET /api/v1/products/{id}.
func (h *Handler) Product(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Product(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, p)
}

// PutProduct handles PUT /api/v1/admin/products/{id}.
func (h *Handler) PutProduct(w http.ResponseWriter, r *http.Request) {
	var p Product
	if err := common.DecodeJSON(r, &p); err != nil {
		common.WriteError(w, err)
		return
	}
	p.ID = chi.URLParam(r, "id")
	saved, err := h.service.SaveProduct(r.Context(), p)
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, saved)
}

// Customers handles GET /api/v1/customers.
func (h *Handler) Customers(w http.ResponseWriter, r *http.Request) {
	limit, err := common.ParseLimit(r, 200, 1000)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	items, err := h.service.ListCustomers(r.Context(), r.URL.Query().Get("routeId"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, items)
}

// Customer handles GET /api/v1/customers/{id}.
func (h *Handler) Customer(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.Customer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, c)
}

// PutCustomer handles PUT /api/v1/admin/customers/{id}.
func (h *Handler) PutCustomer(w http.ResponseWriter, r *http.Request) {
	var c Customer
	if err := common.DecodeJSON(r, &c); err != nil {
		common.WriteError(w, err)
		return
	}
	c.ID = chi.URLParam(r, "id")
	saved, err := h.service.SaveCustomer(r.Context(), c)
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, saved)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrProductNotFound):
		common.WriteError(w, common.NotFound("product not found", err))
	case errors.Is(err, ErrCustomerNotFound):
		common.WriteError(w, common.NotFound("customer not found", err))
	default:
		common.WriteError(w, err)
	}
}
