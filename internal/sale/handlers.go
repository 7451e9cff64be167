package sale

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/toko-pos/internal/cart"
	"github.com/noah-isme/toko-pos/internal/common"
	"github.com/noah-isme/toko-pos/internal/sequence"
)

// Handler exposes the counter sale endpoints.
type Handler struct {
	Service *Service
	Quoter  *cart.Quoter
}

type quickRequest struct {
	cart.QuoteRequest
	Payment
}

type saleResponse struct {
	Sale
	Movements []Movement `json:"movements"`
}

// Quick handles POST /api/v1/sales/quick.
func (h *Handler) Quick(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil || h.Quoter == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "sale handler not configured", nil)
		return
	}
	actor, ok := common.ActorFrom(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	var req quickRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	quote, err := h.Quoter.Quote(r.Context(), req.QuoteRequest)
	if err != nil {
		common.WriteError(w, AppError(err))
		return
	}
	sale, err := h.Service.RegisterQuick(r.Context(), quote.Snapshot, quote.CustomerRecord, req.Payment, actor)
	if err != nil {
		common.WriteError(w, AppError(err))
		return
	}
	common.Data(w, http.StatusCreated, sale)
}

// Get handles GET /api/v1/sales/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "sale handler not configured", nil)
		return
	}
	sale, movements, err := h.Service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		common.WriteError(w, AppError(err))
		return
	}
	common.Data(w, http.StatusOK, saleResponse{Sale: sale, Movements: movements})
}

// AppError maps sale errors onto HTTP errors.
func AppError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return common.NotFound("sale not found", err)
	case errors.Is(err, ErrEmptySale):
		return common.BadRequest("items", ErrEmptySale.Error(), err)
	case errors.Is(err, ErrInvalidPaymentMethod):
		return common.BadRequest("paymentMethod", "must be one of cash, card, transfer", err)
	case errors.Is(err, ErrInsufficientPayment):
		return common.BadRequest("amountPaid", ErrInsufficientPayment.Error(), err)
	case errors.Is(err, ErrCreditLimit):
		return common.Conflict("CREDIT_LIMIT", ErrCreditLimit.Error(), err)
	case errors.Is(err, sequence.ErrAllocation), errors.Is(err, ErrCommitFailed):
		return common.Retry(err)
	}
	return cart.AppError(err)
}
