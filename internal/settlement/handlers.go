package settlement

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/toko-pos/internal/common"
	"github.com/noah-isme/toko-pos/internal/presale"
	"github.com/noah-isme/toko-pos/internal/sale"
)

// Handler exposes settlement over HTTP.
type Handler struct {
	Orders *presale.Repository
	Engine *Engine
}

type settleResponse struct {
	SaleID    string `json:"saleId"`
	PresaleID string `json:"presaleId"`
}

// Settle handles POST /api/v1/presales/{id}/settle.
func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	if h.Orders == nil || h.Engine == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "settlement handler not configured", nil)
		return
	}
	actor, ok := common.ActorFrom(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	var payment PaymentDetails
	if err := common.DecodeJSON(r, &payment); err != nil {
		common.WriteError(w, err)
		return
	}
	order, err := h.Orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		common.WriteError(w, AppError(err))
		return
	}
	saleID, err := h.Engine.Settle(r.Context(), order, payment, actor)
	if err != nil {
		common.WriteError(w, AppError(err))
		return
	}
	common.Data(w, http.StatusCreated, settleResponse{SaleID: saleID, PresaleID: order.ID})
}

// AppError maps settlement errors onto HTTP errors.
func AppError(err error) error {
	if errors.Is(err, ErrCommitFailed) {
		return common.Retry(err)
	}
	if errors.Is(err, sale.ErrInvalidPaymentMethod) || errors.Is(err, sale.ErrInsufficientPayment) {
		return sale.AppError(err)
	}
	return presale.AppError(err)
}
