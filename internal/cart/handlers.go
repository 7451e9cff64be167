package cart

import (
	"net/http"

	"github.com/noah-isme/toko-pos/internal/common"
)

// Handler exposes stateless cart pricing.
type Handler struct {
	Quoter *Quoter
}

// Quote handles POST /api/v1/carts/quote.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	if h.Quoter == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart quoter not configured", nil)
		return
	}
	var req QuoteRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	quote, err := h.Quoter.Quote(r.Context(), req)
	if err != nil {
		common.WriteError(w, AppError(err))
		return
	}
	common.Data(w, http.StatusOK, quote.Snapshot)
}
