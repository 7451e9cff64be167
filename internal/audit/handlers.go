package audit

import (
	"net/http"
	"strings"

	"github.com/noah-isme/toko-pos/internal/common"
)

// Handler exposes HTTP endpoints for working with audit logs.
type Handler struct {
	Service Service
}

// List returns the latest audit entries, optionally filtered by resource.
func (h Handler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := common.ParseLimit(r, 50, 200)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	entries, err := h.Service.List(r.Context(), strings.TrimSpace(r.URL.Query().Get("resource")), limit)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "AUDIT_QUERY_FAILED", "unable to fetch audit logs", nil)
		return
	}
	common.Data(w, http.StatusOK, entries)
}
