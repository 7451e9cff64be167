package analytics

import (
	"net/http"
	"strings"
	"time"

	"github.com/noah-isme/toko-pos/internal/common"
)

// Handler exposes analytics read endpoints.
type Handler struct {
	Svc *Service
}

// Daily handles GET /api/v1/reports/daily?date=YYYY-MM-DD; today by default.
func (h *Handler) Daily(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "ANALYTICS_NOT_CONFIGURED", "analytics service not configured", nil)
		return
	}
	date := h.Svc.now()
	if raw := strings.TrimSpace(r.URL.Query().Get("date")); raw != "" {
		parsed, err := time.ParseInLocation(DateLayout, raw, h.Svc.location())
		if err != nil {
			common.WriteError(w, common.BadRequest("date", "must be YYYY-MM-DD", err))
			return
		}
		date = parsed
	}
	top, err := common.ParseLimit(r, 10, 50)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	report, err := h.Svc.Daily(r.Context(), date, top)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "ANALYTICS_ERROR", err.Error(), nil)
		return
	}
	common.Data(w, http.StatusOK, report)
}
