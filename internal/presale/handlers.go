package presale

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pos/internal/cart"
	"github.com/noah-isme/toko-pos/internal/common"
	"github.com/noah-isme/toko-pos/internal/docstore"
	"github.com/noah-isme/toko-pos/internal/sequence"
)

// Handler exposes pre-sale endpoints.
type Handler struct {
	Repo      *Repository
	Quoter    *cart.Quoter
	Heartbeat time.Duration
	Logger    *zerolog.Logger
}

type orderRequest struct {
	cart.QuoteRequest
	RouteID string `json:"routeId,omitempty"`
}

type fulfillmentRequest struct {
	Status string `json:"status"`
}

func (h *Handler) ready(w http.ResponseWriter) bool {
	if h.Repo == nil || h.Quoter == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "presale handler not configured", nil)
		return false
	}
	return true
}

func actorOrUnauthorized(w http.ResponseWriter, r *http.Request) (common.Actor, bool) {
	actor, ok := common.ActorFrom(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
	}
	return actor, ok
}

// Create handles POST /api/v1/presales.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}
	var req orderRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	quote, err := h.Quoter.Quote(r.Context(), req.QuoteRequest)
	if err != nil {
		writeError(w, err)
		return
	}
	order, err := h.Repo.Create(r.Context(), quote.Snapshot, quote.CustomerRecord, req.RouteID, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, order)
}

// List handles GET /api/v1/presales.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	orders, err := h.Repo.List(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, orders)
}

// Get handles GET /api/v1/presales/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	order, err := h.Repo.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, order)
}

// Update handles PUT /api/v1/presales/{id}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}
	var req orderRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	quote, err := h.Quoter.Quote(r.Context(), req.QuoteRequest)
	if err != nil {
		writeError(w, err)
		return
	}
	order, err := h.Repo.Update(r.Context(), chi.URLParam(r, "id"), quote.Snapshot, quote.CustomerRecord, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, order)
}

// History handles GET /api/v1/presales/{id}/history.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := h.Repo.Get(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	entries, err := h.Repo.History(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, entries)
}

// Fulfillment handles PATCH /api/v1/presales/{id}/fulfillment.
func (h *Handler) Fulfillment(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	actor, ok := actorOrUnauthorized(w, r)
	if !ok {
		return
	}
	var req fulfillmentRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	target, valid := ParseFulfillment(req.Status)
	if !valid {
		common.WriteError(w, common.BadRequest("status", "unsupported fulfillment status", nil))
		return
	}
	order, err := h.Repo.AdvanceFulfillment(r.Context(), chi.URLParam(r, "id"), target, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, order)
}

// PickList handles GET /api/v1/presales/picklist.
func (h *Handler) PickList(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	list, err := h.Repo.PickList(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, list)
}

// Stream handles GET /api/v1/presales/stream as Server-Sent Events. Every
// change to a matching order pushes the full current list.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "streaming unsupported", nil)
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	ctx := r.Context()
	updates, err := h.Repo.Watch(ctx, f)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := h.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()
	seq := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case orders, open := <-updates:
			if !open {
				return
			}
			payload, err := json.Marshal(orders)
			if err != nil {
				if h.Logger != nil {
					h.Logger.Error().Err(err).Msg("encode pre-sale stream update")
				}
				continue
			}
			seq++
			if _, err := fmt.Fprintf(w, "event: presales\nid: %d\ndata: %s\n\n", seq, payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func parseFilter(r *http.Request) (Filter, error) {
	q := r.URL.Query()
	f := Filter{RouteID: q.Get("routeId")}
	switch status := Status(q.Get("status")); status {
	case "", StatusPending, StatusPaid:
		f.Status = status
	default:
		return Filter{}, common.BadRequest("status", "status must be pending or paid", nil)
	}
	if raw := q.Get("fulfillmentStatus"); raw != "" {
		stage, ok := ParseFulfillment(raw)
		if !ok {
			return Filter{}, common.BadRequest("fulfillmentStatus", "unsupported fulfillment status", nil)
		}
		f.FulfillmentStatus = stage
	}
	limit, err := common.ParseLimit(r, 100, 500)
	if err != nil {
		return Filter{}, err
	}
	f.Limit = limit
	return f, nil
}

// AppError maps repository failures to API errors.
func AppError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return common.NotFound("pre-sale not found", err)
	case errors.Is(err, ErrEmptyOrder):
		return common.BadRequest("items", ErrEmptyOrder.Error(), err)
	case errors.Is(err, ErrNotPending):
		return common.Conflict("INVALID_STATE", "pre-sale is no longer pending", err)
	case errors.Is(err, ErrStale):
		return common.Conflict("STALE_ORDER", "pre-sale changed since it was read; reload and retry", err)
	case errors.Is(err, ErrInvalidTransition):
		return common.Conflict("INVALID_STATE", "cannot transition to equal or previous state", err)
	case errors.Is(err, sequence.ErrAllocation), docstore.IsRetryable(err):
		return common.Retry(err)
	}
	return cart.AppError(err)
}

func writeError(w http.ResponseWriter, err error) {
	common.WriteError(w, AppError(err))
}
