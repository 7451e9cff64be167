package audit

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/toko-pos/internal/common"
	"github.com/noah-isme/toko-pos/internal/obs"
)

// HTTPRecorder records HTTP requests after they have been handled.
type HTTPRecorder struct {
	Service Service
	OnError func(error)
}

// HTTPConfig customises how the audit entry is produced for a route.
type HTTPConfig struct {
	Action          string
	ResourceType    string
	ResourceIDParam string
	MetadataFunc    func(*http.Request, int) map[string]any
}

// Middleware records an entry for every non-GET request it wraps.
func (r HTTPRecorder) Middleware(cfg HTTPConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !r.Service.Enabled || req.Method == http.MethodGet || req.Method == http.MethodHead {
				next.ServeHTTP(w, req)
				return
			}

			rec := obs.NewStatusRecorder(w)
			next.ServeHTTP(rec, req)

			resourceID := ""
			if cfg.ResourceIDParam != "" {
				resourceID = chi.URLParam(req, cfg.ResourceIDParam)
			}
			var metadata map[string]any
			if cfg.MetadataFunc != nil {
				metadata = cfg.MetadataFunc(req, rec.Status())
			}

			if err := r.Service.Record(req.Context(), actorOf(req), cfg.Action, cfg.ResourceType, resourceID, req, rec.Status(), metadata); err != nil && r.OnError != nil {
				r.OnError(err)
			}
		})
	}
}

func actorOf(req *http.Request) Actor {
	if actor, ok := common.ActorFrom(req.Context()); ok && actor.ID != "" {
		return Actor{Kind: ActorKindUser, UserID: actor.ID, Role: actor.Role}
	}
	return Actor{Kind: ActorKindAnonymous}
}
