// Package audit records an append-only trail of administrative changes.
package audit

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/noah-isme/toko-pos/internal/common"
	"github.com/noah-isme/toko-pos/internal/docstore"
	"github.com/noah-isme/toko-pos/internal/obs"
)

// Collection holds audit entries.
const Collection = "audit_logs"

// ActorKind represents the source of an audited action.
type ActorKind string

const (
	// ActorKindUser represents an authenticated operator.
	ActorKindUser ActorKind = "user"
	// ActorKindSystem represents internal automated actions.
	ActorKindSystem ActorKind = "system"
	// ActorKindAnonymous represents unauthenticated actors.
	ActorKindAnonymous ActorKind = "anonymous"
)

// Actor describes the entity performing the action.
type Actor struct {
	Kind   ActorKind
	UserID string
	Role   string
}

// Entry is one stored audit record.
type Entry struct {
	ID           string         `json:"id"`
	ActorKind    ActorKind      `json:"actorKind"`
	ActorUserID  string         `json:"actorUserId,omitempty"`
	ActorRole    string         `json:"actorRole,omitempty"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resourceType"`
	ResourceID   string         `json:"resourceId,omitempty"`
	Method       string         `json:"method"`
	Path         string         `json:"path"`
	Route        string         `json:"route,omitempty"`
	Status       int            `json:"status"`
	IP           string         `json:"ip,omitempty"`
	UserAgent    string         `json:"userAgent,omitempty"`
	RequestID    string         `json:"requestId,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// Service persists audit entries in the document store.
type Service struct {
	Store        docstore.Store
	Enabled      bool
	SamplingRate float64
	Now          func() time.Time
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Record stores an entry for req when auditing is enabled.
func (s Service) Record(ctx context.Context, actor Actor, action, resourceType, resourceID string, req *http.Request, status int, metadata map[string]any) error {
	if !s.Enabled {
		return nil
	}
	if s.SamplingRate > 0 && s.SamplingRate < 1 {
		if rand.Float64() > s.SamplingRate {
			return nil
		}
	}
	if req == nil {
		return errors.New("audit: request is required")
	}
	if s.Store == nil {
		return errors.New("audit: store not configured")
	}

	route := obs.RouteOf(req)
	if route == "" {
		route = strings.TrimSpace(req.URL.Path)
	}
	if status == 0 {
		status = http.StatusOK
	}
	if len(metadata) == 0 && strings.TrimSpace(req.URL.RawQuery) != "" {
		metadata = map[string]any{"query": req.URL.RawQuery}
	}

	entry := Entry{
		ID:           docstore.NewID(),
		ActorKind:    normalizeActorKind(actor.Kind),
		ActorUserID:  strings.TrimSpace(actor.UserID),
		ActorRole:    strings.TrimSpace(actor.Role),
		Action:       buildAction(action, req.Method, route),
		ResourceType: buildResource(resourceType, route),
		ResourceID:   strings.TrimSpace(resourceID),
		Method:       req.Method,
		Path:         req.URL.Path,
		Route:        route,
		Status:       status,
		IP:           common.ClientIP(req),
		UserAgent:    strings.TrimSpace(req.Header.Get("User-Agent")),
		RequestID:    strings.TrimSpace(req.Header.Get("X-Request-ID")),
		Metadata:     metadata,
		CreatedAt:    s.now(),
	}
	return s.Store.Create(ctx, docstore.Doc(Collection, entry.ID), entry)
}

// List returns the newest entries first.
func (s Service) List(ctx context.Context, resourceType string, limit int) ([]Entry, error) {
	if s.Store == nil {
		return nil, errors.New("audit: store not configured")
	}
	q := docstore.Query{Collection: Collection, OrderBy: docstore.CreateTimeField, Desc: true, Limit: limit}
	if resourceType != "" {
		q.Where = []docstore.Filter{{Field: "resourceType", Value: resourceType}}
	}
	snaps, err := s.Store.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(snaps))
	for _, snap := range snaps {
		var e Entry
		if err := snap.DataTo(&e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func buildAction(action, method, route string) string {
	trimmed := strings.TrimSpace(action)
	if trimmed != "" {
		return trimmed
	}
	target := route
	if target == "" {
		target = "/"
	}
	return strings.ToUpper(strings.TrimSpace(method)) + " " + target
}

func buildResource(resourceType, route string) string {
	trimmed := strings.TrimSpace(resourceType)
	if trimmed != "" {
		return trimmed
	}
	route = strings.TrimSpace(route)
	if route == "" {
		return "unknown"
	}
	segments := strings.Split(strings.Trim(route, "/"), "/")
	if len(segments) >= 3 && segments[0] == "api" && segments[1] == "v1" {
		segments = segments[2:]
	}
	kept := segments[:0]
	for _, seg := range segments {
		if strings.HasPrefix(seg, "{") {
			continue
		}
		kept = append(kept, seg)
	}
	return strings.Join(kept, ".")
}

func normalizeActorKind(kind ActorKind) ActorKind {
	switch kind {
	case ActorKindUser, ActorKindSystem:
		return kind
	default:
		return ActorKindAnonymous
	}
}
