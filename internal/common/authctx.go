package common

import "context"

type ctxKey string

const actorKey ctxKey = "auth/actor"

// Role names issued by the identity provider.
const (
	RoleAdmin    = "admin"
	RoleUser     = "user"
	RoleDelivery = "entregador"
)

// Actor is the authenticated caller as asserted by the identity provider.
type Actor struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// WithActor stores the authenticated actor on the provided context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFrom extracts the authenticated actor from the context if present.
func ActorFrom(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey).(Actor)
	if !ok || actor.ID == "" {
		return Actor{}, false
	}
	return actor, true
}

// UserID extracts the authenticated user identifier from the context if present.
func UserID(ctx context.Context) (string, bool) {
	actor, ok := ActorFrom(ctx)
	if !ok {
		return "", false
	}
	return actor.ID, true
}
