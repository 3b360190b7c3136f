package internal

import (
	"context"
	"time"
)

type ctxKey string

const contextActorKey ctxKey = "actor"

// Role values resolved once per request by the auth middleware.
const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"
)

// Actor is the identity resolved from the request token. It is placed in the
// request context once and passed down explicitly; downstream code never
// re-derives identity from the request.
type Actor struct {
	UserID    string
	Role      string
	StudentID int64
}

func (a *Actor) IsStaff() bool {
	return a.Role == RoleTeacher || a.Role == RoleAdmin
}

func ActorFromContext(ctx context.Context) (*Actor, bool) {
	if ctx == nil {
		return nil, false
	}
	actor, ok := ctx.Value(contextActorKey).(*Actor)
	return actor, ok
}

func ContextWithActor(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, contextActorKey, actor)
}

// WithTimeout returns a context with timeout, defaulting to 5 seconds if duration is zero or negative.
func WithTimeout(ctx context.Context, duration time.Duration) (context.Context, context.CancelFunc) {
	if duration <= 0 {
		duration = 5 * time.Second
	}
	return context.WithTimeout(ctx, duration)
}
