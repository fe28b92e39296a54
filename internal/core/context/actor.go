package context

import (
	"context"
)

// Role is the submitter's approval tier. It decides the initial approval
// state of a movement and whether admission auto-admits.
type Role string

const (
	RoleStaff   Role = "staff"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
)

// ActorContext identifies who performs an operation. Carried for audit
// entries and approval-state decisions.
type ActorContext struct {
	ActorID string
	Name    string
	Role    Role
}

type actorContextKey struct{}

// WithActor adds ActorContext to context.
func WithActor(ctx context.Context, actor *ActorContext) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// GetActor returns ActorContext from context, or nil.
func GetActor(ctx context.Context) *ActorContext {
	if v, ok := ctx.Value(actorContextKey{}).(*ActorContext); ok {
		return v
	}
	return nil
}

// GetActorID returns the actor id from context or empty string.
func GetActorID(ctx context.Context) string {
	if a := GetActor(ctx); a != nil {
		return a.ActorID
	}
	return ""
}

// GetRole returns the actor role from context, defaulting to staff.
func GetRole(ctx context.Context) Role {
	if a := GetActor(ctx); a != nil && a.Role != "" {
		return a.Role
	}
	return RoleStaff
}
