package auth

import (
	"context"

	"choreboard/internal/model"
)

type contextKey struct{}

// Actor identifies the family member a request acts as. Every mutation is
// attributed to an actor; transition guards read the role from here.
type Actor struct {
	ID       string
	FamilyID string
	Role     model.Role
}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, contextKey{}, a)
}

func FromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(contextKey{}).(Actor)
	return a, ok
}

func FamilyID(ctx context.Context) string {
	a, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return a.FamilyID
}

func ActorID(ctx context.Context) string {
	a, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return a.ID
}

func IsGuardian(ctx context.Context) bool {
	a, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return a.Role == model.RoleGuardian
}
