package shared

import (
	"context"
	"fmt"
)

// Actor identifies the user performing an operation.
type Actor struct {
	ID   int64
	Name string
}

// Scope carries the tenant and actor attached to every call.
type Scope struct {
	BusinessID int64
	Actor      Actor
}

// Validate ensures the scope is usable.
func (s Scope) Validate() error {
	if s.BusinessID <= 0 {
		return fmt.Errorf("%w: business id required", ErrValidation)
	}
	if s.Actor.ID <= 0 {
		return fmt.Errorf("%w: actor id required", ErrValidation)
	}
	return nil
}

type scopeContextKey struct{}

// ContextWithScope stores the scope in context.
func ContextWithScope(ctx context.Context, scope Scope) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, scope)
}

// ScopeFromContext extracts the scope from context.
func ScopeFromContext(ctx context.Context) (Scope, bool) {
	scope, ok := ctx.Value(scopeContextKey{}).(Scope)
	return scope, ok
}
