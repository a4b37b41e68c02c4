// Package identity is the thin seam to the external session provider: it
// answers "current user id or none" and nothing else. Authentication
// semantics live outside this codebase.
package identity

import (
	"context"
	"errors"
)

var ErrNoUser = errors.New("no current user")

// Provider reports the user owning the current operation.
type Provider interface {
	CurrentUser(ctx context.Context) (string, error)
}

type ctxKey struct{}

// WithUser attaches a user id to the context (set by the HTTP layer from the
// external session).
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// ContextProvider reads the user from the context, falling back to a fixed
// default owner. An empty fallback means cloud operations without a session
// fail with ErrNoUser.
type ContextProvider struct {
	Fallback string
}

func (p ContextProvider) CurrentUser(ctx context.Context) (string, error) {
	if id, ok := ctx.Value(ctxKey{}).(string); ok && id != "" {
		return id, nil
	}
	if p.Fallback != "" {
		return p.Fallback, nil
	}
	return "", ErrNoUser
}

// Static always reports the same user. Used by tests and single-user
// deployments.
type Static string

func (s Static) CurrentUser(ctx context.Context) (string, error) {
	if s == "" {
		return "", ErrNoUser
	}
	return string(s), nil
}
