package server

import (
	"context"

	"github.com/jdutton/mcp-scaffold/pkg/storage"
)

// IdentityContextKey is the key used to store the authenticated identity in
// the request context.
//
// Using an empty struct as the key prevents collisions with other context
// keys, as each empty struct type is distinct even when names coincide
// across packages.
type IdentityContextKey struct{}

// WithIdentity stores the authenticated identity in the context. A nil
// identity returns the original context unchanged.
func WithIdentity(ctx context.Context, identity *storage.UserInfo) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, IdentityContextKey{}, identity)
}

// IdentityFromContext retrieves the authenticated identity from the
// context. Returns the identity and true if present, nil and false
// otherwise.
func IdentityFromContext(ctx context.Context) (*storage.UserInfo, bool) {
	identity, ok := ctx.Value(IdentityContextKey{}).(*storage.UserInfo)
	return identity, ok
}
