// Package auth consumes the caller's identity and session. Identity issuance
// lives elsewhere; this package only reads bearer tokens and session cookies.
package auth

import (
	"context"
	"strings"
)

// Identity captures the principal extracted from a bearer token. The zero
// value is the guest identity.
type Identity struct {
	UserID string
}

// IsGuest reports whether no authenticated user is attached.
func (i Identity) IsGuest() bool {
	return strings.TrimSpace(i.UserID) == ""
}

type contextKey string

const (
	identityContextKey contextKey = "github.com/orderfield/storefront/internal/platform/auth/identity"
	sessionContextKey  contextKey = "github.com/orderfield/storefront/internal/platform/auth/session"
)

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext retrieves the identity previously stored in context;
// absent means guest.
func IdentityFromContext(ctx context.Context) Identity {
	identity, ok := ctx.Value(identityContextKey).(Identity)
	if !ok {
		return Identity{}
	}
	return identity
}

// WithSessionID stores the session identifier within the context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionContextKey, sessionID)
}

// SessionIDFromContext retrieves the session identifier, or "".
func SessionIDFromContext(ctx context.Context) string {
	sessionID, _ := ctx.Value(sessionContextKey).(string)
	return sessionID
}
