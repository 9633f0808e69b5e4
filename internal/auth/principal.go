// Package auth implements login state for plotrelay: the Discord OAuth
// flow, the whitelist role check, the fallback password login, and the
// in-memory session store the relay consults at websocket upgrade time.
package auth

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// Principal is the locally generated identity of an authenticated session.
// The id is opaque and deliberately not the provider's user id; absence of
// a Principal means unauthenticated, there is no "logged out but present"
// state.
type Principal struct {
	ID string
}

// NewPrincipal mints a Principal with a fresh ULID.
func NewPrincipal(now time.Time) (Principal, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return Principal{}, err
	}
	return Principal{ID: id.String()}, nil
}

type principalCtxKey struct{}

// WithPrincipal returns a context carrying p. Handlers pass identity
// explicitly through the request context instead of ambient globals.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey{}, p)
}

// PrincipalFrom extracts the Principal bound to ctx, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalCtxKey{}).(Principal)
	return p, ok
}
