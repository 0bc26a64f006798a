package middleware

import "context"

// Identity describes the authenticated caller of a request, set by the JWT
// authentication middleware after a bearer token is verified.
type Identity struct {
	Subject string
	Role    string
}

type identityKey struct{}

// WithIdentity returns a new context carrying the authenticated identity.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// GetIdentity extracts the authenticated identity from ctx, if any.
func GetIdentity(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(Identity)

	return identity, ok
}
