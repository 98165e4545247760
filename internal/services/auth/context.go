package auth

import "context"

type identityKey struct{}

// WithIdentity stores the authenticated purchaser or operator on ctx.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(Identity)
	if !ok || identity.PurchaserID <= 0 {
		return Identity{}, false
	}
	return identity, true
}
