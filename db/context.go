package db

import (
	"context"

	"github.com/nickyhof/BranchDB/core"
	"github.com/nickyhof/BranchDB/ps"
)

type identityKey struct{}

// WithIdentity sets the commit author for writes made with ctx
func WithIdentity(ctx context.Context, identity core.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (core.Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(core.Identity)
	return identity, ok && !identity.IsZero()
}

// asService strips the caller's identity and delegated token, so the write
// is committed by the engine's own identity with the service token
func asService(ctx context.Context) context.Context {
	ctx = ps.WithoutToken(ctx)
	return context.WithValue(ctx, identityKey{}, core.Identity{})
}
