package auth

import "context"

type ctxKey struct{}

type Identity struct {
	Service string
	Role    string
}

func WithIdentity(ctx context.Context, service, role string) context.Context {
	return context.WithValue(ctx, ctxKey{}, Identity{Service: service, Role: role})
}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}
