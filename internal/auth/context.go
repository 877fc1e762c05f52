package auth

import "context"

type contextKey struct{}

// Principal is the authenticated owner behind an API request.
type Principal struct {
	OwnerID string
	Subject string
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	return p, ok
}

// OwnerID returns the owner of the request, or "" when unauthenticated.
func OwnerID(ctx context.Context) string {
	p, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return p.OwnerID
}
