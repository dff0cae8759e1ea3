// Package principal provides the authenticated user of a request.
package principal

import (
	"context"
)

// Principal is an authenticated user.
type Principal struct {
	// Subject is the id of the user at the identity provider, the "sub"
	// claim.
	Subject string
	Name    string
	Roles   []string
	// DomainID is the id of the user in the application, empty if the
	// user has none.
	DomainID string
}

type contextKey struct{}

// ContextWith returns a copy of ctx that contains p.
func ContextWith(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext returns the principal of ctx, nil for anonymous requests.
func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(contextKey{}).(*Principal)
	return p
}
