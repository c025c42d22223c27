// pkg/middleware/tenant.go
package middleware

import (
	"context"
)

// Caller is the authenticated principal of a request.
type Caller struct {
	TenantID       string
	OrganizationID string
	Subject        string
	Scopes         []string
	// Dev is set when the tenant came from the X-Tenant-ID header without a token.
	Dev bool
}

type ctxCallerKey struct{}

func WithCaller(ctx context.Context, c Caller) context.Context {
	ctx = WithScopes(ctx, c.Scopes)
	return context.WithValue(ctx, ctxCallerKey{}, c)
}

func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(ctxCallerKey{}).(Caller)
	return c, ok
}
