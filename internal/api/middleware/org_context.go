// Package middleware provides HTTP middleware components for the governance
// events API.
package middleware

import (
	"context"
	"time"
)

// orgContextKey is the context key for the authenticated org. A struct type
// avoids collisions with other packages' context keys.
type orgContextKey struct{}

// OrgContext carries the authenticated principal enriched into the request
// context by AuthenticateOrg after a successful bearer-token lookup.
type OrgContext struct {
	// OrgID is the organization the bearer token is scoped to. Handlers
	// forward this as authOrgId to the Store.
	OrgID string

	// PrincipalType is "producer" or "operator" (storage.PrincipalTypeProducer
	// / storage.PrincipalTypeOperator).
	PrincipalType string

	// KeyID is the API key ID used for authentication, for audit logging.
	KeyID string

	// AuthTime is when authentication occurred, for latency tracking.
	AuthTime time.Time
}

// GetOrgContext extracts the org context from the request context. Returns
// (context, true) if authenticated, (empty, false) otherwise.
func GetOrgContext(ctx context.Context) (OrgContext, bool) {
	orgCtx, ok := ctx.Value(orgContextKey{}).(OrgContext)

	return orgCtx, ok
}

// SetOrgContext adds the org context to the request context.
func SetOrgContext(ctx context.Context, orgCtx OrgContext) context.Context {
	return context.WithValue(ctx, orgContextKey{}, orgCtx)
}
