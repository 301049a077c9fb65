// Package reqctx carries the per-request (or per-operation) context that
// resolvers receive: the authenticated user, roles, access set, trace id and,
// for subscription operations, the id of the owning connection.
//
// A Context is created once and never mutated; it travels inside a
// context.Context.
package reqctx

import (
	"context"
	"slices"

	"github.com/getmockd/gqlgateway/pkg/auth"
)

// Context is the request context handed to resolvers.
type Context struct {
	User         *auth.Identity
	Roles        []string
	Access       []string
	TraceID      string
	ConnectionID string
}

// New builds a Context from an identity and trace id. A nil identity yields a
// context with no user, roles or access.
func New(identity *auth.Identity, traceID string) Context {
	rc := Context{TraceID: traceID}
	if identity != nil {
		u := *identity
		u.Roles = slices.Clone(identity.Roles)
		u.Access = slices.Clone(identity.Access)
		rc.User = &u
		rc.Roles = slices.Clone(identity.Roles)
		rc.Access = slices.Clone(identity.Access)
	}
	return rc
}

// WithConnection returns a copy of rc bound to a connection id.
func (rc Context) WithConnection(connectionID string) Context {
	rc.ConnectionID = connectionID
	return rc
}

// HasRole reports whether the context carries role.
func (rc Context) HasRole(role string) bool {
	return slices.Contains(rc.Roles, role)
}

type key struct{}

// WithContext stores rc in ctx.
func WithContext(ctx context.Context, rc Context) context.Context {
	return context.WithValue(ctx, key{}, rc)
}

// FromContext extracts the request context from ctx.
func FromContext(ctx context.Context) (Context, bool) {
	rc, ok := ctx.Value(key{}).(Context)
	return rc, ok
}

// TraceID returns the trace id stored in ctx, or "".
func TraceID(ctx context.Context) string {
	rc, _ := FromContext(ctx)
	return rc.TraceID
}
