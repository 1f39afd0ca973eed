// ABOUTME: Principal identity and request-context plumbing for authenticated callers
// ABOUTME: Provides WithPrincipal/FromContext for propagating identity via context

package auth

import (
	"context"
)

// AuthMethod identifies how a principal authenticated.
type AuthMethod string

// Authentication methods
const (
	// MethodM2M is a machine credential exchanged for a short-lived token.
	MethodM2M AuthMethod = "m2m"

	// MethodIngressToken is a pre-issued bearer token presented directly.
	MethodIngressToken AuthMethod = "ingress_token"
)

// Principal is the authenticated caller of a request. It is never
// persisted; it is reconstructed per request from a verified credential.
type Principal struct {
	Subject string     // subject identifier from the credential
	Scopes  []string   // granted scope names
	Method  AuthMethod // how the credential was presented
}

// HasScope reports whether the principal holds the named scope.
func (p *Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// principalKey is the key type for storing a Principal in context.Context.
type principalKey struct{}

// WithPrincipal returns a new context with the Principal attached.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext retrieves the Principal from the context, returning nil
// if not present.
func FromContext(ctx context.Context) *Principal {
	val := ctx.Value(principalKey{})
	if val == nil {
		return nil
	}
	p, ok := val.(*Principal)
	if !ok {
		return nil
	}
	return p
}
