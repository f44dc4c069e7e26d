// Package auth authenticates customers (Firebase ID tokens) and internal callers (Google OIDC).
package auth

import (
	"context"
	"strings"
)

// Role constants checked by handlers.
const (
	RoleCustomer = "customer"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

// PrincipalKind distinguishes end customers from service callers.
type PrincipalKind string

const (
	PrincipalCustomer PrincipalKind = "customer"
	PrincipalService  PrincipalKind = "service"
)

// Principal is the authenticated caller attached to the request context.
type Principal struct {
	Kind   PrincipalKind
	ID     string
	Email  string
	Roles  []string
	Issuer string
}

// HasRole reports whether the principal carries role (case-insensitive).
func (p *Principal) HasRole(role string) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// Actor renders the principal for audit fields such as "customer:uid-1" or "service:shipping@...".
func (p *Principal) Actor() string {
	if p == nil {
		return "system"
	}
	id := p.ID
	if p.Kind == PrincipalService && p.Email != "" {
		id = p.Email
	}
	return string(p.Kind) + ":" + id
}

type principalKey struct{}

// WithPrincipal stores the principal on ctx.
func WithPrincipal(ctx context.Context, principal *Principal) context.Context {
	if principal == nil {
		return ctx
	}
	return context.WithValue(ctx, principalKey{}, principal)
}

// PrincipalFromContext returns the principal stored by the auth middleware.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	principal, ok := ctx.Value(principalKey{}).(*Principal)
	if !ok || principal == nil {
		return nil, false
	}
	return principal, true
}
