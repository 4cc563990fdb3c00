package auth

import "strings"

// Scope is the visibility predicate a request operates under.
// An empty TenantID with Elevated set means unrestricted cross-tenant access.
type Scope struct {
	TenantID string
	Elevated bool
}

// ScopeFor derives the effective scope from an identity and an optional
// explicit tenant filter. Elevated identities may narrow themselves to a
// requested tenant; everyone else is forced to their own tenant regardless of
// what the request asked for.
func ScopeFor(identity Identity, requestedTenant string) Scope {
	requestedTenant = strings.TrimSpace(requestedTenant)
	if identity.Elevated() {
		return Scope{TenantID: requestedTenant, Elevated: true}
	}
	return Scope{TenantID: identity.TenantID}
}

// Unrestricted reports whether the scope sees every tenant.
func (s Scope) Unrestricted() bool {
	return s.Elevated && s.TenantID == ""
}

// Allows reports whether records owned by tenantID are visible in this scope.
func (s Scope) Allows(tenantID string) bool {
	if s.Unrestricted() {
		return true
	}
	return s.TenantID != "" && s.TenantID == tenantID
}
