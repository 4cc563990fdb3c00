package auth

import "strings"

// Permission is a capability token in one of four shapes:
//
//	"*"                   full access
//	"read"                read action on any resource
//	"<resource>.*"        all actions on one resource
//	"<resource>.<action>" exact capability
//
// Tokens are case-sensitive and opaque beyond string matching. The set is
// extensible by configuration, which is why this stays a validated string
// wrapper and not an enum.
type Permission string

const (
	PermAll  Permission = "*"
	PermRead Permission = "read"
)

// Well-known capabilities referenced by the HTTP adapter.
const (
	ActionRead     = "read"
	ActionCreate   = "create"
	ActionUpdate   = "update"
	ActionAllocate = "allocate"
	ActionRelease  = "release"

	ResourceResources   = "resources"
	ResourceAllocations = "allocations"
)

// Valid reports whether p is a well-formed token. Malformed tokens are not an
// error at evaluation time; they are simply inert.
func (p Permission) Valid() bool {
	s := string(p)
	if s == "" || strings.TrimSpace(s) != s {
		return false
	}
	if p == PermAll || p == PermRead {
		return true
	}
	i := strings.LastIndexByte(s, '.')
	return i > 0 && i < len(s)-1
}

// Matches reports whether p grants action on resource.
func (p Permission) Matches(resource, action string) bool {
	switch p {
	case PermAll:
		return true
	case PermRead:
		return action == ActionRead
	}
	s := string(p)
	if !strings.Contains(s, ".") {
		// Tokens without a dot never match beyond the two special forms.
		return false
	}
	return s == resource+"."+action || s == resource+".*"
}

// Capability is a (resource, action) pair for bulk checks.
type Capability struct {
	Resource string
	Action   string
}

// permissions returns the union of permission tokens across active roles.
func (id Identity) permissions() []Permission {
	var union []Permission
	for _, role := range id.Roles {
		if !role.Active {
			continue
		}
		for _, p := range role.Permissions {
			union = append(union, Permission(p))
		}
	}
	return union
}

// HasPermission reports whether the identity may perform action on resource.
// An identity with no roles, or only inactive ones, can do nothing.
func (id Identity) HasPermission(resource, action string) bool {
	for _, p := range id.permissions() {
		if p.Matches(resource, action) {
			return true
		}
	}
	return false
}

// HasAnyPermission reports whether at least one capability is granted.
func (id Identity) HasAnyPermission(caps ...Capability) bool {
	for _, c := range caps {
		if id.HasPermission(c.Resource, c.Action) {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether every capability is granted.
func (id Identity) HasAllPermissions(caps ...Capability) bool {
	for _, c := range caps {
		if !id.HasPermission(c.Resource, c.Action) {
			return false
		}
	}
	return true
}

// Elevated reports whether the identity holds the platform-wide "*" grant,
// which unlocks cross-tenant visibility.
func (id Identity) Elevated() bool {
	for _, p := range id.permissions() {
		if p == PermAll {
			return true
		}
	}
	return false
}
