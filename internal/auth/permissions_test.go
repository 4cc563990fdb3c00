package auth

import "testing"

func identityWith(perms ...string) Identity {
	return Identity{
		ID:     "usr_1",
		Active: true,
		Roles:  []RoleRef{{ID: "role_1", Active: true, Permissions: perms}},
	}
}

func TestNoRolesGrantsNothing(t *testing.T) {
	empty := Identity{ID: "usr_1", Active: true}
	inactiveOnly := Identity{
		ID:     "usr_2",
		Active: true,
		Roles:  []RoleRef{{ID: "role_1", Active: false, Permissions: []string{"*"}}},
	}
	for _, id := range []Identity{empty, inactiveOnly, {}} {
		if id.HasPermission("resources", "read") || id.HasPermission("resources", "create") {
			t.Fatalf("identity %+v should have no permissions", id)
		}
		if id.Elevated() {
			t.Fatalf("identity %+v should not be elevated", id)
		}
	}
}

func TestStarGrantsEverything(t *testing.T) {
	id := identityWith("*")
	for _, c := range []Capability{
		{"resources", "read"},
		{"resources", "create"},
		{"allocations", "release"},
		{"anything", "whatsoever"},
	} {
		if !id.HasPermission(c.Resource, c.Action) {
			t.Fatalf("star grant rejected %s.%s", c.Resource, c.Action)
		}
	}
	if !id.Elevated() {
		t.Fatalf("star grant must be elevated")
	}
}

func TestBareReadGrantsCrossResourceRead(t *testing.T) {
	id := identityWith("read")
	if !id.HasPermission("resources", "read") || !id.HasPermission("allocations", "read") {
		t.Fatalf("bare read should allow reading any resource")
	}
	if id.HasPermission("resources", "create") {
		t.Fatalf("bare read must not allow writes")
	}
}

func TestExactAndWildcardMatches(t *testing.T) {
	id := identityWith("resources.allocate", "allocations.*")
	if !id.HasPermission("resources", "allocate") {
		t.Fatalf("exact match failed")
	}
	if !id.HasPermission("allocations", "release") || !id.HasPermission("allocations", "read") {
		t.Fatalf("resource wildcard failed")
	}
	if id.HasPermission("resources", "create") {
		t.Fatalf("unrelated action must not match")
	}
}

func TestMalformedTokensAreInert(t *testing.T) {
	id := identityWith("resources", "allocate", "admin")
	for _, c := range []Capability{
		{"resources", "read"},
		{"resources", "allocate"},
		{"admin", "read"},
	} {
		if id.HasPermission(c.Resource, c.Action) {
			t.Fatalf("dotless token matched %s.%s", c.Resource, c.Action)
		}
	}
}

func TestPermissionsAreCaseSensitive(t *testing.T) {
	id := identityWith("Resources.Allocate")
	if id.HasPermission("resources", "allocate") {
		t.Fatalf("permission matching must be case-sensitive")
	}
}

func TestUnionAcrossActiveRoles(t *testing.T) {
	id := Identity{
		ID:     "usr_1",
		Active: true,
		Roles: []RoleRef{
			{ID: "reader", Active: true, Permissions: []string{"read"}},
			{ID: "scheduler", Active: true, Permissions: []string{"resources.allocate"}},
			{ID: "suspended", Active: false, Permissions: []string{"*"}},
		},
	}
	if !id.HasPermission("resources", "allocate") || !id.HasPermission("allocations", "read") {
		t.Fatalf("union over active roles failed")
	}
	if id.Elevated() {
		t.Fatalf("inactive role must not contribute the star grant")
	}
}

func TestHasAnyAndAllPermissions(t *testing.T) {
	id := identityWith("resources.read", "resources.allocate")
	both := []Capability{{"resources", "read"}, {"resources", "allocate"}}
	mixed := []Capability{{"resources", "read"}, {"allocations", "release"}}

	if !id.HasAllPermissions(both...) {
		t.Fatalf("expected all of %v", both)
	}
	if id.HasAllPermissions(mixed...) {
		t.Fatalf("all-of must fail when one capability is missing")
	}
	if !id.HasAnyPermission(mixed...) {
		t.Fatalf("any-of should succeed with one granted capability")
	}
	if id.HasAnyPermission(Capability{"allocations", "release"}) {
		t.Fatalf("any-of with no granted capability must fail")
	}
}

func TestPermissionValid(t *testing.T) {
	valid := []Permission{"*", "read", "resources.*", "resources.allocate", "a.b.c"}
	for _, p := range valid {
		if !p.Valid() {
			t.Fatalf("%q should be valid", p)
		}
	}
	invalid := []Permission{"", " resources.read", "resources.", ".read", "resources"}
	for _, p := range invalid {
		if p.Valid() {
			t.Fatalf("%q should be invalid", p)
		}
	}
}
