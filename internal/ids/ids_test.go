package ids

import "testing"

func TestNewIsSortableAndUnique(t *testing.T) {
	a := New()
	b := New()
	if a == b {
		t.Fatalf("expected distinct ids, got %s twice", a)
	}
	if len(a) != 26 || len(b) != 26 {
		t.Fatalf("unexpected ULID length: %d / %d", len(a), len(b))
	}
	// Monotonic entropy within the same millisecond keeps ordering stable.
	if b < a {
		t.Fatalf("expected %s <= %s", a, b)
	}
}

func TestPrefixedIdentifiers(t *testing.T) {
	cases := map[string]string{
		NewResource():   PrefixResource,
		NewAllocation(): PrefixAllocation,
		NewUser():       PrefixUser,
		NewTenant():     PrefixTenant,
	}
	for id, prefix := range cases {
		if !HasPrefix(id, prefix) {
			t.Fatalf("id %s missing prefix %s", id, prefix)
		}
	}
	if HasPrefix(PrefixResource, PrefixResource) {
		t.Fatalf("bare prefix must not count as an id")
	}
}
