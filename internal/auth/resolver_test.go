package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"aerobase.org/internal/cache"
)

func newTestResolver(t *testing.T) (*Resolver, *Verifier, *SessionCache, *cache.Memory) {
	t.Helper()
	verifier, err := NewVerifier("test-secret")
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	store := cache.NewMemory()
	t.Cleanup(func() { _ = store.Close() })
	sessions := NewSessionCache(store, time.Minute)
	resolver, err := NewResolver(verifier, sessions)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return resolver, verifier, sessions, store
}

func activeIdentity(id string) Identity {
	return Identity{
		ID:       id,
		TenantID: "tnt_1",
		UserType: UserTypeOperator,
		Active:   true,
		Roles:    []RoleRef{{ID: "scheduler", Active: true, Permissions: []string{"resources.allocate", "read"}}},
	}
}

func TestResolveRejectsMissingToken(t *testing.T) {
	resolver, _, _, _ := newTestResolver(t)
	if _, err := resolver.Resolve(context.Background(), "   "); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestResolveRejectsTemplatePlaceholders(t *testing.T) {
	resolver, _, _, _ := newTestResolver(t)
	for _, token := range []string{"{{AUTH_TOKEN}}", "prefix-}}-suffix"} {
		if _, err := resolver.Resolve(context.Background(), token); !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("token %q: expected ErrUnauthenticated, got %v", token, err)
		}
	}
}

func TestResolveRejectsGarbageToken(t *testing.T) {
	resolver, _, _, _ := newTestResolver(t)
	if _, err := resolver.Resolve(context.Background(), "not-a-jwt"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestResolveRejectsForeignSignature(t *testing.T) {
	resolver, _, _, _ := newTestResolver(t)
	other, err := NewVerifier("different-secret")
	if err != nil {
		t.Fatal(err)
	}
	token, _, err := other.Issue(activeIdentity("usr_1"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := resolver.Resolve(context.Background(), token); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestResolveCacheHitWinsOverClaims(t *testing.T) {
	resolver, verifier, sessions, _ := newTestResolver(t)
	ctx := context.Background()

	token, _, err := verifier.Issue(activeIdentity("usr_1"))
	if err != nil {
		t.Fatal(err)
	}
	// The cached snapshot carries a different role set than the token.
	sessions.Put(ctx, SessionRecord{
		UserID:   "usr_1",
		TenantID: "tnt_2",
		UserType: UserTypeProvider,
		Active:   true,
		Roles:    []RoleRef{{ID: "admin", Active: true, Permissions: []string{"*"}}},
	})

	identity, err := resolver.Resolve(ctx, token)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if identity.TenantID != "tnt_2" || !identity.Elevated() {
		t.Fatalf("cache snapshot must win over token claims, got %+v", identity)
	}
}

func TestResolveCacheMissFallsBackToClaims(t *testing.T) {
	resolver, verifier, _, _ := newTestResolver(t)
	ctx := context.Background()

	token, _, err := verifier.Issue(activeIdentity("usr_1"))
	if err != nil {
		t.Fatal(err)
	}
	identity, err := resolver.Resolve(ctx, token)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if identity.ID != "usr_1" || identity.TenantID != "tnt_1" {
		t.Fatalf("unexpected identity from claims: %+v", identity)
	}
	if !identity.HasPermission("resources", "allocate") {
		t.Fatalf("claims-derived identity lost its permissions")
	}
}

func TestDeactivatedSessionDefeatsValidToken(t *testing.T) {
	resolver, verifier, sessions, _ := newTestResolver(t)
	ctx := context.Background()

	identity := activeIdentity("usr_1")
	token, _, err := verifier.Issue(identity)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := resolver.Resolve(ctx, token); err != nil {
		t.Fatalf("initial resolve should succeed: %v", err)
	}

	// Deactivation is pushed to the session cache; the token itself is still
	// cryptographically valid and unexpired.
	sessions.Put(ctx, SessionRecord{UserID: "usr_1", TenantID: "tnt_1", Active: false})

	if _, err := resolver.Resolve(ctx, token); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden after deactivation, got %v", err)
	}
}

func TestResolveRejectsInactiveClaims(t *testing.T) {
	resolver, verifier, _, _ := newTestResolver(t)
	inactive := activeIdentity("usr_1")
	inactive.Active = false
	token, _, err := verifier.Issue(inactive)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := resolver.Resolve(context.Background(), token); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestResolveSurvivesBrokenSessionStore(t *testing.T) {
	verifier, err := NewVerifier("test-secret")
	if err != nil {
		t.Fatal(err)
	}
	sessions := NewSessionCache(brokenStore{}, time.Minute)
	resolver, err := NewResolver(verifier, sessions)
	if err != nil {
		t.Fatal(err)
	}
	token, _, err := verifier.Issue(activeIdentity("usr_1"))
	if err != nil {
		t.Fatal(err)
	}
	identity, err := resolver.Resolve(context.Background(), token)
	if err != nil {
		t.Fatalf("cache failure must degrade to claims, got %v", err)
	}
	if identity.ID != "usr_1" {
		t.Fatalf("unexpected identity %+v", identity)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	past := time.Now().Add(-2 * time.Hour)
	issuing, err := NewVerifier("test-secret", WithTokenTTL(time.Hour), WithClock(func() time.Time { return past }))
	if err != nil {
		t.Fatal(err)
	}
	token, _, err := issuing.Issue(activeIdentity("usr_1"))
	if err != nil {
		t.Fatal(err)
	}
	resolver, _, _, _ := newTestResolver(t)
	if _, err := resolver.Resolve(context.Background(), token); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for expired token, got %v", err)
	}
}

// brokenStore fails every operation, simulating an unreachable cache backend.
type brokenStore struct{}

func (brokenStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, errors.New("cache down")
}
func (brokenStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errors.New("cache down")
}
func (brokenStore) Del(ctx context.Context, key string) error { return errors.New("cache down") }
func (brokenStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	return nil, errors.New("cache down")
}
func (brokenStore) DelMany(ctx context.Context, keys []string) error {
	return errors.New("cache down")
}
func (brokenStore) Close() error { return nil }
