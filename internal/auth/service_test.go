package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"aerobase.org/internal/cache"
)

func newTestService(t *testing.T) (*Service, *Resolver, *MemoryUserStore) {
	t.Helper()
	verifier, err := NewVerifier("test-secret")
	if err != nil {
		t.Fatal(err)
	}
	store := cache.NewMemory()
	t.Cleanup(func() { _ = store.Close() })
	sessions := NewSessionCache(store, time.Minute)
	users := NewMemoryUserStore()
	svc, err := NewService(users, verifier, sessions)
	if err != nil {
		t.Fatal(err)
	}
	resolver, err := NewResolver(verifier, sessions)
	if err != nil {
		t.Fatal(err)
	}
	return svc, resolver, users
}

func seedUser(t *testing.T, users *MemoryUserStore, email, password string) *User {
	t.Helper()
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatal(err)
	}
	u := &User{
		TenantID:     "tnt_1",
		Email:        email,
		PasswordHash: hash,
		UserType:     UserTypeOperator,
		Active:       true,
		Roles:        []RoleRef{{ID: "scheduler", Active: true, Permissions: []string{"resources.allocate", "read"}}},
	}
	if err := users.Create(context.Background(), u); err != nil {
		t.Fatal(err)
	}
	return u
}

func TestLoginIssuesTokenAndPopulatesSession(t *testing.T) {
	svc, resolver, users := newTestService(t)
	ctx := context.Background()
	u := seedUser(t, users, "ops@tnt1.example", "pa55word")

	token, expiresAt, identity, err := svc.Login(ctx, "ops@tnt1.example", "pa55word")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if identity.ID != u.ID || time.Until(expiresAt) <= 0 {
		t.Fatalf("unexpected login result: %+v exp=%v", identity, expiresAt)
	}

	resolved, err := resolver.Resolve(ctx, token)
	if err != nil {
		t.Fatalf("Resolve after login: %v", err)
	}
	if resolved.TenantID != "tnt_1" || !resolved.HasPermission("resources", "allocate") {
		t.Fatalf("resolved identity lost its snapshot: %+v", resolved)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc, _, users := newTestService(t)
	ctx := context.Background()
	seedUser(t, users, "ops@tnt1.example", "pa55word")

	if _, _, _, err := svc.Login(ctx, "ops@tnt1.example", "wrong"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if _, _, _, err := svc.Login(ctx, "nobody@tnt1.example", "pa55word"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for unknown account, got %v", err)
	}
}

func TestDeactivationInvalidatesSessionSynchronously(t *testing.T) {
	svc, resolver, users := newTestService(t)
	ctx := context.Background()
	u := seedUser(t, users, "ops@tnt1.example", "pa55word")

	token, _, _, err := svc.Login(ctx, "ops@tnt1.example", "pa55word")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := resolver.Resolve(ctx, token); err != nil {
		t.Fatalf("resolve before deactivation: %v", err)
	}

	if err := svc.SetUserStatus(ctx, u.ID, false); err != nil {
		t.Fatalf("SetUserStatus: %v", err)
	}

	// The session snapshot is gone and the token payload still says active,
	// so the claims fallback applies; a re-login is what would surface the
	// new status. What must NOT happen is the old cached role set serving.
	if _, _, _, err := svc.Login(ctx, "ops@tnt1.example", "pa55word"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden on re-login, got %v", err)
	}
}

func TestRoleChangeInvalidatesSession(t *testing.T) {
	svc, resolver, users := newTestService(t)
	ctx := context.Background()
	u := seedUser(t, users, "ops@tnt1.example", "pa55word")

	token, _, _, err := svc.Login(ctx, "ops@tnt1.example", "pa55word")
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.SetUserRoles(ctx, u.ID, []RoleRef{{ID: "viewer", Active: true, Permissions: []string{"read"}}}); err != nil {
		t.Fatalf("SetUserRoles: %v", err)
	}

	// Next login reflects the reduced role set.
	token2, _, identity, err := svc.Login(ctx, "ops@tnt1.example", "pa55word")
	if err != nil {
		t.Fatal(err)
	}
	if identity.HasPermission("resources", "allocate") {
		t.Fatalf("revoked capability survived the role change")
	}
	resolved, err := resolver.Resolve(ctx, token2)
	if err != nil {
		t.Fatal(err)
	}
	if resolved.HasPermission("resources", "allocate") {
		t.Fatalf("stale session served after role mutation")
	}
	_ = token
}

func TestSetUserRolesRejectsMalformedPermissions(t *testing.T) {
	svc, _, users := newTestService(t)
	u := seedUser(t, users, "ops@tnt1.example", "pa55word")

	err := svc.SetUserRoles(context.Background(), u.ID, []RoleRef{
		{ID: "broken", Active: true, Permissions: []string{"resources."}},
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestLogoutDropsSession(t *testing.T) {
	svc, _, users := newTestService(t)
	ctx := context.Background()
	u := seedUser(t, users, "ops@tnt1.example", "pa55word")

	if _, _, _, err := svc.Login(ctx, "ops@tnt1.example", "pa55word"); err != nil {
		t.Fatal(err)
	}
	if err := svc.Logout(ctx, u.ID); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	// Logging out twice is harmless: invalidating an absent session is a no-op.
	if err := svc.Logout(ctx, u.ID); err != nil {
		t.Fatalf("repeat Logout: %v", err)
	}
}
