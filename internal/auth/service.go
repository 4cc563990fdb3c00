package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// UserStore describes the persistence operations the auth subsystem needs.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	SetActive(ctx context.Context, id string, active bool) error
	SetRoles(ctx context.Context, id string, roles []RoleRef) error
}

// Service owns the session lifecycle: login populates the session cache,
// every authorization-relevant mutation invalidates it synchronously before
// the call returns, so a client cannot observe stale permissions through an
// immediately reissued request.
type Service struct {
	users    UserStore
	verifier *Verifier
	sessions *SessionCache
	now      func() time.Time
}

// NewService constructs the Service. All collaborators are required.
func NewService(users UserStore, verifier *Verifier, sessions *SessionCache) (*Service, error) {
	if users == nil {
		return nil, errors.New("user store is required")
	}
	if verifier == nil {
		return nil, errors.New("verifier is required")
	}
	if sessions == nil {
		return nil, errors.New("session cache is required")
	}
	return &Service{users: users, verifier: verifier, sessions: sessions, now: time.Now}, nil
}

// HashPassword derives the stored credential for an account. Only the bcrypt
// hash ever reaches a UserStore; User never serializes it.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword checks a login attempt against the stored hash. A non-nil
// error means the attempt is rejected; Login folds it into ErrUnauthenticated
// so callers cannot distinguish a bad password from an unknown account.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("account has no credential set")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// Login authenticates credentials, refreshes the session snapshot and issues
// a bearer token.
func (s *Service) Login(ctx context.Context, email, password string) (string, time.Time, Identity, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return "", time.Time{}, Identity{}, fmt.Errorf("%w: missing credentials", ErrUnauthenticated)
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return "", time.Time{}, Identity{}, fmt.Errorf("%w: unknown account", ErrUnauthenticated)
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return "", time.Time{}, Identity{}, fmt.Errorf("%w: bad credentials", ErrUnauthenticated)
	}
	if !user.Active {
		return "", time.Time{}, Identity{}, fmt.Errorf("%w: account is deactivated", ErrForbidden)
	}

	identity := user.Identity()
	s.sessions.Put(ctx, SessionRecord{
		UserID:    user.ID,
		TenantID:  user.TenantID,
		UserType:  user.UserType,
		Roles:     user.Roles,
		Active:    user.Active,
		CreatedAt: s.now().UTC(),
	})

	token, expiresAt, err := s.verifier.Issue(identity)
	if err != nil {
		return "", time.Time{}, Identity{}, err
	}
	return token, expiresAt, identity, nil
}

// Logout drops the session snapshot for the subject.
func (s *Service) Logout(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	s.sessions.Invalidate(ctx, userID)
	return nil
}

// SetUserStatus activates or deactivates an account. The session snapshot is
// invalidated before returning, which makes the change visible to the very
// next authorization attempt even while old tokens are still unexpired.
func (s *Service) SetUserStatus(ctx context.Context, userID string, active bool) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if err := s.users.SetActive(ctx, userID, active); err != nil {
		return err
	}
	s.sessions.Invalidate(ctx, userID)
	return nil
}

// SetUserRoles replaces the account's role set and invalidates its session.
func (s *Service) SetUserRoles(ctx context.Context, userID string, roles []RoleRef) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	for _, role := range roles {
		for _, p := range role.Permissions {
			if !Permission(p).Valid() {
				return fmt.Errorf("%w: malformed permission %q", ErrInvalidInput, p)
			}
		}
	}
	if err := s.users.SetRoles(ctx, userID, roles); err != nil {
		return err
	}
	s.sessions.Invalidate(ctx, userID)
	return nil
}
