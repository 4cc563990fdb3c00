package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultIssuer   = "aerobase"
	defaultTokenTTL = 8 * time.Hour

	// Tolerated clock skew when validating issued-at.
	issuedAtSkew = 5 * time.Second
)

// Claims is the self-contained credential payload. It carries enough of the
// authorization snapshot for the resolver to degrade gracefully on a session
// cache miss.
type Claims struct {
	TenantID string    `json:"tenant_id,omitempty"`
	UserType string    `json:"user_type,omitempty"`
	Roles    []RoleRef `json:"roles,omitempty"`
	Active   bool      `json:"active"`
	jwt.RegisteredClaims
}

// Identity converts verified claims into a request identity.
func (c *Claims) Identity() Identity {
	return Identity{
		ID:       c.Subject,
		TenantID: c.TenantID,
		UserType: c.UserType,
		Roles:    c.Roles,
		Active:   c.Active,
	}
}

// Verifier issues and verifies HS256 bearer credentials against a shared
// secret. It is the only cryptographic component in the core.
type Verifier struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// VerifierOption configures Verifier behavior.
type VerifierOption func(*Verifier) error

// WithIssuer overrides the issuer claim.
func WithIssuer(issuer string) VerifierOption {
	return func(v *Verifier) error {
		issuer = strings.TrimSpace(issuer)
		if issuer != "" {
			v.issuer = issuer
		}
		return nil
	}
}

// WithTokenTTL configures issued-token lifetime.
func WithTokenTTL(ttl time.Duration) VerifierOption {
	return func(v *Verifier) error {
		if ttl > 0 {
			v.ttl = ttl
		}
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) VerifierOption {
	return func(v *Verifier) error {
		if fn != nil {
			v.now = fn
		}
		return nil
	}
}

// NewVerifier constructs a Verifier. The secret is required; a service must
// not start without one.
func NewVerifier(secret string, opts ...VerifierOption) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth secret is not configured")
	}
	v := &Verifier{
		secret: []byte(secret),
		issuer: defaultIssuer,
		ttl:    defaultTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Issue signs a token embedding the identity's authorization snapshot.
func (v *Verifier) Issue(identity Identity) (string, time.Time, error) {
	if strings.TrimSpace(identity.ID) == "" {
		return "", time.Time{}, fmt.Errorf("%w: identity id is required", ErrInvalidInput)
	}
	now := v.now().UTC()
	exp := now.Add(v.ttl)
	claims := Claims{
		TenantID: identity.TenantID,
		UserType: identity.UserType,
		Roles:    identity.Roles,
		Active:   identity.Active,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   identity.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks signature, issuer and expiry, and returns the embedded claims.
func (v *Verifier) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(v.now))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if err := v.validateClaims(claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (v *Verifier) validateClaims(claims *Claims) error {
	if claims.Issuer != v.issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	now := v.now().UTC()
	if now.After(claims.ExpiresAt.Time) {
		return errors.New("token expired")
	}
	if claims.IssuedAt.Time.After(now.Add(issuedAtSkew)) {
		return errors.New("token issued in the future")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}
