package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Resolver turns a bearer credential into a trusted request identity.
//
// Resolution order: verify the token, consult the session cache, fall back to
// the credential payload on a miss. Whatever the cache holds wins over the
// token claims for everything beyond the subject id, so a deactivation or role
// change pushed to the cache takes effect even while the original token is
// still cryptographically valid.
type Resolver struct {
	verifier *Verifier
	sessions *SessionCache
}

// NewResolver constructs a Resolver. Both collaborators are required.
func NewResolver(verifier *Verifier, sessions *SessionCache) (*Resolver, error) {
	if verifier == nil {
		return nil, errors.New("verifier is required")
	}
	if sessions == nil {
		return nil, errors.New("session cache is required")
	}
	return &Resolver{verifier: verifier, sessions: sessions}, nil
}

// Resolve authenticates the bearer token and returns the resolved identity.
// Failures carry ErrUnauthenticated or ErrForbidden for the adapter layer to
// map onto status codes.
func (r *Resolver) Resolve(ctx context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, fmt.Errorf("%w: missing bearer token", ErrUnauthenticated)
	}
	// Literal template markers mean a client shipped an unrendered config
	// value. Reject before any crypto work.
	if strings.Contains(token, "{{") || strings.Contains(token, "}}") {
		return Identity{}, fmt.Errorf("%w: credential contains unresolved placeholders", ErrUnauthenticated)
	}

	claims, err := r.verifier.Verify(token)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: invalid or expired token", ErrUnauthenticated)
	}

	if record, ok := r.sessions.Get(ctx, claims.Subject); ok {
		if !record.Active {
			return Identity{}, fmt.Errorf("%w: account is deactivated", ErrForbidden)
		}
		return record.Identity(), nil
	}

	// Cache miss: the self-contained payload is good enough until the next
	// login repopulates the session.
	identity := claims.Identity()
	if !identity.Active {
		return Identity{}, fmt.Errorf("%w: account is deactivated", ErrForbidden)
	}
	return identity, nil
}
