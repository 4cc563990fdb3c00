package auth

import "time"

// User types distinguish platform operators from tenant personnel. The values
// are opaque to the permission engine; they only inform visibility scoping.
const (
	UserTypePlatform = "platform"
	UserTypeProvider = "provider"
	UserTypeOperator = "operator"
)

// RoleRef is a role attached to an identity with its resolved permission set.
// Inactive roles contribute nothing to evaluation.
type RoleRef struct {
	ID          string   `json:"id"`
	Active      bool     `json:"active"`
	Permissions []string `json:"permissions,omitempty"`
}

// Identity is the trusted per-request principal produced by the resolver.
// It is derived once per request and never persisted by the core.
type Identity struct {
	ID       string    `json:"id"`
	TenantID string    `json:"tenant_id,omitempty"`
	UserType string    `json:"user_type,omitempty"`
	Roles    []RoleRef `json:"roles,omitempty"`
	Active   bool      `json:"active"`
}

// SessionRecord is the cached authorization snapshot keyed by user id.
// While present it is authoritative for everything beyond the subject id;
// mutations to roles, tenant, type or status must invalidate it explicitly
// rather than wait for the TTL.
type SessionRecord struct {
	UserID    string    `json:"user_id"`
	TenantID  string    `json:"tenant_id,omitempty"`
	UserType  string    `json:"user_type,omitempty"`
	Roles     []RoleRef `json:"roles,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Identity converts the cached snapshot into a request identity.
func (r SessionRecord) Identity() Identity {
	return Identity{
		ID:       r.UserID,
		TenantID: r.TenantID,
		UserType: r.UserType,
		Roles:    r.Roles,
		Active:   r.Active,
	}
}

// User is a stored account. Tenant personnel carry the owning tenant id;
// platform staff have none.
type User struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id,omitempty"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	UserType     string    `json:"user_type"`
	Roles        []RoleRef `json:"roles,omitempty"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Identity builds the request identity for a freshly authenticated user.
func (u *User) Identity() Identity {
	return Identity{
		ID:       u.ID,
		TenantID: u.TenantID,
		UserType: u.UserType,
		Roles:    u.Roles,
		Active:   u.Active,
	}
}
