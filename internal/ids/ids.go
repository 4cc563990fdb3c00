package ids

import (
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Entity prefixes keep identifiers self-describing in logs and cache keys.
const (
	PrefixResource   = "res_"
	PrefixAllocation = "alc_"
	PrefixUser       = "usr_"
	PrefixTenant     = "tnt_"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewResource returns a prefixed identifier for a resource record.
func NewResource() string { return PrefixResource + New() }

// NewAllocation returns a prefixed identifier for an allocation record.
func NewAllocation() string { return PrefixAllocation + New() }

// NewUser returns a prefixed identifier for a user account.
func NewUser() string { return PrefixUser + New() }

// NewTenant returns a prefixed identifier for a tenant organization.
func NewTenant() string { return PrefixTenant + New() }

// HasPrefix reports whether id carries the given entity prefix.
func HasPrefix(id, prefix string) bool {
	return strings.HasPrefix(id, prefix) && len(id) > len(prefix)
}
