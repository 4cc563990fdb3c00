package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"aerobase.org/internal/auth"
	"aerobase.org/internal/cache"
	"aerobase.org/internal/ids"
	"aerobase.org/internal/obs"
)

// Cache key namespaces for resource and allocation queries.
const (
	nsResources   = "resources"
	nsAllocations = "allocations"
)

// Service defines the allocation-ledger operations.
type Service interface {
	CreateResource(ctx context.Context, scope auth.Scope, spec ResourceSpec) (Resource, error)
	GetResource(ctx context.Context, scope auth.Scope, id string) (Resource, error)
	UpdateResource(ctx context.Context, scope auth.Scope, id string, upd ResourceUpdate) (Resource, error)
	ListResources(ctx context.Context, scope auth.Scope, filter ResourceFilter) ([]Resource, error)
	Allocate(ctx context.Context, scope auth.Scope, resourceID string, req AllocationRequest) (Allocation, error)
	Release(ctx context.Context, scope auth.Scope, allocationID string, terminal AllocationStatus) (Allocation, error)
	ListAllocations(ctx context.Context, scope auth.Scope, filter AllocationFilter) ([]Allocation, error)
}

// Ledger implements Service on top of a document store and a query cache.
//
// Allocation decisions are a check-then-act sequence over shared state
// (current usage plus the overlap set), so they are serialized per resource
// with a keyed mutex: two concurrent requests for the same resource cannot
// both pass the capacity and overlap checks.
type Ledger struct {
	store Store
	cache *cache.QueryCache
	now   func() time.Time

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

var _ Service = (*Ledger)(nil)

// Option configures Ledger behavior.
type Option func(*Ledger)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Ledger) {
		if fn != nil {
			l.now = fn
		}
	}
}

// New constructs a Ledger. Both collaborators are required: the cache is a
// correctness dependency because freshness relies on write-through
// invalidation, not TTL expiry.
func New(store Store, qc *cache.QueryCache, opts ...Option) (*Ledger, error) {
	if store == nil {
		return nil, errors.New("ledger store is required")
	}
	if qc == nil {
		return nil, errors.New("query cache is required")
	}
	l := &Ledger{
		store: store,
		cache: qc,
		now:   time.Now,
		locks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// lockResource acquires the per-resource mutex and returns its unlock func.
func (l *Ledger) lockResource(id string) func() {
	l.lockMu.Lock()
	mu, ok := l.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		l.locks[id] = mu
	}
	l.lockMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// CreateResource publishes a new resource for the provider tenant in spec.
func (l *Ledger) CreateResource(ctx context.Context, scope auth.Scope, spec ResourceSpec) (Resource, error) {
	spec.TenantID = strings.TrimSpace(spec.TenantID)
	if spec.TenantID == "" {
		spec.TenantID = scope.TenantID
	}
	if spec.TenantID == "" {
		return Resource{}, fmt.Errorf("%w: provider tenant is required", ErrInvalidInput)
	}
	if !scope.Allows(spec.TenantID) {
		return Resource{}, fmt.Errorf("%w: cannot create resources for tenant %s", ErrAccessDenied, spec.TenantID)
	}
	spec.Name = strings.TrimSpace(spec.Name)
	if spec.Name == "" {
		return Resource{}, fmt.Errorf("%w: resource name is required", ErrInvalidInput)
	}
	if spec.Capacity == 0 {
		return Resource{}, fmt.Errorf("%w: capacity must be positive", ErrInvalidInput)
	}

	now := l.now().UTC()
	resource := Resource{
		ID:           ids.NewResource(),
		TenantID:     spec.TenantID,
		Name:         spec.Name,
		Kind:         strings.TrimSpace(spec.Kind),
		Status:       StatusAvailable,
		Capacity:     spec.Capacity,
		CurrentUsage: 0,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := l.store.CreateResource(ctx, &resource); err != nil {
		return Resource{}, err
	}
	l.cache.InvalidatePattern(ctx, nsResources+":")
	return resource, nil
}

// GetResource returns a single resource through the detail cache.
func (l *Ledger) GetResource(ctx context.Context, scope auth.Scope, id string) (Resource, error) {
	key := cache.DetailKey(nsResources, id)
	var resource Resource
	if !l.cache.GetJSON(ctx, key, &resource) {
		var err error
		resource, err = l.store.GetResource(ctx, id)
		if err != nil {
			return Resource{}, err
		}
		l.cache.SetJSON(ctx, key, resource, cache.DetailTTL)
	}
	return resource, nil
}

// UpdateResource mutates a resource owned by the caller's tenant.
// Reserved is derived from usage and cannot be set directly; maintenance and
// unavailable are operator decisions and are never silently overwritten here.
func (l *Ledger) UpdateResource(ctx context.Context, scope auth.Scope, id string, upd ResourceUpdate) (Resource, error) {
	unlock := l.lockResource(id)
	defer unlock()

	resource, err := l.store.GetResource(ctx, id)
	if err != nil {
		return Resource{}, err
	}
	if !scope.Allows(resource.TenantID) {
		return Resource{}, fmt.Errorf("%w: resource belongs to tenant %s", ErrAccessDenied, resource.TenantID)
	}

	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return Resource{}, fmt.Errorf("%w: resource name is required", ErrInvalidInput)
		}
		resource.Name = name
	}
	if upd.Kind != nil {
		resource.Kind = strings.TrimSpace(*upd.Kind)
	}
	if upd.Capacity != nil {
		if *upd.Capacity == 0 {
			return Resource{}, fmt.Errorf("%w: capacity must be positive", ErrInvalidInput)
		}
		if *upd.Capacity < resource.CurrentUsage {
			return Resource{}, fmt.Errorf("%w: capacity below current usage", ErrInvalidInput)
		}
		resource.Capacity = *upd.Capacity
		if resource.Status == StatusReserved && resource.CurrentUsage < resource.Capacity {
			resource.Status = StatusAvailable
		}
	}
	if upd.Status != nil {
		status := *upd.Status
		if !status.Valid() {
			return Resource{}, fmt.Errorf("%w: unknown status %s", ErrInvalidInput, status)
		}
		if status == StatusReserved {
			return Resource{}, fmt.Errorf("%w: reserved is derived from usage", ErrInvalidInput)
		}
		if status == StatusAvailable && resource.CurrentUsage >= resource.Capacity {
			return Resource{}, fmt.Errorf("%w: resource is at capacity", ErrInvalidState)
		}
		resource.Status = status
	}
	if upd.Active != nil {
		resource.Active = *upd.Active
	}

	resource.UpdatedAt = l.now().UTC()
	if err := l.store.UpdateResource(ctx, resource); err != nil {
		return Resource{}, err
	}
	l.cache.InvalidatePattern(ctx, nsResources+":")
	return resource, nil
}

// ListResources returns resources through the list cache. An explicit tenant
// filter is honored as-is: published resources are discoverable across
// tenants; only mutation rights are tenant-bound.
func (l *Ledger) ListResources(ctx context.Context, scope auth.Scope, filter ResourceFilter) ([]Resource, error) {
	filter = normalizeResourceFilter(filter)
	key := cache.Key(nsResources, map[string]string{
		"tenant": filter.TenantID,
		"status": string(filter.Status),
		"kind":   filter.Kind,
	}, filter.Page, filter.PerPage)

	var resources []Resource
	if l.cache.GetJSON(ctx, key, &resources) {
		return resources, nil
	}
	resources, err := l.store.ListResources(ctx, filter)
	if err != nil {
		return nil, err
	}
	l.cache.SetJSON(ctx, key, resources, cache.ListTTL)
	return resources, nil
}

// Allocate books [req.StartTime, req.EndTime) on the resource for the
// caller's tenant. Any temporal overlap with an open allocation is a
// conflict, regardless of remaining capacity: one time slot, one allocation.
func (l *Ledger) Allocate(ctx context.Context, scope auth.Scope, resourceID string, req AllocationRequest) (Allocation, error) {
	consumer := scope.TenantID
	if consumer == "" {
		obs.ObserveAllocation("rejected")
		return Allocation{}, fmt.Errorf("%w: consumer tenant is required", ErrInvalidInput)
	}
	if req.Quantity == 0 {
		obs.ObserveAllocation("rejected")
		return Allocation{}, fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
	}
	if req.StartTime.IsZero() || req.EndTime.IsZero() || !req.StartTime.Before(req.EndTime) {
		obs.ObserveAllocation("rejected")
		return Allocation{}, fmt.Errorf("%w: start time must precede end time", ErrInvalidInput)
	}

	unlock := l.lockResource(resourceID)
	defer unlock()

	resource, err := l.store.GetResource(ctx, resourceID)
	if err != nil {
		obs.ObserveAllocation("rejected")
		return Allocation{}, err
	}
	if resource.Status != StatusAvailable || !resource.Active {
		obs.ObserveAllocation("rejected")
		return Allocation{}, fmt.Errorf("%w: resource is %s", ErrInvalidState, resource.Status)
	}
	if resource.CurrentUsage+req.Quantity > resource.Capacity {
		obs.ObserveAllocation("capacity")
		return Allocation{}, fmt.Errorf("%w: requested %d with %d of %d in use",
			ErrCapacityExceeded, req.Quantity, resource.CurrentUsage, resource.Capacity)
	}
	overlapping, err := l.store.OpenAllocationsOverlapping(ctx, resourceID, req.StartTime, req.EndTime)
	if err != nil {
		obs.ObserveAllocation("rejected")
		return Allocation{}, err
	}
	if len(overlapping) > 0 {
		obs.ObserveAllocation("conflict")
		return Allocation{}, fmt.Errorf("%w: %d overlapping allocation(s)", ErrAllocationConflict, len(overlapping))
	}

	now := l.now().UTC()
	allocation := Allocation{
		ID:         ids.NewAllocation(),
		ResourceID: resourceID,
		TenantID:   consumer,
		StartTime:  req.StartTime.UTC(),
		EndTime:    req.EndTime.UTC(),
		Quantity:   req.Quantity,
		Status:     AllocationPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := l.store.CreateAllocation(ctx, &allocation); err != nil {
		obs.ObserveAllocation("rejected")
		return Allocation{}, err
	}

	resource.CurrentUsage += req.Quantity
	if resource.CurrentUsage >= resource.Capacity {
		resource.Status = StatusReserved
	}
	resource.UpdatedAt = now
	if err := l.store.UpdateResource(ctx, resource); err != nil {
		// The allocation and the usage bump must land together. Undo the
		// create so a failed attempt does not leave an open allocation
		// blocking its own window on retry.
		if delErr := l.store.DeleteAllocation(ctx, allocation.ID); delErr != nil {
			obs.LogEvent("error", "allocation compensation failed", map[string]any{
				"allocation_id": allocation.ID,
				"resource_id":   resourceID,
				"error":         delErr.Error(),
			})
		}
		obs.ObserveAllocation("rejected")
		return Allocation{}, err
	}

	l.invalidateAfterMutation(ctx)
	obs.ObserveAllocation("accepted")
	return allocation, nil
}

// Release moves an open allocation to a terminal status and hands its
// capacity back to the resource. Only the owning consumer tenant (or an
// unrestricted scope) may release.
func (l *Ledger) Release(ctx context.Context, scope auth.Scope, allocationID string, terminal AllocationStatus) (Allocation, error) {
	if !terminal.Terminal() {
		return Allocation{}, fmt.Errorf("%w: %s is not a terminal status", ErrInvalidInput, terminal)
	}
	allocation, err := l.store.GetAllocation(ctx, allocationID)
	if err != nil {
		return Allocation{}, err
	}
	if !scope.Allows(allocation.TenantID) {
		return Allocation{}, fmt.Errorf("%w: allocation belongs to tenant %s", ErrAccessDenied, allocation.TenantID)
	}

	unlock := l.lockResource(allocation.ResourceID)
	defer unlock()

	// Re-read under the lock; a concurrent release may have won.
	allocation, err = l.store.GetAllocation(ctx, allocationID)
	if err != nil {
		return Allocation{}, err
	}
	if !allocation.Status.Open() {
		return Allocation{}, fmt.Errorf("%w: allocation already %s", ErrInvalidState, allocation.Status)
	}

	resource, err := l.store.GetResource(ctx, allocation.ResourceID)
	if err != nil {
		return Allocation{}, err
	}

	now := l.now().UTC()
	allocation.Status = terminal
	allocation.UpdatedAt = now
	if err := l.store.UpdateAllocation(ctx, allocation); err != nil {
		return Allocation{}, err
	}

	if resource.CurrentUsage >= allocation.Quantity {
		resource.CurrentUsage -= allocation.Quantity
	} else {
		resource.CurrentUsage = 0
	}
	// Only a capacity-derived reservation flips back; maintenance and
	// unavailable are operator states.
	if resource.Status == StatusReserved && resource.CurrentUsage < resource.Capacity {
		resource.Status = StatusAvailable
	}
	resource.UpdatedAt = now
	if err := l.store.UpdateResource(ctx, resource); err != nil {
		return Allocation{}, err
	}

	l.invalidateAfterMutation(ctx)
	return allocation, nil
}

// ListAllocations returns allocations through the list cache, restricted to
// the caller's tenant unless the scope is unrestricted.
func (l *Ledger) ListAllocations(ctx context.Context, scope auth.Scope, filter AllocationFilter) ([]Allocation, error) {
	if !scope.Unrestricted() {
		if scope.TenantID == "" {
			return []Allocation{}, nil
		}
		filter.TenantID = scope.TenantID
	} else if scope.TenantID != "" {
		filter.TenantID = scope.TenantID
	}
	filter = normalizeAllocationFilter(filter)

	statuses := make([]string, 0, len(filter.Statuses))
	for _, s := range filter.Statuses {
		statuses = append(statuses, string(s))
	}
	key := cache.Key(nsAllocations, map[string]string{
		"resource": filter.ResourceID,
		"tenant":   filter.TenantID,
		"status":   strings.Join(statuses, ","),
		"from":     formatTime(filter.From),
		"to":       formatTime(filter.To),
	}, filter.Page, filter.PerPage)

	var allocations []Allocation
	if l.cache.GetJSON(ctx, key, &allocations) {
		return allocations, nil
	}
	allocations, err := l.store.ListAllocations(ctx, filter)
	if err != nil {
		return nil, err
	}
	l.cache.SetJSON(ctx, key, allocations, cache.ListTTL)
	return allocations, nil
}

// invalidateAfterMutation drops every cached resource and allocation query.
// It runs synchronously before the mutation is acknowledged, which is what
// gives same-process read-your-writes.
func (l *Ledger) invalidateAfterMutation(ctx context.Context) {
	l.cache.InvalidatePattern(ctx, nsResources+":")
	l.cache.InvalidatePattern(ctx, nsAllocations+":")
}

func normalizeResourceFilter(f ResourceFilter) ResourceFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 || f.PerPage > 200 {
		f.PerPage = 50
	}
	f.TenantID = strings.TrimSpace(f.TenantID)
	f.Kind = strings.TrimSpace(f.Kind)
	return f
}

func normalizeAllocationFilter(f AllocationFilter) AllocationFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 || f.PerPage > 200 {
		f.PerPage = 50
	}
	f.ResourceID = strings.TrimSpace(f.ResourceID)
	f.TenantID = strings.TrimSpace(f.TenantID)
	return f
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
