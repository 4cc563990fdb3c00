package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemory implements Store with in-process concurrency safety. It is the
// default backend for tests and single-node deployments; the Postgres store
// is the durable alternative.
type InMemory struct {
	mu          sync.RWMutex
	resources   map[string]*Resource
	allocations map[string]*Allocation
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		resources:   make(map[string]*Resource),
		allocations: make(map[string]*Allocation),
	}
}

func (s *InMemory) CreateResource(ctx context.Context, r *Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *r
	s.resources[r.ID] = &stored
	return nil
}

func (s *InMemory) GetResource(ctx context.Context, id string) (Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.resources[id]
	if !ok {
		return Resource{}, ErrNotFound
	}
	return *r, nil
}

func (s *InMemory) UpdateResource(ctx context.Context, r Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.resources[r.ID]; !ok {
		return ErrNotFound
	}
	stored := r
	s.resources[r.ID] = &stored
	return nil
}

func (s *InMemory) ListResources(ctx context.Context, filter ResourceFilter) ([]Resource, error) {
	s.mu.RLock()
	var matched []Resource
	for _, r := range s.resources {
		if filter.TenantID != "" && r.TenantID != filter.TenantID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.Kind != "" && r.Kind != filter.Kind {
			continue
		}
		matched = append(matched, *r)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	return paginate(matched, filter.Page, filter.PerPage), nil
}

func (s *InMemory) CreateAllocation(ctx context.Context, a *Allocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *a
	s.allocations[a.ID] = &stored
	return nil
}

func (s *InMemory) GetAllocation(ctx context.Context, id string) (Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.allocations[id]
	if !ok {
		return Allocation{}, ErrNotFound
	}
	return *a, nil
}

func (s *InMemory) UpdateAllocation(ctx context.Context, a Allocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.allocations[a.ID]; !ok {
		return ErrNotFound
	}
	stored := a
	s.allocations[a.ID] = &stored
	return nil
}

func (s *InMemory) DeleteAllocation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.allocations[id]; !ok {
		return ErrNotFound
	}
	delete(s.allocations, id)
	return nil
}

func (s *InMemory) ListAllocations(ctx context.Context, filter AllocationFilter) ([]Allocation, error) {
	s.mu.RLock()
	var matched []Allocation
	for _, a := range s.allocations {
		if filter.ResourceID != "" && a.ResourceID != filter.ResourceID {
			continue
		}
		if filter.TenantID != "" && a.TenantID != filter.TenantID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, a.Status) {
			continue
		}
		if !filter.From.IsZero() && !a.EndTime.After(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !a.StartTime.Before(filter.To) {
			continue
		}
		matched = append(matched, *a)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	return paginate(matched, filter.Page, filter.PerPage), nil
}

func (s *InMemory) OpenAllocationsOverlapping(ctx context.Context, resourceID string, start, end time.Time) ([]Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Allocation
	for _, a := range s.allocations {
		if a.ResourceID != resourceID || !a.Status.Open() {
			continue
		}
		if a.Overlaps(start, end) {
			out = append(out, *a)
		}
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemory) Close() error { return nil }

func containsStatus(statuses []AllocationStatus, status AllocationStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func paginate[T any](items []T, page, perPage int) []T {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		return items
	}
	start := (page - 1) * perPage
	if start >= len(items) {
		return []T{}
	}
	end := start + perPage
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
