package ledger

import (
	"context"
	"time"
)

// Store is the document-store contract the ledger runs against. Listings are
// ordered by creation time; OpenAllocationsOverlapping returns allocations in
// {pending, active} whose half-open window intersects [start, end).
type Store interface {
	CreateResource(ctx context.Context, r *Resource) error
	GetResource(ctx context.Context, id string) (Resource, error)
	UpdateResource(ctx context.Context, r Resource) error
	ListResources(ctx context.Context, filter ResourceFilter) ([]Resource, error)

	CreateAllocation(ctx context.Context, a *Allocation) error
	GetAllocation(ctx context.Context, id string) (Allocation, error)
	UpdateAllocation(ctx context.Context, a Allocation) error
	DeleteAllocation(ctx context.Context, id string) error
	ListAllocations(ctx context.Context, filter AllocationFilter) ([]Allocation, error)
	OpenAllocationsOverlapping(ctx context.Context, resourceID string, start, end time.Time) ([]Allocation, error)

	Close() error
}
