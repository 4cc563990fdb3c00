package ledger

import (
	"errors"
	"time"
)

// ResourceStatus is the lifecycle state of a bookable resource.
type ResourceStatus string

const (
	StatusAvailable   ResourceStatus = "available"
	StatusInUse       ResourceStatus = "in_use"
	StatusMaintenance ResourceStatus = "maintenance"
	StatusReserved    ResourceStatus = "reserved"
	StatusUnavailable ResourceStatus = "unavailable"
)

// Valid reports whether s is a known status.
func (s ResourceStatus) Valid() bool {
	switch s {
	case StatusAvailable, StatusInUse, StatusMaintenance, StatusReserved, StatusUnavailable:
		return true
	}
	return false
}

// AllocationStatus is the lifecycle state of a reservation.
// completed and cancelled are terminal.
type AllocationStatus string

const (
	AllocationPending   AllocationStatus = "pending"
	AllocationActive    AllocationStatus = "active"
	AllocationCompleted AllocationStatus = "completed"
	AllocationCancelled AllocationStatus = "cancelled"
)

// Open reports whether the allocation still holds capacity.
func (s AllocationStatus) Open() bool {
	return s == AllocationPending || s == AllocationActive
}

// Terminal reports whether the allocation has released its capacity.
func (s AllocationStatus) Terminal() bool {
	return s == AllocationCompleted || s == AllocationCancelled
}

// Resource is a finite-capacity asset published by a provider tenant:
// a hangar bay, a ground-power unit, a parking stand.
// Invariant: 0 <= CurrentUsage <= Capacity, and Status is reserved exactly
// while usage has reached capacity.
type Resource struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenant_id"`
	Name         string         `json:"name"`
	Kind         string         `json:"kind,omitempty"`
	Status       ResourceStatus `json:"status"`
	Capacity     uint32         `json:"capacity"`
	CurrentUsage uint32         `json:"current_usage"`
	Active       bool           `json:"active"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Allocation is a time-bounded reservation of quantity units of a resource,
// owned by the consumer tenant that requested it. Intervals are half-open:
// [StartTime, EndTime).
type Allocation struct {
	ID         string           `json:"id"`
	ResourceID string           `json:"resource_id"`
	TenantID   string           `json:"tenant_id"`
	StartTime  time.Time        `json:"start_time"`
	EndTime    time.Time        `json:"end_time"`
	Quantity   uint32           `json:"quantity"`
	Status     AllocationStatus `json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// Overlaps reports whether the allocation's window intersects [start, end).
func (a Allocation) Overlaps(start, end time.Time) bool {
	return a.StartTime.Before(end) && a.EndTime.After(start)
}

// ResourceSpec is the input for publishing a new resource.
type ResourceSpec struct {
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
	Kind     string `json:"kind,omitempty"`
	Capacity uint32 `json:"capacity"`
}

// ResourceUpdate mutates selected resource fields. Nil means unchanged.
type ResourceUpdate struct {
	Name     *string
	Kind     *string
	Status   *ResourceStatus
	Capacity *uint32
	Active   *bool
}

// AllocationRequest is the input for booking a window on a resource.
type AllocationRequest struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Quantity  uint32    `json:"quantity"`
}

// ResourceFilter narrows resource listings.
type ResourceFilter struct {
	TenantID string
	Status   ResourceStatus
	Kind     string
	Page     int
	PerPage  int
}

// AllocationFilter narrows allocation listings.
type AllocationFilter struct {
	ResourceID string
	TenantID   string
	Statuses   []AllocationStatus
	From       time.Time
	To         time.Time
	Page       int
	PerPage    int
}

// Error kinds reported to callers. The HTTP adapter maps them onto status
// codes; the core never formats user-facing responses.
var (
	ErrNotFound           = errors.New("ledger: not found")
	ErrInvalidState       = errors.New("ledger: invalid resource state")
	ErrCapacityExceeded   = errors.New("ledger: capacity exceeded")
	ErrAllocationConflict = errors.New("ledger: allocation conflict")
	ErrAccessDenied       = errors.New("ledger: access denied")
	ErrInvalidInput       = errors.New("ledger: invalid input")
)
