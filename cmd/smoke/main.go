package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"aerobase.org/internal/auth"
	"aerobase.org/internal/cache"
	"aerobase.org/internal/ledger"
)

// Exercises the allocation core end to end against the in-memory stores.
// Exits non-zero on the first broken invariant.
func main() {
	store := cache.NewMemory()
	defer store.Close()

	svc, err := ledger.New(ledger.NewInMemory(), cache.New(store))
	if err != nil {
		log.Fatalf("ledger: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider := auth.Scope{TenantID: "tnt_smoke_provider"}
	consumer := auth.Scope{TenantID: "tnt_smoke_consumer"}

	res, err := svc.CreateResource(ctx, provider, ledger.ResourceSpec{
		Name:     "Smoke Hangar",
		Kind:     "hangar_bay",
		Capacity: 1,
	})
	if err != nil {
		log.Fatalf("create resource: %v", err)
	}

	start := time.Now().UTC().Truncate(time.Hour).Add(24 * time.Hour)
	alloc, err := svc.Allocate(ctx, consumer, res.ID, ledger.AllocationRequest{
		StartTime: start,
		EndTime:   start.Add(time.Hour),
		Quantity:  1,
	})
	if err != nil {
		log.Fatalf("allocate: %v", err)
	}

	// Same window must now be refused.
	_, err = svc.Allocate(ctx, consumer, res.ID, ledger.AllocationRequest{
		StartTime: start,
		EndTime:   start.Add(time.Hour),
		Quantity:  1,
	})
	if !errors.Is(err, ledger.ErrAllocationConflict) && !errors.Is(err, ledger.ErrInvalidState) {
		log.Fatalf("expected conflict on overlapping window, got %v", err)
	}

	got, err := svc.GetResource(ctx, consumer, res.ID)
	if err != nil {
		log.Fatalf("get resource: %v", err)
	}
	if got.CurrentUsage != 1 {
		log.Fatalf("usage accounting failed: usage=%d", got.CurrentUsage)
	}

	released, err := svc.Release(ctx, consumer, alloc.ID, ledger.AllocationCompleted)
	if err != nil {
		log.Fatalf("release: %v", err)
	}
	if released.Status != ledger.AllocationCompleted {
		log.Fatalf("unexpected status after release: %s", released.Status)
	}

	got, err = svc.GetResource(ctx, consumer, res.ID)
	if err != nil {
		log.Fatalf("get resource: %v", err)
	}
	if got.CurrentUsage != 0 || got.Status != ledger.StatusAvailable {
		log.Fatalf("release did not restore capacity: usage=%d status=%s", got.CurrentUsage, got.Status)
	}

	fmt.Printf("✅ allocation smoke test passed: resource=%s allocation=%s\n", res.ID, alloc.ID)
}
