package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"aerobase.org/internal/ledger"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func resourceRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "tenant_id", "name", "kind", "status", "capacity", "current_usage", "active", "created_at", "updated_at"})
}

func allocationRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "resource_id", "tenant_id", "start_time", "end_time", "quantity", "status", "created_at", "updated_at"})
}

func TestGetResource(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery("select id, tenant_id, name, kind, status, capacity, current_usage, active, created_at, updated_at from resources").
		WithArgs("res_1").
		WillReturnRows(resourceRows().AddRow("res_1", "tnt_a", "Hangar Bay 3", "hangar_bay", "available", int64(4), int64(1), true, now, now))

	r, err := st.GetResource(context.Background(), "res_1")
	if err != nil {
		t.Fatalf("GetResource: %v", err)
	}
	if r.Status != ledger.StatusAvailable || r.Capacity != 4 || r.CurrentUsage != 1 {
		t.Fatalf("unexpected resource: %+v", r)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetResourceNotFound(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery("select id, tenant_id, name, kind, status").
		WithArgs("res_missing").
		WillReturnRows(resourceRows())

	_, err := st.GetResource(context.Background(), "res_missing")
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestUpdateResourceNotFound(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec("update resources").
		WithArgs("res_missing", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	now := time.Now().UTC()
	err := st.UpdateResource(context.Background(), ledger.Resource{ID: "res_missing", Status: ledger.StatusAvailable, Capacity: 1, UpdatedAt: now})
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestCreateResource(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec("insert into resources").
		WithArgs("res_1", "tnt_a", "Stand A7", "stand", "available", int64(1), int64(0), true, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	now := time.Now().UTC()
	err := st.CreateResource(context.Background(), &ledger.Resource{
		ID: "res_1", TenantID: "tnt_a", Name: "Stand A7", Kind: "stand",
		Status: ledger.StatusAvailable, Capacity: 1, Active: true, CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("CreateResource: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListResourcesFilters(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery("select id, tenant_id, name, kind, status, capacity, current_usage, active, created_at, updated_at from resources where tenant_id = \\$1 and status = \\$2").
		WithArgs("tnt_a", "available", 10, 0).
		WillReturnRows(resourceRows().AddRow("res_1", "tnt_a", "Tug 12", "gse", "available", int64(2), int64(0), true, now, now))

	out, err := st.ListResources(context.Background(), ledger.ResourceFilter{
		TenantID: "tnt_a", Status: ledger.StatusAvailable, Page: 1, PerPage: 10,
	})
	if err != nil {
		t.Fatalf("ListResources: %v", err)
	}
	if len(out) != 1 || out[0].ID != "res_1" {
		t.Fatalf("unexpected listing: %+v", out)
	}
}

func TestOpenAllocationsOverlapping(t *testing.T) {
	st, mock := newMockStore(t)
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	mock.ExpectQuery("select id, resource_id, tenant_id, start_time, end_time, quantity, status, created_at, updated_at from allocations").
		WithArgs("res_1", start, end).
		WillReturnRows(allocationRows().AddRow("alc_1", "res_1", "tnt_b", start, end, int64(1), "pending", start, start))

	out, err := st.OpenAllocationsOverlapping(context.Background(), "res_1", start, end)
	if err != nil {
		t.Fatalf("OpenAllocationsOverlapping: %v", err)
	}
	if len(out) != 1 || out[0].Status != ledger.AllocationPending {
		t.Fatalf("unexpected overlap set: %+v", out)
	}
}

func TestDeleteAllocation(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec("delete from allocations").
		WithArgs("alc_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.DeleteAllocation(context.Background(), "alc_1"); err != nil {
		t.Fatalf("DeleteAllocation: %v", err)
	}

	mock.ExpectExec("delete from allocations").
		WithArgs("alc_missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := st.DeleteAllocation(context.Background(), "alc_missing"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestUpdateAllocation(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec("update allocations set status").
		WithArgs("alc_1", "completed", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := st.UpdateAllocation(context.Background(), ledger.Allocation{
		ID: "alc_1", Status: ledger.AllocationCompleted, UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("UpdateAllocation: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
