package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"aerobase.org/internal/ledger"
)

// Store implements ledger.Store on PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ ledger.Store = (*Store)(nil)

// Open connects to the database identified by dsn.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection (used by tests).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping verifies connectivity; the service refuses to start when it fails.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// EnsureSchema creates the resource and allocation tables when absent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddl := []string{
		`create table if not exists resources (
			id text primary key,
			tenant_id text not null,
			name text not null,
			kind text not null default '',
			status text not null,
			capacity integer not null check (capacity > 0),
			current_usage integer not null default 0 check (current_usage >= 0),
			active boolean not null default true,
			created_at timestamptz not null default now(),
			updated_at timestamptz not null default now()
		)`,
		`create index if not exists resources_tenant_idx on resources(tenant_id)`,
		`create table if not exists allocations (
			id text primary key,
			resource_id text not null references resources(id),
			tenant_id text not null,
			start_time timestamptz not null,
			end_time timestamptz not null,
			quantity integer not null check (quantity > 0),
			status text not null,
			created_at timestamptz not null default now(),
			updated_at timestamptz not null default now(),
			check (start_time < end_time)
		)`,
		`create index if not exists allocations_resource_idx on allocations(resource_id, status)`,
		`create index if not exists allocations_tenant_idx on allocations(tenant_id, created_at)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Store) CreateResource(ctx context.Context, r *ledger.Resource) error {
	_, err := s.db.ExecContext(ctx, `
		insert into resources(id, tenant_id, name, kind, status, capacity, current_usage, active, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, r.ID, r.TenantID, r.Name, r.Kind, string(r.Status), int64(r.Capacity), int64(r.CurrentUsage), r.Active, r.CreatedAt, r.UpdatedAt)
	return err
}

const resourceColumns = `id, tenant_id, name, kind, status, capacity, current_usage, active, created_at, updated_at`

func (s *Store) GetResource(ctx context.Context, id string) (ledger.Resource, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+resourceColumns+` from resources where id = $1`, id)
	return scanResource(row)
}

func (s *Store) UpdateResource(ctx context.Context, r ledger.Resource) error {
	res, err := s.db.ExecContext(ctx, `
		update resources
		set name=$2, kind=$3, status=$4, capacity=$5, current_usage=$6, active=$7, updated_at=$8
		where id = $1
	`, r.ID, r.Name, r.Kind, string(r.Status), int64(r.Capacity), int64(r.CurrentUsage), r.Active, r.UpdatedAt)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func (s *Store) ListResources(ctx context.Context, filter ledger.ResourceFilter) ([]ledger.Resource, error) {
	var (
		conds []string
		args  []any
	)
	if filter.TenantID != "" {
		args = append(args, filter.TenantID)
		conds = append(conds, "tenant_id = $"+strconv.Itoa(len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, "status = $"+strconv.Itoa(len(args)))
	}
	if filter.Kind != "" {
		args = append(args, filter.Kind)
		conds = append(conds, "kind = $"+strconv.Itoa(len(args)))
	}
	query := `select ` + resourceColumns + ` from resources`
	if len(conds) > 0 {
		query += " where " + strings.Join(conds, " and ")
	}
	query += " order by created_at asc, id asc"
	query += limitOffset(&args, filter.Page, filter.PerPage)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) CreateAllocation(ctx context.Context, a *ledger.Allocation) error {
	_, err := s.db.ExecContext(ctx, `
		insert into allocations(id, resource_id, tenant_id, start_time, end_time, quantity, status, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, a.ID, a.ResourceID, a.TenantID, a.StartTime, a.EndTime, int64(a.Quantity), string(a.Status), a.CreatedAt, a.UpdatedAt)
	return err
}

const allocationColumns = `id, resource_id, tenant_id, start_time, end_time, quantity, status, created_at, updated_at`

func (s *Store) GetAllocation(ctx context.Context, id string) (ledger.Allocation, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+allocationColumns+` from allocations where id = $1`, id)
	return scanAllocation(row)
}

func (s *Store) UpdateAllocation(ctx context.Context, a ledger.Allocation) error {
	res, err := s.db.ExecContext(ctx, `
		update allocations set status=$2, updated_at=$3 where id = $1
	`, a.ID, string(a.Status), a.UpdatedAt)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteAllocation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from allocations where id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func (s *Store) ListAllocations(ctx context.Context, filter ledger.AllocationFilter) ([]ledger.Allocation, error) {
	var (
		conds []string
		args  []any
	)
	if filter.ResourceID != "" {
		args = append(args, filter.ResourceID)
		conds = append(conds, "resource_id = $"+strconv.Itoa(len(args)))
	}
	if filter.TenantID != "" {
		args = append(args, filter.TenantID)
		conds = append(conds, "tenant_id = $"+strconv.Itoa(len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			args = append(args, string(st))
			placeholders = append(placeholders, "$"+strconv.Itoa(len(args)))
		}
		conds = append(conds, "status in ("+strings.Join(placeholders, ",")+")")
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		conds = append(conds, "end_time > $"+strconv.Itoa(len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		conds = append(conds, "start_time < $"+strconv.Itoa(len(args)))
	}
	query := `select ` + allocationColumns + ` from allocations`
	if len(conds) > 0 {
		query += " where " + strings.Join(conds, " and ")
	}
	query += " order by created_at asc, id asc"
	query += limitOffset(&args, filter.Page, filter.PerPage)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Allocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) OpenAllocationsOverlapping(ctx context.Context, resourceID string, start, end time.Time) ([]ledger.Allocation, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+allocationColumns+` from allocations
		where resource_id = $1
		  and status in ('pending','active')
		  and start_time < $3
		  and end_time > $2
	`, resourceID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Allocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResource(row rowScanner) (ledger.Resource, error) {
	var (
		r        ledger.Resource
		status   string
		capacity int64
		usage    int64
	)
	err := row.Scan(&r.ID, &r.TenantID, &r.Name, &r.Kind, &status, &capacity, &usage, &r.Active, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Resource{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Resource{}, err
	}
	r.Status = ledger.ResourceStatus(status)
	r.Capacity = uint32(capacity)
	r.CurrentUsage = uint32(usage)
	return r, nil
}

func scanAllocation(row rowScanner) (ledger.Allocation, error) {
	var (
		a        ledger.Allocation
		status   string
		quantity int64
	)
	err := row.Scan(&a.ID, &a.ResourceID, &a.TenantID, &a.StartTime, &a.EndTime, &quantity, &status, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Allocation{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Allocation{}, err
	}
	a.Status = ledger.AllocationStatus(status)
	a.Quantity = uint32(quantity)
	return a, nil
}

func limitOffset(args *[]any, page, perPage int) string {
	if perPage < 1 {
		return ""
	}
	if page < 1 {
		page = 1
	}
	*args = append(*args, perPage)
	clause := " limit $" + strconv.Itoa(len(*args))
	*args = append(*args, (page-1)*perPage)
	clause += " offset $" + strconv.Itoa(len(*args))
	return clause
}
