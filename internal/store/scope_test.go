package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/stratumkit/stratum/internal/domain"
	"github.com/stratumkit/stratum/internal/tenancy"
)

type call struct {
	sql  string
	args []any
}

// fakeQuerier records every statement and serves canned results, so tests
// can assert on the exact SQL the isolation layer emits. Multi-step flows
// queue row results in order with pushRow/pushRowErr.
type fakeQuerier struct {
	mu        sync.Mutex
	calls     []call
	tag       pgconn.CommandTag
	execErr   error
	rowVals   []any
	rowErr    error
	queue     []*fakeRow
	beginErr  error
	commits   int
	rollbacks int
}

func (f *fakeQuerier) record(sql string, args []any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{sql: sql, args: args})
}

func (f *fakeQuerier) pushRow(vals ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, &fakeRow{vals: vals})
}

func (f *fakeQuerier) pushRowErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, &fakeRow{err: err})
}

func (f *fakeQuerier) lastCall(t *testing.T) call {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		t.Fatal("no statements were executed")
	}
	return f.calls[len(f.calls)-1]
}

func (f *fakeQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.record(sql, args)
	return f.tag, f.execErr
}

func (f *fakeQuerier) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.record(sql, args)
	return &fakeRows{}, nil
}

func (f *fakeQuerier) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.record(sql, args)
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) > 0 {
		r := f.queue[0]
		f.queue = f.queue[1:]
		return r
	}
	return &fakeRow{vals: f.rowVals, err: f.rowErr}
}

func (f *fakeQuerier) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	for _, q := range b.QueuedQueries {
		f.record(q.SQL, q.Arguments)
	}
	return &fakeBatchResults{n: b.Len(), tag: f.tag, err: f.execErr}
}

func (f *fakeQuerier) Begin(_ context.Context) (pgx.Tx, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	return &fakeTx{f: f}, nil
}

type fakeRow struct {
	vals []any
	err  error
}

func (r *fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		if i >= len(r.vals) {
			break
		}
		if r.vals[i] == nil {
			continue
		}
		switch v := d.(type) {
		case *bool:
			*v = r.vals[i].(bool)
		case *int:
			*v = r.vals[i].(int)
		case *int64:
			*v = r.vals[i].(int64)
		case *string:
			*v = r.vals[i].(string)
		case *uuid.UUID:
			*v = r.vals[i].(uuid.UUID)
		case **uuid.UUID:
			u := r.vals[i].(uuid.UUID)
			*v = &u
		case *time.Time:
			*v = r.vals[i].(time.Time)
		case **time.Time:
			t := r.vals[i].(time.Time)
			*v = &t
		case *domain.WindowType:
			*v = r.vals[i].(domain.WindowType)
		case *domain.ProjectStatus:
			*v = r.vals[i].(domain.ProjectStatus)
		case *domain.Role:
			*v = r.vals[i].(domain.Role)
		case *domain.MembershipStatus:
			*v = r.vals[i].(domain.MembershipStatus)
		}
	}
	return nil
}

type fakeRows struct{}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Next() bool                                   { return false }
func (r *fakeRows) Scan(dest ...any) error                       { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

type fakeBatchResults struct {
	n   int
	tag pgconn.CommandTag
	err error
}

func (b *fakeBatchResults) Exec() (pgconn.CommandTag, error) { return b.tag, b.err }
func (b *fakeBatchResults) Query() (pgx.Rows, error)         { return &fakeRows{}, b.err }
func (b *fakeBatchResults) QueryRow() pgx.Row                { return &fakeRow{} }
func (b *fakeBatchResults) Close() error                     { return nil }

type fakeTx struct {
	pgx.Tx
	f *fakeQuerier
}

func (t *fakeTx) Begin(ctx context.Context) (pgx.Tx, error) { return t.f.Begin(ctx) }
func (t *fakeTx) Commit(context.Context) error {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	t.f.commits++
	return nil
}
func (t *fakeTx) Rollback(context.Context) error {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	t.f.rollbacks++
	return nil
}
func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.f.Exec(ctx, sql, args...)
}
func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return t.f.Query(ctx, sql, args...)
}
func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return t.f.QueryRow(ctx, sql, args...)
}
func (t *fakeTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	return t.f.SendBatch(ctx, b)
}

func setupScopeTest(t *testing.T) (*Scope, *fakeQuerier, context.Context, uuid.UUID) {
	t.Helper()
	f := &fakeQuerier{tag: pgconn.NewCommandTag("UPDATE 1")}
	s := NewScope(f, zap.NewNop())

	tid := uuid.New()
	ctx, err := tenancy.WithContext(context.Background(), tenancy.NewAPIKeyContext(tid.String()))
	if err != nil {
		t.Fatalf("WithContext failed: %v", err)
	}
	return s, f, ctx, tid
}

func superAdminCtx(t *testing.T, targetTenant uuid.UUID) context.Context {
	t.Helper()
	tc, err := tenancy.NewSuperAdminContext(targetTenant.String(), uuid.NewString())
	if err != nil {
		t.Fatalf("NewSuperAdminContext failed: %v", err)
	}
	ctx, err := tenancy.WithContext(context.Background(), tc)
	if err != nil {
		t.Fatalf("WithContext failed: %v", err)
	}
	return ctx
}

func TestSelectWhereAppendsTenantPredicate(t *testing.T) {
	s, f, ctx, tid := setupScopeTest(t)

	orgID := uuid.New()
	rows, err := s.SelectWhere(ctx, TableProjects, []string{"id", "name"}, "organization_id = $1", "created_at", orgID)
	if err != nil {
		t.Fatalf("SelectWhere failed: %v", err)
	}
	rows.Close()

	got := f.lastCall(t)
	want := "SELECT id, name FROM projects WHERE (organization_id = $1) AND tenant_id = $2 ORDER BY created_at"
	if got.sql != want {
		t.Errorf("sql = %q, want %q", got.sql, want)
	}
	if len(got.args) != 2 || got.args[1] != tid {
		t.Errorf("args = %v, want caller arg then tenant %s", got.args, tid)
	}
}

func TestSelectWhereNoCallerPredicate(t *testing.T) {
	s, f, ctx, _ := setupScopeTest(t)

	rows, err := s.SelectWhere(ctx, TableProjects, []string{"id"}, "", "")
	if err != nil {
		t.Fatalf("SelectWhere failed: %v", err)
	}
	rows.Close()

	got := f.lastCall(t)
	if got.sql != "SELECT id FROM projects WHERE tenant_id = $1" {
		t.Errorf("sql = %q", got.sql)
	}
}

func TestScopeDefaultDeny(t *testing.T) {
	s, f, _, _ := setupScopeTest(t)
	ctx := context.Background()

	if _, err := s.SelectWhere(ctx, TableProjects, []string{"id"}, "", ""); !errors.Is(err, tenancy.ErrContextNotSet) {
		t.Errorf("SelectWhere error = %v, want ErrContextNotSet", err)
	}
	if err := s.Insert(ctx, TableProjects, map[string]any{"name": "x"}); !errors.Is(err, tenancy.ErrContextNotSet) {
		t.Errorf("Insert error = %v, want ErrContextNotSet", err)
	}
	if _, err := s.Count(ctx, TableProjects, ""); !errors.Is(err, tenancy.ErrContextNotSet) {
		t.Errorf("Count error = %v, want ErrContextNotSet", err)
	}
	if err := s.Transaction(ctx, func(context.Context, *Scope) error { return nil }); !errors.Is(err, tenancy.ErrContextNotSet) {
		t.Errorf("Transaction error = %v, want ErrContextNotSet", err)
	}
	if len(f.calls) != 0 {
		t.Errorf("statements reached the database without a tenant context: %v", f.calls)
	}
}

func TestSelectBypassLeavesQueryUnfiltered(t *testing.T) {
	s, f, _, _ := setupScopeTest(t)

	t.Run("system", func(t *testing.T) {
		ctx := tenancy.WithSystemContext(context.Background())
		rows, err := s.SelectWhere(ctx, TableProjects, []string{"id"}, "status = $1", "", "active")
		if err != nil {
			t.Fatalf("SelectWhere failed: %v", err)
		}
		rows.Close()
		if got := f.lastCall(t); got.sql != "SELECT id FROM projects WHERE status = $1" {
			t.Errorf("sql = %q", got.sql)
		}
	})

	t.Run("super-admin", func(t *testing.T) {
		ctx := superAdminCtx(t, uuid.New())
		rows, err := s.SelectWhere(ctx, TableProjects, []string{"id"}, "status = $1", "", "active")
		if err != nil {
			t.Fatalf("SelectWhere failed: %v", err)
		}
		rows.Close()
		if got := f.lastCall(t); strings.Contains(got.sql, "tenant_id") {
			t.Errorf("super-admin query was filtered: %q", got.sql)
		}
	})
}

func TestSelectGlobalTableSkipsFiltering(t *testing.T) {
	s, f, ctx, _ := setupScopeTest(t)

	rows, err := s.SelectWhere(ctx, TableTenants, []string{"id"}, "slug = $1", "", "acme")
	if err != nil {
		t.Fatalf("SelectWhere failed: %v", err)
	}
	rows.Close()

	if got := f.lastCall(t); strings.Contains(got.sql, "tenant_id") {
		t.Errorf("global table query was filtered: %q", got.sql)
	}
}

func TestInsertStampsContextTenant(t *testing.T) {
	s, f, ctx, tid := setupScopeTest(t)

	err := s.Insert(ctx, TableProjects, map[string]any{"name": "api", "organization_id": uuid.New()})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got := f.lastCall(t)
	want := "INSERT INTO projects (name, organization_id, tenant_id) VALUES ($1, $2, $3)"
	if got.sql != want {
		t.Errorf("sql = %q, want %q", got.sql, want)
	}
	if got.args[2] != tid {
		t.Errorf("stamped tenant = %v, want %s", got.args[2], tid)
	}
}

func TestInsertExplicitTenantMismatchIsViolation(t *testing.T) {
	s, f, ctx, _ := setupScopeTest(t)

	err := s.Insert(ctx, TableProjects, map[string]any{"name": "api", "tenant_id": uuid.New()})
	if !errors.Is(err, domain.ErrIsolationViolation) {
		t.Fatalf("error = %v, want ErrIsolationViolation", err)
	}
	if len(f.calls) != 0 {
		t.Error("violating insert reached the database")
	}
}

func TestInsertExplicitMatchingTenantAllowed(t *testing.T) {
	s, _, ctx, tid := setupScopeTest(t)

	err := s.Insert(ctx, TableProjects, map[string]any{"name": "api", "tenant_id": tid})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
}

func TestInsertSystemContextDoesNotStamp(t *testing.T) {
	s, f, _, _ := setupScopeTest(t)
	ctx := tenancy.WithSystemContext(context.Background())

	err := s.Insert(ctx, TableProjects, map[string]any{"name": "api"})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if got := f.lastCall(t); strings.Contains(got.sql, "tenant_id") {
		t.Errorf("system insert stamped a tenant: %q", got.sql)
	}
}

func TestInsertSuperAdminStampsTargetTenant(t *testing.T) {
	s, f, _, _ := setupScopeTest(t)

	t.Run("explicit target preserved", func(t *testing.T) {
		target := uuid.New()
		other := uuid.New()
		ctx := superAdminCtx(t, other)

		if err := s.Insert(ctx, TableProjects, map[string]any{"name": "api", "tenant_id": target}); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		got := f.lastCall(t)
		if got.sql != "INSERT INTO projects (name, tenant_id) VALUES ($1, $2)" {
			t.Errorf("sql = %q", got.sql)
		}
		if got.args[1] != target {
			t.Errorf("tenant arg = %v, want explicit target %s", got.args[1], target)
		}
	})

	t.Run("defaults to context target", func(t *testing.T) {
		target := uuid.New()
		ctx := superAdminCtx(t, target)

		if err := s.Insert(ctx, TableProjects, map[string]any{"name": "api"}); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		got := f.lastCall(t)
		if got.args[1] != target {
			t.Errorf("tenant arg = %v, want context target %s", got.args[1], target)
		}
	})
}

func TestUpdateWherePlaceholderOrder(t *testing.T) {
	s, f, ctx, tid := setupScopeTest(t)

	id := uuid.New()
	n, err := s.UpdateWhere(ctx, TableProjects, map[string]any{"name": "renamed"}, "id = $1", id)
	if err != nil {
		t.Fatalf("UpdateWhere failed: %v", err)
	}
	if n != 1 {
		t.Errorf("rows affected = %d, want 1", n)
	}

	got := f.lastCall(t)
	want := "UPDATE projects SET name = $2 WHERE (id = $1) AND tenant_id = $3"
	if got.sql != want {
		t.Errorf("sql = %q, want %q", got.sql, want)
	}
	if got.args[0] != id || got.args[1] != "renamed" || got.args[2] != tid {
		t.Errorf("args = %v", got.args)
	}
}

func TestUpdateWhereDeniesTenantReassignment(t *testing.T) {
	s, f, ctx, _ := setupScopeTest(t)

	_, err := s.UpdateWhere(ctx, TableProjects, map[string]any{"tenant_id": uuid.New()}, "id = $1", uuid.New())
	if !errors.Is(err, domain.ErrIsolationViolation) {
		t.Fatalf("error = %v, want ErrIsolationViolation", err)
	}
	if len(f.calls) != 0 {
		t.Error("tenant reassignment reached the database")
	}
}

func TestDeleteWhereAppendsTenantPredicate(t *testing.T) {
	s, f, ctx, _ := setupScopeTest(t)

	if _, err := s.DeleteWhere(ctx, TableProjects, "id = $1", uuid.New()); err != nil {
		t.Fatalf("DeleteWhere failed: %v", err)
	}
	got := f.lastCall(t)
	if got.sql != "DELETE FROM projects WHERE (id = $1) AND tenant_id = $2" {
		t.Errorf("sql = %q", got.sql)
	}
}

func TestCountAndExists(t *testing.T) {
	s, f, ctx, _ := setupScopeTest(t)

	f.rowVals = []any{int64(7)}
	n, err := s.Count(ctx, TableProjects, "organization_id = $1", uuid.New())
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 7 {
		t.Errorf("count = %d, want 7", n)
	}
	if got := f.lastCall(t); got.sql != "SELECT COUNT(*) FROM projects WHERE (organization_id = $1) AND tenant_id = $2" {
		t.Errorf("sql = %q", got.sql)
	}

	f.rowVals = []any{true}
	ok, err := s.Exists(ctx, TableProjects, "id = $1", uuid.New())
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !ok {
		t.Error("exists = false, want true")
	}
	if got := f.lastCall(t); got.sql != "SELECT EXISTS (SELECT 1 FROM projects WHERE (id = $1) AND tenant_id = $2)" {
		t.Errorf("sql = %q", got.sql)
	}
}

func TestBatchInsertStampsEveryRow(t *testing.T) {
	s, f, ctx, tid := setupScopeTest(t)

	rows := [][]any{
		{uuid.New(), "one"},
		{uuid.New(), "two"},
	}
	if err := s.BatchInsert(ctx, TableProjects, []string{"id", "name"}, rows); err != nil {
		t.Fatalf("BatchInsert failed: %v", err)
	}

	if len(f.calls) != 2 {
		t.Fatalf("queued %d statements, want 2", len(f.calls))
	}
	for _, c := range f.calls {
		if c.sql != "INSERT INTO projects (id, name, tenant_id) VALUES ($1, $2, $3)" {
			t.Errorf("sql = %q", c.sql)
		}
		if c.args[2] != tid {
			t.Errorf("tenant arg = %v, want %s", c.args[2], tid)
		}
	}
}

func TestBatchInsertForeignTenantIsViolation(t *testing.T) {
	s, f, ctx, tid := setupScopeTest(t)

	rows := [][]any{
		{uuid.New(), tid},
		{uuid.New(), uuid.New()},
	}
	err := s.BatchInsert(ctx, TableProjects, []string{"id", "tenant_id"}, rows)
	if !errors.Is(err, domain.ErrIsolationViolation) {
		t.Fatalf("error = %v, want ErrIsolationViolation", err)
	}
	if len(f.calls) != 0 {
		t.Error("violating batch reached the database")
	}
}

func TestSoftDeleteAndRestore(t *testing.T) {
	s, f, ctx, _ := setupScopeTest(t)

	id := uuid.New()
	if err := s.SoftDelete(ctx, TableProjects, id); err != nil {
		t.Fatalf("SoftDelete failed: %v", err)
	}
	got := f.lastCall(t)
	want := "UPDATE projects SET deleted_at = $2 WHERE (id = $1 AND deleted_at IS NULL) AND tenant_id = $3"
	if got.sql != want {
		t.Errorf("sql = %q, want %q", got.sql, want)
	}

	if err := s.Restore(ctx, TableProjects, id); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	got = f.lastCall(t)
	want = "UPDATE projects SET deleted_at = $2 WHERE (id = $1 AND deleted_at IS NOT NULL) AND tenant_id = $3"
	if got.sql != want {
		t.Errorf("sql = %q, want %q", got.sql, want)
	}

	f.tag = pgconn.NewCommandTag("UPDATE 0")
	if err := s.SoftDelete(ctx, TableProjects, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("SoftDelete on missing row = %v, want ErrNotFound", err)
	}

	if err := s.SoftDelete(ctx, TableMemberships, id); err == nil {
		t.Error("SoftDelete on a table without a soft-delete column succeeded")
	}
}

func TestValidateTenantOwnership(t *testing.T) {
	t.Run("owned resource passes", func(t *testing.T) {
		s, f, ctx, _ := setupScopeTest(t)
		f.rowVals = []any{true}
		if err := s.ValidateTenantOwnership(ctx, TableProjects, uuid.New()); err != nil {
			t.Fatalf("ValidateTenantOwnership failed: %v", err)
		}
	})

	t.Run("missing and foreign rows are indistinguishable", func(t *testing.T) {
		s, f, ctx, _ := setupScopeTest(t)
		f.rowVals = []any{false}

		err := s.ValidateTenantOwnership(ctx, TableProjects, uuid.New())
		if !errors.Is(err, domain.ErrIsolationViolation) {
			t.Fatalf("error = %v, want ErrIsolationViolation", err)
		}
		var ie *domain.IsolationError
		if !errors.As(err, &ie) {
			t.Fatal("error is not an IsolationError")
		}
		if strings.Contains(ie.Error(), "exist") || strings.Contains(ie.Error(), "owner") {
			t.Errorf("message leaks resource state: %q", ie.Error())
		}
	})

	t.Run("bypass skips the check", func(t *testing.T) {
		s, f, _, _ := setupScopeTest(t)
		ctx := tenancy.WithSystemContext(context.Background())
		if err := s.ValidateTenantOwnership(ctx, TableProjects, uuid.New()); err != nil {
			t.Fatalf("ValidateTenantOwnership failed: %v", err)
		}
		if len(f.calls) != 0 {
			t.Error("bypass still queried the database")
		}
	})
}

func TestVerifyRowTenancy(t *testing.T) {
	s, _, ctx, tid := setupScopeTest(t)

	if err := s.VerifyRowTenancy(ctx, TableProjects, tid, tid); err != nil {
		t.Fatalf("VerifyRowTenancy failed on owned rows: %v", err)
	}
	err := s.VerifyRowTenancy(ctx, TableProjects, tid, uuid.New())
	if !errors.Is(err, domain.ErrIsolationViolation) {
		t.Errorf("error = %v, want ErrIsolationViolation", err)
	}
}

func TestTransactionCommitAndRollback(t *testing.T) {
	s, f, ctx, _ := setupScopeTest(t)

	err := s.Transaction(ctx, func(txCtx context.Context, tx *Scope) error {
		return tx.Insert(txCtx, TableProjects, map[string]any{"name": "in-tx"})
	})
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	if f.commits != 1 {
		t.Errorf("commits = %d, want 1", f.commits)
	}

	boom := errors.New("boom")
	err = s.Transaction(ctx, func(context.Context, *Scope) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("Transaction error = %v, want boom", err)
	}
	if f.rollbacks == 0 {
		t.Error("failed transaction never rolled back")
	}
	if f.commits != 1 {
		t.Errorf("failed transaction committed: commits = %d", f.commits)
	}
}

func TestTransactionWithRLSSetsSessionVars(t *testing.T) {
	s, f, ctx, tid := setupScopeTest(t)

	err := s.TransactionWithRLS(ctx, func(context.Context, *Scope) error { return nil })
	if err != nil {
		t.Fatalf("TransactionWithRLS failed: %v", err)
	}

	if len(f.calls) == 0 {
		t.Fatal("no statements executed")
	}
	first := f.calls[0]
	if !strings.Contains(first.sql, "set_config('app.current_tenant_id'") {
		t.Errorf("first statement is not the session setup: %q", first.sql)
	}
	if first.args[0] != tid.String() || first.args[1] != "off" {
		t.Errorf("session args = %v", first.args)
	}
}

func TestTransactionWithRLSMarksBypass(t *testing.T) {
	s, f, _, _ := setupScopeTest(t)
	ctx := tenancy.WithSystemContext(context.Background())

	err := s.TransactionWithRLS(ctx, func(context.Context, *Scope) error { return nil })
	if err != nil {
		t.Fatalf("TransactionWithRLS failed: %v", err)
	}
	first := f.calls[0]
	if first.args[1] != "on" {
		t.Errorf("bypass flag = %v, want on", first.args[1])
	}
}
