package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/stratumkit/stratum/internal/domain"
	"github.com/stratumkit/stratum/internal/metrics"
	"github.com/stratumkit/stratum/internal/tenancy"
)

// Querier is the subset of pgx behavior the isolation layer needs. Both
// *pgxpool.Pool and pgx.Tx satisfy it, so scoped operations compose inside
// transactions.
type Querier interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Scope is the sole gateway to tenant-scoped tables. Reads get the caller's
// tenant appended as a predicate, writes get it stamped, and the two bypass
// identities (system, super-admin) are audited on every use. Operations fail
// with tenancy.ErrContextNotSet when no identity is established; there is no
// unfiltered fallback.
type Scope struct {
	q      Querier
	logger *zap.Logger
}

func NewScope(q Querier, logger *zap.Logger) *Scope {
	return &Scope{q: q, logger: logger}
}

// filterFor resolves how one operation interacts with the table: global
// tables and bypass identities skip filtering (the latter with an audit
// entry), everything else filters by the context tenant.
func (s *Scope) filterFor(ctx context.Context, table Table, op string) (bool, uuid.UUID, error) {
	tc, err := tenancy.FromContext(ctx)
	if err != nil {
		return false, uuid.Nil, err
	}
	if !table.TenantScoped() {
		s.logger.Warn("operation on global table",
			zap.String("table", table.Name), zap.String("op", op))
		return false, uuid.Nil, nil
	}
	if tc.Bypass() {
		s.auditBypass(tc, table, op)
		return false, uuid.Nil, nil
	}
	tid, err := tc.TenantUUID()
	if err != nil {
		return false, uuid.Nil, err
	}
	return true, tid, nil
}

func (s *Scope) auditBypass(tc *tenancy.TenantContext, table Table, op string) {
	s.logger.Info("tenant filter bypassed",
		zap.String("table", table.Name),
		zap.String("op", op),
		zap.String("tenant_id", tc.TenantID),
		zap.String("user_id", tc.UserID),
		zap.Bool("super_admin", tc.IsSuperAdmin),
		zap.String("source", string(tc.Source)),
	)
	metrics.TenantBypasses.WithLabelValues(table.Name, op).Inc()
}

// violation logs a security event and returns the isolation error. The
// error message never says whether the resource exists.
func (s *Scope) violation(tc *tenancy.TenantContext, table Table, resourceID, op string) error {
	s.logger.Error("tenant isolation violation",
		zap.String("table", table.Name),
		zap.String("op", op),
		zap.String("resource_id", resourceID),
		zap.String("tenant_id", tc.TenantID),
		zap.String("user_id", tc.UserID),
	)
	metrics.IsolationViolations.WithLabelValues(table.Name, op).Inc()
	return &domain.IsolationError{Table: table.Name, ResourceID: resourceID, TenantID: tc.TenantID}
}

// appendPredicate AND-combines the tenant predicate with the caller's where
// fragment. Caller placeholders start at $1; the tenant lands on the next
// free index.
func appendPredicate(col, where string, args []any, tid uuid.UUID) (string, []any) {
	args = append(args, tid)
	pred := fmt.Sprintf("%s = $%d", col, len(args))
	if where == "" {
		return pred, args
	}
	return "(" + where + ") AND " + pred, args
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SelectWhere runs a filtered SELECT. The where fragment uses $1-based
// placeholders for args; orderBy may be empty.
func (s *Scope) SelectWhere(ctx context.Context, table Table, columns []string, where, orderBy string, args ...any) (pgx.Rows, error) {
	filter, tid, err := s.filterFor(ctx, table, "select")
	if err != nil {
		return nil, err
	}
	if filter {
		where, args = appendPredicate(table.TenantColumn, where, args, tid)
	}
	sql := fmt.Sprintf("SELECT %s FROM %s", strings.Join(columns, ", "), table.Name)
	if where != "" {
		sql += " WHERE " + where
	}
	if orderBy != "" {
		sql += " ORDER BY " + orderBy
	}
	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(err)
	}
	return rows, nil
}

// SelectRow is SelectWhere for single-row lookups. Scan on the returned row
// yields pgx.ErrNoRows both for rows that do not exist and rows owned by
// another tenant.
func (s *Scope) SelectRow(ctx context.Context, table Table, columns []string, where string, args ...any) (pgx.Row, error) {
	filter, tid, err := s.filterFor(ctx, table, "select")
	if err != nil {
		return nil, err
	}
	if filter {
		where, args = appendPredicate(table.TenantColumn, where, args, tid)
	}
	sql := fmt.Sprintf("SELECT %s FROM %s", strings.Join(columns, ", "), table.Name)
	if where != "" {
		sql += " WHERE " + where
	}
	return s.q.QueryRow(ctx, sql, args...), nil
}

// stampValues prepares insert values: the context tenant is stamped onto
// tenant-scoped rows, a super-admin may name a target tenant explicitly, and
// a mismatched explicit tenant under a normal identity is a violation.
// System inserts carry no implicit tenant and must set one themselves.
func (s *Scope) stampValues(ctx context.Context, table Table, values map[string]any, op string) (map[string]any, error) {
	tc, err := tenancy.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]any, len(values)+1)
	for k, v := range values {
		out[k] = v
	}

	if !table.TenantScoped() {
		s.logger.Warn("operation on global table",
			zap.String("table", table.Name), zap.String("op", op))
		return out, nil
	}
	if tc.IsSystem() {
		s.auditBypass(tc, table, op)
		return out, nil
	}

	tid, err := tc.TenantUUID()
	if err != nil {
		return nil, err
	}
	if tc.IsSuperAdmin {
		s.auditBypass(tc, table, op)
		if _, ok := out[table.TenantColumn]; !ok {
			out[table.TenantColumn] = tid
		}
		return out, nil
	}

	if v, ok := out[table.TenantColumn]; ok && fmt.Sprint(v) != tid.String() {
		return nil, s.violation(tc, table, fmt.Sprint(out[table.PK]), op)
	}
	out[table.TenantColumn] = tid
	return out, nil
}

func buildInsert(table Table, values map[string]any, returning []string) (string, []any) {
	cols := sortedKeys(values)
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = values[c]
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table.Name, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	if len(returning) > 0 {
		sql += " RETURNING " + strings.Join(returning, ", ")
	}
	return sql, args
}

// Insert writes one row with the tenant stamped per stampValues.
func (s *Scope) Insert(ctx context.Context, table Table, values map[string]any) error {
	stamped, err := s.stampValues(ctx, table, values, "insert")
	if err != nil {
		return err
	}
	sql, args := buildInsert(table, stamped, nil)
	if _, err := s.q.Exec(ctx, sql, args...); err != nil {
		return mapError(err)
	}
	return nil
}

// InsertReturning is Insert with a RETURNING clause; the caller scans the
// returned row.
func (s *Scope) InsertReturning(ctx context.Context, table Table, values map[string]any, returning ...string) (pgx.Row, error) {
	stamped, err := s.stampValues(ctx, table, values, "insert")
	if err != nil {
		return nil, err
	}
	sql, args := buildInsert(table, stamped, returning)
	return s.q.QueryRow(ctx, sql, args...), nil
}

// BatchInsert writes rows in one round trip via pgx batching. Stamping
// follows the same rules as Insert; under a normal identity an explicit
// tenant column must match the context tenant on every row.
func (s *Scope) BatchInsert(ctx context.Context, table Table, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	tc, err := tenancy.FromContext(ctx)
	if err != nil {
		return err
	}

	stamp := false
	var tid uuid.UUID
	if table.TenantScoped() {
		if tc.Bypass() {
			s.auditBypass(tc, table, "batch_insert")
		} else {
			tid, err = tc.TenantUUID()
			if err != nil {
				return err
			}
			tenantIdx := -1
			for i, c := range columns {
				if c == table.TenantColumn {
					tenantIdx = i
					break
				}
			}
			if tenantIdx >= 0 {
				for _, r := range rows {
					if fmt.Sprint(r[tenantIdx]) != tid.String() {
						return s.violation(tc, table, "", "batch_insert")
					}
				}
			} else {
				stamp = true
				columns = append(append([]string{}, columns...), table.TenantColumn)
			}
		}
	}

	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table.Name, strings.Join(columns, ", "), strings.Join(placeholders, ", "))

	b := &pgx.Batch{}
	for _, r := range rows {
		if stamp {
			r = append(append([]any{}, r...), tid)
		}
		b.Queue(sql, r...)
	}
	br := s.q.SendBatch(ctx, b)
	defer br.Close()
	for range rows {
		if _, err := br.Exec(); err != nil {
			return mapError(err)
		}
	}
	return nil
}

// UpdateWhere runs a filtered UPDATE and reports rows affected. Under a
// normal identity the set map must not touch the tenant column; rows cannot
// change hands.
func (s *Scope) UpdateWhere(ctx context.Context, table Table, set map[string]any, where string, args ...any) (int64, error) {
	filter, tid, err := s.filterFor(ctx, table, "update")
	if err != nil {
		return 0, err
	}
	if filter {
		if _, ok := set[table.TenantColumn]; ok {
			tc := tenancy.FromContextOrNil(ctx)
			return 0, s.violation(tc, table, "", "update")
		}
	}

	// SET placeholders continue after the caller's where args.
	assign := make([]string, 0, len(set))
	for _, c := range sortedKeys(set) {
		args = append(args, set[c])
		assign = append(assign, fmt.Sprintf("%s = $%d", c, len(args)))
	}
	if filter {
		where, args = appendPredicate(table.TenantColumn, where, args, tid)
	}

	sql := fmt.Sprintf("UPDATE %s SET %s", table.Name, strings.Join(assign, ", "))
	if where != "" {
		sql += " WHERE " + where
	}
	tag, err := s.q.Exec(ctx, sql, args...)
	if err != nil {
		return 0, mapError(err)
	}
	return tag.RowsAffected(), nil
}

// DeleteWhere runs a filtered DELETE and reports rows affected.
func (s *Scope) DeleteWhere(ctx context.Context, table Table, where string, args ...any) (int64, error) {
	filter, tid, err := s.filterFor(ctx, table, "delete")
	if err != nil {
		return 0, err
	}
	if filter {
		where, args = appendPredicate(table.TenantColumn, where, args, tid)
	}
	sql := "DELETE FROM " + table.Name
	if where != "" {
		sql += " WHERE " + where
	}
	tag, err := s.q.Exec(ctx, sql, args...)
	if err != nil {
		return 0, mapError(err)
	}
	return tag.RowsAffected(), nil
}

// Count runs a filtered COUNT(*).
func (s *Scope) Count(ctx context.Context, table Table, where string, args ...any) (int64, error) {
	filter, tid, err := s.filterFor(ctx, table, "count")
	if err != nil {
		return 0, err
	}
	if filter {
		where, args = appendPredicate(table.TenantColumn, where, args, tid)
	}
	sql := "SELECT COUNT(*) FROM " + table.Name
	if where != "" {
		sql += " WHERE " + where
	}
	var n int64
	if err := s.q.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, mapError(err)
	}
	return n, nil
}

// Exists runs a filtered existence check.
func (s *Scope) Exists(ctx context.Context, table Table, where string, args ...any) (bool, error) {
	filter, tid, err := s.filterFor(ctx, table, "exists")
	if err != nil {
		return false, err
	}
	if filter {
		where, args = appendPredicate(table.TenantColumn, where, args, tid)
	}
	inner := "SELECT 1 FROM " + table.Name
	if where != "" {
		inner += " WHERE " + where
	}
	var ok bool
	if err := s.q.QueryRow(ctx, "SELECT EXISTS ("+inner+")", args...).Scan(&ok); err != nil {
		return false, mapError(err)
	}
	return ok, nil
}

// SoftDelete marks a live row deleted. ErrNotFound covers rows that do not
// exist, already-deleted rows, and rows owned by another tenant alike.
func (s *Scope) SoftDelete(ctx context.Context, table Table, id uuid.UUID) error {
	if table.SoftDeleteColumn == "" {
		return fmt.Errorf("table %s has no soft-delete column", table.Name)
	}
	where := fmt.Sprintf("%s = $1 AND %s IS NULL", table.PK, table.SoftDeleteColumn)
	n, err := s.UpdateWhere(ctx, table, map[string]any{table.SoftDeleteColumn: time.Now().UTC()}, where, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Restore clears the soft-delete mark on a deleted row.
func (s *Scope) Restore(ctx context.Context, table Table, id uuid.UUID) error {
	if table.SoftDeleteColumn == "" {
		return fmt.Errorf("table %s has no soft-delete column", table.Name)
	}
	where := fmt.Sprintf("%s = $1 AND %s IS NOT NULL", table.PK, table.SoftDeleteColumn)
	n, err := s.UpdateWhere(ctx, table, map[string]any{table.SoftDeleteColumn: nil}, where, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ValidateTenantOwnership confirms the resource belongs to the context
// tenant before an operation proceeds. The returned isolation error is the
// same whether the row is missing or owned by someone else.
func (s *Scope) ValidateTenantOwnership(ctx context.Context, table Table, resourceID uuid.UUID) error {
	tc, err := tenancy.FromContext(ctx)
	if err != nil {
		return err
	}
	if !table.TenantScoped() {
		return nil
	}
	if tc.Bypass() {
		s.auditBypass(tc, table, "validate_ownership")
		return nil
	}
	tid, err := tc.TenantUUID()
	if err != nil {
		return err
	}

	var ok bool
	sql := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE %s = $1 AND %s = $2)",
		table.Name, table.PK, table.TenantColumn)
	if err := s.q.QueryRow(ctx, sql, resourceID, tid).Scan(&ok); err != nil {
		return mapError(err)
	}
	if !ok {
		return s.violation(tc, table, resourceID.String(), "validate_ownership")
	}
	return nil
}

// VerifyRowTenancy is the post-read guard for hand-written joins and raw
// queries: every scanned tenant id must match the context tenant.
func (s *Scope) VerifyRowTenancy(ctx context.Context, table Table, rowTenantIDs ...uuid.UUID) error {
	tc, err := tenancy.FromContext(ctx)
	if err != nil {
		return err
	}
	if !table.TenantScoped() || tc.Bypass() {
		return nil
	}
	tid, err := tc.TenantUUID()
	if err != nil {
		return err
	}
	for _, got := range rowTenantIDs {
		if got != tid {
			return s.violation(tc, table, got.String(), "verify_rows")
		}
	}
	return nil
}

// Transaction runs fn with a Scope bound to one transaction, committing on
// nil and rolling back otherwise. It refuses to start without an
// established identity.
func (s *Scope) Transaction(ctx context.Context, fn func(ctx context.Context, tx *Scope) error) error {
	if _, err := tenancy.FromContext(ctx); err != nil {
		return err
	}
	return s.inTx(ctx, nil, fn)
}

// TransactionWithRLS additionally publishes the identity as
// transaction-local session variables, so database row-security policies
// enforce the same boundary the Scope does.
func (s *Scope) TransactionWithRLS(ctx context.Context, fn func(ctx context.Context, tx *Scope) error) error {
	tc, err := tenancy.FromContext(ctx)
	if err != nil {
		return err
	}
	bypass := "off"
	if tc.Bypass() {
		bypass = "on"
	}
	return s.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`SELECT set_config('app.current_tenant_id', $1, true), set_config('app.is_super_admin', $2, true)`,
			tc.TenantID, bypass)
		return err
	}, fn)
}

func (s *Scope) inTx(ctx context.Context, setup func(ctx context.Context, tx pgx.Tx) error, fn func(ctx context.Context, tx *Scope) error) error {
	tx, err := s.q.Begin(ctx)
	if err != nil {
		return mapError(err)
	}
	defer tx.Rollback(ctx)

	if setup != nil {
		if err := setup(ctx, tx); err != nil {
			return mapError(err)
		}
	}
	if err := fn(ctx, &Scope{q: tx, logger: s.logger}); err != nil {
		return err
	}
	return mapError(tx.Commit(ctx))
}
