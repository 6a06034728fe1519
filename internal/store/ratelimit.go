package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/stratumkit/stratum/internal/domain"
	"github.com/stratumkit/stratum/internal/metrics"
	"github.com/stratumkit/stratum/internal/tenancy"
)

const rateLimitColumns = `id, tenant_id, type, identifier, window_type, window_size,
	max_requests, current_count, window_start, window_end,
	first_request_at, last_request_at, created_at, updated_at`

// RateLimitStore is the transactional counter behind every rate limit.
// Check-and-increment runs in one transaction with the counter row locked,
// so concurrent checks against the same key serialize and the limit can
// never be oversubscribed.
type RateLimitStore struct {
	q      Querier
	logger *zap.Logger
}

func NewRateLimitStore(q Querier, logger *zap.Logger) *RateLimitStore {
	return &RateLimitStore{q: q, logger: logger}
}

// tenantParam resolves the tenant component of the counter key. Checks can
// run before any identity exists (IP limits on unauthenticated paths) and
// under the system identity; both map to the NULL tenant.
func tenantParam(ctx context.Context) any {
	tc := tenancy.FromContextOrNil(ctx)
	if tc == nil || tc.IsSystem() {
		return nil
	}
	tid, err := tc.TenantUUID()
	if err != nil {
		return nil
	}
	return tid
}

func scanRateLimit(row pgx.Row) (*domain.RateLimitRecord, error) {
	r := &domain.RateLimitRecord{}
	err := row.Scan(&r.ID, &r.TenantID, &r.Type, &r.Identifier, &r.WindowType, &r.WindowSize,
		&r.MaxRequests, &r.CurrentCount, &r.WindowStart, &r.WindowEnd,
		&r.FirstRequestAt, &r.LastRequestAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// CheckAndIncrement atomically answers "may this request proceed" and
// counts it if so. Exactly one of three things happens in the transaction:
// a fresh record is created with count 1, an expired record is reset in
// place, or a live record is incremented when under its limit. A denied
// check writes nothing and is a normal result, not an error.
func (s *RateLimitStore) CheckAndIncrement(ctx context.Context, limitType, identifier string, maxRequests int, windowType domain.WindowType, windowSize int) (*domain.RateLimitResult, error) {
	if maxRequests < 1 {
		return nil, fmt.Errorf("max requests must be positive, got %d", maxRequests)
	}
	if !windowType.Valid() {
		return nil, fmt.Errorf("unknown window type %q", windowType)
	}
	if windowSize < 1 {
		windowSize = 1
	}

	tenant := tenantParam(ctx)
	now := time.Now().UTC()

	var result *domain.RateLimitResult
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		rec, err := s.lockRecord(ctx, tx, limitType, identifier, tenant)
		if err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				return mapError(err)
			}
			rec = nil
		}

		if rec == nil {
			// First request for this key. A concurrent first request may
			// win the insert; losing it is benign and we fall through to
			// the winner's row, now committed and lockable.
			rec, err = s.insertFresh(ctx, tx, limitType, identifier, tenant, maxRequests, windowType, windowSize, now)
			if err != nil {
				return mapError(err)
			}
			if rec != nil {
				result = allowedResult(maxRequests, 1, rec.WindowEnd)
				return nil
			}
			rec, err = s.lockRecord(ctx, tx, limitType, identifier, tenant)
			if err != nil {
				return mapError(err)
			}
		}

		switch {
		case rec.Expired(now):
			start, end := domain.WindowBounds(now, windowType, windowSize)
			_, err := tx.Exec(ctx,
				`UPDATE rate_limits
				 SET current_count = 1, max_requests = $2, window_type = $3, window_size = $4,
				     window_start = $5, window_end = $6, first_request_at = $7, last_request_at = $7, updated_at = $7
				 WHERE id = $1`,
				rec.ID, maxRequests, windowType, windowSize, start, end, now)
			if err != nil {
				return mapError(err)
			}
			result = allowedResult(maxRequests, 1, end)

		case rec.CurrentCount < maxRequests:
			_, err := tx.Exec(ctx,
				`UPDATE rate_limits
				 SET current_count = current_count + 1, max_requests = $2, last_request_at = $3, updated_at = $3
				 WHERE id = $1`,
				rec.ID, maxRequests, now)
			if err != nil {
				return mapError(err)
			}
			result = allowedResult(maxRequests, rec.CurrentCount+1, rec.WindowEnd)

		default:
			result = &domain.RateLimitResult{
				Allowed:    false,
				Limit:      maxRequests,
				Remaining:  0,
				ResetTime:  rec.WindowEnd,
				RetryAfter: domain.RetryAfterSeconds(now, rec.WindowEnd),
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	outcome := "allowed"
	if !result.Allowed {
		outcome = "denied"
		s.logger.Debug("rate limit exhausted",
			zap.String("type", limitType),
			zap.String("identifier", identifier),
			zap.Int("limit", maxRequests),
			zap.Time("reset", result.ResetTime),
		)
	}
	metrics.RateLimitDecisions.WithLabelValues(limitType, outcome).Inc()
	return result, nil
}

func (s *RateLimitStore) lockRecord(ctx context.Context, tx pgx.Tx, limitType, identifier string, tenant any) (*domain.RateLimitRecord, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+rateLimitColumns+`
		 FROM rate_limits
		 WHERE type = $1 AND identifier = $2 AND tenant_id IS NOT DISTINCT FROM $3
		 FOR UPDATE`,
		limitType, identifier, tenant)
	return scanRateLimit(row)
}

// insertFresh creates the first record for a key with this request counted.
// On a concurrent duplicate it returns nil record and nil error.
func (s *RateLimitStore) insertFresh(ctx context.Context, tx pgx.Tx, limitType, identifier string, tenant any, maxRequests int, windowType domain.WindowType, windowSize int, now time.Time) (*domain.RateLimitRecord, error) {
	start, end := domain.WindowBounds(now, windowType, windowSize)
	row := tx.QueryRow(ctx,
		`INSERT INTO rate_limits
		   (tenant_id, type, identifier, window_type, window_size, max_requests,
		    current_count, window_start, window_end, first_request_at, last_request_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $8, $9, $9)
		 ON CONFLICT DO NOTHING
		 RETURNING `+rateLimitColumns,
		tenant, limitType, identifier, windowType, windowSize, maxRequests, start, end, now)
	rec, err := scanRateLimit(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func allowedResult(limit, count int, reset time.Time) *domain.RateLimitResult {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return &domain.RateLimitResult{
		Allowed:   true,
		Limit:     limit,
		Remaining: remaining,
		ResetTime: reset,
	}
}

// Get fetches the record for a key without touching it.
func (s *RateLimitStore) Get(ctx context.Context, limitType, identifier string) (*domain.RateLimitRecord, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+rateLimitColumns+`
		 FROM rate_limits
		 WHERE type = $1 AND identifier = $2 AND tenant_id IS NOT DISTINCT FROM $3`,
		limitType, identifier, tenantParam(ctx))
	rec, err := scanRateLimit(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}
	return rec, nil
}

// Reset forces a fresh window on one record regardless of expiry: count
// back to zero, bounds recomputed from now. Used for manual unblocking.
func (s *RateLimitStore) Reset(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	return s.inTx(ctx, func(tx pgx.Tx) error {
		var windowType domain.WindowType
		var windowSize int
		err := tx.QueryRow(ctx,
			`SELECT window_type, window_size FROM rate_limits WHERE id = $1 FOR UPDATE`,
			id).Scan(&windowType, &windowSize)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return mapError(err)
		}

		start, end := domain.WindowBounds(now, windowType, windowSize)
		_, err = tx.Exec(ctx,
			`UPDATE rate_limits
			 SET current_count = 0, window_start = $2, window_end = $3, updated_at = $4
			 WHERE id = $1`,
			id, start, end, now)
		return mapError(err)
	})
}

// CleanupExpired ages out records whose window closed before the retention
// cutoff: already-zeroed records are deleted, records still carrying a
// count are zeroed now and deleted by a later sweep, so their final tallies
// stay visible for a while.
func (s *RateLimitStore) CleanupExpired(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)

	var deleted int64
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM rate_limits WHERE current_count = 0 AND window_end < $1`, cutoff)
		if err != nil {
			return mapError(err)
		}
		deleted = tag.RowsAffected()

		_, err = tx.Exec(ctx,
			`UPDATE rate_limits SET current_count = 0, updated_at = $2 WHERE current_count > 0 AND window_end < $1`,
			cutoff, time.Now().UTC())
		return mapError(err)
	})
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		metrics.RateLimitRecordsDeleted.Add(float64(deleted))
	}
	return deleted, nil
}

// ResetAllForIdentifier removes every record carrying the identifier, for
// any tenant and limit type. The next check starts a fresh window.
func (s *RateLimitStore) ResetAllForIdentifier(ctx context.Context, identifier string) (int64, error) {
	tag, err := s.q.Exec(ctx, `DELETE FROM rate_limits WHERE identifier = $1`, identifier)
	if err != nil {
		return 0, mapError(err)
	}
	return tag.RowsAffected(), nil
}

// ResetAllForOrganization removes every record whose identifier is scoped
// to the organization (identifiers carry an org:<id> prefix).
func (s *RateLimitStore) ResetAllForOrganization(ctx context.Context, orgID uuid.UUID) (int64, error) {
	tag, err := s.q.Exec(ctx, `DELETE FROM rate_limits WHERE identifier LIKE $1`, "org:"+orgID.String()+"%")
	if err != nil {
		return 0, mapError(err)
	}
	return tag.RowsAffected(), nil
}

func (s *RateLimitStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.q.Begin(ctx)
	if err != nil {
		return mapError(err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return mapError(tx.Commit(ctx))
}
