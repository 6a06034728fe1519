package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stratumkit/stratum/internal/domain"
	"github.com/stratumkit/stratum/internal/store"
	"github.com/stratumkit/stratum/internal/tenancy"
)

var ErrRateLimitNotFound = errors.New("rate limit record not found")

// RateLimitService maps named limit types onto persistent counters. Rules
// come from the limits policy file; a type with no rule is not limited.
type RateLimitService struct {
	store  domain.RateLimitStore
	logger *zap.Logger
	rules  map[string]domain.RateLimitRule
}

func NewRateLimitService(rs domain.RateLimitStore, rules []domain.RateLimitRule, logger *zap.Logger) *RateLimitService {
	byType := make(map[string]domain.RateLimitRule, len(rules))
	for _, r := range rules {
		byType[r.Type] = r
	}
	return &RateLimitService{store: rs, logger: logger, rules: byType}
}

// IdentifierFor derives the counter key for a rule scope. Per-user keys are
// qualified with the organization when one is known, so an organization-wide
// reset can match them by prefix.
func IdentifierFor(tc *tenancy.TenantContext, scope domain.LimitScope, clientIP string) string {
	switch scope {
	case domain.LimitPerTenant:
		if tc == nil || tc.TenantID == "" {
			return "ip:" + clientIP
		}
		return "tenant:" + tc.TenantID
	case domain.LimitPerIP:
		return "ip:" + clientIP
	default:
		if tc == nil || tc.UserID == "" {
			return "ip:" + clientIP
		}
		if tc.OrganizationID != "" {
			return "org:" + tc.OrganizationID + ":user:" + tc.UserID
		}
		return "user:" + tc.UserID
	}
}

// Check consumes one request against the rule for limitType. A denied check
// is a normal result; callers read Allowed and the header fields off it.
func (s *RateLimitService) Check(ctx context.Context, limitType, clientIP string) (*domain.RateLimitResult, error) {
	rule, ok := s.rules[limitType]
	if !ok {
		return &domain.RateLimitResult{Allowed: true}, nil
	}
	tc := tenancy.FromContextOrNil(ctx)
	identifier := IdentifierFor(tc, rule.Per, clientIP)
	return s.store.CheckAndIncrement(ctx, limitType, identifier, rule.MaxRequests, rule.WindowType, rule.WindowSize)
}

// Rules returns the configured rules keyed by type, for the admin surface.
func (s *RateLimitService) Rules() map[string]domain.RateLimitRule {
	out := make(map[string]domain.RateLimitRule, len(s.rules))
	for k, v := range s.rules {
		out[k] = v
	}
	return out
}

// Status reads the current counter without consuming a request.
func (s *RateLimitService) Status(ctx context.Context, limitType, identifier string) (*domain.RateLimitRecord, error) {
	rec, err := s.store.Get(ctx, limitType, identifier)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRateLimitNotFound
		}
		return nil, err
	}
	return rec, nil
}

// Reset forces a fresh window on one record, for manual unblocking.
func (s *RateLimitService) Reset(ctx context.Context, id uuid.UUID) error {
	err := s.store.Reset(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrRateLimitNotFound
	}
	return err
}

// ResetIdentifier clears every counter for one identifier across all limit
// types.
func (s *RateLimitService) ResetIdentifier(ctx context.Context, identifier string) (int64, error) {
	n, err := s.store.ResetAllForIdentifier(ctx, identifier)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("rate limits reset",
			zap.String("identifier", identifier),
			zap.Int64("records", n))
	}
	return n, nil
}

// ResetOrganization clears every per-user counter under the organization.
func (s *RateLimitService) ResetOrganization(ctx context.Context, orgID uuid.UUID) (int64, error) {
	n, err := s.store.ResetAllForOrganization(ctx, orgID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("organization rate limits reset",
			zap.String("organization_id", orgID.String()),
			zap.Int64("records", n))
	}
	return n, nil
}
