package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/stratumkit/stratum/internal/domain"
	"github.com/stratumkit/stratum/internal/metrics"
	"github.com/stratumkit/stratum/internal/store"
)

const defaultMembershipTTL = 30 * time.Second

var ErrMembershipNotFound = errors.New("membership not found")

// AuthzService resolves memberships and answers permission questions for
// them. Lookups are cached briefly; role changes call Invalidate so a
// demotion takes effect on the next request.
type AuthzService struct {
	memberships domain.MembershipStore
	logger      *zap.Logger

	cache *gocache.Cache
	sf    singleflight.Group
}

func NewAuthzService(ms domain.MembershipStore, logger *zap.Logger) *AuthzService {
	return &AuthzService{
		memberships: ms,
		logger:      logger,
		cache:       gocache.New(defaultMembershipTTL, 2*defaultMembershipTTL),
	}
}

func membershipKey(userID, orgID uuid.UUID) string {
	return userID.String() + ":" + orgID.String()
}

// Resolve returns the caller's membership in the organization. Concurrent
// misses for the same pair collapse into one storage lookup.
func (s *AuthzService) Resolve(ctx context.Context, userID, orgID uuid.UUID) (*domain.Membership, error) {
	key := membershipKey(userID, orgID)
	if v, ok := s.cache.Get(key); ok {
		metrics.AuthzCacheHits.Inc()
		return v.(*domain.Membership), nil
	}
	metrics.AuthzCacheMisses.Inc()

	v, err, _ := s.sf.Do(key, func() (interface{}, error) {
		m, err := s.memberships.GetByUserAndOrganization(ctx, userID, orgID)
		if err != nil {
			return nil, err
		}
		s.cache.Set(key, m, gocache.DefaultExpiration)
		return m, nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrMembershipNotFound
		}
		return nil, err
	}
	return v.(*domain.Membership), nil
}

// Invalidate drops the cached membership after a role or status change.
func (s *AuthzService) Invalidate(userID, orgID uuid.UUID) {
	s.cache.Delete(membershipKey(userID, orgID))
}

// HasPermission reports whether the user holds the permission in the
// organization. Missing memberships answer false rather than erroring.
func (s *AuthzService) HasPermission(ctx context.Context, userID, orgID uuid.UUID, perm domain.Permission) (bool, error) {
	m, err := s.Resolve(ctx, userID, orgID)
	if err != nil {
		if errors.Is(err, ErrMembershipNotFound) {
			return false, nil
		}
		return false, err
	}
	return m.HasPermission(perm), nil
}

// RequirePermission is HasPermission with a denial turned into a
// ForbiddenError for the caller to surface.
func (s *AuthzService) RequirePermission(ctx context.Context, userID, orgID uuid.UUID, perm domain.Permission) error {
	ok, err := s.HasPermission(ctx, userID, orgID, perm)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.Warn("permission denied",
			zap.String("user_id", userID.String()),
			zap.String("organization_id", orgID.String()),
			zap.String("permission", string(perm)))
		return &domain.ForbiddenError{UserID: userID, OrganizationID: orgID, Permission: perm}
	}
	return nil
}

// HasMinimumRole reports whether the user's active membership ranks at or
// above min in the viewer<member<manager<admin<owner ordering.
func (s *AuthzService) HasMinimumRole(ctx context.Context, userID, orgID uuid.UUID, min domain.Role) (bool, error) {
	m, err := s.Resolve(ctx, userID, orgID)
	if err != nil {
		if errors.Is(err, ErrMembershipNotFound) {
			return false, nil
		}
		return false, err
	}
	if !m.IsActive() {
		return false, nil
	}
	return m.Role.AtLeast(min), nil
}

func (s *AuthzService) RequireMinimumRole(ctx context.Context, userID, orgID uuid.UUID, min domain.Role) error {
	ok, err := s.HasMinimumRole(ctx, userID, orgID, min)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.Warn("role check failed",
			zap.String("user_id", userID.String()),
			zap.String("organization_id", orgID.String()),
			zap.String("minimum_role", string(min)))
		return &domain.ForbiddenError{UserID: userID, OrganizationID: orgID, MinimumRole: min}
	}
	return nil
}

// IsActiveMember reports whether the user has an active membership in the
// organization, regardless of role.
func (s *AuthzService) IsActiveMember(ctx context.Context, userID, orgID uuid.UUID) (bool, error) {
	m, err := s.Resolve(ctx, userID, orgID)
	if err != nil {
		if errors.Is(err, ErrMembershipNotFound) {
			return false, nil
		}
		return false, err
	}
	return m.IsActive(), nil
}
