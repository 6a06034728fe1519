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

var ErrMemberConflict = errors.New("user is already a member of this organization")

type MembershipService struct {
	memberships domain.MembershipStore
	tenants     domain.TenantStore
	authz       *AuthzService
	logger      *zap.Logger
}

func NewMembershipService(ms domain.MembershipStore, ts domain.TenantStore, authz *AuthzService, logger *zap.Logger) *MembershipService {
	return &MembershipService{memberships: ms, tenants: ts, authz: authz, logger: logger}
}

// requireRoleAuthority checks the actor may touch a membership involving the
// given roles. Owner seats need an owner, admin seats an admin; everything
// below that needs the members:manage permission.
func (s *MembershipService) requireRoleAuthority(ctx context.Context, orgID uuid.UUID, roles ...domain.Role) error {
	actor, ok := actorID(ctx)
	if !ok {
		return nil
	}
	min := domain.Role("")
	for _, r := range roles {
		if r == domain.RoleOwner {
			min = domain.RoleOwner
			break
		}
		if r == domain.RoleAdmin {
			min = domain.RoleAdmin
		}
	}
	if min != "" {
		return s.authz.RequireMinimumRole(ctx, actor, orgID, min)
	}
	return s.authz.RequirePermission(ctx, actor, orgID, domain.PermManageMembers)
}

// checkSeatQuota enforces the tenant's active-member ceiling.
func (s *MembershipService) checkSeatQuota(ctx context.Context, adding int) error {
	tc := tenancy.FromContextOrNil(ctx)
	if tc == nil || tc.Bypass() {
		return nil
	}
	tid, err := tc.TenantUUID()
	if err != nil {
		return err
	}
	t, err := s.tenants.GetByID(ctx, tid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrTenantNotFound
		}
		return err
	}
	count, err := s.memberships.CountActiveAll(ctx)
	if err != nil {
		return err
	}
	if count+adding > t.MaxMembers {
		return &domain.QuotaExceededError{Resource: "members", Current: count, Limit: t.MaxMembers}
	}
	return nil
}

// Add seats a user in an organization. Invited memberships do not consume a
// seat until they become active.
func (s *MembershipService) Add(ctx context.Context, m *domain.Membership) error {
	if err := s.requireRoleAuthority(ctx, m.OrganizationID, m.Role); err != nil {
		return err
	}
	if m.Status == "" || m.Status == domain.MembershipActive {
		if err := s.checkSeatQuota(ctx, 1); err != nil {
			return err
		}
	}
	err := s.memberships.Create(ctx, m)
	if errors.Is(err, store.ErrConflict) {
		return ErrMemberConflict
	}
	return err
}

func (s *MembershipService) GetByID(ctx context.Context, id uuid.UUID) (*domain.Membership, error) {
	m, err := s.memberships.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrMembershipNotFound
		}
		return nil, err
	}
	return m, nil
}

func (s *MembershipService) ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]domain.Membership, error) {
	return s.memberships.ListByOrganization(ctx, orgID)
}

// UpdateRole changes a member's role and granular grants. Authority covers
// both the seat's current role and the one being assigned, so a non-owner
// can neither promote to owner nor demote one.
func (s *MembershipService) UpdateRole(ctx context.Context, id uuid.UUID, role domain.Role, grants domain.PermissionGrants) error {
	target, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.requireRoleAuthority(ctx, target.OrganizationID, target.Role, role); err != nil {
		return err
	}
	if err := s.memberships.UpdateRole(ctx, id, role, grants); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrMembershipNotFound
		}
		return err
	}
	s.authz.Invalidate(target.UserID, target.OrganizationID)
	s.logger.Info("membership role changed",
		zap.String("membership_id", id.String()),
		zap.String("role", string(role)))
	return nil
}

// UpdateStatus moves a membership between invited, active, and suspended.
// Activating a seat consumes quota.
func (s *MembershipService) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.MembershipStatus) error {
	target, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.requireRoleAuthority(ctx, target.OrganizationID, target.Role); err != nil {
		return err
	}
	if status == domain.MembershipActive && target.Status != domain.MembershipActive {
		if err := s.checkSeatQuota(ctx, 1); err != nil {
			return err
		}
	}
	if err := s.memberships.UpdateStatus(ctx, id, status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrMembershipNotFound
		}
		return err
	}
	s.authz.Invalidate(target.UserID, target.OrganizationID)
	return nil
}

func (s *MembershipService) Remove(ctx context.Context, id uuid.UUID) error {
	target, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.requireRoleAuthority(ctx, target.OrganizationID, target.Role); err != nil {
		return err
	}
	if err := s.memberships.Delete(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrMembershipNotFound
		}
		return err
	}
	s.authz.Invalidate(target.UserID, target.OrganizationID)
	s.logger.Info("membership removed",
		zap.String("membership_id", id.String()),
		zap.String("organization_id", target.OrganizationID.String()))
	return nil
}
