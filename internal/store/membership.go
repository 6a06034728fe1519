package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/stratumkit/stratum/internal/domain"
)

var membershipColumns = []string{
	"id", "tenant_id", "organization_id", "user_id", "role", "status",
	"can_manage_projects", "can_manage_members", "can_view_billing",
	"created_at", "updated_at",
}

type MembershipStore struct {
	scope *Scope
}

func NewMembershipStore(scope *Scope) *MembershipStore {
	return &MembershipStore{scope: scope}
}

func (s *MembershipStore) Create(ctx context.Context, m *domain.Membership) error {
	if m.Status == "" {
		m.Status = domain.MembershipActive
	}
	row, err := s.scope.InsertReturning(ctx, TableMemberships, map[string]any{
		"organization_id":     m.OrganizationID,
		"user_id":             m.UserID,
		"role":                m.Role,
		"status":              m.Status,
		"can_manage_projects": m.CanManageProjects,
		"can_manage_members":  m.CanManageMembers,
		"can_view_billing":    m.CanViewBilling,
	}, "id", "tenant_id", "created_at", "updated_at")
	if err != nil {
		return err
	}
	return mapError(row.Scan(&m.ID, &m.TenantID, &m.CreatedAt, &m.UpdatedAt))
}

func (s *MembershipStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Membership, error) {
	row, err := s.scope.SelectRow(ctx, TableMemberships, membershipColumns, "id = $1", id)
	if err != nil {
		return nil, err
	}
	m := &domain.Membership{}
	err = scanMembership(row, m)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}
	return m, nil
}

func scanMembership(row pgx.Row, m *domain.Membership) error {
	return row.Scan(&m.ID, &m.TenantID, &m.OrganizationID, &m.UserID, &m.Role,
		&m.Status, &m.CanManageProjects, &m.CanManageMembers, &m.CanViewBilling,
		&m.CreatedAt, &m.UpdatedAt)
}

func (s *MembershipStore) GetByUserAndOrganization(ctx context.Context, userID, orgID uuid.UUID) (*domain.Membership, error) {
	row, err := s.scope.SelectRow(ctx, TableMemberships, membershipColumns,
		"user_id = $1 AND organization_id = $2", userID, orgID)
	if err != nil {
		return nil, err
	}
	m := &domain.Membership{}
	err = scanMembership(row, m)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}
	return m, nil
}

func (s *MembershipStore) ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]domain.Membership, error) {
	rows, err := s.scope.SelectWhere(ctx, TableMemberships, membershipColumns,
		"organization_id = $1", "created_at", orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Membership
	for rows.Next() {
		var m domain.Membership
		if err := scanMembership(rows, &m); err != nil {
			return nil, mapError(err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountActiveByOrganization counts members that hold a seat. Invited and
// suspended memberships do not count against the member quota.
func (s *MembershipStore) CountActiveByOrganization(ctx context.Context, orgID uuid.UUID) (int, error) {
	n, err := s.scope.Count(ctx, TableMemberships,
		"organization_id = $1 AND status = $2", orgID, domain.MembershipActive)
	return int(n), err
}

// CountActiveAll counts the tenant's active members across all
// organizations.
func (s *MembershipStore) CountActiveAll(ctx context.Context) (int, error) {
	n, err := s.scope.Count(ctx, TableMemberships, "status = $1", domain.MembershipActive)
	return int(n), err
}

func (s *MembershipStore) UpdateRole(ctx context.Context, id uuid.UUID, role domain.Role, grants domain.PermissionGrants) error {
	n, err := s.scope.UpdateWhere(ctx, TableMemberships, map[string]any{
		"role":                role,
		"can_manage_projects": grants.ManageProjects,
		"can_manage_members":  grants.ManageMembers,
		"can_view_billing":    grants.ViewBilling,
		"updated_at":          time.Now().UTC(),
	}, "id = $1", id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MembershipStore) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.MembershipStatus) error {
	n, err := s.scope.UpdateWhere(ctx, TableMemberships, map[string]any{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}, "id = $1", id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MembershipStore) Delete(ctx context.Context, id uuid.UUID) error {
	n, err := s.scope.DeleteWhere(ctx, TableMemberships, "id = $1", id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
