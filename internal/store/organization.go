package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/stratumkit/stratum/internal/domain"
)

var organizationColumns = []string{"id", "tenant_id", "name", "slug", "created_at", "updated_at"}

type OrganizationStore struct {
	scope *Scope
}

func NewOrganizationStore(scope *Scope) *OrganizationStore {
	return &OrganizationStore{scope: scope}
}

func (s *OrganizationStore) Create(ctx context.Context, o *domain.Organization) error {
	row, err := s.scope.InsertReturning(ctx, TableOrganizations, map[string]any{
		"name": o.Name,
		"slug": o.Slug,
	}, "id", "tenant_id", "created_at", "updated_at")
	if err != nil {
		return err
	}
	return mapError(row.Scan(&o.ID, &o.TenantID, &o.CreatedAt, &o.UpdatedAt))
}

// CreateWithOwner creates the organization and seats ownerUserID as its
// owner in one transaction, so an organization can never exist without an
// owner. A nil ownerUserID creates the organization alone.
func (s *OrganizationStore) CreateWithOwner(ctx context.Context, o *domain.Organization, ownerUserID uuid.UUID) error {
	if ownerUserID == uuid.Nil {
		return s.Create(ctx, o)
	}
	return s.scope.Transaction(ctx, func(ctx context.Context, sc *Scope) error {
		if err := NewOrganizationStore(sc).Create(ctx, o); err != nil {
			return err
		}
		owner := &domain.Membership{
			OrganizationID: o.ID,
			UserID:         ownerUserID,
			Role:           domain.RoleOwner,
			Status:         domain.MembershipActive,
		}
		return NewMembershipStore(sc).Create(ctx, owner)
	})
}

func (s *OrganizationStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Organization, error) {
	row, err := s.scope.SelectRow(ctx, TableOrganizations, organizationColumns, "id = $1", id)
	if err != nil {
		return nil, err
	}
	o := &domain.Organization{}
	err = row.Scan(&o.ID, &o.TenantID, &o.Name, &o.Slug, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}
	return o, nil
}

func (s *OrganizationStore) List(ctx context.Context) ([]domain.Organization, error) {
	rows, err := s.scope.SelectWhere(ctx, TableOrganizations, organizationColumns, "", "created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Organization
	for rows.Next() {
		var o domain.Organization
		if err := rows.Scan(&o.ID, &o.TenantID, &o.Name, &o.Slug, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, mapError(err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *OrganizationStore) Update(ctx context.Context, o *domain.Organization) error {
	n, err := s.scope.UpdateWhere(ctx, TableOrganizations, map[string]any{
		"name":       o.Name,
		"slug":       o.Slug,
		"updated_at": time.Now().UTC(),
	}, "id = $1", o.ID)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *OrganizationStore) Delete(ctx context.Context, id uuid.UUID) error {
	n, err := s.scope.DeleteWhere(ctx, TableOrganizations, "id = $1", id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
