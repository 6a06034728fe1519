package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stratumkit/stratum/internal/domain"
)

// TenantStore manages the global tenants table with plain pool queries; the
// rows here are the tenants themselves, so there is nothing to filter by.
type TenantStore struct {
	db *pgxpool.Pool
}

func NewTenantStore(db *pgxpool.Pool) *TenantStore {
	return &TenantStore{db: db}
}

const tenantColumns = `id, name, slug, status, api_key_hash, max_projects, max_members, created_at, updated_at`

func (s *TenantStore) Create(ctx context.Context, t *domain.Tenant) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO tenants (name, slug, status, api_key_hash, max_projects, max_members)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`,
		t.Name, t.Slug, t.Status, t.APIKeyHash, t.MaxProjects, t.MaxMembers,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	return mapError(err)
}

func (s *TenantStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Tenant, error) {
	return s.getWhere(ctx, "id = $1", id)
}

func (s *TenantStore) GetBySlug(ctx context.Context, slug string) (*domain.Tenant, error) {
	return s.getWhere(ctx, "slug = $1", slug)
}

func (s *TenantStore) GetByAPIKeyHash(ctx context.Context, apiKeyHash string) (*domain.Tenant, error) {
	return s.getWhere(ctx, "api_key_hash = $1", apiKeyHash)
}

func (s *TenantStore) getWhere(ctx context.Context, where string, arg any) (*domain.Tenant, error) {
	t := &domain.Tenant{}
	err := s.db.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE `+where,
		arg,
	).Scan(&t.ID, &t.Name, &t.Slug, &t.Status, &t.APIKeyHash, &t.MaxProjects, &t.MaxMembers, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, mapError(err)
	}
	return t, nil
}

func (s *TenantStore) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.TenantStatus) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE tenants SET status = $2, updated_at = now() WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
