package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/stratumkit/stratum/internal/domain"
)

var projectColumns = []string{
	"id", "tenant_id", "organization_id", "name", "status", "created_by",
	"created_at", "updated_at", "deleted_at",
}

type ProjectStore struct {
	scope *Scope
}

func NewProjectStore(scope *Scope) *ProjectStore {
	return &ProjectStore{scope: scope}
}

func (s *ProjectStore) Create(ctx context.Context, p *domain.Project) error {
	if p.Status == "" {
		p.Status = domain.ProjectActive
	}
	row, err := s.scope.InsertReturning(ctx, TableProjects, map[string]any{
		"organization_id": p.OrganizationID,
		"name":            p.Name,
		"status":          p.Status,
		"created_by":      p.CreatedBy,
	}, "id", "tenant_id", "created_at", "updated_at")
	if err != nil {
		return err
	}
	return mapError(row.Scan(&p.ID, &p.TenantID, &p.CreatedAt, &p.UpdatedAt))
}

// BatchCreate inserts all projects or none. The batch runs inside an RLS
// transaction so database policies see the caller's identity as well.
func (s *ProjectStore) BatchCreate(ctx context.Context, ps []*domain.Project) error {
	if len(ps) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(ps))
	for _, p := range ps {
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		if p.Status == "" {
			p.Status = domain.ProjectActive
		}
		rows = append(rows, []any{p.ID, p.OrganizationID, p.Name, p.Status, p.CreatedBy})
	}
	return s.scope.TransactionWithRLS(ctx, func(ctx context.Context, tx *Scope) error {
		return tx.BatchInsert(ctx, TableProjects,
			[]string{"id", "organization_id", "name", "status", "created_by"}, rows)
	})
}

func (s *ProjectStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Project, error) {
	row, err := s.scope.SelectRow(ctx, TableProjects, projectColumns, "id = $1", id)
	if err != nil {
		return nil, err
	}
	p := &domain.Project{}
	err = scanProject(row, p)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}
	return p, nil
}

func scanProject(row pgx.Row, p *domain.Project) error {
	return row.Scan(&p.ID, &p.TenantID, &p.OrganizationID, &p.Name, &p.Status,
		&p.CreatedBy, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt)
}

func (s *ProjectStore) ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]domain.Project, error) {
	rows, err := s.scope.SelectWhere(ctx, TableProjects, projectColumns,
		"organization_id = $1 AND deleted_at IS NULL", "created_at", orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := scanProject(rows, &p); err != nil {
			return nil, mapError(err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountByOrganization counts live projects; soft-deleted ones do not hold
// quota.
func (s *ProjectStore) CountByOrganization(ctx context.Context, orgID uuid.UUID) (int, error) {
	n, err := s.scope.Count(ctx, TableProjects, "organization_id = $1 AND deleted_at IS NULL", orgID)
	return int(n), err
}

// CountAll counts the tenant's live projects across all organizations.
func (s *ProjectStore) CountAll(ctx context.Context) (int, error) {
	n, err := s.scope.Count(ctx, TableProjects, "deleted_at IS NULL")
	return int(n), err
}

func (s *ProjectStore) Update(ctx context.Context, p *domain.Project) error {
	n, err := s.scope.UpdateWhere(ctx, TableProjects, map[string]any{
		"name":       p.Name,
		"status":     p.Status,
		"updated_at": time.Now().UTC(),
	}, "id = $1 AND deleted_at IS NULL", p.ID)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *ProjectStore) SoftDelete(ctx context.Context, id uuid.UUID) error {
	return s.scope.SoftDelete(ctx, TableProjects, id)
}

func (s *ProjectStore) Restore(ctx context.Context, id uuid.UUID) error {
	return s.scope.Restore(ctx, TableProjects, id)
}
