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

var ErrProjectNotFound = errors.New("project not found")

type ProjectService struct {
	projects domain.ProjectStore
	tenants  domain.TenantStore
	authz    *AuthzService
	logger   *zap.Logger
}

func NewProjectService(ps domain.ProjectStore, ts domain.TenantStore, authz *AuthzService, logger *zap.Logger) *ProjectService {
	return &ProjectService{projects: ps, tenants: ts, authz: authz, logger: logger}
}

// checkQuota enforces the tenant's project ceiling before adding rows.
// Bypass identities are quota-exempt; their writes are already audited.
func (s *ProjectService) checkQuota(ctx context.Context, adding int) error {
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
	count, err := s.projects.CountAll(ctx)
	if err != nil {
		return err
	}
	if count+adding > t.MaxProjects {
		return &domain.QuotaExceededError{Resource: "projects", Current: count, Limit: t.MaxProjects}
	}
	return nil
}

func (s *ProjectService) Create(ctx context.Context, p *domain.Project) error {
	if actor, ok := actorID(ctx); ok {
		if p.CreatedBy == uuid.Nil {
			p.CreatedBy = actor
		}
		if err := s.authz.RequirePermission(ctx, actor, p.OrganizationID, domain.PermManageProjects); err != nil {
			return err
		}
	}
	if err := s.checkQuota(ctx, 1); err != nil {
		return err
	}
	return s.projects.Create(ctx, p)
}

// BatchCreate admits the whole batch or none of it; the quota is checked
// against the batch size up front.
func (s *ProjectService) BatchCreate(ctx context.Context, ps []*domain.Project) error {
	if len(ps) == 0 {
		return nil
	}
	if actor, ok := actorID(ctx); ok {
		for _, p := range ps {
			if p.CreatedBy == uuid.Nil {
				p.CreatedBy = actor
			}
		}
		if err := s.authz.RequirePermission(ctx, actor, ps[0].OrganizationID, domain.PermManageProjects); err != nil {
			return err
		}
	}
	if err := s.checkQuota(ctx, len(ps)); err != nil {
		return err
	}
	return s.projects.BatchCreate(ctx, ps)
}

func (s *ProjectService) GetByID(ctx context.Context, id uuid.UUID) (*domain.Project, error) {
	p, err := s.projects.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}
	return p, nil
}

func (s *ProjectService) ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]domain.Project, error) {
	return s.projects.ListByOrganization(ctx, orgID)
}

func (s *ProjectService) Update(ctx context.Context, p *domain.Project) error {
	if actor, ok := actorID(ctx); ok {
		if err := s.authz.RequirePermission(ctx, actor, p.OrganizationID, domain.PermManageProjects); err != nil {
			return err
		}
	}
	err := s.projects.Update(ctx, p)
	if errors.Is(err, store.ErrNotFound) {
		return ErrProjectNotFound
	}
	return err
}

func (s *ProjectService) SoftDelete(ctx context.Context, orgID, id uuid.UUID) error {
	if actor, ok := actorID(ctx); ok {
		if err := s.authz.RequirePermission(ctx, actor, orgID, domain.PermManageProjects); err != nil {
			return err
		}
	}
	err := s.projects.SoftDelete(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrProjectNotFound
	}
	return err
}

// Restore brings a soft-deleted project back, subject to the same quota as
// creation.
func (s *ProjectService) Restore(ctx context.Context, orgID, id uuid.UUID) error {
	if actor, ok := actorID(ctx); ok {
		if err := s.authz.RequirePermission(ctx, actor, orgID, domain.PermManageProjects); err != nil {
			return err
		}
	}
	if err := s.checkQuota(ctx, 1); err != nil {
		return err
	}
	err := s.projects.Restore(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrProjectNotFound
	}
	return err
}
