package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stratumkit/stratum/internal/domain"
	"github.com/stratumkit/stratum/internal/store"
)

var (
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrOrganizationConflict = errors.New("organization with this slug already exists")
)

type OrganizationService struct {
	orgs   domain.OrganizationStore
	authz  *AuthzService
	logger *zap.Logger
}

func NewOrganizationService(os domain.OrganizationStore, authz *AuthzService, logger *zap.Logger) *OrganizationService {
	return &OrganizationService{orgs: os, authz: authz, logger: logger}
}

// Create makes the acting user the organization's owner when one is present
// in the context; bare API-key callers create ownerless organizations.
func (s *OrganizationService) Create(ctx context.Context, o *domain.Organization) error {
	owner, _ := actorID(ctx)
	err := s.orgs.CreateWithOwner(ctx, o, owner)
	if errors.Is(err, store.ErrConflict) {
		return ErrOrganizationConflict
	}
	return err
}

func (s *OrganizationService) GetByID(ctx context.Context, id uuid.UUID) (*domain.Organization, error) {
	o, err := s.orgs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrOrganizationNotFound
		}
		return nil, err
	}
	return o, nil
}

func (s *OrganizationService) List(ctx context.Context) ([]domain.Organization, error) {
	return s.orgs.List(ctx)
}

func (s *OrganizationService) Update(ctx context.Context, o *domain.Organization) error {
	if actor, ok := actorID(ctx); ok {
		if err := s.authz.RequireMinimumRole(ctx, actor, o.ID, domain.RoleAdmin); err != nil {
			return err
		}
	}
	err := s.orgs.Update(ctx, o)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrOrganizationNotFound
		}
		if errors.Is(err, store.ErrConflict) {
			return ErrOrganizationConflict
		}
		return err
	}
	return nil
}

// Delete removes the organization. Only its owner may do so.
func (s *OrganizationService) Delete(ctx context.Context, id uuid.UUID) error {
	if actor, ok := actorID(ctx); ok {
		if err := s.authz.RequireMinimumRole(ctx, actor, id, domain.RoleOwner); err != nil {
			return err
		}
	}
	err := s.orgs.Delete(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrOrganizationNotFound
		}
		return err
	}
	s.logger.Info("organization deleted", zap.String("organization_id", id.String()))
	return nil
}
