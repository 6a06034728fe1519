package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stratumkit/stratum/internal/domain"
	"github.com/stratumkit/stratum/internal/store"
)

var (
	ErrTenantNotFound  = errors.New("tenant not found")
	ErrTenantConflict  = errors.New("tenant with this slug already exists")
	ErrTenantSuspended = errors.New("tenant is suspended")
	ErrInvalidAPIKey   = errors.New("invalid API key")
)

const (
	defaultMaxProjects = 50
	defaultMaxMembers  = 100
)

type TenantService struct {
	store  domain.TenantStore
	logger *zap.Logger
}

func NewTenantService(ts domain.TenantStore, logger *zap.Logger) *TenantService {
	return &TenantService{store: ts, logger: logger}
}

// GenerateAPIKey returns a fresh tenant credential. Only its hash is stored;
// the plaintext is shown once at creation time.
func GenerateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "st_" + hex.EncodeToString(b), nil
}

func HashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// Create provisions a tenant and returns the plaintext API key alongside it.
// Zero quota values fall back to the defaults.
func (s *TenantService) Create(ctx context.Context, name, slug string, maxProjects, maxMembers int) (*domain.Tenant, string, error) {
	apiKey, err := GenerateAPIKey()
	if err != nil {
		return nil, "", err
	}
	if maxProjects <= 0 {
		maxProjects = defaultMaxProjects
	}
	if maxMembers <= 0 {
		maxMembers = defaultMaxMembers
	}

	t := &domain.Tenant{
		Name:        name,
		Slug:        slug,
		Status:      domain.TenantActive,
		APIKeyHash:  HashAPIKey(apiKey),
		MaxProjects: maxProjects,
		MaxMembers:  maxMembers,
	}
	if err := s.store.Create(ctx, t); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, "", ErrTenantConflict
		}
		return nil, "", err
	}

	s.logger.Info("tenant created",
		zap.String("tenant_id", t.ID.String()),
		zap.String("slug", t.Slug))
	return t, apiKey, nil
}

// Authenticate resolves a plaintext API key to its tenant. Suspended tenants
// fail authentication.
func (s *TenantService) Authenticate(ctx context.Context, apiKey string) (*domain.Tenant, error) {
	t, err := s.store.GetByAPIKeyHash(ctx, HashAPIKey(apiKey))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidAPIKey
		}
		return nil, err
	}
	if t.Status == domain.TenantSuspended {
		return nil, ErrTenantSuspended
	}
	return t, nil
}

func (s *TenantService) GetByID(ctx context.Context, id uuid.UUID) (*domain.Tenant, error) {
	t, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, err
	}
	return t, nil
}

func (s *TenantService) GetBySlug(ctx context.Context, slug string) (*domain.Tenant, error) {
	t, err := s.store.GetBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, err
	}
	return t, nil
}

func (s *TenantService) Suspend(ctx context.Context, id uuid.UUID) error {
	return s.setStatus(ctx, id, domain.TenantSuspended)
}

func (s *TenantService) Activate(ctx context.Context, id uuid.UUID) error {
	return s.setStatus(ctx, id, domain.TenantActive)
}

func (s *TenantService) setStatus(ctx context.Context, id uuid.UUID, status domain.TenantStatus) error {
	err := s.store.UpdateStatus(ctx, id, status)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrTenantNotFound
		}
		return err
	}
	s.logger.Info("tenant status changed",
		zap.String("tenant_id", id.String()),
		zap.String("status", string(status)))
	return nil
}
