package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TenantStore manages the global tenants table. It is the one store that is
// not tenant-scoped: rows here ARE the tenants.
type TenantStore interface {
	Create(ctx context.Context, t *Tenant) error
	GetByID(ctx context.Context, id uuid.UUID) (*Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*Tenant, error)
	GetByAPIKeyHash(ctx context.Context, apiKeyHash string) (*Tenant, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status TenantStatus) error
}

// Tenant-scoped stores resolve the tenant from the caller's context; they
// never take a tenantID parameter.

type OrganizationStore interface {
	Create(ctx context.Context, o *Organization) error
	// CreateWithOwner creates the organization and its owner membership in
	// one transaction. A nil ownerUserID creates the organization alone.
	CreateWithOwner(ctx context.Context, o *Organization, ownerUserID uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*Organization, error)
	List(ctx context.Context) ([]Organization, error)
	Update(ctx context.Context, o *Organization) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type ProjectStore interface {
	Create(ctx context.Context, p *Project) error
	BatchCreate(ctx context.Context, ps []*Project) error
	GetByID(ctx context.Context, id uuid.UUID) (*Project, error)
	ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]Project, error)
	CountByOrganization(ctx context.Context, orgID uuid.UUID) (int, error)
	CountAll(ctx context.Context) (int, error)
	Update(ctx context.Context, p *Project) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
	Restore(ctx context.Context, id uuid.UUID) error
}

type MembershipStore interface {
	Create(ctx context.Context, m *Membership) error
	GetByID(ctx context.Context, id uuid.UUID) (*Membership, error)
	GetByUserAndOrganization(ctx context.Context, userID, orgID uuid.UUID) (*Membership, error)
	ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]Membership, error)
	CountActiveByOrganization(ctx context.Context, orgID uuid.UUID) (int, error)
	CountActiveAll(ctx context.Context) (int, error)
	UpdateRole(ctx context.Context, id uuid.UUID, role Role, grants PermissionGrants) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status MembershipStatus) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// PermissionGrants bundles the granular flags set alongside a role change.
type PermissionGrants struct {
	ManageProjects bool
	ManageMembers  bool
	ViewBilling    bool
}

// RateLimitStore is the transactional counter backend. CheckAndIncrement is
// the hot path; a denied check is a normal result, not an error.
type RateLimitStore interface {
	CheckAndIncrement(ctx context.Context, limitType, identifier string, maxRequests int, windowType WindowType, windowSize int) (*RateLimitResult, error)
	Get(ctx context.Context, limitType, identifier string) (*RateLimitRecord, error)
	Reset(ctx context.Context, id uuid.UUID) error
	CleanupExpired(ctx context.Context, retention time.Duration) (int64, error)
	ResetAllForIdentifier(ctx context.Context, identifier string) (int64, error)
	ResetAllForOrganization(ctx context.Context, orgID uuid.UUID) (int64, error)
}
