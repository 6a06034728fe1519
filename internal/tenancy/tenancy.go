package tenancy

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrContextNotSet is returned when a tenant-scoped operation runs
	// without an established tenant context. Callers must treat it as
	// fatal to the operation, never substitute a default tenant.
	ErrContextNotSet = errors.New("tenant context not set")
	// ErrContextInvalid is returned when establishing a context that
	// fails validation.
	ErrContextInvalid = errors.New("invalid tenant context")
)

// SystemTenantID is the sentinel tenant identity for background jobs,
// migrations, and operator tooling. It never appears on request paths.
const SystemTenantID = "__system__"

type Source string

const (
	SourceToken   Source = "token"
	SourceSession Source = "session"
	SourceAPIKey  Source = "api_key"
	SourceSystem  Source = "system"
)

// TenantContext identifies the tenant (and optionally the acting user and
// organization) for one logical operation. TenantID is immutable once the
// context is established; only Metadata may grow, and only before the
// context is shared across goroutines.
type TenantContext struct {
	TenantID       string
	UserID         string
	OrganizationID string
	IsSuperAdmin   bool
	Source         Source
	Metadata       map[string]any
}

// Validate enforces the structural rules: a tenant id is always required,
// and a super-admin context must name the acting admin so the bypass is
// attributable.
func (tc *TenantContext) Validate() error {
	if tc == nil || tc.TenantID == "" {
		return fmt.Errorf("%w: empty tenant id", ErrContextInvalid)
	}
	if tc.IsSuperAdmin && tc.UserID == "" {
		return fmt.Errorf("%w: super-admin context without acting user", ErrContextInvalid)
	}
	return nil
}

// IsSystem reports whether this is the background/system identity.
func (tc *TenantContext) IsSystem() bool {
	return tc != nil && (tc.TenantID == SystemTenantID || tc.Source == SourceSystem)
}

// Bypass reports whether tenant filtering is bypassed for this context.
func (tc *TenantContext) Bypass() bool {
	return tc.IsSystem() || (tc != nil && tc.IsSuperAdmin)
}

// TenantUUID parses the tenant id. System contexts carry the sentinel, not
// a UUID, and fail here; callers on bypass paths must not need one.
func (tc *TenantContext) TenantUUID() (uuid.UUID, error) {
	id, err := uuid.Parse(tc.TenantID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: tenant id %q is not a uuid", ErrContextInvalid, tc.TenantID)
	}
	return id, nil
}

// NewAPIKeyContext builds the context established by API-key
// authentication: tenant-wide identity, no acting user.
func NewAPIKeyContext(tenantID string) *TenantContext {
	return &TenantContext{
		TenantID: tenantID,
		Source:   SourceAPIKey,
	}
}

// NewUserContext builds the context established from a verified user
// assertion (bearer token or session).
func NewUserContext(tenantID, userID, organizationID string, source Source) *TenantContext {
	return &TenantContext{
		TenantID:       tenantID,
		UserID:         userID,
		OrganizationID: organizationID,
		Source:         source,
	}
}

// NewSystemContext builds the sentinel identity for background work.
func NewSystemContext() *TenantContext {
	return &TenantContext{
		TenantID: SystemTenantID,
		Source:   SourceSystem,
	}
}

// NewSuperAdminContext builds a cross-tenant context for a platform
// administrator acting on a target tenant. The acting admin is required and
// the elevation instant is stamped into Metadata for the audit trail.
func NewSuperAdminContext(targetTenantID, adminUserID string) (*TenantContext, error) {
	if adminUserID == "" {
		return nil, fmt.Errorf("%w: super-admin context requires the acting admin user", ErrContextInvalid)
	}
	return &TenantContext{
		TenantID:     targetTenantID,
		UserID:       adminUserID,
		IsSuperAdmin: true,
		Source:       SourceToken,
		Metadata: map[string]any{
			"elevated_at": time.Now().UTC().Format(time.RFC3339),
		},
	}, nil
}
