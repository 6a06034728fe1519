package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrIsolationViolation marks any detected cross-tenant access.
	ErrIsolationViolation = errors.New("tenant isolation violation")
	// ErrForbidden marks a failed authorization check.
	ErrForbidden = errors.New("forbidden")
	// ErrQuotaExceeded marks a per-tenant resource quota violation.
	ErrQuotaExceeded = errors.New("quota exceeded")
)

// IsolationError records a detected cross-tenant access attempt. The message
// deliberately reveals nothing about whether the resource exists; the fields
// feed the security log.
type IsolationError struct {
	Table      string
	ResourceID string
	TenantID   string
}

func (e *IsolationError) Error() string {
	return fmt.Sprintf("tenant isolation violation on %s", e.Table)
}

func (e *IsolationError) Unwrap() error { return ErrIsolationViolation }

// ForbiddenError carries enough to log who was denied what. Either
// Permission or MinimumRole is set, depending on the failed check.
type ForbiddenError struct {
	UserID         uuid.UUID
	OrganizationID uuid.UUID
	Permission     Permission
	MinimumRole    Role
}

func (e *ForbiddenError) Error() string {
	if e.Permission != "" {
		return fmt.Sprintf("forbidden: missing permission %q", e.Permission)
	}
	if e.MinimumRole != "" {
		return fmt.Sprintf("forbidden: requires role %s or above", e.MinimumRole)
	}
	return "forbidden"
}

func (e *ForbiddenError) Unwrap() error { return ErrForbidden }

type QuotaExceededError struct {
	Resource string
	Current  int
	Limit    int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: %s at %d of %d", e.Resource, e.Current, e.Limit)
}

func (e *QuotaExceededError) Unwrap() error { return ErrQuotaExceeded }
