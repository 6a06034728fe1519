package domain

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleViewer  Role = "viewer"
	RoleMember  Role = "member"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
	RoleOwner   Role = "owner"
)

// roleRank fixes the role ordering used by minimum-role checks.
var roleRank = map[Role]int{
	RoleViewer:  1,
	RoleMember:  2,
	RoleManager: 3,
	RoleAdmin:   4,
	RoleOwner:   5,
}

func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast reports whether r ranks at or above min. Unknown roles rank below
// every known role.
func (r Role) AtLeast(min Role) bool {
	return roleRank[r] >= roleRank[min] && roleRank[min] > 0
}

type MembershipStatus string

const (
	MembershipInvited   MembershipStatus = "invited"
	MembershipActive    MembershipStatus = "active"
	MembershipSuspended MembershipStatus = "suspended"
)

type Permission string

const (
	PermManageProjects Permission = "projects:manage"
	PermManageMembers  Permission = "members:manage"
	PermViewBilling    Permission = "billing:view"
)

type Membership struct {
	ID                uuid.UUID        `json:"id"`
	TenantID          uuid.UUID        `json:"tenant_id"`
	OrganizationID    uuid.UUID        `json:"organization_id"`
	UserID            uuid.UUID        `json:"user_id"`
	Role              Role             `json:"role"`
	Status            MembershipStatus `json:"status"`
	CanManageProjects bool             `json:"can_manage_projects"`
	CanManageMembers  bool             `json:"can_manage_members"`
	CanViewBilling    bool             `json:"can_view_billing"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

func (m *Membership) IsActive() bool {
	return m.Status == MembershipActive
}

// HasPermission answers a granular permission check. Owners and admins hold
// every permission; other roles carry explicit grants.
func (m *Membership) HasPermission(p Permission) bool {
	if !m.IsActive() {
		return false
	}
	if m.Role == RoleOwner || m.Role == RoleAdmin {
		return true
	}
	switch p {
	case PermManageProjects:
		return m.CanManageProjects
	case PermManageMembers:
		return m.CanManageMembers
	case PermViewBilling:
		return m.CanViewBilling
	default:
		return false
	}
}
