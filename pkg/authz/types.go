package authz

import (
	"time"
)

// Resource identifies a resource type in the system. The namespace is open:
// callers register whatever resource types their domain needs.
type Resource string

// Action represents an operation that can be performed on a resource
type Action string

const (
	ActionView      Action = "view"
	ActionViewAny   Action = "view_any"
	ActionCreate    Action = "create"
	ActionUpdate    Action = "update"
	ActionUpdateAny Action = "update_any"
	ActionDelete    Action = "delete"
	ActionDeleteAny Action = "delete_any"
	ActionManage    Action = "manage"
)

// KnownActions returns the fixed action enumeration
func KnownActions() []Action {
	return []Action{
		ActionView,
		ActionViewAny,
		ActionCreate,
		ActionUpdate,
		ActionUpdateAny,
		ActionDelete,
		ActionDeleteAny,
		ActionManage,
	}
}

// IsInstanceScoped reports whether the action targets a single resource
// instance. "Any"-variants and create/manage operate at type level.
func (a Action) IsInstanceScoped() bool {
	switch a {
	case ActionView, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// Permission represents a specific permission (resource + action)
type Permission struct {
	Resource Resource `json:"resource"`
	Action   Action   `json:"action"`
}

// String returns a string representation of the permission
func (p Permission) String() string {
	return string(p.Resource) + ":" + string(p.Action)
}

// Role represents a named bundle of permissions. Roles are flat: there is no
// inheritance between roles, and a role's effective permission set is its
// direct grants plus the dependency-rule closure.
type Role struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	TenantID    *string      `json:"tenant_id,omitempty"` // nil for built-in roles
	Permissions []Permission `json:"permissions"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// UserRoleAssignment binds a role to a user within a tenant. EntityID scopes
// the assignment to a sub-tenant boundary (a department, a team); nil means
// tenant-wide.
type UserRoleAssignment struct {
	ID        int64      `json:"id"`
	UserID    string     `json:"user_id"`
	RoleID    int64      `json:"role_id"`
	TenantID  string     `json:"tenant_id"`
	EntityID  *string    `json:"entity_id,omitempty"`
	GrantedBy *string    `json:"granted_by,omitempty"`
	GrantedAt time.Time  `json:"granted_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// CheckRequest is the input to a permission check
type CheckRequest struct {
	UserID     string   `json:"user_id"`
	TenantID   string   `json:"tenant_id"`
	Resource   Resource `json:"resource"`
	Action     Action   `json:"action"`
	ResourceID *string  `json:"resource_id,omitempty"`
}

// Reason explains why a check was granted or denied
type Reason string

const (
	// Grant reasons
	ReasonSuperAdmin        Reason = "superadmin"
	ReasonDirectGrant       Reason = "direct_grant"
	ReasonDependencyImplied Reason = "dependency_implied"

	// Denial reasons
	ReasonNoAssignmentInScope    Reason = "no_assignment_in_scope"
	ReasonNoMatchingPermission   Reason = "no_matching_permission"
	ReasonEntityBoundary         Reason = "entity_boundary_violation"
	ReasonInstanceActionNoTarget Reason = "instance_action_without_resource"
	ReasonStoreUnavailable       Reason = "store_unavailable"
	ReasonTimeout                Reason = "timeout"
)

// Decision is the outcome of a permission check. Denials and evaluation
// failures both resolve to Granted=false with a distinguishing Reason, so a
// caller can never mistake an unresolved check for a grant.
type Decision struct {
	Granted   bool      `json:"granted"`
	Reason    Reason    `json:"reason"`
	LatencyMs float64   `json:"latency_ms"`
	CacheHit  bool      `json:"cache_hit"`
	CheckedAt time.Time `json:"checked_at"`
}

// Failed reports whether the decision reflects an evaluation failure rather
// than a real denial. Callers treat both as "not granted", but alerting
// wants to tell them apart.
func (d Decision) Failed() bool {
	return d.Reason == ReasonStoreUnavailable || d.Reason == ReasonTimeout
}
