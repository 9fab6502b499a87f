package authz

// BoundaryValidator decides whether a role assignment applies within a
// tenant/entity scope. It is consulted twice per check: once to filter
// eligible assignments, and again (when a resource instance is named) to
// confirm the resource's owning entity matches.
type BoundaryValidator struct{}

// NewBoundaryValidator creates a boundary validator
func NewBoundaryValidator() *BoundaryValidator {
	return &BoundaryValidator{}
}

// InScope reports whether the assignment is applicable for a check against
// the given tenant and optional entity.
//
//   - Cross-tenant assignments are never in scope; only the superadmin
//     fast path in the resolver crosses tenants.
//   - A tenant-wide assignment (EntityID nil) covers every entity in its
//     tenant.
//   - An entity-scoped assignment covers only checks against the same
//     entity.
func (v *BoundaryValidator) InScope(assignment UserRoleAssignment, tenantID string, entityID *string) bool {
	if assignment.TenantID != tenantID {
		return false
	}
	if assignment.EntityID == nil {
		return true
	}
	if entityID == nil {
		// Entity-scoped grants do not satisfy tenant-wide checks.
		return false
	}
	return *assignment.EntityID == *entityID
}

// ResourceInScope reports whether a resource owned by owningEntity is
// reachable from the assignment. An empty owning entity means the resource
// is tenant-level and any in-tenant assignment may reach it.
func (v *BoundaryValidator) ResourceInScope(assignment UserRoleAssignment, tenantID string, owningEntity string) bool {
	if assignment.TenantID != tenantID {
		return false
	}
	if assignment.EntityID == nil {
		return true
	}
	if owningEntity == "" {
		return false
	}
	return *assignment.EntityID == owningEntity
}
