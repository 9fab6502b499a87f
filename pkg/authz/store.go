package authz

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Store is the read surface the resolver consumes. Implementations must
// provide read-after-write consistency: once a mutation is acknowledged,
// subsequent reads observe it.
type Store interface {
	// GetAssignmentsForUser returns the user's non-expired role
	// assignments within a tenant. Entity filtering is the boundary
	// validator's job, so assignments for all entities are returned.
	GetAssignmentsForUser(ctx context.Context, userID, tenantID string) ([]UserRoleAssignment, error)

	// GetPermissionsForRole returns the role's directly granted
	// permissions. No closure expansion happens here.
	GetPermissionsForRole(ctx context.Context, roleID int64) ([]Permission, error)

	// GetRole retrieves a role by ID
	GetRole(ctx context.Context, roleID int64) (*Role, error)

	// IsSuperAdmin reports whether the user holds global superadmin status
	IsSuperAdmin(ctx context.Context, userID string) (bool, error)

	// GetResourceOwningEntity returns the entity that owns a resource
	// instance, or "" when the resource is tenant-level.
	GetResourceOwningEntity(ctx context.Context, resource Resource, resourceID string) (string, error)

	// GetRoleHolders returns the user IDs currently assigned a role,
	// used to batch cache invalidation when the role changes.
	GetRoleHolders(ctx context.Context, roleID int64) ([]string, error)

	// GetDependencyRules loads the persisted dependency ruleset
	GetDependencyRules(ctx context.Context) ([]DependencyRule, error)
}

// InvalidationSink receives write notifications so caches can drop stale
// entries. The store calls the sink synchronously after the write commits
// and before the write is acknowledged to its caller, which is what gives
// checks read-after-write behavior.
type InvalidationSink interface {
	InvalidateUser(userID string)
	InvalidateRole(roleID int64, holders []string)
}

// SQLStore implements Store on database/sql. Production runs it against
// PostgreSQL; tests run the same queries against in-memory SQLite.
type SQLStore struct {
	db   *sql.DB
	sink InvalidationSink
}

// NewSQLStore creates a store over an open database handle
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// SetInvalidationSink registers the cache to notify on writes. Must be
// called during wiring, before the store serves traffic.
func (s *SQLStore) SetInvalidationSink(sink InvalidationSink) {
	s.sink = sink
}

// GetAssignmentsForUser returns a user's live assignments within a tenant
func (s *SQLStore) GetAssignmentsForUser(ctx context.Context, userID, tenantID string) ([]UserRoleAssignment, error) {
	query := `
		SELECT id, user_id, role_id, tenant_id, entity_id, granted_by, granted_at, expires_at
		FROM user_role_assignments
		WHERE user_id = $1
		  AND tenant_id = $2
		  AND (expires_at IS NULL OR expires_at > CURRENT_TIMESTAMP)
		ORDER BY granted_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, userID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: get assignments: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var assignments []UserRoleAssignment
	for rows.Next() {
		var a UserRoleAssignment
		var entityID, grantedBy sql.NullString
		var expiresAt sql.NullTime

		err := rows.Scan(&a.ID, &a.UserID, &a.RoleID, &a.TenantID, &entityID, &grantedBy, &a.GrantedAt, &expiresAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		if entityID.Valid {
			v := entityID.String
			a.EntityID = &v
		}
		if grantedBy.Valid {
			v := grantedBy.String
			a.GrantedBy = &v
		}
		if expiresAt.Valid {
			v := expiresAt.Time
			a.ExpiresAt = &v
		}
		assignments = append(assignments, a)
	}

	return assignments, rows.Err()
}

// GetPermissionsForRole returns the role's direct permission grants
func (s *SQLStore) GetPermissionsForRole(ctx context.Context, roleID int64) ([]Permission, error) {
	query := `
		SELECT p.resource, p.action
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id = $1
		ORDER BY p.resource, p.action
	`

	rows, err := s.db.QueryContext(ctx, query, roleID)
	if err != nil {
		return nil, fmt.Errorf("%w: get role permissions: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.Resource, &p.Action); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, p)
	}

	return perms, rows.Err()
}

// GetRole retrieves a role by ID, including its direct permissions
func (s *SQLStore) GetRole(ctx context.Context, roleID int64) (*Role, error) {
	query := `
		SELECT id, name, description, tenant_id, created_at, updated_at
		FROM roles
		WHERE id = $1
	`

	var role Role
	var tenantID sql.NullString
	err := s.db.QueryRowContext(ctx, query, roleID).Scan(
		&role.ID, &role.Name, &role.Description, &tenantID, &role.CreatedAt, &role.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: id %d", ErrRoleNotFound, roleID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get role: %v", ErrStoreUnavailable, err)
	}
	if tenantID.Valid {
		v := tenantID.String
		role.TenantID = &v
	}

	role.Permissions, err = s.GetPermissionsForRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	return &role, nil
}

// IsSuperAdmin reports global superadmin status for a user
func (s *SQLStore) IsSuperAdmin(ctx context.Context, userID string) (bool, error) {
	query := `SELECT COUNT(1) FROM super_admins WHERE user_id = $1`

	var count int
	if err := s.db.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return false, fmt.Errorf("%w: superadmin lookup: %v", ErrStoreUnavailable, err)
	}
	return count > 0, nil
}

// GetResourceOwningEntity returns the entity owning a resource instance
func (s *SQLStore) GetResourceOwningEntity(ctx context.Context, resource Resource, resourceID string) (string, error) {
	query := `SELECT entity_id FROM resource_entities WHERE resource = $1 AND resource_id = $2`

	var entityID string
	err := s.db.QueryRowContext(ctx, query, resource, resourceID).Scan(&entityID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: resource entity lookup: %v", ErrStoreUnavailable, err)
	}
	return entityID, nil
}

// GetRoleHolders returns the users currently holding a role across tenants
func (s *SQLStore) GetRoleHolders(ctx context.Context, roleID int64) ([]string, error) {
	query := `
		SELECT DISTINCT user_id FROM user_role_assignments
		WHERE role_id = $1
		  AND (expires_at IS NULL OR expires_at > CURRENT_TIMESTAMP)
	`

	rows, err := s.db.QueryContext(ctx, query, roleID)
	if err != nil {
		return nil, fmt.Errorf("%w: get role holders: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var holders []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan holder: %w", err)
		}
		holders = append(holders, userID)
	}
	return holders, rows.Err()
}

// GetDependencyRules loads the persisted dependency ruleset. The rules are
// validated by NewRuleGraph before serving; this method only loads them.
func (s *SQLStore) GetDependencyRules(ctx context.Context) ([]DependencyRule, error) {
	query := `
		SELECT trigger_resource, trigger_action, implied_resource, implied_action, rule_group, priority
		FROM permission_dependency_rules
		ORDER BY priority DESC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: get dependency rules: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	// Edges sharing a rule_group form one AND-group rule; group 0 rows are
	// independent single-trigger rules.
	type groupKey struct {
		group    int64
		priority int
	}
	grouped := make(map[groupKey]*DependencyRule)
	var rules []DependencyRule
	var order []groupKey

	for rows.Next() {
		var trigRes, impRes string
		var trigAct, impAct string
		var group sql.NullInt64
		var priority int
		if err := rows.Scan(&trigRes, &trigAct, &impRes, &impAct, &group, &priority); err != nil {
			return nil, fmt.Errorf("failed to scan dependency rule: %w", err)
		}

		trigger := Permission{Resource: Resource(trigRes), Action: Action(trigAct)}
		implied := Permission{Resource: Resource(impRes), Action: Action(impAct)}

		if !group.Valid || group.Int64 == 0 {
			rules = append(rules, DependencyRule{Trigger: trigger, Implies: []Permission{implied}, Priority: priority})
			continue
		}

		key := groupKey{group: group.Int64, priority: priority}
		r, ok := grouped[key]
		if !ok {
			r = &DependencyRule{Priority: priority}
			grouped[key] = r
			order = append(order, key)
		}
		r.AllOf = append(r.AllOf, trigger)
		appendUniquePermission(&r.Implies, implied)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, key := range order {
		rules = append(rules, *grouped[key])
	}
	return rules, nil
}

// CreateRole creates a role and its direct permission grants
func (s *SQLStore) CreateRole(ctx context.Context, role *Role) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO roles (name, description, tenant_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	err := s.db.QueryRowContext(ctx, query, role.Name, role.Description, role.TenantID, now, now).Scan(&role.ID)
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}
	role.CreatedAt = now
	role.UpdatedAt = now

	if len(role.Permissions) > 0 {
		if err := s.SetRolePermissions(ctx, role.ID, role.Permissions); err != nil {
			return err
		}
	}
	return nil
}

// SetRolePermissions replaces a role's direct grants. The permission rows
// are upserted so callers can grant triples that do not exist yet. Cache
// entries touching the role are invalidated before the call returns.
func (s *SQLStore) SetRolePermissions(ctx context.Context, roleID int64, perms []Permission) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to clear role permissions: %w", err)
	}

	for _, p := range perms {
		permID, err := s.ensurePermission(ctx, tx, p)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)`,
			roleID, permID,
		)
		if err != nil {
			return fmt.Errorf("failed to grant %s to role %d: %w", p, roleID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE roles SET updated_at = CURRENT_TIMESTAMP WHERE id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to touch role: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit role permissions: %w", err)
	}

	s.notifyRole(ctx, roleID)
	return nil
}

// AssignRole assigns a role to a user within a tenant (optionally entity
// scoped) and invalidates the user's cached decisions before returning.
func (s *SQLStore) AssignRole(ctx context.Context, assignment *UserRoleAssignment) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO user_role_assignments (user_id, role_id, tenant_id, entity_id, granted_by, granted_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	err := s.db.QueryRowContext(ctx, query,
		assignment.UserID, assignment.RoleID, assignment.TenantID,
		assignment.EntityID, assignment.GrantedBy, now, assignment.ExpiresAt,
	).Scan(&assignment.ID)
	if err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}
	assignment.GrantedAt = now

	if s.sink != nil {
		s.sink.InvalidateUser(assignment.UserID)
	}
	return nil
}

// RevokeRole removes an assignment. The affected user's cache entries are
// invalidated synchronously, so the very next check observes the
// revocation with no stale-grant window.
func (s *SQLStore) RevokeRole(ctx context.Context, assignmentID int64) error {
	var userID string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id FROM user_role_assignments WHERE id = $1`, assignmentID,
	).Scan(&userID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up assignment: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_role_assignments WHERE id = $1`, assignmentID); err != nil {
		return fmt.Errorf("failed to revoke role: %w", err)
	}

	if s.sink != nil {
		s.sink.InvalidateUser(userID)
	}
	return nil
}

// SetSuperAdmin grants or revokes global superadmin status
func (s *SQLStore) SetSuperAdmin(ctx context.Context, userID string, grant bool) error {
	var err error
	if grant {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO super_admins (user_id, granted_at) VALUES ($1, CURRENT_TIMESTAMP) ON CONFLICT (user_id) DO NOTHING`,
			userID,
		)
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM super_admins WHERE user_id = $1`, userID)
	}
	if err != nil {
		return fmt.Errorf("failed to set superadmin: %w", err)
	}

	if s.sink != nil {
		s.sink.InvalidateUser(userID)
	}
	return nil
}

// SetResourceEntity records which entity owns a resource instance.
//
// Re-homing a resource does not notify the invalidation sink: cached
// decisions are indexed per user, not per resource, so there is no
// targeted way to drop the affected entries. Decisions made under the
// old owning entity can therefore survive for up to the decision TTL
// before the cache self-heals.
func (s *SQLStore) SetResourceEntity(ctx context.Context, resource Resource, resourceID, entityID string) error {
	query := `
		INSERT INTO resource_entities (resource, resource_id, entity_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (resource, resource_id) DO UPDATE SET entity_id = EXCLUDED.entity_id
	`
	if _, err := s.db.ExecContext(ctx, query, resource, resourceID, entityID); err != nil {
		return fmt.Errorf("failed to set resource entity: %w", err)
	}
	return nil
}

// notifyRole fans a role mutation out to the sink as one batched call
func (s *SQLStore) notifyRole(ctx context.Context, roleID int64) {
	if s.sink == nil {
		return
	}
	holders, err := s.GetRoleHolders(ctx, roleID)
	if err != nil {
		// Holder lookup failed; invalidate the role layer anyway so the
		// closure cache cannot serve stale rules.
		holders = nil
	}
	s.sink.InvalidateRole(roleID, holders)
}

// ensurePermission upserts a permission triple and returns its ID
func (s *SQLStore) ensurePermission(ctx context.Context, tx *sql.Tx, p Permission) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM permissions WHERE resource = $1 AND action = $2`,
		p.Resource, p.Action,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to look up permission %s: %w", p, err)
	}

	err = tx.QueryRowContext(ctx,
		`INSERT INTO permissions (resource, action) VALUES ($1, $2) RETURNING id`,
		p.Resource, p.Action,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create permission %s: %w", p, err)
	}
	return id, nil
}

func appendUniquePermission(perms *[]Permission, p Permission) {
	for _, existing := range *perms {
		if existing == p {
			return
		}
	}
	*perms = append(*perms, p)
}

var _ Store = (*SQLStore)(nil)
