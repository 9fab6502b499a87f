package authz

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all engine migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					description TEXT,
					tenant_id VARCHAR(255),
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(name, tenant_id)
				);

				CREATE INDEX idx_roles_tenant_id ON roles(tenant_id);
				CREATE INDEX idx_roles_name ON roles(name);
			`,
		},
		{
			Version:     2,
			Description: "Create permissions and role_permissions tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS permissions (
					id BIGSERIAL PRIMARY KEY,
					resource VARCHAR(255) NOT NULL,
					action VARCHAR(64) NOT NULL,
					UNIQUE(resource, action)
				);

				CREATE TABLE IF NOT EXISTS role_permissions (
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					PRIMARY KEY (role_id, permission_id)
				);

				CREATE INDEX idx_role_permissions_permission_id ON role_permissions(permission_id);
			`,
		},
		{
			Version:     3,
			Description: "Create user_role_assignments table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_role_assignments (
					id BIGSERIAL PRIMARY KEY,
					user_id VARCHAR(255) NOT NULL,
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					tenant_id VARCHAR(255) NOT NULL,
					entity_id VARCHAR(255),
					granted_by VARCHAR(255),
					granted_at TIMESTAMP NOT NULL DEFAULT NOW(),
					expires_at TIMESTAMP
				);

				CREATE UNIQUE INDEX idx_ura_unique_assignment
					ON user_role_assignments(user_id, role_id, tenant_id, COALESCE(entity_id, ''));
				CREATE INDEX idx_ura_user_tenant ON user_role_assignments(user_id, tenant_id);
				CREATE INDEX idx_ura_role_id ON user_role_assignments(role_id);
				CREATE INDEX idx_ura_expires_at ON user_role_assignments(expires_at);
			`,
		},
		{
			Version:     4,
			Description: "Create super_admins table",
			SQL: `
				CREATE TABLE IF NOT EXISTS super_admins (
					user_id VARCHAR(255) PRIMARY KEY,
					granted_at TIMESTAMP NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     5,
			Description: "Create resource_entities table",
			SQL: `
				CREATE TABLE IF NOT EXISTS resource_entities (
					resource VARCHAR(255) NOT NULL,
					resource_id VARCHAR(255) NOT NULL,
					entity_id VARCHAR(255) NOT NULL,
					PRIMARY KEY (resource, resource_id)
				);

				CREATE INDEX idx_resource_entities_entity ON resource_entities(entity_id);
			`,
		},
		{
			Version:     6,
			Description: "Create permission_dependency_rules table",
			SQL: `
				CREATE TABLE IF NOT EXISTS permission_dependency_rules (
					id BIGSERIAL PRIMARY KEY,
					trigger_resource VARCHAR(255) NOT NULL,
					trigger_action VARCHAR(64) NOT NULL,
					implied_resource VARCHAR(255) NOT NULL,
					implied_action VARCHAR(64) NOT NULL,
					rule_group BIGINT,
					priority INT NOT NULL DEFAULT 0
				);

				CREATE INDEX idx_pdr_trigger ON permission_dependency_rules(trigger_resource, trigger_action);
			`,
		},
	}
}

// RunMigrations applies all pending migrations to the database
func RunMigrations(ctx context.Context, db *sql.DB) error {
	// Create migrations tracking table
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS authz_migrations (
			version INT PRIMARY KEY,
			description TEXT,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, m := range GetMigrations() {
		var count int
		err := db.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM authz_migrations WHERE version = $1`, m.Version,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		if _, err := db.ExecContext(ctx, m.SQL); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}
		_, err = db.ExecContext(ctx,
			`INSERT INTO authz_migrations (version, description) VALUES ($1, $2)`,
			m.Version, m.Description,
		)
		if err != nil {
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
	}

	return nil
}
