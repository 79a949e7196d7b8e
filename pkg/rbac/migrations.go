package rbac

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/portal/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the access-control schema migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create divisions and roles tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS divisions (
					id BIGSERIAL PRIMARY KEY,
					name TEXT NOT NULL UNIQUE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS roles (
					id BIGSERIAL PRIMARY KEY,
					name TEXT NOT NULL UNIQUE,
					description TEXT,
					permissions JSONB NOT NULL DEFAULT '{}',
					is_admin BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     2,
			Description: "Create user_roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_roles (
					id BIGSERIAL PRIMARY KEY,
					user_email TEXT NOT NULL UNIQUE,
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					division_id BIGINT REFERENCES divisions(id) ON DELETE SET NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_user_roles_email_lower ON user_roles (lower(user_email));
			`,
		},
		{
			Version:     3,
			Description: "Create staff directory table",
			SQL: `
				CREATE TABLE IF NOT EXISTS staff (
					id BIGSERIAL PRIMARY KEY,
					email TEXT NOT NULL UNIQUE,
					full_name TEXT,
					department TEXT,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_staff_email_lower ON staff (lower(email));
			`,
		},
		{
			Version:     4,
			Description: "Create login_activity table",
			SQL: `
				CREATE TABLE IF NOT EXISTS login_activity (
					id BIGSERIAL PRIMARY KEY,
					user_email TEXT NOT NULL,
					role_info JSONB NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_login_activity_created_at ON login_activity (created_at);
				CREATE INDEX IF NOT EXISTS idx_login_activity_user_email ON login_activity (user_email);
			`,
		},
		{
			Version:     5,
			Description: "Create get_user_role function",
			SQL: `
				CREATE OR REPLACE FUNCTION get_user_role(user_email_input TEXT)
				RETURNS TABLE (
					user_email TEXT,
					role_name TEXT,
					role_id BIGINT,
					division_id BIGINT,
					division_name TEXT,
					permissions JSONB,
					is_admin BOOLEAN
				)
				LANGUAGE sql STABLE
				AS $fn$
					SELECT ur.user_email, r.name, r.id, d.id, d.name, r.permissions, r.is_admin
					FROM user_roles ur
					JOIN roles r ON r.id = ur.role_id
					LEFT JOIN divisions d ON d.id = ur.division_id
					WHERE lower(ur.user_email) = lower(user_email_input)
					ORDER BY ur.updated_at DESC
				$fn$;
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	if logger == nil {
		logger = observability.NopLogger()
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS portal_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM portal_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		log := logger.WithFields(map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		})
		log.Info("Running migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO portal_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}

		log.Info("Migration completed")
	}

	return nil
}
