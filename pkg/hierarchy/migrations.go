package hierarchy

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

// GetMigrations returns all hierarchy migrations
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create guild_roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS guild_roles (
					guild_id TEXT NOT NULL,
					role_id TEXT NOT NULL,
					rank INTEGER NOT NULL CHECK (rank >= 0),
					perms JSONB NOT NULL DEFAULT '[]',
					display_name TEXT,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					created_by TEXT NOT NULL,
					last_updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					last_updated_by TEXT NOT NULL,
					PRIMARY KEY (guild_id, role_id)
				);

				CREATE INDEX IF NOT EXISTS idx_guild_roles_rank ON guild_roles(guild_id, rank);
			`,
		},
		{
			Version:     2,
			Description: "Create guild_member_overrides table",
			SQL: `
				CREATE TABLE IF NOT EXISTS guild_member_overrides (
					guild_id TEXT NOT NULL,
					user_id TEXT NOT NULL,
					perm_overrides JSONB NOT NULL DEFAULT '[]',
					public BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					created_by TEXT NOT NULL,
					last_updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					last_updated_by TEXT NOT NULL,
					PRIMARY KEY (guild_id, user_id)
				);
			`,
		},
		{
			Version:     3,
			Description: "Create guild_members table",
			SQL: `
				CREATE TABLE IF NOT EXISTS guild_members (
					guild_id TEXT NOT NULL,
					user_id TEXT NOT NULL,
					roles TEXT[] NOT NULL DEFAULT '{}',
					needs_resync BOOLEAN NOT NULL DEFAULT FALSE,
					synced_at TIMESTAMPTZ,
					PRIMARY KEY (guild_id, user_id)
				);

				CREATE INDEX IF NOT EXISTS idx_guild_members_resync ON guild_members(guild_id) WHERE needs_resync;
				CREATE INDEX IF NOT EXISTS idx_guild_members_roles ON guild_members USING GIN (roles);
			`,
		},
		{
			Version:     4,
			Description: "Create guild module and command config tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS guild_module_configurations (
					guild_id TEXT NOT NULL,
					module TEXT NOT NULL,
					disabled BOOLEAN NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					created_by TEXT NOT NULL,
					last_updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					last_updated_by TEXT NOT NULL,
					PRIMARY KEY (guild_id, module)
				);

				CREATE TABLE IF NOT EXISTS guild_command_configurations (
					guild_id TEXT NOT NULL,
					command TEXT NOT NULL,
					disabled BOOLEAN NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					created_by TEXT NOT NULL,
					last_updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					last_updated_by TEXT NOT NULL,
					PRIMARY KEY (guild_id, command)
				);
			`,
		},
		{
			Version:     5,
			Description: "Create audit_logs table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_logs (
					id BIGSERIAL PRIMARY KEY,
					timestamp TIMESTAMPTZ NOT NULL,
					event_type VARCHAR(100) NOT NULL,
					status VARCHAR(20) NOT NULL,
					guild_id TEXT NOT NULL,
					actor_id TEXT NOT NULL,
					resource_type VARCHAR(50) NOT NULL DEFAULT '',
					resource_id TEXT NOT NULL DEFAULT '',
					request_id VARCHAR(100) NOT NULL DEFAULT '',
					message TEXT NOT NULL DEFAULT '',
					error_message TEXT NOT NULL DEFAULT '',
					changes JSONB,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_audit_logs_guild_timestamp ON audit_logs(guild_id, timestamp DESC);
				CREATE INDEX IF NOT EXISTS idx_audit_logs_event_type ON audit_logs(event_type);
				CREATE INDEX IF NOT EXISTS idx_audit_logs_actor ON audit_logs(guild_id, actor_id);
				CREATE INDEX IF NOT EXISTS idx_audit_logs_resource ON audit_logs(resource_type, resource_id);
			`,
		},
	}
}

// RunMigrations runs every migration not yet recorded in gatekeeper_migrations
func RunMigrations(ctx context.Context, db *sql.DB) error {
	// Create migrations table if it doesn't exist
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS gatekeeper_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, migration := range GetMigrations() {
		var exists bool
		err := db.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM gatekeeper_migrations WHERE version = $1)",
			migration.Version,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check migration %d: %w", migration.Version, err)
		}
		if exists {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO gatekeeper_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
