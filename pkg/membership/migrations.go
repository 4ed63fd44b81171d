package membership

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration is one versioned schema change.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all membership migrations in order.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create project_memberships table",
			SQL: `
				CREATE TABLE IF NOT EXISTS project_memberships (
					id BIGSERIAL PRIMARY KEY,
					organization_id BIGINT NOT NULL,
					project_id BIGINT NOT NULL,
					user_id BIGINT NOT NULL,
					role VARCHAR(64),
					external_role VARCHAR(64),
					assigned_phases TEXT NOT NULL DEFAULT '[]',
					status VARCHAR(32) NOT NULL DEFAULT 'active',
					access_expires_at TIMESTAMP,
					invited_by BIGINT,
					joined_at TIMESTAMP NOT NULL,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL,
					revoked_at TIMESTAMP,
					UNIQUE(project_id, user_id)
				);

				CREATE INDEX IF NOT EXISTS idx_memberships_project_id ON project_memberships(project_id);
				CREATE INDEX IF NOT EXISTS idx_memberships_user_id ON project_memberships(user_id);
				CREATE INDEX IF NOT EXISTS idx_memberships_status ON project_memberships(status);
				CREATE INDEX IF NOT EXISTS idx_memberships_expires_at ON project_memberships(access_expires_at);
			`,
		},
		{
			Version:     2,
			Description: "Create membership_invitations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS membership_invitations (
					id BIGSERIAL PRIMARY KEY,
					organization_id BIGINT NOT NULL,
					project_id BIGINT NOT NULL,
					email VARCHAR(255) NOT NULL,
					role VARCHAR(64),
					external_role VARCHAR(64),
					assigned_phases TEXT NOT NULL DEFAULT '[]',
					access_expires_at TIMESTAMP,
					token VARCHAR(128) NOT NULL UNIQUE,
					invited_by BIGINT NOT NULL,
					invited_at TIMESTAMP NOT NULL,
					expires_at TIMESTAMP NOT NULL,
					accepted_at TIMESTAMP,
					accepted_by BIGINT
				);

				CREATE INDEX IF NOT EXISTS idx_invitations_project_id ON membership_invitations(project_id);
				CREATE INDEX IF NOT EXISTS idx_invitations_expires_at ON membership_invitations(expires_at);
			`,
		},
	}
}

// RunMigrations executes all pending membership migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS membership_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM membership_migrations ORDER BY version")
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
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
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
			"INSERT INTO membership_migrations (version, description) VALUES ($1, $2)",
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
