package storage

import (
	"context"
	"fmt"
	"sync"
)

// migrationLock ensures only one migration can run at a time
var migrationLock sync.Mutex

// Migration represents a database migration
type Migration struct {
	Version     int64
	Description string
	SQL         string
}

// migrations contains all database migrations in order
var migrations = []Migration{
	{
		Version:     1,
		Description: "Create initial schema",
		SQL: `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				version INTEGER PRIMARY KEY,
				applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);

			CREATE TABLE IF NOT EXISTS linked_accounts (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				platform TEXT NOT NULL,
				platform_user_id TEXT NOT NULL,
				username TEXT NOT NULL DEFAULT '',
				display_name TEXT NOT NULL DEFAULT '',
				email TEXT NOT NULL DEFAULT '',
				profile_url TEXT NOT NULL DEFAULT '',
				avatar_url TEXT NOT NULL DEFAULT '',
				access_token TEXT NOT NULL,
				refresh_token TEXT NOT NULL DEFAULT '',
				token_expires_at DATETIME,
				scope TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL DEFAULT 'active',
				last_sync DATETIME,
				follower_count INTEGER NOT NULL DEFAULT 0,
				following_count INTEGER NOT NULL DEFAULT 0,
				posts_count INTEGER NOT NULL DEFAULT 0,
				extra_data TEXT NOT NULL DEFAULT '{}',
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				UNIQUE (user_id, platform, platform_user_id)
			);

			CREATE INDEX IF NOT EXISTS idx_linked_accounts_user_platform ON linked_accounts(user_id, platform);
			CREATE INDEX IF NOT EXISTS idx_linked_accounts_status ON linked_accounts(status);
			CREATE INDEX IF NOT EXISTS idx_linked_accounts_last_sync ON linked_accounts(last_sync);

			CREATE TABLE IF NOT EXISTS oauth_sessions (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				account_id TEXT REFERENCES linked_accounts(id) ON DELETE CASCADE,
				oauth_state TEXT NOT NULL UNIQUE,
				code_verifier TEXT NOT NULL DEFAULT '',
				redirect_uri TEXT NOT NULL DEFAULT '',
				platform TEXT NOT NULL,
				temp_data TEXT NOT NULL DEFAULT '{}',
				expires_at DATETIME NOT NULL,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);

			CREATE INDEX IF NOT EXISTS idx_oauth_sessions_state ON oauth_sessions(oauth_state);
			CREATE INDEX IF NOT EXISTS idx_oauth_sessions_user_expiry ON oauth_sessions(user_id, expires_at);

			CREATE TABLE IF NOT EXISTS api_call_logs (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				account_id TEXT NOT NULL REFERENCES linked_accounts(id) ON DELETE CASCADE,
				endpoint TEXT NOT NULL,
				method TEXT NOT NULL,
				status_code INTEGER NOT NULL,
				response_time_ms INTEGER NOT NULL,
				rate_limit_remaining INTEGER,
				rate_limit_reset DATETIME,
				error_message TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);

			CREATE INDEX IF NOT EXISTS idx_api_call_logs_user_created ON api_call_logs(user_id, created_at);
			CREATE INDEX IF NOT EXISTS idx_api_call_logs_account_created ON api_call_logs(account_id, created_at);
			CREATE INDEX IF NOT EXISTS idx_api_call_logs_endpoint_created ON api_call_logs(endpoint, created_at);
		`,
	},
	{
		Version:     2,
		Description: "Create platform profile tables",
		SQL: `
			CREATE TABLE IF NOT EXISTS linkedin_profiles (
				account_id TEXT PRIMARY KEY REFERENCES linked_accounts(id) ON DELETE CASCADE,
				headline TEXT NOT NULL DEFAULT '',
				summary TEXT NOT NULL DEFAULT '',
				industry TEXT NOT NULL DEFAULT '',
				current_position TEXT NOT NULL DEFAULT '',
				company TEXT NOT NULL DEFAULT '',
				location TEXT NOT NULL DEFAULT '',
				public_profile_url TEXT NOT NULL DEFAULT '',
				connection_count INTEGER NOT NULL DEFAULT 0,
				profile_picture_url TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);

			CREATE TABLE IF NOT EXISTS twitter_profiles (
				account_id TEXT PRIMARY KEY REFERENCES linked_accounts(id) ON DELETE CASCADE,
				screen_name TEXT NOT NULL DEFAULT '',
				description TEXT NOT NULL DEFAULT '',
				location TEXT NOT NULL DEFAULT '',
				followers_count INTEGER NOT NULL DEFAULT 0,
				following_count INTEGER NOT NULL DEFAULT 0,
				tweet_count INTEGER NOT NULL DEFAULT 0,
				like_count INTEGER NOT NULL DEFAULT 0,
				is_verified BOOLEAN NOT NULL DEFAULT FALSE,
				profile_image_url TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
		`,
	},
	{
		Version:     3,
		Description: "Add triggers for updated_at",
		SQL: `
			CREATE TRIGGER IF NOT EXISTS linked_accounts_updated_at
			AFTER UPDATE ON linked_accounts
			BEGIN
				UPDATE linked_accounts SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
			END;
		`,
	},
}

// Migrate applies all pending migrations in order.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	migrationLock.Lock()
	defer migrationLock.Unlock()

	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	var current int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version) VALUES (?)`, m.Version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
