package db

import (
	"database/sql"
	"fmt"
)

// migrations are applied in order on every startup, so each statement must
// stay idempotent (IF NOT EXISTS).
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS api_tokens (
		token_digest TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS collections (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		color TEXT NOT NULL DEFAULT '#FF6B35',
		icon TEXT NOT NULL DEFAULT 'folder',
		is_public BOOLEAN NOT NULL DEFAULT FALSE,
		share_slug TEXT UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS saved_links (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		url TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		platform TEXT NOT NULL DEFAULT 'other',
		thumbnail TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		summary TEXT NOT NULL DEFAULT '',
		ai_tags TEXT NOT NULL DEFAULT '[]',
		og_image TEXT NOT NULL DEFAULT '',
		og_description TEXT NOT NULL DEFAULT '',
		favicon TEXT NOT NULL DEFAULT '',
		collection_id TEXT,
		is_highlighted BOOLEAN NOT NULL DEFAULT FALSE,
		reminder_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_saved_links_user_created
		ON saved_links(user_id, created_at DESC)`,

	`CREATE INDEX IF NOT EXISTS idx_saved_links_collection
		ON saved_links(collection_id)`,

	`CREATE INDEX IF NOT EXISTS idx_collections_user
		ON collections(user_id)`,
}

// Migrate brings the schema up to date.
func Migrate(conn *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := conn.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
