package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Dialect selects the SQL flavour of a schema.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

func articlesTable(d Dialect) string {
	timestamp, now := "TIMESTAMPTZ", "now()"
	if d == SQLite {
		timestamp, now = "TIMESTAMP", "CURRENT_TIMESTAMP"
	}
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS articles (
    article_id   TEXT PRIMARY KEY,
    title        TEXT NOT NULL,
    content      TEXT NOT NULL,
    publish_date %[1]s,
    url          TEXT NOT NULL DEFAULT '',
    content_hash TEXT NOT NULL,
    extra        TEXT NOT NULL DEFAULT '',
    updated_at   %[1]s NOT NULL DEFAULT %[2]s
)`, timestamp, now)
}

// MigrateUp creates the metadata store schema. It is idempotent.
func MigrateUp(ctx context.Context, db *sql.DB, d Dialect) error {
	if _, err := db.ExecContext(ctx, articlesTable(d)); err != nil {
		return err
	}

	indexes := []string{
		// newest-first listings in the admin CLI
		`CREATE INDEX IF NOT EXISTS idx_articles_publish_date ON articles(publish_date DESC)`,
	}
	for _, idx := range indexes {
		if _, err := db.ExecContext(ctx, idx); err != nil {
			return err
		}
	}

	return nil
}

// MigrateDown drops the metadata store schema.
// Use with caution: this will delete all stored articles.
func MigrateDown(ctx context.Context, db *sql.DB) error {
	dropStatements := []string{
		`DROP INDEX IF EXISTS idx_articles_publish_date`,
		`DROP TABLE IF EXISTS articles`,
	}

	for _, stmt := range dropStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}
