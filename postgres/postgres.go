// Package postgres implements the models repository interfaces on top of
// PostgreSQL via database/sql and the pgx stdlib driver.
package postgres

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver

	"github.com/dayframe/calsync/models"
)

// Open connects to PostgreSQL and ensures the schema exists.
func Open(dsn string) (conn *sql.DB, err error) {
	conn, err = sql.Open("pgx", dsn)
	if err != nil {
		return
	}

	err = conn.Ping()
	if err != nil {
		return
	}

	conn.SetMaxOpenConns(10)

	err = createSchema(conn)

	return
}

type scannable interface {
	Scan(dest ...any) error
}

// requireRow maps zero-row updates and deletes to models.ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if n == 0 {
		return models.ErrNotFound
	}

	return nil
}

func createSchema(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS user_integrations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			access_token BYTEA NOT NULL,
			refresh_token BYTEA NOT NULL,
			expiry TIMESTAMPTZ NOT NULL,
			sync_cursor TEXT NOT NULL DEFAULT '',
			sync_status TEXT NOT NULL DEFAULT 'idle',
			last_error TEXT NOT NULL DEFAULT '',
			label_filters TEXT NOT NULL DEFAULT '[]',
			last_sync_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			UNIQUE (user_id, provider)
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			start_date TIMESTAMPTZ NOT NULL,
			end_date TIMESTAMPTZ NOT NULL,
			location TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			sync_source TEXT NOT NULL,
			external_id TEXT NOT NULL DEFAULT '',
			last_external_sync TIMESTAMPTZ,
			last_notification_sent TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_events_external_id
			ON events (user_id, sync_source, external_id) WHERE external_id <> ''`,
		`CREATE INDEX IF NOT EXISTS idx_events_upcoming ON events (user_id, status, start_date)`,
		`CREATE TABLE IF NOT EXISTS push_subscriptions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			endpoint TEXT NOT NULL,
			p256dh TEXT NOT NULL,
			auth TEXT NOT NULL,
			alarm_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			alarm_minutes_before INT NOT NULL DEFAULT 15,
			alarm_sound_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			alarm_show_notification BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			UNIQUE (user_id, endpoint)
		)`,
		`CREATE TABLE IF NOT EXISTS notification_log (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			event_id TEXT NOT NULL DEFAULT '',
			endpoint TEXT NOT NULL,
			payload TEXT NOT NULL,
			success BOOLEAN NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notification_log_user
			ON notification_log (user_id, created_at DESC)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return nil
}
