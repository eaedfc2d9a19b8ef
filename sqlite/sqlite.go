// Package sqlite implements the models repository interfaces on a single
// SQLite file. It backs the standalone run mode, where no external database
// is available.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // sqlite driver

	"github.com/dayframe/calsync/models"
)

// Open opens (or creates) the database file and ensures the schema exists.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, err
		}
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return db, createSchema(db)
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
			access_token BLOB NOT NULL,
			refresh_token BLOB NOT NULL,
			expiry INT NOT NULL,
			sync_cursor TEXT NOT NULL DEFAULT '',
			sync_status TEXT NOT NULL DEFAULT 'idle',
			last_error TEXT NOT NULL DEFAULT '',
			label_filters TEXT NOT NULL DEFAULT '[]',
			last_sync_at INT,
			created_at INT NOT NULL,
			updated_at INT NOT NULL,
			UNIQUE (user_id, provider)
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			start_date INT NOT NULL,
			end_date INT NOT NULL,
			location TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			sync_source TEXT NOT NULL,
			external_id TEXT NOT NULL DEFAULT '',
			last_external_sync INT,
			last_notification_sent INT,
			created_at INT NOT NULL,
			updated_at INT NOT NULL
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
			alarm_enabled INT NOT NULL DEFAULT 0,
			alarm_minutes_before INT NOT NULL DEFAULT 15,
			alarm_sound_enabled INT NOT NULL DEFAULT 1,
			alarm_show_notification INT NOT NULL DEFAULT 1,
			created_at INT NOT NULL,
			updated_at INT NOT NULL,
			UNIQUE (user_id, endpoint)
		)`,
		`CREATE TABLE IF NOT EXISTS notification_log (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			event_id TEXT NOT NULL DEFAULT '',
			endpoint TEXT NOT NULL,
			payload TEXT NOT NULL,
			success INT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			created_at INT NOT NULL
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

// Timestamps are stored as unix seconds, the way the file store keeps every
// time column.

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.Unix()
}

func fromUnix(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}

	return time.Unix(v, 0).UTC()
}

func toUnixPtr(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func fromUnixPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}

	t := time.Unix(v.Int64, 0).UTC()

	return &t
}
