package db

import (
	"database/sql"
)

// MigrateUp creates the notification queue and session tables.
func MigrateUp(db *sql.DB) error {
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS notification_queue (
    id           UUID PRIMARY KEY,
    user_id      TEXT NOT NULL,
    title        VARCHAR(255) NOT NULL,
    body         TEXT NOT NULL DEFAULT '',
    data         JSONB,
    priority     SMALLINT NOT NULL DEFAULT 0,
    status       VARCHAR(16) NOT NULL DEFAULT 'pending',
    attempts     INTEGER NOT NULL DEFAULT 0,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    processed_at TIMESTAMPTZ,
    CONSTRAINT chk_notification_status CHECK (status IN ('pending', 'sent', 'dropped'))
)`); err != nil {
		return err
	}

	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS user_sessions (
    id         SERIAL PRIMARY KEY,
    user_id    TEXT NOT NULL,
    token_hash CHAR(64) NOT NULL UNIQUE,
    is_active  BOOLEAN NOT NULL DEFAULT TRUE,
    expires_at TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`); err != nil {
		return err
	}

	indexes := []string{
		// claim order: priority DESC, created_at ASC over pending rows
		`CREATE INDEX IF NOT EXISTS idx_notification_queue_claim ON notification_queue(priority DESC, created_at ASC) WHERE status = 'pending'`,
		// cleanup of processed rows
		`CREATE INDEX IF NOT EXISTS idx_notification_queue_processed_at ON notification_queue(processed_at) WHERE status <> 'pending'`,
		`CREATE INDEX IF NOT EXISTS idx_user_sessions_user_id ON user_sessions(user_id)`,
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return err
		}
	}

	return nil
}

// MigrateDown drops everything MigrateUp created.
// Use with caution: this deletes all queued notifications and sessions.
func MigrateDown(db *sql.DB) error {
	dropStatements := []string{
		`DROP INDEX IF EXISTS idx_user_sessions_user_id`,
		`DROP INDEX IF EXISTS idx_notification_queue_processed_at`,
		`DROP INDEX IF EXISTS idx_notification_queue_claim`,
		`DROP TABLE IF EXISTS user_sessions`,
		`DROP TABLE IF EXISTS notification_queue`,
	}
	for _, stmt := range dropStatements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
