package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaHistoryTable records which migration statements have already been
// applied, keyed by statement text, so Apply is idempotent across restarts.
const schemaHistoryTable = `
CREATE TABLE IF NOT EXISTS schema_history (
	statement TEXT NOT NULL,
	PRIMARY KEY (statement)
)`

// Statements is the ordered list of schema migrations. Entries are append-only:
// editing an applied statement would make the ledger re-run it.
var Statements = []string{
	`CREATE TABLE users (
	user_id INTEGER PRIMARY KEY AUTOINCREMENT,
	registration_token TEXT NOT NULL UNIQUE,
	first_seen DATETIME NOT NULL,
	last_seen DATETIME NOT NULL,
	valid INTEGER NOT NULL DEFAULT 1
)`,
	`CREATE TABLE channels (
	channel_id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE
)`,
	`CREATE TABLE subscriptions (
	user_id INTEGER NOT NULL,
	channel_id INTEGER NOT NULL,
	PRIMARY KEY (user_id, channel_id)
)`,
	`CREATE UNIQUE INDEX idx_subscriptions_channel_user ON subscriptions (channel_id, user_id)`,
	`CREATE TABLE messages (
	message_id INTEGER PRIMARY KEY AUTOINCREMENT,
	channel_id INTEGER NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'claimed')),
	failure_count INTEGER NOT NULL DEFAULT 0,
	retry_after DATETIME NOT NULL,
	body TEXT NOT NULL,
	collapse_key TEXT,
	delay_while_idle INTEGER NOT NULL DEFAULT 0,
	multicast_id TEXT,
	created_at DATETIME NOT NULL
)`,
	`CREATE INDEX idx_messages_status_retry_after ON messages (status, retry_after)`,
	`CREATE TABLE recipients (
	message_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	gateway_error TEXT,
	gateway_message_id TEXT,
	gateway_registration_token TEXT,
	PRIMARY KEY (message_id, user_id)
)`,
}

// Apply runs every migration statement that is not yet recorded in
// schema_history, recording each as it goes. Statement execution and ledger
// insertion are wrapped in a transaction so a failed statement is not
// half-recorded.
func Apply(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaHistoryTable); err != nil {
		return fmt.Errorf("failed to create schema history table: %w", err)
	}

	for _, statement := range Statements {
		applied, err := isApplied(ctx, db, statement)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration transaction: %w", err)
		}
		if _, err := tx.ExecContext(ctx, statement); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return fmt.Errorf("failed to execute migration: %w (rollback error: %v)", err, rbErr)
			}
			return fmt.Errorf("failed to execute migration %q: %w", statement, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_history (statement) VALUES (?)", statement); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return fmt.Errorf("failed to record migration: %w (rollback error: %v)", err, rbErr)
			}
			return fmt.Errorf("failed to record migration: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration: %w", err)
		}
	}

	return nil
}

func isApplied(ctx context.Context, db *sql.DB, statement string) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx, "SELECT 1 FROM schema_history WHERE statement = ?", statement).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check schema history: %w", err)
	}
	return true, nil
}
