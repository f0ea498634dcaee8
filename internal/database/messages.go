package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"pushrelay/internal/models"
)

// InsertMessage creates a pending message addressed to a channel, due
// immediately.
func (d *Database) InsertMessage(ctx context.Context, channelID int64, body string, collapseKey *string, delayWhileIdle bool) (int64, error) {
	encBody, err := d.encryptor.EncryptIfEnabled(body)
	if err != nil {
		return 0, fmt.Errorf("failed to encrypt message body: %w", err)
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO messages (channel_id, status, retry_after, body, collapse_key, delay_while_idle, created_at)
		VALUES (?, 'pending', ?, ?, ?, ?, ?)
	`
	result, err := d.db.ExecContext(ctx, query, channelID, now, encBody, collapseKey, delayWhileIdle, now)
	if err != nil {
		return 0, fmt.Errorf("failed to insert message: %w", err)
	}

	messageID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get message id: %w", err)
	}
	return messageID, nil
}

// InsertRecipients materializes the recipient set of a message. The set is
// fixed once created; late subscribers do not retroactively receive the
// message.
func (d *Database) InsertRecipients(ctx context.Context, messageID int64, userIDs []int64) error {
	for _, userID := range userIDs {
		if _, err := d.db.ExecContext(ctx,
			"INSERT OR IGNORE INTO recipients (message_id, user_id) VALUES (?, ?)", messageID, userID); err != nil {
			return fmt.Errorf("failed to insert recipient: %w", err)
		}
	}
	return nil
}

// ClaimDueMessages atomically selects every pending message due before now
// that still has at least one valid recipient, flips it to claimed, and
// returns it with its recipient tokens in recipient join order. A message is
// claimed at most once; two calls never both return the same message.
func (d *Database) ClaimDueMessages(ctx context.Context, now time.Time) ([]models.OutboundMessage, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `
		SELECT m.message_id, m.body, m.collapse_key, m.delay_while_idle
		FROM messages m
		WHERE m.status = 'pending'
		  AND m.retry_after < ?
		  AND EXISTS (
			SELECT 1 FROM recipients r
			JOIN users u ON u.user_id = r.user_id
			WHERE r.message_id = m.message_id AND u.valid = 1
		  )
		ORDER BY m.message_id
	`
	rows, err := tx.QueryContext(ctx, query, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to select due messages: %w", err)
	}

	var claimed []models.OutboundMessage
	for rows.Next() {
		var msg models.OutboundMessage
		var encBody string
		var delayWhileIdle int
		if err := rows.Scan(&msg.MessageID, &encBody, &msg.CollapseKey, &delayWhileIdle); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan due message: %w", err)
		}
		msg.Body, err = d.encryptor.DecryptIfEnabled(encBody)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to decrypt message body: %w", err)
		}
		msg.DelayWhileIdle = delayWhileIdle != 0
		claimed = append(claimed, msg)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate due messages: %w", err)
	}

	if len(claimed) == 0 {
		return nil, nil
	}

	tokenQuery := `
		SELECT u.registration_token
		FROM recipients r
		JOIN users u ON u.user_id = r.user_id
		WHERE r.message_id = ? AND u.valid = 1
		ORDER BY r.rowid
	`
	for i := range claimed {
		tokens, err := d.recipientTokens(ctx, tx, tokenQuery, claimed[i].MessageID)
		if err != nil {
			return nil, err
		}
		claimed[i].RegistrationTokens = tokens
	}

	ids := make([]string, len(claimed))
	args := make([]interface{}, len(claimed))
	for i, msg := range claimed {
		ids[i] = "?"
		args[i] = msg.MessageID
	}
	update := "UPDATE messages SET status = 'claimed' WHERE message_id IN (" + strings.Join(ids, ", ") + ")"
	if _, err := tx.ExecContext(ctx, update, args...); err != nil {
		return nil, fmt.Errorf("failed to claim messages: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim transaction: %w", err)
	}
	return claimed, nil
}

type txQuerier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// recipientTokens loads the valid recipient tokens for one claimed message.
func (d *Database) recipientTokens(ctx context.Context, tx txQuerier, query string, messageID int64) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to select recipient tokens: %w", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var encToken string
		if err := rows.Scan(&encToken); err != nil {
			return nil, fmt.Errorf("failed to scan recipient token: %w", err)
		}
		token, err := d.encryptor.DecryptIfEnabled(encToken)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt recipient token: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate recipient tokens: %w", err)
	}
	return tokens, nil
}

// SetMulticastID attaches the gateway's batch identifier to the message row
// for correlation with gateway-side logs.
func (d *Database) SetMulticastID(ctx context.Context, messageID int64, multicastID string) error {
	if _, err := d.db.ExecContext(ctx,
		"UPDATE messages SET multicast_id = ? WHERE message_id = ?", multicastID, messageID); err != nil {
		return fmt.Errorf("failed to set multicast id: %w", err)
	}
	return nil
}

// IncrementFailureCount bumps the per-message failure counter after a send
// that reported at least one failed recipient.
func (d *Database) IncrementFailureCount(ctx context.Context, messageID int64) error {
	if _, err := d.db.ExecContext(ctx,
		"UPDATE messages SET failure_count = failure_count + 1 WHERE message_id = ?", messageID); err != nil {
		return fmt.Errorf("failed to increment failure count: %w", err)
	}
	return nil
}

// RecordRecipientResult stores the gateway's per-recipient outcome on the
// recipient row, keyed by the token that was sent.
func (d *Database) RecordRecipientResult(ctx context.Context, messageID int64, token string, gatewayMessageID, gatewayRegistrationToken, gatewayError *string) error {
	encToken, err := d.encryptor.EncryptForLookupIfEnabled(token)
	if err != nil {
		return fmt.Errorf("failed to encrypt registration token: %w", err)
	}

	var encNewToken *string
	if gatewayRegistrationToken != nil {
		enc, err := d.encryptor.EncryptForLookupIfEnabled(*gatewayRegistrationToken)
		if err != nil {
			return fmt.Errorf("failed to encrypt replacement token: %w", err)
		}
		encNewToken = &enc
	}

	query := `
		UPDATE recipients
		SET gateway_message_id = ?, gateway_registration_token = ?, gateway_error = ?
		WHERE message_id = ?
		  AND user_id = (SELECT user_id FROM users WHERE registration_token = ?)
	`
	result, err := d.db.ExecContext(ctx, query, gatewayMessageID, encNewToken, gatewayError, messageID, encToken)
	if err != nil {
		return fmt.Errorf("failed to record recipient result: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("no recipient row for message %d", messageID)
	}
	return nil
}

// RecentMessages returns the newest messages published to a channel.
func (d *Database) RecentMessages(ctx context.Context, channelName string, limit int) ([]models.RecentMessage, error) {
	query := `
		SELECT m.body, m.created_at
		FROM messages m
		JOIN channels c ON c.channel_id = m.channel_id
		WHERE c.name = ?
		ORDER BY m.created_at DESC, m.message_id DESC
		LIMIT ?
	`
	rows, err := d.db.QueryContext(ctx, query, channelName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent messages: %w", err)
	}
	defer rows.Close()

	var messages []models.RecentMessage
	for rows.Next() {
		var msg models.RecentMessage
		var encBody string
		if err := rows.Scan(&encBody, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan recent message: %w", err)
		}
		msg.Body, err = d.encryptor.DecryptIfEnabled(encBody)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt message body: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate recent messages: %w", err)
	}
	return messages, nil
}

// CleanupOldMessages deletes claimed messages (and their recipient rows)
// older than the retention window.
func (d *Database) CleanupOldMessages(ctx context.Context, retentionDays int) error {
	condition := `
		message_id IN (
			SELECT message_id FROM messages
			WHERE status = 'claimed'
			  AND created_at < datetime('now', '-' || ? || ' days')
		)
	`
	if _, err := d.db.ExecContext(ctx, "DELETE FROM recipients WHERE "+condition, retentionDays); err != nil {
		return fmt.Errorf("failed to cleanup old recipients: %w", err)
	}
	if _, err := d.db.ExecContext(ctx,
		`DELETE FROM messages
		 WHERE status = 'claimed'
		   AND created_at < datetime('now', '-' || ? || ' days')`, retentionDays); err != nil {
		return fmt.Errorf("failed to cleanup old messages: %w", err)
	}
	return nil
}
