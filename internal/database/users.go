package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"pushrelay/internal/models"
)

// UserFilter selects users by any combination of token, id and channel name.
// Predicates are combined with AND; validity is always enforced by the
// queries that take a filter.
type UserFilter struct {
	Token   *string
	UserID  *int64
	Channel *string
}

func (f UserFilter) empty() bool {
	return f.Token == nil && f.UserID == nil && f.Channel == nil
}

// UpsertUser registers a device token, creating the user on first sight and
// touching last_seen (and re-validating) on every subsequent one.
func (d *Database) UpsertUser(ctx context.Context, token string) (*models.User, error) {
	encToken, err := d.encryptor.EncryptForLookupIfEnabled(token)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt registration token: %w", err)
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO users (registration_token, first_seen, last_seen, valid)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(registration_token)
		DO UPDATE SET last_seen = excluded.last_seen, valid = 1
	`
	if _, err := d.db.ExecContext(ctx, query, encToken, now, now); err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	return d.userByEncryptedToken(ctx, encToken)
}

func (d *Database) userByEncryptedToken(ctx context.Context, encToken string) (*models.User, error) {
	query := `
		SELECT user_id, registration_token, first_seen, last_seen, valid
		FROM users
		WHERE registration_token = ?
	`
	return d.scanUser(d.db.QueryRowContext(ctx, query, encToken))
}

// GetUser resolves a single valid user matching the filter. Returns
// (nil, nil) when no valid user matches.
func (d *Database) GetUser(ctx context.Context, filter UserFilter) (*models.User, error) {
	if filter.empty() {
		return nil, fmt.Errorf("user filter requires at least one selector")
	}

	joins := ""
	where := []string{"u.valid = 1"}
	args := []interface{}{}

	if filter.Token != nil {
		encToken, err := d.encryptor.EncryptForLookupIfEnabled(*filter.Token)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt registration token: %w", err)
		}
		where = append(where, "u.registration_token = ?")
		args = append(args, encToken)
	}
	if filter.UserID != nil {
		where = append(where, "u.user_id = ?")
		args = append(args, *filter.UserID)
	}
	if filter.Channel != nil {
		joins = `
			JOIN subscriptions s ON s.user_id = u.user_id
			JOIN channels c ON c.channel_id = s.channel_id`
		where = append(where, "c.name = ?")
		args = append(args, *filter.Channel)
	}

	query := `
		SELECT DISTINCT u.user_id, u.registration_token, u.first_seen, u.last_seen, u.valid
		FROM users u` + joins + `
		WHERE ` + strings.Join(where, " AND ") + `
		LIMIT 1`

	return d.scanUser(d.db.QueryRowContext(ctx, query, args...))
}

func (d *Database) scanUser(row *sql.Row) (*models.User, error) {
	user := &models.User{}
	var encToken string

	err := row.Scan(&user.ID, &encToken, &user.FirstSeen, &user.LastSeen, &user.Valid)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	user.RegistrationToken, err = d.encryptor.DecryptIfEnabled(encToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt registration token: %w", err)
	}

	return user, nil
}

// SetUserValidity flips the valid flag on a user row. Invalid users are kept
// as a historical record and excluded from all lookups.
func (d *Database) SetUserValidity(ctx context.Context, userID int64, valid bool) error {
	result, err := d.db.ExecContext(ctx, "UPDATE users SET valid = ? WHERE user_id = ?", valid, userID)
	if err != nil {
		return fmt.Errorf("failed to update user validity: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("no user found with id %d", userID)
	}
	return nil
}

// SetUserValidityByToken is SetUserValidity keyed by registration token,
// used when interpreting per-recipient gateway outcomes.
func (d *Database) SetUserValidityByToken(ctx context.Context, token string, valid bool) error {
	encToken, err := d.encryptor.EncryptForLookupIfEnabled(token)
	if err != nil {
		return fmt.Errorf("failed to encrypt registration token: %w", err)
	}

	result, err := d.db.ExecContext(ctx, "UPDATE users SET valid = ? WHERE registration_token = ?", valid, encToken)
	if err != nil {
		return fmt.Errorf("failed to update user validity: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("no user found for registration token")
	}
	return nil
}

// EnsureChannel creates the channel if absent and returns its id either way.
func (d *Database) EnsureChannel(ctx context.Context, name string) (int64, error) {
	if _, err := d.db.ExecContext(ctx,
		"INSERT INTO channels (name) VALUES (?) ON CONFLICT(name) DO NOTHING", name); err != nil {
		return 0, fmt.Errorf("failed to create channel: %w", err)
	}

	var channelID int64
	err := d.db.QueryRowContext(ctx, "SELECT channel_id FROM channels WHERE name = ?", name).Scan(&channelID)
	if err != nil {
		return 0, fmt.Errorf("failed to look up channel: %w", err)
	}
	return channelID, nil
}

// AddSubscription creates the user/channel edge. Returns whether a new edge
// was created; a duplicate subscribe is a no-op.
func (d *Database) AddSubscription(ctx context.Context, userID, channelID int64) (bool, error) {
	result, err := d.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO subscriptions (user_id, channel_id) VALUES (?, ?)", userID, channelID)
	if err != nil {
		return false, fmt.Errorf("failed to add subscription: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows > 0, nil
}

func (d *Database) RemoveSubscription(ctx context.Context, userID, channelID int64) error {
	if _, err := d.db.ExecContext(ctx,
		"DELETE FROM subscriptions WHERE user_id = ? AND channel_id = ?", userID, channelID); err != nil {
		return fmt.Errorf("failed to remove subscription: %w", err)
	}
	return nil
}

// ListSubscriptionChannels returns the channel names a user is subscribed to.
func (d *Database) ListSubscriptionChannels(ctx context.Context, userID int64) ([]string, error) {
	query := `
		SELECT c.name
		FROM subscriptions s
		JOIN channels c ON c.channel_id = s.channel_id
		WHERE s.user_id = ?
		ORDER BY c.name
	`
	rows, err := d.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan channel name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subscriptions: %w", err)
	}
	return names, nil
}

// ListValidSubscribers returns every valid user subscribed to the channel,
// in stable user id order.
func (d *Database) ListValidSubscribers(ctx context.Context, channelName string) ([]models.User, error) {
	query := `
		SELECT u.user_id, u.registration_token, u.first_seen, u.last_seen, u.valid
		FROM users u
		JOIN subscriptions s ON s.user_id = u.user_id
		JOIN channels c ON c.channel_id = s.channel_id
		WHERE c.name = ? AND u.valid = 1
		ORDER BY u.user_id
	`
	rows, err := d.db.QueryContext(ctx, query, channelName)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscribers: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var user models.User
		var encToken string
		if err := rows.Scan(&user.ID, &encToken, &user.FirstSeen, &user.LastSeen, &user.Valid); err != nil {
			return nil, fmt.Errorf("failed to scan subscriber: %w", err)
		}
		user.RegistrationToken, err = d.encryptor.DecryptIfEnabled(encToken)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt registration token: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subscribers: %w", err)
	}
	return users, nil
}

// CopySubscriptions unions the source user's subscriptions onto the target
// user, ignoring edges the target already has. Used during identifier
// rotation.
func (d *Database) CopySubscriptions(ctx context.Context, fromUserID, toUserID int64) error {
	query := `
		INSERT OR IGNORE INTO subscriptions (user_id, channel_id)
		SELECT ?, channel_id FROM subscriptions WHERE user_id = ?
	`
	if _, err := d.db.ExecContext(ctx, query, toUserID, fromUserID); err != nil {
		return fmt.Errorf("failed to copy subscriptions: %w", err)
	}
	return nil
}
