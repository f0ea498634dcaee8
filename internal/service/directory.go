package service

import (
	"context"
	"fmt"

	"pushrelay/internal/database"
	apperrors "pushrelay/internal/errors"
	"pushrelay/internal/models"

	"github.com/sirupsen/logrus"
)

// Directory resolves device tokens to users and manages channel
// subscriptions. It is a stateless layer over the store: every call
// re-reads, so validity and subscription data are never acted on stale.
type Directory struct {
	db     *database.Database
	logger *logrus.Logger
}

func NewDirectory(db *database.Database, logger *logrus.Logger) *Directory {
	return &Directory{
		db:     db,
		logger: logger,
	}
}

// RegisterDevice upserts the user for a device token. Idempotent; the
// returned user is always valid. Re-registration doubles as the device's
// "seen again" heartbeat.
func (d *Directory) RegisterDevice(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, apperrors.NewMissingParameterError("token")
	}

	user, err := d.db.UpsertUser(ctx, token)
	if err != nil {
		return nil, apperrors.NewStorageError("register device", err)
	}
	return user, nil
}

// ResolveUser finds a single valid user matching the filter. At least one
// selector is required. A token selector implicitly registers the device
// first, so lookups also refresh last_seen.
func (d *Directory) ResolveUser(ctx context.Context, filter database.UserFilter) (*models.User, error) {
	if filter.Token == nil && filter.UserID == nil && filter.Channel == nil {
		return nil, apperrors.NewMissingSelectorError()
	}

	if filter.Token != nil {
		if _, err := d.RegisterDevice(ctx, *filter.Token); err != nil {
			return nil, err
		}
	}

	user, err := d.db.GetUser(ctx, filter)
	if err != nil {
		return nil, apperrors.NewStorageError("resolve user", err)
	}
	if user == nil {
		return nil, apperrors.NewNotFoundError("user", filterDescription(filter))
	}
	return user, nil
}

func filterDescription(filter database.UserFilter) string {
	switch {
	case filter.Token != nil:
		return "token " + SanitizeToken(*filter.Token)
	case filter.UserID != nil:
		return fmt.Sprintf("id %d", *filter.UserID)
	case filter.Channel != nil:
		return "channel " + *filter.Channel
	}
	return "unknown selector"
}

// Subscribe adds the user identified by token to a channel, creating the
// channel if it does not exist yet. Returns whether a new subscription edge
// was created; resubscribing is a no-op.
func (d *Directory) Subscribe(ctx context.Context, token, channelName string) (bool, error) {
	if channelName == "" {
		return false, apperrors.NewMissingParameterError("channel")
	}

	user, err := d.ResolveUser(ctx, database.UserFilter{Token: &token})
	if err != nil {
		return false, err
	}

	channelID, err := d.db.EnsureChannel(ctx, channelName)
	if err != nil {
		return false, apperrors.NewStorageError("ensure channel", err)
	}

	created, err := d.db.AddSubscription(ctx, user.ID, channelID)
	if err != nil {
		return false, apperrors.NewStorageError("subscribe", err)
	}

	d.logger.WithFields(logrus.Fields{
		LogFieldChannel: channelName,
		"user_id":       user.ID,
		"created":       created,
	}).Debug("Subscription updated")

	return created, nil
}

// Unsubscribe removes the subscription edge. Unsubscribing from a channel
// the user never joined is a no-op.
func (d *Directory) Unsubscribe(ctx context.Context, token, channelName string) error {
	if channelName == "" {
		return apperrors.NewMissingParameterError("channel")
	}

	user, err := d.ResolveUser(ctx, database.UserFilter{Token: &token})
	if err != nil {
		return err
	}

	channelID, err := d.db.EnsureChannel(ctx, channelName)
	if err != nil {
		return apperrors.NewStorageError("ensure channel", err)
	}

	if err := d.db.RemoveSubscription(ctx, user.ID, channelID); err != nil {
		return apperrors.NewStorageError("unsubscribe", err)
	}
	return nil
}

// ListSubscriptions returns the channel names the device is subscribed to.
func (d *Directory) ListSubscriptions(ctx context.Context, token string) ([]string, error) {
	user, err := d.ResolveUser(ctx, database.UserFilter{Token: &token})
	if err != nil {
		return nil, err
	}

	channels, err := d.db.ListSubscriptionChannels(ctx, user.ID)
	if err != nil {
		return nil, apperrors.NewStorageError("list subscriptions", err)
	}
	return channels, nil
}

// ListValidSubscribers returns every valid user subscribed to the channel.
func (d *Directory) ListValidSubscribers(ctx context.Context, channelName string) ([]models.User, error) {
	if channelName == "" {
		return nil, apperrors.NewMissingParameterError("channel")
	}

	users, err := d.db.ListValidSubscribers(ctx, channelName)
	if err != nil {
		return nil, apperrors.NewStorageError("list subscribers", err)
	}
	return users, nil
}

// RotateIdentifier mirrors a gateway-initiated token replacement locally:
// the new token is registered (created or revalidated), the old user's
// subscriptions are unioned onto the new user, and the old user is marked
// invalid. Recipient rows already materialized for the old user are
// untouched; they are historical record.
func (d *Directory) RotateIdentifier(ctx context.Context, oldToken, newToken string) error {
	if oldToken == "" || newToken == "" {
		return apperrors.NewMissingParameterError("token")
	}

	newUser, err := d.RegisterDevice(ctx, newToken)
	if err != nil {
		return err
	}

	// Registering the old token first matches the lookup-registers contract:
	// the old user row is revalidated just long enough to be found, then
	// invalidated below.
	oldUser, err := d.RegisterDevice(ctx, oldToken)
	if err != nil {
		return err
	}

	if err := d.db.CopySubscriptions(ctx, oldUser.ID, newUser.ID); err != nil {
		return apperrors.NewStorageError("copy subscriptions", err)
	}

	if err := d.db.SetUserValidity(ctx, oldUser.ID, false); err != nil {
		return apperrors.NewStorageError("invalidate rotated user", err)
	}

	d.logger.WithFields(logrus.Fields{
		"old_token": SanitizeToken(oldToken),
		"new_token": SanitizeToken(newToken),
	}).Info("Registration token rotated")

	return nil
}

// InvalidateToken marks the user behind a token invalid, excluding it from
// all future subscriber lookups. The row itself is kept.
func (d *Directory) InvalidateToken(ctx context.Context, token string) error {
	if err := d.db.SetUserValidityByToken(ctx, token, false); err != nil {
		return apperrors.NewStorageError("invalidate token", err)
	}
	return nil
}
