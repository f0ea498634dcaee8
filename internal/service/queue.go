package service

import (
	"context"
	"time"

	"pushrelay/internal/database"
	apperrors "pushrelay/internal/errors"
	"pushrelay/internal/models"
	gatewaytypes "pushrelay/pkg/gateway/types"

	"github.com/sirupsen/logrus"
)

// Queue creates messages and hands pending ones to the dispatcher through
// the at-least-once claim protocol. Like the directory it holds no entity
// state of its own.
type Queue struct {
	db        *database.Database
	directory *Directory
	logger    *logrus.Logger
}

func NewQueue(db *database.Database, directory *Directory, logger *logrus.Logger) *Queue {
	return &Queue{
		db:        db,
		directory: directory,
		logger:    logger,
	}
}

// Publish queues a message for a channel and fans it out to the channel's
// valid subscribers as of this instant. Subscribers joining later do not
// receive it. Publishing to a channel with no subscribers succeeds with a
// zero recipient count.
func (q *Queue) Publish(ctx context.Context, channelName, body string, collapseKey *string, delayWhileIdle bool) (*models.PublishReceipt, error) {
	if channelName == "" {
		return nil, apperrors.NewMissingParameterError("channel")
	}
	if body == "" {
		return nil, apperrors.NewMissingParameterError("body")
	}

	channelID, err := q.db.EnsureChannel(ctx, channelName)
	if err != nil {
		return nil, apperrors.NewStorageError("ensure channel", err)
	}

	messageID, err := q.db.InsertMessage(ctx, channelID, body, collapseKey, delayWhileIdle)
	if err != nil {
		return nil, apperrors.NewStorageError("insert message", err)
	}

	subscribers, err := q.directory.ListValidSubscribers(ctx, channelName)
	if err != nil {
		return nil, err
	}

	userIDs := make([]int64, len(subscribers))
	for i, subscriber := range subscribers {
		userIDs[i] = subscriber.ID
	}
	if err := q.db.InsertRecipients(ctx, messageID, userIDs); err != nil {
		return nil, apperrors.NewStorageError("insert recipients", err)
	}

	q.logger.WithFields(logrus.Fields{
		LogFieldChannel:   channelName,
		LogFieldMessageID: messageID,
		"recipients":      len(subscribers),
	}).Info("Message published")

	return &models.PublishReceipt{
		MessageID:      messageID,
		RecipientCount: len(subscribers),
	}, nil
}

// ClaimDue atomically claims every due pending message and returns them
// with their recipient tokens. A claimed message is never returned again.
func (q *Queue) ClaimDue(ctx context.Context, now time.Time) ([]models.OutboundMessage, error) {
	claimed, err := q.db.ClaimDueMessages(ctx, now)
	if err != nil {
		return nil, apperrors.NewStorageError("claim due messages", err)
	}
	return claimed, nil
}

// RecordDispatchMetadata attaches the gateway's batch identifier to the
// message row for correlation.
func (q *Queue) RecordDispatchMetadata(ctx context.Context, messageID int64, multicastID string) error {
	if err := q.db.SetMulticastID(ctx, messageID, multicastID); err != nil {
		return apperrors.NewStorageError("record dispatch metadata", err)
	}
	return nil
}

// RecordDispatchFailure bumps the message's failure counter.
func (q *Queue) RecordDispatchFailure(ctx context.Context, messageID int64) error {
	if err := q.db.IncrementFailureCount(ctx, messageID); err != nil {
		return apperrors.NewStorageError("record dispatch failure", err)
	}
	return nil
}

// RecordRecipientResult persists the gateway's per-recipient outcome on the
// recipient row.
func (q *Queue) RecordRecipientResult(ctx context.Context, messageID int64, token string, result gatewaytypes.Result) error {
	var gatewayMessageID, gatewayRegistrationToken, gatewayError *string
	if result.MessageID != "" {
		gatewayMessageID = &result.MessageID
	}
	if result.RegistrationID != "" {
		gatewayRegistrationToken = &result.RegistrationID
	}
	if result.Error != "" {
		errString := string(result.Error)
		gatewayError = &errString
	}

	if err := q.db.RecordRecipientResult(ctx, messageID, token, gatewayMessageID, gatewayRegistrationToken, gatewayError); err != nil {
		return apperrors.NewStorageError("record recipient result", err)
	}
	return nil
}

// RecentMessages returns the newest messages published to a channel.
func (q *Queue) RecentMessages(ctx context.Context, channelName string, limit int) ([]models.RecentMessage, error) {
	if channelName == "" {
		return nil, apperrors.NewMissingParameterError("channel")
	}

	messages, err := q.db.RecentMessages(ctx, channelName, limit)
	if err != nil {
		return nil, apperrors.NewStorageError("list recent messages", err)
	}
	return messages, nil
}

// CleanupOldMessages removes claimed messages past the retention window.
func (q *Queue) CleanupOldMessages(ctx context.Context, retentionDays int) error {
	if err := q.db.CleanupOldMessages(ctx, retentionDays); err != nil {
		return apperrors.NewStorageError("cleanup old messages", err)
	}
	return nil
}
