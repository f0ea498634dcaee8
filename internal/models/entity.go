package models

import (
	"time"
)

// MessageStatus tracks where a queued message is in its lifecycle.
// A message is claimed exactly once; there is no transition back to pending.
type MessageStatus string

const (
	MessageStatusPending MessageStatus = "pending"
	MessageStatusClaimed MessageStatus = "claimed"
)

// User is a registered device. RegistrationToken is the opaque identifier the
// push gateway issued to the device; it stays unique while the user is valid.
// Users are never deleted, only marked invalid once the gateway reports the
// token dead or superseded.
type User struct {
	ID                int64     `db:"user_id"`
	RegistrationToken string    `db:"registration_token"`
	FirstSeen         time.Time `db:"first_seen"`
	LastSeen          time.Time `db:"last_seen"`
	Valid             bool      `db:"valid"`
}

// Channel is a named pub/sub topic. Channels are created lazily on first
// reference and never deleted.
type Channel struct {
	ID   int64  `db:"channel_id"`
	Name string `db:"name"`
}

// Subscription is the many-to-many edge between users and channels.
type Subscription struct {
	UserID    int64 `db:"user_id"`
	ChannelID int64 `db:"channel_id"`
}

// Message is a queued payload addressed to a channel.
type Message struct {
	ID             int64         `db:"message_id"`
	ChannelID      int64         `db:"channel_id"`
	Body           string        `db:"body"`
	CollapseKey    *string       `db:"collapse_key"`
	DelayWhileIdle bool          `db:"delay_while_idle"`
	Status         MessageStatus `db:"status"`
	RetryAfter     time.Time     `db:"retry_after"`
	FailureCount   int           `db:"failure_count"`
	MulticastID    *string       `db:"multicast_id"`
	CreatedAt      time.Time     `db:"created_at"`
}

// Recipient is the join row materialized at publish time from the channel's
// subscriber set. The set is fixed once created; gateway outcome columns are
// filled in as per-recipient results come back.
type Recipient struct {
	MessageID                int64   `db:"message_id"`
	UserID                   int64   `db:"user_id"`
	GatewayError             *string `db:"gateway_error"`
	GatewayMessageID         *string `db:"gateway_message_id"`
	GatewayRegistrationToken *string `db:"gateway_registration_token"`
}

// OutboundMessage is one claimed message with its recipient tokens, in
// recipient join order. The token order is load-bearing: gateway results come
// back index-aligned with the tokens that were sent.
type OutboundMessage struct {
	MessageID          int64
	Body               string
	CollapseKey        *string
	DelayWhileIdle     bool
	RegistrationTokens []string
}

// PublishReceipt is returned to the producer so it can detect a publish that
// reached zero devices.
type PublishReceipt struct {
	MessageID      int64 `json:"message_id"`
	RecipientCount int   `json:"recipient_count"`
}

// RecentMessage is the read model for the channel history listing.
type RecentMessage struct {
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}
