package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *Database {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := New(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func TestNewDatabase(t *testing.T) {
	tests := []struct {
		name        string
		setupPath   func(t *testing.T) string
		expectError bool
	}{
		{
			name: "valid path",
			setupPath: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "test.db")
			},
		},
		{
			name: "empty path",
			setupPath: func(t *testing.T) string {
				return ""
			},
			expectError: true,
		},
		{
			name: "path with null byte",
			setupPath: func(t *testing.T) string {
				return "\x00invalid"
			},
			expectError: true,
		},
		{
			name: "path traversal",
			setupPath: func(t *testing.T) string {
				return "../../../etc/passwd.db"
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, err := New(tt.setupPath(t))
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, db.Close())
		})
	}
}

func TestUpsertUser(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	user, err := db.UpsertUser(ctx, "token-a")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "token-a", user.RegistrationToken)
	assert.True(t, user.Valid)
	assert.False(t, user.FirstSeen.IsZero())

	again, err := db.UpsertUser(ctx, "token-a")
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID)
	assert.True(t, again.LastSeen.After(again.FirstSeen) || again.LastSeen.Equal(again.FirstSeen))

	other, err := db.UpsertUser(ctx, "token-b")
	require.NoError(t, err)
	assert.NotEqual(t, user.ID, other.ID)
}

func TestUpsertUserRevalidates(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	user, err := db.UpsertUser(ctx, "token-a")
	require.NoError(t, err)

	require.NoError(t, db.SetUserValidity(ctx, user.ID, false))

	got, err := db.GetUser(ctx, UserFilter{UserID: &user.ID})
	require.NoError(t, err)
	assert.Nil(t, got)

	revived, err := db.UpsertUser(ctx, "token-a")
	require.NoError(t, err)
	assert.Equal(t, user.ID, revived.ID)
	assert.True(t, revived.Valid)
}

func TestGetUser(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	user, err := db.UpsertUser(ctx, "token-a")
	require.NoError(t, err)

	channelID, err := db.EnsureChannel(ctx, "news")
	require.NoError(t, err)
	_, err = db.AddSubscription(ctx, user.ID, channelID)
	require.NoError(t, err)

	token := "token-a"
	channel := "news"

	t.Run("by token", func(t *testing.T) {
		got, err := db.GetUser(ctx, UserFilter{Token: &token})
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, user.ID, got.ID)
	})

	t.Run("by id", func(t *testing.T) {
		got, err := db.GetUser(ctx, UserFilter{UserID: &user.ID})
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "token-a", got.RegistrationToken)
	})

	t.Run("by token and channel", func(t *testing.T) {
		got, err := db.GetUser(ctx, UserFilter{Token: &token, Channel: &channel})
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, user.ID, got.ID)
	})

	t.Run("channel mismatch", func(t *testing.T) {
		wrong := "sports"
		got, err := db.GetUser(ctx, UserFilter{Token: &token, Channel: &wrong})
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("unknown token", func(t *testing.T) {
		unknown := "never-seen"
		got, err := db.GetUser(ctx, UserFilter{Token: &unknown})
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("empty filter", func(t *testing.T) {
		_, err := db.GetUser(ctx, UserFilter{})
		assert.Error(t, err)
	})
}

func TestSetUserValidity(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	user, err := db.UpsertUser(ctx, "token-a")
	require.NoError(t, err)

	require.NoError(t, db.SetUserValidity(ctx, user.ID, false))
	assert.Error(t, db.SetUserValidity(ctx, 9999, false))

	require.NoError(t, db.SetUserValidityByToken(ctx, "token-a", true))
	assert.Error(t, db.SetUserValidityByToken(ctx, "never-seen", false))
}

func TestEnsureChannel(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first, err := db.EnsureChannel(ctx, "news")
	require.NoError(t, err)

	second, err := db.EnsureChannel(ctx, "news")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	other, err := db.EnsureChannel(ctx, "sports")
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

func TestSubscriptions(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	user, err := db.UpsertUser(ctx, "token-a")
	require.NoError(t, err)
	newsID, err := db.EnsureChannel(ctx, "news")
	require.NoError(t, err)
	sportsID, err := db.EnsureChannel(ctx, "sports")
	require.NoError(t, err)

	created, err := db.AddSubscription(ctx, user.ID, newsID)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = db.AddSubscription(ctx, user.ID, newsID)
	require.NoError(t, err)
	assert.False(t, created)

	_, err = db.AddSubscription(ctx, user.ID, sportsID)
	require.NoError(t, err)

	channels, err := db.ListSubscriptionChannels(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"news", "sports"}, channels)

	require.NoError(t, db.RemoveSubscription(ctx, user.ID, sportsID))
	channels, err = db.ListSubscriptionChannels(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"news"}, channels)

	// Removing an absent edge is a no-op.
	require.NoError(t, db.RemoveSubscription(ctx, user.ID, sportsID))
}

func TestListValidSubscribers(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	alice, err := db.UpsertUser(ctx, "token-alice")
	require.NoError(t, err)
	bob, err := db.UpsertUser(ctx, "token-bob")
	require.NoError(t, err)

	channelID, err := db.EnsureChannel(ctx, "news")
	require.NoError(t, err)
	_, err = db.AddSubscription(ctx, alice.ID, channelID)
	require.NoError(t, err)
	_, err = db.AddSubscription(ctx, bob.ID, channelID)
	require.NoError(t, err)

	subscribers, err := db.ListValidSubscribers(ctx, "news")
	require.NoError(t, err)
	require.Len(t, subscribers, 2)
	assert.Equal(t, "token-alice", subscribers[0].RegistrationToken)
	assert.Equal(t, "token-bob", subscribers[1].RegistrationToken)

	require.NoError(t, db.SetUserValidity(ctx, bob.ID, false))

	subscribers, err = db.ListValidSubscribers(ctx, "news")
	require.NoError(t, err)
	require.Len(t, subscribers, 1)
	assert.Equal(t, alice.ID, subscribers[0].ID)

	subscribers, err = db.ListValidSubscribers(ctx, "empty-channel")
	require.NoError(t, err)
	assert.Empty(t, subscribers)
}

func TestCopySubscriptions(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	src, err := db.UpsertUser(ctx, "token-old")
	require.NoError(t, err)
	dst, err := db.UpsertUser(ctx, "token-new")
	require.NoError(t, err)

	newsID, err := db.EnsureChannel(ctx, "news")
	require.NoError(t, err)
	sportsID, err := db.EnsureChannel(ctx, "sports")
	require.NoError(t, err)

	_, err = db.AddSubscription(ctx, src.ID, newsID)
	require.NoError(t, err)
	_, err = db.AddSubscription(ctx, src.ID, sportsID)
	require.NoError(t, err)
	// The target already has one overlapping edge.
	_, err = db.AddSubscription(ctx, dst.ID, newsID)
	require.NoError(t, err)

	require.NoError(t, db.CopySubscriptions(ctx, src.ID, dst.ID))

	channels, err := db.ListSubscriptionChannels(ctx, dst.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"news", "sports"}, channels)
}

func publishTestMessage(t *testing.T, db *Database, channel, body string, userIDs ...int64) int64 {
	t.Helper()
	ctx := context.Background()

	channelID, err := db.EnsureChannel(ctx, channel)
	require.NoError(t, err)
	messageID, err := db.InsertMessage(ctx, channelID, body, nil, false)
	require.NoError(t, err)
	require.NoError(t, db.InsertRecipients(ctx, messageID, userIDs))
	return messageID
}

func TestClaimDueMessages(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	alice, err := db.UpsertUser(ctx, "token-alice")
	require.NoError(t, err)
	bob, err := db.UpsertUser(ctx, "token-bob")
	require.NoError(t, err)

	messageID := publishTestMessage(t, db, "news", "hello", alice.ID, bob.ID)

	claimed, err := db.ClaimDueMessages(ctx, time.Now().UTC().Add(time.Second))
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, messageID, claimed[0].MessageID)
	assert.Equal(t, "hello", claimed[0].Body)
	assert.Equal(t, []string{"token-alice", "token-bob"}, claimed[0].RegistrationTokens)

	// A claimed message is never returned again.
	claimed, err = db.ClaimDueMessages(ctx, time.Now().UTC().Add(time.Second))
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestClaimDueMessagesSkipsWithoutValidRecipients(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	user, err := db.UpsertUser(ctx, "token-a")
	require.NoError(t, err)

	// No recipients at all.
	channelID, err := db.EnsureChannel(ctx, "news")
	require.NoError(t, err)
	_, err = db.InsertMessage(ctx, channelID, "orphan", nil, false)
	require.NoError(t, err)

	// All recipients invalid.
	withInvalid := publishTestMessage(t, db, "news", "stuck", user.ID)
	require.NoError(t, db.SetUserValidity(ctx, user.ID, false))

	claimed, err := db.ClaimDueMessages(ctx, time.Now().UTC().Add(time.Second))
	require.NoError(t, err)
	assert.Empty(t, claimed)

	// Revalidating the recipient makes the message claimable again: it was
	// skipped, not consumed.
	_, err = db.UpsertUser(ctx, "token-a")
	require.NoError(t, err)

	claimed, err = db.ClaimDueMessages(ctx, time.Now().UTC().Add(time.Second))
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, withInvalid, claimed[0].MessageID)
}

func TestClaimDueMessagesRespectsRetryAfter(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	user, err := db.UpsertUser(ctx, "token-a")
	require.NoError(t, err)
	publishTestMessage(t, db, "news", "later", user.ID)

	// Not yet due when queried with a time before insertion.
	claimed, err := db.ClaimDueMessages(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, claimed)

	claimed, err = db.ClaimDueMessages(ctx, time.Now().UTC().Add(time.Second))
	require.NoError(t, err)
	assert.Len(t, claimed, 1)
}

func TestClaimDueMessagesExcludesInvalidTokens(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	alice, err := db.UpsertUser(ctx, "token-alice")
	require.NoError(t, err)
	bob, err := db.UpsertUser(ctx, "token-bob")
	require.NoError(t, err)

	publishTestMessage(t, db, "news", "partial", alice.ID, bob.ID)
	require.NoError(t, db.SetUserValidity(ctx, bob.ID, false))

	claimed, err := db.ClaimDueMessages(ctx, time.Now().UTC().Add(time.Second))
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, []string{"token-alice"}, claimed[0].RegistrationTokens)
}

func TestRecordRecipientResult(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	user, err := db.UpsertUser(ctx, "token-a")
	require.NoError(t, err)
	messageID := publishTestMessage(t, db, "news", "hello", user.ID)

	gwMsgID := "1:abc"
	require.NoError(t, db.RecordRecipientResult(ctx, messageID, "token-a", &gwMsgID, nil, nil))

	gwError := "NotRegistered"
	require.NoError(t, db.RecordRecipientResult(ctx, messageID, "token-a", nil, nil, &gwError))

	// Unknown token matches no recipient row.
	assert.Error(t, db.RecordRecipientResult(ctx, messageID, "never-seen", &gwMsgID, nil, nil))
}

func TestDispatchMetadata(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	user, err := db.UpsertUser(ctx, "token-a")
	require.NoError(t, err)
	messageID := publishTestMessage(t, db, "news", "hello", user.ID)

	require.NoError(t, db.SetMulticastID(ctx, messageID, "5551212"))
	require.NoError(t, db.IncrementFailureCount(ctx, messageID))
	require.NoError(t, db.IncrementFailureCount(ctx, messageID))

	var multicastID string
	var failureCount int
	err = db.db.QueryRowContext(ctx,
		"SELECT multicast_id, failure_count FROM messages WHERE message_id = ?", messageID).
		Scan(&multicastID, &failureCount)
	require.NoError(t, err)
	assert.Equal(t, "5551212", multicastID)
	assert.Equal(t, 2, failureCount)
}

func TestRecentMessages(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	channelID, err := db.EnsureChannel(ctx, "news")
	require.NoError(t, err)
	for _, body := range []string{"first", "second", "third"} {
		_, err = db.InsertMessage(ctx, channelID, body, nil, false)
		require.NoError(t, err)
	}

	messages, err := db.RecentMessages(ctx, "news", 2)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "third", messages[0].Body)
	assert.Equal(t, "second", messages[1].Body)

	messages, err = db.RecentMessages(ctx, "unknown", 10)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestCleanupOldMessages(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	user, err := db.UpsertUser(ctx, "token-a")
	require.NoError(t, err)

	oldID := publishTestMessage(t, db, "news", "old", user.ID)
	freshID := publishTestMessage(t, db, "news", "fresh", user.ID)

	// Backdate and mark the old message as already dispatched.
	_, err = db.db.ExecContext(ctx,
		"UPDATE messages SET status = 'claimed', created_at = datetime('now', '-60 days') WHERE message_id = ?", oldID)
	require.NoError(t, err)

	require.NoError(t, db.CleanupOldMessages(ctx, 30))

	var count int
	require.NoError(t, db.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE message_id = ?", oldID).Scan(&count))
	assert.Zero(t, count)

	require.NoError(t, db.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM recipients WHERE message_id = ?", oldID).Scan(&count))
	assert.Zero(t, count)

	require.NoError(t, db.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE message_id = ?", freshID).Scan(&count))
	assert.Equal(t, 1, count)
}
