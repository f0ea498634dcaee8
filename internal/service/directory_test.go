package service

import (
	"context"
	"path/filepath"
	"testing"

	"pushrelay/internal/database"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDirectory(t *testing.T) *Directory {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger, _ := test.NewNullLogger()
	return NewDirectory(db, logger)
}

func TestRegisterDevice(t *testing.T) {
	d := setupDirectory(t)
	ctx := context.Background()

	user, err := d.RegisterDevice(ctx, "token-a")
	require.NoError(t, err)
	assert.True(t, user.Valid)

	again, err := d.RegisterDevice(ctx, "token-a")
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID)

	_, err = d.RegisterDevice(ctx, "")
	assert.Error(t, err)
}

func TestResolveUser(t *testing.T) {
	d := setupDirectory(t)
	ctx := context.Background()

	t.Run("no selector", func(t *testing.T) {
		_, err := d.ResolveUser(ctx, database.UserFilter{})
		assert.Error(t, err)
	})

	t.Run("token lookup registers implicitly", func(t *testing.T) {
		token := "fresh-token"
		user, err := d.ResolveUser(ctx, database.UserFilter{Token: &token})
		require.NoError(t, err)
		assert.Equal(t, "fresh-token", user.RegistrationToken)
	})

	t.Run("unknown id not found", func(t *testing.T) {
		id := int64(9999)
		_, err := d.ResolveUser(ctx, database.UserFilter{UserID: &id})
		assert.Error(t, err)
	})
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	d := setupDirectory(t)
	ctx := context.Background()

	created, err := d.Subscribe(ctx, "token-a", "news")
	require.NoError(t, err)
	assert.True(t, created)

	// Resubscribing is a no-op.
	created, err = d.Subscribe(ctx, "token-a", "news")
	require.NoError(t, err)
	assert.False(t, created)

	_, err = d.Subscribe(ctx, "token-a", "sports")
	require.NoError(t, err)

	channels, err := d.ListSubscriptions(ctx, "token-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"news", "sports"}, channels)

	require.NoError(t, d.Unsubscribe(ctx, "token-a", "sports"))

	channels, err = d.ListSubscriptions(ctx, "token-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"news"}, channels)

	// Unsubscribing from a channel the user never joined is a no-op.
	require.NoError(t, d.Unsubscribe(ctx, "token-a", "weather"))

	_, err = d.Subscribe(ctx, "token-a", "")
	assert.Error(t, err)
}

func TestListValidSubscribers(t *testing.T) {
	d := setupDirectory(t)
	ctx := context.Background()

	_, err := d.Subscribe(ctx, "token-a", "news")
	require.NoError(t, err)
	_, err = d.Subscribe(ctx, "token-b", "news")
	require.NoError(t, err)

	subscribers, err := d.ListValidSubscribers(ctx, "news")
	require.NoError(t, err)
	assert.Len(t, subscribers, 2)

	require.NoError(t, d.InvalidateToken(ctx, "token-b"))

	subscribers, err = d.ListValidSubscribers(ctx, "news")
	require.NoError(t, err)
	require.Len(t, subscribers, 1)
	assert.Equal(t, "token-a", subscribers[0].RegistrationToken)
}

func TestRotateIdentifier(t *testing.T) {
	d := setupDirectory(t)
	ctx := context.Background()

	_, err := d.Subscribe(ctx, "token-old", "news")
	require.NoError(t, err)
	_, err = d.Subscribe(ctx, "token-old", "sports")
	require.NoError(t, err)
	// The new token already exists with its own subscription.
	_, err = d.Subscribe(ctx, "token-new", "weather")
	require.NoError(t, err)

	require.NoError(t, d.RotateIdentifier(ctx, "token-old", "token-new"))

	// The new token carries the union of both subscription sets.
	channels, err := d.ListSubscriptions(ctx, "token-new")
	require.NoError(t, err)
	assert.Equal(t, []string{"news", "sports", "weather"}, channels)

	// The old token is out of every subscriber list.
	for _, channel := range []string{"news", "sports"} {
		subscribers, err := d.ListValidSubscribers(ctx, channel)
		require.NoError(t, err)
		require.Len(t, subscribers, 1)
		assert.Equal(t, "token-new", subscribers[0].RegistrationToken)
	}
}

func TestRotateIdentifierUnseenOldToken(t *testing.T) {
	d := setupDirectory(t)
	ctx := context.Background()

	// Rotation where the old token was never registered still lands the new
	// token in a valid state.
	require.NoError(t, d.RotateIdentifier(ctx, "never-seen", "token-new"))

	user, err := d.RegisterDevice(ctx, "token-new")
	require.NoError(t, err)
	assert.True(t, user.Valid)

	assert.Error(t, d.RotateIdentifier(ctx, "", "token-new"))
}

func TestInvalidateToken(t *testing.T) {
	d := setupDirectory(t)
	ctx := context.Background()

	_, err := d.RegisterDevice(ctx, "token-a")
	require.NoError(t, err)

	require.NoError(t, d.InvalidateToken(ctx, "token-a"))
	assert.Error(t, d.InvalidateToken(ctx, "never-seen"))

	// Re-registration revives the invalidated token.
	user, err := d.RegisterDevice(ctx, "token-a")
	require.NoError(t, err)
	assert.True(t, user.Valid)
}
