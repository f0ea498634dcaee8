package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptorDisabledPassthrough(t *testing.T) {
	t.Setenv("PUSHRELAY_ENABLE_ENCRYPTION", "false")

	enc, err := NewEncryptor()
	require.NoError(t, err)

	out, err := enc.EncryptIfEnabled("plaintext")
	require.NoError(t, err)
	assert.Equal(t, "plaintext", out)

	out, err = enc.DecryptIfEnabled("plaintext")
	require.NoError(t, err)
	assert.Equal(t, "plaintext", out)
}

func TestEncryptorRequiresSecret(t *testing.T) {
	t.Setenv("PUSHRELAY_ENABLE_ENCRYPTION", "true")
	t.Setenv("PUSHRELAY_ENCRYPTION_SECRET", "")

	_, err := NewEncryptor()
	assert.Error(t, err)
}

func TestEncryptorRejectsShortSecret(t *testing.T) {
	t.Setenv("PUSHRELAY_ENABLE_ENCRYPTION", "true")
	t.Setenv("PUSHRELAY_ENCRYPTION_SECRET", "too-short")

	_, err := NewEncryptor()
	assert.Error(t, err)
}

func TestEncryptorRoundTrip(t *testing.T) {
	t.Setenv("PUSHRELAY_ENABLE_ENCRYPTION", "true")
	t.Setenv("PUSHRELAY_ENCRYPTION_SECRET", "this-is-a-very-long-test-secret-key-for-testing")

	enc, err := NewEncryptor()
	require.NoError(t, err)

	ciphertext, err := enc.Encrypt("registration-token-123")
	require.NoError(t, err)
	assert.NotEqual(t, "registration-token-123", ciphertext)

	plaintext, err := enc.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "registration-token-123", plaintext)

	// Random nonces: two encryptions of the same value differ.
	other, err := enc.Encrypt("registration-token-123")
	require.NoError(t, err)
	assert.NotEqual(t, ciphertext, other)
}

func TestEncryptForLookupIsDeterministic(t *testing.T) {
	t.Setenv("PUSHRELAY_ENABLE_ENCRYPTION", "true")
	t.Setenv("PUSHRELAY_ENCRYPTION_SECRET", "this-is-a-very-long-test-secret-key-for-testing")

	enc, err := NewEncryptor()
	require.NoError(t, err)

	first, err := enc.EncryptForLookup("registration-token-123")
	require.NoError(t, err)
	second, err := enc.EncryptForLookup("registration-token-123")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	different, err := enc.EncryptForLookup("registration-token-456")
	require.NoError(t, err)
	assert.NotEqual(t, first, different)

	plaintext, err := enc.Decrypt(first)
	require.NoError(t, err)
	assert.Equal(t, "registration-token-123", plaintext)
}

func TestEncryptorRejectsGarbage(t *testing.T) {
	t.Setenv("PUSHRELAY_ENABLE_ENCRYPTION", "true")
	t.Setenv("PUSHRELAY_ENCRYPTION_SECRET", "this-is-a-very-long-test-secret-key-for-testing")

	enc, err := NewEncryptor()
	require.NoError(t, err)

	_, err = enc.Decrypt("not-base64!!!")
	assert.Error(t, err)

	_, err = enc.Decrypt("c2hvcnQ=")
	assert.Error(t, err)
}

func TestEncryptedStoreRoundTrip(t *testing.T) {
	t.Setenv("PUSHRELAY_ENABLE_ENCRYPTION", "true")
	t.Setenv("PUSHRELAY_ENCRYPTION_SECRET", "this-is-a-very-long-test-secret-key-for-testing")

	db := setupTestDB(t)
	ctx := context.Background()

	user, err := db.UpsertUser(ctx, "secret-token")
	require.NoError(t, err)
	assert.Equal(t, "secret-token", user.RegistrationToken)

	// The stored column must not contain the plaintext token.
	var stored string
	require.NoError(t, db.db.QueryRowContext(ctx,
		"SELECT registration_token FROM users WHERE user_id = ?", user.ID).Scan(&stored))
	assert.NotEqual(t, "secret-token", stored)

	again, err := db.UpsertUser(ctx, "secret-token")
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID)
}
