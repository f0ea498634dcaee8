package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeToken(t *testing.T) {
	tests := []struct {
		name     string
		token    string
		expected string
	}{
		{"empty", "", ""},
		{"short token fully masked", "abcdefgh", "***"},
		{"long token keeps edges", "abcd1234efgh5678", "abcd...5678"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeToken(tt.token))
		})
	}
}

func TestIsVerboseLogging(t *testing.T) {
	ctx := context.Background()
	assert.False(t, IsVerboseLogging(ctx))

	ctx = context.WithValue(ctx, VerboseContextKey, true)
	assert.True(t, IsVerboseLogging(ctx))

	ctx = context.WithValue(context.Background(), VerboseContextKey, "true")
	assert.False(t, IsVerboseLogging(ctx))
}
