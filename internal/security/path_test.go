package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateFilePath(t *testing.T) {
	tests := []struct {
		name        string
		path        string
		expectError bool
	}{
		{"relative path", "relay.db", false},
		{"absolute path", "/var/lib/pushrelay/relay.db", false},
		{"empty path", "", true},
		{"traversal", "../../etc/passwd", true},
		{"hidden traversal", "data/../../secret", true},
		{"dot segments that clean away", "data/./relay.db", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFilePath(tt.path)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
