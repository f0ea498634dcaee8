package migrations

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func TestApplyCreatesSchema(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, Apply(ctx, db))

	for _, table := range []string{"users", "channels", "subscriptions", "messages", "recipients", "schema_history"} {
		var name string
		err := db.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, Apply(ctx, db))
	// A second run must skip every recorded statement; bare CREATE TABLE
	// would fail if re-executed.
	require.NoError(t, Apply(ctx, db))

	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_history").Scan(&count))
	assert.Equal(t, len(Statements), count)
}

func TestApplyRecordsEachStatement(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, Apply(ctx, db))

	for _, statement := range Statements {
		var one int
		err := db.QueryRowContext(ctx,
			"SELECT 1 FROM schema_history WHERE statement = ?", statement).Scan(&one)
		require.NoError(t, err)
	}
}
