package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrateUpIsRepeatable(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, MigrateUp(db))
	require.NoError(t, MigrateUp(db))

	version, dirty, err := MigrateVersion(db)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='observations'`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestTransactionRollsBack(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, MigrateUp(db))

	sentinel := errors.New("boom")
	err := Transaction(context.Background(), db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO feature_flags (organization_id, key, enabled, updated_at) VALUES ('org', 'k', 1, CURRENT_TIMESTAMP)`)
		require.NoError(t, err)
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM feature_flags`).Scan(&count))
	assert.Zero(t, count)
}
