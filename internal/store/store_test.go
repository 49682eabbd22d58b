package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const schemaV1 = `CREATE TABLE item (id INTEGER PRIMARY KEY, name TEXT, data BLOB);`
const schemaV2 = `ALTER TABLE item ADD COLUMN rank INTEGER;`

func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background(), schemaV1))
	return s
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpen_AppliesPragmas(t *testing.T) {
	s := createTestStore(t)
	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("synchronous", "1"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
}

func TestOpen_InMemory(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx, schemaV1))
	n, err := s.Exec(ctx, "INSERT INTO item (id, name) VALUES (?, ?)", 1, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMigrate_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	require.NoError(t, s.Migrate(ctx, schemaV1))
	require.NoError(t, s.Migrate(ctx, schemaV1, schemaV2))
	require.NoError(t, s.Migrate(ctx, schemaV1, schemaV2))
	assert.NoError(t, s.verifyPragma("user_version", "2"))

	_, err := s.Exec(ctx, "INSERT INTO item (id, rank) VALUES (1, 3)")
	require.NoError(t, err)
}

func TestQuery_Values(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	_, err := s.Exec(ctx, "INSERT INTO item (id, name, data) VALUES (1, 'a', x'0102'), (2, NULL, NULL)")
	require.NoError(t, err)

	rows, err := s.Query(ctx, "SELECT id, name, data FROM item ORDER BY id")
	require.NoError(t, err)
	defer rows.Close()
	assert.Equal(t, 3, rows.Width())

	var got [][]any
	for rows.Next() {
		v, err := rows.Values()
		require.NoError(t, err)
		got = append(got, v)
	}
	require.NoError(t, rows.Err())

	require.Len(t, got, 2)
	assert.Equal(t, []any{int64(1), "a", []byte{1, 2}}, got[0])
	assert.Equal(t, []any{int64(2), nil, nil}, got[1])
}

func TestTx_CommitAndRollback(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Exec(ctx, "INSERT INTO item (id, name) VALUES (1, 'kept')")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Exec(ctx, "INSERT INTO item (id, name) VALUES (2, 'dropped')")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	rows, err := s.Query(ctx, "SELECT COUNT(*) FROM item")
	require.NoError(t, err)
	defer rows.Close()
	require.True(t, rows.Next())
	v, err := rows.Values()
	require.NoError(t, err)
	assert.Equal(t, int64(1), v[0])
}

func TestExec_ReportsErrors(t *testing.T) {
	s := createTestStore(t)
	_, err := s.Exec(context.Background(), "INSERT INTO missing VALUES (1)")
	assert.Error(t, err)
}
