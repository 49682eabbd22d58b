package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/orq/internal/store"
)

// Store opens an in-memory store with SchemaSQL applied and SeedSQL
// inserted. It is closed when the test ends.
func Store(t testing.TB) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx, SchemaSQL))
	_, err = s.Exec(ctx, SeedSQL)
	require.NoError(t, err)
	return s
}
