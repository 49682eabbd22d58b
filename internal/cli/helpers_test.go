package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/orq/internal/store"
	"github.com/roach88/orq/internal/testutil"
)

// writeMapping writes the fixture mapping into a temp dir and returns its
// path.
func writeMapping(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mapping.cue")
	require.NoError(t, os.WriteFile(path, []byte(testutil.MappingCUE), 0o644))
	return path
}

// seededDB creates a SQLite file with the fixture schema and rows.
func seededDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orq.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background(), testutil.SchemaSQL, testutil.SeedSQL))
	require.NoError(t, st.Close())
	return path
}

// runCommand runs cmd with args and returns stdout.
func runCommand(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}
