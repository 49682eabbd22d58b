package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Mapping(t *testing.T) {
	out, err := runCommand(t, NewValidateCommand(&RootOptions{Format: "text"}), writeMapping(t))
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Mapping valid: 13 entit(ies), 0 quer(ies)")
}

func TestValidate_Queries(t *testing.T) {
	out, err := runCommand(t, NewValidateCommand(&RootOptions{Format: "json"}), writeMapping(t),
		"-q", "from Parent p where p.name = :n",
		"-q", "from Parent p where p.nope = 1",
		"-q", "from Nowhere x",
	)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	assert.Equal(t, 3, resp.Data.Queries)
	require.Len(t, resp.Data.Errors, 2)
	assert.Equal(t, "semantic.path.unresolved", resp.Data.Errors[0].Code)
	assert.Equal(t, "from Parent p where p.nope = 1", resp.Data.Errors[0].Query)
	assert.Equal(t, "semantic.entity.unresolved", resp.Data.Errors[1].Code)
}

func TestValidate_InvalidMapping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.cue")
	require.NoError(t, os.WriteFile(path, []byte(`
entities: Book: {
	table: "book"
	attributes: title: {column: "title", type: "string"}
}
`), 0o644))

	out, err := runCommand(t, NewValidateCommand(&RootOptions{Format: "text"}), path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, "metamodel.invalid")
	assert.Contains(t, out, "no identifier")
}

func TestValidate_CUESyntaxErrorHasPosition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.cue")
	require.NoError(t, os.WriteFile(path, []byte("entities: {\n\tBook: table: \"book\"\n\tBook: table: \"other\"\n}\n"), 0o644))

	out, err := runCommand(t, NewValidateCommand(&RootOptions{Format: "json"}), path)
	require.Error(t, err)

	var resp struct {
		Data ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data.Errors, 1)
	assert.Positive(t, resp.Data.Errors[0].Line)
}

func TestValidate_MissingMapping(t *testing.T) {
	_, err := runCommand(t, NewValidateCommand(&RootOptions{Format: "text"}), "/nonexistent/mapping.cue")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
