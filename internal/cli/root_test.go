package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "orq", cmd.Use)
	assert.Contains(t, cmd.Long, "CUE mapping")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"compile", "validate", "run", "test"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	require.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}

func TestQueryFlags(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"compile", "run"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		for _, flag := range []string{"param", "list", "fetch", "first", "max"} {
			assert.NotNil(t, sub.Flags().Lookup(flag), "%s --%s", name, flag)
		}
	}

	runCmd, _, err := cmd.Find([]string{"run"})
	require.NoError(t, err)
	assert.NotNil(t, runCmd.Flags().Lookup("db"))
	assert.NotNil(t, runCmd.Flags().Lookup("schema"))
}

func TestRootRejectsInvalidFormat(t *testing.T) {
	_, err := runCommand(t, NewRootCommand(), "--format", "xml", "validate", writeMapping(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestRootRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orq.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache:\n  region: redis\n"), 0o644))

	_, err := runCommand(t, NewRootCommand(), "--config", path, "validate", writeMapping(t))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "cache.region")
}

func TestRootRunsWithConfig(t *testing.T) {
	db := seededDB(t)
	path := filepath.Join(t.TempDir(), "orq.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  path: "+db+"\ncache:\n  region: memory\n"), 0o644))

	out, err := runCommand(t, NewRootCommand(), "--config", path, "run", writeMapping(t), "select p.name from Parent p order by p.name")
	require.NoError(t, err)
	assert.Equal(t, "\"p1\"\n\"p2\"\n2 result(s)\n", out)
}
