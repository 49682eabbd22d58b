package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/orq/internal/config"
	"github.com/roach88/orq/internal/qerr"
)

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, ":memory:", cfg.Database.Path)
	assert.True(t, cfg.Query.PlanCache.Enabled)
	assert.Equal(t, 8, cfg.Query.MaxFetchDepth)
	assert.Equal(t, 100, cfg.Query.FetchBatchSize)
	assert.Equal(t, "none", cfg.Cache.Region)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "orq.yaml")

	content := `
database:
  path: "shop.db"
query:
  strict_parameters: true
  plan_cache:
    enabled: false
cache:
  region: "badger"
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "shop.db", cfg.Database.Path)
	assert.True(t, cfg.Query.StrictParameters)
	assert.False(t, cfg.Query.PlanCache.Enabled)
	assert.Equal(t, "badger", cfg.Cache.Region)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("ORQ_QUERY_MAX_FETCH_DEPTH", "3")
	t.Setenv("ORQ_LOG_LEVEL", "debug")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Query.MaxFetchDepth)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_ValidationCalledAtLoadTime(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "orq.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("cache:\n  region: \"redis\"\n"), 0o644))

	_, err := config.Load(cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache.region")
	assert.True(t, qerr.HasCode(err, qerr.CodeConfigInvalid))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := &config.Config{
		Query: config.QueryConfig{MaxFetchDepth: -1},
		Cache: config.CacheConfig{Region: "none"},
		Log:   config.LogConfig{Level: "loud", Format: "xml"},
	}
	errs := cfg.Validate()
	assert.Len(t, errs, 5)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l := config.NewLogger(config.LogConfig{Level: "info", Format: "json"}, &buf)
	l.Debug("hidden")
	l.Info("shown", "k", "v")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	l = config.NewLogger(config.LogConfig{Level: "nope", Format: "text"}, &buf)
	l.Info("dropped")
	l.Warn("kept")
	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "msg=kept")
}
