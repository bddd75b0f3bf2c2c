package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.False(t, cfg.Enabled, "persistence stays off until configured")
	assert.Equal(t, 10, cfg.MaxOpenConns)
	assert.Equal(t, 5, cfg.MaxIdleConns)
	assert.Equal(t, 30*time.Second, cfg.QueryTimeout)
}

func TestLoadConfigFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "database.yaml")
	body := []byte("database:\n  dsn: postgres://file/db\n  enabled: true\n  max_open_conns: 20\n")
	require.NoError(t, os.WriteFile(path, body, 0644))

	t.Setenv("PG_DSN", "postgres://env/db")
	t.Setenv("PG_QUERY_TIMEOUT", "5s")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://env/db", cfg.DSN, "env wins over file")
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 20, cfg.MaxOpenConns)
	assert.Equal(t, 5*time.Second, cfg.QueryTimeout)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Enabled = true
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DSN is required")

	cfg.DSN = "postgres://localhost/tomking"
	cfg.MaxIdleConns = cfg.MaxOpenConns + 1
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_idle_conns cannot exceed max_open_conns")
}

func TestSaveConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "database.yaml")

	cfg := DefaultConfig()
	cfg.DSN = "postgres://localhost/tomking?sslmode=disable"
	cfg.Enabled = true
	require.NoError(t, SaveConfig(cfg, path))

	back, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.DSN, back.DSN)
	assert.True(t, back.Enabled)
}

func TestDisabledManagerIsInert(t *testing.T) {
	mgr, err := NewManager(DefaultConfig())
	require.NoError(t, err)
	defer mgr.Close()

	assert.False(t, mgr.IsEnabled())
	assert.Nil(t, mgr.Repository())
	require.NoError(t, mgr.Health().Ping(context.Background()))

	health := mgr.Health().Health(context.Background())
	assert.True(t, health.Healthy)
}
