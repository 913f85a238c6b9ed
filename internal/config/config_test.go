package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PARAMS_DATABASE_DRIVER", "postgres")
	t.Setenv("PARAMS_DATABASE_DSN", "postgres://localhost/params")
	t.Setenv("PARAMS_CACHE_TTL", "90s")
	t.Setenv("PARAMS_ACTIVITY_QUEUE_SIZE", "64")
	t.Setenv("PARAMS_WRITES_MAX_RETRIES", "5")

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, "postgres://localhost/params", cfg.Database.DSN)
	require.Equal(t, 90*time.Second, cfg.Cache.TTL)
	require.Equal(t, 64, cfg.Activity.QueueSize)
	require.Equal(t, 5, cfg.Writes.MaxRetries)
	require.Equal(t, "parameters", cfg.Activity.Channel)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  dsn: file:test.db
cache:
  ttl: 10m
  capacity: 500
log:
  format: json
seed_file: seed.yaml
`), 0o600))
	t.Setenv("PARAMS_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, "file:test.db", cfg.Database.DSN)
	require.Equal(t, 10*time.Minute, cfg.Cache.TTL)
	require.Equal(t, uint64(500), cfg.Cache.Capacity)
	require.Equal(t, "json", cfg.Log.Format)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "seed.yaml", cfg.SeedFile)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidateRejectsBadSettings(t *testing.T) {
	cfg := Default()
	cfg.Database.Driver = "mysql"
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Cache.TTL = 0
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Writes.MaxRetries = -1
	require.Error(t, cfg.Validate())
}
