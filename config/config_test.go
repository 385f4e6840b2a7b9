package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Engine.Workers)
	assert.Equal(t, 16, cfg.Engine.Shards)
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.RegexTimeout)
	assert.Equal(t, time.Hour, cfg.Suppression.Interval)
	assert.False(t, cfg.Suppression.Redis.Enabled)
	assert.Equal(t, 3, cfg.Notify.MaxRetries)
	assert.Equal(t, 8081, cfg.API.Port)
	assert.False(t, cfg.Storage.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "argus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
engine:
  workers: 4
  shards: 8
suppression:
  interval: 10m
api:
  port: 9999
logging:
  level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Engine.Workers)
	assert.Equal(t, 8, cfg.Engine.Shards)
	assert.Equal(t, 10*time.Minute, cfg.Suppression.Interval)
	assert.Equal(t, 9999, cfg.API.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// untouched keys keep defaults
	assert.Equal(t, 1024, cfg.Engine.QueueSize)
}

func TestLoadRejectsBadFile(t *testing.T) {
	_, err := Load("/nonexistent/argus.yaml")
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Engine.Workers = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateCrossFieldChecks(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Notify.InitialBackoff = time.Second
	cfg.Notify.MaxBackoff = time.Millisecond
	assert.Error(t, cfg.Validate())

	cfg, _ = Load("")
	cfg.Suppression.Redis.Enabled = true
	cfg.Suppression.Redis.Addr = ""
	assert.Error(t, cfg.Validate())
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ARGUS_LOGGING_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
}
