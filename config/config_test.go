package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, 30*time.Second, cfg.Collab.LeaseTTL)
	assert.Equal(t, ":8080", cfg.Gateway.Addr)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
  format: json
storage:
  driver: sqlite
  path: /var/lib/fabula/flows.db
collab:
  lease_ttl: 45s
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, "/var/lib/fabula/flows.db", cfg.Storage.Path)
	assert.Equal(t, 45*time.Second, cfg.Collab.LeaseTTL)
	// Untouched sections keep defaults
	assert.Equal(t, ":8080", cfg.Gateway.Addr)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FABULA_STORAGE_DRIVER", "nats")
	t.Setenv("FABULA_STORAGE_BUCKET", "flows-test")
	t.Setenv("FABULA_NATS_URL", "nats://broker:4222")
	t.Setenv("FABULA_COLLAB_LEASE_TTL", "1m")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DriverNATS, cfg.Storage.Driver)
	assert.Equal(t, "flows-test", cfg.Storage.Bucket)
	assert.Equal(t, "nats://broker:4222", cfg.NATS.URL)
	assert.Equal(t, time.Minute, cfg.Collab.LeaseTTL)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Storage.Driver = "postgres" }},
		{"nats driver without url", func(c *Config) { c.Storage.Driver = DriverNATS }},
		{"sqlite driver without path", func(c *Config) {
			c.Storage.Driver = DriverSQLite
			c.Storage.Path = ""
		}},
		{"relay without url", func(c *Config) { c.NATS.EnableRelay = true }},
		{"zero lease ttl", func(c *Config) { c.Collab.LeaseTTL = 0 }},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/no/such/config.yaml")
	assert.Error(t, err)
}
