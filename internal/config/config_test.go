package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 10*time.Minute, cfg.Engine.CacheTTL)
	assert.Equal(t, 256, cfg.Engine.CacheMaxEntries)
	assert.Equal(t, 30*time.Minute, cfg.Session.Timeout)
	assert.Equal(t, 100, cfg.Offline.MaxFaultCodes)
	assert.Equal(t, 20, cfg.Offline.MaxManuals)
	require.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SERVER_HTTP_PORT", "9999")
	t.Setenv("SESSION_TIMEOUT", "1h")
	t.Setenv("OFFLINE_MAX_MANUALS", "5")

	cfg := Load()

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, time.Hour, cfg.Session.Timeout)
	assert.Equal(t, 5, cfg.Offline.MaxManuals)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"bad level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }},
		{"zero ttl", func(c *Config) { c.Engine.CacheTTL = 0 }},
		{"zero session timeout", func(c *Config) { c.Session.Timeout = 0 }},
		{"zero offline cap", func(c *Config) { c.Offline.MaxFaultCodes = 0 }},
		{"empty storage dir", func(c *Config) { c.Storage.Dir = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadWithFile_YAMLLayering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "server:\n  http_port: 7070\nsession:\n  timeout: 45m\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 45*time.Minute, cfg.Session.Timeout)
	// Untouched fields keep defaults.
	assert.Equal(t, 256, cfg.Engine.CacheMaxEntries)
}

func TestLoadWithFile_MissingFile(t *testing.T) {
	_, err := LoadWithFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
