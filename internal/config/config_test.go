package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	lberrors "github.com/mir00r/domain-router/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	opts := cfg.CompilerOptions()
	assert.Equal(t, ":80", opts.HTTPBind)
	assert.Equal(t, "127.0.0.1:8080", opts.System.HTTPAddress)
	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Address())
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9191
store:
  type: memory
haproxy:
  config_path: /tmp/haproxy.cfg
  apply_timeout: 5s
system_backend:
  http_address: 127.0.0.1:3000
logging:
  level: debug
`)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Equal(t, 5*time.Second, cfg.HAProxy.ApplyTimeout)
	assert.Equal(t, "127.0.0.1:3000", cfg.SystemBackend.HTTPAddress)
	assert.Equal(t, "127.0.0.1:8443", cfg.SystemBackend.HTTPSAddress, "unset keys keep defaults")
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "haproxy -c -f {file}", cfg.HAProxy.CheckCommand)
}

func TestLoadFromFileRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "server:\n  prot: 80\n")
	_, err := LoadFromFile(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }},
		{"admin path", func(c *Config) { c.Admin.Path = "api" }},
		{"rate limit", func(c *Config) { c.Admin.RateLimit.BurstSize = 0 }},
		{"short secret", func(c *Config) { c.Admin.Auth.Enabled = true; c.Admin.Auth.Secret = "short" }},
		{"store type", func(c *Config) { c.Store.Type = "etcd" }},
		{"store dir", func(c *Config) { c.Store.Directory = " " }},
		{"config path", func(c *Config) { c.HAProxy.ConfigPath = "" }},
		{"system backend", func(c *Config) { c.SystemBackend.HTTPSAddress = "" }},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"log output", func(c *Config) { c.Logging.Output = "syslog" }},
		{"metrics path", func(c *Config) { c.Metrics.Path = "metrics" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9191\n")
	t.Setenv("DR_SERVER_PORT", "7070")
	t.Setenv("DR_STORE_TYPE", "memory")
	t.Setenv("DR_HAPROXY_APPLY_TIMEOUT", "2m")
	t.Setenv("DR_ADMIN_RATE_LIMIT_ENABLED", "false")
	t.Setenv("DR_LOG_LEVEL", "warn")
	t.Setenv("DR_METRICS_ENABLED", "not-a-bool")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Equal(t, 2*time.Minute, cfg.HAProxy.ApplyTimeout)
	assert.False(t, cfg.Admin.RateLimit.Enabled)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.True(t, cfg.Metrics.Enabled, "malformed values are ignored")
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, lberrors.HasCode(err, lberrors.ErrCodeConfigLoad))

	t.Setenv("DR_LOG_FORMAT", "xml")
	_, err = LoadConfig("")
	assert.True(t, lberrors.HasCode(err, lberrors.ErrCodeConfigLoad))
}

func TestLoadConfigWithoutFile(t *testing.T) {
	t.Setenv("DR_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server.Port, cfg.Server.Port)
}

func TestSaveToFileRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Type = "memory"
	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
