// ABOUTME: Tests for config loading: defaults, env expansion, durations, validation.
// ABOUTME: Uses temp-dir YAML files so no real config is touched.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "operator.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:4860", cfg.Server.HTTPAddr)
	assert.Equal(t, 30, cfg.Proxy.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Proxy.InitialBackoff)
	assert.Equal(t, 50, cfg.Sessions.HistoryCap)
}

func TestLoad_OverridesMergeOverDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "0.0.0.0:9999"
proxy:
  listen_addr: "127.0.0.1:4861"
  backend_url: "http://127.0.0.1:9999"
  max_retries: 5
  initial_backoff: 250ms
  max_backoff: 4s
sessions:
  history_cap: 10
  cleanup_timeout: 1h
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9999", cfg.Server.HTTPAddr)
	assert.Equal(t, 5, cfg.Proxy.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Proxy.InitialBackoff)
	assert.Equal(t, 4*time.Second, cfg.Proxy.MaxBackoff)
	assert.Equal(t, 10, cfg.Sessions.HistoryCap)
	assert.Equal(t, time.Hour, cfg.Sessions.CleanupTimeout)

	// Untouched fields keep their defaults.
	assert.Equal(t, 15*time.Minute, cfg.Proxy.BlockingTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("OPERATOR_TEST_ADDR", "10.0.0.5:8080")

	path := writeConfig(t, `
server:
  http_addr: "${OPERATOR_TEST_ADDR}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5:8080", cfg.Server.HTTPAddr)
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, `
proxy:
  initial_backoff: "half a second"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initial_backoff")
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [not: valid")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())

	cfg.Server.HTTPAddr = ""
	assert.ErrorContains(t, cfg.Validate(), "server.http_addr")

	cfg = Default()
	cfg.Proxy.BackendURL = ""
	assert.ErrorContains(t, cfg.Validate(), "proxy.backend_url")

	cfg = Default()
	cfg.Proxy.MaxRetries = 0
	assert.ErrorContains(t, cfg.Validate(), "max_retries")

	cfg = Default()
	cfg.Sessions.HistoryCap = 0
	assert.ErrorContains(t, cfg.Validate(), "history_cap")
}
