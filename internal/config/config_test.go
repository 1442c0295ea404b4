package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SERVER_URL", "REQUEST_TIMEOUT", "UPLOAD_TIMEOUT", "STREAM_IDLE_TIMEOUT",
		"STREAM_FAILURE", "LOG_FILE", "LOG_LEVEL", "DOC_CACHE_SIZE", "ALT_SCREEN",
	} {
		t.Setenv(envPrefix+key, "")
	}
}

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docchat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 2*time.Minute, cfg.StreamIdleTimeout)
	assert.Equal(t, "silent", cfg.StreamFailure)
}

func TestLoadPrecedence(t *testing.T) {
	clearEnv(t)
	path := writeYAML(t, `
server_url: http://files.internal:9000/
stream_idle_timeout: 45s
log_level: debug
doc_cache_size: 8
`)
	t.Setenv("DOCCHAT_LOG_LEVEL", "warning")
	t.Setenv("DOCCHAT_ALT_SCREEN", "off")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://files.internal:9000", cfg.ServerURL)
	assert.Equal(t, 45*time.Second, cfg.StreamIdleTimeout)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 8, cfg.DocCacheSize)
	assert.False(t, cfg.AltScreen)

	server := "https://chat.example.com"
	idle := time.Duration(0)
	cfg.Apply(Overrides{ServerURL: &server, StreamIdleTimeout: &idle})
	require.NoError(t, cfg.Finalize())
	assert.Equal(t, server, cfg.ServerURL)
	assert.Equal(t, time.Duration(0), cfg.StreamIdleTimeout)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadIgnoresUnparsableEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("DOCCHAT_REQUEST_TIMEOUT", "soon")
	t.Setenv("DOCCHAT_DOC_CACHE_SIZE", "many")

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 32, cfg.DocCacheSize)
}

func TestLoadClampsCacheSize(t *testing.T) {
	clearEnv(t)
	t.Setenv("DOCCHAT_DOC_CACHE_SIZE", "100000")

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, 1024, cfg.DocCacheSize)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Run("failure policy", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("DOCCHAT_STREAM_FAILURE", "loud")
		_, err := Load("")
		assert.ErrorContains(t, err, "StreamFailure")
	})
	t.Run("server url", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("DOCCHAT_SERVER_URL", "not a url")
		_, err := Load("")
		assert.ErrorContains(t, err, "ServerURL")
	})
	t.Run("negative idle timeout", func(t *testing.T) {
		clearEnv(t)
		_, err := Load(writeYAML(t, "stream_idle_timeout: -5s\n"))
		assert.ErrorContains(t, err, "StreamIdleTimeout")
	})
	t.Run("missing file", func(t *testing.T) {
		clearEnv(t)
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
	t.Run("bad yaml", func(t *testing.T) {
		clearEnv(t)
		_, err := Load(writeYAML(t, "server_url: [oops\n"))
		assert.ErrorContains(t, err, "parse config")
	})
}
