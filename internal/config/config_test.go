package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feedsync.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_EnvOnly(t *testing.T) {
	t.Setenv("GATEWAY_URL", "https://social.example")
	t.Setenv("FEED_REFRESH_INTERVAL", "45s")

	cfg, err := LoadConfig("")

	require.NoError(t, err)
	assert.Equal(t, "https://social.example", cfg.Gateway.URL)
	assert.Equal(t, 45*time.Second, cfg.Feed.RefreshInterval)
	assert.Equal(t, 50, cfg.Feed.PageSize)
	assert.Equal(t, 30*time.Second, cfg.Feed.StaleAfter)
	assert.Equal(t, "default", cfg.Session.Profile)
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	path := writeFile(t, `
[gateway]
url = "https://file.example"
read_retries = 4
timeout = "3s"

[feed]
page_size = 20

[session]
redis_url = "redis://localhost:6379/1"
`)
	t.Setenv("FEED_PAGE_SIZE", "25")

	cfg, err := LoadConfig(path)

	require.NoError(t, err)
	assert.Equal(t, "https://file.example", cfg.Gateway.URL)
	assert.Equal(t, 4, cfg.Gateway.ReadRetries)
	assert.Equal(t, 3*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, 25, cfg.Feed.PageSize, "environment wins over the file")
	assert.Equal(t, "redis://localhost:6379/1", cfg.Session.RedisURL)
	assert.Equal(t, 2*time.Minute, cfg.Query.IdleAfter)
}

func TestLoadConfig_MissingGatewayURL(t *testing.T) {
	t.Setenv("GATEWAY_URL", "")

	_, err := LoadConfig("")

	assert.ErrorContains(t, err, "gateway url is required")
}

func TestLoadConfig_BadEnvValue(t *testing.T) {
	t.Setenv("GATEWAY_URL", "https://social.example")
	t.Setenv("QUERY_TICK", "soon")

	_, err := LoadConfig("")

	assert.ErrorContains(t, err, "QUERY_TICK")
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
