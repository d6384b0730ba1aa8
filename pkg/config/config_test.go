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
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "actionhero", cfg.Process.Name)
	assert.Equal(t, 8080, cfg.Server.Web.Port)
	assert.Equal(t, "/api", cfg.Server.Web.APIRoute)
	assert.Equal(t, "sessionID", cfg.Session.CookieName)
	assert.Equal(t, 24*time.Hour, cfg.Session.TTL)
	assert.Equal(t, int64(60000), cfg.RateLimit.WindowMs)
	assert.Equal(t, 90*time.Second, cfg.Channels.PresenceTTL)
	assert.Equal(t, 30*time.Second, cfg.Channels.HeartbeatInterval)
	assert.Equal(t, 25, cfg.Server.Web.MaxMessagesPerSecond)
	assert.True(t, cfg.Server.MCP.Enabled)
	assert.Equal(t, "actionhero:broadcast", cfg.BroadcastChannel())
}

func TestEnvOverrideWithCoercion(t *testing.T) {
	t.Setenv("SERVER_WEB_PORT", "9090")
	t.Setenv("RATE_LIMIT_ENABLED", "FALSE")
	t.Setenv("PROCESS_NAME", "worker")

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Web.Port)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, "worker", cfg.Process.Name)
}

func TestEnvSuffixWinsForActiveEnvironment(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	t.Setenv("SERVER_WEB_PORT", "9090")
	t.Setenv("SERVER_WEB_PORT_TEST", "7070")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Web.Port)
}

func TestSuffixForOtherEnvironmentIgnored(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("SERVER_WEB_PORT_TEST", "7070")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Web.Port)
}

func TestUserOverridesWinOverEnvironment(t *testing.T) {
	t.Setenv("SERVER_WEB_PORT", "9090")

	cfg, err := Load(map[string]any{
		"server": map[string]any{
			"web": map[string]any{"port": 6060},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 6060, cfg.Server.Web.Port)
}

func TestOverridesDeepMerge(t *testing.T) {
	cfg, err := Load(map[string]any{
		"session": map[string]any{"cookie_name": "sid"},
	})
	require.NoError(t, err)

	// Sibling keys under session survive the merge.
	assert.Equal(t, "sid", cfg.Session.CookieName)
	assert.Equal(t, 24*time.Hour, cfg.Session.TTL)
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte("process:\n  name: from-file\n"), 0o600))
	t.Setenv("APP_CONFIG_FILE", file)

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Process.Name)
}

func TestValidateRejectsShortPresenceTTL(t *testing.T) {
	_, err := Load(map[string]any{
		"channels": map[string]any{
			"presence_ttl":       "30s",
			"heartbeat_interval": "20s",
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "presence_ttl")
}

func TestEnvDefaultsToDevelopment(t *testing.T) {
	t.Setenv("APP_ENV", "")
	assert.Equal(t, "development", Env())
	t.Setenv("APP_ENV", "staging")
	assert.Equal(t, "staging", Env())
}
