package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoadDefaults(t *testing.T) {
	inTempDir(t)
	t.Setenv("CONFIG_ENV", "missing")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 5*time.Second, cfg.Store.OpTimeout)
	assert.Equal(t, 54*time.Second, cfg.WS.PingPeriod)
	assert.Equal(t, 10, cfg.RateLimit.InitiateCalls)
	require.Len(t, cfg.ICEServers, 1)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.ICEServers[0].URLs)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := inTempDir(t)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "config"), 0o755))
	yaml := `
port: 9000
store:
  driver: sqlite
  uri: file:calls.db
ice_servers:
  - urls: ["turn:turn.example.com:3478"]
    username: u
    credential: p
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), []byte(yaml), 0o600))
	t.Setenv("CONFIG_ENV", "test")
	t.Setenv("CALLSIG_PUSH_WORKERS", "7")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 7, cfg.Push.Workers)
	require.Len(t, cfg.ICEServers, 1)
	assert.Equal(t, "u", cfg.ICEServers[0].Username)
}

func TestValidate(t *testing.T) {
	cfg := Config{
		Port:            8080,
		ShutdownTimeout: time.Second,
		WS:              WSConfig{SendBuffer: 8},
		Store:           StoreConfig{Driver: "mongo"},
		Push:            PushConfig{Enabled: true},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.uri required")
	assert.Contains(t, err.Error(), "push enabled")

	cfg.Store = StoreConfig{Driver: "redis"}
	assert.ErrorContains(t, cfg.Validate(), "store.driver")
}
