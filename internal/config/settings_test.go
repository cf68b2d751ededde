package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSettingsValid(t *testing.T) {
	s := DefaultSettings()
	require.NoError(t, s.Validate())
	assert.Equal(t, time.Second, s.General.PollInterval)
	assert.Equal(t, 10*time.Second, s.CallTimeout())
	assert.Equal(t, 5*time.Second, s.ConnectTimeout())
}

func TestValidateRejectsBadIntervals(t *testing.T) {
	s := DefaultSettings()
	s.General.PollInterval = 0
	s.General.ReconnectBackoff = "random"

	err := s.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poll_interval")
	assert.Contains(t, err.Error(), "reconnect_backoff")
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir()) // keep a stray .env out of the test

	s, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultPollInterval, s.General.PollInterval)
	assert.Equal(t, "/jsonrpc", s.RPC.Path)
}

func TestLoadFileAndEnv(t *testing.T) {
	t.Chdir(t.TempDir())

	path := filepath.Join(t.TempDir(), "settings.json")
	body := `{
  "general": {"poll_interval": "250ms", "reconnect_backoff": "linear"},
  "defaults": {"split": 8, "max_download_limit": "2M"}
}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	t.Setenv("ARIASYNC_RPC_MAX_CALLS_PER_SECOND", "20")

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, s.General.PollInterval)
	assert.Equal(t, BackoffLinear, s.General.ReconnectBackoff)
	assert.Equal(t, 8, s.Defaults.Split)
	assert.Equal(t, "2M", s.Defaults.MaxDownloadLimit)
	assert.Equal(t, 20.0, s.RPC.MaxCallsPerSecond)
	// untouched keys keep defaults
	assert.Equal(t, DefaultCallTimeout, s.Defaults.Timeout)
}

func TestLoadInvalidFile(t *testing.T) {
	t.Chdir(t.TempDir())

	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"general": {"poll_interval": "-1s"}}`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid settings")
}

func TestSaveSettingsRoundTrip(t *testing.T) {
	t.Chdir(t.TempDir())

	path := filepath.Join(t.TempDir(), "nested", "settings.json")
	s := DefaultSettings()
	s.General.PollInterval = 3 * time.Second
	s.Defaults.UserAgent = "ariasync-test"
	require.NoError(t, SaveSettings(path, s))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, loaded.General.PollInterval)
	assert.Equal(t, "ariasync-test", loaded.Defaults.UserAgent)
}
