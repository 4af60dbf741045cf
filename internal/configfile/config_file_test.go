package configfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[default]
api_key = "KEY_1"

[staging]
api_key = "KEY_2"
endpoint = "https://api.staging.dev"
domain = "staging.dev"
refresh_interval = "2s"
debug = true
`)
	t.Setenv("SESSION_CONFIG_FILE", path)
	t.Setenv("SESSION_PROFILE", "")
	reset()
	defer reset()

	profile, err := ProfileFromConfigFile()
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, "KEY_1", profile.APIKey)
	assert.Empty(t, profile.Domain)

	_, ok, err := RefreshIntervalFromConfigFile()
	require.NoError(t, err)
	assert.False(t, ok)

	t.Setenv("SESSION_PROFILE", "staging")
	profile, err = ProfileFromConfigFile()
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, "KEY_2", profile.APIKey)
	assert.Equal(t, "https://api.staging.dev", profile.Endpoint)
	assert.Equal(t, "staging.dev", profile.Domain)
	assert.True(t, profile.Debug)

	d, ok, err := RefreshIntervalFromConfigFile()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2*time.Second, d)

	t.Setenv("SESSION_PROFILE", "missing")
	profile, err = ProfileFromConfigFile()
	require.NoError(t, err)
	assert.Nil(t, profile)
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
default:
  api_key: KEY_Y
  refresh_interval: 750ms
`)
	t.Setenv("SESSION_CONFIG_FILE", path)
	t.Setenv("SESSION_PROFILE", "")
	reset()
	defer reset()

	profile, err := ProfileFromConfigFile()
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, "KEY_Y", profile.APIKey)

	d, ok, err := RefreshIntervalFromConfigFile()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 750*time.Millisecond, d)
}

func TestInvalidRefreshInterval(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[default]
refresh_interval = "often"
`)
	t.Setenv("SESSION_CONFIG_FILE", path)
	t.Setenv("SESSION_PROFILE", "")
	reset()
	defer reset()

	_, _, err := RefreshIntervalFromConfigFile()
	assert.ErrorIs(t, err, ErrInvalidRefreshInterval)
}

func TestExplicitMissingFile(t *testing.T) {
	t.Setenv("SESSION_CONFIG_FILE", filepath.Join(t.TempDir(), "nope.toml"))
	reset()
	defer reset()

	_, err := ProfileFromConfigFile()
	assert.Error(t, err)
}
