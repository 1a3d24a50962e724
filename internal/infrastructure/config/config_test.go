package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8811", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 5*time.Second, cfg.Session.CompleteTimeout.Std())
	assert.Equal(t, 30*time.Second, cfg.Kernel.StartupTimeout.Std())
	assert.Equal(t, 256, cfg.Kernel.EventBuffer)
	assert.True(t, cfg.History.Enabled)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("RODEO_PORT", "9100")
	t.Setenv("RODEO_SESSION_COMPLETE_TIMEOUT", "250ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Server.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.Session.CompleteTimeout.Std())
}

func TestLoadFileOverridesEnv(t *testing.T) {
	t.Setenv("RODEO_PORT", "9100")

	path := filepath.Join(t.TempDir(), "rodeo.toml")
	body := `
[server]
port = "9200"

[kernel]
startup_timeout = "7s"

[logging]
level = "debug"
development = true
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "9200", cfg.Server.Port, "file wins over env")
	assert.Equal(t, 7*time.Second, cfg.Kernel.StartupTimeout.Std())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)

	// Untouched sections keep env/default values.
	assert.Equal(t, 5*time.Second, cfg.Session.CompleteTimeout.Std())
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestLoadFileMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server\nport="), 0o644))

	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1500ms")))
	assert.Equal(t, 1500*time.Millisecond, d.Std())

	assert.Error(t, d.UnmarshalText([]byte("not-a-duration")))
}

func TestDefaultMatchesLoad(t *testing.T) {
	loaded, err := Load()
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.Server, loaded.Server)
	assert.Equal(t, def.Session, loaded.Session)
	assert.Equal(t, def.Kernel, loaded.Kernel)
	assert.Equal(t, def.RateLimit, loaded.RateLimit)
}
