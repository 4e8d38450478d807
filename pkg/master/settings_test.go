package master

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unsetEnv clears key for the duration of the test
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	os.Unsetenv(key)
}

func TestLoadSettings_Defaults(t *testing.T) {
	for _, key := range []string{"LAUNCHER_PORT", "LAUNCHER_HOST", "LAUNCHER_ENV", "LAUNCHER_VITE_HOST", "LAUNCHER_VITE_PORT", "VITE_HOST", "VITE_PORT"} {
		unsetEnv(t, key)
	}

	settings, err := LoadSettings()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", settings.Host)
	assert.Equal(t, 8080, settings.Port)
	assert.False(t, settings.PortExplicit)
	assert.Equal(t, "development", settings.Env)
	assert.Equal(t, "127.0.0.1", settings.ViteHost)
	assert.Equal(t, 5173, settings.VitePort)
	assert.Equal(t, 2*time.Second, settings.PollInterval)
	assert.Equal(t, 120*time.Second, settings.StartCeiling)
	assert.Equal(t, 5*time.Second, settings.StopGrace)
	assert.NoError(t, ValidateSettings(settings))
}

func TestLoadSettings_FromEnvironment(t *testing.T) {
	unsetEnv(t, "LAUNCHER_VITE_HOST")
	unsetEnv(t, "LAUNCHER_VITE_PORT")
	t.Setenv("LAUNCHER_PORT", "9191")
	t.Setenv("LAUNCHER_APPS_FILE", "/tmp/my-apps.yaml")
	t.Setenv("LAUNCHER_LOG_MAX_LINES", "500")
	t.Setenv("LAUNCHER_CONTROL_PORT", "50055")
	t.Setenv("LAUNCHER_RATE_LIMIT_RPS", "20")
	t.Setenv("LAUNCHER_START_CEILING", "30s")
	t.Setenv("VITE_HOST", "localhost")
	t.Setenv("VITE_PORT", "3000")

	settings, err := LoadSettings()
	require.NoError(t, err)

	assert.Equal(t, 9191, settings.Port)
	assert.True(t, settings.PortExplicit)
	assert.Equal(t, "/tmp/my-apps.yaml", settings.AppsFile)
	assert.Equal(t, 500, settings.LogMaxLines)
	assert.Equal(t, 50055, settings.ControlPort)
	assert.Equal(t, 30*time.Second, settings.StartCeiling)
	assert.Equal(t, "localhost", settings.ViteHost)
	assert.Equal(t, 3000, settings.VitePort)

	limit := settings.RateLimitConfig()
	assert.Equal(t, 20, limit.RequestsPerSecond)
	assert.Equal(t, 20, limit.Burst)

	assert.Equal(t, "http://localhost:3000", settings.FrontendOptions().ViteOrigin())
	assert.Equal(t, 500, settings.LogSinkConfig().MaxLines)
}

func TestLoadSettings_InvalidValue(t *testing.T) {
	t.Setenv("LAUNCHER_POLL_INTERVAL", "often")

	_, err := LoadSettings()

	assert.Error(t, err)
}

func TestSettings_ZapConfig(t *testing.T) {
	settings := validSettings()
	settings.LogLevel = "debug"
	settings.LogFormat = "json"
	settings.LogOutput = "stderr"

	config := settings.ZapConfig()

	assert.Equal(t, "debug", config.Level)
	assert.Equal(t, "json", config.Format)
	assert.Equal(t, "stderr", config.Output)
}
