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
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
backend:
  address: http://lights.local:8080
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://lights.local:8080", cfg.Backend.Address)
	assert.Equal(t, 10*time.Second, cfg.Backend.Timeout.Duration())
	assert.Equal(t, 20.0, cfg.Backend.RateLimitRPS)

	assert.True(t, cfg.Push.IsEnabled())
	assert.Equal(t, 1*time.Second, cfg.Push.MinRetryBackoff.Duration())
	assert.Equal(t, 2*time.Minute, cfg.Push.MaxRetryBackoff.Duration())
	assert.Equal(t, 2.0, cfg.Push.RetryMultiplier)

	assert.Equal(t, 2*time.Second, cfg.Engine.PollInterval.Duration())
	assert.Equal(t, 50*time.Millisecond, cfg.Engine.DebounceQuiet.Duration())
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.FixtureIntentWindow.Duration())
	assert.Equal(t, 5*time.Second, cfg.Engine.GroupIntentWindow.Duration())

	assert.Equal(t, "./lumctl.sqlite", cfg.Database.Path)
	assert.Equal(t, 30, cfg.Ledger.RetentionDays)
	assert.Equal(t, 4, cfg.EventBus.GetWorkers())
	assert.Equal(t, 100, cfg.EventBus.GetQueueSize())
	assert.Equal(t, 9090, cfg.Healthcheck.Port)
	assert.Equal(t, "info", cfg.Log.GetLevel())
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout.Duration())
}

func TestLoadRequiresBackendAddress(t *testing.T) {
	path := writeConfig(t, `
engine:
  poll_interval: 1s
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend.address")
}

func TestDebounceQuietClamped(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{name: "below_floor", value: "5ms", want: 20 * time.Millisecond},
		{name: "above_ceiling", value: "250ms", want: 100 * time.Millisecond},
		{name: "in_range", value: "80ms", want: 80 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, `
backend:
  address: http://lights.local:8080
engine:
  debounce_quiet: `+tt.value+`
`)
			cfg, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.Engine.DebounceQuiet.Duration())
		})
	}
}

func TestEnvVarExpansion(t *testing.T) {
	t.Setenv("LUMCTL_BACKEND", "http://stage.local:9000")

	path := writeConfig(t, `
backend:
  address: ${LUMCTL_BACKEND}
database:
  path: ${LUMCTL_DB:/var/lib/lumctl/ledger.sqlite}
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://stage.local:9000", cfg.Backend.Address)
	// Unset variable falls back to the inline default
	assert.Equal(t, "/var/lib/lumctl/ledger.sqlite", cfg.Database.Path)
}

func TestPushDisabled(t *testing.T) {
	path := writeConfig(t, `
backend:
  address: http://lights.local:8080
push:
  enabled: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Push.IsEnabled())
}

func TestDurationUnmarshalRejectsGarbage(t *testing.T) {
	path := writeConfig(t, `
backend:
  address: http://lights.local:8080
engine:
  poll_interval: not-a-duration
`)

	_, err := Load(path)
	require.Error(t, err)
}
