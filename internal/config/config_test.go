package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, 10080, cfg.Port)
	assert.Equal(t, 10081, cfg.MetricsPort)
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, time.Minute, cfg.MetricsSaveInterval)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Empty(t, cfg.OTelEndpoint)
}

func TestLoadEnvAndFlags(t *testing.T) {
	t.Setenv("SITECACHE_PORT", "9000")
	t.Setenv("SITECACHE_STORE", "bolt")
	t.Setenv("SITECACHE_SHUTDOWN_TIMEOUT", "5s")

	cfg, err := Load([]string{"-store", "sqlite", "-origin", "http://origin.test"})
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "sqlite", cfg.Store)
	assert.Equal(t, "http://origin.test", cfg.Origin)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
}

func TestLoadErrors(t *testing.T) {
	t.Run("invalid env", func(t *testing.T) {
		t.Setenv("SITECACHE_PORT", "not-a-port")
		_, err := Load(nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse env:")
	})

	t.Run("unknown flag", func(t *testing.T) {
		_, err := Load([]string{"-no-such-flag"})
		require.Error(t, err)
	})
}
