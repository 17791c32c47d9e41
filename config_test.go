package gplus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfigFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := ConfigFromEnv(context.Background())
		require.NoError(t, err)
		require.Equal(t, "https://app.gplus.eco", cfg.BaseURL)
		require.Equal(t, "/api/health", cfg.ProbePath)
		require.Equal(t, 30*time.Second, cfg.RequestTimeout())
		require.Equal(t, 10*time.Second, cfg.RefreshTimeout())
		require.Equal(t, 5*time.Second, cfg.ProbeTimeout())
		require.Equal(t, 30*time.Second, cfg.ProbeInterval())
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("GPLUS_BASE_URL", "https://staging.gplus.eco")
		t.Setenv("GPLUS_PROBE_PATH", "/healthz")
		t.Setenv("GPLUS_REQUEST_TIMEOUT_SECS", "5")

		cfg, err := ConfigFromEnv(context.Background())
		require.NoError(t, err)
		require.Equal(t, "https://staging.gplus.eco", cfg.BaseURL)
		require.Equal(t, "/healthz", cfg.ProbePath)
		require.Equal(t, 5*time.Second, cfg.RequestTimeout())
	})
}

func TestConfigApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.applyDefaults()
	require.Equal(t, "https://app.gplus.eco", cfg.BaseURL)
	require.Equal(t, "/api/health", cfg.ProbePath)
	require.Equal(t, 30, cfg.RequestTimeoutSeconds)
	require.Equal(t, 10, cfg.RefreshTimeoutSeconds)
	require.Equal(t, 5, cfg.ProbeTimeoutSeconds)
	require.Equal(t, 30, cfg.ProbeIntervalSeconds)
}
