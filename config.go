package gplus

import (
	"context"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config carries the request layer's settings. The zero value plus
// applyDefaults is usable; ConfigFromEnv populates it from the environment.
type Config struct {
	// BaseURL is the service origin.
	BaseURL string `env:"GPLUS_BASE_URL, default=https://app.gplus.eco"`

	// DataDir holds the durable store. Defaults to ~/.gplus/data.
	DataDir string `env:"GPLUS_DATA_DIR"`

	// ProbePath is the known-reachable resource used for connectivity
	// probes.
	ProbePath string `env:"GPLUS_PROBE_PATH, default=/api/health"`

	RequestTimeoutSeconds int `env:"GPLUS_REQUEST_TIMEOUT_SECS, default=30"`
	RefreshTimeoutSeconds int `env:"GPLUS_REFRESH_TIMEOUT_SECS, default=10"`
	ProbeTimeoutSeconds   int `env:"GPLUS_PROBE_TIMEOUT_SECS, default=5"`
	ProbeIntervalSeconds  int `env:"GPLUS_PROBE_INTERVAL_SECS, default=30"`
}

// ConfigFromEnv loads configuration from the process environment.
func ConfigFromEnv(ctx context.Context) (Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://app.gplus.eco"
	}
	if c.ProbePath == "" {
		c.ProbePath = "/api/health"
	}
	if c.RequestTimeoutSeconds <= 0 {
		c.RequestTimeoutSeconds = 30
	}
	if c.RefreshTimeoutSeconds <= 0 {
		c.RefreshTimeoutSeconds = 10
	}
	if c.ProbeTimeoutSeconds <= 0 {
		c.ProbeTimeoutSeconds = 5
	}
	if c.ProbeIntervalSeconds <= 0 {
		c.ProbeIntervalSeconds = 30
	}
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c Config) RefreshTimeout() time.Duration {
	return time.Duration(c.RefreshTimeoutSeconds) * time.Second
}

func (c Config) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSeconds) * time.Second
}

func (c Config) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalSeconds) * time.Second
}
