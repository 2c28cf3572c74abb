package reconciler

import (
	"time"

	appconfig "github.com/nimbase/controlplane/internal/config"
)

// Config controls reconciler intervals and batch sizes.
type Config struct {
	RunInterval        time.Duration
	BatchSize          int
	GraceWarningWindow time.Duration
	UsageRetention     time.Duration
	EnabledJobs        []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:        time.Minute,
		BatchSize:          50,
		GraceWarningWindow: 7 * 24 * time.Hour,
		UsageRetention:     3 * 30 * 24 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.GraceWarningWindow <= 0 {
		c.GraceWarningWindow = defaults.GraceWarningWindow
	}
	if c.UsageRetention <= 0 {
		c.UsageRetention = defaults.UsageRetention
	}
	return c
}

func ProvideConfig(cfg appconfig.Config) Config {
	return Config{
		RunInterval:        cfg.ReconcileInterval,
		GraceWarningWindow: cfg.GraceWarningWindow,
		UsageRetention:     cfg.UsageRetention,
		EnabledJobs:        cfg.EnabledJobs,
	}.withDefaults()
}
