package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// DetectorConfig controls one abuse-pattern detector.
type DetectorConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	MinOccurrences int           `mapstructure:"minOccurrences"`
	Window         time.Duration `mapstructure:"window"`
	AutoSuspend    bool          `mapstructure:"autoSuspend"`
}

// DetectorsConfig holds the per-pattern detector settings.
type DetectorsConfig struct {
	SQLInjection     DetectorConfig `mapstructure:"sqlInjection"`
	AuthBruteForce   DetectorConfig `mapstructure:"authBruteForce"`
	RapidKeyCreation DetectorConfig `mapstructure:"rapidKeyCreation"`
}

func DefaultDetectorsConfig() DetectorsConfig {
	return DetectorsConfig{
		SQLInjection: DetectorConfig{
			Enabled:        true,
			MinOccurrences: 3,
			Window:         15 * time.Minute,
			AutoSuspend:    true,
		},
		AuthBruteForce: DetectorConfig{
			Enabled:        true,
			MinOccurrences: 20,
			Window:         10 * time.Minute,
			AutoSuspend:    true,
		},
		RapidKeyCreation: DetectorConfig{
			Enabled:        true,
			MinOccurrences: 10,
			Window:         time.Hour,
			AutoSuspend:    false,
		},
	}
}

// DetectorConfigHolder serves the current detector settings and hot-reloads
// them when the mounted config file changes.
type DetectorConfigHolder struct {
	current atomic.Value // holds DetectorsConfig
}

func NewDetectorConfigHolder() (*DetectorConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("detectors")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/nimbase/config")
	v.AddConfigPath("/etc/nimbase")
	v.AddConfigPath(".")

	v.SetEnvPrefix("NIMBASE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultDetectorsConfig()
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := defaults
	if v.IsSet("detectors") {
		if err := v.UnmarshalKey("detectors", &cfg); err != nil {
			return nil, err
		}
		if err := validateDetectorsConfig(cfg); err != nil {
			return nil, err
		}
	}

	holder := &DetectorConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated := DefaultDetectorsConfig()
		if err := v.UnmarshalKey("detectors", &updated); err != nil {
			log.Printf("[detector-config] reload failed: %v", err)
			return
		}
		if err := validateDetectorsConfig(updated); err != nil {
			log.Printf("[detector-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[detector-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticDetectorConfigHolder returns a holder pinned to cfg, with no file
// watching. Tests use it to control detector settings directly.
func NewStaticDetectorConfigHolder(cfg DetectorsConfig) *DetectorConfigHolder {
	holder := &DetectorConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *DetectorConfigHolder) Get() DetectorsConfig {
	return h.current.Load().(DetectorsConfig)
}

func validateDetectorsConfig(cfg DetectorsConfig) error {
	for _, d := range []DetectorConfig{cfg.SQLInjection, cfg.AuthBruteForce, cfg.RapidKeyCreation} {
		if d.MinOccurrences < 1 {
			return errors.New("detectors.minOccurrences must be >= 1")
		}
		if d.Window <= 0 {
			return errors.New("detectors.window must be positive")
		}
	}
	return nil
}
