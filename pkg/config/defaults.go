package config

import (
	"strings"

	"github.com/google/uuid"
)

// ApplyDefaults fills unspecified configuration fields with defaults.
//
// Zero values (0, "", false, nil) are replaced; explicit values are
// preserved. Store-specific option defaults live in the store
// implementations themselves, so only the fields the factories require
// up front are seeded here.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyMetricsDefaults(&cfg.Metrics)
	applyStoreDefaults(&cfg.Store)
	applyContentDefaults(&cfg.Content)

	// A bare config exports the default volume of the nil pool, which the
	// memory store materializes on first mount.
	if len(cfg.Exports) == 0 {
		cfg.Exports = []ExportConfig{
			{Pool: uuid.Nil.String(), Volume: "default"},
		}
	}
}

// applyLoggingDefaults sets logging defaults and normalizes the level.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyMetricsDefaults sets metrics defaults. Collection stays disabled
// unless asked for.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// applyStoreDefaults sets node store defaults.
func applyStoreDefaults(cfg *StoreConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}

	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}

	if _, ok := cfg.Badger["dir"]; !ok {
		cfg.Badger["dir"] = "/var/lib/tidegate/badger"
	}
}

// applyContentDefaults sets content store defaults.
func applyContentDefaults(cfg *ContentConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}

	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}
}

// GetDefaultConfig returns a Config with all defaults applied. Useful for
// generating sample configuration files and for tests.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
