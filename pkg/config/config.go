// Package config loads, validates and materializes the tidegate
// configuration: which Tide store backs the gateway, where file payloads
// live, which filesystems to export and how the gateway reports itself.
//
// Configuration sources, in order of precedence:
//  1. Environment variables (TIDEGATE_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values
//
// Backend selection follows a type-plus-sections pattern: the Type field
// picks the implementation and only the matching type-specific section is
// decoded, so unused sections may carry values for other deployments.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/tidefs/tidegate/internal/logger"
)

// Config is the complete tidegate configuration.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Metrics controls the Prometheus metrics endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Store selects the Tide node store and its type-specific settings
	Store StoreConfig `mapstructure:"store"`

	// Content selects the payload backend used by the badger store
	Content ContentConfig `mapstructure:"content"`

	// Gateway tunes the protocol-facing adapter
	Gateway GatewayConfig `mapstructure:"gateway"`

	// Exports lists the filesystems to mount through the gateway
	Exports []ExportConfig `mapstructure:"exports" validate:"dive"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Output is where logs go: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	// Enabled turns metrics collection and the HTTP endpoint on
	Enabled bool `mapstructure:"enabled"`

	// Port is the metrics HTTP port
	Port int `mapstructure:"port" validate:"gte=0,lte=65535"`
}

// StoreConfig selects the Tide node store implementation.
//
// The Type field determines which implementation is used; only the
// corresponding type-specific section is decoded.
type StoreConfig struct {
	// Type specifies which node store implementation to use
	// Valid values: memory, badger
	Type string `mapstructure:"type" validate:"required,oneof=memory badger"`

	// Memory contains memory store settings (Type = "memory")
	Memory map[string]any `mapstructure:"memory"`

	// Badger contains BadgerDB store settings (Type = "badger")
	Badger map[string]any `mapstructure:"badger"`
}

// ContentConfig selects the payload backend the badger store delegates
// file content to. Ignored when the memory node store is selected, which
// keeps content inline.
type ContentConfig struct {
	// Type specifies which content store implementation to use
	// Valid values: memory, s3
	Type string `mapstructure:"type" validate:"required,oneof=memory s3"`

	// Memory contains memory content store settings (Type = "memory")
	Memory map[string]any `mapstructure:"memory"`

	// S3 contains S3 content store settings (Type = "s3")
	S3 map[string]any `mapstructure:"s3"`
}

// GatewayConfig tunes the protocol-facing adapter.
type GatewayConfig struct {
	// Umask masks permission bits off every created object's mode
	Umask uint32 `mapstructure:"umask" validate:"lte=511"`

	// MaxReadSize caps a single read transfer; zero keeps the default
	MaxReadSize uint64 `mapstructure:"max_read_size"`

	// MaxWriteSize caps a single write transfer; zero keeps the default
	MaxWriteSize uint64 `mapstructure:"max_write_size"`
}

// ExportConfig addresses one filesystem to mount through the gateway.
type ExportConfig struct {
	// Cluster is the Tide service group to contact; empty selects the
	// client default
	Cluster string `mapstructure:"cluster"`

	// Pool is the storage pool UUID
	Pool string `mapstructure:"pool" validate:"required,uuid"`

	// Volume names the filesystem container inside the pool
	Volume string `mapstructure:"volume" validate:"required"`
}

// Load loads configuration from file, environment and defaults.
//
// configPath empty means the default location
// ($XDG_CONFIG_HOME/tidegate/config.yaml); a missing file is not an
// error, the defaults stand in.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// ApplyLogging configures the process logger from cfg. The output file is
// opened for append and never closed; it lives as long as the process.
func ApplyLogging(cfg *LoggingConfig) error {
	logger.SetLevel(cfg.Level)

	switch cfg.Output {
	case "", "stdout":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log output %q: %w", cfg.Output, err)
		}
		logger.SetOutput(f)
	}
	return nil
}

// setupViper configures environment variable support and the config file
// location. Environment variables use the TIDEGATE_ prefix with
// underscores, e.g. TIDEGATE_LOGGING_LEVEL=DEBUG.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("TIDEGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists. A missing
// file is acceptable; any other read error is not.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory: XDG_CONFIG_HOME if
// set, otherwise ~/.config, with the current directory as last resort.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "tidegate")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "tidegate")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
