package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/tidefs/tidegate/internal/logger"
)

func TestLoad_DefaultsApplied(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	// Write minimal config
	configContent := `
logging:
  level: "debug"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Verify defaults were applied around the one configured value
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected level 'DEBUG' (uppercased), got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %q", cfg.Logging.Output)
	}
	if cfg.Metrics.Enabled {
		t.Error("Expected metrics disabled by default")
	}
	if cfg.Metrics.Port != 9090 {
		t.Errorf("Expected default metrics port 9090, got %d", cfg.Metrics.Port)
	}
	if cfg.Store.Type != "memory" {
		t.Errorf("Expected default store type 'memory', got %q", cfg.Store.Type)
	}
	if cfg.Content.Type != "memory" {
		t.Errorf("Expected default content type 'memory', got %q", cfg.Content.Type)
	}
	if dir, ok := cfg.Store.Badger["dir"]; !ok || dir == "" {
		t.Error("Expected default badger dir to be seeded")
	}
	if len(cfg.Exports) != 1 {
		t.Fatalf("Expected 1 default export, got %d", len(cfg.Exports))
	}
	if cfg.Exports[0].Pool != uuid.Nil.String() {
		t.Errorf("Expected default export pool %s, got %q", uuid.Nil, cfg.Exports[0].Pool)
	}
	if cfg.Exports[0].Volume != "default" {
		t.Errorf("Expected default export volume 'default', got %q", cfg.Exports[0].Volume)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// Use a temporary directory with a non-existent config file path
	// so we don't load a real config from ~/.config/tidegate/
	tmpDir := t.TempDir()
	nonExistentPath := filepath.Join(tmpDir, "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error with missing config file, got: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Store.Type != "memory" {
		t.Errorf("Expected default store type 'memory', got %q", cfg.Store.Type)
	}
	if len(cfg.Exports) != 1 {
		t.Errorf("Expected 1 default export, got %d", len(cfg.Exports))
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	configContent := `
logging:
  level: INFO
  invalid yaml here [[[
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Expected error with invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	// Pool is not a UUID
	configContent := `
exports:
  - pool: "not-a-uuid"
    volume: "home"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Expected validation error for non-UUID pool, got nil")
	}
}

func TestLoad_FullConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	poolA := "11111111-2222-3333-4444-555555555555"
	poolB := "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"

	fixture := map[string]any{
		"logging": map[string]any{"level": "WARN", "output": "stderr"},
		"metrics": map[string]any{"enabled": true, "port": 9464},
		"store": map[string]any{
			"type": "badger",
			"badger": map[string]any{
				"dir":       filepath.Join(tmpDir, "badger"),
				"page_size": 64,
			},
		},
		"content": map[string]any{
			"type": "s3",
			"s3":   map[string]any{"bucket": "tidegate-blobs", "region": "eu-west-1"},
		},
		"gateway": map[string]any{"umask": 0o022, "max_read_size": 1048576},
		"exports": []map[string]any{
			{"cluster": "tide-prod", "pool": poolA, "volume": "home"},
			{"pool": poolB, "volume": "scratch"},
		},
	}
	data, err := yaml.Marshal(fixture)
	if err != nil {
		t.Fatalf("Failed to marshal fixture: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "WARN" || cfg.Logging.Output != "stderr" {
		t.Errorf("Unexpected logging config: %+v", cfg.Logging)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Port != 9464 {
		t.Errorf("Unexpected metrics config: %+v", cfg.Metrics)
	}
	if cfg.Store.Type != "badger" {
		t.Errorf("Expected store type 'badger', got %q", cfg.Store.Type)
	}
	if cfg.Content.Type != "s3" {
		t.Errorf("Expected content type 's3', got %q", cfg.Content.Type)
	}
	if cfg.Gateway.Umask != 0o022 {
		t.Errorf("Expected umask 0o022, got %o", cfg.Gateway.Umask)
	}
	if cfg.Gateway.MaxReadSize != 1048576 {
		t.Errorf("Expected max_read_size 1048576, got %d", cfg.Gateway.MaxReadSize)
	}
	if len(cfg.Exports) != 2 {
		t.Fatalf("Expected 2 exports, got %d", len(cfg.Exports))
	}
	if cfg.Exports[0].Cluster != "tide-prod" || cfg.Exports[0].Pool != poolA || cfg.Exports[0].Volume != "home" {
		t.Errorf("Unexpected first export: %+v", cfg.Exports[0])
	}
	if cfg.Exports[1].Cluster != "" || cfg.Exports[1].Pool != poolB || cfg.Exports[1].Volume != "scratch" {
		t.Errorf("Unexpected second export: %+v", cfg.Exports[1])
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	// Set environment variables
	_ = os.Setenv("TIDEGATE_LOGGING_LEVEL", "ERROR")
	_ = os.Setenv("TIDEGATE_METRICS_PORT", "9464")
	defer func() {
		_ = os.Unsetenv("TIDEGATE_LOGGING_LEVEL")
		_ = os.Unsetenv("TIDEGATE_METRICS_PORT")
	}()

	// The overridden keys must be present in the file: viper only
	// consults the environment for keys it already knows about.
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "INFO"

metrics:
  enabled: true
  port: 9090
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected level 'ERROR' from env var, got %q", cfg.Logging.Level)
	}
	if cfg.Metrics.Port != 9464 {
		t.Errorf("Expected port 9464 from env var, got %d", cfg.Metrics.Port)
	}
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default log output 'stdout', got %q", cfg.Logging.Output)
	}
	if cfg.Metrics.Port != 9090 {
		t.Errorf("Expected default metrics port 9090, got %d", cfg.Metrics.Port)
	}
	if cfg.Store.Type != "memory" {
		t.Errorf("Expected default store type 'memory', got %q", cfg.Store.Type)
	}
	if cfg.Content.Type != "memory" {
		t.Errorf("Expected default content type 'memory', got %q", cfg.Content.Type)
	}
	if len(cfg.Exports) != 1 {
		t.Fatalf("Expected 1 default export, got %d", len(cfg.Exports))
	}
	if cfg.Exports[0].Volume != "default" {
		t.Errorf("Expected default export volume 'default', got %q", cfg.Exports[0].Volume)
	}

	// The default config must pass its own validation
	if err := Validate(cfg); err != nil {
		t.Errorf("Default config failed validation: %v", err)
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	tmpDir := t.TempDir()
	oldXDG, hadXDG := os.LookupEnv("XDG_CONFIG_HOME")
	_ = os.Setenv("XDG_CONFIG_HOME", tmpDir)
	defer func() {
		if hadXDG {
			_ = os.Setenv("XDG_CONFIG_HOME", oldXDG)
		} else {
			_ = os.Unsetenv("XDG_CONFIG_HOME")
		}
	}()

	path := GetDefaultConfigPath()
	want := filepath.Join(tmpDir, "tidegate", "config.yaml")
	if path != want {
		t.Errorf("Expected default config path %q, got %q", want, path)
	}
}

func TestApplyLogging(t *testing.T) {
	// stdout and stderr never fail
	for _, output := range []string{"stdout", "stderr"} {
		if err := ApplyLogging(&LoggingConfig{Level: "INFO", Output: output}); err != nil {
			t.Errorf("ApplyLogging(%q) failed: %v", output, err)
		}
	}

	// A file path redirects the process logger
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "tidegate.log")
	if err := ApplyLogging(&LoggingConfig{Level: "INFO", Output: logPath}); err != nil {
		t.Fatalf("ApplyLogging(file) failed: %v", err)
	}
	defer func() {
		_ = ApplyLogging(&LoggingConfig{Level: "INFO", Output: "stderr"})
	}()

	logger.Info("log output landed in the configured file")

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "log output landed in the configured file") {
		t.Errorf("Log file missing expected line, got: %q", string(data))
	}
}
