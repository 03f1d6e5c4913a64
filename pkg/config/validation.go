package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate checks the configuration using struct tags plus the custom
// rules below. Level normalization happens in ApplyDefaults, so both
// cases pass here.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

// validateCustomRules covers relations struct tags cannot express.
func validateCustomRules(cfg *Config) error {
	if len(cfg.Exports) == 0 {
		return fmt.Errorf("exports: at least one export must be configured")
	}

	// Two exports of the same filesystem would mount it twice.
	seen := make(map[string]bool)
	for i, export := range cfg.Exports {
		id := export.Cluster + "/" + export.Pool + "/" + export.Volume
		if seen[id] {
			return fmt.Errorf("exports[%d]: duplicate export %s/%s", i, export.Pool, export.Volume)
		}
		seen[id] = true
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Port <= 0 {
		return fmt.Errorf("metrics: port must be set when metrics are enabled")
	}

	return nil
}

// formatValidationError converts validator errors into messages that name
// the offending field.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
