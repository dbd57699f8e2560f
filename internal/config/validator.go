package config

import (
	"fmt"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateStorageType validates the storage backend selector
func (v *Validator) ValidateStorageType(t string) error {
	switch t {
	case "local", "s3":
		return nil
	default:
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", t)
	}
}

// ValidateS3 validates the S3 backend configuration
func (v *Validator) ValidateS3(cfg S3Config) error {
	if cfg.Bucket == "" {
		return fmt.Errorf("s3 bucket cannot be empty")
	}
	if strings.ContainsAny(cfg.Bucket, "/ ") {
		return fmt.Errorf("invalid s3 bucket name: %s", cfg.Bucket)
	}
	if cfg.Region == "" && cfg.Endpoint == "" {
		return fmt.Errorf("s3 region is required when no custom endpoint is set")
	}
	return nil
}

// ValidatePrefix validates the key namespace root
func (v *Validator) ValidatePrefix(prefix string) error {
	if prefix == "" {
		return fmt.Errorf("storage prefix cannot be empty")
	}
	if strings.HasPrefix(prefix, "/") || strings.HasSuffix(prefix, "/") {
		return fmt.Errorf("storage prefix must not start or end with a slash: %s", prefix)
	}
	return nil
}

// ValidatePort validates an HTTP port
func (v *Validator) ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateSession validates session lifecycle bounds
func (v *Validator) ValidateSession(cfg SessionConfig) error {
	if cfg.IdleTimeout <= 0 {
		return fmt.Errorf("session idle timeout must be positive, got %s", cfg.IdleTimeout)
	}
	if cfg.SweepInterval <= 0 {
		return fmt.Errorf("session sweep interval must be positive, got %s", cfg.SweepInterval)
	}
	if cfg.RetryAttempts < 0 {
		return fmt.Errorf("retry attempts cannot be negative, got %d", cfg.RetryAttempts)
	}
	if cfg.ShutdownGrace <= 0 {
		return fmt.Errorf("shutdown grace must be positive, got %s", cfg.ShutdownGrace)
	}
	return nil
}

// Validate checks the whole configuration
func (v *Validator) Validate(cfg *Config) error {
	if err := v.ValidateStorageType(cfg.Storage.Type); err != nil {
		return err
	}
	if err := v.ValidatePrefix(cfg.Storage.Prefix); err != nil {
		return err
	}
	if cfg.Storage.Type == "s3" {
		if err := v.ValidateS3(cfg.Storage.S3); err != nil {
			return err
		}
	}
	if cfg.Storage.Type == "local" && cfg.DataDir == "" {
		return fmt.Errorf("data_dir is required for local storage")
	}
	if err := v.ValidatePort(cfg.HTTP.Port); err != nil {
		return err
	}
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		return err
	}
	if err := v.ValidateSession(cfg.Session); err != nil {
		return err
	}
	if cfg.Usage.Enabled && cfg.Usage.Endpoint == "" {
		return fmt.Errorf("usage endpoint is required when usage reporting is enabled")
	}
	return nil
}
