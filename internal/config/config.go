package config

import (
	"encoding/json"
	"fmt"
	"os"

	"pushrelay/internal/constants"
	"pushrelay/internal/models"
	"pushrelay/internal/security"
)

var (
	ErrMissingGatewayURL = models.ConfigError{Message: "missing gateway URL"}
	ErrMissingDBPath     = models.ConfigError{Message: "missing database path"}
)

func LoadConfig(path string) (*models.Config, error) {
	// Validate config file path to prevent directory traversal
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if c.Gateway.URL == "" {
		return ErrMissingGatewayURL
	}
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}

	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.CleanupIntervalHours <= 0 {
		c.Server.CleanupIntervalHours = constants.DefaultCleanupIntervalHours
	}
	if c.Gateway.TimeoutSec <= 0 {
		c.Gateway.TimeoutSec = constants.DefaultGatewayTimeoutSec
	}
	if c.Dispatcher.PollIntervalMs <= 0 {
		c.Dispatcher.PollIntervalMs = constants.DefaultPollIntervalMs
	}
	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultMaxAttempts
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = constants.DefaultRetentionDays
	}
	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if url := os.Getenv("GATEWAY_URL"); url != "" {
		c.Gateway.URL = url
	}

	// SECURITY: the gateway API key should come from the environment, not
	// the config file.
	if key := os.Getenv("GATEWAY_API_KEY"); key != "" {
		c.Gateway.APIKey = key
	}

	if path := os.Getenv("PUSHRELAY_DB_PATH"); path != "" {
		c.Database.Path = path
	}
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	isProduction := os.Getenv("PUSHRELAY_ENV") == "production"

	if isProduction {
		if c.Gateway.APIKey == "" {
			return models.ConfigError{Message: "gateway API key is required in production (set GATEWAY_API_KEY environment variable)"}
		}
		if c.LogLevel == "debug" {
			return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
		}
	} else {
		if c.Gateway.APIKey == "" {
			fmt.Fprintf(os.Stderr, "WARNING: gateway API key not set. Set GATEWAY_API_KEY environment variable before dispatching.\n")
		}
	}

	return nil
}
