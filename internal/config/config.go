package config

import (
	"encoding/json"
	"fmt"
	"os"

	"mailroom/internal/constants"
	"mailroom/internal/models"
	"mailroom/internal/security"
)

var (
	ErrMissingMailURL = models.ConfigError{Message: "missing mail provider API URL"}
	ErrMissingDBPath  = models.ConfigError{Message: "missing database path"}
)

func LoadConfig(path string) (*models.Config, error) {
	// Validate config file path to prevent directory traversal
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	if err := validate(&config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if c.Mail.APIBaseURL == "" {
		return ErrMissingMailURL
	}
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}

	if c.Mail.TimeoutSec <= 0 {
		c.Mail.TimeoutSec = constants.DefaultHTTPTimeoutSec
	}
	if c.Mail.RetryCount <= 0 {
		c.Mail.RetryCount = constants.DefaultMaxAttempts
	}

	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}
	if c.Server.RateLimitPerMin <= 0 {
		c.Server.RateLimitPerMin = constants.DefaultRateLimitPerMin
	}

	// The numbers below encode business policy, not implementation
	// detail; they stay configurable and only fall back to defaults.
	if c.Ingest.PollIntervalSec <= 0 {
		c.Ingest.PollIntervalSec = constants.DefaultPollIntervalSec
	}
	if c.Ingest.LookbackMinutes <= 0 {
		c.Ingest.LookbackMinutes = constants.DefaultLookbackMinutes
	}
	if c.Ingest.FingerprintToleranceSec <= 0 {
		c.Ingest.FingerprintToleranceSec = constants.DefaultFingerprintToleranceSec
	}
	if c.Linking.WindowDays <= 0 {
		c.Linking.WindowDays = constants.DefaultLinkingWindowDays
	}
	if c.Notifier.SweepIntervalSec <= 0 {
		c.Notifier.SweepIntervalSec = constants.DefaultNotifierSweepIntervalSec
	}
	if c.Notifier.BatchSize <= 0 {
		c.Notifier.BatchSize = constants.DefaultNotifierBatchSize
	}
	if c.DLQ.SweepIntervalSec <= 0 {
		c.DLQ.SweepIntervalSec = constants.DefaultDLQSweepIntervalSec
	}
	if c.DLQ.BatchSize <= 0 {
		c.DLQ.BatchSize = constants.DefaultDLQBatchSize
	}
	if c.DLQ.MaxRetries <= 0 {
		c.DLQ.MaxRetries = constants.DefaultDLQMaxRetries
	}
	if c.DLQ.InitialBackoffMs <= 0 {
		c.DLQ.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.DLQ.MaxBackoffMs <= 0 {
		c.DLQ.MaxBackoffMs = constants.DefaultMaxBackoffMs
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

	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if url := os.Getenv("MAILROOM_API_URL"); url != "" {
		c.Mail.APIBaseURL = url
	}

	// Webhook secrets should be set via environment variables
	if secret := os.Getenv("MAILROOM_WEBHOOK_SECRET"); secret != "" {
		c.Mail.WebhookSecret = secret
	}

	if path := os.Getenv("MAILROOM_DB_PATH"); path != "" {
		c.Database.Path = path
	}
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	isProduction := os.Getenv("MAILROOM_ENV") == "production"

	if isProduction {
		if c.Mail.WebhookSecret == "" {
			return models.ConfigError{Message: "webhook secret is required in production (set MAILROOM_WEBHOOK_SECRET environment variable)"}
		}
		if len(c.Mail.WebhookSecret) < 32 {
			return models.ConfigError{Message: "webhook secret must be at least 32 characters long"}
		}
		if c.LogLevel == "debug" {
			return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
		}
	} else if c.Mail.WebhookSecret == "" {
		fmt.Fprintf(os.Stderr, "WARNING: webhook secret not set. Set MAILROOM_WEBHOOK_SECRET environment variable for security.\n")
	}

	return nil
}
