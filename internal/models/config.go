package models

// Config holds the application configuration. Every numeric knob here
// encodes business policy and is tunable; defaults live in
// internal/constants.
type Config struct {
	Mail     MailConfig     `json:"mail"`
	Database DatabaseConfig `json:"database"`
	Server   ServerConfig   `json:"server"`
	Ingest   IngestConfig   `json:"ingest"`
	Linking  LinkingConfig  `json:"linking"`
	Notifier NotifierConfig `json:"notifier"`
	DLQ      DLQConfig      `json:"dlq"`
	Retry    RetryConfig    `json:"retry"`
	Tracing  TracingConfig  `json:"tracing"`
	LogLevel string         `json:"log_level"`
}

// MailConfig holds mail-provider related configuration.
type MailConfig struct {
	APIBaseURL    string `json:"api_base_url"`
	Mailbox       string `json:"mailbox"`
	WebhookSecret string `json:"webhook_secret"`
	TimeoutSec    int    `json:"timeout_sec"`
	RetryCount    int    `json:"retry_count"`
}

// DatabaseConfig holds database related configuration.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int `json:"port"`
	ReadTimeoutSec  int `json:"read_timeout_sec"`
	WriteTimeoutSec int `json:"write_timeout_sec"`
	IdleTimeoutSec  int `json:"idle_timeout_sec"`
	RateLimitPerMin int `json:"rate_limit_per_min"`
}

// IngestConfig tunes the ingestion pipeline.
type IngestConfig struct {
	// PollIntervalSec is how often the polling sweep runs.
	PollIntervalSec int `json:"poll_interval_sec"`
	// LookbackMinutes is the trailing window each poll covers. It
	// deliberately overlaps the push path for redundancy.
	LookbackMinutes int `json:"lookback_minutes"`
	// FingerprintToleranceSec is the symmetric clock-skew tolerance for
	// the sender+subject+time duplicate fingerprint.
	FingerprintToleranceSec int `json:"fingerprint_tolerance_sec"`
}

// LinkingConfig tunes the linker's identity match.
type LinkingConfig struct {
	// WindowDays bounds the identity+recency match to orders updated
	// within this trailing window from the message's received time.
	WindowDays int `json:"window_days"`
}

// NotifierConfig tunes the scheduled-send sweep.
type NotifierConfig struct {
	SweepIntervalSec int `json:"sweep_interval_sec"`
	BatchSize        int `json:"batch_size"`
}

// DLQConfig tunes the dead-letter retry sweep.
type DLQConfig struct {
	SweepIntervalSec int `json:"sweep_interval_sec"`
	BatchSize        int `json:"batch_size"`
	MaxRetries       int `json:"max_retries"`
	InitialBackoffMs int `json:"initial_backoff_ms"`
	MaxBackoffMs     int `json:"max_backoff_ms"`
}

// RetryConfig holds transient-retry configuration for external calls.
type RetryConfig struct {
	InitialBackoffMs int `json:"initial_backoff_ms"`
	MaxBackoffMs     int `json:"max_backoff_ms"`
	MaxAttempts      int `json:"max_attempts"`
}

// TracingConfig holds OpenTelemetry configuration.
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	UseStdout      bool    `json:"use_stdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
