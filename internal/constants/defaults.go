package constants

// Default ingestion configuration values
const (
	DefaultPollIntervalSec         = 60
	DefaultLookbackMinutes         = 30
	DefaultFingerprintToleranceSec = 5
	DefaultLinkingWindowDays       = 60
)

// Default sweep configuration values
const (
	DefaultNotifierSweepIntervalSec = 60
	DefaultNotifierBatchSize        = 50
	DefaultDLQSweepIntervalSec      = 300
	DefaultDLQBatchSize             = 25
	DefaultDLQMaxRetries            = 5
)

// Default retry/backoff values
const (
	DefaultRetryBackoffMs = 1000
	DefaultMaxBackoffMs   = 60000
	DefaultMaxAttempts    = 5
)

// Default server values
const (
	DefaultServerPort            = 8082
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultRateLimitPerMin       = 120
	DefaultGracefulShutdownSec   = 30
	ServerErrorChannelSize       = 1
)

// Default timeout values
const (
	DefaultHTTPTimeoutSec        = 30
	DefaultDatabaseRetryAttempts = 3
	DefaultSweepTimeoutSec       = 120
)

// Encryption
const (
	EncryptionSalt = "mailroom-at-rest-v1"
)

// Validation bounds
const (
	MaxMessageIDLength    = 256
	MaxSubjectLength      = 2048
	MaxEmailAddressLength = 320
	BodyPreviewLength     = 160
)
