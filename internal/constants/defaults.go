package constants

// Default dispatch loop configuration values
const (
	DefaultPollIntervalMs      = 500
	DefaultRetryBackoffMs      = 1000
	DefaultMaxBackoffMs        = 60000
	DefaultMaxAttempts         = 5
	DefaultRetentionDays       = 30
	DefaultServerPort          = 8080
	DefaultRecentMessagesLimit = 10
)

// Default timeout values
const (
	DefaultGatewayTimeoutSec     = 30
	DefaultDatabaseRetryAttempts = 3
	DefaultGracefulShutdownSec   = 30
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultCleanupIntervalHours  = 24
	ServerErrorChannelSize       = 1
)

// Encryption salts for key derivation and deterministic lookup encryption
const (
	EncryptionSalt       = "pushrelay-db-salt-v1"
	EncryptionLookupSalt = "pushrelay-lookup-salt-v1"
)
