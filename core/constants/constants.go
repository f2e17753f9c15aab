package constants

import "time"

// Database pool settings
const (
	DatabaseSSLMode         = "disable"
	DatabaseMaxOpenConns    = 25
	DatabaseMaxIdleConns    = 5
	DatabaseConnMaxLifetime = 30 // minutes
)

// Timeouts
const (
	DefaultTimeout      = 30 * time.Second
	ProviderCallTimeout = 30 * time.Second
	ShutdownTimeout     = 10 * time.Second
)

// Redis key prefixes
const (
	RedisKeyOAuthState      = "calendar:oauth_state:"
	RedisKeySyncLock        = "calendar:sync_lock:"
	RedisKeyProviderBackoff = "calendar:provider_backoff:"
)

// OAuth and sync tuning
const (
	OAuthStateTTL           = 10 * time.Minute
	TokenRefreshMargin      = 5 * time.Minute
	SyncLockTTL             = 10 * time.Minute
	DefaultSyncWindowDays   = 30
	DefaultImportPageSize   = 100
	MaxTransientRetries     = 3
	MaxRateLimitRetries     = 2
	TransientRetryBaseDelay = 500 * time.Millisecond
)

// Event mapping limits
const (
	MaxProviderReminders = 5
	MaxReminderMinutes   = 40320 // 4 weeks, largest offset providers accept
)
