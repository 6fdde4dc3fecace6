package constants

// Default VoIP.ms API configuration values
const (
	DefaultVoipMSAPIURL            = "https://voip.ms/api/v1/rest.php"
	DefaultVoipMSTimeoutSec        = 60
	DefaultVoipMSRequestsPerSecond = 2
	DefaultPhoneRegion             = "US"
	MaxSMSLength                   = 160
	MaxMessageTextLength           = 1600
	GetSMSLimit                    = 1000000
)

// Default synchronization values
const (
	DefaultSyncIntervalMinutes = 15
	DefaultSyncStartDate       = "2008-01-01"
	DefaultSyncChunkDays       = 90
	MaxSyncChunkDays           = 92
	DefaultSyncRecentDays      = 30
	DefaultSyncTimeoutSec      = 600
	WorkerRetryAttempts        = 3
)

// Delivery monitor values
const (
	DeliveryCheckIntervalSec = 60
	DeliveryStaleAfterSec    = 300
)

// Default retry configuration values
const (
	DefaultRetryBackoffMs        = 1000
	DefaultMaxBackoffMs          = 60000
	DefaultMaxAttempts           = 3
	DefaultDatabaseRetryAttempts = 3
)

// Default database values
const (
	DefaultDatabasePath   = "voipms-sms.db"
	DefaultBusyTimeoutMs  = 5000
	DefaultMaxConnections = 4
	MaxConcurrentReaders  = 1 << 16
	DefaultFilePerms      = 0600
)

// Default server values
const (
	DefaultServerHost            = "127.0.0.1"
	DefaultServerPort            = "8082"
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 30
	ServerErrorChannelSize       = 1
	MaxRequestBodyBytes          = 1 << 20
	DefaultMaxBackupUploadBytes  = 256 << 20
)

// Default notification values
const (
	DefaultNotificationMaxLines = 7
	DefaultSubscriberBuffer     = 16
	NotificationWriteTimeoutSec = 10
)

// Privacy settings
const (
	DefaultPhoneMaskLength = 4
)

// Default tracing values
const (
	DefaultServiceName       = "voipms-sms"
	DefaultTracingSampleRate = 0.1
	DefaultEnvironment       = "development"
)

// Configuration watcher values
const (
	ConfigPollIntervalSec = 5
	ConfigSettleDelayMs   = 100
)
