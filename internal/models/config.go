package models

// Config holds the application configuration
type Config struct {
	VoipMS        VoipMSConfig        `json:"voipms" mapstructure:"voipms"`
	DIDs          []string            `json:"dids" mapstructure:"dids"`
	Sync          SyncConfig          `json:"sync" mapstructure:"sync"`
	Database      DatabaseConfig      `json:"database" mapstructure:"database"`
	Server        ServerConfig        `json:"server" mapstructure:"server"`
	Notifications NotificationsConfig `json:"notifications" mapstructure:"notifications"`
	Retry         RetryConfig         `json:"retry" mapstructure:"retry"`
	Tracing       TracingConfig       `json:"tracing" mapstructure:"tracing"`
	LogLevel      string              `json:"log_level" mapstructure:"log_level"`
}

// VoipMSConfig holds VoIP.ms API related configurations
type VoipMSConfig struct {
	APIURL            string `json:"api_url" mapstructure:"api_url"`
	Username          string `json:"username" mapstructure:"username"`
	Password          string `json:"password" mapstructure:"password"`
	TimeoutSec        int    `json:"timeout_sec" mapstructure:"timeout_sec"`
	RequestsPerSecond int    `json:"requests_per_second" mapstructure:"requests_per_second"`
	Region            string `json:"region" mapstructure:"region"`
}

// SyncConfig holds synchronization related configurations
type SyncConfig struct {
	IntervalMinutes    int    `json:"interval_minutes" mapstructure:"interval_minutes"`
	StartDate          string `json:"start_date" mapstructure:"start_date"`
	ChunkDays          int    `json:"chunk_days" mapstructure:"chunk_days"`
	RecentDays         int    `json:"recent_days" mapstructure:"recent_days"`
	RetrieveOnlyRecent bool   `json:"retrieve_only_recent" mapstructure:"retrieve_only_recent"`
	RetrieveDeleted    bool   `json:"retrieve_deleted" mapstructure:"retrieve_deleted"`
	TimeoutSec         int    `json:"timeout_sec" mapstructure:"timeout_sec"`
}

// DatabaseConfig holds database related configurations
type DatabaseConfig struct {
	Path           string `json:"path" mapstructure:"path"`
	BusyTimeoutMs  int    `json:"busy_timeout_ms" mapstructure:"busy_timeout_ms"`
	MaxConnections int    `json:"max_connections" mapstructure:"max_connections"`
}

// ServerConfig holds HTTP API related configurations
type ServerConfig struct {
	// Host is the listen address. The API has no authentication, so it
	// defaults to loopback; an empty value listens on all interfaces.
	Host            string `json:"host" mapstructure:"host"`
	Port            string `json:"port" mapstructure:"port"`
	ReadTimeoutSec  int    `json:"read_timeout_sec" mapstructure:"read_timeout_sec"`
	WriteTimeoutSec int    `json:"write_timeout_sec" mapstructure:"write_timeout_sec"`
	IdleTimeoutSec  int    `json:"idle_timeout_sec" mapstructure:"idle_timeout_sec"`
	// MaxBackupUploadBytes caps the body of a backup import.
	MaxBackupUploadBytes int64 `json:"max_backup_upload_bytes" mapstructure:"max_backup_upload_bytes"`
}

// NotificationsConfig holds notification stream related configurations
type NotificationsConfig struct {
	Enabled          bool `json:"enabled" mapstructure:"enabled"`
	MaxLines         int  `json:"max_lines" mapstructure:"max_lines"`
	SubscriberBuffer int  `json:"subscriber_buffer" mapstructure:"subscriber_buffer"`
}

// RetryConfig holds retry related configurations
type RetryConfig struct {
	InitialBackoffMs int `json:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `json:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	MaxAttempts      int `json:"max_attempts" mapstructure:"max_attempts"`
}

// TracingConfig holds OpenTelemetry related configurations
type TracingConfig struct {
	Enabled        bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName    string  `json:"service_name" mapstructure:"service_name"`
	ServiceVersion string  `json:"service_version" mapstructure:"service_version"`
	Environment    string  `json:"environment" mapstructure:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint" mapstructure:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate" mapstructure:"sample_rate"`
	UseStdout      bool    `json:"use_stdout" mapstructure:"use_stdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
