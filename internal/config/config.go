package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/constants"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/models"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/security"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/validation"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/tidwall/jsonc"
)

var (
	ErrMissingDBPath      = models.ConfigError{Message: "missing database path"}
	ErrMissingCredentials = models.ConfigError{Message: "missing VoIP.ms API username or password"}
)

// environment variables that override file values
var envBindings = map[string]string{
	"voipms.username": "VOIPMS_API_USERNAME",
	"voipms.password": "VOIPMS_API_PASSWORD",
	"voipms.api_url":  "VOIPMS_API_URL",
	"database.path":   "VOIPMS_DB_PATH",
	"server.host":     "VOIPMS_HOST",
	"server.port":     "PORT",
	"log_level":       "VOIPMS_LOG_LEVEL",
}

// LoadConfig reads a JSON configuration file, which may contain comments and
// trailing commas, applies environment overrides and fills in defaults.
func LoadConfig(path string) (*models.Config, error) {
	// Validate config file path to prevent directory traversal
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}
	return Parse(file)
}

// Parse builds a configuration from the contents of a configuration file.
func Parse(data []byte) (*models.Config, error) {
	v := viper.New()
	v.SetConfigType("json")
	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if len(bytes.TrimSpace(data)) > 0 {
		if err := v.ReadConfig(bytes.NewReader(jsonc.ToJSON(data))); err != nil {
			return nil, models.ConfigError{Message: fmt.Sprintf("invalid configuration file: %v", err)}
		}
	}

	var config models.Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, models.ConfigError{Message: fmt.Sprintf("invalid configuration: %v", err)}
	}

	if err := validate(&config); err != nil {
		return nil, err
	}

	// Perform security validation after environment overrides
	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("voipms.api_url", constants.DefaultVoipMSAPIURL)
	v.SetDefault("voipms.timeout_sec", constants.DefaultVoipMSTimeoutSec)
	v.SetDefault("voipms.requests_per_second", constants.DefaultVoipMSRequestsPerSecond)
	v.SetDefault("voipms.region", constants.DefaultPhoneRegion)

	v.SetDefault("sync.interval_minutes", constants.DefaultSyncIntervalMinutes)
	v.SetDefault("sync.start_date", constants.DefaultSyncStartDate)
	v.SetDefault("sync.chunk_days", constants.DefaultSyncChunkDays)
	v.SetDefault("sync.recent_days", constants.DefaultSyncRecentDays)
	v.SetDefault("sync.timeout_sec", constants.DefaultSyncTimeoutSec)

	v.SetDefault("database.path", constants.DefaultDatabasePath)
	v.SetDefault("database.busy_timeout_ms", constants.DefaultBusyTimeoutMs)
	v.SetDefault("database.max_connections", constants.DefaultMaxConnections)

	v.SetDefault("server.host", constants.DefaultServerHost)
	v.SetDefault("server.port", constants.DefaultServerPort)
	v.SetDefault("server.read_timeout_sec", constants.DefaultServerReadTimeoutSec)
	v.SetDefault("server.write_timeout_sec", constants.DefaultServerWriteTimeoutSec)
	v.SetDefault("server.idle_timeout_sec", constants.DefaultServerIdleTimeoutSec)
	v.SetDefault("server.max_backup_upload_bytes", constants.DefaultMaxBackupUploadBytes)

	v.SetDefault("notifications.enabled", true)
	v.SetDefault("notifications.max_lines", constants.DefaultNotificationMaxLines)
	v.SetDefault("notifications.subscriber_buffer", constants.DefaultSubscriberBuffer)

	v.SetDefault("retry.initial_backoff_ms", constants.DefaultRetryBackoffMs)
	v.SetDefault("retry.max_backoff_ms", constants.DefaultMaxBackoffMs)
	v.SetDefault("retry.max_attempts", constants.DefaultMaxAttempts)

	v.SetDefault("tracing.service_name", constants.DefaultServiceName)
	v.SetDefault("tracing.environment", constants.DefaultEnvironment)
	v.SetDefault("tracing.sample_rate", constants.DefaultTracingSampleRate)

	v.SetDefault("log_level", "info")
}

func validate(c *models.Config) error {
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}
	if err := security.ValidateFilePath(c.Database.Path); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid database path: %v", err)}
	}

	if _, err := validation.ValidateDate(c.Sync.StartDate, "sync.start_date"); err != nil {
		return models.ConfigError{Message: err.Error()}
	}
	if c.Sync.ChunkDays <= 0 || c.Sync.ChunkDays > constants.MaxSyncChunkDays {
		return models.ConfigError{Message: fmt.Sprintf("sync.chunk_days must be between 1 and %d", constants.MaxSyncChunkDays)}
	}
	if c.Sync.RecentDays <= 0 {
		c.Sync.RecentDays = constants.DefaultSyncRecentDays
	}
	if c.Sync.IntervalMinutes < 0 {
		c.Sync.IntervalMinutes = 0
	}

	// DIDs are stored in canonical form; reject anything that does not
	// normalize.
	seen := make(map[string]bool)
	dids := make([]string, 0, len(c.DIDs))
	for _, raw := range c.DIDs {
		did, err := validation.NormalizePhoneNumber(raw, c.VoipMS.Region)
		if err != nil {
			return models.ConfigError{Message: fmt.Sprintf("invalid DID %q: %v", raw, err)}
		}
		if seen[did] {
			return models.ConfigError{Message: fmt.Sprintf("duplicate DID: %s", raw)}
		}
		seen[did] = true
		dids = append(dids, did)
	}
	c.DIDs = dids

	if c.VoipMS.TimeoutSec <= 0 {
		c.VoipMS.TimeoutSec = constants.DefaultVoipMSTimeoutSec
	}
	if c.VoipMS.RequestsPerSecond <= 0 {
		c.VoipMS.RequestsPerSecond = constants.DefaultVoipMSRequestsPerSecond
	}
	if c.Server.MaxBackupUploadBytes <= 0 {
		c.Server.MaxBackupUploadBytes = constants.DefaultMaxBackupUploadBytes
	}
	if c.Notifications.MaxLines <= 0 {
		c.Notifications.MaxLines = constants.DefaultNotificationMaxLines
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return models.ConfigError{Message: "tracing.sample_rate must be between 0 and 1"}
	}

	c.LogLevel = strings.ToLower(c.LogLevel)
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid log_level: %s", c.LogLevel)}
	}
	return nil
}

// RequireCredentials checks that API credentials are present, for commands
// that talk to VoIP.ms.
func RequireCredentials(c *models.Config) error {
	if c.VoipMS.Username == "" || c.VoipMS.Password == "" {
		return ErrMissingCredentials
	}
	return nil
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	isProduction := os.Getenv("VOIPMS_ENV") == "production"
	if !isProduction {
		return nil
	}

	// In production the API password must not live in the config file
	if os.Getenv("VOIPMS_API_PASSWORD") == "" && c.VoipMS.Password != "" {
		return models.ConfigError{Message: "VoIP.ms API password must be set via VOIPMS_API_PASSWORD in production"}
	}
	if c.LogLevel == "debug" || c.LogLevel == "trace" {
		return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
	}
	if !strings.HasPrefix(c.VoipMS.APIURL, "https://") {
		return models.ConfigError{Message: "VoIP.ms API URL must use https in production"}
	}
	return nil
}
