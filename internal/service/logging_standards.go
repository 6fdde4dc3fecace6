package service

// Logging Standards
//
// Standard field names used by the workers and the HTTP layer. Numbers are
// always passed through SanitizePhoneNumber and message text through
// SanitizeContent before being logged.

// Standard Field Names
const (
	// Core identifiers
	LogFieldDID       = "did"
	LogFieldContact   = "contact"
	LogFieldMessageID = "message_id"
	LogFieldVoipID    = "voip_id"
	LogFieldRunID     = "run_id"
	LogFieldRequestID = "request_id"
	LogFieldTraceID   = "trace_id"

	// Service and operation fields
	LogFieldService   = "service"
	LogFieldOperation = "operation"
	LogFieldComponent = "component"
	LogFieldMethod    = "method"

	// Sync fields
	LogFieldMode      = "mode"
	LogFieldRangeFrom = "from"
	LogFieldRangeTo   = "to"
	LogFieldChunk     = "chunk"
	LogFieldInserted  = "inserted"
	LogFieldSkipped   = "skipped"
	LogFieldDirection = "direction"

	// Performance and metrics
	LogFieldDuration = "duration_ms"
	LogFieldCount    = "count"
	LogFieldSegments = "segments"

	// Network and external services
	LogFieldURL        = "url"
	LogFieldStatusCode = "status_code"
	LogFieldRemoteIP   = "remote_ip"
	LogFieldUserAgent  = "user_agent"
	LogFieldRoute      = "route"
	LogFieldSize       = "size_bytes"

	// Error and debugging
	LogFieldErrorCode  = "error_code"
	LogFieldRetryCount = "retry_count"
	LogFieldAttempt    = "attempt"
	LogFieldDelay      = "delay_ms"
)

// Log Level Usage Guidelines
//
// DEBUG: per chunk and per request detail, API parameters (sanitized).
// INFO: sync runs started and completed, messages sent, server lifecycle.
// WARN: retried API calls, skipped malformed messages, dropped notifications.
// ERROR: failed syncs and sends, authentication failures.
// FATAL: startup cannot continue (configuration, database).

// Standard Log Message Patterns
//
// Starting operations: "Starting [operation]"
// Completed operations: "Completed [operation]"
// Failed operations: "Failed to [operation]"
// Retrying operations: "Retrying [operation]"
// Skipping operations: "Skipping [operation]: [reason]"
