package service

import (
	"context"

	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/models"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/privacy"

	"github.com/sirupsen/logrus"
)

// ContextKey is a package-local type to prevent context key collisions
// See staticcheck SA1029 guidance
type ContextKey string

// VerboseContextKey is the strongly-typed context key for verbose logging flag
const VerboseContextKey ContextKey = "verbose"

// WithVerboseLogging marks ctx so that log entries carry unmasked numbers.
func WithVerboseLogging(ctx context.Context, verbose bool) context.Context {
	return context.WithValue(ctx, VerboseContextKey, verbose)
}

// IsVerboseLogging checks if verbose logging is enabled from context
func IsVerboseLogging(ctx context.Context) bool {
	if verbose, ok := ctx.Value(VerboseContextKey).(bool); ok {
		return verbose
	}
	return false
}

// SanitizePhoneNumber masks a number unless verbose logging is on.
func SanitizePhoneNumber(ctx context.Context, phone string) string {
	if IsVerboseLogging(ctx) {
		return phone
	}
	return privacy.MaskPhoneNumber(phone)
}

// SanitizeContent hides message content unless verbose logging is on.
func SanitizeContent(ctx context.Context, content string) string {
	if IsVerboseLogging(ctx) {
		return content
	}
	return privacy.MaskMessageText(content)
}

// conversationFields returns the standard log fields for a conversation.
func conversationFields(ctx context.Context, cid models.ConversationID) logrus.Fields {
	return logrus.Fields{
		LogFieldDID:     SanitizePhoneNumber(ctx, cid.DID),
		LogFieldContact: SanitizePhoneNumber(ctx, cid.Contact),
	}
}

// LogWithContext creates a logger entry with optional sensitive information
func LogWithContext(ctx context.Context, logger *logrus.Logger) *logrus.Entry {
	return logger.WithField("verbose", IsVerboseLogging(ctx))
}
