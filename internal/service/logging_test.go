package service

import (
	"context"
	"testing"

	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeRespectsVerboseFlag(t *testing.T) {
	ctx := context.Background()
	assert.False(t, IsVerboseLogging(ctx))
	assert.Equal(t, "******0199", SanitizePhoneNumber(ctx, "2025550199"))
	assert.Equal(t, "[5 chars]", SanitizeContent(ctx, "hello"))

	verbose := WithVerboseLogging(ctx, true)
	assert.True(t, IsVerboseLogging(verbose))
	assert.Equal(t, "2025550199", SanitizePhoneNumber(verbose, "2025550199"))
	assert.Equal(t, "hello", SanitizeContent(verbose, "hello"))
}

func TestConversationFields(t *testing.T) {
	fields := conversationFields(context.Background(), models.ConversationID{DID: "2025550100", Contact: "2025550199"})
	assert.Equal(t, "******0100", fields[LogFieldDID])
	assert.Equal(t, "******0199", fields[LogFieldContact])
}

func TestLogWithContext(t *testing.T) {
	entry := LogWithContext(WithVerboseLogging(context.Background(), true), testLogger())
	assert.Equal(t, true, entry.Data["verbose"])
}
