package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/constants"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/models"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/validation"

	"github.com/google/uuid"
)

// Store is the read access the builder needs.
type Store interface {
	GetUnreadMessages(ctx context.Context, cid models.ConversationID) ([]models.Message, error)
	IsConversationArchived(ctx context.Context, cid models.ConversationID) (bool, error)
}

// Builder turns conversation state into notifications.
type Builder struct {
	store    Store
	maxLines int
	region   string
	now      func() time.Time
}

func NewBuilder(store Store, maxLines int) *Builder {
	if maxLines <= 0 {
		maxLines = constants.DefaultNotificationMaxLines
	}
	return &Builder{
		store:    store,
		maxLines: maxLines,
		region:   constants.DefaultPhoneRegion,
		now:      time.Now,
	}
}

// Build returns the new-messages notification for cid, or nil when the
// conversation is archived or has nothing unread.
func (b *Builder) Build(ctx context.Context, cid models.ConversationID) (*models.Notification, error) {
	archived, err := b.store.IsConversationArchived(ctx, cid)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive state: %w", err)
	}
	if archived {
		return nil, nil
	}

	unread, err := b.store.GetUnreadMessages(ctx, cid)
	if err != nil {
		return nil, fmt.Errorf("failed to read unread messages: %w", err)
	}
	if len(unread) == 0 {
		return nil, nil
	}

	recent := unread
	if len(recent) > b.maxLines {
		recent = recent[len(recent)-b.maxLines:]
	}
	lines := make([]string, 0, len(recent))
	for _, msg := range recent {
		lines = append(lines, msg.Text)
	}

	return &models.Notification{
		ID:             uuid.NewString(),
		Kind:           models.NotificationNewMessages,
		ConversationID: cid,
		Title:          validation.FormatForDisplay(cid.Contact, b.region),
		Lines:          lines,
		UnreadCount:    len(unread),
		MessageID:      unread[len(unread)-1].ID,
		CreatedAt:      b.now().UTC(),
	}, nil
}

// BuildSendFailed reports that msg could not be delivered.
func (b *Builder) BuildSendFailed(msg *models.Message) *models.Notification {
	return &models.Notification{
		ID:             uuid.NewString(),
		Kind:           models.NotificationSendFailed,
		ConversationID: msg.ConversationID(),
		Title:          validation.FormatForDisplay(msg.Contact, b.region),
		Lines:          []string{msg.Text},
		MessageID:      msg.ID,
		CreatedAt:      b.now().UTC(),
	}
}
