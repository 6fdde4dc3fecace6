package service

import (
	"context"
	"time"

	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/models"
)

// MessageStore is the part of the database the workers depend on.
type MessageStore interface {
	InsertMessage(ctx context.Context, msg *models.Message) (int64, error)
	InsertMessagesFromSync(ctx context.Context, messages []models.Message, retrieveDeleted bool) (*models.SyncInsertResult, error)
	GetMessage(ctx context.Context, id int64) (*models.Message, error)
	GetLatestMessageDate(ctx context.Context, did string) (time.Time, bool, error)
	MarkMessageDeliveryInProgress(ctx context.Context, id int64) error
	MarkMessageDelivered(ctx context.Context, id int64, voipID int64) error
	MarkMessageNotDelivered(ctx context.Context, id int64) error
	UpdateDraft(ctx context.Context, cid models.ConversationID, text string) error
	GetSyncState(ctx context.Context, did string) (*models.SyncState, error)
	UpdateSyncState(ctx context.Context, did string, syncedAt time.Time) error
}

// Notifier receives the events the workers raise.
type Notifier interface {
	NotifyConversations(ctx context.Context, cids []models.ConversationID) error
	NotifySendFailed(ctx context.Context, msg *models.Message) error
}

// Syncer runs synchronization passes.
type Syncer interface {
	Sync(ctx context.Context, opts models.SyncOptions) (*models.SyncResult, error)
}
