package models

import "time"

// SyncOptions controls a single synchronization run.
type SyncOptions struct {
	// ForceRecent limits the run to messages newer than the latest stored
	// message of each DID.
	ForceRecent bool
}

// SyncResult summarizes a synchronization run.
type SyncResult struct {
	RunID         string           `json:"runId"`
	StartedAt     time.Time        `json:"startedAt"`
	FinishedAt    time.Time        `json:"finishedAt"`
	Recent        bool             `json:"recent"`
	Chunks        int              `json:"chunks"`
	Retrieved     int              `json:"retrieved"`
	Inserted      int              `json:"inserted"`
	Conversations []ConversationID `json:"conversations"`
}

// DID is a phone number owned by the account.
type DID struct {
	Number      string `json:"number"`
	Description string `json:"description,omitempty"`
	SMSEnabled  bool   `json:"smsEnabled"`
}

// NotificationKind distinguishes notification payloads.
type NotificationKind string

const (
	NotificationNewMessages NotificationKind = "new_messages"
	NotificationSendFailed  NotificationKind = "send_failed"
)

// Notification is pushed to notification subscribers.
type Notification struct {
	ID             string           `json:"id"`
	Kind           NotificationKind `json:"kind"`
	ConversationID ConversationID   `json:"conversation"`
	Title          string           `json:"title"`
	Lines          []string         `json:"lines"`
	UnreadCount    int              `json:"unreadCount"`
	MessageID      int64            `json:"messageId,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
}
