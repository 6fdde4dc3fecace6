package models

import (
	"fmt"
	"time"
)

// Direction indicates whether a message was received on or sent from a DID.
type Direction int

const (
	DirectionOutgoing Direction = 0
	DirectionIncoming Direction = 1
)

func (d Direction) String() string {
	if d == DirectionIncoming {
		return "incoming"
	}
	return "outgoing"
}

// ConversationID identifies the conversation between one DID and one contact.
type ConversationID struct {
	DID     string `json:"did" cbor:"did"`
	Contact string `json:"contact" cbor:"contact"`
}

func (c ConversationID) String() string {
	return fmt.Sprintf("%s:%s", c.DID, c.Contact)
}

// Message is a single SMS stored locally.
type Message struct {
	ID                 int64     `json:"id" cbor:"id"`
	VoipID             *int64    `json:"voipId,omitempty" cbor:"voip_id,omitempty"`
	Date               time.Time `json:"date" cbor:"date"`
	Direction          Direction `json:"direction" cbor:"direction"`
	DID                string    `json:"did" cbor:"did"`
	Contact            string    `json:"contact" cbor:"contact"`
	Text               string    `json:"text" cbor:"text"`
	Unread             bool      `json:"unread" cbor:"unread"`
	Delivered          bool      `json:"delivered" cbor:"delivered"`
	DeliveryInProgress bool      `json:"deliveryInProgress" cbor:"delivery_in_progress"`
}

// ConversationID returns the conversation the message belongs to.
func (m *Message) ConversationID() ConversationID {
	return ConversationID{DID: m.DID, Contact: m.Contact}
}

func (m *Message) IsIncoming() bool {
	return m.Direction == DirectionIncoming
}

// Draft is the unsent text of a conversation.
type Draft struct {
	ConversationID
	Text string `json:"text" cbor:"text"`
}

// Tombstone records a remote message deleted locally so sync does not
// re-import it.
type Tombstone struct {
	DID    string `json:"did" cbor:"did"`
	VoipID int64  `json:"voipId" cbor:"voip_id"`
}

// SyncState records when a DID was last fully synchronized.
type SyncState struct {
	DID          string    `json:"did" cbor:"did"`
	LastSyncedAt time.Time `json:"lastSyncedAt" cbor:"last_synced_at"`
}

// ConversationSummary is the read model backing conversation listings.
type ConversationSummary struct {
	ConversationID
	LastMessage Message `json:"lastMessage"`
	UnreadCount int     `json:"unreadCount"`
	Draft       string  `json:"draft,omitempty"`
	Archived    bool    `json:"archived"`
}

// ArchiveFilter selects conversations by archive state.
type ArchiveFilter int

const (
	ArchiveFilterUnarchived ArchiveFilter = iota
	ArchiveFilterArchived
	ArchiveFilterAll
)

// ConversationQuery narrows a conversation listing.
type ConversationQuery struct {
	DIDs    []string
	Filter  string
	Archive ArchiveFilter
}

// SyncInsertResult reports what a reconciliation pass changed.
type SyncInsertResult struct {
	Inserted             int
	SkippedExisting      int
	SkippedTombstoned    int
	IncomingConversation []ConversationID
}

// SnapshotVersion is the current Snapshot layout.
const SnapshotVersion = 1

// Snapshot is the full contents of the store, used for import and export.
type Snapshot struct {
	Version    int              `cbor:"version"`
	ExportedAt time.Time        `cbor:"exported_at"`
	Messages   []Message        `cbor:"messages"`
	Drafts     []Draft          `cbor:"drafts"`
	Tombstones []Tombstone      `cbor:"tombstones"`
	Archived   []ConversationID `cbor:"archived"`
	SyncStates []SyncState      `cbor:"sync_states"`
}
