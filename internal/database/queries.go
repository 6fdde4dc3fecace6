package database

const messageColumns = `id, voip_id, date, type, did, contact, text, unread, delivered, delivery_in_progress`

// Message queries
const (
	InsertMessageQuery = `
		INSERT INTO messages (
			voip_id, date, type, did, contact, text,
			unread, delivered, delivery_in_progress
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	InsertMessageWithIDQuery = `
		INSERT INTO messages (
			id, voip_id, date, type, did, contact, text,
			unread, delivered, delivery_in_progress
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	SelectMessageByIDQuery = `SELECT ` + messageColumns + ` FROM messages WHERE id = ?`

	SelectMessageByVoipIDQuery = `SELECT ` + messageColumns + ` FROM messages WHERE did = ? AND voip_id = ?`

	SelectConversationMessagesQuery = `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE did = ? AND contact = ?
		ORDER BY date ASC, id ASC
	`

	SelectConversationMessagesFilteredQuery = `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE did = ? AND contact = ? AND text LIKE ? ESCAPE '\'
		ORDER BY date ASC, id ASC
	`

	SelectUnreadMessagesQuery = `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE did = ? AND contact = ? AND unread = 1
		ORDER BY date ASC, id ASC
	`

	SelectAllMessagesQuery = `SELECT ` + messageColumns + ` FROM messages ORDER BY id ASC`

	SelectLatestMessageDateQuery = `SELECT MAX(date) FROM messages WHERE did = ?`

	ExistsMessageByVoipIDQuery = `SELECT EXISTS (SELECT 1 FROM messages WHERE did = ? AND voip_id = ?)`

	// Attaches a remote id to the newest matching outgoing message still
	// being sent, so sync does not duplicate it.
	ClaimPendingOutgoingQuery = `
		UPDATE messages
		SET voip_id = ?, delivered = 1, delivery_in_progress = 0
		WHERE id = (
			SELECT id FROM messages
			WHERE did = ? AND contact = ? AND text = ? AND type = 0
			  AND voip_id IS NULL AND delivery_in_progress = 1
			ORDER BY date DESC, id DESC
			LIMIT 1
		)
	`

	MarkConversationReadQuery = `UPDATE messages SET unread = 0 WHERE did = ? AND contact = ? AND unread = 1`

	MarkConversationUnreadQuery = `
		UPDATE messages SET unread = 1
		WHERE id = (
			SELECT id FROM messages
			WHERE did = ? AND contact = ? AND type = 1
			ORDER BY date DESC, id DESC
			LIMIT 1
		)
	`

	MarkDeliveryInProgressQuery = `UPDATE messages SET delivered = 0, delivery_in_progress = 1 WHERE id = ?`

	MarkDeliveredQuery = `UPDATE messages SET voip_id = ?, delivered = 1, delivery_in_progress = 0 WHERE id = ?`

	CountStaleDeliveriesQuery = `
		SELECT COUNT(*) FROM messages
		WHERE type = 0 AND delivery_in_progress = 1 AND date < ?
	`

	CountUndeliveredQuery = `
		SELECT COUNT(*) FROM messages
		WHERE type = 0 AND delivered = 0 AND delivery_in_progress = 0
	`

	MarkNotDeliveredQuery = `UPDATE messages SET delivered = 0, delivery_in_progress = 0 WHERE id = ?`

	DeleteMessageByIDQuery = `DELETE FROM messages WHERE id = ?`

	DeleteConversationMessagesQuery = `DELETE FROM messages WHERE did = ? AND contact = ?`
)

// Tombstone queries
const (
	InsertTombstoneQuery = `INSERT OR IGNORE INTO deleted (did, voip_id) VALUES (?, ?)`

	InsertConversationTombstonesQuery = `
		INSERT OR IGNORE INTO deleted (did, voip_id)
		SELECT did, voip_id FROM messages
		WHERE did = ? AND contact = ? AND voip_id IS NOT NULL
	`

	ExistsTombstoneQuery = `SELECT EXISTS (SELECT 1 FROM deleted WHERE did = ? AND voip_id = ?)`

	DeleteTombstoneQuery = `DELETE FROM deleted WHERE did = ? AND voip_id = ?`

	SelectAllTombstonesQuery = `SELECT did, voip_id FROM deleted ORDER BY did, voip_id`
)

// Draft queries
const (
	UpsertDraftQuery = `
		INSERT INTO drafts (did, contact, text) VALUES (?, ?, ?)
		ON CONFLICT (did, contact) DO UPDATE SET text = excluded.text
	`

	SelectDraftQuery = `SELECT text FROM drafts WHERE did = ? AND contact = ?`

	DeleteDraftQuery = `DELETE FROM drafts WHERE did = ? AND contact = ?`

	SelectAllDraftsQuery = `SELECT did, contact, text FROM drafts ORDER BY did, contact`

	InsertDraftQuery = `INSERT INTO drafts (did, contact, text) VALUES (?, ?, ?)`
)

// Archive queries
const (
	InsertArchivedQuery = `INSERT OR IGNORE INTO archived (did, contact) VALUES (?, ?)`

	DeleteArchivedQuery = `DELETE FROM archived WHERE did = ? AND contact = ?`

	ExistsArchivedQuery = `SELECT EXISTS (SELECT 1 FROM archived WHERE did = ? AND contact = ?)`

	SelectAllArchivedQuery = `SELECT did, contact FROM archived ORDER BY did, contact`
)

// Sync state queries
const (
	UpsertSyncStateQuery = `
		INSERT INTO sync_state (did, last_synced_at) VALUES (?, ?)
		ON CONFLICT (did) DO UPDATE SET last_synced_at = excluded.last_synced_at
	`

	SelectSyncStateQuery = `SELECT did, last_synced_at FROM sync_state WHERE did = ?`

	SelectAllSyncStatesQuery = `SELECT did, last_synced_at FROM sync_state ORDER BY did`

	InsertSyncStateQuery = `INSERT INTO sync_state (did, last_synced_at) VALUES (?, ?)`
)

// Conversation listing. The %s placeholders take the message filter and the
// archive filter respectively.
const selectConversationSummariesTemplate = `
	SELECT m.id, m.voip_id, m.date, m.type, m.did, m.contact, m.text,
	       m.unread, m.delivered, m.delivery_in_progress,
	       s.unread_count, COALESCE(d.text, ''), a.did IS NOT NULL
	FROM (
		SELECT id, unread_count FROM (
			SELECT id,
			       SUM(unread) OVER (PARTITION BY did, contact) AS unread_count,
			       ROW_NUMBER() OVER (PARTITION BY did, contact ORDER BY date DESC, id DESC) AS rn
			FROM messages
			WHERE %s
		) WHERE rn = 1
	) s
	JOIN messages m ON m.id = s.id
	LEFT JOIN drafts d ON d.did = m.did AND d.contact = m.contact
	LEFT JOIN archived a ON a.did = m.did AND a.contact = m.contact
	WHERE %s
	ORDER BY m.date DESC, m.id DESC
`

// Tables cleared by DeleteAll and Restore, in dependency order.
var allTables = []string{"messages", "drafts", "deleted", "archived", "sync_state"}
