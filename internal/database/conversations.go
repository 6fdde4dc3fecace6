package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/michaelkourlas/voipms-sms-client-sub001/internal/errors"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/models"
)

// likePattern turns free text into a LIKE pattern matching it anywhere,
// with the wildcard characters escaped.
func likePattern(filter string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(filter) + "%"
}

func didClause(column string, dids []string) (string, []interface{}) {
	placeholders := make([]string, len(dids))
	args := make([]interface{}, len(dids))
	for i, did := range dids {
		placeholders[i] = "?"
		args[i] = did
	}
	return fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ", ")), args
}

func buildSummariesQuery(q models.ConversationQuery) (string, []interface{}) {
	conditions := []string{"1 = 1"}
	var args []interface{}

	if len(q.DIDs) > 0 {
		clause, didArgs := didClause("did", q.DIDs)
		conditions = append(conditions, clause)
		args = append(args, didArgs...)
	}

	if q.Filter != "" {
		pattern := likePattern(q.Filter)
		conditions = append(conditions, `(did, contact) IN (
				SELECT did, contact FROM messages
				WHERE text LIKE ? ESCAPE '\' OR contact LIKE ? ESCAPE '\'
			)`)
		args = append(args, pattern, pattern)
	}

	archive := "1 = 1"
	switch q.Archive {
	case models.ArchiveFilterUnarchived:
		archive = "a.did IS NULL"
	case models.ArchiveFilterArchived:
		archive = "a.did IS NOT NULL"
	}

	return fmt.Sprintf(selectConversationSummariesTemplate, strings.Join(conditions, " AND "), archive), args
}

// GetConversationSummaries lists conversations newest first, one row per
// conversation built from its most recent message.
func (d *Database) GetConversationSummaries(ctx context.Context, q models.ConversationQuery) ([]models.ConversationSummary, error) {
	query, args := buildSummariesQuery(q)

	var summaries []models.ConversationSummary
	err := d.read(ctx, "get conversation summaries", func() error {
		rows, err := d.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		summaries = nil
		for rows.Next() {
			var summary models.ConversationSummary
			msg, err := scanMessage(rows, &summary.UnreadCount, &summary.Draft, &summary.Archived)
			if err != nil {
				return fmt.Errorf("failed to scan conversation summary: %w", err)
			}
			summary.ConversationID = msg.ConversationID()
			summary.LastMessage = *msg
			summaries = append(summaries, summary)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return summaries, nil
}

// GetConversationIDs lists every conversation with at least one message,
// optionally restricted to the given DIDs.
func (d *Database) GetConversationIDs(ctx context.Context, dids []string) ([]models.ConversationID, error) {
	query := `SELECT DISTINCT did, contact FROM messages`
	var args []interface{}
	if len(dids) > 0 {
		var clause string
		clause, args = didClause("did", dids)
		query += " WHERE " + clause
	}
	query += " ORDER BY did, contact"

	var ids []models.ConversationID
	err := d.read(ctx, "get conversation ids", func() error {
		rows, err := d.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		ids = nil
		for rows.Next() {
			var cid models.ConversationID
			if err := rows.Scan(&cid.DID, &cid.Contact); err != nil {
				return fmt.Errorf("failed to scan conversation id: %w", err)
			}
			ids = append(ids, cid)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (d *Database) MarkConversationRead(ctx context.Context, cid models.ConversationID) error {
	return d.write(ctx, "mark conversation read", func() error {
		_, err := d.db.ExecContext(ctx, MarkConversationReadQuery, cid.DID, cid.Contact)
		return err
	})
}

// MarkConversationUnread flags the most recent incoming message as unread.
// Conversations without incoming messages are left unchanged.
func (d *Database) MarkConversationUnread(ctx context.Context, cid models.ConversationID) error {
	return d.write(ctx, "mark conversation unread", func() error {
		_, err := d.db.ExecContext(ctx, MarkConversationUnreadQuery, cid.DID, cid.Contact)
		return err
	})
}

// DeleteConversation removes the conversation's messages, draft and archive
// flag, tombstoning every message that came from the API. It returns the
// number of messages removed.
func (d *Database) DeleteConversation(ctx context.Context, cid models.ConversationID) (int64, error) {
	if err := requireConversation(cid); err != nil {
		return 0, err
	}

	var deleted int64
	err := d.write(ctx, "delete conversation", func() error {
		return d.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, InsertConversationTombstonesQuery, cid.DID, cid.Contact); err != nil {
				return fmt.Errorf("failed to record tombstones: %w", err)
			}
			result, err := tx.ExecContext(ctx, DeleteConversationMessagesQuery, cid.DID, cid.Contact)
			if err != nil {
				return fmt.Errorf("failed to delete messages: %w", err)
			}
			if deleted, err = result.RowsAffected(); err != nil {
				return fmt.Errorf("failed to read affected rows: %w", err)
			}
			if _, err := tx.ExecContext(ctx, DeleteDraftQuery, cid.DID, cid.Contact); err != nil {
				return fmt.Errorf("failed to delete draft: %w", err)
			}
			if _, err := tx.ExecContext(ctx, DeleteArchivedQuery, cid.DID, cid.Contact); err != nil {
				return fmt.Errorf("failed to delete archive flag: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// GetDraft returns the empty string when the conversation has no draft.
func (d *Database) GetDraft(ctx context.Context, cid models.ConversationID) (string, error) {
	var text string
	err := d.read(ctx, "get draft", func() error {
		err := d.db.QueryRowContext(ctx, SelectDraftQuery, cid.DID, cid.Contact).Scan(&text)
		if err == sql.ErrNoRows {
			text = ""
			return nil
		}
		return err
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

// UpdateDraft stores the draft text of a conversation; empty text removes it.
func (d *Database) UpdateDraft(ctx context.Context, cid models.ConversationID, text string) error {
	if err := requireConversation(cid); err != nil {
		return err
	}
	return d.write(ctx, "update draft", func() error {
		if text == "" {
			_, err := d.db.ExecContext(ctx, DeleteDraftQuery, cid.DID, cid.Contact)
			return err
		}
		_, err := d.db.ExecContext(ctx, UpsertDraftQuery, cid.DID, cid.Contact, text)
		return err
	})
}

func (d *Database) MarkConversationArchived(ctx context.Context, cid models.ConversationID) error {
	if err := requireConversation(cid); err != nil {
		return err
	}
	return d.write(ctx, "archive conversation", func() error {
		_, err := d.db.ExecContext(ctx, InsertArchivedQuery, cid.DID, cid.Contact)
		return err
	})
}

func (d *Database) MarkConversationUnarchived(ctx context.Context, cid models.ConversationID) error {
	return d.write(ctx, "unarchive conversation", func() error {
		_, err := d.db.ExecContext(ctx, DeleteArchivedQuery, cid.DID, cid.Contact)
		return err
	})
}

func (d *Database) IsConversationArchived(ctx context.Context, cid models.ConversationID) (bool, error) {
	var archived bool
	err := d.read(ctx, "check archived", func() error {
		return d.db.QueryRowContext(ctx, ExistsArchivedQuery, cid.DID, cid.Contact).Scan(&archived)
	})
	if err != nil {
		return false, err
	}
	return archived, nil
}

// GetSyncState returns nil when the DID has never completed a sync.
func (d *Database) GetSyncState(ctx context.Context, did string) (*models.SyncState, error) {
	var state *models.SyncState
	err := d.read(ctx, "get sync state", func() error {
		var (
			s  models.SyncState
			ts int64
		)
		err := d.db.QueryRowContext(ctx, SelectSyncStateQuery, did).Scan(&s.DID, &ts)
		if err == sql.ErrNoRows {
			state = nil
			return nil
		}
		if err != nil {
			return err
		}
		s.LastSyncedAt = time.Unix(ts, 0).UTC()
		state = &s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

func (d *Database) UpdateSyncState(ctx context.Context, did string, syncedAt time.Time) error {
	if did == "" {
		return apperrors.NewValidationError("did", "DID is required")
	}
	return d.write(ctx, "update sync state", func() error {
		_, err := d.db.ExecContext(ctx, UpsertSyncStateQuery, did, syncedAt.Unix())
		return err
	})
}
