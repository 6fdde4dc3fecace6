package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	apperrors "github.com/michaelkourlas/voipms-sms-client-sub001/internal/errors"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/models"
)

// Snapshot reads the whole store in one read transaction.
func (d *Database) Snapshot(ctx context.Context) (*models.Snapshot, error) {
	var snap *models.Snapshot
	err := d.read(ctx, "snapshot", func() error {
		snap = &models.Snapshot{
			Version:    models.SnapshotVersion,
			ExportedAt: d.now().UTC(),
		}
		return d.inTx(ctx, func(tx *sql.Tx) error {
			rows, err := tx.QueryContext(ctx, SelectAllMessagesQuery)
			if err != nil {
				return fmt.Errorf("failed to read messages: %w", err)
			}
			if snap.Messages, err = collectMessages(rows); err != nil {
				return err
			}

			if err := queryEach(ctx, tx, SelectAllDraftsQuery, func(rows *sql.Rows) error {
				var draft models.Draft
				if err := rows.Scan(&draft.DID, &draft.Contact, &draft.Text); err != nil {
					return err
				}
				snap.Drafts = append(snap.Drafts, draft)
				return nil
			}); err != nil {
				return fmt.Errorf("failed to read drafts: %w", err)
			}

			if err := queryEach(ctx, tx, SelectAllTombstonesQuery, func(rows *sql.Rows) error {
				var tombstone models.Tombstone
				if err := rows.Scan(&tombstone.DID, &tombstone.VoipID); err != nil {
					return err
				}
				snap.Tombstones = append(snap.Tombstones, tombstone)
				return nil
			}); err != nil {
				return fmt.Errorf("failed to read tombstones: %w", err)
			}

			if err := queryEach(ctx, tx, SelectAllArchivedQuery, func(rows *sql.Rows) error {
				var cid models.ConversationID
				if err := rows.Scan(&cid.DID, &cid.Contact); err != nil {
					return err
				}
				snap.Archived = append(snap.Archived, cid)
				return nil
			}); err != nil {
				return fmt.Errorf("failed to read archived conversations: %w", err)
			}

			return queryEach(ctx, tx, SelectAllSyncStatesQuery, func(rows *sql.Rows) error {
				var (
					state models.SyncState
					ts    int64
				)
				if err := rows.Scan(&state.DID, &ts); err != nil {
					return err
				}
				state.LastSyncedAt = time.Unix(ts, 0).UTC()
				snap.SyncStates = append(snap.SyncStates, state)
				return nil
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func queryEach(ctx context.Context, tx *sql.Tx, query string, fn func(*sql.Rows) error) error {
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Restore replaces the contents of every table with snap. Nothing changes
// if any row is rejected.
func (d *Database) Restore(ctx context.Context, snap *models.Snapshot) error {
	if snap == nil {
		return apperrors.NewValidationError("snapshot", "snapshot is required")
	}
	if snap.Version != models.SnapshotVersion {
		return apperrors.NewValidationError("snapshot", fmt.Sprintf("unsupported snapshot version %d", snap.Version))
	}

	return d.write(ctx, "restore snapshot", func() error {
		return d.inTx(ctx, func(tx *sql.Tx) error {
			if err := clearTables(ctx, tx); err != nil {
				return err
			}

			for _, msg := range snap.Messages {
				if _, err := tx.ExecContext(ctx, InsertMessageWithIDQuery,
					msg.ID,
					nullableVoipID(msg.VoipID),
					msg.Date.Unix(),
					int(msg.Direction),
					msg.DID,
					msg.Contact,
					msg.Text,
					msg.Unread,
					msg.Delivered,
					msg.DeliveryInProgress,
				); err != nil {
					return fmt.Errorf("failed to restore message %d: %w", msg.ID, err)
				}
			}
			for _, draft := range snap.Drafts {
				if _, err := tx.ExecContext(ctx, InsertDraftQuery, draft.DID, draft.Contact, draft.Text); err != nil {
					return fmt.Errorf("failed to restore draft %s: %w", draft.ConversationID, err)
				}
			}
			for _, tombstone := range snap.Tombstones {
				if _, err := tx.ExecContext(ctx, InsertTombstoneQuery, tombstone.DID, tombstone.VoipID); err != nil {
					return fmt.Errorf("failed to restore tombstone: %w", err)
				}
			}
			for _, cid := range snap.Archived {
				if _, err := tx.ExecContext(ctx, InsertArchivedQuery, cid.DID, cid.Contact); err != nil {
					return fmt.Errorf("failed to restore archive flag %s: %w", cid, err)
				}
			}
			for _, state := range snap.SyncStates {
				if _, err := tx.ExecContext(ctx, InsertSyncStateQuery, state.DID, state.LastSyncedAt.Unix()); err != nil {
					return fmt.Errorf("failed to restore sync state for %s: %w", state.DID, err)
				}
			}
			return nil
		})
	})
}

// DeleteAll empties the store.
func (d *Database) DeleteAll(ctx context.Context) error {
	return d.write(ctx, "delete all", func() error {
		return d.inTx(ctx, func(tx *sql.Tx) error {
			return clearTables(ctx, tx)
		})
	})
}

func clearTables(ctx context.Context, tx *sql.Tx) error {
	for _, table := range allTables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}
