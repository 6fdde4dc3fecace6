package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/constants"
	apperrors "github.com/michaelkourlas/voipms-sms-client-sub001/internal/errors"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/migrations"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/models"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/security"

	_ "github.com/mattn/go-sqlite3"
)

// Database is the local message store. Queries take a shared hold on the
// store lock and mutations an exclusive one.
type Database struct {
	db   *sql.DB
	lock *rwLock
	now  func() time.Time
}

func New(dbPath string, cfg *models.DatabaseConfig) (*Database, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}

	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	busyTimeout := constants.DefaultBusyTimeoutMs
	maxConns := constants.DefaultMaxConnections
	if cfg != nil {
		if cfg.BusyTimeoutMs > 0 {
			busyTimeout = cfg.BusyTimeoutMs
		}
		if cfg.MaxConnections > 0 {
			maxConns = cfg.MaxConnections
		}
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, constants.DefaultFilePerms)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on", dbPath, busyTimeout)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(maxConns)

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := migrations.Apply(context.Background(), db); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to apply migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDatabaseMigration, "failed to apply migrations")
	}

	return &Database{db: db, lock: newRWLock(), now: time.Now}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// read runs fn under a shared lock with transient failure retry.
func (d *Database) read(ctx context.Context, operation string, fn func() error) error {
	return d.guard(ctx, operation, d.lock.withRead, fn)
}

// write runs fn under the exclusive lock with transient failure retry.
func (d *Database) write(ctx context.Context, operation string, fn func() error) error {
	return d.guard(ctx, operation, d.lock.withWrite, fn)
}

func (d *Database) guard(ctx context.Context, operation string, hold func(context.Context, func() error) error, fn func() error) error {
	err := hold(ctx, func() error {
		return retryableDBOperation(ctx, fn, operation)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}
	return apperrors.NewDatabaseError(operation, err)
}

// inTx runs fn in a transaction that is rolled back unless fn succeeds.
func (d *Database) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		// A cancelled context has already rolled the transaction back.
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("failed to roll back transaction: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanMessage reads the messageColumns projection, followed by any extra
// destinations the query selects after it.
func scanMessage(s rowScanner, extra ...interface{}) (*models.Message, error) {
	var (
		msg       models.Message
		voipID    sql.NullInt64
		date      int64
		direction int
	)
	dest := []interface{}{
		&msg.ID, &voipID, &date, &direction, &msg.DID, &msg.Contact, &msg.Text,
		&msg.Unread, &msg.Delivered, &msg.DeliveryInProgress,
	}
	dest = append(dest, extra...)
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}
	if voipID.Valid {
		id := voipID.Int64
		msg.VoipID = &id
	}
	msg.Date = time.Unix(date, 0).UTC()
	msg.Direction = models.Direction(direction)
	return &msg, nil
}

func collectMessages(rows *sql.Rows) ([]models.Message, error) {
	defer rows.Close()
	var messages []models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return messages, nil
}

func nullableVoipID(id *int64) interface{} {
	if id == nil {
		return nil
	}
	return *id
}

func requireConversation(cid models.ConversationID) error {
	if cid.DID == "" {
		return apperrors.NewValidationError("did", "DID is required")
	}
	if cid.Contact == "" {
		return apperrors.NewValidationError("contact", "contact is required")
	}
	return nil
}

func checkAffected(result sql.Result, resource string, id int64) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return apperrors.NewNotFoundError(resource, fmt.Sprintf("%d", id))
	}
	return nil
}

func (d *Database) InsertMessage(ctx context.Context, msg *models.Message) (int64, error) {
	if msg == nil {
		return 0, apperrors.NewValidationError("message", "message is required")
	}
	if err := requireConversation(msg.ConversationID()); err != nil {
		return 0, err
	}
	if msg.Date.IsZero() {
		msg.Date = d.now()
	}

	var id int64
	err := d.write(ctx, "insert message", func() error {
		result, err := d.db.ExecContext(ctx, InsertMessageQuery,
			nullableVoipID(msg.VoipID),
			msg.Date.Unix(),
			int(msg.Direction),
			msg.DID,
			msg.Contact,
			msg.Text,
			msg.Unread,
			msg.Delivered,
			msg.DeliveryInProgress,
		)
		if err != nil {
			return err
		}
		id, err = result.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}
	msg.ID = id
	return id, nil
}

// InsertMessagesFromSync reconciles messages retrieved from the API with the
// store in a single transaction. Messages already present or tombstoned are
// skipped; with retrieveDeleted set, tombstoned messages are imported again
// and their tombstones cleared.
func (d *Database) InsertMessagesFromSync(ctx context.Context, messages []models.Message, retrieveDeleted bool) (*models.SyncInsertResult, error) {
	for i := range messages {
		if messages[i].VoipID == nil {
			return nil, apperrors.NewValidationError("voip_id", "synchronized messages must carry a remote id")
		}
		if err := requireConversation(messages[i].ConversationID()); err != nil {
			return nil, err
		}
	}

	var result *models.SyncInsertResult
	err := d.write(ctx, "insert synchronized messages", func() error {
		result = &models.SyncInsertResult{}
		return d.inTx(ctx, func(tx *sql.Tx) error {
			seen := make(map[models.ConversationID]bool)
			for i := range messages {
				msg := &messages[i]
				voipID := *msg.VoipID

				var exists bool
				if err := tx.QueryRowContext(ctx, ExistsMessageByVoipIDQuery, msg.DID, voipID).Scan(&exists); err != nil {
					return fmt.Errorf("failed to check message existence: %w", err)
				}
				if exists {
					result.SkippedExisting++
					continue
				}

				var tombstoned bool
				if err := tx.QueryRowContext(ctx, ExistsTombstoneQuery, msg.DID, voipID).Scan(&tombstoned); err != nil {
					return fmt.Errorf("failed to check tombstone: %w", err)
				}
				if tombstoned {
					if !retrieveDeleted {
						result.SkippedTombstoned++
						continue
					}
					if _, err := tx.ExecContext(ctx, DeleteTombstoneQuery, msg.DID, voipID); err != nil {
						return fmt.Errorf("failed to clear tombstone: %w", err)
					}
				}

				incoming := msg.IsIncoming()
				if !incoming {
					claimed, err := tx.ExecContext(ctx, ClaimPendingOutgoingQuery, voipID, msg.DID, msg.Contact, msg.Text)
					if err != nil {
						return fmt.Errorf("failed to match pending outgoing message: %w", err)
					}
					if n, _ := claimed.RowsAffected(); n > 0 {
						result.SkippedExisting++
						continue
					}
				}

				if _, err := tx.ExecContext(ctx, InsertMessageQuery,
					voipID,
					msg.Date.Unix(),
					int(msg.Direction),
					msg.DID,
					msg.Contact,
					msg.Text,
					incoming,
					!incoming,
					false,
				); err != nil {
					return fmt.Errorf("failed to insert message: %w", err)
				}
				result.Inserted++

				if incoming {
					cid := msg.ConversationID()
					if _, err := tx.ExecContext(ctx, DeleteArchivedQuery, cid.DID, cid.Contact); err != nil {
						return fmt.Errorf("failed to unarchive conversation: %w", err)
					}
					if !seen[cid] {
						seen[cid] = true
						result.IncomingConversation = append(result.IncomingConversation, cid)
					}
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetMessage returns nil when no message has the given id.
func (d *Database) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	var msg *models.Message
	err := d.read(ctx, "get message", func() error {
		var err error
		msg, err = scanMessage(d.db.QueryRowContext(ctx, SelectMessageByIDQuery, id))
		if err == sql.ErrNoRows {
			msg = nil
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// GetMessageByVoipID returns nil when the remote message is not stored.
func (d *Database) GetMessageByVoipID(ctx context.Context, did string, voipID int64) (*models.Message, error) {
	var msg *models.Message
	err := d.read(ctx, "get message by voip id", func() error {
		var err error
		msg, err = scanMessage(d.db.QueryRowContext(ctx, SelectMessageByVoipIDQuery, did, voipID))
		if err == sql.ErrNoRows {
			msg = nil
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// GetConversationMessages returns the conversation in chronological order.
// A non-empty filter keeps only messages whose text contains it, ignoring
// case.
func (d *Database) GetConversationMessages(ctx context.Context, cid models.ConversationID, filter string) ([]models.Message, error) {
	var messages []models.Message
	err := d.read(ctx, "get conversation messages", func() error {
		var (
			rows *sql.Rows
			err  error
		)
		if filter == "" {
			rows, err = d.db.QueryContext(ctx, SelectConversationMessagesQuery, cid.DID, cid.Contact)
		} else {
			rows, err = d.db.QueryContext(ctx, SelectConversationMessagesFilteredQuery, cid.DID, cid.Contact, likePattern(filter))
		}
		if err != nil {
			return err
		}
		messages, err = collectMessages(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (d *Database) GetUnreadMessages(ctx context.Context, cid models.ConversationID) ([]models.Message, error) {
	var messages []models.Message
	err := d.read(ctx, "get unread messages", func() error {
		rows, err := d.db.QueryContext(ctx, SelectUnreadMessagesQuery, cid.DID, cid.Contact)
		if err != nil {
			return err
		}
		messages, err = collectMessages(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// GetLatestMessageDate reports the date of the newest message stored for did.
// The boolean is false when the DID has no messages.
func (d *Database) GetLatestMessageDate(ctx context.Context, did string) (time.Time, bool, error) {
	var latest sql.NullInt64
	err := d.read(ctx, "get latest message date", func() error {
		return d.db.QueryRowContext(ctx, SelectLatestMessageDateQuery, did).Scan(&latest)
	})
	if err != nil {
		return time.Time{}, false, err
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	return time.Unix(latest.Int64, 0).UTC(), true, nil
}

func (d *Database) MarkMessageDeliveryInProgress(ctx context.Context, id int64) error {
	return d.write(ctx, "mark message delivery in progress", func() error {
		result, err := d.db.ExecContext(ctx, MarkDeliveryInProgressQuery, id)
		if err != nil {
			return err
		}
		return checkAffected(result, "message", id)
	})
}

func (d *Database) MarkMessageDelivered(ctx context.Context, id int64, voipID int64) error {
	return d.write(ctx, "mark message delivered", func() error {
		result, err := d.db.ExecContext(ctx, MarkDeliveredQuery, voipID, id)
		if err != nil {
			return err
		}
		return checkAffected(result, "message", id)
	})
}

func (d *Database) MarkMessageNotDelivered(ctx context.Context, id int64) error {
	return d.write(ctx, "mark message not delivered", func() error {
		result, err := d.db.ExecContext(ctx, MarkNotDeliveredQuery, id)
		if err != nil {
			return err
		}
		return checkAffected(result, "message", id)
	})
}

// GetStaleMessageCount counts outgoing messages that have been marked as
// being delivered for longer than threshold.
func (d *Database) GetStaleMessageCount(ctx context.Context, threshold time.Duration) (int, error) {
	var count int
	err := d.read(ctx, "count stale deliveries", func() error {
		cutoff := d.now().Add(-threshold).Unix()
		return d.db.QueryRowContext(ctx, CountStaleDeliveriesQuery, cutoff).Scan(&count)
	})
	return count, err
}

// GetUndeliveredMessageCount counts outgoing messages whose last send attempt
// failed.
func (d *Database) GetUndeliveredMessageCount(ctx context.Context) (int, error) {
	var count int
	err := d.read(ctx, "count undelivered messages", func() error {
		return d.db.QueryRowContext(ctx, CountUndeliveredQuery).Scan(&count)
	})
	return count, err
}

// DeleteMessage removes one message. A message that came from the API leaves
// a tombstone behind so the next sync does not restore it.
func (d *Database) DeleteMessage(ctx context.Context, id int64) error {
	return d.write(ctx, "delete message", func() error {
		return d.inTx(ctx, func(tx *sql.Tx) error {
			msg, err := scanMessage(tx.QueryRowContext(ctx, SelectMessageByIDQuery, id))
			if err == sql.ErrNoRows {
				return apperrors.NewNotFoundError("message", fmt.Sprintf("%d", id))
			}
			if err != nil {
				return fmt.Errorf("failed to load message: %w", err)
			}
			if msg.VoipID != nil {
				if _, err := tx.ExecContext(ctx, InsertTombstoneQuery, msg.DID, *msg.VoipID); err != nil {
					return fmt.Errorf("failed to record tombstone: %w", err)
				}
			}
			if _, err := tx.ExecContext(ctx, DeleteMessageByIDQuery, id); err != nil {
				return fmt.Errorf("failed to delete message: %w", err)
			}
			return nil
		})
	})
}
