package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/michaelkourlas/voipms-sms-client-sub001/internal/errors"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testDID     = "5145550100"
	testContact = "5145550199"
)

func setupTestDB(t *testing.T) *Database {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := New(dbPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func voipID(id int64) *int64 {
	return &id
}

func testConversation() models.ConversationID {
	return models.ConversationID{DID: testDID, Contact: testContact}
}

func remoteMessage(id int64, dir models.Direction, contact, text string, date time.Time) models.Message {
	return models.Message{
		VoipID:    voipID(id),
		Date:      date,
		Direction: dir,
		DID:       testDID,
		Contact:   contact,
		Text:      text,
	}
}

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNew(t *testing.T) {
	t.Run("creates schema", func(t *testing.T) {
		db := setupTestDB(t)
		var count int
		err := db.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("reopens existing database", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "reopen.db")
		db, err := New(dbPath, &models.DatabaseConfig{BusyTimeoutMs: 1000, MaxConnections: 2})
		require.NoError(t, err)
		_, err = db.InsertMessage(context.Background(), &models.Message{DID: testDID, Contact: testContact, Text: "hi", Date: baseTime})
		require.NoError(t, err)
		require.NoError(t, db.Close())

		db, err = New(dbPath, nil)
		require.NoError(t, err)
		defer db.Close()
		ids, err := db.GetConversationIDs(context.Background(), nil)
		require.NoError(t, err)
		assert.Len(t, ids, 1)
	})

	t.Run("rejects invalid paths", func(t *testing.T) {
		_, err := New("", nil)
		assert.Error(t, err)
		_, err = New("../escape.db", nil)
		assert.Error(t, err)
	})
}

func TestInsertAndGetMessage(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	msg := &models.Message{
		Date:               baseTime,
		Direction:          models.DirectionOutgoing,
		DID:                testDID,
		Contact:            testContact,
		Text:               "hello",
		DeliveryInProgress: true,
	}
	id, err := db.InsertMessage(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, id, msg.ID)

	got, err := db.GetMessage(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "hello", got.Text)
	assert.Nil(t, got.VoipID)
	assert.True(t, got.Date.Equal(baseTime))
	assert.True(t, got.DeliveryInProgress)
	assert.False(t, got.IsIncoming())

	missing, err := db.GetMessage(ctx, id+100)
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = db.InsertMessage(ctx, &models.Message{DID: testDID})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))
}

func TestInsertMessagesFromSync(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts and deduplicates", func(t *testing.T) {
		db := setupTestDB(t)
		batch := []models.Message{
			remoteMessage(1, models.DirectionIncoming, testContact, "one", baseTime),
			remoteMessage(2, models.DirectionOutgoing, testContact, "two", baseTime.Add(time.Minute)),
		}

		result, err := db.InsertMessagesFromSync(ctx, batch, false)
		require.NoError(t, err)
		assert.Equal(t, 2, result.Inserted)
		assert.Equal(t, []models.ConversationID{testConversation()}, result.IncomingConversation)

		result, err = db.InsertMessagesFromSync(ctx, batch, false)
		require.NoError(t, err)
		assert.Equal(t, 0, result.Inserted)
		assert.Equal(t, 2, result.SkippedExisting)
		assert.Empty(t, result.IncomingConversation)

		incoming, err := db.GetMessageByVoipID(ctx, testDID, 1)
		require.NoError(t, err)
		assert.True(t, incoming.Unread)
		assert.False(t, incoming.Delivered)

		outgoing, err := db.GetMessageByVoipID(ctx, testDID, 2)
		require.NoError(t, err)
		assert.False(t, outgoing.Unread)
		assert.True(t, outgoing.Delivered)
	})

	t.Run("honors tombstones", func(t *testing.T) {
		db := setupTestDB(t)
		batch := []models.Message{remoteMessage(7, models.DirectionIncoming, testContact, "gone", baseTime)}
		_, err := db.InsertMessagesFromSync(ctx, batch, false)
		require.NoError(t, err)

		stored, err := db.GetMessageByVoipID(ctx, testDID, 7)
		require.NoError(t, err)
		require.NoError(t, db.DeleteMessage(ctx, stored.ID))

		result, err := db.InsertMessagesFromSync(ctx, batch, false)
		require.NoError(t, err)
		assert.Equal(t, 1, result.SkippedTombstoned)
		assert.Equal(t, 0, result.Inserted)

		result, err = db.InsertMessagesFromSync(ctx, batch, true)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Inserted)

		snap, err := db.Snapshot(ctx)
		require.NoError(t, err)
		assert.Empty(t, snap.Tombstones)
	})

	t.Run("unarchives on incoming", func(t *testing.T) {
		db := setupTestDB(t)
		cid := testConversation()
		_, err := db.InsertMessagesFromSync(ctx, []models.Message{
			remoteMessage(1, models.DirectionIncoming, testContact, "first", baseTime),
		}, false)
		require.NoError(t, err)
		require.NoError(t, db.MarkConversationArchived(ctx, cid))

		_, err = db.InsertMessagesFromSync(ctx, []models.Message{
			remoteMessage(2, models.DirectionOutgoing, testContact, "reply", baseTime.Add(time.Minute)),
		}, false)
		require.NoError(t, err)
		archived, err := db.IsConversationArchived(ctx, cid)
		require.NoError(t, err)
		assert.True(t, archived, "outgoing messages keep the archive flag")

		_, err = db.InsertMessagesFromSync(ctx, []models.Message{
			remoteMessage(3, models.DirectionIncoming, testContact, "again", baseTime.Add(2*time.Minute)),
		}, false)
		require.NoError(t, err)
		archived, err = db.IsConversationArchived(ctx, cid)
		require.NoError(t, err)
		assert.False(t, archived)
	})

	t.Run("claims pending outgoing message", func(t *testing.T) {
		db := setupTestDB(t)
		id, err := db.InsertMessage(ctx, &models.Message{
			Date:               baseTime,
			Direction:          models.DirectionOutgoing,
			DID:                testDID,
			Contact:            testContact,
			Text:               "on its way",
			DeliveryInProgress: true,
		})
		require.NoError(t, err)

		result, err := db.InsertMessagesFromSync(ctx, []models.Message{
			remoteMessage(40, models.DirectionOutgoing, testContact, "on its way", baseTime),
		}, false)
		require.NoError(t, err)
		assert.Equal(t, 0, result.Inserted)

		msg, err := db.GetMessage(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, msg.VoipID)
		assert.Equal(t, int64(40), *msg.VoipID)
		assert.True(t, msg.Delivered)
		assert.False(t, msg.DeliveryInProgress)
	})

	t.Run("requires remote id", func(t *testing.T) {
		db := setupTestDB(t)
		_, err := db.InsertMessagesFromSync(ctx, []models.Message{{DID: testDID, Contact: testContact}}, false)
		assert.Error(t, err)
	})
}

func TestConversationMessages(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	cid := testConversation()

	_, err := db.InsertMessagesFromSync(ctx, []models.Message{
		remoteMessage(3, models.DirectionIncoming, testContact, "Third 100%", baseTime.Add(2*time.Hour)),
		remoteMessage(1, models.DirectionIncoming, testContact, "First hello", baseTime),
		remoteMessage(2, models.DirectionOutgoing, testContact, "second HELLO", baseTime.Add(time.Hour)),
		remoteMessage(4, models.DirectionIncoming, "5145550000", "other hello", baseTime),
	}, false)
	require.NoError(t, err)

	all, err := db.GetConversationMessages(ctx, cid, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "First hello", all[0].Text)
	assert.Equal(t, "Third 100%", all[2].Text)

	filtered, err := db.GetConversationMessages(ctx, cid, "hello")
	require.NoError(t, err)
	assert.Len(t, filtered, 2)

	percent, err := db.GetConversationMessages(ctx, cid, "0%")
	require.NoError(t, err)
	require.Len(t, percent, 1)
	assert.Equal(t, "Third 100%", percent[0].Text)

	unread, err := db.GetUnreadMessages(ctx, cid)
	require.NoError(t, err)
	assert.Len(t, unread, 2)

	latest, ok, err := db.GetLatestMessageDate(ctx, testDID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, latest.Equal(baseTime.Add(2*time.Hour)))

	_, ok, err = db.GetLatestMessageDate(ctx, "5145559999")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReadState(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	cid := testConversation()

	_, err := db.InsertMessagesFromSync(ctx, []models.Message{
		remoteMessage(1, models.DirectionIncoming, testContact, "a", baseTime),
		remoteMessage(2, models.DirectionIncoming, testContact, "b", baseTime.Add(time.Minute)),
		remoteMessage(3, models.DirectionOutgoing, testContact, "c", baseTime.Add(2*time.Minute)),
	}, false)
	require.NoError(t, err)

	require.NoError(t, db.MarkConversationRead(ctx, cid))
	unread, err := db.GetUnreadMessages(ctx, cid)
	require.NoError(t, err)
	assert.Empty(t, unread)

	require.NoError(t, db.MarkConversationUnread(ctx, cid))
	unread, err = db.GetUnreadMessages(ctx, cid)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, "b", unread[0].Text)
}

func TestDeliveryState(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	id, err := db.InsertMessage(ctx, &models.Message{DID: testDID, Contact: testContact, Text: "x", Date: baseTime})
	require.NoError(t, err)

	require.NoError(t, db.MarkMessageDeliveryInProgress(ctx, id))
	msg, err := db.GetMessage(ctx, id)
	require.NoError(t, err)
	assert.True(t, msg.DeliveryInProgress)

	require.NoError(t, db.MarkMessageNotDelivered(ctx, id))
	msg, err = db.GetMessage(ctx, id)
	require.NoError(t, err)
	assert.False(t, msg.DeliveryInProgress)
	assert.False(t, msg.Delivered)

	require.NoError(t, db.MarkMessageDelivered(ctx, id, 99))
	msg, err = db.GetMessage(ctx, id)
	require.NoError(t, err)
	assert.True(t, msg.Delivered)
	require.NotNil(t, msg.VoipID)
	assert.Equal(t, int64(99), *msg.VoipID)

	err = db.MarkMessageDelivered(ctx, id+1, 100)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
}

func TestDeliveryCounts(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	old, err := db.InsertMessage(ctx, &models.Message{DID: testDID, Contact: testContact, Text: "old", Date: baseTime})
	require.NoError(t, err)
	fresh, err := db.InsertMessage(ctx, &models.Message{DID: testDID, Contact: testContact, Text: "fresh", Date: time.Now()})
	require.NoError(t, err)
	_, err = db.InsertMessage(ctx, &models.Message{
		Direction: models.DirectionIncoming, DID: testDID, Contact: testContact, Text: "in", Date: baseTime,
	})
	require.NoError(t, err)

	undelivered, err := db.GetUndeliveredMessageCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, undelivered)

	require.NoError(t, db.MarkMessageDeliveryInProgress(ctx, old))
	require.NoError(t, db.MarkMessageDeliveryInProgress(ctx, fresh))

	stale, err := db.GetStaleMessageCount(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, stale)

	undelivered, err = db.GetUndeliveredMessageCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, undelivered)
}

func TestDeleteConversation(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	cid := testConversation()

	_, err := db.InsertMessagesFromSync(ctx, []models.Message{
		remoteMessage(1, models.DirectionIncoming, testContact, "a", baseTime),
		remoteMessage(2, models.DirectionOutgoing, testContact, "b", baseTime.Add(time.Minute)),
	}, false)
	require.NoError(t, err)
	_, err = db.InsertMessage(ctx, &models.Message{DID: testDID, Contact: testContact, Text: "local", Date: baseTime})
	require.NoError(t, err)
	require.NoError(t, db.UpdateDraft(ctx, cid, "draft"))
	require.NoError(t, db.MarkConversationArchived(ctx, cid))

	deleted, err := db.DeleteConversation(ctx, cid)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	snap, err := db.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Messages)
	assert.Empty(t, snap.Drafts)
	assert.Empty(t, snap.Archived)
	assert.ElementsMatch(t, []models.Tombstone{{DID: testDID, VoipID: 1}, {DID: testDID, VoipID: 2}}, snap.Tombstones)
}

func TestDeleteMessage(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	id, err := db.InsertMessage(ctx, &models.Message{DID: testDID, Contact: testContact, Text: "local", Date: baseTime})
	require.NoError(t, err)
	require.NoError(t, db.DeleteMessage(ctx, id))

	snap, err := db.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Tombstones, "local messages leave no tombstone")

	err = db.DeleteMessage(ctx, id)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
}

func TestDrafts(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	cid := testConversation()

	text, err := db.GetDraft(ctx, cid)
	require.NoError(t, err)
	assert.Empty(t, text)

	require.NoError(t, db.UpdateDraft(ctx, cid, "first"))
	require.NoError(t, db.UpdateDraft(ctx, cid, "second"))
	text, err = db.GetDraft(ctx, cid)
	require.NoError(t, err)
	assert.Equal(t, "second", text)

	require.NoError(t, db.UpdateDraft(ctx, cid, ""))
	snap, err := db.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Drafts)
}

func TestGetConversationSummaries(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	other := "5145550000"

	_, err := db.InsertMessagesFromSync(ctx, []models.Message{
		remoteMessage(1, models.DirectionIncoming, testContact, "old", baseTime),
		remoteMessage(2, models.DirectionIncoming, testContact, "newest pizza", baseTime.Add(2*time.Hour)),
		remoteMessage(3, models.DirectionOutgoing, other, "about taxes", baseTime.Add(time.Hour)),
	}, false)
	require.NoError(t, err)
	require.NoError(t, db.UpdateDraft(ctx, testConversation(), "unsent"))

	summaries, err := db.GetConversationSummaries(ctx, models.ConversationQuery{})
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, testContact, summaries[0].Contact)
	assert.Equal(t, "newest pizza", summaries[0].LastMessage.Text)
	assert.Equal(t, 2, summaries[0].UnreadCount)
	assert.Equal(t, "unsent", summaries[0].Draft)
	assert.Equal(t, other, summaries[1].Contact)
	assert.Equal(t, 0, summaries[1].UnreadCount)

	filtered, err := db.GetConversationSummaries(ctx, models.ConversationQuery{Filter: "TAX"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, other, filtered[0].Contact)

	byContact, err := db.GetConversationSummaries(ctx, models.ConversationQuery{Filter: "0199"})
	require.NoError(t, err)
	require.Len(t, byContact, 1)
	assert.Equal(t, testContact, byContact[0].Contact)

	require.NoError(t, db.MarkConversationArchived(ctx, models.ConversationID{DID: testDID, Contact: other}))

	unarchived, err := db.GetConversationSummaries(ctx, models.ConversationQuery{Archive: models.ArchiveFilterUnarchived})
	require.NoError(t, err)
	require.Len(t, unarchived, 1)
	assert.Equal(t, testContact, unarchived[0].Contact)

	archived, err := db.GetConversationSummaries(ctx, models.ConversationQuery{Archive: models.ArchiveFilterArchived})
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.True(t, archived[0].Archived)

	all, err := db.GetConversationSummaries(ctx, models.ConversationQuery{Archive: models.ArchiveFilterAll})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	none, err := db.GetConversationSummaries(ctx, models.ConversationQuery{DIDs: []string{"5145559999"}, Archive: models.ArchiveFilterAll})
	require.NoError(t, err)
	assert.Empty(t, none)

	ids, err := db.GetConversationIDs(ctx, []string{testDID})
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestSyncState(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	state, err := db.GetSyncState(ctx, testDID)
	require.NoError(t, err)
	assert.Nil(t, state)

	require.NoError(t, db.UpdateSyncState(ctx, testDID, baseTime))
	require.NoError(t, db.UpdateSyncState(ctx, testDID, baseTime.Add(time.Hour)))

	state, err = db.GetSyncState(ctx, testDID)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.True(t, state.LastSyncedAt.Equal(baseTime.Add(time.Hour)))
}

func TestSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	source := setupTestDB(t)
	cid := testConversation()

	_, err := source.InsertMessagesFromSync(ctx, []models.Message{
		remoteMessage(1, models.DirectionIncoming, testContact, "a", baseTime),
		remoteMessage(2, models.DirectionIncoming, testContact, "b", baseTime.Add(time.Minute)),
	}, false)
	require.NoError(t, err)
	msg, err := source.GetMessageByVoipID(ctx, testDID, 1)
	require.NoError(t, err)
	require.NoError(t, source.DeleteMessage(ctx, msg.ID))
	require.NoError(t, source.UpdateDraft(ctx, cid, "draft"))
	require.NoError(t, source.MarkConversationArchived(ctx, cid))
	require.NoError(t, source.UpdateSyncState(ctx, testDID, baseTime))

	snap, err := source.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.SnapshotVersion, snap.Version)

	target := setupTestDB(t)
	_, err = target.InsertMessage(ctx, &models.Message{DID: testDID, Contact: "5145551234", Text: "replaced", Date: baseTime})
	require.NoError(t, err)
	require.NoError(t, target.Restore(ctx, snap))

	restored, err := target.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap.Messages, restored.Messages)
	assert.Equal(t, snap.Drafts, restored.Drafts)
	assert.Equal(t, snap.Tombstones, restored.Tombstones)
	assert.Equal(t, snap.Archived, restored.Archived)
	assert.Equal(t, snap.SyncStates, restored.SyncStates)

	t.Run("rejects duplicates atomically", func(t *testing.T) {
		bad := *snap
		bad.Messages = append(append([]models.Message{}, snap.Messages...), snap.Messages[0])
		assert.Error(t, target.Restore(ctx, &bad))

		after, err := target.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, snap.Messages, after.Messages)
	})

	t.Run("rejects unknown version", func(t *testing.T) {
		bad := *snap
		bad.Version = 99
		assert.Error(t, target.Restore(ctx, &bad))
	})

	require.NoError(t, target.DeleteAll(ctx))
	empty, err := target.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty.Messages)
	assert.Empty(t, empty.SyncStates)
}

func TestOperationsHonorCancelledContext(t *testing.T) {
	db := setupTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, db.lock.Lock(context.Background()))
	cancel()
	_, err := db.GetDraft(ctx, testConversation())
	db.lock.Unlock()

	assert.ErrorIs(t, err, context.Canceled)
}

func TestInTxRollback(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	id, err := db.InsertMessage(ctx, &models.Message{
		Date: baseTime, DID: testDID, Contact: testContact, Text: "survivor",
	})
	require.NoError(t, err)

	failure := errors.New("restore failed halfway")
	err = db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM messages"); err != nil {
			return err
		}
		return failure
	})
	assert.Equal(t, failure, err)

	msg, err := db.GetMessage(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "survivor", msg.Text)

	// A transaction already finished inside fn reports only the fn error.
	err = db.inTx(ctx, func(tx *sql.Tx) error {
		if err := tx.Commit(); err != nil {
			return err
		}
		return failure
	})
	assert.ErrorIs(t, err, failure)
	assert.NotErrorIs(t, err, sql.ErrTxDone)
}
