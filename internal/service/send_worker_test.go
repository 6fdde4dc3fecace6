package service

import (
	"context"
	"strings"
	"testing"
	"time"

	apperrors "github.com/michaelkourlas/voipms-sms-client-sub001/internal/errors"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/models"
	"github.com/michaelkourlas/voipms-sms-client-sub001/pkg/voipms"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var sendCID = models.ConversationID{DID: "2025550100", Contact: "2025550199"}

func newTestSendWorker(store MessageStore, client voipms.Client, notifier Notifier) *SendMessageWorker {
	w := NewSendMessageWorker(store, client, notifier, models.RetryConfig{}, testLogger())
	w.backoff = fastBackoff
	w.now = func() time.Time { return syncNow }
	return w
}

func TestSendTextSingleSegment(t *testing.T) {
	db := setupTestDB(t)
	client := &mockVoipClient{}
	ctx := context.Background()

	require.NoError(t, db.UpdateDraft(ctx, sendCID, "half written"))
	client.On("SendSMS", mock.Anything, sendCID.DID, sendCID.Contact, "hello there").Return(int64(4242), nil).Once()

	w := newTestSendWorker(db, client, &mockNotifier{})
	ids, err := w.SendText(ctx, sendCID, "  hello there ")
	require.NoError(t, err)
	require.Len(t, ids, 1)

	msg, err := db.GetMessage(ctx, ids[0])
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.True(t, msg.Delivered)
	assert.False(t, msg.DeliveryInProgress)
	require.NotNil(t, msg.VoipID)
	assert.Equal(t, int64(4242), *msg.VoipID)
	assert.Equal(t, models.DirectionOutgoing, msg.Direction)
	assert.True(t, msg.Date.Equal(syncNow))

	draft, err := db.GetDraft(ctx, sendCID)
	require.NoError(t, err)
	assert.Empty(t, draft)
	client.AssertExpectations(t)
}

func TestSendTextSplitsLongMessages(t *testing.T) {
	db := setupTestDB(t)
	client := &mockVoipClient{}
	ctx := context.Background()

	text := strings.Repeat("word ", 60)
	client.On("SendSMS", mock.Anything, sendCID.DID, sendCID.Contact, mock.AnythingOfType("string")).Return(int64(1), nil).Once()
	client.On("SendSMS", mock.Anything, sendCID.DID, sendCID.Contact, mock.AnythingOfType("string")).Return(int64(2), nil).Once()

	w := newTestSendWorker(db, client, nil)
	ids, err := w.SendText(ctx, sendCID, text)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	client.AssertNumberOfCalls(t, "SendSMS", 2)

	for i, id := range ids {
		msg, err := db.GetMessage(ctx, id)
		require.NoError(t, err)
		assert.True(t, msg.Delivered)
		assert.Equal(t, int64(i+1), *msg.VoipID)
		assert.LessOrEqual(t, len([]rune(msg.Text)), 160)
	}
}

func TestSendTextFailureMarksAndNotifies(t *testing.T) {
	db := setupTestDB(t)
	client := &mockVoipClient{}
	notifier := &mockNotifier{}
	ctx := context.Background()

	client.On("SendSMS", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(int64(0), apperrors.NewTransportError(voipms.MethodSendSMS, assert.AnError))
	notifier.On("NotifySendFailed", mock.Anything, mock.MatchedBy(func(msg *models.Message) bool {
		return msg.ConversationID() == sendCID && !msg.Delivered
	})).Return(nil).Once()

	w := newTestSendWorker(db, client, notifier)
	text := strings.Repeat("a", 150) + " " + strings.Repeat("b", 150)
	ids, err := w.SendText(ctx, sendCID, text)
	require.Error(t, err)
	require.Len(t, ids, 2)
	client.AssertNumberOfCalls(t, "SendSMS", 3)
	notifier.AssertExpectations(t)

	for _, id := range ids {
		msg, err := db.GetMessage(ctx, id)
		require.NoError(t, err)
		assert.False(t, msg.Delivered)
		assert.False(t, msg.DeliveryInProgress, "message %d still in progress", id)
	}
}

func TestSendTextValidation(t *testing.T) {
	w := newTestSendWorker(setupTestDB(t), &mockVoipClient{}, nil)
	ctx := context.Background()

	_, err := w.SendText(ctx, models.ConversationID{DID: sendCID.DID}, "hi")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))

	_, err = w.SendText(ctx, sendCID, "   ")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))

	_, err = w.SendText(ctx, sendCID, strings.Repeat("x", 1601))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))
}

func TestSendRetriesStoredMessage(t *testing.T) {
	db := setupTestDB(t)
	client := &mockVoipClient{}
	ctx := context.Background()

	id, err := db.InsertMessage(ctx, &models.Message{
		Date: syncNow, Direction: models.DirectionOutgoing,
		DID: sendCID.DID, Contact: sendCID.Contact, Text: "try again",
	})
	require.NoError(t, err)

	client.On("SendSMS", mock.Anything, sendCID.DID, sendCID.Contact, "try again").Return(int64(77), nil).Once()

	w := newTestSendWorker(db, client, nil)
	require.NoError(t, w.Send(ctx, id))

	msg, err := db.GetMessage(ctx, id)
	require.NoError(t, err)
	assert.True(t, msg.Delivered)
	assert.Equal(t, int64(77), *msg.VoipID)

	err = w.Send(ctx, id)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict))
	client.AssertNumberOfCalls(t, "SendSMS", 1)
}

func TestSendRefusesMessageAlreadyInFlight(t *testing.T) {
	db := setupTestDB(t)
	client := &mockVoipClient{}
	ctx := context.Background()

	id, err := db.InsertMessage(ctx, &models.Message{
		Date: syncNow.Add(-time.Minute), Direction: models.DirectionOutgoing,
		DID: sendCID.DID, Contact: sendCID.Contact, Text: "in flight",
	})
	require.NoError(t, err)
	require.NoError(t, db.MarkMessageDeliveryInProgress(ctx, id))

	w := newTestSendWorker(db, client, nil)
	err = w.Send(ctx, id)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict))
	client.AssertNotCalled(t, "SendSMS", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	// Past the stale threshold the attempt is treated as lost.
	client.On("SendSMS", mock.Anything, sendCID.DID, sendCID.Contact, "in flight").Return(int64(78), nil).Once()
	w.now = func() time.Time { return syncNow.Add(10 * time.Minute) }
	require.NoError(t, w.Send(ctx, id))

	msg, err := db.GetMessage(ctx, id)
	require.NoError(t, err)
	assert.True(t, msg.Delivered)
	assert.False(t, msg.DeliveryInProgress)
	client.AssertExpectations(t)
}

func TestSendRejectsIncomingAndMissing(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	w := newTestSendWorker(db, &mockVoipClient{}, nil)

	err := w.Send(ctx, 999)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))

	id, err := db.InsertMessage(ctx, &models.Message{
		Date: syncNow, Direction: models.DirectionIncoming,
		DID: sendCID.DID, Contact: sendCID.Contact, Text: "inbound",
	})
	require.NoError(t, err)
	err = w.Send(ctx, id)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict))
}

func TestSendAuthErrorIsNotRetried(t *testing.T) {
	db := setupTestDB(t)
	client := &mockVoipClient{}
	notifier := &mockNotifier{}
	ctx := context.Background()

	client.On("SendSMS", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(int64(0), apperrors.NewAuthError(voipms.StatusInvalidCredentials))
	notifier.On("NotifySendFailed", mock.Anything, mock.Anything).Return(assert.AnError)

	w := newTestSendWorker(db, client, notifier)
	_, err := w.SendText(ctx, sendCID, "hello")
	require.Error(t, err)
	assert.True(t, voipms.IsAuthError(err))
	client.AssertNumberOfCalls(t, "SendSMS", 1)
}
