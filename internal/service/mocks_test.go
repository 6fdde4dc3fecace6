package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/database"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/models"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/retry"
	"github.com/michaelkourlas/voipms-sms-client-sub001/pkg/voipms"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Mock VoIP.ms client
type mockVoipClient struct {
	mock.Mock
}

func (m *mockVoipClient) GetSMS(ctx context.Context, req voipms.GetSMSRequest) ([]voipms.SMS, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]voipms.SMS), args.Error(1)
}

func (m *mockVoipClient) SendSMS(ctx context.Context, did, dst, message string) (int64, error) {
	args := m.Called(ctx, did, dst, message)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockVoipClient) GetDIDsInfo(ctx context.Context) ([]voipms.DIDInfo, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]voipms.DIDInfo), args.Error(1)
}

func (m *mockVoipClient) WithCredentials(username, password string) voipms.Client {
	args := m.Called(username, password)
	return args.Get(0).(voipms.Client)
}

// Mock notifier
type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifyConversations(ctx context.Context, cids []models.ConversationID) error {
	args := m.Called(ctx, cids)
	return args.Error(0)
}

func (m *mockNotifier) NotifySendFailed(ctx context.Context, msg *models.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// Mock syncer counting calls
type mockSyncer struct {
	mu    sync.Mutex
	calls []models.SyncOptions
	err   error
}

func (m *mockSyncer) Sync(ctx context.Context, opts models.SyncOptions) (*models.SyncResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, opts)
	if m.err != nil {
		return nil, m.err
	}
	return &models.SyncResult{RunID: "run"}, nil
}

func (m *mockSyncer) Calls() []models.SyncOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.SyncOptions(nil), m.calls...)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func setupTestDB(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "service.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// fastBackoff keeps retry tests quick.
var fastBackoff = retry.BackoffConfig{
	InitialDelay: 0,
	MaxDelay:     0,
	Multiplier:   1,
	MaxAttempts:  3,
}
