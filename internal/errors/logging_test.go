package errors

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferedLogger() (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})
	return NewLogger(logger), &buf
}

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogger_LogErrorIncludesAppErrorFields(t *testing.T) {
	logger, buf := newBufferedLogger()

	err := NewAPIStatusError("getSMS", "invalid_did").WithContext("password", "hunter2")
	logger.LogError(err, "sync failed", logrus.Fields{"did": "***4567"})

	entry := decodeEntry(t, buf)
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "sync failed", entry["msg"])
	assert.Equal(t, string(ErrCodeVoipMSAPI), entry["error_code"])
	assert.Equal(t, "getSMS", entry["method"])
	assert.Equal(t, "***4567", entry["did"])
	assert.NotContains(t, entry, "password")
}

func TestLogger_LogRetryableError(t *testing.T) {
	logger, buf := newBufferedLogger()
	logger.LogRetryableError(NewTransportError("sendSMS", errors.New("reset")), "send attempt failed")
	assert.Equal(t, "warning", decodeEntry(t, buf)["level"])

	buf.Reset()
	logger.LogRetryableError(NewAuthError("invalid_credentials"), "send attempt failed")
	assert.Equal(t, "error", decodeEntry(t, buf)["level"])
}

func TestNewLogger_NilCreatesLogger(t *testing.T) {
	logger := NewLogger(nil)
	require.NotNil(t, logger.Logger)
}
