package tracing

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestGenerateIDs(t *testing.T) {
	requestID := GenerateRequestID()
	assert.True(t, strings.HasPrefix(requestID, "req_"))
	assert.NotEqual(t, requestID, GenerateRequestID())

	traceID := GenerateTraceID()
	assert.Len(t, traceID, 32)
	assert.NotContains(t, traceID, "-")
}

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetRequestID(ctx))
	assert.Zero(t, Duration(ctx))

	start := time.Now().Add(-time.Second)
	parent := WithRequestID(ctx, "req_1")
	child := WithTraceID(parent, "trace")
	child = WithSpanID(child, "span")
	child = WithStartTime(child, start)

	info := GetRequestInfo(child)
	assert.Equal(t, "req_1", info.RequestID)
	assert.Equal(t, "trace", info.TraceID)
	assert.Equal(t, "span", info.SpanID)
	assert.Equal(t, start, info.StartTime)
	assert.GreaterOrEqual(t, Duration(child), time.Second)

	assert.Empty(t, GetTraceID(parent), "parent context must not see child updates")
	info.RequestID = "changed"
	assert.Equal(t, "req_1", GetRequestID(child))
}

func TestTracingManagerDisabled(t *testing.T) {
	tm := NewTracingManager(models.TracingConfig{}, logrus.New())
	assert.Equal(t, "voipms-sms", tm.config.ServiceName)
	require.NoError(t, tm.Initialize(context.Background()))
	assert.Nil(t, tm.tracerProvider)
	assert.NoError(t, tm.Shutdown(context.Background()))
}

func TestTracingManagerStdout(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	tm := NewTracingManager(models.TracingConfig{Enabled: true, UseStdout: true, SampleRate: 0}, logger)
	require.NoError(t, tm.Initialize(context.Background()))
	require.NotNil(t, tm.tracerProvider)
	assert.NoError(t, tm.Shutdown(context.Background()))
}

func TestSpanHelpersWithoutProvider(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "test", attribute.String("k", "v"))
	defer span.End()

	AddSpanAttributes(ctx, attribute.Int("n", 1))
	RecordError(ctx, errors.New("boom"))

	ctx, child := StartRequestSpan(ctx, "child")
	defer child.End()
	assert.Len(t, GetTraceID(ctx), 32)
}
