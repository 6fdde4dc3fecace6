package tracing

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

type requestInfoKey struct{}

// RequestInfo is the correlation data attached to an HTTP request context.
type RequestInfo struct {
	RequestID string    `json:"request_id"`
	TraceID   string    `json:"trace_id"`
	SpanID    string    `json:"span_id"`
	StartTime time.Time `json:"start_time"`
}

func GenerateRequestID() string {
	return "req_" + uuid.NewString()
}

// GenerateTraceID returns 32 hex characters, the width of a W3C trace ID.
func GenerateTraceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// GetRequestInfo returns a copy of the request info in ctx. Missing fields
// are zero.
func GetRequestInfo(ctx context.Context) *RequestInfo {
	info := infoFrom(ctx)
	return &info
}

func infoFrom(ctx context.Context) RequestInfo {
	if info, ok := ctx.Value(requestInfoKey{}).(RequestInfo); ok {
		return info
	}
	return RequestInfo{}
}

// update stores a modified copy so parent contexts never observe the change.
func update(ctx context.Context, fn func(*RequestInfo)) context.Context {
	info := infoFrom(ctx)
	fn(&info)
	return context.WithValue(ctx, requestInfoKey{}, info)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return update(ctx, func(i *RequestInfo) { i.RequestID = requestID })
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return update(ctx, func(i *RequestInfo) { i.TraceID = traceID })
}

func WithSpanID(ctx context.Context, spanID string) context.Context {
	return update(ctx, func(i *RequestInfo) { i.SpanID = spanID })
}

func WithStartTime(ctx context.Context, startTime time.Time) context.Context {
	return update(ctx, func(i *RequestInfo) { i.StartTime = startTime })
}

func GetRequestID(ctx context.Context) string {
	return infoFrom(ctx).RequestID
}

func GetTraceID(ctx context.Context) string {
	return infoFrom(ctx).TraceID
}

// Duration reports the time elapsed since the start time in ctx, or zero.
func Duration(ctx context.Context) time.Duration {
	start := infoFrom(ctx).StartTime
	if start.IsZero() {
		return 0
	}
	return time.Since(start)
}
