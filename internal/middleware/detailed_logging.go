package middleware

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/httputil"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/privacy"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/service"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/tracing"

	"github.com/sirupsen/logrus"
)

const maskedValue = "***MASKED***"

// DetailedLoggingConfig selects which parts of each exchange are logged at
// debug level when the server runs with --verbose.
type DetailedLoggingConfig struct {
	LogRequestHeaders  bool
	LogResponseHeaders bool
	LogRequestBody     bool
	LogResponseBody    bool
	MaxBodySize        int
	SensitiveHeaders   []string
	// Requests whose path starts with one of these are passed through.
	SkipPrefixes []string
}

func DefaultDetailedLoggingConfig() DetailedLoggingConfig {
	return DetailedLoggingConfig{
		LogRequestHeaders: true,
		MaxBodySize:       1024,
		SensitiveHeaders: []string{
			"Authorization", "Cookie", "Set-Cookie", "X-Backup-Passphrase",
		},
		SkipPrefixes: []string{"/health", "/metrics", "/api/notifications", "/api/backup"},
	}
}

// DetailedLoggingMiddleware logs request and response details for debugging.
// Bodies and numbers stay masked unless the request context is verbose.
func DetailedLoggingMiddleware(logger *logrus.Logger, config DetailedLoggingConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if config.skipped(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			info := tracing.GetRequestInfo(r.Context())
			logger.WithFields(config.requestFields(r, info)).Debug("Detailed request logging")

			if !config.LogResponseBody && !config.LogResponseHeaders {
				next.ServeHTTP(w, r)
				return
			}

			recorder := &bodyRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)
			logger.WithFields(config.responseFields(r.Context(), recorder, info)).Debug("Detailed response logging")
		})
	}
}

func (c DetailedLoggingConfig) skipped(path string) bool {
	for _, prefix := range c.SkipPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (c DetailedLoggingConfig) requestFields(r *http.Request, info *tracing.RequestInfo) logrus.Fields {
	fields := logrus.Fields{
		service.LogFieldRequestID: info.RequestID,
		service.LogFieldTraceID:   info.TraceID,
		service.LogFieldMethod:    r.Method,
		service.LogFieldURL:       r.URL.String(),
		service.LogFieldRemoteIP:  httputil.GetClientIP(r),
		"content_length":          r.ContentLength,
	}
	if c.LogRequestHeaders {
		fields["request_headers"] = c.flattenHeaders(r.Header)
	}
	if c.LogRequestBody && shouldLogBody(r) && r.ContentLength > 0 && r.ContentLength <= int64(c.MaxBodySize) {
		if body, err := io.ReadAll(r.Body); err == nil {
			r.Body = io.NopCloser(bytes.NewReader(body))
			fields["request_body"] = maskBody(r.Context(), string(body))
		}
	}
	return fields
}

func (c DetailedLoggingConfig) responseFields(ctx context.Context, rec *bodyRecorder, info *tracing.RequestInfo) logrus.Fields {
	fields := logrus.Fields{
		service.LogFieldRequestID:  info.RequestID,
		service.LogFieldTraceID:    info.TraceID,
		service.LogFieldStatusCode: rec.status,
		service.LogFieldSize:       rec.body.Len(),
	}
	if c.LogResponseHeaders {
		fields["response_headers"] = c.flattenHeaders(rec.Header())
	}
	if c.LogResponseBody && rec.body.Len() > 0 {
		if rec.body.Len() > c.MaxBodySize {
			fields["response_body"] = fmt.Sprintf("***TRUNCATED*** (size: %d bytes)", rec.body.Len())
		} else {
			fields["response_body"] = maskBody(ctx, rec.body.String())
		}
	}
	return fields
}

func (c DetailedLoggingConfig) flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if isSensitiveHeader(name, c.SensitiveHeaders) {
			out[name] = maskedValue
			continue
		}
		out[name] = strings.Join(values, ", ")
	}
	return out
}

// bodyRecorder copies everything written to the client into a buffer.
type bodyRecorder struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (b *bodyRecorder) WriteHeader(status int) {
	b.status = status
	b.ResponseWriter.WriteHeader(status)
}

func (b *bodyRecorder) Write(data []byte) (int, error) {
	n, err := b.ResponseWriter.Write(data)
	b.body.Write(data[:n])
	return n, err
}

func (b *bodyRecorder) Unwrap() http.ResponseWriter {
	return b.ResponseWriter
}

func maskBody(ctx context.Context, body string) string {
	if service.IsVerboseLogging(ctx) {
		return body
	}
	return privacy.MaskMessageText(body)
}

func isSensitiveHeader(name string, sensitive []string) bool {
	for _, s := range sensitive {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}

// shouldLogBody accepts JSON, form and text bodies only.
func shouldLogBody(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	switch {
	case mediaType == "application/json", mediaType == "application/x-www-form-urlencoded":
		return true
	case strings.HasPrefix(mediaType, "text/"):
		return true
	}
	return false
}
