package versioning

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMiddleware() *VersionMiddleware {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return NewVersionMiddleware(logger)
}

func TestVersionHandler(t *testing.T) {
	tests := []struct {
		name            string
		headers         map[string]string
		expectedStatus  int
		expectedVersion APIVersion
	}{
		{"no header", nil, http.StatusOK, CurrentVersion},
		{"accept version", map[string]string{AcceptVersionHeader: "1.0"}, http.StatusOK, V1_0_0},
		{"api version header", map[string]string{APIVersionHeader: "1.1.0"}, http.StatusOK, V1_1_0},
		{"accept version wins", map[string]string{AcceptVersionHeader: "1", APIVersionHeader: "1.1"}, http.StatusOK, V1_0_0},
		{"malformed", map[string]string{AcceptVersionHeader: "latest"}, http.StatusBadRequest, APIVersion{}},
		{"too new", map[string]string{AcceptVersionHeader: "2.0.0"}, http.StatusNotImplemented, APIVersion{}},
		{"newer minor", map[string]string{AcceptVersionHeader: "1.5"}, http.StatusNotImplemented, APIVersion{}},
		{"too old", map[string]string{AcceptVersionHeader: "0.9.0"}, http.StatusUpgradeRequired, APIVersion{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen APIVersion
			var called bool
			handler := newTestMiddleware().VersionHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				seen, _ = GetVersionFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/dids", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.Equal(t, CurrentVersion.String(), rr.Header().Get(CurrentVersionHeader))
			assert.Equal(t, GetVersionRange(), rr.Header().Get(SupportedVersionsHeader))

			if tt.expectedStatus != http.StatusOK {
				assert.False(t, called)
				var body map[string]map[string]interface{}
				require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
				assert.Equal(t, ErrCodeVersionIncompatible, body["error"]["code"])
				return
			}
			assert.True(t, called)
			assert.Equal(t, tt.expectedVersion, seen)
		})
	}
}

func TestGetVersionFromContext_Missing(t *testing.T) {
	_, ok := GetVersionFromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context())
	assert.False(t, ok)
}
