package versioning

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
)

type contextKey string

const VersionContextKey contextKey = "api_version"

const (
	// Request headers
	AcceptVersionHeader = "Accept-Version"
	APIVersionHeader    = "X-API-Version"

	// Response headers
	CurrentVersionHeader    = "X-Current-Version"
	SupportedVersionsHeader = "X-Supported-Versions"
)

const ErrCodeVersionIncompatible = "VERSION_INCOMPATIBLE"

type VersionMiddleware struct {
	logger *logrus.Logger
}

func NewVersionMiddleware(logger *logrus.Logger) *VersionMiddleware {
	return &VersionMiddleware{logger: logger}
}

// VersionHandler negotiates the API version from the request headers. A
// request without a version header is served as the current version.
func (vm *VersionMiddleware) VersionHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(CurrentVersionHeader, CurrentVersion.String())
		w.Header().Set(SupportedVersionsHeader, GetVersionRange())

		requested, raw, ok := vm.extractVersion(r)
		if !ok {
			vm.reject(w, r, http.StatusBadRequest, "invalid API version "+raw)
			return
		}
		if !IsVersionSupported(requested) {
			status := http.StatusNotImplemented
			if requested.Compare(MinimumSupportedVersion) < 0 {
				status = http.StatusUpgradeRequired
			}
			vm.reject(w, r, status, "API version "+requested.String()+" is not supported")
			return
		}

		ctx := context.WithValue(r.Context(), VersionContextKey, requested)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (vm *VersionMiddleware) extractVersion(r *http.Request) (APIVersion, string, bool) {
	raw := r.Header.Get(AcceptVersionHeader)
	if raw == "" {
		raw = r.Header.Get(APIVersionHeader)
	}
	if raw == "" {
		return CurrentVersion, "", true
	}

	version, err := ParseVersion(raw)
	if err != nil {
		vm.logger.WithField("version_string", raw).Debug("Invalid API version header")
		return APIVersion{}, raw, false
	}
	return version, raw, true
}

func (vm *VersionMiddleware) reject(w http.ResponseWriter, r *http.Request, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	body := map[string]interface{}{
		"error": map[string]interface{}{
			"code":    ErrCodeVersionIncompatible,
			"message": message,
			"context": map[string]interface{}{
				"current":   CurrentVersion.String(),
				"supported": GetVersionRange(),
			},
		},
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		vm.logger.WithError(err).Error("Failed to encode version error response")
	}

	vm.logger.WithFields(logrus.Fields{
		"status":     status,
		"path":       r.URL.Path,
		"user_agent": r.UserAgent(),
	}).Warn("Incompatible API version requested")
}

// GetVersionFromContext returns the version negotiated for the request.
func GetVersionFromContext(ctx context.Context) (APIVersion, bool) {
	version, ok := ctx.Value(VersionContextKey).(APIVersion)
	return version, ok
}
