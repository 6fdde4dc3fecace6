package main

import (
	"encoding/json"
	"net/http"

	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/metrics"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/service"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/tracing"

	"github.com/sirupsen/logrus"
)

// handleMetrics returns a snapshot of the in-process metrics registry
func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestInfo := tracing.GetRequestInfo(r.Context())
		fields := logrus.Fields{
			service.LogFieldRequestID: requestInfo.RequestID,
			service.LogFieldTraceID:   requestInfo.TraceID,
		}

		snapshot := metrics.GetAllMetrics()

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")

		if err := encoder.Encode(snapshot); err != nil {
			s.logger.WithFields(fields).WithError(err).Error("Failed to encode metrics response")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		s.logger.WithFields(fields).WithField("counters", len(snapshot.Counters)).Debug("Served metrics snapshot")
	}
}
