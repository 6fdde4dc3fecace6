package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/backup"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/constants"
	apperrors "github.com/michaelkourlas/voipms-sms-client-sub001/internal/errors"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/models"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/service"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/tracing"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/validation"
	"github.com/michaelkourlas/voipms-sms-client-sub001/pkg/circuitbreaker"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// BackupPassphraseHeader carries the passphrase for backup endpoints.
const BackupPassphraseHeader = "X-Backup-Passphrase"

type breakerReporter interface {
	BreakerStats() circuitbreaker.Stats
}

type healthResponse struct {
	Status      string                `json:"status"`
	Version     string                `json:"version"`
	DIDs        int                   `json:"dids"`
	Subscribers int                   `json:"subscribers"`
	VoipMS      *circuitbreaker.Stats `json:"voipms,omitempty"`
}

type textRequest struct {
	Text string `json:"text"`
}

type newMessageRequest struct {
	DID     string `json:"did"`
	Contact string `json:"contact"`
	Text    string `json:"text"`
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to a status code and the standard error body.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		err = apperrors.Wrap(err, apperrors.ErrCodeTimeout, "request timed out").
			WithUserMessage("The operation did not finish in time")
	}

	status := apperrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		apperrors.NewLogger(s.logger).LogError(err, "Request failed", logrus.Fields{
			service.LogFieldRoute: r.URL.Path,
		})
	}
	writeJSON(w, status, apperrors.ToHTTPResponse(err, tracing.GetRequestID(r.Context())))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if err := validation.ValidateHTTPRequestSize(r, constants.MaxRequestBodyBytes); err != nil {
		return err
	}
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, constants.MaxRequestBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return apperrors.NewValidationError("body", fmt.Sprintf("malformed JSON: %v", err))
	}
	return nil
}

// conversationFromVars reads the conversation from the route; numbers in
// paths are the stored digit form.
func conversationFromVars(r *http.Request) models.ConversationID {
	vars := mux.Vars(r)
	return models.ConversationID{
		DID:     validation.CanonicalizeNumber(vars["did"]),
		Contact: validation.CanonicalizeNumber(vars["contact"]),
	}
}

func messageIDFromVars(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.NewValidationError("id", "message id must be a positive integer")
	}
	return id, nil
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{
			Status:      "ok",
			Version:     Version,
			DIDs:        len(s.app.dids),
			Subscribers: s.app.hub.SubscriberCount(),
		}
		if reporter, ok := s.app.client.(breakerReporter); ok {
			stats := reporter.BreakerStats()
			resp.VoipMS = &stats
			if stats.State == circuitbreaker.StateOpen.String() {
				resp.Status = "degraded"
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleListConversations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := r.URL.Query()
		query := models.ConversationQuery{
			DIDs:   s.app.dids,
			Filter: params.Get("filter"),
		}
		if dids := params["did"]; len(dids) > 0 {
			query.DIDs = make([]string, 0, len(dids))
			for _, did := range dids {
				query.DIDs = append(query.DIDs, validation.CanonicalizeNumber(did))
			}
		}
		switch params.Get("archive") {
		case "", "unarchived":
			query.Archive = models.ArchiveFilterUnarchived
		case "archived":
			query.Archive = models.ArchiveFilterArchived
		case "all":
			query.Archive = models.ArchiveFilterAll
		default:
			s.writeError(w, r, apperrors.NewValidationError("archive", "must be one of unarchived, archived, all"))
			return
		}

		summaries, err := s.app.db.GetConversationSummaries(r.Context(), query)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if summaries == nil {
			summaries = []models.ConversationSummary{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"conversations": summaries})
	}
}

func (s *Server) handleConversationMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		messages, err := s.app.db.GetConversationMessages(r.Context(), conversationFromVars(r), r.URL.Query().Get("filter"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if messages == nil {
			messages = []models.Message{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
	}
}

func (s *Server) handleDeleteConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deleted, err := s.app.db.DeleteConversation(r.Context(), conversationFromVars(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
	}
}

func (s *Server) handleGetDraft() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		text, err := s.app.db.GetDraft(r.Context(), conversationFromVars(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, textRequest{Text: text})
	}
}

func (s *Server) handleUpdateDraft() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req textRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := validation.ValidateDraftText(req.Text); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.app.db.UpdateDraft(r.Context(), conversationFromVars(r), req.Text); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleMarkRead(read bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cid := conversationFromVars(r)
		var err error
		if read {
			err = s.app.db.MarkConversationRead(r.Context(), cid)
		} else {
			err = s.app.db.MarkConversationUnread(r.Context(), cid)
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleArchive(archived bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cid := conversationFromVars(r)
		var err error
		if archived {
			err = s.app.db.MarkConversationArchived(r.Context(), cid)
		} else {
			err = s.app.db.MarkConversationUnarchived(r.Context(), cid)
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleSendToConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req textRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		cid := conversationFromVars(r)
		if !s.app.hasDID(cid.DID) {
			s.writeError(w, r, apperrors.NewNotFoundError("did", cid.DID))
			return
		}
		s.sendText(w, r, cid, req.Text)
	}
}

func (s *Server) handleSendNew() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req newMessageRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		cid, err := parseConversation(s.app, req.DID, req.Contact)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.sendText(w, r, cid, req.Text)
	}
}

func (s *Server) sendText(w http.ResponseWriter, r *http.Request, cid models.ConversationID, text string) {
	ids, err := s.app.sender.SendText(r.Context(), cid, text)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"conversation": cid, "ids": ids})
}

func (s *Server) handleGetMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := messageIDFromVars(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeMessage(w, r, id)
	}
}

func (s *Server) writeMessage(w http.ResponseWriter, r *http.Request, id int64) {
	msg, err := s.app.db.GetMessage(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if msg == nil {
		s.writeError(w, r, apperrors.NewNotFoundError("message", strconv.FormatInt(id, 10)))
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleDeleteMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := messageIDFromVars(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.app.db.DeleteMessage(r.Context(), id); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleResend() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := messageIDFromVars(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.app.sender.Send(r.Context(), id); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeMessage(w, r, id)
	}
}

func (s *Server) handleSync() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recent := false
		if raw := r.URL.Query().Get("recent"); raw != "" {
			parsed, err := strconv.ParseBool(raw)
			if err != nil {
				s.writeError(w, r, apperrors.NewValidationError("recent", "must be a boolean"))
				return
			}
			recent = parsed
		}

		result, err := s.app.syncer.Sync(r.Context(), models.SyncOptions{ForceRecent: recent})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) handleListDIDs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dids, err := s.app.lister.RetrieveDIDs(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"dids": dids, "configured": s.app.dids})
	}
}

func (s *Server) handleVerifyCredentials() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentialsRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		ok, err := s.app.verifier.Verify(r.Context(), req.Username, req.Password)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"valid": ok})
	}
}

func (s *Server) handleExport() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if _, err := s.app.exporter.Export(r.Context(), &buf, r.Header.Get(BackupPassphraseHeader)); err != nil {
			s.writeError(w, r, err)
			return
		}

		filename := fmt.Sprintf("voipms-sms-%s.vmsb", time.Now().UTC().Format("20060102-150405"))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
		w.WriteHeader(http.StatusOK)
		_, _ = buf.WriteTo(w)
	}
}

func (s *Server) handleImport() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := s.app.cfg.Server.MaxBackupUploadBytes
		if limit <= 0 {
			limit = constants.DefaultMaxBackupUploadBytes
		}
		body := http.MaxBytesReader(w, r.Body, limit)

		summary, err := s.app.exporter.Import(r.Context(), body, r.Header.Get(BackupPassphraseHeader))
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			s.writeError(w, r, apperrors.New(apperrors.ErrCodePayloadTooLarge, "backup upload too large").
				WithContext("limit_bytes", tooLarge.Limit).
				WithUserMessage(fmt.Sprintf("Backup exceeds the %d byte upload limit", tooLarge.Limit)))
			return
		case errors.Is(err, backup.ErrPassphraseRequired), errors.Is(err, backup.ErrDecryptFailed):
			s.writeError(w, r, apperrors.Wrap(err, apperrors.ErrCodeAuthentication, "cannot decrypt backup").
				WithUserMessage(err.Error()))
			return
		case errors.Is(err, backup.ErrInvalidFormat):
			s.writeError(w, r, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid backup").
				WithUserMessage(err.Error()))
			return
		case err != nil:
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}
