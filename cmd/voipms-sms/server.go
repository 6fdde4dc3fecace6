package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/constants"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/middleware"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/versioning"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Server struct {
	router *mux.Router
	logger *logrus.Logger
	app    *app
	server *http.Server
}

func NewServer(a *app) *Server {
	s := &Server{
		router: mux.NewRouter(),
		logger: a.logger,
		app:    a,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.ObservabilityMiddleware(s.logger))
	if verbose {
		cfg := middleware.DefaultDetailedLoggingConfig()
		cfg.LogRequestBody = true
		s.router.Use(middleware.DetailedLoggingMiddleware(s.logger, cfg))
	}

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(versioning.NewVersionMiddleware(s.logger).VersionHandler)

	if s.app.cfg.Notifications.Enabled {
		api.Handle("/notifications",
			middleware.StreamObservabilityMiddleware(s.logger, "notifications")(s.app.hub)).
			Methods(http.MethodGet)
	}

	api.HandleFunc("/dids", s.handleListDIDs()).Methods(http.MethodGet)
	api.HandleFunc("/credentials/verify", s.handleVerifyCredentials()).Methods(http.MethodPost)
	api.HandleFunc("/sync", longRunning(s.handleSync())).Methods(http.MethodPost)

	api.HandleFunc("/backup", s.handleExport()).Methods(http.MethodGet)
	api.HandleFunc("/backup", longRunning(s.handleImport())).Methods(http.MethodPost)

	api.HandleFunc("/conversations", s.handleListConversations()).Methods(http.MethodGet)
	conversation := api.PathPrefix("/conversations/{did:[0-9]+}/{contact:[0-9]+}").Subrouter()
	conversation.HandleFunc("", s.handleDeleteConversation()).Methods(http.MethodDelete)
	conversation.HandleFunc("/messages", s.handleConversationMessages()).Methods(http.MethodGet)
	conversation.HandleFunc("/messages", longRunning(s.handleSendToConversation())).Methods(http.MethodPost)
	conversation.HandleFunc("/draft", s.handleGetDraft()).Methods(http.MethodGet)
	conversation.HandleFunc("/draft", s.handleUpdateDraft()).Methods(http.MethodPut)
	conversation.HandleFunc("/read", s.handleMarkRead(true)).Methods(http.MethodPost)
	conversation.HandleFunc("/unread", s.handleMarkRead(false)).Methods(http.MethodPost)
	conversation.HandleFunc("/archive", s.handleArchive(true)).Methods(http.MethodPost)
	conversation.HandleFunc("/unarchive", s.handleArchive(false)).Methods(http.MethodPost)

	api.HandleFunc("/messages", longRunning(s.handleSendNew())).Methods(http.MethodPost)
	api.HandleFunc("/messages/{id:[0-9]+}", s.handleGetMessage()).Methods(http.MethodGet)
	api.HandleFunc("/messages/{id:[0-9]+}", s.handleDeleteMessage()).Methods(http.MethodDelete)
	api.HandleFunc("/messages/{id:[0-9]+}/send", longRunning(s.handleResend())).Methods(http.MethodPost)
}

func (s *Server) Start() error {
	cfg := s.app.cfg.Server
	port := cfg.Port
	if port == "" {
		port = constants.DefaultServerPort
	}

	addr := net.JoinHostPort(cfg.Host, port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  secondsOr(cfg.ReadTimeoutSec, constants.DefaultServerReadTimeoutSec),
		WriteTimeout: secondsOr(cfg.WriteTimeoutSec, constants.DefaultServerWriteTimeoutSec),
		IdleTimeout:  secondsOr(cfg.IdleTimeoutSec, constants.DefaultServerIdleTimeoutSec),
	}

	s.logger.Infof("Starting server on %s", addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// longRunning lifts the server read and write deadlines for handlers that
// wait on the voip.ms API or read a backup upload. Their own worker timeouts
// and body limits bound them instead.
func longRunning(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rc := http.NewResponseController(w)
		_ = rc.SetReadDeadline(time.Time{})
		_ = rc.SetWriteDeadline(time.Time{})
		next(w, r)
	}
}

func secondsOr(value, fallback int) time.Duration {
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value) * time.Second
}
