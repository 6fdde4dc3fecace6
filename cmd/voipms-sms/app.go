package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/backup"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/config"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/constants"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/database"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/models"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/notification"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/retry"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/service"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/tracing"
	"github.com/michaelkourlas/voipms-sms-client-sub001/pkg/voipms"

	"github.com/sirupsen/logrus"
)

// app holds the components shared by the commands and the HTTP server.
type app struct {
	cfg      *models.Config
	logger   *logrus.Logger
	db       *database.Database
	client   voipms.Client
	dids     []string
	hub      *notification.Hub
	notifier *notification.Notifier
	syncer   *service.SyncWorker
	sender   *service.SendMessageWorker
	lister   *service.RetrieveDidsWorker
	verifier *service.VerifyCredentialsWorker
	exporter *backup.Exporter
}

// newLogger builds the JSON logger used by every command.
func newLogger(cfg *models.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	applyLogLevel(logger, cfg)
	return logger
}

// applyLogLevel sets the configured level. Debug and trace output carry
// message contents, so they need --verbose.
func applyLogLevel(logger *logrus.Logger, cfg *models.Config) {
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		return
	}
	level := logrus.InfoLevel
	if cfg != nil && cfg.LogLevel != "" {
		parsed, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
		} else if parsed < logrus.InfoLevel {
			level = parsed
		}
	}
	logger.SetLevel(level)
}

// loadConfig reads the configuration file named by --config.
func loadConfig() (*models.Config, *logrus.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger := newLogger(cfg)
	if verbose {
		logger.Info("Verbose logging enabled - phone numbers and message text will be logged")
	}
	return cfg, logger, nil
}

// openDatabase opens the store, retrying while the file is busy.
func openDatabase(ctx context.Context, cfg *models.Config, logger *logrus.Logger) (*database.Database, error) {
	backoffConfig := retry.FromRetryConfig(cfg.Retry)
	backoffConfig.MaxAttempts = constants.DefaultDatabaseRetryAttempts

	var db *database.Database
	err := retry.NewBackoff(backoffConfig).Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(cfg.Database.Path, &cfg.Database)
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	return db, nil
}

// initTracing starts OpenTelemetry and returns its shutdown function. A
// failure only disables tracing.
func initTracing(ctx context.Context, cfg *models.Config, logger *logrus.Logger) func() {
	tracingConfig := cfg.Tracing
	if tracingConfig.ServiceVersion == "" {
		tracingConfig.ServiceVersion = Version
	}
	tracingManager := tracing.NewTracingManager(tracingConfig, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	return func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}
}

// newVoipClient builds the API client from configuration.
func newVoipClient(cfg *models.Config, logger *logrus.Logger) *voipms.HTTPClient {
	timeout := time.Duration(cfg.VoipMS.TimeoutSec) * time.Second
	return voipms.NewClient(voipms.Config{
		BaseURL:           cfg.VoipMS.APIURL,
		Username:          cfg.VoipMS.Username,
		Password:          cfg.VoipMS.Password,
		Timeout:           timeout,
		RequestsPerSecond: cfg.VoipMS.RequestsPerSecond,
	}, &http.Client{Timeout: timeout}, logger)
}

// newApp wires the workers around an open store and API client. When no
// DIDs are configured, the account's SMS enabled DIDs are used.
func newApp(ctx context.Context, cfg *models.Config, logger *logrus.Logger, db *database.Database, client voipms.Client) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		client:   client,
		lister:   service.NewRetrieveDidsWorker(client, cfg.Retry, logger),
		verifier: service.NewVerifyCredentialsWorker(client, cfg.Retry, logger),
		exporter: backup.NewExporter(db, logger),
	}

	dids := cfg.DIDs
	if len(dids) == 0 {
		retrieved, err := a.lister.RetrieveDIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to retrieve DIDs, configure them explicitly or check credentials: %w", err)
		}
		for _, did := range retrieved {
			dids = append(dids, did.Number)
		}
		logger.WithField(service.LogFieldCount, len(dids)).Info("Using SMS enabled DIDs from the account")
	}
	a.dids = dids

	maxLines := cfg.Notifications.MaxLines
	if maxLines <= 0 {
		maxLines = constants.DefaultNotificationMaxLines
	}
	a.hub = notification.NewHub(cfg.Notifications.SubscriberBuffer, logger)
	a.notifier = notification.NewNotifier(notification.NewBuilder(db, maxLines), a.hub, logger)

	syncer, err := service.NewSyncWorker(db, client, a.notifier, cfg.Sync, dids, cfg.Retry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync worker: %w", err)
	}
	a.syncer = syncer
	a.sender = service.NewSendMessageWorker(db, client, a.notifier, cfg.Retry, logger)

	return a, nil
}

// hasDID reports whether did is one of the DIDs this instance manages.
func (a *app) hasDID(did string) bool {
	for _, d := range a.dids {
		if d == did {
			return true
		}
	}
	return false
}

func (a *app) close() {
	a.hub.Close()
	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Warn("Failed to close database")
	}
}
