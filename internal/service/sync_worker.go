package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/constants"
	apperrors "github.com/michaelkourlas/voipms-sms-client-sub001/internal/errors"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/metrics"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/models"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/retry"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/tracing"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/validation"
	"github.com/michaelkourlas/voipms-sms-client-sub001/pkg/voipms"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

const (
	syncModeFull   = "full"
	syncModeRecent = "recent"
)

// dateRange is an inclusive span of calendar days in UTC.
type dateRange struct {
	From time.Time
	To   time.Time
}

// SyncWorker pulls messages from the API into the store.
type SyncWorker struct {
	store     MessageStore
	client    voipms.Client
	notifier  Notifier
	config    models.SyncConfig
	dids      []string
	startDate time.Time
	backoff   retry.BackoffConfig
	logger    *logrus.Logger
	group     singleflight.Group
	now       func() time.Time
}

func NewSyncWorker(store MessageStore, client voipms.Client, notifier Notifier, config models.SyncConfig, dids []string, retryConfig models.RetryConfig, logger *logrus.Logger) (*SyncWorker, error) {
	if config.StartDate == "" {
		config.StartDate = constants.DefaultSyncStartDate
	}
	startDate, err := validation.ValidateDate(config.StartDate, "sync.start_date")
	if err != nil {
		return nil, err
	}
	if config.ChunkDays <= 0 || config.ChunkDays > constants.MaxSyncChunkDays {
		config.ChunkDays = constants.DefaultSyncChunkDays
	}
	if config.RecentDays <= 0 {
		config.RecentDays = constants.DefaultSyncRecentDays
	}
	if config.TimeoutSec <= 0 {
		config.TimeoutSec = constants.DefaultSyncTimeoutSec
	}
	if logger == nil {
		logger = logrus.New()
	}

	backoff := retry.FromRetryConfig(retryConfig)
	backoff.MaxAttempts = constants.WorkerRetryAttempts

	return &SyncWorker{
		store:     store,
		client:    client,
		notifier:  notifier,
		config:    config,
		dids:      append([]string(nil), dids...),
		startDate: startDate,
		backoff:   backoff,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Sync runs one synchronization pass over every configured DID. Concurrent
// calls for the same mode share a single pass. The pass runs detached from
// ctx, which only bounds how long this caller waits for it.
func (w *SyncWorker) Sync(ctx context.Context, opts models.SyncOptions) (*models.SyncResult, error) {
	mode := syncModeFull
	if opts.ForceRecent || w.config.RetrieveOnlyRecent {
		mode = syncModeRecent
	}

	ch := w.group.DoChan(mode, func() (interface{}, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Duration(w.config.TimeoutSec)*time.Second)
		defer cancel()
		return w.run(runCtx, mode == syncModeRecent)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		result, _ := res.Val.(*models.SyncResult)
		return result, res.Err
	}
}

func (w *SyncWorker) run(ctx context.Context, recent bool) (*models.SyncResult, error) {
	mode := syncModeFull
	if recent {
		mode = syncModeRecent
	}

	result := &models.SyncResult{
		RunID:     uuid.NewString(),
		StartedAt: w.now().UTC(),
		Recent:    recent,
	}

	ctx, span := tracing.StartSpan(ctx, "sync.run",
		attribute.String("sync.run_id", result.RunID),
		attribute.String("sync.mode", mode),
		attribute.Int("sync.dids", len(w.dids)),
	)
	defer span.End()

	logger := w.logger.WithFields(logrus.Fields{
		LogFieldRunID: result.RunID,
		LogFieldMode:  mode,
	})
	logger.Info("Starting message synchronization")
	metrics.IncrementCounter("sync_runs_total", map[string]string{"mode": mode}, "Synchronization runs started")

	if len(w.dids) == 0 {
		logger.Warn("Skipping synchronization: no DIDs configured")
		result.FinishedAt = w.now().UTC()
		return result, nil
	}

	var errs []error
	seen := make(map[models.ConversationID]bool)
	for _, did := range w.dids {
		gained, err := w.syncDID(ctx, did, recent, result, logger)
		for _, cid := range gained {
			if !seen[cid] {
				seen[cid] = true
				result.Conversations = append(result.Conversations, cid)
			}
		}
		if err == nil {
			continue
		}

		errs = append(errs, fmt.Errorf("did %s: %w", SanitizePhoneNumber(ctx, did), err))
		if voipms.IsAuthError(err) || ctx.Err() != nil {
			break
		}
	}

	result.FinishedAt = w.now().UTC()
	duration := result.FinishedAt.Sub(result.StartedAt)
	metrics.RecordTimer("sync_duration", duration, map[string]string{"mode": mode}, "Synchronization run duration")
	metrics.AddToCounter("sync_messages_inserted_total", float64(result.Inserted), nil, "Messages inserted by synchronization")

	span.SetAttributes(
		attribute.Int("sync.chunks", result.Chunks),
		attribute.Int("sync.retrieved", result.Retrieved),
		attribute.Int("sync.inserted", result.Inserted),
	)

	if len(errs) > 0 {
		err := errors.Join(errs...)
		tracing.RecordError(ctx, err)
		metrics.IncrementCounter("sync_failures_total", map[string]string{"mode": mode}, "Synchronization runs that failed")
		logger.WithError(err).Error("Failed to synchronize messages")
		return result, err
	}

	logger.WithFields(logrus.Fields{
		LogFieldInserted: result.Inserted,
		LogFieldCount:    result.Retrieved,
		LogFieldDuration: duration.Milliseconds(),
	}).Info("Completed message synchronization")
	return result, nil
}

// syncDID synchronizes one DID and returns the conversations that gained
// incoming messages. Chunks reconciled before a failure stay committed.
func (w *SyncWorker) syncDID(ctx context.Context, did string, recent bool, result *models.SyncResult, logger *logrus.Entry) ([]models.ConversationID, error) {
	ctx, span := tracing.StartSpan(ctx, "sync.did", attribute.Bool("sync.recent", recent))
	defer span.End()

	state, err := w.store.GetSyncState(ctx, did)
	if err != nil {
		return nil, fmt.Errorf("failed to read sync state: %w", err)
	}
	firstSync := state == nil

	window := w.syncRange(ctx, did, recent)
	from, to := window.From, window.To
	chunks := splitRange(from, to, w.config.ChunkDays)

	didLogger := logger.WithFields(logrus.Fields{
		LogFieldDID:       SanitizePhoneNumber(ctx, did),
		LogFieldRangeFrom: from.Format("2006-01-02"),
		LogFieldRangeTo:   to.Format("2006-01-02"),
		LogFieldCount:     len(chunks),
	})
	didLogger.Debug("Synchronizing DID")

	var gained []models.ConversationID
	// Chunks committed before a failure still notify; the messages would
	// otherwise be skipped as existing on the next run.
	defer func() {
		w.notify(context.WithoutCancel(ctx), gained, firstSync, didLogger)
	}()

	for i, chunk := range chunks {
		messages, err := w.fetchChunk(ctx, did, chunk, didLogger.WithField(LogFieldChunk, i))
		if err != nil {
			tracing.RecordError(ctx, err)
			metrics.IncrementCounter("sync_chunk_failures_total", nil, "Chunks that could not be retrieved")
			return gained, err
		}
		result.Chunks++
		result.Retrieved += len(messages)
		if len(messages) == 0 {
			continue
		}

		inserted, err := w.store.InsertMessagesFromSync(ctx, messages, w.config.RetrieveDeleted)
		if err != nil {
			return gained, fmt.Errorf("failed to store retrieved messages: %w", err)
		}
		result.Inserted += inserted.Inserted
		gained = appendUnique(gained, inserted.IncomingConversation...)

		didLogger.WithFields(logrus.Fields{
			LogFieldChunk:    i,
			LogFieldInserted: inserted.Inserted,
			LogFieldSkipped:  inserted.SkippedExisting + inserted.SkippedTombstoned,
		}).Debug("Reconciled chunk")
	}

	if err := w.store.UpdateSyncState(ctx, did, w.now()); err != nil {
		return gained, fmt.Errorf("failed to record sync state: %w", err)
	}

	return gained, nil
}

func (w *SyncWorker) notify(ctx context.Context, gained []models.ConversationID, firstSync bool, logger *logrus.Entry) {
	if len(gained) == 0 || w.notifier == nil {
		return
	}
	if firstSync {
		logger.Debug("Skipping notifications: first synchronization of DID")
		return
	}
	if err := w.notifier.NotifyConversations(ctx, gained); err != nil {
		logger.WithError(err).Warn("Failed to deliver notifications")
	}
}

// syncRange picks the days to request for did.
func (w *SyncWorker) syncRange(ctx context.Context, did string, recent bool) dateRange {
	today := truncateDay(w.now())
	r := dateRange{From: w.startDate, To: today.AddDate(0, 0, 1)}
	if !recent {
		return r
	}

	latest, ok, err := w.store.GetLatestMessageDate(ctx, did)
	switch {
	case err != nil:
		w.logger.WithError(err).Warn("Failed to read latest message date, using recent window")
		r.From = today.AddDate(0, 0, -w.config.RecentDays)
	case ok:
		r.From = truncateDay(latest).AddDate(0, 0, -1)
	default:
		r.From = today.AddDate(0, 0, -w.config.RecentDays)
	}
	if r.From.Before(w.startDate) {
		r.From = w.startDate
	}
	return r
}

// fetchChunk retrieves one chunk with bounded retry and converts it to
// store messages.
func (w *SyncWorker) fetchChunk(ctx context.Context, did string, chunk dateRange, logger *logrus.Entry) ([]models.Message, error) {
	ctx, span := tracing.StartSpan(ctx, "sync.chunk",
		attribute.String("sync.from", chunk.From.Format("2006-01-02")),
		attribute.String("sync.to", chunk.To.Format("2006-01-02")),
	)
	defer span.End()

	var raw []voipms.SMS
	err := retry.NewBackoff(w.backoff).
		OnRetry(func(attempt int, err error, delay time.Duration) {
			logger.WithFields(logrus.Fields{
				LogFieldAttempt:   attempt,
				LogFieldDelay:     delay.Milliseconds(),
				LogFieldErrorCode: apperrors.GetCode(err),
			}).Warn("Retrying message retrieval")
		}).
		RetryWithPredicate(ctx, func() error {
			var err error
			raw, err = w.client.GetSMS(ctx, voipms.GetSMSRequest{DID: did, From: chunk.From, To: chunk.To})
			return err
		}, apperrors.IsRetryable)
	if err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(raw))
	for _, sms := range raw {
		contact := validation.CanonicalizeNumber(sms.Contact)
		if contact == "" {
			logger.WithField(LogFieldVoipID, sms.ID).Warn("Skipping message without contact")
			continue
		}
		direction := models.DirectionOutgoing
		if sms.Incoming {
			direction = models.DirectionIncoming
		}
		id := sms.ID
		messages = append(messages, models.Message{
			VoipID:    &id,
			Date:      sms.Date,
			Direction: direction,
			DID:       did,
			Contact:   contact,
			Text:      sms.Message,
		})
	}
	return messages, nil
}

// splitRange divides an inclusive day range into consecutive chunks of at
// most days days.
func splitRange(from, to time.Time, days int) []dateRange {
	if days <= 0 {
		days = constants.DefaultSyncChunkDays
	}
	var chunks []dateRange
	for start := from; !start.After(to); {
		end := start.AddDate(0, 0, days-1)
		if end.After(to) {
			end = to
		}
		chunks = append(chunks, dateRange{From: start, To: end})
		start = end.AddDate(0, 0, 1)
	}
	return chunks
}

func appendUnique(dst []models.ConversationID, cids ...models.ConversationID) []models.ConversationID {
	for _, cid := range cids {
		found := false
		for _, existing := range dst {
			if existing == cid {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, cid)
		}
	}
	return dst
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
