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

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// SendMessageWorker stores outgoing messages and delivers them through the
// API.
type SendMessageWorker struct {
	store    MessageStore
	client   voipms.Client
	notifier Notifier
	backoff  retry.BackoffConfig
	logger   *logrus.Logger
	now      func() time.Time
	// staleAfter is how long an in-progress delivery blocks a resend.
	staleAfter time.Duration
}

func NewSendMessageWorker(store MessageStore, client voipms.Client, notifier Notifier, retryConfig models.RetryConfig, logger *logrus.Logger) *SendMessageWorker {
	if logger == nil {
		logger = logrus.New()
	}
	backoff := retry.FromRetryConfig(retryConfig)
	backoff.MaxAttempts = constants.WorkerRetryAttempts

	return &SendMessageWorker{
		store:    store,
		client:   client,
		notifier: notifier,
		backoff:  backoff,
		logger:   logger,
		now:      time.Now,

		staleAfter: time.Duration(constants.DeliveryStaleAfterSec) * time.Second,
	}
}

// SendText stores text as one or more outgoing messages, clears the
// conversation's draft and sends the segments in order. The ids of the
// stored messages are returned even when sending fails, since the messages
// stay in the store marked as not delivered.
func (w *SendMessageWorker) SendText(ctx context.Context, cid models.ConversationID, text string) ([]int64, error) {
	if cid.DID == "" || cid.Contact == "" {
		return nil, apperrors.NewValidationError("conversation", "DID and contact are required")
	}
	if err := validation.ValidateMessageText(text); err != nil {
		return nil, err
	}

	segments := SplitMessage(text, constants.MaxSMSLength)
	ids := make([]int64, 0, len(segments))
	messages := make([]*models.Message, 0, len(segments))
	date := w.now().UTC().Truncate(time.Second)
	for _, segment := range segments {
		msg := &models.Message{
			Date:               date,
			Direction:          models.DirectionOutgoing,
			DID:                cid.DID,
			Contact:            cid.Contact,
			Text:               segment,
			DeliveryInProgress: true,
		}
		id, err := w.store.InsertMessage(ctx, msg)
		if err != nil {
			w.abandon(ctx, messages)
			return ids, fmt.Errorf("failed to store outgoing message: %w", err)
		}
		ids = append(ids, id)
		messages = append(messages, msg)
	}

	if err := w.store.UpdateDraft(ctx, cid, ""); err != nil {
		w.logger.WithError(err).WithFields(conversationFields(ctx, cid)).Warn("Failed to clear draft")
	}

	w.logger.WithFields(conversationFields(ctx, cid)).WithField(LogFieldSegments, len(segments)).Info("Sending message")

	for i, msg := range messages {
		if err := w.deliver(ctx, msg); err != nil {
			w.abandon(ctx, messages[i+1:])
			return ids, err
		}
	}
	return ids, nil
}

// Send delivers a stored outgoing message that has not been delivered yet.
func (w *SendMessageWorker) Send(ctx context.Context, id int64) error {
	msg, err := w.store.GetMessage(ctx, id)
	if err != nil {
		return err
	}
	if msg == nil {
		return apperrors.NewNotFoundError("message", fmt.Sprintf("%d", id))
	}
	if msg.IsIncoming() {
		return apperrors.NewConflictError("message", "incoming messages cannot be sent")
	}
	if msg.Delivered {
		return apperrors.NewConflictError("message", "message has already been delivered")
	}
	// An attempt that has been in flight longer than the stale threshold is
	// assumed lost, matching what the delivery monitor reports.
	if msg.DeliveryInProgress && w.now().Sub(msg.Date) < w.staleAfter {
		return apperrors.NewConflictError("message", "message is already being sent")
	}

	if err := w.store.MarkMessageDeliveryInProgress(ctx, id); err != nil {
		return err
	}
	msg.DeliveryInProgress = true
	return w.deliver(ctx, msg)
}

// deliver sends msg with bounded retry and records the outcome.
func (w *SendMessageWorker) deliver(ctx context.Context, msg *models.Message) error {
	ctx, span := tracing.StartSpan(ctx, "send.message", attribute.Int64("message.id", msg.ID))
	defer span.End()

	logger := w.logger.WithFields(conversationFields(ctx, msg.ConversationID())).WithField(LogFieldMessageID, msg.ID)

	var voipID int64
	err := retry.NewBackoff(w.backoff).
		OnRetry(func(attempt int, err error, delay time.Duration) {
			logger.WithFields(logrus.Fields{
				LogFieldAttempt:   attempt,
				LogFieldDelay:     delay.Milliseconds(),
				LogFieldErrorCode: apperrors.GetCode(err),
			}).Warn("Retrying message send")
		}).
		RetryWithPredicate(ctx, func() error {
			var err error
			voipID, err = w.client.SendSMS(ctx, msg.DID, msg.Contact, msg.Text)
			return err
		}, apperrors.IsRetryable)

	// Outcome writes must land even when the caller has gone away.
	recordCtx := context.WithoutCancel(ctx)

	if err != nil {
		tracing.RecordError(ctx, err)
		metrics.IncrementCounter("messages_send_failed_total", nil, "Outgoing messages that could not be delivered")
		logger.WithError(err).Error("Failed to send message")

		if markErr := w.store.MarkMessageNotDelivered(recordCtx, msg.ID); markErr != nil {
			logger.WithError(markErr).Error("Failed to record delivery failure")
		}
		msg.Delivered = false
		msg.DeliveryInProgress = false
		if w.notifier != nil {
			if notifyErr := w.notifier.NotifySendFailed(recordCtx, msg); notifyErr != nil {
				logger.WithError(notifyErr).Warn("Failed to deliver send failure notification")
			}
		}
		return err
	}

	if err := w.store.MarkMessageDelivered(recordCtx, msg.ID, voipID); err != nil {
		return fmt.Errorf("message sent as %d but could not be recorded: %w", voipID, err)
	}
	msg.VoipID = &voipID
	msg.Delivered = true
	msg.DeliveryInProgress = false

	metrics.IncrementCounter("messages_sent_total", nil, "Outgoing messages delivered")
	logger.WithField(LogFieldVoipID, voipID).Info("Message sent")
	return nil
}

// abandon marks messages that will not be attempted as not delivered.
func (w *SendMessageWorker) abandon(ctx context.Context, messages []*models.Message) {
	recordCtx := context.WithoutCancel(ctx)
	var errs []error
	for _, msg := range messages {
		if err := w.store.MarkMessageNotDelivered(recordCtx, msg.ID); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		w.logger.WithError(err).Error("Failed to mark unsent segments")
	}
}
