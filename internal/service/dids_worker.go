package service

import (
	"context"
	"sort"
	"time"

	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/constants"
	apperrors "github.com/michaelkourlas/voipms-sms-client-sub001/internal/errors"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/models"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/retry"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/validation"
	"github.com/michaelkourlas/voipms-sms-client-sub001/pkg/voipms"

	"github.com/sirupsen/logrus"
)

// RetrieveDidsWorker lists the account's SMS capable numbers.
type RetrieveDidsWorker struct {
	client  voipms.Client
	backoff retry.BackoffConfig
	logger  *logrus.Logger
}

func NewRetrieveDidsWorker(client voipms.Client, retryConfig models.RetryConfig, logger *logrus.Logger) *RetrieveDidsWorker {
	if logger == nil {
		logger = logrus.New()
	}
	backoff := retry.FromRetryConfig(retryConfig)
	backoff.MaxAttempts = constants.WorkerRetryAttempts
	return &RetrieveDidsWorker{client: client, backoff: backoff, logger: logger}
}

// RetrieveDIDs returns the SMS enabled DIDs sorted by number.
func (w *RetrieveDidsWorker) RetrieveDIDs(ctx context.Context) ([]models.DID, error) {
	var infos []voipms.DIDInfo
	err := retry.NewBackoff(w.backoff).
		OnRetry(func(attempt int, err error, delay time.Duration) {
			w.logger.WithFields(logrus.Fields{
				LogFieldAttempt: attempt,
				LogFieldDelay:   delay.Milliseconds(),
			}).WithError(err).Warn("Retrying DID retrieval")
		}).
		RetryWithPredicate(ctx, func() error {
			var err error
			infos, err = w.client.GetDIDsInfo(ctx)
			return err
		}, apperrors.IsRetryable)
	if err != nil {
		w.logger.WithError(err).Error("Failed to retrieve DIDs")
		return nil, err
	}

	dids := make([]models.DID, 0, len(infos))
	for _, info := range infos {
		if !info.SMSEnabled {
			continue
		}
		number := validation.CanonicalizeNumber(info.DID)
		if number == "" {
			continue
		}
		dids = append(dids, models.DID{
			Number:      number,
			Description: info.Description,
			SMSEnabled:  true,
		})
	}
	sort.Slice(dids, func(i, j int) bool { return dids[i].Number < dids[j].Number })

	w.logger.WithField(LogFieldCount, len(dids)).Debug("Retrieved SMS enabled DIDs")
	return dids, nil
}
