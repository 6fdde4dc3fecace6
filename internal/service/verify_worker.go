package service

import (
	"context"
	"time"

	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/constants"
	apperrors "github.com/michaelkourlas/voipms-sms-client-sub001/internal/errors"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/models"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/privacy"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/retry"
	"github.com/michaelkourlas/voipms-sms-client-sub001/pkg/voipms"

	"github.com/sirupsen/logrus"
)

// VerifyCredentialsWorker checks whether an account name and API password
// are accepted by the API.
type VerifyCredentialsWorker struct {
	client  voipms.Client
	backoff retry.BackoffConfig
	logger  *logrus.Logger
}

func NewVerifyCredentialsWorker(client voipms.Client, retryConfig models.RetryConfig, logger *logrus.Logger) *VerifyCredentialsWorker {
	if logger == nil {
		logger = logrus.New()
	}
	backoff := retry.FromRetryConfig(retryConfig)
	backoff.MaxAttempts = constants.WorkerRetryAttempts
	return &VerifyCredentialsWorker{client: client, backoff: backoff, logger: logger}
}

// Verify reports false with a nil error when the API rejects the
// credentials; an error means the answer could not be obtained.
func (w *VerifyCredentialsWorker) Verify(ctx context.Context, username, password string) (bool, error) {
	logger := w.logger.WithField("username", privacy.MaskUsername(username))
	if username == "" || password == "" {
		logger.Debug("Skipping credential check: missing username or password")
		return false, nil
	}

	client := w.client.WithCredentials(username, password)
	err := retry.NewBackoff(w.backoff).
		OnRetry(func(attempt int, err error, delay time.Duration) {
			logger.WithFields(logrus.Fields{
				LogFieldAttempt: attempt,
				LogFieldDelay:   delay.Milliseconds(),
			}).WithError(err).Warn("Retrying credential check")
		}).
		RetryWithPredicate(ctx, func() error {
			_, err := client.GetDIDsInfo(ctx)
			return err
		}, apperrors.IsRetryable)

	switch {
	case err == nil:
		logger.Info("Credentials verified")
		return true, nil
	case voipms.IsAuthError(err):
		logger.WithField(LogFieldErrorCode, apperrors.GetCode(err)).Info("Credentials rejected")
		return false, nil
	default:
		logger.WithError(err).Error("Failed to verify credentials")
		return false, err
	}
}
