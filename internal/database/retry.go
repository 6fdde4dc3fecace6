package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/constants"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/retry"

	"github.com/mattn/go-sqlite3"
)

var dbBackoff = retry.BackoffConfig{
	InitialDelay: 50 * time.Millisecond,
	MaxDelay:     time.Second,
	Multiplier:   2.0,
	MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
	Jitter:       true,
}

// retryableDBOperation executes a database operation, retrying transient
// SQLite failures such as a busy or locked database file.
func retryableDBOperation(ctx context.Context, operation func() error, operationName string) error {
	var attempts int
	err := retry.NewBackoff(dbBackoff).RetryWithPredicate(ctx, func() error {
		attempts++
		return operation()
	}, isRetryableDBError)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if !isRetryableDBError(err) {
		return fmt.Errorf("%s failed: %w", operationName, err)
	}
	return fmt.Errorf("%s failed after %d attempts: %w", operationName, attempts, err)
}

// isRetryableDBError determines if a database error is worth retrying
func isRetryableDBError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrIoErr:
			return true
		default:
			return false
		}
	}

	errStr := err.Error()
	if strings.Contains(errStr, "database is locked") || strings.Contains(errStr, "disk I/O error") {
		return true
	}

	return false
}
