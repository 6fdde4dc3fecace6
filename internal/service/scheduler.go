package service

import (
	"context"
	"sync"
	"time"

	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/models"

	"github.com/sirupsen/logrus"
)

// SyncScheduler runs a sync at start-up in the configured mode and then a
// recent sync on a fixed interval.
type SyncScheduler struct {
	syncer   Syncer
	interval time.Duration
	logger   *logrus.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewSyncScheduler creates a scheduler; an interval of zero or less disables
// the periodic runs and only the start-up sync happens.
func NewSyncScheduler(syncer Syncer, intervalMinutes int, logger *logrus.Logger) *SyncScheduler {
	if logger == nil {
		logger = logrus.New()
	}
	return &SyncScheduler{
		syncer:   syncer,
		interval: time.Duration(intervalMinutes) * time.Minute,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start blocks until ctx is cancelled or Stop is called.
func (s *SyncScheduler) Start(ctx context.Context) {
	s.logger.WithField("interval", s.interval.String()).Info("Starting sync scheduler")

	s.runSync(ctx, false)

	if s.interval <= 0 {
		s.logger.Info("Periodic synchronization disabled")
		select {
		case <-ctx.Done():
		case <-s.stopCh:
		}
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler context cancelled, stopping")
			return
		case <-s.stopCh:
			s.logger.Info("Scheduler stop signal received, stopping")
			return
		case <-ticker.C:
			s.runSync(ctx, true)
		}
	}
}

// Stop ends Start. It is safe to call more than once.
func (s *SyncScheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *SyncScheduler) runSync(ctx context.Context, recent bool) {
	result, err := s.syncer.Sync(ctx, models.SyncOptions{ForceRecent: recent})
	if err != nil {
		if ctx.Err() == nil {
			s.logger.WithError(err).Error("Failed to run scheduled synchronization")
		}
		return
	}
	s.logger.WithFields(logrus.Fields{
		LogFieldRunID:    result.RunID,
		LogFieldInserted: result.Inserted,
	}).Info("Completed scheduled synchronization")
}
