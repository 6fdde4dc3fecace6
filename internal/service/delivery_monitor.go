package service

import (
	"context"
	"sync"
	"time"

	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/metrics"

	"github.com/sirupsen/logrus"
)

// DeliveryCounter reports on outgoing messages that have not been delivered.
type DeliveryCounter interface {
	GetStaleMessageCount(ctx context.Context, threshold time.Duration) (int, error)
	GetUndeliveredMessageCount(ctx context.Context) (int, error)
}

// DeliveryMonitor periodically publishes gauges for outgoing messages that
// are stuck in delivery or whose send failed.
type DeliveryMonitor struct {
	db             DeliveryCounter
	checkInterval  time.Duration
	staleThreshold time.Duration
	logger         *logrus.Logger
	stopCh         chan struct{}
	stopOnce       sync.Once
}

func NewDeliveryMonitor(db DeliveryCounter, checkInterval, staleThreshold time.Duration, logger *logrus.Logger) *DeliveryMonitor {
	return &DeliveryMonitor{
		db:             db,
		checkInterval:  checkInterval,
		staleThreshold: staleThreshold,
		logger:         logger,
		stopCh:         make(chan struct{}),
	}
}

// Start checks once immediately and then on every tick until ctx is
// cancelled or Stop is called.
func (m *DeliveryMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	m.logger.WithFields(logrus.Fields{
		"check_interval":  m.checkInterval,
		"stale_threshold": m.staleThreshold,
	}).Info("Starting delivery monitor")

	m.check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *DeliveryMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *DeliveryMonitor) check(ctx context.Context) {
	stale, err := m.db.GetStaleMessageCount(ctx, m.staleThreshold)
	if err != nil {
		m.logger.WithError(err).Error("Failed to check for stale deliveries")
		return
	}
	metrics.SetGauge("delivery_stale_messages", float64(stale), nil, "Outgoing messages stuck in delivery")
	if stale > 0 {
		m.logger.WithFields(logrus.Fields{
			"stale_count": stale,
			"threshold":   m.staleThreshold,
		}).Warn("Outgoing messages still marked as being delivered")
	}

	failed, err := m.db.GetUndeliveredMessageCount(ctx)
	if err != nil {
		m.logger.WithError(err).Error("Failed to count undelivered messages")
		return
	}
	metrics.SetGauge("delivery_failed_messages", float64(failed), nil, "Outgoing messages whose send failed")
}
