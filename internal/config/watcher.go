package config

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/constants"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/models"

	"github.com/sirupsen/logrus"
)

// ConfigWatcher polls the configuration file and reloads it when it changes
type ConfigWatcher struct {
	configPath   string
	logger       *logrus.Logger
	pollInterval time.Duration
	settleDelay  time.Duration
	mu           sync.RWMutex
	config       *models.Config
	callbacks    []func(*models.Config)
}

func NewConfigWatcher(configPath string, logger *logrus.Logger) *ConfigWatcher {
	return &ConfigWatcher{
		configPath:   configPath,
		logger:       logger,
		pollInterval: constants.ConfigPollIntervalSec * time.Second,
		settleDelay:  constants.ConfigSettleDelayMs * time.Millisecond,
	}
}

// Start loads the configuration and then polls for changes until ctx is
// cancelled.
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	config, err := LoadConfig(cw.configPath)
	if err != nil {
		return err
	}

	cw.mu.Lock()
	cw.config = config
	cw.mu.Unlock()

	stat, err := os.Stat(cw.configPath)
	if err != nil {
		return err
	}
	lastModTime := stat.ModTime()

	cw.logger.WithField("path", cw.configPath).Info("Configuration watcher started")

	ticker := time.NewTicker(cw.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cw.logger.Info("Configuration watcher stopping")
			return nil

		case <-ticker.C:
			stat, err := os.Stat(cw.configPath)
			if err != nil {
				cw.logger.WithError(err).Error("Failed to stat configuration file")
				continue
			}

			if stat.ModTime().After(lastModTime) {
				cw.logger.Debug("Configuration file changed")
				lastModTime = stat.ModTime()

				// Let the writer finish
				time.Sleep(cw.settleDelay)
				cw.reloadConfig()
			}
		}
	}
}

// GetConfig returns the current configuration (thread-safe)
func (cw *ConfigWatcher) GetConfig() *models.Config {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.config
}

// OnConfigChange registers a callback run after every successful reload
func (cw *ConfigWatcher) OnConfigChange(callback func(*models.Config)) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.callbacks = append(cw.callbacks, callback)
}

func (cw *ConfigWatcher) reloadConfig() {
	newConfig, err := LoadConfig(cw.configPath)
	if err != nil {
		cw.logger.WithError(err).Error("Failed to reload configuration")
		return
	}

	cw.mu.Lock()
	oldConfig := cw.config
	cw.config = newConfig
	callbacks := make([]func(*models.Config), len(cw.callbacks))
	copy(callbacks, cw.callbacks)
	cw.mu.Unlock()

	cw.logger.Info("Configuration reloaded successfully")

	for _, callback := range callbacks {
		go func(cb func(*models.Config)) {
			defer func() {
				if r := recover(); r != nil {
					cw.logger.WithField("panic", r).Error("Config change callback panicked")
				}
			}()
			cb(newConfig)
		}(callback)
	}

	cw.logConfigChanges(oldConfig, newConfig)
}

// logConfigChanges logs the settings a reload can change at runtime; the
// rest only take effect on restart.
func (cw *ConfigWatcher) logConfigChanges(old, new *models.Config) {
	if old == nil {
		return
	}

	if old.LogLevel != new.LogLevel {
		cw.logger.WithFields(logrus.Fields{
			"old": old.LogLevel,
			"new": new.LogLevel,
		}).Info("Log level changed")
	}

	if old.Sync.IntervalMinutes != new.Sync.IntervalMinutes {
		cw.logger.WithFields(logrus.Fields{
			"old": old.Sync.IntervalMinutes,
			"new": new.Sync.IntervalMinutes,
		}).Info("Sync interval changed (applies after restart)")
	}

	if len(old.DIDs) != len(new.DIDs) {
		cw.logger.WithFields(logrus.Fields{
			"old_count": len(old.DIDs),
			"new_count": len(new.DIDs),
		}).Info("Number of DIDs changed (applies after restart)")
	}
}
