package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newFastWatcher(path string, logger *logrus.Logger) *ConfigWatcher {
	w := NewConfigWatcher(path, logger)
	w.pollInterval = 10 * time.Millisecond
	w.settleDelay = time.Millisecond
	return w
}

func TestConfigWatcher_Start_InvalidPath(t *testing.T) {
	watcher := NewConfigWatcher(filepath.Join(t.TempDir(), "missing.json"), logrus.New())
	assert.Error(t, watcher.Start(context.Background()))
}

func TestConfigWatcher_ReloadsOnChange(t *testing.T) {
	path := writeConfig(t, `{"log_level": "info"}`)
	watcher := newFastWatcher(path, logrus.New())

	changed := make(chan *models.Config, 1)
	watcher.OnConfigChange(func(cfg *models.Config) { changed <- cfg })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- watcher.Start(ctx) }()

	require.Eventually(t, func() bool { return watcher.GetConfig() != nil }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "info", watcher.GetConfig().LogLevel)

	future := time.Now().Add(time.Minute)
	require.NoError(t, os.WriteFile(path, []byte(`{"log_level": "warn"}`), 0600))
	require.NoError(t, os.Chtimes(path, future, future))

	select {
	case cfg := <-changed:
		assert.Equal(t, "warn", cfg.LogLevel)
	case <-time.After(2 * time.Second):
		t.Fatal("callback not invoked")
	}
	assert.Equal(t, "warn", watcher.GetConfig().LogLevel)

	cancel()
	assert.NoError(t, <-done)
}

func TestConfigWatcher_KeepsConfigOnInvalidReload(t *testing.T) {
	path := writeConfig(t, `{"log_level": "info"}`)
	out := &syncBuffer{}
	logger := logrus.New()
	logger.SetOutput(out)
	watcher := newFastWatcher(path, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = watcher.Start(ctx) }()
	require.Eventually(t, func() bool { return watcher.GetConfig() != nil }, time.Second, 5*time.Millisecond)

	future := time.Now().Add(time.Minute)
	require.NoError(t, os.WriteFile(path, []byte(`{"log_level": `), 0600))
	require.NoError(t, os.Chtimes(path, future, future))

	require.Eventually(t, func() bool {
		return bytes.Contains([]byte(out.String()), []byte("Failed to reload configuration"))
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "info", watcher.GetConfig().LogLevel)
}

func TestConfigWatcher_CallbackPanic(t *testing.T) {
	path := writeConfig(t, `{}`)
	logger := logrus.New()
	logger.SetOutput(&syncBuffer{})
	watcher := newFastWatcher(path, logger)

	called := make(chan struct{}, 1)
	watcher.OnConfigChange(func(*models.Config) { panic("boom") })
	watcher.OnConfigChange(func(*models.Config) { called <- struct{}{} })

	watcher.reloadConfig()
	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("second callback not invoked")
	}
}

func TestConfigWatcher_LogConfigChanges(t *testing.T) {
	out := &syncBuffer{}
	logger := logrus.New()
	logger.SetOutput(out)
	watcher := NewConfigWatcher("unused", logger)

	watcher.logConfigChanges(nil, &models.Config{})
	assert.Empty(t, out.String())

	watcher.logConfigChanges(
		&models.Config{LogLevel: "info", DIDs: []string{"1"}},
		&models.Config{LogLevel: "debug", DIDs: []string{"1", "2"}, Sync: models.SyncConfig{IntervalMinutes: 5}},
	)
	logs := out.String()
	assert.Contains(t, logs, "Log level changed")
	assert.Contains(t, logs, "Sync interval changed")
	assert.Contains(t, logs, "Number of DIDs changed")
}
