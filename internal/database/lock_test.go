package database

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRWLockReadersShare(t *testing.T) {
	l := newRWLock()
	ctx := context.Background()

	require.NoError(t, l.RLock(ctx))
	require.NoError(t, l.RLock(ctx))
	l.RUnlock()
	l.RUnlock()
}

func TestRWLockWriterExcludesReaders(t *testing.T) {
	l := newRWLock()
	require.NoError(t, l.Lock(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.RLock(ctx), context.DeadlineExceeded)

	l.Unlock()
	require.NoError(t, l.RLock(context.Background()))
	l.RUnlock()
}

func TestRWLockWaitingWriterBlocksNewReaders(t *testing.T) {
	l := newRWLock()
	require.NoError(t, l.RLock(context.Background()))

	var writerDone atomic.Bool
	acquired := make(chan struct{})
	go func() {
		_ = l.withWrite(context.Background(), func() error {
			writerDone.Store(true)
			return nil
		})
		close(acquired)
	}()

	// Give the writer time to queue behind the active reader.
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.RLock(ctx), "reader arriving after a queued writer must wait")

	l.RUnlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("writer never acquired the lock")
	}
	assert.True(t, writerDone.Load())
}

func TestRWLockHelpersRelease(t *testing.T) {
	l := newRWLock()
	ctx := context.Background()

	require.NoError(t, l.withRead(ctx, func() error { return nil }))
	err := l.withWrite(ctx, func() error { return assert.AnError })
	assert.ErrorIs(t, err, assert.AnError)

	// Both holds were released, so an exclusive hold is available again.
	require.NoError(t, l.Lock(ctx))
	l.Unlock()
}
