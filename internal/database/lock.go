package database

import (
	"context"

	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/constants"

	"golang.org/x/sync/semaphore"
)

// rwLock is a multi-reader/single-writer lock whose acquisition respects
// context cancellation. Waiters are served in FIFO order, so a writer queued
// behind active readers blocks readers that arrive after it.
type rwLock struct {
	sem       *semaphore.Weighted
	maxWeight int64
}

func newRWLock() *rwLock {
	return &rwLock{
		sem:       semaphore.NewWeighted(constants.MaxConcurrentReaders),
		maxWeight: constants.MaxConcurrentReaders,
	}
}

// RLock takes a shared hold.
func (l *rwLock) RLock(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

func (l *rwLock) RUnlock() {
	l.sem.Release(1)
}

// Lock takes an exclusive hold.
func (l *rwLock) Lock(ctx context.Context) error {
	return l.sem.Acquire(ctx, l.maxWeight)
}

func (l *rwLock) Unlock() {
	l.sem.Release(l.maxWeight)
}

// withRead runs fn while holding a shared lock.
func (l *rwLock) withRead(ctx context.Context, fn func() error) error {
	if err := l.RLock(ctx); err != nil {
		return err
	}
	defer l.RUnlock()
	return fn()
}

// withWrite runs fn while holding the exclusive lock.
func (l *rwLock) withWrite(ctx context.Context, fn func() error) error {
	if err := l.Lock(ctx); err != nil {
		return err
	}
	defer l.Unlock()
	return fn()
}
