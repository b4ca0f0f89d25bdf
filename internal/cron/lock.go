package cron

import (
	"context"
	"sync/atomic"
)

// Lock coordinates exclusive maintenance runs.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// LocalLock is the single-process lock for a terminal: the whole deployment
// is one binary, so mutual exclusion only has to hold between goroutines.
type LocalLock struct {
	held atomic.Bool
}

// NewLocalLock constructs an in-process lock.
func NewLocalLock() *LocalLock {
	return &LocalLock{}
}

// Acquire tries to own the lock.
func (l *LocalLock) Acquire(_ context.Context) (bool, error) {
	return l.held.CompareAndSwap(false, true), nil
}

// Release frees the lock.
func (l *LocalLock) Release(_ context.Context) error {
	l.held.Store(false)
	return nil
}
