package core

// limiter.go bounds how many workbook builds and parses run at once.
//
// Parsing an upload and rendering an export both hold a whole workbook in
// memory, so they share one semaphore. When every slot is taken a caller
// waits up to maxWait before failing with ErrBusy. WaitForDrain lets the
// server finish in-flight file work during shutdown.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrBusy is returned when all file slots stay occupied past the wait
// timeout. Clients should retry after a short delay.
var ErrBusy = errors.New("too many spreadsheet operations in progress, please try again later")

const (
	// DefaultMaxConcurrentFiles is the default number of parallel parse/build slots.
	DefaultMaxConcurrentFiles = 5

	// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
	DefaultMaxWaitTime = 30 * time.Second
)

// FileLimiter controls concurrent workbook processing using a semaphore.
type FileLimiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu     sync.RWMutex
	active int
}

// NewFileLimiter creates a limiter allowing maxConcurrent simultaneous
// operations. Non-positive arguments fall back to the defaults.
func NewFileLimiter(maxConcurrent int, maxWait time.Duration) *FileLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentFiles
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}

	return &FileLimiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
	}
}

// Acquire takes a slot, waiting up to maxWait. The caller must Release.
func (l *FileLimiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return nil

	case <-waitCtx.Done():
		// Caller cancellation wins over our own wait timeout.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrBusy
	}
}

// Release returns a slot taken by Acquire.
func (l *FileLimiter) Release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()

	<-l.semaphore
}

// ActiveCount returns the number of operations holding a slot.
func (l *FileLimiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// Available returns the number of free slots.
func (l *FileLimiter) Available() int {
	return cap(l.semaphore) - len(l.semaphore)
}

// WaitForDrain blocks until no slot is held or ctx is done.
func (l *FileLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
