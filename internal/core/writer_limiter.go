package core

// writer_limiter.go serializes write operations against the backend.
//
// Ingestion, reconciliation and deletion all mutate the master list, and
// concurrent writers would race on the read-merge-upsert cycle. The limiter
// hands out a bounded number of writer slots (one by default); callers wait
// up to maxWait before failing with ErrWriterBusy. WaitForDrain lets shutdown
// block until in-flight writes finish.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrWriterBusy is returned when no writer slot frees up within the wait
// timeout. Clients should retry after a short delay.
var ErrWriterBusy = errors.New("writer busy: another ingestion is in progress")

// DefaultMaxWriters is the default number of concurrent writers.
const DefaultMaxWriters = 1

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = 30 * time.Second

// WriterLimiter controls concurrent writes using a semaphore.
type WriterLimiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu     sync.RWMutex
	active int
}

// NewWriterLimiter creates a limiter that allows at most maxWriters
// simultaneous writers. Requests that cannot acquire a slot within maxWait
// receive ErrWriterBusy.
func NewWriterLimiter(maxWriters int, maxWait time.Duration) *WriterLimiter {
	if maxWriters <= 0 {
		maxWriters = DefaultMaxWriters
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}

	return &WriterLimiter{
		semaphore: make(chan struct{}, maxWriters),
		maxWait:   maxWait,
	}
}

// Acquire waits for a writer slot.
// The caller MUST call Release() when the write completes (use defer).
func (l *WriterLimiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return nil

	case <-waitCtx.Done():
		// Distinguish caller cancellation from our own timeout
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrWriterBusy
	}
}

// TryAcquire attempts to acquire a slot without blocking.
func (l *WriterLimiter) TryAcquire() bool {
	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return true
	default:
		return false
	}
}

// Release releases a previously acquired slot.
// Must be called exactly once for each successful Acquire/TryAcquire.
func (l *WriterLimiter) Release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()

	<-l.semaphore
}

// ActiveCount returns the number of writers holding a slot.
func (l *WriterLimiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// WaitForDrain blocks until all active writers complete or ctx is cancelled.
func (l *WriterLimiter) WaitForDrain(ctx context.Context) error {
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

// WriterStatus is a snapshot of the limiter's state.
type WriterStatus struct {
	Active     int `json:"active"`
	Available  int `json:"available"`
	MaxWriters int `json:"maxWriters"`
}

// Status returns the current limiter state for monitoring.
func (l *WriterLimiter) Status() WriterStatus {
	l.mu.RLock()
	active := l.active
	l.mu.RUnlock()

	return WriterStatus{
		Active:     active,
		Available:  cap(l.semaphore) - len(l.semaphore),
		MaxWriters: cap(l.semaphore),
	}
}
