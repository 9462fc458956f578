//go:build !linux && !darwin

package sema

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

// The generic backend wraps the ecosystem's native counting semaphore,
// semaphore.Weighted, and does nothing beyond error translation.
//
// Weighted panics when released past its size, but this contract allows
// Post beyond the initial count (a semaphore created at 0 and posted to is
// the condition-variable use). So the accounting is inverted: the backend
// holds capacity-value units from construction on, a Wait acquires one
// more, a Post releases one back. Available permits are then capacity
// minus held units, and Post only ever releases units this backend
// provably holds. Outstanding permits must stay below 1<<63 - 1.

const capacity = math.MaxInt64

// Semaphore is a counting, blocking semaphore over a native counting
// semaphore object.
type Semaphore struct {
	sem *semaphore.Weighted
}

// New creates a semaphore with value permits available.
func New(value uint32) *Semaphore {
	w := semaphore.NewWeighted(capacity)
	// All capacity units are free here, so this cannot block, and a
	// background context cannot fail the acquire.
	if err := w.Acquire(context.Background(), capacity-int64(value)); err != nil {
		panic(errors.Wrap(err, "sema: priming initial permits"))
	}
	return &Semaphore{sem: w}
}

// Wait blocks the calling goroutine until a permit is available, then
// claims it.
func (s *Semaphore) Wait() error {
	return translate(s.sem.Acquire(context.Background(), 1))
}

// WaitTimeout is Wait bounded by d. It returns ErrTimedOut once d elapses
// without a permit having been claimed.
func (s *Semaphore) WaitTimeout(d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return translate(s.sem.Acquire(ctx, 1))
}

// TryWait claims a permit only if one is immediately available; it never
// blocks.
func (s *Semaphore) TryWait() error {
	if !s.sem.TryAcquire(1) {
		return ErrWouldBlock
	}
	return nil
}

// Post releases one permit, unblocking at most one waiter.
func (s *Semaphore) Post() {
	s.sem.Release(1)
}

// Close implements the contract's destruction step; there is no native
// kernel object to release here.
func (s *Semaphore) Close() error {
	return nil
}

// translate maps the native semaphore's errors into the shared taxonomy.
// No retry logic: a caller that wants Interrupted-retry semantics retries
// itself.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimedOut
	case errors.Is(err, context.Canceled):
		return ErrInterrupted
	default:
		return errors.Wrap(err, "sema: semaphore acquire")
	}
}
