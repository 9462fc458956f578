package sema

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

// Recoverable conditions reported by the blocking operations. Anything else
// a backend returns is an unclassified OS failure wrapped around the
// underlying error.
var (
	// ErrInterrupted reports that an asynchronous signal disturbed a
	// blocking wait before a permit was claimed. The wait is not complete;
	// callers typically retry.
	ErrInterrupted = errors.New("sema: wait interrupted by signal")

	// ErrTimedOut reports that a timed wait's deadline elapsed.
	ErrTimedOut = errors.New("sema: wait timed out")

	// ErrWouldBlock reports that TryWait found no permit immediately
	// available.
	ErrWouldBlock = errors.New("sema: no permit available")
)

// A Guard represents one held permit. It is created only by a successful
// Access and must not outlive its semaphore.
type Guard struct {
	sem      *Semaphore
	released atomic.Bool
}

// Release returns the guard's permit to the semaphore. The first call
// posts; further calls are no-ops, so a deferred Release composes with an
// explicit early one.
func (g *Guard) Release() {
	if g.released.Swap(true) {
		return
	}
	g.sem.Post()
}

// Access claims a permit and returns a Guard that returns it. Release the
// guard in a deferred call so the permit is returned on every exit path:
//
//	g, err := sem.Access()
//	if err != nil {
//		return err
//	}
//	defer g.Release()
//
// Access is Wait followed by guard construction; it does not retry on
// ErrInterrupted.
func (s *Semaphore) Access() (*Guard, error) {
	if err := s.Wait(); err != nil {
		return nil, err
	}
	return &Guard{sem: s}, nil
}
