package sema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPackedWordLayout(t *testing.T) {
	s := New(3)
	w := s.state.Load()
	require.Equal(t, uint32(3), permits(w))
	require.Equal(t, uint32(0), waiters(w))

	// The kernel watches the permit half through permitAddr; it must see
	// exactly the low 32 bits of the packed word.
	s.state.Store(5 | 7<<permitBits)
	require.Equal(t, uint32(5), *s.permitAddr())
}

func waitForWaiters(t *testing.T, s *Semaphore, n uint32) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for waiters(s.state.Load()) != n {
		if time.Now().After(deadline) {
			t.Fatalf("waiter count never reached %d, state %#x", n, s.state.Load())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWaiterRegistration(t *testing.T) {
	s := New(0)
	done := make(chan error)
	go func() {
		done <- s.Wait()
	}()

	// The waiter registers itself in the high half before parking.
	waitForWaiters(t, s, 1)

	s.Post()
	require.NoError(t, <-done)

	// Claiming deregisters in the same CAS; nothing lingers.
	require.Equal(t, uint64(0), s.state.Load())
}

func TestTimeoutDeregisters(t *testing.T) {
	s := New(0)
	require.ErrorIs(t, s.WaitTimeout(20*time.Millisecond), ErrTimedOut)

	// Deregistration on timeout must not claim a permit and must leave no
	// stale waiter behind.
	require.Equal(t, uint64(0), s.state.Load())
	s.Post()
	require.NoError(t, s.TryWait())
}

func TestConcurrentTimeoutsLeaveStateClean(t *testing.T) {
	s := New(0)
	errs := make(chan error)
	for i := 0; i < 50; i++ {
		go func() {
			errs <- s.WaitTimeout(10 * time.Millisecond)
		}()
	}
	for i := 0; i < 50; i++ {
		require.ErrorIs(t, <-errs, ErrTimedOut)
	}

	// Every expiry deregistered exactly once and claimed nothing.
	require.Equal(t, uint64(0), s.state.Load())

	// A later Post's permit belongs to the next claimer, not to the
	// ghosts of the timed-out waiters.
	s.Post()
	require.NoError(t, s.TryWait())
	require.ErrorIs(t, s.TryWait(), ErrWouldBlock)
}

func TestPostWithoutWaitersSkipsWake(t *testing.T) {
	s := New(0)
	s.Post()
	require.Equal(t, uint64(1), s.state.Load())
	require.NoError(t, s.TryWait())
}
