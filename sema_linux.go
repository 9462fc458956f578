package sema

import (
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// The Linux backend packs the whole semaphore into one atomic word: the
// low 32 bits count available permits, the high 32 bits count waiters
// parked in the kernel. Keeping both in a single word lets one
// compare-and-swap claim a permit and deregister a waiter at the same
// time, which is what makes the accounting exact under post/wait races.
//
// The layout follows glibc's new_sem: permits and waiters never corrupt
// each other because permit arithmetic is confined to the low half
// (permits stay below 1<<32) and waiter arithmetic uses whole multiples
// of waiterOne.

const (
	permitBits = 32
	permitMask = 1<<permitBits - 1
	waiterOne  = 1 << permitBits
)

// Futex operation codes from <linux/futex.h>. x/sys/unix exports the
// syscall number but not the operation constants, so they are declared
// here.
const (
	futexWaitOp      = 0
	futexWakeOp      = 1
	futexPrivateFlag = 128
)

func permits(w uint64) uint32 { return uint32(w & permitMask) }
func waiters(w uint64) uint32 { return uint32(w >> permitBits) }

// Semaphore is a counting, blocking semaphore backed by the Linux futex
// facility. The permit count must stay below 1<<32 - 1.
type Semaphore struct {
	state atomic.Uint64
}

// New creates a semaphore with value permits available.
func New(value uint32) *Semaphore {
	s := &Semaphore{}
	s.state.Store(uint64(value))
	return s
}

// Wait blocks the calling goroutine until a permit is available, then
// atomically claims it. It returns ErrInterrupted if a signal disturbed
// the wait before a permit was claimed.
func (s *Semaphore) Wait() error {
	return s.wait(time.Time{})
}

// WaitTimeout is Wait bounded by d. It returns ErrTimedOut once d elapses
// without a permit having been claimed.
func (s *Semaphore) WaitTimeout(d time.Duration) error {
	return s.wait(time.Now().Add(d))
}

// TryWait claims a permit only if one is immediately available; it never
// blocks. It performs exactly one claim attempt, so under contention it
// may return ErrWouldBlock even though a permit was momentarily available;
// it answers "would this block right now", nothing stronger.
func (s *Semaphore) TryWait() error {
	w := s.state.Load()
	if permits(w) == 0 || !s.state.CompareAndSwap(w, w-1) {
		return ErrWouldBlock
	}
	return nil
}

// Post releases one permit, unblocking at most one parked waiter. It is
// async-signal-safe: one atomic add and at most one raw syscall, no
// allocation and no locks.
func (s *Semaphore) Post() {
	// The increment must be visible before the wake so a woken waiter
	// cannot observe stale state and park again. The pre-increment waiter
	// count is the right one to consult: a waiter registers itself before
	// it ever examines the permit half.
	old := s.state.Add(1) - 1
	if waiters(old) != 0 {
		futexWake(s.permitAddr(), 1)
	}
}

// Close implements the contract's destruction step. The futex backend owns
// no kernel object, so it is a no-op. Closing with parked waiters is
// undefined behavior on every backend.
func (s *Semaphore) Close() error {
	return nil
}

// wait runs the fast path and falls through to the slow path. A zero
// deadline means block indefinitely.
func (s *Semaphore) wait(deadline time.Time) error {
	w := s.state.Load()
	if permits(w) != 0 && s.state.CompareAndSwap(w, w-1) {
		return nil
	}
	return s.waitSlow(deadline)
}

func (s *Semaphore) waitSlow(deadline time.Time) error {
	// Register intent to block before consulting the permit half again;
	// Post checks the waiter count only after publishing its increment, so
	// ordering the registration first closes the lost-wakeup window.
	w := s.state.Add(waiterOne)
	for {
		if permits(w) == 0 {
			if err := s.park(deadline); err != nil {
				// Deregister without touching the permit half. Exactly
				// once: every park error path returns from here.
				s.state.Add(^uint64(waiterOne - 1))
				return err
			}
			w = s.state.Load()
			continue
		}
		// Claim the permit and deregister in one step. This CAS is the
		// sole claim point on the slow path; on failure another thread
		// raced us, so reload and re-check without assuming the permit
		// is still there.
		if s.state.CompareAndSwap(w, w-1-waiterOne) {
			return nil
		}
		w = s.state.Load()
	}
}

// park sleeps in the kernel until the permit half changes, the deadline
// passes, or a signal arrives. A nil return means woken, raced, or a
// spurious wakeup; the caller re-checks either way.
func (s *Semaphore) park(deadline time.Time) error {
	var ts *unix.Timespec
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d <= 0 {
			return ErrTimedOut
		}
		t := unix.NsecToTimespec(d.Nanoseconds())
		ts = &t
	}
	// The kernel re-checks that the permit half is still zero before
	// sleeping, which closes the race between our check and the park.
	err := futexWait(s.permitAddr(), 0, ts)
	switch err {
	case nil, unix.EAGAIN:
		return nil
	case unix.EINTR:
		return ErrInterrupted
	case unix.ETIMEDOUT:
		return ErrTimedOut
	default:
		return errors.Wrap(err, "sema: futex wait")
	}
}

// permitAddr aliases the 32-bit half of the packed word holding the permit
// count. The futex syscall operates on 32-bit cells, so the kernel must
// watch exactly that half; on big-endian hosts it is the second one. This
// is the only unsafe aliasing in the package. atomic.Uint64 guarantees
// 8-byte alignment, so the half is a validly aligned uint32.
func (s *Semaphore) permitAddr() *uint32 {
	p := unsafe.Pointer(&s.state)
	if hostBigEndian {
		p = unsafe.Add(p, 4)
	}
	return (*uint32)(p)
}

var hostBigEndian = func() bool {
	var x uint16 = 1
	return *(*byte)(unsafe.Pointer(&x)) == 0
}()

// futexWait parks the calling thread until *addr is observed different
// from val, the relative timeout ts expires, or a signal arrives. The
// private flag is safe because no Semaphore is ever shared across
// processes.
func futexWait(addr *uint32, val uint32, ts *unix.Timespec) error {
	_, _, errno := unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(futexWaitOp|futexPrivateFlag),
		uintptr(val),
		uintptr(unsafe.Pointer(ts)),
		0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// futexWake wakes at most n threads parked on addr. Failure is not
// observable to Post's callers; a waiter that misses a wake re-checks the
// permit half on its next iteration anyway.
func futexWake(addr *uint32, n uint32) {
	unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(futexWakeOp|futexPrivateFlag),
		uintptr(n),
		0, 0, 0)
}
