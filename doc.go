// Package sema provides a counting, blocking semaphore.
//
// A semaphore is an atomic counter of interchangeable permits. Each Wait
// blocks the calling goroutine until the counter is positive and then
// decrements it; each Post increments the counter and unblocks a waiter if
// one is parked. The zero point is meaningful: a semaphore created with no
// permits is a handshake, one created with a single permit is a mutex, and
// one created with N permits is a gate onto N interchangeable resources.
//
// # Backends
//
// The package compiles exactly one backend per target platform, all
// satisfying the same contract:
//
//   - Linux: a lock-free fast path over a single packed atomic word, with
//     a futex-based slow path that parks waiters in the kernel. Post on
//     this backend is async-signal-safe.
//   - Darwin: an emulation of a process-local semaphore over a randomly
//     named, immediately-private FIFO, mirroring POSIX named semaphores.
//   - Everywhere else: a thin wrapper over golang.org/x/sync/semaphore.
//
// Callers never select a backend; the choice is static per build.
//
// # Errors
//
// Blocking operations report three recoverable conditions: ErrInterrupted
// (an asynchronous signal disturbed the wait; the permit was not claimed
// and callers typically retry), ErrTimedOut (a timed wait's deadline
// elapsed), and ErrWouldBlock (TryWait found no permit). Any other OS-level
// failure is returned wrapped around the underlying error. Conditions that
// indicate a corrupted environment, such as construction failure or a
// must-succeed native call failing, panic instead of returning.
//
// # Lifetime
//
// A Semaphore is shared freely across goroutines. Destroying one (Close,
// or letting it become unreachable) while goroutines are blocked on it is
// undefined behavior on every backend; the caller must quiesce waiters
// first.
package sema
