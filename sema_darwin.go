package sema

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Darwin has no usable process-local semaphore (sem_init returns ENOSYS),
// so this backend emulates one with a randomly named FIFO that is private
// to the instance from the moment it is created. A byte sitting in the
// pipe is a permit: Wait reads one, Post writes one. That keeps Post a
// single write(2), which is async-signal-safe just like sem_post.
//
// The pipe buffer bounds the permit count; initial value plus outstanding
// posts must stay below it (16 KiB at minimum on Darwin).

// semNameMax bounds the generated name. No definitive limit exists for
// named objects on Darwin; erring on the side of caution.
const semNameMax = 28

// Semaphore is a counting, blocking semaphore emulated over a named FIFO.
type Semaphore struct {
	fd   int
	name string
}

// New creates a semaphore with value permits available. It panics if the
// FIFO cannot be created, opened, or primed; these are unrecoverable
// environment failures, not conditions a caller can handle.
func New(value uint32) *Semaphore {
	name := filepath.Join(os.TempDir(), semName())
	// Create-exclusive: a name collision fails rather than silently
	// sharing state with a stranger. The name is long enough that a
	// collision means something is deeply wrong.
	if err := unix.Mkfifo(name, 0o600); err != nil {
		panic(errors.Wrapf(err, "sema: mkfifo %s", name))
	}
	// O_RDWR holds both ends open on one descriptor so the open does not
	// block and the pipe never sees EOF.
	fd, err := unix.Open(name, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		unix.Unlink(name)
		panic(errors.Wrapf(err, "sema: open %s", name))
	}
	s := &Semaphore{fd: fd, name: name}
	buf := make([]byte, 512)
	for left := int(value); left > 0; {
		n := left
		if n > len(buf) {
			n = len(buf)
		}
		wrote, err := unix.Write(fd, buf[:n])
		if err != nil {
			panic(errors.Wrap(err, "sema: priming initial permits"))
		}
		left -= wrote
	}
	return s
}

func semName() string {
	var b [(semNameMax - 5) / 2]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(errors.Wrap(err, "sema: generating name"))
	}
	return "sema-" + hex.EncodeToString(b[:])
}

// Wait blocks the calling goroutine until a permit is available, then
// claims it. It returns ErrInterrupted if a signal disturbed the wait.
func (s *Semaphore) Wait() error {
	return s.wait(time.Time{})
}

// WaitTimeout is Wait bounded by d. It returns ErrTimedOut once d elapses
// without a permit having been claimed.
func (s *Semaphore) WaitTimeout(d time.Duration) error {
	return s.wait(time.Now().Add(d))
}

// TryWait claims a permit only if one is immediately available; it never
// blocks.
func (s *Semaphore) TryWait() error {
	var b [1]byte
	for {
		_, err := unix.Read(s.fd, b[:])
		switch err {
		case nil:
			return nil
		case unix.EAGAIN:
			return ErrWouldBlock
		case unix.EINTR:
			continue
		default:
			return errors.Wrap(err, "sema: fifo read")
		}
	}
}

// Post releases one permit, unblocking at most one waiter. Like sem_post
// it never fails observably; a write failure (permit overflow past the
// pipe buffer, or a corrupted descriptor) panics.
func (s *Semaphore) Post() {
	b := [1]byte{0}
	if _, err := unix.Write(s.fd, b[:]); err != nil {
		panic(errors.Wrap(err, "sema: post"))
	}
}

// Close releases the descriptor and unlinks the name so no trace remains
// in the shared namespace. Closing with parked waiters is undefined
// behavior.
func (s *Semaphore) Close() error {
	if err := unix.Close(s.fd); err != nil {
		return errors.Wrap(err, "sema: close")
	}
	if err := unix.Unlink(s.name); err != nil {
		return errors.Wrapf(err, "sema: unlink %s", s.name)
	}
	return nil
}

// wait blocks in poll(2) until the pipe is readable, then races for the
// byte with a nonblocking read. Losing the race is indistinguishable from
// a spurious wakeup; re-poll either way. A zero deadline blocks
// indefinitely. Poll rather than select: select caps at FD_SETSIZE and a
// descriptor past 1024 is still a valid semaphore.
func (s *Semaphore) wait(deadline time.Time) error {
	var b [1]byte
	for {
		timeout := -1 // infinite
		if !deadline.IsZero() {
			d := time.Until(deadline)
			if d <= 0 {
				return ErrTimedOut
			}
			// Round up so a sub-millisecond remainder still sleeps
			// rather than spinning.
			timeout = int((d + time.Millisecond - 1) / time.Millisecond)
		}
		fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, timeout)
		switch {
		case err == unix.EINTR:
			return ErrInterrupted
		case err != nil:
			return errors.Wrap(err, "sema: fifo poll")
		case n == 0:
			return ErrTimedOut
		}
		switch _, err := unix.Read(s.fd, b[:]); err {
		case nil:
			return nil
		case unix.EAGAIN:
			// Another waiter consumed the byte first.
		case unix.EINTR:
			return ErrInterrupted
		default:
			return errors.Wrap(err, "sema: fifo read")
		}
	}
}
