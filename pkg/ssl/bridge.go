package ssl

import (
	"errors"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Bridge couples the engine to one socket descriptor. The engine asks it for
// ciphertext bytes (WantsRead) and hands it ciphertext bytes to deliver
// (WantsWrite); the bridge performs a single syscall per invocation and
// translates the raw outcome into a Status.
//
// The descriptor is set once at bind time and never mutated; sessions put it
// in non-blocking mode when they bind it. The bridge does
// not own the socket: its connect/accept/close lifecycle belongs to the
// caller, and an abandoned session is torn down by the caller closing the
// descriptor, which surfaces here as ClosedAbort or IOError.
type Bridge struct {
	fd int
}

// NewBridge binds a bridge to a connected socket descriptor.
func NewBridge(fd int) *Bridge {
	return &Bridge{fd: fd}
}

// Descriptor returns the bound socket descriptor.
func (b *Bridge) Descriptor() int {
	return b.fd
}

// setNonblocking switches the descriptor to non-blocking mode. Read and
// write syscalls then return EAGAIN instead of parking the goroutine in the
// kernel, so deadlines are enforced in the poll-based waits.
func (b *Bridge) setNonblocking() error {
	if err := unix.SetNonblock(b.fd, true); err != nil {
		return NewErrorWithCause(KindIOError, "set socket descriptor non-blocking", err)
	}
	return nil
}

// WantsRead performs a single read on the bound descriptor. A full read is
// StatusOK; a partial read delivers the data with StatusWouldBlock so the
// engine re-invokes once more bytes are available; a zero-length read is an
// orderly peer shutdown.
func (b *Bridge) WantsRead(p []byte) (int, Status) {
	n, err := unix.Read(b.fd, p)
	return readOutcome(n, len(p), err)
}

// WantsWrite performs a single write on the bound descriptor. Short writes
// return the count with StatusOK and the caller continues with the
// remainder; a zero-length successful write means the peer is gone.
func (b *Bridge) WantsWrite(p []byte) (int, Status) {
	n, err := unix.Write(b.fd, p)
	return writeOutcome(n, err)
}

// readOutcome maps a raw read result onto the bridge status space.
func readOutcome(n, requested int, err error) (int, Status) {
	if err != nil {
		switch {
		case errors.Is(err, unix.ENOENT):
			return 0, StatusClosedGracefully
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EWOULDBLOCK), errors.Is(err, unix.EINTR):
			return 0, StatusWouldBlock
		case errors.Is(err, unix.ECONNRESET):
			return 0, StatusClosedAbort
		default:
			return 0, StatusIOError
		}
	}
	switch {
	case n == 0:
		return 0, StatusClosedGracefully
	case n < requested:
		return n, StatusWouldBlock
	default:
		return n, StatusOK
	}
}

// writeOutcome maps a raw write result onto the bridge status space.
func writeOutcome(n int, err error) (int, Status) {
	if err != nil {
		switch {
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EWOULDBLOCK), errors.Is(err, unix.EINTR):
			return 0, StatusWouldBlock
		case errors.Is(err, unix.ECONNRESET), errors.Is(err, unix.EPIPE):
			return 0, StatusClosedAbort
		default:
			return 0, StatusIOError
		}
	}
	if n == 0 {
		return 0, StatusClosedGracefully
	}
	return n, StatusOK
}

// waitReadable blocks until the descriptor is readable or the deadline
// passes. A zero deadline waits indefinitely.
func (b *Bridge) waitReadable(deadline time.Time) error {
	return b.wait(unix.POLLIN, deadline)
}

// waitWritable blocks until the descriptor is writable or the deadline
// passes. A zero deadline waits indefinitely.
func (b *Bridge) waitWritable(deadline time.Time) error {
	return b.wait(unix.POLLOUT, deadline)
}

func (b *Bridge) wait(events int16, deadline time.Time) error {
	for {
		timeout := -1
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return os.ErrDeadlineExceeded
			}
			timeout = int(remaining.Milliseconds())
			if timeout == 0 {
				timeout = 1
			}
		}

		fds := []unix.PollFd{{Fd: int32(b.fd), Events: events}}
		n, err := unix.Poll(fds, timeout)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return NewErrorWithCause(KindIOError, "poll on socket descriptor failed", err)
		}
		if n == 0 {
			return os.ErrDeadlineExceeded
		}
		return nil
	}
}
