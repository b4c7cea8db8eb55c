//go:build !windows
// +build !windows

package amio

import (
	"golang.org/x/sys/unix"
)

// Setup makes the wrapped handle non-blocking and, unless suppressed,
// close-on-exec. Call once before Attach.
func (t *Transport) Setup() error {
	if err := unix.SetNonblock(t.fd, true); err != nil {
		return NewSystemError(err)
	}
	if !t.suppressCloseOnExec {
		unix.CloseOnExec(t.fd)
	}
	return nil
}

// Read reads up to len(buf) bytes. completed=true iff at least one byte was
// transferred or EOF was observed. On EWOULDBLOCK/EAGAIN, returns a
// non-completed, non-error result and, if attached, asks the poller to
// rearm read readiness.
func (t *Transport) Read(buf []byte) IOResult {
	if t.Closed() {
		return IOResult{Err: NewLibraryError(ErrTransportClosed)}
	}
	n, err := unix.Read(t.fd, buf)
	switch {
	case n > 0:
		return IOResult{Completed: true, N: n}
	case n == 0 && err == nil:
		return IOResult{Completed: true, Ended: true}
	case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
		t.rearm(EventRead)
		return IOResult{}
	case err == unix.EINTR:
		return IOResult{}
	default:
		return IOResult{Err: NewSystemError(err)}
	}
}

// Write writes up to len(buf) bytes. Partial writes are normal and
// reported via N.
func (t *Transport) Write(buf []byte) IOResult {
	if t.Closed() {
		return IOResult{Err: NewLibraryError(ErrTransportClosed)}
	}
	if len(buf) == 0 {
		return IOResult{Completed: true}
	}
	n, err := unix.Write(t.fd, buf)
	switch {
	case n > 0:
		return IOResult{Completed: true, N: n}
	case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
		t.rearm(EventWrite)
		return IOResult{}
	case err == unix.EINTR:
		return IOResult{}
	default:
		return IOResult{Err: NewSystemError(err)}
	}
}

func (t *Transport) closeHandle() error {
	if err := unix.Close(t.fd); err != nil {
		return NewSystemError(err)
	}
	return nil
}
