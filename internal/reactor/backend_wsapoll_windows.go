//go:build windows
// +build windows

// WSAPoll backs amio's readiness Poller on Windows for callers who want
// readiness semantics (e.g. to drive a third-party library expecting
// select()-like behavior) rather than the native completion port path;
// CompletionPoller remains the primary, higher-throughput Windows backend.
package reactor

import (
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

type wsaPollBackend struct {
	mu       sync.Mutex
	fds      []windows.WSAPollFd
	slotByFD map[windows.Handle]int
	wake     chan struct{}
	woken    bool
}

// NewWSAPoll creates the Windows WSAPoll-based readiness backend.
func NewWSAPoll() (Backend, error) {
	return &wsaPollBackend{
		slotByFD: make(map[windows.Handle]int),
		wake:     make(chan struct{}, 1),
	}, nil
}

func wsaFlags(ev Event) int16 {
	var f int16
	if ev.Has(Read) {
		f |= windows.POLLIN
	}
	if ev.Has(Write) {
		f |= windows.POLLOUT
	}
	return f
}

func (b *wsaPollBackend) Open(id, fd int, ev Event, mode TriggerMode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := windows.Handle(fd)
	b.fds = append(b.fds, windows.WSAPollFd{Fd: h, Events: wsaFlags(ev)})
	b.slotByFD[h] = id
	return nil
}

func (b *wsaPollBackend) Modify(id, fd int, ev Event, mode TriggerMode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := windows.Handle(fd)
	for i := range b.fds {
		if b.fds[i].Fd == h {
			b.fds[i].Events = wsaFlags(ev)
			return nil
		}
	}
	return errors.Errorf("reactor: modify: handle %d not registered", fd)
}

func (b *wsaPollBackend) Close(id, fd int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := windows.Handle(fd)
	for i := range b.fds {
		if b.fds[i].Fd == h {
			b.fds[i] = b.fds[len(b.fds)-1]
			b.fds = b.fds[:len(b.fds)-1]
			break
		}
	}
	delete(b.slotByFD, h)
	return nil
}

func (b *wsaPollBackend) Wait(timeoutMS int) (Batch, error) {
	select {
	case <-b.wake:
		return Batch{Woken: true}, nil
	default:
	}

	b.mu.Lock()
	fds := make([]windows.WSAPollFd, len(b.fds))
	copy(fds, b.fds)
	b.mu.Unlock()

	if len(fds) == 0 {
		// WSAPoll rejects an empty fd set; honor the timeout by waiting on
		// the wake channel instead of busy-looping the syscall.
		if timeoutMS < 0 {
			<-b.wake
			return Batch{Woken: true}, nil
		}
		select {
		case <-b.wake:
			return Batch{Woken: true}, nil
		case <-afterMS(timeoutMS):
			return Batch{}, nil
		}
	}

	n, err := windows.WSAPoll(fds, int32(timeoutMS))
	if err != nil {
		return Batch{}, err
	}
	batch := Batch{}
	if n <= 0 {
		return batch, nil
	}
	batch.Entries = make([]Ready, 0, n)
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, pfd := range fds {
		if pfd.REvents == 0 {
			continue
		}
		id, ok := b.slotByFD[pfd.Fd]
		if !ok {
			continue
		}
		r := Ready{SlotID: id}
		if pfd.REvents&windows.POLLERR != 0 {
			r.Err = errors.New("wsapoll: POLLERR")
		}
		if pfd.REvents&windows.POLLHUP != 0 {
			r.Hangup = true
		}
		if pfd.REvents&windows.POLLIN != 0 {
			r.Read = true
		}
		if pfd.REvents&windows.POLLOUT != 0 {
			r.Write = true
		}
		batch.Entries = append(batch.Entries, r)
	}
	return batch, nil
}

func (b *wsaPollBackend) SupportsEdgeTriggering() bool { return false }

func (b *wsaPollBackend) Wake() error {
	select {
	case b.wake <- struct{}{}:
	default:
	}
	return nil
}

func (b *wsaPollBackend) Shutdown() error { return nil }

// New creates the readiness Backend native to the running OS.
func New() (Backend, error) { return NewWSAPoll() }
