//go:build !linux && (!freebsd && !dragonfly && !darwin) && !windows
// +build !linux
// +build !freebsd
// +build !dragonfly
// +build !darwin
// +build !windows

// This file backs the portable poll(2) fallback. Per the system budget
// note, select/poll/devpoll/WSAPoll duplicate the same level-triggered
// shape across OSes; one portable poll()-based implementation collapses
// them rather than reimplementing each syscall. It is also what readiness
// Attach(..., Edge) actually exercises: poll() never delivers
// edge-triggered notifications on its own, so Edge mode here is entirely
// software-emulated by stripping interest bits after delivery.
package reactor

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

type pollBackend struct {
	mu       sync.Mutex
	fds      []unix.PollFd
	slotByFD map[int32]int
	wakeR    int
	wakeW    int
}

// NewPoll creates the portable poll(2)-based readiness backend, used on
// OSes without epoll or kqueue.
func NewPoll() (Backend, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, os.NewSyscallError("pipe2", err)
	}
	b := &pollBackend{
		slotByFD: make(map[int32]int),
		wakeR:    fds[0],
		wakeW:    fds[1],
	}
	b.fds = append(b.fds, unix.PollFd{Fd: int32(b.wakeR), Events: unix.POLLIN})
	return b, nil
}

func pollFlags(ev Event) int16 {
	var f int16
	if ev.Has(Read) {
		f |= unix.POLLIN
	}
	if ev.Has(Write) {
		f |= unix.POLLOUT
	}
	return f
}

func (b *pollBackend) Open(id, fd int, ev Event, mode TriggerMode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fds = append(b.fds, unix.PollFd{Fd: int32(fd), Events: pollFlags(ev)})
	b.slotByFD[int32(fd)] = id
	return nil
}

func (b *pollBackend) Modify(id, fd int, ev Event, mode TriggerMode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.fds {
		if b.fds[i].Fd == int32(fd) {
			b.fds[i].Events = pollFlags(ev)
			return nil
		}
	}
	return errors.Errorf("reactor: modify: fd %d not registered", fd)
}

func (b *pollBackend) Close(id, fd int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.fds {
		if b.fds[i].Fd == int32(fd) {
			b.fds[i] = b.fds[len(b.fds)-1]
			b.fds = b.fds[:len(b.fds)-1]
			break
		}
	}
	delete(b.slotByFD, int32(fd))
	return nil
}

func (b *pollBackend) Wait(timeoutMS int) (Batch, error) {
	b.mu.Lock()
	fds := make([]unix.PollFd, len(b.fds))
	copy(fds, b.fds)
	b.mu.Unlock()

	n, err := unix.Poll(fds, timeoutMS)
	if err != nil {
		if err == unix.EINTR {
			return Batch{}, nil
		}
		return Batch{}, os.NewSyscallError("poll", err)
	}
	batch := Batch{}
	if n <= 0 {
		return batch, nil
	}
	batch.Entries = make([]Ready, 0, n)
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, pfd := range fds {
		if pfd.Revents == 0 {
			continue
		}
		if pfd.Fd == int32(b.wakeR) {
			var buf [64]byte
			for {
				if _, err := unix.Read(b.wakeR, buf[:]); err != nil {
					break
				}
			}
			batch.Woken = true
			continue
		}
		id, ok := b.slotByFD[pfd.Fd]
		if !ok {
			continue
		}
		r := Ready{SlotID: id}
		if pfd.Revents&unix.POLLERR != 0 {
			r.Err = errors.New("poll: POLLERR")
		}
		if pfd.Revents&(unix.POLLHUP|unix.POLLRDHUP) != 0 {
			r.Hangup = true
		}
		if pfd.Revents&unix.POLLIN != 0 {
			r.Read = true
		}
		if pfd.Revents&unix.POLLOUT != 0 {
			r.Write = true
		}
		batch.Entries = append(batch.Entries, r)
	}
	return batch, nil
}

// SupportsEdgeTriggering is false: poll() is inherently level-triggered.
// Edge semantics requested by a caller are emulated entirely by the
// front-end Poller (clearing interest bits after delivery), not here.
func (b *pollBackend) SupportsEdgeTriggering() bool { return false }

func (b *pollBackend) Wake() error {
	var one [1]byte
	for {
		_, err := unix.Write(b.wakeW, one[:])
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return nil
		}
		if err != nil {
			return os.NewSyscallError("write", err)
		}
		return nil
	}
}

func (b *pollBackend) Shutdown() error {
	unix.Close(b.wakeR)
	return os.NewSyscallError("close", unix.Close(b.wakeW))
}
