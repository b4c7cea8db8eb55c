// Tencent is pleased to support the open source community by making tnet available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tnet source code from Tencent,
// please note that tnet source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License can be found in the LICENSE file.

//go:build (freebsd || dragonfly || darwin) && (amd64 || arm64)
// +build freebsd dragonfly darwin
// +build amd64 arm64

package reactor

import (
	"os"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const defaultKevents = 128

// kqueueBackend is the BSD/Darwin Backend. kqueue tracks read and write
// interest as two independent filters per fd, so Open/Modify issue one
// change for each of the two filters on every call (EV_ADD where the bit is
// wanted, EV_DELETE where it is not, ignoring ENOENT), rather than one
// combined call the way epoll_ctl does.
type kqueueBackend struct {
	fd     int
	events []unix.Kevent_t
}

// NewKqueue creates the BSD/Darwin readiness backend.
func NewKqueue() (Backend, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, os.NewSyscallError("kqueue", err)
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if _, err := unix.Kevent(fd, []unix.Kevent_t{{
		Ident:  0,
		Filter: unix.EVFILT_USER,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
	}}, nil, nil); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("kevent add|clear wake", err)
	}
	return &kqueueBackend{fd: fd, events: make([]unix.Kevent_t, defaultKevents)}, nil
}

func filterFlags(mode TriggerMode) uint16 {
	flags := uint16(unix.EV_ADD | unix.EV_ENABLE)
	if mode == Edge || mode == EdgeOrLevel {
		flags |= unix.EV_CLEAR
	}
	return flags
}

func (b *kqueueBackend) apply(id, fd int, ev Event, mode TriggerMode) error {
	var changes []unix.Kevent_t
	addOrDel := func(filter int16, want bool) {
		if !want {
			changes = append(changes, unix.Kevent_t{
				Ident:  uint64(fd),
				Filter: filter,
				Flags:  unix.EV_DELETE,
			})
			return
		}
		changes = append(changes, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: filter,
			Flags:  filterFlags(mode),
			Udata:  (*byte)(nil),
		})
	}
	addOrDel(unix.EVFILT_READ, ev.Has(Read))
	addOrDel(unix.EVFILT_WRITE, ev.Has(Write))
	for i := range changes {
		changes[i].Ident = uint64(fd)
		changes[i].Udata = (*byte)(unsafe.Pointer(uintptr(id)))
	}
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(b.fd, changes, nil, nil)
	if err != nil && err != unix.ENOENT {
		return errors.Wrap(os.NewSyscallError("kevent", err), "reactor: apply")
	}
	return nil
}

func (b *kqueueBackend) Open(id, fd int, ev Event, mode TriggerMode) error {
	return b.apply(id, fd, ev, mode)
}

func (b *kqueueBackend) Modify(id, fd int, ev Event, mode TriggerMode) error {
	return b.apply(id, fd, ev, mode)
}

func (b *kqueueBackend) Close(id, fd int) error {
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
	// EV_DELETE on a filter that was never added returns ENOENT on some
	// kernels; that's benign here since we always request both filters'
	// removal regardless of which were actually armed.
	if _, err := unix.Kevent(b.fd, changes, nil, nil); err != nil && err != unix.ENOENT {
		return errors.Wrap(os.NewSyscallError("kevent del", err), "reactor: close")
	}
	return nil
}

func (b *kqueueBackend) Wait(timeoutMS int) (Batch, error) {
	var ts *unix.Timespec
	if timeoutMS >= 0 {
		d := unix.NsecToTimespec(int64(timeoutMS) * 1e6)
		ts = &d
	}
	n, err := unix.Kevent(b.fd, nil, b.events, ts)
	if err != nil {
		if err == unix.EINTR {
			return Batch{}, nil
		}
		return Batch{}, os.NewSyscallError("kevent wait", err)
	}
	batch := Batch{}
	if n > 0 {
		batch.Entries = make([]Ready, 0, n)
	}
	for i := 0; i < n; i++ {
		evt := b.events[i]
		if evt.Filter == unix.EVFILT_USER {
			batch.Woken = true
			continue
		}
		r := Ready{SlotID: int(uintptr(unsafe.Pointer(evt.Udata)))}
		if evt.Flags&unix.EV_ERROR != 0 {
			r.Err = errors.Errorf("kqueue: EV_ERROR data=%d", evt.Data)
		}
		if evt.Flags&unix.EV_EOF != 0 {
			r.Hangup = true
		}
		switch evt.Filter {
		case unix.EVFILT_READ:
			r.Read = true
		case unix.EVFILT_WRITE:
			r.Write = true
		}
		batch.Entries = append(batch.Entries, r)
	}
	return batch, nil
}

func (b *kqueueBackend) SupportsEdgeTriggering() bool { return true }

func (b *kqueueBackend) Wake() error {
	_, err := unix.Kevent(b.fd, []unix.Kevent_t{{
		Ident:  0,
		Filter: unix.EVFILT_USER,
		Fflags: unix.NOTE_TRIGGER,
	}}, nil, nil)
	if err != nil && err != unix.EINTR && err != unix.EAGAIN {
		return os.NewSyscallError("kevent trigger", err)
	}
	return nil
}

func (b *kqueueBackend) Shutdown() error {
	return os.NewSyscallError("close", unix.Close(b.fd))
}
