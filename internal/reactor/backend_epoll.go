// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

//go:build linux
// +build linux

package reactor

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/loopworks/amio/internal/sysprobe"
)

const defaultEpollBatch = 128

// epoll is the Linux Backend. It is natively edge-triggered (EPOLLET) when
// an attachment asks for Edge, and level-triggered otherwise; software
// edge-emulation (clearing the interest bit after delivery) is decided and
// performed by the caller, not here.
type epollBackend struct {
	epfd     int
	wakeFD   int
	wakeBuf  [8]byte
	rdhup    uint32
	events   []unix.EpollEvent
}

// NewEpoll creates the Linux readiness backend.
func NewEpoll() (Backend, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	wakeFD, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, os.NewSyscallError("eventfd", err)
	}
	b := &epollBackend{
		epfd:   epfd,
		wakeFD: wakeFD,
		events: make([]unix.EpollEvent, defaultEpollBatch),
	}
	if sysprobe.SupportsEPOLLRDHUP() {
		b.rdhup = unix.EPOLLRDHUP
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFD, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     -1,
	}); err != nil {
		unix.Close(wakeFD)
		unix.Close(epfd)
		return nil, os.NewSyscallError("epoll_ctl add wake", err)
	}
	return b, nil
}

func (b *epollBackend) nativeFlags(ev Event, mode TriggerMode) uint32 {
	var flags uint32
	if ev.Has(Read) {
		flags |= unix.EPOLLIN | unix.EPOLLPRI
	}
	if ev.Has(Write) {
		flags |= unix.EPOLLOUT
	}
	flags |= unix.EPOLLERR | unix.EPOLLHUP | b.rdhup
	if mode == Edge || mode == EdgeOrLevel {
		flags |= unix.EPOLLET
	}
	return flags
}

func (b *epollBackend) Open(id, fd int, ev Event, mode TriggerMode) error {
	err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: b.nativeFlags(ev, mode),
		Fd:     int32(id),
	})
	if err != nil {
		return errors.Wrap(os.NewSyscallError("epoll_ctl add", err), "reactor: open")
	}
	return nil
}

func (b *epollBackend) Modify(id, fd int, ev Event, mode TriggerMode) error {
	err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: b.nativeFlags(ev, mode),
		Fd:     int32(id),
	})
	if err != nil {
		return errors.Wrap(os.NewSyscallError("epoll_ctl mod", err), "reactor: modify")
	}
	return nil
}

func (b *epollBackend) Close(id, fd int) error {
	err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	// kqueue's EV_DELETE-on-unknown-event is the classic foot-gun here;
	// epoll_ctl(DEL) on an already-closed fd returns ENOENT/EBADF, which is
	// likewise benign for us since Close is only ever called once per slot.
	if err != nil && err != unix.ENOENT && err != unix.EBADF {
		return errors.Wrap(os.NewSyscallError("epoll_ctl del", err), "reactor: close")
	}
	return nil
}

func (b *epollBackend) Wait(timeoutMS int) (Batch, error) {
	n, err := unix.EpollWait(b.epfd, b.events, timeoutMS)
	if err != nil {
		if err == unix.EINTR {
			return Batch{}, nil
		}
		return Batch{}, os.NewSyscallError("epoll_wait", err)
	}
	batch := Batch{}
	if n > 0 {
		batch.Entries = make([]Ready, 0, n)
	}
	for i := 0; i < n; i++ {
		evt := b.events[i]
		if evt.Fd == -1 {
			unix.Read(b.wakeFD, b.wakeBuf[:])
			batch.Woken = true
			continue
		}
		r := Ready{SlotID: int(evt.Fd)}
		if evt.Events&(unix.EPOLLERR) != 0 {
			r.Err = errors.New("epoll: EPOLLERR")
		}
		if evt.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
			r.Hangup = true
		}
		if evt.Events&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
			r.Read = true
		}
		if evt.Events&unix.EPOLLOUT != 0 {
			r.Write = true
		}
		batch.Entries = append(batch.Entries, r)
	}
	return batch, nil
}

func (b *epollBackend) SupportsEdgeTriggering() bool { return true }

func (b *epollBackend) Wake() error {
	var one [8]byte
	one[0] = 1
	for {
		_, err := unix.Write(b.wakeFD, one[:])
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return nil // a wakeup is already pending
		}
		if err != nil {
			return os.NewSyscallError("write", err)
		}
		return nil
	}
}

func (b *epollBackend) Shutdown() error {
	unix.Close(b.wakeFD)
	return os.NewSyscallError("close", unix.Close(b.epfd))
}
