//
//
// Tencent is pleased to support the open source community by making tRPC available.
//
// Copyright (C) 2023 THL A29 Limited, a Tencent company.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

package amio

import (
	"sync"

	"go.uber.org/atomic"

	"github.com/loopworks/amio/internal/safejob"
)

// Transport wraps one OS handle (a file descriptor on POSIX, a HANDLE/SOCKET
// on Windows): files, pipes, and sockets are all represented the same way.
// A Transport is attached to at most one poller at a time; while attached,
// the poller holds the transport reachable through its slot table and the
// transport holds a strong reference to its listener. Detach (explicit, or
// implied by Close/hangup/error) clears both directions.
type Transport struct {
	fd int

	noAutoClose        bool
	suppressCloseOnExec bool
	proxying           bool

	closeOnce safejob.OnceJob
	closed    atomic.Bool

	mu       sync.Mutex
	owner    transportOwner
	slot     int
	listener StatusListener
	events   EventMask
	mode     TriggerMode
}

// transportOwner is the subset of Poller a Transport needs to call back
// into on rearm without creating an import cycle or a hard dependency on
// the concrete type.
type transportOwner interface {
	addEventsLocked(slot int, ev EventMask) error
	detachLocked(slot int)
}

// NewTransport wraps an existing, already-open OS handle. Call Setup before
// attaching it to a poller.
func NewTransport(fd int, opts ...TransportOption) *Transport {
	t := &Transport{fd: fd, slot: -1}
	for _, o := range opts {
		o(t)
	}
	return t
}

// TransportOption configures a Transport at construction time.
type TransportOption func(*Transport)

// WithNoAutoClose prevents Close from closing the underlying handle; the
// caller retains ownership and must close it themselves.
func WithNoAutoClose() TransportOption {
	return func(t *Transport) { t.noAutoClose = true }
}

// WithSuppressCloseOnExec skips marking the handle close-on-exec during
// Setup, for callers that manage inheritance themselves.
func WithSuppressCloseOnExec() TransportOption {
	return func(t *Transport) { t.suppressCloseOnExec = true }
}

// withProxying marks this transport as owned by an EventQueue delegate.
// Nothing in this module applies it.
func withProxying() TransportOption {
	return func(t *Transport) { t.proxying = true }
}

// FD returns the wrapped OS handle.
func (t *Transport) FD() int { return t.fd }

// Closed reports whether Close has been called.
func (t *Transport) Closed() bool { return t.closed.Load() }

// attach is called by Poller.Attach under its structural lock.
func (t *Transport) attach(owner transportOwner, slot int, l StatusListener, ev EventMask, mode TriggerMode) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.owner != nil {
		return NewLibraryError(ErrTransportAlreadyAttached)
	}
	t.owner, t.slot, t.listener, t.events, t.mode = owner, slot, l, ev, mode
	return nil
}

// detach clears the poller back-link and strips event-mask flags, handing
// the previous listener back to the caller so a final OnHangup/OnError can
// be delivered after the poller's structural lock is released.
func (t *Transport) detach() (StatusListener, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, slot := t.listener, t.slot
	t.owner, t.slot, t.listener, t.events = nil, -1, nil, 0
	return l, slot
}

// attachedSlot returns the slot id this transport is attached under, or -1.
func (t *Transport) attachedSlot() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.slot
}

// currentListener returns the live listener, or nil if detached. Poller.deliver
// reads it fresh around each callback rather than caching it, so a Detach
// racing with delivery is observed promptly.
func (t *Transport) currentListener() StatusListener {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.listener
}

// swapListener replaces the listener on an already-attached transport,
// without a Detach/Attach cycle (which would fail with
// ErrTransportAlreadyAttached). Used by Poller.Reassign/EventQueue.Reassign.
func (t *Transport) swapListener(l StatusListener) {
	t.mu.Lock()
	t.listener = l
	t.mu.Unlock()
}

// rearm is called by Read/Write when a syscall reports
// EWOULDBLOCK/EAGAIN: the transport asks its owning poller to re-enable the
// corresponding interest bit. For an edge-triggered attachment this is a
// no-op at the backend (the bit was never cleared); for emulated-edge on a
// level-triggered backend it re-enables delivery.
func (t *Transport) rearm(ev EventMask) {
	t.mu.Lock()
	owner, slot := t.owner, t.slot
	t.mu.Unlock()
	if owner == nil {
		return
	}
	_ = owner.addEventsLocked(slot, ev)
}

// Close closes the handle and, if attached, requests detach from the
// owning poller. Safe to call twice; the second call is a no-op.
func (t *Transport) Close() error {
	if !t.closeOnce.Begin() {
		return nil
	}
	t.closed.Store(true)
	t.mu.Lock()
	owner, slot := t.owner, t.slot
	t.mu.Unlock()
	if owner != nil {
		owner.detachLocked(slot)
	}
	if t.noAutoClose {
		return nil
	}
	return t.closeHandle()
}
