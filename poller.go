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

	"github.com/loopworks/amio/internal/locker"
	"github.com/loopworks/amio/internal/reactor"
	"github.com/loopworks/amio/log"
	"github.com/loopworks/amio/metrics"
)

// Poller is a readiness poller: it manages a set of transports registered
// with an OS readiness primitive (epoll, kqueue, or the portable poll()
// fallback) and delivers OnReadReady/OnWriteReady/OnHangup/OnError,
// emulating edge-triggering in software where the backend is natively
// level-triggered.
//
// A freshly constructed Poller is single-threaded cooperative: every
// method must be called from the same goroutine and no internal locking
// happens. EnableThreadSafety switches it into thread-safe mode, where
// structural calls (Attach/Detach/ChangeEvents/Add/RemoveEvents) may be
// called from any goroutine while Poll is serialized by a separate lock.
type Poller struct {
	backend reactor.Backend
	table   reactor.Table
	log     log.Logger

	threadSafe bool
	structural locker.Locker
	pollLock   locker.Locker
	noopLock   locker.NoopLocker
}

// PollerOption configures a Poller at construction time.
type PollerOption func(*Poller)

// WithLogger installs a logger that receives backend-level warnings (e.g. a
// per-entry error that Detach races made moot). The default discards them.
func WithLogger(l log.Logger) PollerOption {
	return func(p *Poller) { p.log = l }
}

// NewPoller creates a readiness poller backed by the OS's native
// notification primitive.
func NewPoller(opts ...PollerOption) (*Poller, error) {
	b, err := reactor.New()
	if err != nil {
		return nil, NewSystemError(err)
	}
	p := &Poller{backend: b, log: log.Discard}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// EnableThreadSafety switches the poller into thread-safe mode. Call before
// sharing the poller across goroutines; it is not safe to call concurrently
// with other methods.
func (p *Poller) EnableThreadSafety() { p.threadSafe = true }

// SupportsEdgeTriggering reports whether the backend can deliver edge
// semantics on its own (epoll, kqueue) as opposed to only via software
// emulation (the portable poll() fallback).
func (p *Poller) SupportsEdgeTriggering() bool { return p.backend.SupportsEdgeTriggering() }

// Wake interrupts a blocked Poll in another goroutine. Poll reports the
// interruption as an empty batch; it carries no event of its own.
func (p *Poller) Wake() error {
	if err := p.backend.Wake(); err != nil {
		return NewSystemError(err)
	}
	return nil
}

func (p *Poller) lockStructural() func() {
	if !p.threadSafe {
		return func() {}
	}
	p.structural.Lock()
	return p.structural.Unlock
}

// Attach registers t with this poller, arming ev under mode. t must not
// already be attached to any poller.
func (p *Poller) Attach(t *Transport, l StatusListener, ev EventMask, mode TriggerMode) error {
	unlock := p.lockStructural()
	defer unlock()

	id := p.table.Alloc()
	if err := t.attach(p, id, l, ev, mode); err != nil {
		p.table.Free(id)
		return err
	}
	p.table.Set(id, reactor.Slot{FD: t.FD(), Events: ev, Mode: mode, Owner: t})
	if err := p.backend.Open(id, t.FD(), ev, mode); err != nil {
		p.table.Free(id)
		t.detach()
		return NewSystemError(err)
	}
	return nil
}

// Detach removes t from this poller. Any events for its slot already
// queued in an in-progress Poll batch are skipped via the generation check.
func (p *Poller) Detach(t *Transport) error {
	unlock := p.lockStructural()
	defer unlock()
	p.detachLocked(t.attachedSlot())
	t.detach()
	return nil
}

// detachLocked implements transportOwner; called by Transport.Close and by
// Poller.Detach. slot may be -1 (not attached), which is a no-op.
func (p *Poller) detachLocked(slot int) {
	if slot < 0 {
		return
	}
	s, ok := p.table.Get(slot)
	if !ok {
		return
	}
	_ = p.backend.Close(slot, s.FD)
	p.table.Free(slot)
}

// ChangeEvents replaces t's interest mask with ev.
func (p *Poller) ChangeEvents(t *Transport, ev EventMask) error {
	unlock := p.lockStructural()
	defer unlock()
	return p.changeLocked(t, ev)
}

// AddEvents ORs ev into t's interest mask.
func (p *Poller) AddEvents(t *Transport, ev EventMask) error {
	unlock := p.lockStructural()
	defer unlock()
	slot := t.attachedSlot()
	s, ok := p.table.Get(slot)
	if !ok {
		return NewLibraryError(ErrTransportClosed)
	}
	return p.changeLocked(t, s.Events|ev)
}

// RemoveEvents clears ev out of t's interest mask.
func (p *Poller) RemoveEvents(t *Transport, ev EventMask) error {
	unlock := p.lockStructural()
	defer unlock()
	slot := t.attachedSlot()
	s, ok := p.table.Get(slot)
	if !ok {
		return NewLibraryError(ErrTransportClosed)
	}
	return p.changeLocked(t, s.Events&^ev)
}

// addEventsLocked implements transportOwner for Transport's EWOULDBLOCK
// rearm path; it takes the structural lock itself since Read/Write call it
// outside of any poller lock.
func (p *Poller) addEventsLocked(slot int, ev EventMask) error {
	unlock := p.lockStructural()
	defer unlock()
	s, ok := p.table.Get(slot)
	if !ok {
		return nil
	}
	if s.Events.Has(ev) {
		return nil // bit already armed: nothing to change
	}
	return p.changeLockedBySlot(slot, s.FD, s.Events|ev, s.Mode)
}

// changeLocked short-circuits when the requested mask already equals the
// current one — "add contributes no bit not already present".
func (p *Poller) changeLocked(t *Transport, ev EventMask) error {
	slot := t.attachedSlot()
	s, ok := p.table.Get(slot)
	if !ok {
		return NewLibraryError(ErrTransportClosed)
	}
	if s.Events == ev {
		return nil
	}
	return p.changeLockedBySlot(slot, s.FD, ev, s.Mode)
}

func (p *Poller) changeLockedBySlot(slot, fd int, ev EventMask, mode TriggerMode) error {
	if err := p.backend.Modify(slot, fd, ev, mode); err != nil {
		return NewSystemError(err)
	}
	p.table.Mutate(slot, func(s *reactor.Slot) { s.Events = ev })
	return nil
}

// Reassign swaps an already-attached transport's listener for l and resets
// its interest mask to ev, without a Detach/Attach cycle (a second Attach
// on a still-attached transport fails with ErrTransportAlreadyAttached).
// Used by callers that hand a transport off between listeners once some
// one-shot condition completes — e.g. netio.Client moving a connecting
// socket's listener from itself to the resulting Connection's proxy once
// the connect finishes.
func (p *Poller) Reassign(t *Transport, l StatusListener, ev EventMask) error {
	unlock := p.lockStructural()
	defer unlock()
	if t.attachedSlot() < 0 {
		return NewLibraryError(ErrTransportClosed)
	}
	t.swapListener(l)
	return p.changeLocked(t, ev)
}

// Poll waits up to timeoutMS (negative for forever, zero for non-blocking)
// and delivers ready callbacks. EINTR from the kernel wait is treated as
// "no events"; any other backend error is returned.
func (p *Poller) Poll(timeoutMS int) error {
	if p.threadSafe {
		p.pollLock.Lock()
		defer p.pollLock.Unlock()
	}
	batch, err := p.backend.Wait(timeoutMS)
	if err != nil {
		p.log.Errorf("amio: poller wait: %v", err)
		return NewSystemError(err)
	}
	if timeoutMS == 0 {
		metrics.Add(metrics.PollNoWait, 1)
	} else {
		metrics.Add(metrics.PollWait, 1)
	}
	metrics.Add(metrics.PollEvents, uint64(len(batch.Entries)))

	gen := p.table.BeginPoll()
	for _, r := range batch.Entries {
		p.deliver(r, gen)
	}
	return nil
}

// deliver runs the per-entry precedence: error detaches and reports
// exclusively; otherwise read, then hangup, then write are each attempted
// in turn, with the generation re-checked after every callback so a detach
// performed by an earlier step in this same batch suppresses the rest for
// this slot. Error and hangup detach the transport before invoking the
// listener, so OnError/OnHangup always observe a terminal transport.
func (p *Poller) deliver(r reactor.Ready, gen uint64) {
	if p.table.StaleAt(r.SlotID, gen) {
		return
	}
	s, ok := p.table.Get(r.SlotID)
	if !ok {
		return
	}
	t, ok := s.Owner.(*Transport)
	if !ok || t == nil {
		return
	}

	if r.Err != nil {
		p.reportError(r.SlotID, t, r.Err)
		return
	}
	if r.Read && s.Events.Has(EventRead) {
		p.deliverReady(r.SlotID, s, t, EventRead)
		if p.table.StaleAt(r.SlotID, gen) {
			return
		}
	}
	if r.Hangup {
		p.reportHangup(r.SlotID, t)
		return
	}
	if r.Write && s.Events.Has(EventWrite) {
		p.deliverReady(r.SlotID, s, t, EventWrite)
	}
}

// deliverReady strips the interest bit first when edge triggering is
// emulated in software (the backend is natively level-triggered and this
// attachment asked for Edge/EdgeOrLevel), then invokes the listener.
func (p *Poller) deliverReady(slot int, s reactor.Slot, t *Transport, bit EventMask) {
	if s.Mode != Level && !p.backend.SupportsEdgeTriggering() {
		unlock := p.lockStructural()
		_ = p.changeLockedBySlot(slot, s.FD, s.Events&^bit, s.Mode)
		unlock()
	}
	l := t.currentListener()
	if l == nil {
		return
	}
	if bit == EventRead {
		l.OnReadReady(t)
	} else {
		l.OnWriteReady(t)
	}
}

// reportError detaches the transport then delivers a final OnError, with
// the structural lock released before the callback runs.
func (p *Poller) reportError(slot int, t *Transport, err error) {
	unlock := p.lockStructural()
	p.detachLocked(slot)
	unlock()
	l, _ := t.detach()
	if l != nil {
		l.OnError(t, err)
	}
}

// reportHangup detaches the transport then delivers a final OnHangup, with
// the structural lock released before the callback runs.
func (p *Poller) reportHangup(slot int, t *Transport) {
	unlock := p.lockStructural()
	p.detachLocked(slot)
	unlock()
	l, _ := t.detach()
	if l != nil {
		l.OnHangup(t)
	}
}

// Shutdown detaches every transport still attached to this poller and
// releases the backend's OS resources (the epoll/kqueue/poll fd and its
// wake primitive). Each detached transport's listener receives a final
// OnHangup — the same callback Detach's own teardown path would produce —
// with the structural lock released before any callback runs. The poller
// must not be used again afterward.
func (p *Poller) Shutdown() error {
	unlock := p.lockStructural()
	ids := p.table.InUse()
	transports := make([]*Transport, 0, len(ids))
	for _, id := range ids {
		s, ok := p.table.Get(id)
		if !ok {
			continue
		}
		if t, ok := s.Owner.(*Transport); ok && t != nil {
			transports = append(transports, t)
		}
		p.detachLocked(id)
	}
	unlock()

	for _, t := range transports {
		l, _ := t.detach()
		if l != nil {
			l.OnHangup(t)
		}
	}

	if err := p.backend.Shutdown(); err != nil {
		return NewSystemError(err)
	}
	return nil
}
