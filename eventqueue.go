package amio

import (
	"sync"
	"time"
)

// EventQueue wraps a Poller so that readiness callbacks are buffered as
// tasks instead of delivered synchronously from inside Poll. This lets a
// caller prioritize other work (typically posted tasks) ahead of I/O
// readiness, by choosing when to call DispatchEvents relative to its own
// task queue.
//
// Not safe for concurrent use: Attach/Detach/ChangeEvents/DispatchEvents
// must all run on the same goroutine that drives the underlying Poller.
type EventQueue struct {
	poller *Poller
	tasks  *TaskQueue

	mu        sync.Mutex
	delegates map[*Transport]*eventQueueDelegate
}

// NewEventQueue wraps poller. The poller continues to exist independently;
// Shutdown detaches this queue's transports but does not touch the poller.
func NewEventQueue(poller *Poller) *EventQueue {
	return &EventQueue{
		poller:    poller,
		tasks:     NewTaskQueue(nil),
		delegates: make(map[*Transport]*eventQueueDelegate),
	}
}

// Attach registers t with the underlying poller through a delegate that
// defers delivery of l's callbacks onto this queue's task queue.
func (q *EventQueue) Attach(t *Transport, l StatusListener, ev EventMask, mode TriggerMode) error {
	d := &eventQueueDelegate{parent: q, transport: t, forward: l}
	if err := q.poller.Attach(t, d, ev, mode); err != nil {
		return err
	}
	q.mu.Lock()
	q.delegates[t] = d
	q.mu.Unlock()
	return nil
}

// Detach removes t, discarding any event already buffered for it.
func (q *EventQueue) Detach(t *Transport) error {
	q.mu.Lock()
	d, ok := q.delegates[t]
	q.mu.Unlock()
	if !ok {
		return nil
	}
	d.clearParent()
	err := q.poller.Detach(t)
	q.removeDelegate(d)
	return err
}

// Reassign swaps t's forwarded listener for l and resets its interest mask
// to ev. The delegate registered with the underlying poller is unchanged;
// only which listener it forwards to, and what it's armed for, changes.
func (q *EventQueue) Reassign(t *Transport, l StatusListener, ev EventMask) error {
	q.mu.Lock()
	d, ok := q.delegates[t]
	q.mu.Unlock()
	if !ok {
		return NewLibraryError(ErrTransportClosed)
	}
	d.mu.Lock()
	d.forward = l
	d.mu.Unlock()
	return q.poller.ChangeEvents(t, ev)
}

// ChangeEvents, AddEvents and RemoveEvents pass straight through to the
// underlying poller; the event mask itself is not buffered, only delivery.
func (q *EventQueue) ChangeEvents(t *Transport, ev EventMask) error {
	return q.poller.ChangeEvents(t, ev)
}

func (q *EventQueue) AddEvents(t *Transport, ev EventMask) error {
	return q.poller.AddEvents(t, ev)
}

func (q *EventQueue) RemoveEvents(t *Transport, ev EventMask) error {
	return q.poller.RemoveEvents(t, ev)
}

// DispatchNextEvent runs at most one buffered event and reports whether
// one ran.
func (q *EventQueue) DispatchNextEvent() bool { return q.tasks.ProcessNextTask() }

// DispatchEvents drains buffered events under the same limits as
// TaskQueue.ProcessTasks.
func (q *EventQueue) DispatchEvents(timelimit time.Duration, nlimit int) bool {
	return q.tasks.ProcessTasks(timelimit, nlimit)
}

// Break stops an in-progress DispatchEvents as soon as possible.
func (q *EventQueue) Break() { q.tasks.Break() }

// Shutdown force-detaches every transport still registered through this
// queue. The underlying poller is left running.
func (q *EventQueue) Shutdown() {
	q.mu.Lock()
	ts := make([]*Transport, 0, len(q.delegates))
	for t := range q.delegates {
		ts = append(ts, t)
	}
	q.mu.Unlock()
	for _, t := range ts {
		_ = q.Detach(t)
	}
}

func (q *EventQueue) removeDelegate(d *eventQueueDelegate) {
	q.mu.Lock()
	delete(q.delegates, d.transport)
	q.mu.Unlock()
}

// eventQueueDelegate sits between the poller and the real listener. It
// accumulates readiness bits under its own lock and posts itself as a Task
// the first time a bit is set, so repeated readiness before the task runs
// collapses into a single dispatched event.
type eventQueueDelegate struct {
	transport *Transport
	forward   StatusListener

	mu                  sync.Mutex
	parent              *EventQueue
	queued              bool
	read, write, hangup bool
	err                 error
}

func (d *eventQueueDelegate) clearParent() {
	d.mu.Lock()
	d.parent = nil
	d.mu.Unlock()
}

// maybeEnqueue must be called with d.mu held.
func (d *eventQueueDelegate) maybeEnqueue() {
	if d.queued || d.parent == nil {
		return
	}
	d.queued = true
	d.parent.tasks.PostTask(d)
}

func (d *eventQueueDelegate) OnReadReady(*Transport) {
	d.mu.Lock()
	d.read = true
	d.maybeEnqueue()
	d.mu.Unlock()
}

func (d *eventQueueDelegate) OnWriteReady(*Transport) {
	d.mu.Lock()
	d.write = true
	d.maybeEnqueue()
	d.mu.Unlock()
}

func (d *eventQueueDelegate) OnHangup(*Transport) {
	d.mu.Lock()
	d.hangup = true
	d.maybeEnqueue()
	d.mu.Unlock()
}

func (d *eventQueueDelegate) OnError(_ *Transport, err error) {
	d.mu.Lock()
	d.hangup = true
	d.err = err
	d.maybeEnqueue()
	d.mu.Unlock()
}

// Run implements Task. Hangup/error is delivered last and tears the
// delegate down; read and write may each fire once per dispatched event.
func (d *eventQueueDelegate) Run() {
	d.mu.Lock()
	d.queued = false
	parent := d.parent
	read, write, hangup, err := d.read, d.write, d.hangup, d.err
	d.read, d.write = false, false
	d.mu.Unlock()

	if parent == nil {
		return
	}
	t := d.transport
	if read {
		d.forward.OnReadReady(t)
	}
	if write {
		d.forward.OnWriteReady(t)
	}
	if hangup {
		if err != nil {
			d.forward.OnError(t, err)
		} else {
			d.forward.OnHangup(t)
		}
		parent.removeDelegate(d)
	}
}

// Cancel implements Task; a buffered readiness event has nothing to cancel.
func (d *eventQueueDelegate) Cancel() {}
