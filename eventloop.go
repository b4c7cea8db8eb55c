package amio

import "go.uber.org/multierr"

// EventLoopForIO fuses a Poller with a TaskQueue: Loop() alternates between
// draining posted tasks and polling for I/O readiness, waking from Poll
// immediately whenever a task is posted while blocked. Tasks always run
// before queued events on a single Loop iteration — this is what lets a
// caller starve I/O delivery in favor of drained work when it chooses to.
type EventLoopForIO struct {
	poller *Poller
	tasks  *TaskQueue
	queue  *EventQueue
}

// NewEventLoopForIO creates an event loop around poller, or a fresh
// platform-default Poller if poller is nil.
func NewEventLoopForIO(poller *Poller) (*EventLoopForIO, error) {
	if poller == nil {
		p, err := NewPoller()
		if err != nil {
			return nil, err
		}
		poller = p
	}
	l := &EventLoopForIO{poller: poller, queue: NewEventQueue(poller)}
	l.tasks = NewTaskQueue(l)
	return l, nil
}

// PostTask enqueues task, waking Loop if it is blocked in Poll. Safe from
// any goroutine.
func (l *EventLoopForIO) PostTask(task Task) { l.tasks.PostTask(task) }

// PostQuit asks Loop to return as soon as its current iteration finishes.
func (l *EventLoopForIO) PostQuit() { l.tasks.PostQuit() }

// ShouldQuit reports whether PostQuit has been called.
func (l *EventLoopForIO) ShouldQuit() bool { return l.tasks.ShouldQuit() }

// GetPoller returns the loop's underlying Poller.
func (l *EventLoopForIO) GetPoller() *Poller { return l.poller }

// Attach, Detach, ChangeEvents, AddEvents and RemoveEvents register a
// transport through the loop's EventQueue, so its readiness callbacks are
// delivered from Loop rather than synchronously from inside Poll.
func (l *EventLoopForIO) Attach(t *Transport, sl StatusListener, ev EventMask, mode TriggerMode) error {
	return l.queue.Attach(t, sl, ev, mode)
}

func (l *EventLoopForIO) Detach(t *Transport) error { return l.queue.Detach(t) }

func (l *EventLoopForIO) ChangeEvents(t *Transport, ev EventMask) error {
	return l.queue.ChangeEvents(t, ev)
}

func (l *EventLoopForIO) AddEvents(t *Transport, ev EventMask) error {
	return l.queue.AddEvents(t, ev)
}

func (l *EventLoopForIO) RemoveEvents(t *Transport, ev EventMask) error {
	return l.queue.RemoveEvents(t, ev)
}

func (l *EventLoopForIO) Reassign(t *Transport, sl StatusListener, ev EventMask) error {
	return l.queue.Reassign(t, sl, ev)
}

// Loop polls and drains tasks until ShouldQuit. The only way out is
// PostQuit; callers typically run this on a dedicated goroutine.
func (l *EventLoopForIO) Loop() {
	for !l.ShouldQuit() {
		// Draining tasks first, every iteration, is what makes posted work
		// take priority over buffered I/O events.
		if l.tasks.ProcessNextTask() {
			continue
		}

		if err := l.poller.Poll(-1); err != nil {
			continue
		}
		l.queue.DispatchEvents(0, 0)
	}
}

// NotifyTask implements TaskQueueDelegate: wake a blocked Poll (via the
// backend's native wake primitive — an eventfd, a kqueue user event, or
// the portable fallback's own pipe) and ask a running DispatchEvents to
// return promptly.
func (l *EventLoopForIO) NotifyTask() {
	_ = l.poller.Wake()
	l.queue.Break()
}

// NotifyQuit implements TaskQueueDelegate.
func (l *EventLoopForIO) NotifyQuit() { l.NotifyTask() }

// Shutdown tears the loop down: every transport still registered through
// the loop's EventQueue is detached, then the underlying Poller itself is
// shut down (detaching any transport attached directly to it and releasing
// its backend's OS resources). EventQueue.Shutdown reports no error, so
// the error returned is the Poller's alone.
func (l *EventLoopForIO) Shutdown() error {
	l.queue.Shutdown()
	return multierr.Append(nil, l.poller.Shutdown())
}
