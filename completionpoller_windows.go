//go:build windows
// +build windows

package amio

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/loopworks/amio/internal/sysprobe"
)

// CompletionPoller drives Windows I/O completion ports. Unlike Poller, it
// is completion- rather than readiness-based: Read/Write each submit an
// overlapped operation immediately, and Poll/PollOne deliver whatever the
// kernel finished, recovered from the kernel-returned OVERLAPPED pointer
// via the pointer-arithmetic trick documented on IOContext.
type CompletionPoller struct {
	port windows.Handle

	mu                sync.Mutex
	listeners         map[*Transport]IOListener
	immediate         map[*Transport]bool
	immediateDelivery bool
	immediateRequired bool
}

// NewCompletionPoller creates an I/O completion port not yet associated
// with any handle.
func NewCompletionPoller() (*CompletionPoller, error) {
	port, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return nil, NewSystemError(err)
	}
	return &CompletionPoller{
		port:      port,
		listeners: make(map[*Transport]IOListener),
		immediate: make(map[*Transport]bool),
	}, nil
}

// Attach associates t's handle with the completion port. t's own pointer
// is handed to the kernel as the completion key, which is how Poll/PollOne
// recover it from a bare OVERLAPPED_ENTRY; t must stay reachable (it is,
// via the listeners map) for the lifetime of the association.
//
// If EnableImmediateDelivery or RequireImmediateDelivery was previously
// called on this poller, Attach also requests immediate delivery for t.
// Under RequireImmediateDelivery, a transport that can't support it fails
// Attach outright rather than silently falling back to posted completions.
func (p *CompletionPoller) Attach(t *Transport, l IOListener) error {
	key := uintptr(unsafe.Pointer(t))
	if _, err := windows.CreateIoCompletionPort(windows.Handle(t.fd), p.port, key, 0); err != nil {
		return NewSystemError(err)
	}

	p.mu.Lock()
	wantImmediate, required := p.immediateDelivery, p.immediateRequired
	p.mu.Unlock()
	if wantImmediate {
		if err := p.enableImmediateDeliveryFor(t); err != nil && required {
			return err
		}
	}

	p.mu.Lock()
	p.listeners[t] = l
	p.mu.Unlock()
	return nil
}

// Detach stops routing completions for t to a listener. The handle itself
// is not disassociated from the port (Windows offers no such API); the
// caller must not submit new operations on t afterward.
func (p *CompletionPoller) Detach(t *Transport) {
	p.mu.Lock()
	delete(p.listeners, t)
	delete(p.immediate, t)
	p.mu.Unlock()
}

// EnableImmediateDelivery is a poller-wide switch: once called, every
// transport subsequently Attached has the kernel asked to skip posting a
// completion packet for it when an operation finishes synchronously, on
// Windows versions that support FILE_SKIP_COMPLETION_PORT_ON_SUCCESS
// (checked via sysprobe.Features). A transport it can't be enabled for
// still attaches normally and simply never gets immediate delivery.
// Reports whether the platform supports immediate delivery at all.
func (p *CompletionPoller) EnableImmediateDelivery() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.immediateDelivery {
		return true
	}
	if !sysprobe.Features().SkipIOCPOnSuccess {
		return false
	}
	p.immediateDelivery = true
	return true
}

// RequireImmediateDelivery is EnableImmediateDelivery plus an additional
// constraint: Attach fails outright for any transport immediate delivery
// can't be enabled for, rather than silently falling back to posted
// completions for it.
func (p *CompletionPoller) RequireImmediateDelivery() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.immediateDelivery {
		p.immediateRequired = true
		return true
	}
	if !sysprobe.Features().SkipIOCPOnSuccess {
		return false
	}
	p.immediateDelivery = true
	p.immediateRequired = true
	return true
}

// enableImmediateDeliveryFor requests immediate delivery for a single
// transport at Attach time; called only once the poller-wide flag is on.
func (p *CompletionPoller) enableImmediateDeliveryFor(t *Transport) error {
	if !sysprobe.Features().SkipIOCPOnSuccess {
		return NewLibraryError(ErrImmediateDeliveryUnsupported)
	}
	if err := windows.SetFileCompletionNotificationModes(
		windows.Handle(t.fd), windows.FILE_SKIP_COMPLETION_PORT_ON_SUCCESS); err != nil {
		return NewSystemError(err)
	}
	p.mu.Lock()
	p.immediate[t] = true
	p.mu.Unlock()
	return nil
}

// Read submits an overlapped ReadFile using ctx. If the operation finishes
// synchronously and immediate delivery is enabled for t, the result is
// returned directly with Completed and a non-nil Context; otherwise the
// same context's completion arrives later through Poll/PollOne, and the
// result returned here carries no Context: it is the zero IOResult while
// the operation is pending, and has Completed and N set when it finished
// synchronously.
func (p *CompletionPoller) Read(t *Transport, ctx *IOContext, buf []byte) IOResult {
	return p.ioOp(t, ctx, RequestRead, func() (uint32, error) {
		var n uint32
		err := windows.ReadFile(windows.Handle(t.fd), buf, &n, &ctx.overlap)
		return n, err
	})
}

// Write submits an overlapped WriteFile using ctx; see Read for the
// completion-timing contract.
func (p *CompletionPoller) Write(t *Transport, ctx *IOContext, buf []byte) IOResult {
	return p.ioOp(t, ctx, RequestWrite, func() (uint32, error) {
		var n uint32
		err := windows.WriteFile(windows.Handle(t.fd), buf, &n, &ctx.overlap)
		return n, err
	})
}

func (p *CompletionPoller) ioOp(t *Transport, ctx *IOContext, rt RequestType, issue func() (uint32, error)) IOResult {
	if err := ctx.attach(rt); err != nil {
		return IOResult{Err: err, Context: ctx}
	}

	n, err := issue()
	if err == windows.ERROR_IO_PENDING {
		return IOResult{}
	}
	if err != nil && err != windows.ERROR_HANDLE_EOF {
		ctx.detach()
		return IOResult{Err: NewSystemError(err), Context: ctx}
	}

	res := IOResult{Completed: true, N: int(n)}
	if err == windows.ERROR_HANDLE_EOF {
		res.Ended = true
	}

	p.mu.Lock()
	immediate := p.immediate[t]
	p.mu.Unlock()
	if immediate {
		ctx.detach()
		res.Context = ctx
	}
	return res
}

// Post enqueues a user completion carrying no I/O operation: Poll/PollOne
// deliver it to l.OnCompleted with t as nil, once dequeued.
func (p *CompletionPoller) Post(ctx *IOContext, l IOListener) error {
	if err := ctx.attach(RequestMessage); err != nil {
		return err
	}
	ctx.SetData(l)
	if err := windows.PostQueuedCompletionStatus(p.port, 0, 0, &ctx.overlap); err != nil {
		ctx.detach()
		return NewSystemError(err)
	}
	return nil
}

const infiniteTimeout = 0xFFFFFFFF

func millisTimeout(timeoutMS int) uint32 {
	if timeoutMS < 0 {
		return infiniteTimeout
	}
	return uint32(timeoutMS)
}

// PollOne dequeues and dispatches at most one completion, blocking up to
// timeoutMS (negative for forever). A timeout is not an error.
func (p *CompletionPoller) PollOne(timeoutMS int) error {
	var n uint32
	var key uintptr
	var ov *windows.Overlapped
	err := windows.GetQueuedCompletionStatus(p.port, &n, &key, &ov, millisTimeout(timeoutMS))
	if err != nil && ov == nil {
		if err == windows.WAIT_TIMEOUT {
			return nil
		}
		return NewSystemError(err)
	}
	p.dispatch(ov, key, n, err)
	return nil
}

// Poll dequeues and dispatches completions until none are immediately
// available, blocking up to timeoutMS for the first one. Subsequent
// GetQueuedCompletionStatusEx-style batching is left to PollOne called in
// a loop by the caller's event loop; this drains what a single wait cycle
// surfaces.
func (p *CompletionPoller) Poll(timeoutMS int) error {
	if err := p.PollOne(timeoutMS); err != nil {
		return err
	}
	for {
		var n uint32
		var key uintptr
		var ov *windows.Overlapped
		err := windows.GetQueuedCompletionStatus(p.port, &n, &key, &ov, 0)
		if err != nil && ov == nil {
			return nil // WAIT_TIMEOUT (nothing more queued) or a transient error; stop draining
		}
		p.dispatch(ov, key, n, err)
	}
}

// WaitAndDiscardPendingEvents drains and discards every completion already
// queued, without dispatching them, used when tearing a poller down.
func (p *CompletionPoller) WaitAndDiscardPendingEvents() {
	for {
		var n uint32
		var key uintptr
		var ov *windows.Overlapped
		err := windows.GetQueuedCompletionStatus(p.port, &n, &key, &ov, 0)
		if ov == nil {
			return
		}
		_ = err
	}
}

func (p *CompletionPoller) dispatch(ov *windows.Overlapped, key uintptr, n uint32, opErr error) {
	if ov == nil {
		return
	}
	ctx := (*IOContext)(unsafe.Pointer(ov))
	rt := ctx.detach()

	if rt == RequestMessage {
		if l, ok := ctx.Data().(IOListener); ok && l != nil {
			l.OnCompleted(nil, IOResult{Completed: true, N: int(n)})
		}
		return
	}
	if rt == RequestCancelled {
		return
	}

	t := (*Transport)(unsafe.Pointer(key))
	if t == nil || t.Closed() {
		return
	}
	p.mu.Lock()
	l := p.listeners[t]
	p.mu.Unlock()
	if l == nil {
		return
	}

	res := IOResult{Completed: true, N: int(n), Context: ctx}
	if opErr != nil {
		if opErr == windows.ERROR_HANDLE_EOF {
			res.Ended = true
		} else {
			res.Err = NewSystemError(opErr)
		}
	}

	switch rt {
	case RequestRead:
		l.OnRead(t, res)
	case RequestWrite:
		l.OnWrite(t, res)
	default:
		l.OnOther(t, res)
	}
}
