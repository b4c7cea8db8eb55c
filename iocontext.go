package amio

import (
	"sync"

	"go.uber.org/atomic"
)

// RequestType tags what kind of operation an IOContext is carrying.
type RequestType int

// Request types. Message is the only variant that supports reuse; it is
// reference-counted so the same context can be posted repeatedly.
const (
	RequestNone RequestType = iota
	RequestRead
	RequestWrite
	RequestOther
	RequestMessage
	RequestCancelled
)

func (r RequestType) String() string {
	switch r {
	case RequestNone:
		return "none"
	case RequestRead:
		return "read"
	case RequestWrite:
		return "write"
	case RequestOther:
		return "other"
	case RequestMessage:
		return "message"
	case RequestCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IOContext is the per-operation handle a CompletionPoller uses to recover
// state when the kernel reports a completion: the overlapped-style cookie
// is embedded as the platform-specific first field (see
// overlapped_windows.go) so pointer arithmetic on the kernel-returned
// pointer recovers the *IOContext it came from.
//
// At most one operation may be in flight per context, except Message,
// which is reference-counted to allow reuse as a repeatable wakeup token.
type IOContext struct {
	// overlap must remain the first field: completionpoller_windows.go
	// recovers the owning *IOContext from the kernel-returned *OVERLAPPED
	// pointer by pointer arithmetic, which is only valid while this is
	// field zero.
	overlap overlapped

	mu    sync.Mutex
	state RequestType
	value any
	data  any
	refs  atomic.Int32
}

// NewIOContext creates an idle context ready for submission.
func NewIOContext(value any) *IOContext {
	return &IOContext{value: value}
}

// Value returns the user value supplied at construction.
func (c *IOContext) Value() any { return c.value }

// SetData attaches opaque user data to the context, retrievable with Data.
func (c *IOContext) SetData(d any) { c.mu.Lock(); c.data = d; c.mu.Unlock() }

// Data returns the opaque user data previously set with SetData.
func (c *IOContext) Data() any { c.mu.Lock(); defer c.mu.Unlock(); return c.data }

// State returns the context's current request type.
func (c *IOContext) State() RequestType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// attach transitions None -> rt, failing if a non-Message operation is
// already in flight. It hands the kernel its implicit reference before the
// caller issues the syscall; on synchronous failure the caller must call
// detach to give that reference back.
func (c *IOContext) attach(rt RequestType) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rt == RequestMessage {
		if c.state != RequestNone && c.state != RequestMessage {
			return NewLibraryError(ErrIncompatibleContext)
		}
		c.refs.Inc()
		c.state = RequestMessage
		return nil
	}
	if c.state != RequestNone {
		return NewLibraryError(ErrIncompatibleContext)
	}
	c.state = rt
	c.refs.Store(1)
	return nil
}

// detach drops the kernel's implicit reference and, for non-Message
// operations, transitions back to None. Message contexts may be reused
// immediately since they are reference-counted rather than exclusive.
func (c *IOContext) detach() RequestType {
	c.mu.Lock()
	defer c.mu.Unlock()
	rt := c.state
	if rt == RequestMessage {
		c.refs.Dec()
		return rt
	}
	c.state = RequestNone
	return rt
}

// Cancel transitions an in-flight operation to Cancelled so that a later
// dequeue of its completion is swallowed rather than dispatched. It is a
// no-op if the context is idle or already cancelled.
func (c *IOContext) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == RequestNone || c.state == RequestCancelled {
		return false
	}
	c.state = RequestCancelled
	return true
}
