package netio

import (
	"net"
	"sync"

	"github.com/loopworks/amio"
	"github.com/loopworks/amio/metrics"
)

// Connection is an accepted or dialed TCP socket, driven by a Poller or
// EventLoopForIO through amio.Transport. It carries the resolved local and
// remote endpoints the underlying transport itself has no notion of.
type Connection struct {
	t      *amio.Transport
	local  net.Addr
	remote net.Addr

	mu       sync.Mutex
	listener ConnectionListener
}

// ConnectionListener receives readiness callbacks for a Connection, mirroring
// amio.StatusListener but scoped to a single accepted/dialed socket rather
// than a bare Transport.
type ConnectionListener interface {
	OnReadReady(c *Connection)
	OnWriteReady(c *Connection)
	OnClosed(c *Connection, err error)
}

func newConnection(fd int, local, remote net.Addr) *Connection {
	return &Connection{
		t:      amio.NewTransport(fd),
		local:  local,
		remote: remote,
	}
}

// LocalAddr returns the connection's local endpoint.
func (c *Connection) LocalAddr() net.Addr { return c.local }

// RemoteAddr returns the connection's peer endpoint.
func (c *Connection) RemoteAddr() net.Addr { return c.remote }

// Transport returns the underlying amio.Transport, for callers that need to
// Attach it to a Poller or EventLoopForIO directly (e.g. to pick a specific
// TriggerMode).
func (c *Connection) Transport() *amio.Transport { return c.t }

// Read reads directly from the connection's socket; see amio.Transport.Read
// for the non-blocking contract (IOResult.Err wrapping EWOULDBLOCK-class
// errors as nil reads, not failures).
func (c *Connection) Read(buf []byte) amio.IOResult { return c.t.Read(buf) }

// Write writes directly to the connection's socket; see amio.Transport.Write.
func (c *Connection) Write(buf []byte) amio.IOResult { return c.t.Write(buf) }

// Close closes the underlying socket and detaches it from any poller it was
// attached to.
func (c *Connection) Close() error {
	err := c.t.Close()
	metrics.Add(metrics.ConnsClosed, 1)
	return err
}

// onReadReady, onWriteReady and onHangup/onError adapt amio.StatusListener's
// shape onto ConnectionListener. Client registers connectionProxy for the
// connections it dials (via Reassign once the connect completes), since
// amio requires the listener be supplied at Attach time while a
// Connection's own listener can be set afterward. Server does not attach
// the connections it accepts.
type connectionProxy struct {
	c *Connection
}

func (p *connectionProxy) OnReadReady(t *amio.Transport) {
	p.c.mu.Lock()
	l := p.c.listener
	p.c.mu.Unlock()
	if l != nil {
		l.OnReadReady(p.c)
	}
}

func (p *connectionProxy) OnWriteReady(t *amio.Transport) {
	p.c.mu.Lock()
	l := p.c.listener
	p.c.mu.Unlock()
	if l != nil {
		l.OnWriteReady(p.c)
	}
}

func (p *connectionProxy) OnHangup(t *amio.Transport) {
	p.c.mu.Lock()
	l := p.c.listener
	p.c.mu.Unlock()
	if l != nil {
		l.OnClosed(p.c, nil)
	}
}

func (p *connectionProxy) OnError(t *amio.Transport, err error) {
	p.c.mu.Lock()
	l := p.c.listener
	p.c.mu.Unlock()
	if l != nil {
		l.OnClosed(p.c, err)
	}
}

// SetListener installs l as the connection's readiness listener. It may be
// called before or after the connection is attached to a poller and takes
// effect on the next callback. Neither Server nor Client calls it.
func (c *Connection) SetListener(l ConnectionListener) {
	c.mu.Lock()
	c.listener = l
	c.mu.Unlock()
}
