//go:build !windows
// +build !windows

package netio

import (
	"net"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/loopworks/amio"
	"github.com/loopworks/amio/internal/netutil"
)

// ClientListener receives the outcome of an asynchronous Connect.
type ClientListener interface {
	OnConnect(c *Connection)
	OnConnectFailed(err error)
}

// Client issues a single asynchronous TCP connect: create a non-blocking
// socket, call connect(2), and treat EINPROGRESS not as a failure but as
// "attach write-readiness and wait" — the standard POSIX idiom for a
// non-blocking connect, expressed here as an amio.StatusListener whose
// OnWriteReady fires exactly once.
type Client struct {
	mu sync.Mutex
	t  *amio.Transport
	p  poller
	cl ClientListener

	local, remote *net.TCPAddr
}

// Connect creates a non-blocking socket, begins connecting to addr, and
// attaches the socket's write-readiness to p. cl.OnConnect or
// cl.OnConnectFailed fires once, asynchronously, as p is polled/looped.
func Connect(p poller, addr Address, cl ClientListener) (*Client, error) {
	domain := unix.AF_INET
	if addr.Addr.IP.To4() == nil {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, amio.NewSystemError(err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, amio.NewSystemError(err)
	}

	wildcard := &net.TCPAddr{IP: net.IPv4zero}
	if domain == unix.AF_INET6 {
		wildcard = &net.TCPAddr{IP: net.IPv6zero}
	}
	sa, err := netutil.AddrToSockAddr(wildcard, addr.Addr)
	if err != nil {
		unix.Close(fd)
		return nil, amio.NewLibraryError(err)
	}

	c := &Client{t: amio.NewTransport(fd), p: p, cl: cl, remote: addr.Addr}

	err = unix.Connect(fd, sa)
	if err == nil {
		// Rare: connected synchronously (e.g. to a loopback listener already
		// accepting). Still defer delivery to the caller's poller so
		// OnConnect always runs from the same place.
	} else if err != unix.EINPROGRESS {
		unix.Close(fd)
		return nil, amio.NewSystemError(err)
	}

	if err := p.Attach(c.t, c, amio.EventWrite, amio.Level); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return c, nil
}

// OnWriteReady implements amio.StatusListener: the socket became writable,
// meaning the non-blocking connect finished (successfully or not). SO_ERROR
// via getsockopt disambiguates the two. On success, the transport's
// listener is reassigned from c to the resulting Connection's own proxy and
// its interest reset to EventRead — otherwise the socket would stay
// write-ready indefinitely (a connected TCP socket is always writable) and
// every subsequent Poll would re-fire this method and re-invoke OnConnect
// with a fresh, independent Connection wrapping the same fd.
func (c *Client) OnWriteReady(t *amio.Transport) {
	errno, err := unix.GetsockoptInt(t.FD(), unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		c.fail(amio.NewSystemError(err))
		return
	}
	if errno != 0 {
		c.fail(amio.NewSystemError(unix.Errno(errno)))
		return
	}

	local, err := unix.Getsockname(t.FD())
	var laddr net.Addr
	if err == nil {
		laddr = netutil.SockaddrToTCPOrUnixAddr(local)
	}
	conn := &Connection{t: t, local: laddr, remote: c.remote}
	if err := c.p.Reassign(t, &connectionProxy{c: conn}, amio.EventRead); err != nil {
		c.fail(err)
		return
	}
	c.cl.OnConnect(conn)
}

// OnReadReady is unused before the connect completes.
func (c *Client) OnReadReady(t *amio.Transport) {}

// OnHangup implements amio.StatusListener: the connect failed outright
// (e.g. ECONNREFUSED delivered as a hangup on some kernels).
func (c *Client) OnHangup(t *amio.Transport) {
	c.fail(amio.NewLibraryError(amio.ErrUnknownHangup))
}

// OnError implements amio.StatusListener.
func (c *Client) OnError(t *amio.Transport, err error) { c.fail(err) }

func (c *Client) fail(err error) {
	c.t.Close()
	c.cl.OnConnectFailed(err)
}
