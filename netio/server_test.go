//go:build !windows
// +build !windows

package netio_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loopworks/amio"
	"github.com/loopworks/amio/netio"
)

type serverEvents struct {
	conns chan *netio.Connection
	errs  chan error
}

func (e *serverEvents) OnConnection(c *netio.Connection) { e.conns <- c }
func (e *serverEvents) OnError(err error, _ amio.Severity) {
	select {
	case e.errs <- err:
	default:
	}
}

type clientEvents struct {
	ok   chan *netio.Connection
	fail chan error
}

func (e *clientEvents) OnConnect(c *netio.Connection) { e.ok <- c }
func (e *clientEvents) OnConnectFailed(err error)     { e.fail <- err }

func TestServerAcceptAndClientConnect(t *testing.T) {
	p, err := amio.NewPoller()
	require.NoError(t, err)

	srv, err := netio.NewServer("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer srv.Close()

	se := &serverEvents{conns: make(chan *netio.Connection, 1), errs: make(chan error, 1)}
	require.NoError(t, srv.Serve(p, se))

	resolved := make(chan netio.Address, 1)
	resolveErr := make(chan error, 1)
	require.NoError(t, netio.ResolveAsync("tcp", srv.Addr().String(), func(a netio.Address, err error) {
		if err != nil {
			resolveErr <- err
			return
		}
		resolved <- a
	}))

	var target netio.Address
	select {
	case target = <-resolved:
	case err := <-resolveErr:
		t.Fatalf("resolve failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("resolve did not complete")
	}

	// ok has room for 2: if OnConnect fired more than once (the bug under
	// test), the second delivery would still have somewhere to land instead
	// of silently blocking the poller goroutine.
	ce := &clientEvents{ok: make(chan *netio.Connection, 2), fail: make(chan error, 1)}
	_, err = netio.Connect(p, target, ce)
	require.NoError(t, err)

	var accepted, connected bool
	var serverConn, clientConn *netio.Connection
	deadline := time.Now().Add(2 * time.Second)
	for (!accepted || !connected) && time.Now().Before(deadline) {
		require.NoError(t, p.Poll(50))
		select {
		case serverConn = <-se.conns:
			accepted = true
		default:
		}
		select {
		case clientConn = <-ce.ok:
			connected = true
		case err := <-ce.fail:
			t.Fatalf("connect failed: %v", err)
		default:
		}
	}

	require.True(t, accepted, "server never observed an accepted connection")
	require.True(t, connected, "client never observed a completed connect")

	// Keep polling well past the connect: a connected TCP socket is always
	// write-ready, so if the client-side listener were never reassigned off
	// of the connect-time one, OnConnect would keep re-firing here.
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Poll(10))
	}
	select {
	case <-ce.ok:
		t.Fatal("OnConnect fired more than once for the same connect")
	default:
	}

	// Prove the client-side Connection's proxy listener is actually wired:
	// have the server write a reply, and have the client-side Connection's
	// own ConnectionListener (not *Client) observe the readiness and read it.
	const payload = "pong"
	require.Eventually(t, func() bool {
		r := serverConn.Write([]byte(payload))
		return r.Completed && r.N == len(payload)
	}, time.Second, 5*time.Millisecond)

	reads := make(chan readEvent, 1)
	clientConn.SetListener(&recordingConnListener{reads: reads})

	var got []byte
	deadline = time.Now().Add(2 * time.Second)
	for len(got) == 0 && time.Now().Before(deadline) {
		require.NoError(t, p.Poll(10))
		select {
		case ev := <-reads:
			got = ev.data
		default:
		}
	}
	require.Equal(t, payload, string(got), "client-side Connection proxy never delivered OnReadReady")
}

// recordingConnListener reads once on OnReadReady and reports the bytes,
// proving a ConnectionListener set on a Client-dialed Connection actually
// receives callbacks through the reassigned proxy.
type readEvent struct{ data []byte }

type recordingConnListener struct {
	reads chan readEvent
}

func (l *recordingConnListener) OnReadReady(c *netio.Connection) {
	buf := make([]byte, 64)
	r := c.Read(buf)
	if r.Completed && r.N > 0 {
		select {
		case l.reads <- readEvent{data: buf[:r.N]}:
		default:
		}
	}
}

func (l *recordingConnListener) OnWriteReady(c *netio.Connection) {}
func (l *recordingConnListener) OnClosed(c *netio.Connection, err error) {}
