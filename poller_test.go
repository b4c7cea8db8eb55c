//go:build !windows
// +build !windows

package amio_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loopworks/amio"
)

func TestPollerReadThenHangup(t *testing.T) {
	p, err := amio.NewPoller()
	require.NoError(t, err)

	r, w, err := os.Pipe()
	require.NoError(t, err)

	rt := amio.NewTransport(int(r.Fd()), amio.WithNoAutoClose())
	l := &recordingListener{}
	require.NoError(t, p.Attach(rt, l, amio.EventRead, amio.Level))

	_, err = w.Write([]byte("hi"))
	require.NoError(t, err)
	require.NoError(t, p.Poll(1000))
	require.Equal(t, 1, l.reads)

	w.Close()
	require.NoError(t, p.Poll(1000))
	require.Equal(t, 1, l.hangups)

	r.Close()
}

func TestPollerDetachWithinCallback(t *testing.T) {
	p, err := amio.NewPoller()
	require.NoError(t, err)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()
	defer r.Close()

	rt := amio.NewTransport(int(r.Fd()), amio.WithNoAutoClose())
	dl := &detachingListener{p: p, t: rt}
	require.NoError(t, p.Attach(rt, dl, amio.EventRead, amio.Level))

	_, err = w.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, p.Poll(1000))
	require.Equal(t, 1, dl.calls)

	// A second Poll must not redeliver to a transport this listener detached
	// from inside its own callback.
	_, err = w.Write([]byte("y"))
	require.NoError(t, err)
	require.NoError(t, p.Poll(1000))
	require.Equal(t, 1, dl.calls)
}

type detachingListener struct {
	p     *amio.Poller
	t     *amio.Transport
	calls int
}

func (d *detachingListener) OnReadReady(t *amio.Transport) {
	d.calls++
	_ = d.p.Detach(t)
}
func (d *detachingListener) OnWriteReady(*amio.Transport)    {}
func (d *detachingListener) OnHangup(*amio.Transport)        {}
func (d *detachingListener) OnError(*amio.Transport, error)  {}

func TestPollerShutdownDetachesAndHangsUpEveryTransport(t *testing.T) {
	p, err := amio.NewPoller()
	require.NoError(t, err)

	r1, w1, err := os.Pipe()
	require.NoError(t, err)
	defer w1.Close()
	defer r1.Close()
	r2, w2, err := os.Pipe()
	require.NoError(t, err)
	defer w2.Close()
	defer r2.Close()

	rt1 := amio.NewTransport(int(r1.Fd()), amio.WithNoAutoClose())
	rt2 := amio.NewTransport(int(r2.Fd()), amio.WithNoAutoClose())
	l1, l2 := &recordingListener{}, &recordingListener{}
	require.NoError(t, p.Attach(rt1, l1, amio.EventRead, amio.Level))
	require.NoError(t, p.Attach(rt2, l2, amio.EventRead, amio.Level))

	require.NoError(t, p.Shutdown())
	require.Equal(t, 1, l1.hangups)
	require.Equal(t, 1, l2.hangups)

	// Shutdown already detached both transports; a redundant Detach on an
	// already-detached transport is a harmless no-op, same as elsewhere.
	require.NoError(t, p.Detach(rt1))
	require.NoError(t, p.Detach(rt2))
}

func TestPollerReassignSwapsListenerAndEvents(t *testing.T) {
	p, err := amio.NewPoller()
	require.NoError(t, err)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()
	defer r.Close()

	rt := amio.NewTransport(int(r.Fd()), amio.WithNoAutoClose())
	first := &recordingListener{}
	require.NoError(t, p.Attach(rt, first, amio.EventRead, amio.Level))

	second := &recordingListener{}
	require.NoError(t, p.Reassign(rt, second, amio.EventRead))

	_, err = w.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, p.Poll(1000))
	require.Equal(t, 0, first.reads)
	require.Equal(t, 1, second.reads)
}

func TestPollerEdgeEmulationOnPortablePoll(t *testing.T) {
	p, err := amio.NewPoller()
	require.NoError(t, err)
	if p.SupportsEdgeTriggering() {
		t.Skip("backend natively supports edge triggering; software emulation path not exercised")
	}

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()
	defer r.Close()

	rt := amio.NewTransport(int(r.Fd()), amio.WithNoAutoClose())
	l := &recordingListener{}
	require.NoError(t, p.Attach(rt, l, amio.EventRead, amio.Edge))

	_, err = w.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, p.Poll(1000))
	require.Equal(t, 1, l.reads)

	// No new write: a level-triggered backend would refire; edge must not.
	require.NoError(t, p.Poll(0))
	require.Equal(t, 1, l.reads)
}
