//go:build !windows
// +build !windows

package amio_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loopworks/amio"
)

func TestTransportReadWriteRoundTrip(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	rt := amio.NewTransport(int(r.Fd()), amio.WithNoAutoClose())
	require.NoError(t, rt.Setup())
	wt := amio.NewTransport(int(w.Fd()), amio.WithNoAutoClose())
	require.NoError(t, wt.Setup())

	res := wt.Write([]byte("hello"))
	require.NoError(t, res.Err)
	require.True(t, res.Completed)
	require.Equal(t, 5, res.N)

	buf := make([]byte, 16)
	res = rt.Read(buf)
	require.NoError(t, res.Err)
	require.True(t, res.Completed)
	require.Equal(t, "hello", string(buf[:res.N]))
}

func TestTransportReadOnEmptyNonBlockingPipeIsNotAnError(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	rt := amio.NewTransport(int(r.Fd()), amio.WithNoAutoClose())
	require.NoError(t, rt.Setup())

	res := rt.Read(make([]byte, 16))
	require.NoError(t, res.Err)
	require.False(t, res.Completed)
}

func TestTransportOperationsAfterCloseFail(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()

	rt := amio.NewTransport(int(r.Fd()))
	require.NoError(t, rt.Close())

	res := rt.Read(make([]byte, 8))
	require.Error(t, res.Err)
	require.True(t, rt.Closed())
}
