// Package netio builds a TCP client/server layer on top of amio's core
// reactor primitives (Transport, Poller, EventLoopForIO). It corresponds to
// the networking helpers the core module's design deliberately keeps out of
// its own scope, described there only by contract.
package netio

import (
	"net"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"

	"github.com/loopworks/amio"
)

// resolvePool runs blocking DNS resolution off the caller's goroutine. One
// pool is shared by every ResolveAsync call in the process; it is sized
// generously since resolution is I/O-bound, not CPU-bound.
var resolvePool, _ = ants.NewPool(256, ants.WithNonblocking(false))

// Address pairs a network ("tcp", "tcp4", "tcp6") with a resolved
// *net.TCPAddr.
type Address struct {
	Network string
	Addr    *net.TCPAddr
}

func (a Address) String() string {
	if a.Addr == nil {
		return a.Network + "://<nil>"
	}
	return a.Addr.String()
}

// ResolveCallback receives the outcome of an asynchronous resolution.
type ResolveCallback func(Address, error)

// ResolveAsync resolves address on the shared resolver pool and invokes cb
// from a pool goroutine, never from the caller's. A worker pool is the
// idiomatic Go equivalent of "don't block the caller" without owning a
// dedicated thread per call.
func ResolveAsync(network, address string, cb ResolveCallback) error {
	return resolvePool.Submit(func() {
		addr, err := net.ResolveTCPAddr(network, address)
		if err != nil {
			cb(Address{}, amio.NewResolutionError(errors.Wrapf(err, "resolve %s %s", network, address)))
			return
		}
		cb(Address{Network: network, Addr: addr}, nil)
	})
}
