package netio

import (
	"fmt"
	"net"
	"sync"

	goreuseport "github.com/kavu/go_reuseport"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/loopworks/amio"
	"github.com/loopworks/amio/internal/netutil"
	"github.com/loopworks/amio/metrics"
)

// ServerListener receives lifecycle events for accepted connections. Errors
// encountered while accepting are reported through OnError with a severity:
// amio.SeveritySevere for a single failed Accept (the listener is still
// usable), amio.SeverityFatal once the listening socket itself has failed.
type ServerListener interface {
	OnConnection(c *Connection)
	OnError(err error, severity amio.Severity)
}

// ServerOption configures a Server at construction time.
type ServerOption func(*serverConfig)

type serverConfig struct {
	reusePort bool
	logger    *zap.Logger
}

// WithReusePort binds the listening socket with SO_REUSEPORT, via
// github.com/kavu/go_reuseport; TCP gets the same treatment here since
// SO_REUSEPORT is equally meaningful for a multi-process TCP listener.
func WithReusePort() ServerOption { return func(c *serverConfig) { c.reusePort = true } }

// WithServerLogger installs a structured logger; the default is a no-op
// logger.
func WithServerLogger(l *zap.Logger) ServerOption {
	return func(c *serverConfig) { c.logger = l }
}

// Server listens for inbound TCP connections and delivers each accepted
// Connection to a ServerListener. It attaches its own listening socket as an
// amio.Transport and accepts in a loop from OnReadReady, adapted from a
// fixed per-process poller onto amio's generic Poller/EventLoopForIO.
type Server struct {
	ln  net.Listener
	t   *amio.Transport
	cfg serverConfig

	attachTo interface {
		Attach(*amio.Transport, amio.StatusListener, amio.EventMask, amio.TriggerMode) error
		Detach(*amio.Transport) error
	}
	sl ServerListener

	mu     sync.Mutex
	closed bool
}

// NewServer creates a Server bound to network/address (e.g. "tcp",
// "127.0.0.1:9000"). The listener is not yet attached to any poller; call
// Serve to do that.
func NewServer(network, address string, opts ...ServerOption) (*Server, error) {
	var cfg serverConfig
	cfg.logger = zap.NewNop()
	for _, o := range opts {
		o(&cfg)
	}

	var ln net.Listener
	var err error
	if cfg.reusePort {
		ln, err = goreuseport.Listen(network, address)
	} else {
		ln, err = net.Listen(network, address)
	}
	if err != nil {
		return nil, amio.NewSystemError(err)
	}

	fd, err := netutil.GetFD(ln)
	if err != nil {
		ln.Close()
		return nil, amio.NewSystemError(err)
	}

	return &Server{
		ln:  ln,
		t:   amio.NewTransport(fd, amio.WithNoAutoClose()),
		cfg: cfg,
	}, nil
}

// Addr returns the server's bound address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

type poller interface {
	Attach(*amio.Transport, amio.StatusListener, amio.EventMask, amio.TriggerMode) error
	Detach(*amio.Transport) error
	Reassign(*amio.Transport, amio.StatusListener, amio.EventMask) error
}

// Serve attaches the listening socket to p (typically an *amio.Poller or
// *amio.EventLoopForIO) and begins delivering accepted connections to sl.
// Serve returns once the attach itself succeeds; acceptance happens
// asynchronously as p is polled/looped.
func (s *Server) Serve(p poller, sl ServerListener) error {
	s.mu.Lock()
	s.attachTo = p
	s.sl = sl
	s.mu.Unlock()
	return p.Attach(s.t, s, amio.EventRead, amio.Level)
}

// Close stops accepting and closes the listening socket.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	attachTo := s.attachTo
	s.mu.Unlock()

	var errs error
	if attachTo != nil {
		errs = multierr.Append(errs, attachTo.Detach(s.t))
	}
	errs = multierr.Append(errs, s.ln.Close())
	return errs
}

// OnReadReady implements amio.StatusListener: accept every connection
// currently queued.
func (s *Server) OnReadReady(t *amio.Transport) {
	for {
		fd, sa, err := netutil.Accept(t.FD())
		if err != nil {
			if netutil.IsTemporary(err) {
				return
			}
			metrics.Add(metrics.AcceptErrors, 1)
			s.reportError(fmt.Errorf("accept: %w", err), amio.SeveritySevere)
			return
		}
		metrics.Add(metrics.ConnsAccepted, 1)
		remote := netutil.SockaddrToTCPOrUnixAddr(sa)
		conn := newConnection(fd, s.ln.Addr(), remote)
		s.sl.OnConnection(conn)
	}
}

// OnWriteReady is unused; a listening socket never becomes write-ready.
func (s *Server) OnWriteReady(t *amio.Transport) {}

// OnHangup implements amio.StatusListener: the listening socket itself was
// torn down underneath the Server.
func (s *Server) OnHangup(t *amio.Transport) {
	s.reportError(fmt.Errorf("listener hangup"), amio.SeverityFatal)
}

// OnError implements amio.StatusListener.
func (s *Server) OnError(t *amio.Transport, err error) {
	s.reportError(err, amio.SeverityFatal)
}

func (s *Server) reportError(err error, sev amio.Severity) {
	s.cfg.logger.Warn("netio: server error", zap.Error(err), zap.Stringer("severity", zapSeverity(sev)))
	if s.sl != nil {
		s.sl.OnError(err, sev)
	}
}

type zapSeverity amio.Severity

func (z zapSeverity) String() string { return amio.Severity(z).String() }
