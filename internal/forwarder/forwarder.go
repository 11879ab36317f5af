// Package forwarder implements the TCP data plane: an accept loop that,
// per connection, resolves a backend, dials it, and splices bytes
// bidirectionally with half-close semantics until either side is done.
package forwarder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edgeproxy/edgeproxy/internal/connstats"
	"github.com/edgeproxy/edgeproxy/internal/routing"
	"github.com/edgeproxy/edgeproxy/pkg/apperror"
)

const copyBufferSize = 16 * 1024

// Resolver is the subset of proxy.Service the forwarder depends on.
type Resolver interface {
	ResolveBackend(clientIP string) (routing.Backend, bool)
}

// Dialer opens a connection to a backend. Overridden in tests; in
// production it is net.Dialer.DialContext.
type Dialer func(ctx context.Context, network, address string) (net.Conn, error)

// Recorder observes dial outcomes, bytes copied, and accept errors.
// Implemented by pkg/metrics; nil-safe no-op when not supplied.
type Recorder interface {
	RecordDial(backendID, outcome string, d time.Duration)
	RecordBytesForwarded(direction string, n int)
	IncAcceptErrors()
}

type noopRecorder struct{}

func (noopRecorder) RecordDial(string, string, time.Duration) {}
func (noopRecorder) RecordBytesForwarded(string, int)          {}
func (noopRecorder) IncAcceptErrors()                          {}

// Server runs the accept loop and per-connection forwarding lifecycle.
type Server struct {
	listenAddr   string
	resolver     Resolver
	stats        *connstats.Store
	dial         Dialer
	dialTimeout  time.Duration
	shutdownWait time.Duration
	log          *slog.Logger
	recorder     Recorder

	wg sync.WaitGroup
}

// Option customizes a Server at construction time.
type Option func(*Server)

// WithDialer overrides the default net.Dialer-based Dialer, used in tests.
func WithDialer(d Dialer) Option {
	return func(s *Server) { s.dial = d }
}

// WithRecorder attaches a Recorder that observes dial latency, forwarded
// byte counts, and accept errors, e.g. for Prometheus export.
func WithRecorder(r Recorder) Option {
	return func(s *Server) { s.recorder = r }
}

// New constructs a Server listening on listenAddr once Run is called.
func New(listenAddr string, resolver Resolver, stats *connstats.Store, dialTimeout, shutdownWait time.Duration, log *slog.Logger, opts ...Option) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		listenAddr:   listenAddr,
		resolver:     resolver,
		stats:        stats,
		dialTimeout:  dialTimeout,
		shutdownWait: shutdownWait,
		log:          log,
		recorder:     noopRecorder{},
	}
	var dialer net.Dialer
	s.dial = dialer.DialContext
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run accepts connections on listenAddr until ctx is canceled. It blocks
// until the accept loop has stopped and every in-flight connection has
// either finished or been force-closed after shutdownWait.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	s.log.Info("forwarder: listening", "address", s.listenAddr)

	// Connections run under their own context, detached from ctx, so that
	// canceling ctx only stops the accept loop; forceClose ends whatever is
	// still open once shutdownWait has elapsed.
	connCtx, forceClose := context.WithCancel(context.WithoutCancel(ctx))
	defer forceClose()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.recorder.IncAcceptErrors()
			acceptErr := apperror.Wrap(err, apperror.CodeAccept, "accept connection")
			s.log.Log(ctx, apperror.LogLevel(acceptErr.Code), "forwarder: accept failed", "error", acceptErr)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(connCtx, conn)
		}()
	}

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(s.shutdownWait):
		s.log.Warn("forwarder: shutdown grace period elapsed with connections still open")
		forceClose()
		<-drained
	}
	return nil
}

// connGuard guarantees connstats.Decr runs exactly once regardless of
// which exit path a connection takes, including context cancellation.
type connGuard struct {
	once  sync.Once
	stats *connstats.Store
	id    string
}

func (g *connGuard) release() {
	g.once.Do(func() {
		g.stats.Decr(g.id)
	})
}

func (s *Server) handle(ctx context.Context, client net.Conn) {
	defer client.Close()

	connLog := s.log.With("conn_id", uuid.NewString())

	clientIP, _, err := net.SplitHostPort(client.RemoteAddr().String())
	if err != nil {
		clientIP = client.RemoteAddr().String()
	}

	backend, ok := s.resolver.ResolveBackend(clientIP)
	if !ok {
		noBackend := apperror.ErrNoEligibleBackend
		connLog.Log(ctx, apperror.LogLevel(noBackend.Code), "forwarder: no backend available", "client_ip", clientIP)
		return
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.dialTimeout)
	defer cancel()

	addr := net.JoinHostPort(backend.Address, strconv.Itoa(backend.Port))
	dialStart := time.Now()
	upstream, err := s.dial(dialCtx, "tcp", addr)
	if err != nil {
		s.recorder.RecordDial(backend.ID, "error", time.Since(dialStart))
		dialErr := apperror.Wrap(err, apperror.CodeDial, "dial backend").WithDetails("backend_id", backend.ID).WithDetails("address", addr)
		connLog.Log(ctx, apperror.LogLevel(dialErr.Code), "forwarder: dial failed", "backend_id", backend.ID, "address", addr, "error", dialErr)
		return
	}
	rtt := time.Since(dialStart)
	s.recorder.RecordDial(backend.ID, "ok", rtt)
	s.stats.RecordRTT(backend.ID, uint32(rtt.Milliseconds()))
	defer upstream.Close()
	connLog.Debug("forwarder: dialed backend", "backend_id", backend.ID, "address", addr)

	s.stats.Incr(backend.ID)
	guard := &connGuard{stats: s.stats, id: backend.ID}
	defer guard.release()

	splice(ctx, client, upstream, s.recorder)
	connLog.Debug("forwarder: connection closed", "backend_id", backend.ID)
}

// halfCloser is implemented by *net.TCPConn; splice uses it to shut down
// only the write half of a connection on EOF from the peer, without
// aborting the still-open opposite direction.
type halfCloser interface {
	CloseWrite() error
}

func copyDirection(wg *sync.WaitGroup, dst, src net.Conn, direction string, recorder Recorder) {
	defer wg.Done()
	buf := make([]byte, copyBufferSize)
	n, _ := io.CopyBuffer(dst, src, buf)
	recorder.RecordBytesForwarded(direction, int(n))
	if hc, ok := dst.(halfCloser); ok {
		_ = hc.CloseWrite()
	}
}

// splice runs two concurrent copies, client->upstream and
// upstream->client, and returns once both have finished (i.e. once both
// directions have seen EOF or an error). Cancellation of ctx closes both
// ends so an in-flight copy unblocks when the shutdown grace period ends.
func splice(ctx context.Context, client, upstream net.Conn, recorder Recorder) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = client.Close()
			_ = upstream.Close()
		case <-done:
		}
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go copyDirection(&wg, upstream, client, "client_to_backend", recorder)
	go copyDirection(&wg, client, upstream, "backend_to_client", recorder)
	wg.Wait()
	close(done)
}

