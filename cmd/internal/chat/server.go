package chat

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"parley/cmd/identity"
)

// Server accepts TCP connections and hands each one to a Session. It owns
// the listener; the registry and credential store are shared with the
// WebSocket gateway so both transports feed the same chat.
type Server struct {
	log      *slog.Logger
	registry *Registry
	users    identity.Store
	metrics  *Metrics

	addr string

	sendQueueSize   int
	readIdleTimeout time.Duration
	writeTimeout    time.Duration

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

// ServerParams bundles Server dependencies and tuning.
type ServerParams struct {
	Log      *slog.Logger
	Registry *Registry
	Users    identity.Store
	Metrics  *Metrics

	Addr string

	SendQueueSize   int
	ReadIdleTimeout time.Duration
	WriteTimeout    time.Duration
}

// NewServer constructs a Server. It does not bind until Listen.
func NewServer(p ServerParams) *Server {
	if p.Log == nil {
		p.Log = slog.Default()
	}
	if p.Addr == "" {
		p.Addr = ":8080"
	}
	return &Server{
		log:             p.Log,
		registry:        p.Registry,
		users:           p.Users,
		metrics:         p.Metrics,
		addr:            p.Addr,
		sendQueueSize:   p.SendQueueSize,
		readIdleTimeout: p.ReadIdleTimeout,
		writeTimeout:    p.WriteTimeout,
	}
}

// Listen binds the configured address. Safe to call once, before Serve.
func (srv *Server) Listen() error {
	ln, err := net.Listen("tcp", srv.addr)
	if err != nil {
		return err
	}

	srv.mu.Lock()
	srv.ln = ln
	srv.mu.Unlock()

	srv.log.Info("chat.listen", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound listener address, or nil before Listen. Useful
// when the configured address uses port 0.
func (srv *Server) Addr() net.Addr {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.ln == nil {
		return nil
	}
	return srv.ln.Addr()
}

// Serve runs the accept loop until ctx is cancelled or the listener is
// closed. Listen must have been called first.
func (srv *Server) Serve(ctx context.Context) error {
	srv.mu.Lock()
	ln := srv.ln
	srv.mu.Unlock()

	if ln == nil {
		return errors.New("chat: Serve called before Listen")
	}

	// Unblocks Accept when ctx ends.
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				srv.log.Info("chat.accept.stop")
				return nil
			}

			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				srv.log.Warn("chat.accept.transient", "err", err)
				time.Sleep(100 * time.Millisecond)
				continue
			}

			srv.log.Error("chat.accept.fail", "err", err)
			return err
		}

		tuneTCP(conn)
		srv.startSession(ctx, conn)
	}
}

// ListenAndServe is Listen followed by Serve.
func (srv *Server) ListenAndServe(ctx context.Context) error {
	if err := srv.Listen(); err != nil {
		return err
	}
	return srv.Serve(ctx)
}

// ServeConn runs a session on an already-established connection. The
// WebSocket gateway uses this to route upgraded connections through the
// same engine as raw TCP clients. Blocks until the session ends.
func (srv *Server) ServeConn(ctx context.Context, conn net.Conn) {
	s := NewSession(SessionParams{
		Log:             srv.log,
		Conn:            conn,
		Registry:        srv.registry,
		Users:           srv.users,
		Metrics:         srv.metrics,
		SendQueueSize:   srv.sendQueueSize,
		ReadIdleTimeout: srv.readIdleTimeout,
		WriteTimeout:    srv.writeTimeout,
	})
	srv.registry.AddSession(s)
	s.Run(ctx)
}

func (srv *Server) startSession(ctx context.Context, conn net.Conn) {
	srv.wg.Add(1)
	go func() {
		defer srv.wg.Done()
		srv.ServeConn(ctx, conn)
	}()
}

// Shutdown stops accepting, closes every live session, and waits for the
// session goroutines, bounded by a small grace period.
func (srv *Server) Shutdown() {
	srv.mu.Lock()
	ln := srv.ln
	srv.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}

	srv.registry.CloseAll()

	done := make(chan struct{})
	go func() {
		srv.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		srv.log.Info("chat.shutdown.clean")
	case <-time.After(closeGrace):
		srv.log.Warn("chat.shutdown.timeout")
	}
}

func tuneTCP(conn net.Conn) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tc.SetKeepAlive(true)
	_ = tc.SetKeepAlivePeriod(30 * time.Second)
	// Frames are small and latency-sensitive.
	_ = tc.SetNoDelay(true)
}
