package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/lithium-clr/lithium-server-sub002/pkg/protocol"
	"github.com/lithium-clr/lithium-server-sub002/pkg/router"
)

// Server accepts peers over TCP and WebSocket and serves each one as a
// Connection bound to the initial router.
type Server struct {
	config  *ServerConfig
	codec   *protocol.Codec
	initial *router.Router

	// Connection management
	conns    *ConnectionManager
	metrics  *MetricsCollector
	observer Observer

	// WebSocket upgrader
	upgrader websocket.Upgrader

	// Lifecycle. mu guards listeners, httpServers and wg.Add against
	// Shutdown.
	mu          sync.Mutex
	listeners   []net.Listener
	httpServers []*http.Server
	wg          sync.WaitGroup
	closed      atomic.Bool
	baseCtx     context.Context
	cancel      context.CancelFunc

	// Logger
	logger *slog.Logger
}

// New creates a Server. Unset config fields take their defaults. Every new
// connection starts on initial.
func New(config *ServerConfig, codec *protocol.Codec, initial *router.Router) *Server {
	if codec == nil {
		panic("server: nil codec")
	}
	if initial == nil {
		panic("server: nil initial router")
	}
	if config == nil {
		config = DefaultServerConfig()
	} else {
		config = config.Clone()
		config.applyDefaults()
	}

	logger := slog.Default().With("component", "server")
	baseCtx, cancel := context.WithCancel(context.Background())

	return &Server{
		config:   config,
		codec:    codec,
		initial:  initial,
		conns:    NewConnectionManager(config.Partitions, config.MaxConnections, logger),
		metrics:  NewMetricsCollector(),
		observer: nopObserver{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		baseCtx: baseCtx,
		cancel:  cancel,
		logger:  logger,
	}
}

// SetObserver sets the observer notified of connection and packet events.
// Call it before serving.
func (s *Server) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	s.observer = o
}

// Run listens on the configured addresses and serves until ctx is cancelled
// or a listener fails, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if err := s.config.Validate(); err != nil {
		return err
	}

	errCh := make(chan error, 2)
	if s.config.Address != "" {
		l, err := net.Listen("tcp", s.config.Address)
		if err != nil {
			return fmt.Errorf("server: listen %s: %w", s.config.Address, err)
		}
		go func() { errCh <- s.Serve(l) }()
	}
	if s.config.WebSocketAddress != "" {
		l, err := net.Listen("tcp", s.config.WebSocketAddress)
		if err != nil {
			s.closeListeners()
			return fmt.Errorf("server: listen %s: %w", s.config.WebSocketAddress, err)
		}
		go func() { errCh <- s.ServeWebSocket(l) }()
	}

	var runErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrServerClosed) {
			runErr = err
		}
	case <-ctx.Done():
		s.logger.Info("shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Serve accepts stream connections on l until Shutdown. It always returns a
// non-nil error, ErrServerClosed after Shutdown.
func (s *Server) Serve(l net.Listener) error {
	if !s.trackListener(l) {
		l.Close()
		return ErrServerClosed
	}
	s.logger.Info("server starting", "address", l.Addr().String(), "transport", "tcp")

	var delay time.Duration
	for {
		nc, err := l.Accept()
		if err != nil {
			if s.closed.Load() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				delay = min(max(2*delay, 5*time.Millisecond), time.Second)
				s.logger.Warn("accept error, retrying", "error", err, "delay", delay)
				time.Sleep(delay)
				continue
			}
			return fmt.Errorf("server: accept: %w", err)
		}
		delay = 0

		if !s.startConn() {
			nc.Close()
			return ErrServerClosed
		}
		go func() {
			defer s.wg.Done()
			s.serveConn(NewStreamTransport(nc, s.config.ConnectionConfig))
		}()
	}
}

// Handler returns the HTTP handler serving WebSocket upgrades on the
// configured path, for mounting in another router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get(s.config.WebSocketPath, s.HandleWebSocket)
	return r
}

// ServeWebSocket serves WebSocket upgrades on l until Shutdown.
func (s *Server) ServeWebSocket(l net.Listener) error {
	hs := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		l.Close()
		return ErrServerClosed
	}
	s.httpServers = append(s.httpServers, hs)
	s.mu.Unlock()

	s.logger.Info("server starting",
		"address", l.Addr().String(),
		"transport", "websocket",
		"path", s.config.WebSocketPath)

	err := hs.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return ErrServerClosed
	}
	return err
}

// HandleWebSocket upgrades the request and serves the connection until it
// closes.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.startConn() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.wg.Done()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	// One message carries whole envelopes, so the largest packet bounds it.
	ws.SetReadLimit(int64(protocol.HeaderSize + s.codec.Registry().MaxSize()))

	s.serveConn(NewWebSocketTransport(ws, s.config.ConnectionConfig))
}

// startConn registers a connection goroutine unless the server is closed.
func (s *Server) startConn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Server) serveConn(t Transport) {
	c := NewConnection(t, s.codec, s.initial, s.config.ConnectionConfig, s.logger)
	c.metrics = s.metrics
	c.observer = s.observer

	if err := s.conns.Add(c); err != nil {
		s.logger.Warn("connection rejected", "remote", t.RemoteAddr(), "error", err)
		reason := "server error"
		if errors.Is(err, ErrMaxConnections) {
			reason = "server full"
		}
		c.Close(reason)
		return
	}
	defer s.conns.Remove(c.ID())

	s.observer.ConnectionOpened(t.Kind())
	defer s.observer.ConnectionClosed(t.Kind())
	c.Logger().Info("connection opened")

	if err := c.Serve(s.baseCtx); err != nil {
		c.Logger().Debug("connection ended", "error", err)
	}
}

func (s *Server) trackListener(l net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return false
	}
	s.listeners = append(s.listeners, l)
	return true
}

func (s *Server) closeListeners() {
	s.mu.Lock()
	listeners := s.listeners
	s.mu.Unlock()
	for _, l := range listeners {
		l.Close()
	}
}

// Shutdown stops accepting, sends every connection a Disconnect and waits
// for connection goroutines to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed.Swap(true) {
		s.mu.Unlock()
		return nil
	}
	listeners := s.listeners
	httpServers := s.httpServers
	s.mu.Unlock()

	for _, l := range listeners {
		if err := l.Close(); err != nil {
			s.logger.Debug("listener close error", "error", err)
		}
	}
	var errs []error
	for _, hs := range httpServers {
		// Upgraded connections are hijacked, so this only waits for
		// requests still in the upgrade path.
		if err := hs.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	s.conns.CloseAll("server shutting down")
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("server: shutdown: %w", ctx.Err()))
	}

	if err := errors.Join(errs...); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}
	s.logger.Info("server shutdown complete")
	return nil
}

// Addrs returns the addresses of the active stream listeners.
func (s *Server) Addrs() []net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	addrs := make([]net.Addr, 0, len(s.listeners))
	for _, l := range s.listeners {
		addrs = append(addrs, l.Addr())
	}
	return addrs
}

// Connections returns the connection manager.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Codec returns the envelope codec.
func (s *Server) Codec() *protocol.Codec {
	return s.codec
}

// Config returns the server configuration.
func (s *Server) Config() *ServerConfig {
	return s.config
}

// Logger returns the server logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}

// SetLogger sets the server logger. Call it before serving.
func (s *Server) SetLogger(logger *slog.Logger) {
	s.logger = logger
	s.conns.logger = logger
}
