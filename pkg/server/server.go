package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-dev/deltanet/pkg/deltanet"
	"github.com/vango-dev/deltanet/pkg/protocol"
)

// Server serves a deltanet.Server over WebSocket and drives its tick and
// heartbeat loops.
type Server struct {
	core       *deltanet.Server
	config     *Config
	upgrader   websocket.Upgrader
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
	counters   counters

	mu  sync.Mutex
	ips *ipLimiter

	loopsOnce sync.Once
	stop      chan struct{}
	stopOnce  sync.Once
	loops     sync.WaitGroup
}

// New creates a transport for core. A nil config uses DefaultConfig.
func New(core *deltanet.Server, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	} else {
		config = config.Clone()
	}
	config.applyDefaults()

	checkOrigin := config.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}

	s := &Server{
		core:   core,
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     checkOrigin,
			Subprotocols:    protocol.Subprotocols,
		},
		logger: slog.Default().With("component", "server"),
		ips:    newIPLimiter(config.MaxConnectionsPerIP),
		stop:   make(chan struct{}),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.config.Middleware...)

	r.Get(s.config.Path, s.HandleWebSocket)
	r.Get("/healthz", s.handleHealth)
	if s.config.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{}))
	}
	if s.config.EnableStateEndpoint {
		r.Get("/state", s.handleState)
	}
	return r
}

// Handler returns the HTTP handler serving the WebSocket endpoint and the
// auxiliary endpoints.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// HandleWebSocket upgrades the request and runs the connection until the
// socket closes.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := s.clientIP(r)

	s.mu.Lock()
	allowed := s.ips.acquire(ip)
	s.mu.Unlock()
	if !allowed {
		s.counters.rejectedIPLimit.Add(1)
		s.logger.Warn("connection limit reached", "ip", ip)
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}
	defer func() {
		s.mu.Lock()
		s.ips.release(ip)
		s.mu.Unlock()
	}()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(s.config.ReadLimit)

	logger := s.logger.With("ip", ip, "request_id", middleware.GetReqID(r.Context()))

	// The upgrader answers without a subprotocol when none of the offered
	// ones is supported.
	if !protocol.IsSupportedSubprotocol(conn.Subprotocol()) {
		s.counters.rejectedSubprotocol.Add(1)
		logger.Info("unsupported subprotocol", "offered", websocket.Subprotocols(r))
		s.rejectSubprotocol(conn)
		return
	}

	sock := newSocket(conn, s.config.SendQueueSize, s.config.WriteTimeout, &s.counters, logger)
	s.counters.socketsOpened.Add(1)
	defer s.counters.socketsClosed.Add(1)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		sock.writeLoop()
	}()

	c := s.core.AddConnection(sock)
	logger = logger.With("connection_id", c.ID())
	logger.Debug("socket opened", "subprotocol", conn.Subprotocol())

	s.readLoop(c, sock, logger)

	s.core.RemoveConnection(c)
	sock.Close(websocket.CloseNormalClosure, "")
	<-writerDone
	logger.Debug("socket closed")
}

// rejectSubprotocol writes an UNSUPPORTED_WEBSOCKET_SUBPROTOCOL error and
// closes the connection.
func (s *Server) rejectSubprotocol(conn *websocket.Conn) {
	defer conn.Close()

	em := protocol.NewError(protocol.ErrorUnsupportedSubprotocol, "unsupported websocket subprotocol")
	deadline := time.Now().Add(s.config.WriteTimeout)
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.BinaryMessage, protocol.EncodeServerMessage(em)); err != nil {
		s.logger.Debug("failed to send subprotocol error", "error", err)
		return
	}
	msg := websocket.FormatCloseMessage(protocol.CloseCodeError, string(em.ErrorType))
	conn.WriteControl(websocket.CloseMessage, msg, deadline)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	if s.core.Disposed() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, s.Stats())
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.core.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Start runs the tick and heartbeat loops until ctx is done or the server
// shuts down. Calling it more than once has no effect.
func (s *Server) Start(ctx context.Context) {
	s.loopsOnce.Do(func() {
		s.loops.Add(1)
		go s.every(ctx, s.config.TickInterval, func() { s.core.Tick() })
		if s.config.HeartbeatInterval > 0 {
			s.loops.Add(1)
			go s.every(ctx, s.config.HeartbeatInterval, func() { s.core.Ping() })
		}
	})
}

func (s *Server) every(ctx context.Context, interval time.Duration, fn func()) {
	defer s.loops.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fn()
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		}
	}
}

// Run starts the loops and the HTTP server and blocks until ctx is done, a
// shutdown signal arrives or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.config.Address,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Set up graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	// Error channel for ListenAndServe
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			"address", s.config.Address,
			"path", s.config.Path,
			"tick_interval", s.config.TickInterval,
		)
		errCh <- s.httpServer.ListenAndServe()
	}()
	s.Start(ctx)

	select {
	case err := <-errCh:
		s.stopLoops()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil

	case <-shutdown:
		s.logger.Info("shutting down...")
	case <-ctx.Done():
		s.logger.Info("context done, shutting down...")
	}
	return s.Shutdown(context.Background())
}

func (s *Server) stopLoops() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.loops.Wait()
}

// Shutdown stops the loops, disposes the core, which closes every socket
// with SERVER_SHUTDOWN, and then shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	s.stopLoops()
	s.core.Dispose()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.logger.Info("server shutdown complete")
	return nil
}

// Core returns the synchronization server.
func (s *Server) Core() *deltanet.Server {
	return s.core
}

// Config returns the transport configuration.
func (s *Server) Config() *Config {
	return s.config
}

// Logger returns the server's logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}

// SetLogger sets the server's logger.
func (s *Server) SetLogger(logger *slog.Logger) {
	s.logger = logger
}
