// Package server exposes kbagent over HTTP.
//
// Routes:
//
//	GET  /health, /health/live, /health/ready, /health/startup
//	GET  /version
//	POST /v1/credentials/validate
//	GET  /v1/jobs/{id}
//
// The /v1 routes are mounted only when an API is configured with WithAPI.
// Every error response uses the apperrors envelope.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/kbagent/internal/errors"
	"github.com/3leaps/kbagent/internal/observability"
	"github.com/3leaps/kbagent/internal/server/handlers"
	"github.com/3leaps/kbagent/internal/server/middleware"
)

// Default http.Server timeouts.
const (
	DefaultReadTimeout  = 30 * time.Second
	DefaultWriteTimeout = 30 * time.Second
	DefaultIdleTimeout  = 120 * time.Second
)

// Server is the kbagent HTTP server.
type Server struct {
	host string
	port int

	api     *handlers.API
	version handlers.VersionInfo

	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration

	router chi.Router

	mu       sync.Mutex
	httpSrv  *http.Server
	listener net.Listener
	closed   bool
}

// Option configures a Server.
type Option func(*Server)

// WithAPI mounts the /v1 routes served by api.
func WithAPI(api *handlers.API) Option {
	return func(s *Server) { s.api = api }
}

// WithVersion sets the /version payload.
func WithVersion(info handlers.VersionInfo) Option {
	return func(s *Server) { s.version = info }
}

// WithTimeouts overrides the http.Server timeouts. Zero keeps the default.
func WithTimeouts(read, write, idle time.Duration) Option {
	return func(s *Server) {
		if read > 0 {
			s.readTimeout = read
		}
		if write > 0 {
			s.writeTimeout = write
		}
		if idle > 0 {
			s.idleTimeout = idle
		}
	}
}

// New builds a Server listening on host:port once started.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:         host,
		port:         port,
		readTimeout:  DefaultReadTimeout,
		writeTimeout: DefaultWriteTimeout,
		idleTimeout:  DefaultIdleTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apperrors.RespondWithError(w, r, apperrors.NewNotFound("route not found: "+r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		apperrors.RespondWithError(w, r, apperrors.New(apperrors.CodeMethodNotAllowed,
			http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed on %s", r.Method, r.URL.Path)))
	})

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/version", handlers.VersionHandler(s.version))

	if s.api != nil {
		r.Route("/v1", func(r chi.Router) {
			r.Post("/credentials/validate", s.api.ValidateCredentials)
			r.Get("/jobs/{id}", s.api.GetJob)
		})
	}
	return r
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.router }

// Port returns the configured port.
func (s *Server) Port() int { return s.port }

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Start listens and serves until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", net.JoinHostPort(s.host, strconv.Itoa(s.port)))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  s.idleTimeout,
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ln.Close()
	}
	s.httpSrv = srv
	s.listener = ln
	s.mu.Unlock()

	observability.ServerLogger.Info("HTTP server listening", zap.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx is done. A Server shut down before Start never serves.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.httpSrv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
