// Package httpapi exposes the service status, per-user notification inbox,
// preferences and active session over HTTP, plus a websocket feed of rental
// events and toasts.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/rentstream/internal/metrics"
	"github.com/R3E-Network/rentstream/internal/middleware"
	"github.com/R3E-Network/rentstream/internal/notify"
	"github.com/R3E-Network/rentstream/internal/session"
	"github.com/R3E-Network/rentstream/internal/subscription"
)

// StatusSource reports the subscription status.
type StatusSource interface {
	Info() subscription.Info
}

// StreamController restarts the chain subscription after its reconnect
// attempts ran out. *subscription.Manager implements it.
type StreamController interface {
	Start(ctx context.Context)
}

// Config holds server configuration.
type Config struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RateLimit      float64
	RateBurst      int
	AllowedOrigins []string
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		RateLimit:    20,
		RateBurst:    40,
	}
}

// Deps are the services the API reads and mutates.
type Deps struct {
	Status  StatusSource
	Store   *notify.Store
	Session *session.Tracker
	Hub     *Hub
	Metrics *metrics.Collector

	// Stream enables POST /reconnect when set.
	Stream StreamController
}

// Server is the HTTP API server.
type Server struct {
	cfg     Config
	deps    Deps
	log     *logrus.Entry
	limiter *middleware.RateLimiter
	handler http.Handler
	server  *http.Server

	mu      sync.Mutex
	addr    net.Addr
	baseCtx context.Context
}

// NewServer creates a new HTTP API server.
func NewServer(cfg Config, deps Deps, log *logrus.Entry) (*Server, error) {
	if deps.Status == nil || deps.Store == nil || deps.Session == nil || deps.Hub == nil {
		return nil, errors.New("httpapi: status, store, session and hub are required")
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		log:     log,
		limiter: middleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst, log, deps.Metrics),
	}
	s.handler = middleware.NewCORS(cfg.AllowedOrigins).Handler(s.routes())
	s.server = &http.Server{
		Addr:           cfg.Addr,
		Handler:        s.handler,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: 1 << 20,
	}
	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Recovery(s.log), middleware.Logging(s.log), middleware.Metrics(s.deps.Metrics))

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)
	}

	api := r.NewRoute().Subrouter()
	api.Use(s.limiter.Handler)
	api.HandleFunc("/status", s.status).Methods(http.MethodGet)
	if s.deps.Stream != nil {
		api.HandleFunc("/reconnect", s.reconnect).Methods(http.MethodPost)
	}
	api.HandleFunc("/session", s.getSession).Methods(http.MethodGet)
	api.HandleFunc("/session", s.putSession).Methods(http.MethodPut)
	api.HandleFunc("/users/{address}/notifications", s.listNotifications).Methods(http.MethodGet)
	api.HandleFunc("/users/{address}/notifications", s.clearNotifications).Methods(http.MethodDelete)
	api.HandleFunc("/users/{address}/notifications/history", s.history).Methods(http.MethodGet)
	api.HandleFunc("/users/{address}/notifications/{index:[0-9]+}/read", s.markRead).Methods(http.MethodPost)
	api.HandleFunc("/users/{address}/preferences", s.getPreferences).Methods(http.MethodGet)
	api.HandleFunc("/users/{address}/preferences", s.putPreferences).Methods(http.MethodPut)
	api.Handle("/ws", s.deps.Hub).Methods(http.MethodGet)

	return r
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start binds the listen address and serves in the background until ctx is
// done or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.baseCtx = ctx
	s.mu.Unlock()

	s.limiter.StartCleanup(ctx, time.Minute)
	s.log.WithField("addr", ln.Addr().String()).Info("http api listening")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("http api stopped")
		}
	}()
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// baseContext returns the context passed to Start, so work started by a request
// outlives the request.
func (s *Server) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baseCtx == nil {
		return context.Background()
	}
	return s.baseCtx
}

// Stop disconnects websocket clients and gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.deps.Hub.Close()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http api: %w", err)
	}
	return nil
}
