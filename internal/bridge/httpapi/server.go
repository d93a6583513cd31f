// Package httpapi serves the bridge over HTTP (cleartext HTTP/2 capable) and
// an optional websocket endpoint.
//
// Routes:
//
//	GET|POST /v1/{operation}  one request, answered with the envelope
//	GET      /ws              persistent connection, one envelope per message
//	GET      /health          liveness and API version
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/binbridge/binbridge/internal/bridge"
	"github.com/binbridge/binbridge/internal/constants"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 8 << 20

// Config contains dependencies for creating the HTTP server.
type Config struct {
	// Listen is the TCP address. Port 0 picks a free port.
	Listen string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// RateLimit caps requests per client address. Nil disables limiting.
	RateLimit *RateLimit

	// WebSocket enables /ws.
	WebSocket bool

	// AllowedOrigins lists browser origins accepted on /ws.
	AllowedOrigins []string

	Dispatcher *bridge.Dispatcher
	Logger     zerolog.Logger
}

// Server is the bridge HTTP server.
type Server struct {
	cfg        Config
	httpServer *http.Server
	listener   net.Listener
	logger     zerolog.Logger
	limiter    *RateLimitMiddleware

	wsMu    sync.Mutex
	wsConns map[*wsConn]struct{}
	done    chan struct{}
}

// New creates the server. It does not listen until Start.
func New(cfg Config) (*Server, error) {
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("httpapi: dispatcher is required")
	}
	if cfg.Listen == "" {
		cfg.Listen = constants.DefaultListenAddr
	}

	logger := cfg.Logger.With().Str("component", "httpapi").Logger()
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		wsConns: make(map[*wsConn]struct{}),
		done:    make(chan struct{}),
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Listen,
		Handler:           h2c.NewHandler(s.Handler(), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	return s, nil
}

// Handler returns the routed handler with its middleware chain:
// request id -> audit -> rate limit -> routes. /health skips rate limiting.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/{operation}", s.handleCall)
	mux.HandleFunc("POST /v1/{operation}", s.handleCall)
	if s.cfg.WebSocket {
		mux.HandleFunc("GET /ws", s.handleWebSocket)
	}

	var routed http.Handler = mux
	if s.cfg.RateLimit != nil {
		if s.limiter == nil {
			s.limiter = NewRateLimitMiddleware(*s.cfg.RateLimit, s.logger)
		}
		routed = s.limiter.Handler(mux)
	}

	top := http.NewServeMux()
	top.HandleFunc("GET /health", s.handleHealth)
	top.Handle("/", routed)

	return RequestID(NewAuditMiddleware(s.logger).Handler(top))
}

// Start listens and serves in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Listen, err)
	}
	s.listener = ln

	s.logger.Info().
		Str("addr", ln.Addr().String()).
		Bool("websocket", s.cfg.WebSocket).
		Bool("rate_limit", s.cfg.RateLimit != nil).
		Msg("Starting bridge HTTP server")

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Bridge HTTP server error")
		}
	}()
	return nil
}

// Stop gracefully stops the server and closes open websockets.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping bridge HTTP server")

	s.wsMu.Lock()
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	for c := range s.wsConns {
		c.close()
	}
	s.wsMu.Unlock()

	return s.httpServer.Shutdown(ctx)
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Listen
}

// URL returns the server base URL.
func (s *Server) URL() string {
	return "http://" + s.Addr()
}
