package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Engine is what the full server needs: the router's engine methods plus the
// snapshot feed for websocket clients
type Engine interface {
	EngineInterface
	SnapshotSource
}

// ServerConfig holds the optional parts of the server
type ServerConfig struct {
	Router            RouterConfig // Engine and RateLimiter are filled in by NewServer
	BroadcastInterval time.Duration
}

// Server is the HTTP API server with WebSocket support.
// It combines the HTTP router with WebSocket hub for real-time updates.
type Server struct {
	engine      Engine
	router      *chi.Mux
	wsHub       *WebSocketHub
	rateLimiter *IPRateLimiter
	interval    time.Duration
	http        *http.Server
}

// NewServer creates a new API server.
//
// IMPORTANT: Background workers do NOT start until Start() is called.
// For testing HTTP endpoints without WebSocket support, use NewRouter() directly.
func NewServer(engine Engine, cfg ServerConfig) *Server {
	s := &Server{
		engine:   engine,
		wsHub:    NewWebSocketHub(),
		interval: cfg.BroadcastInterval,
	}

	rateLimitCfg := DefaultRateLimitConfig
	if cfg.Router.RateLimitConfig != nil {
		rateLimitCfg = *cfg.Router.RateLimitConfig
	}
	s.rateLimiter = NewIPRateLimiter(rateLimitCfg)

	routerCfg := cfg.Router
	routerCfg.Engine = engine
	routerCfg.RateLimiter = s.rateLimiter
	s.router = NewRouter(routerCfg)

	// WebSocket route needs the hub instance, so it can't be part of NewRouter
	s.router.Get("/ws", s.wsHub.HandleWebSocket)

	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins the HTTP server AND starts background workers.
// It blocks until the server stops; after Shutdown it returns nil.
func (s *Server) Start(addr string) error {
	go s.wsHub.Run()
	s.wsHub.StartBroadcastLoop(s.engine, s.interval)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	log.Printf("🌐 API server starting on %s", addr)
	log.Printf("🔭 Views: http://localhost%s/api/views", addr)

	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Router returns the HTTP handler for use with httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// Hub returns the websocket hub
func (s *Server) Hub() *WebSocketHub {
	return s.wsHub
}

// Shutdown stops accepting requests and stops background workers
func (s *Server) Shutdown(ctx context.Context) error {
	s.wsHub.Stop()
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	return s.http.Shutdown(ctx)
}
