package api

import (
	"context"
	"net/http"
	"time"

	"cellsync/internal/engine"
	"cellsync/internal/metrics"
	"cellsync/internal/render"
	"cellsync/internal/world"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// EngineInterface defines the engine methods used by the API.
// This interface enables mocking for tests without spinning up the render loop.
// Keep this minimal - only include methods the API layer actually calls.
type EngineInterface interface {
	// Snapshot returns the latest immutable render snapshot
	Snapshot() *engine.Snapshot
	// OpenView opens a view and connects it to a feed
	OpenView(ctx context.Context, url string) (world.ViewID, error)
	// CloseView disconnects and removes a view
	CloseView(id world.ViewID) error
	// SetSyncMode switches synchronization at runtime
	SetSyncMode(m world.SyncMode) error
}

// RouterConfig contains all dependencies needed to construct the HTTP router.
// This struct is designed for dependency injection and testability.
//
// Example usage in tests:
//
//	cfg := api.RouterConfig{
//	    Engine: mockEngine,
//	    RateLimitConfig: &api.RateLimitConfig{
//	        RequestsPerSecond: 1000, // High limit for tests
//	        Burst:             1000,
//	    },
//	}
//	router := api.NewRouter(cfg)
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	// Engine is the render engine (required)
	Engine EngineInterface

	// Renderer draws PNG frames. If nil, a default renderer is created.
	Renderer *render.Renderer

	// ViewportWidth is the camera viewport width the snapshot scale refers to
	ViewportWidth float64

	// RateLimiter is an optional pre-configured rate limiter.
	// If nil, a new one will be created using RateLimitConfig.
	RateLimiter *IPRateLimiter

	// RateLimitConfig is optional configuration for the rate limiter.
	// Only used if RateLimiter is nil. If both are nil, uses DefaultRateLimitConfig.
	RateLimitConfig *RateLimitConfig

	// CORSOrigins is an optional list of allowed CORS origins.
	// If nil, uses the local development origins.
	CORSOrigins []string

	// OpenTimeout bounds how long POST /api/views waits for the feed to connect
	OpenTimeout time.Duration

	// DisableLogging disables the request logger middleware (useful for benchmarks).
	DisableLogging bool
}

// routerHandlers holds the handler functions for the router.
type routerHandlers struct {
	engine      EngineInterface
	renderer    *render.Renderer
	viewportW   float64
	openTimeout time.Duration
}

// NewRouter constructs the HTTP router with all middleware and routes.
//
// IMPORTANT: This function is PURE apart from the rate limiter's cleanup
// goroutine: no network listeners are opened and the engine is not touched.
// This makes it safe to use in tests with httptest.NewServer.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware - Order matters!
	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(requestMetrics)

	// Rate limiting (BEFORE CORS to reject early and save CPU)
	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rateLimitCfg := DefaultRateLimitConfig
		if cfg.RateLimitConfig != nil {
			rateLimitCfg = *cfg.RateLimitConfig
		}
		rateLimiter = NewIPRateLimiter(rateLimitCfg)
	}
	r.Use(rateLimiter.Middleware)

	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = []string{
			"http://localhost:*",
			"http://127.0.0.1:*",
		}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	}))

	renderer := cfg.Renderer
	if renderer == nil {
		renderer = render.New(render.DefaultConfig())
	}
	viewportW := cfg.ViewportWidth
	if viewportW <= 0 {
		viewportW = 1920
	}
	openTimeout := cfg.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = 10 * time.Second
	}

	h := &routerHandlers{
		engine:      cfg.Engine,
		renderer:    renderer,
		viewportW:   viewportW,
		openTimeout: openTimeout,
	}

	r.Route("/api", func(r chi.Router) {
		// Views
		r.Get("/views", h.handleListViews)
		r.With(rateLimiter.OpenMiddleware).Post("/views", h.handleOpenView)
		r.Route("/views/{id}", func(r chi.Router) {
			r.Delete("/", h.handleCloseView)
			r.Get("/render", h.handleRender)
			r.Get("/camera", h.handleCamera)
			r.Get("/frame.png", h.handleFrame)
		})

		// Synchronizer
		r.Get("/sync", h.handleGetSync)
		r.Post("/sync", h.handleSetSync)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return r
}

// requestMetrics records latency per route pattern, never per raw path
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				endpoint = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RecordRequest(r.Method, endpoint, status, time.Since(start))
	})
}
