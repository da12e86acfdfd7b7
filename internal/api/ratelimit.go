package api

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cellsync/internal/metrics"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures the per-IP limiters
type RateLimitConfig struct {
	RequestsPerSecond float64       // sustained requests per IP
	Burst             int           // request burst per IP
	CleanupInterval   time.Duration // idle limiters are dropped after twice this

	// ViewOpensPerMinute caps POST /api/views per IP, since each one dials
	// an outside feed. Zero disables the cap.
	ViewOpensPerMinute int
}

// DefaultRateLimitConfig leaves room for polling frame.png at a few Hz
var DefaultRateLimitConfig = RateLimitConfig{
	RequestsPerSecond:  20,
	Burst:              40,
	CleanupInterval:    5 * time.Minute,
	ViewOpensPerMinute: 6,
}

// clientLimits is the state kept for one client IP
type clientLimits struct {
	requests *rate.Limiter
	opens    *rate.Limiter // nil when view opens are not capped
	lastSeen time.Time
}

// IPRateLimiter limits API requests and view opens per client IP
type IPRateLimiter struct {
	cfg     RateLimitConfig
	mu      sync.Mutex
	clients map[string]*clientLimits

	stop     chan struct{}
	stopOnce sync.Once

	allowed  atomic.Uint64
	rejected atomic.Uint64
}

// NewIPRateLimiter creates a limiter and starts its sweeper
func NewIPRateLimiter(cfg RateLimitConfig) *IPRateLimiter {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultRateLimitConfig.CleanupInterval
	}
	rl := &IPRateLimiter{
		cfg:     cfg,
		clients: make(map[string]*clientLimits),
		stop:    make(chan struct{}),
	}
	go rl.sweep()
	return rl
}

// Stop ends the sweeper
func (rl *IPRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *IPRateLimiter) client(ip string) *clientLimits {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, ok := rl.clients[ip]
	if !ok {
		c = &clientLimits{
			requests: rate.NewLimiter(rate.Limit(rl.cfg.RequestsPerSecond), rl.cfg.Burst),
		}
		if n := rl.cfg.ViewOpensPerMinute; n > 0 {
			c.opens = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
		}
		rl.clients[ip] = c
	}
	c.lastSeen = time.Now()
	return c
}

func (rl *IPRateLimiter) sweep() {
	ticker := time.NewTicker(rl.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case now := <-ticker.C:
			cutoff := now.Add(-2 * rl.cfg.CleanupInterval)
			rl.mu.Lock()
			for ip, c := range rl.clients {
				if c.lastSeen.Before(cutoff) {
					delete(rl.clients, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// Allow reports whether one more request from ip fits its budget
func (rl *IPRateLimiter) Allow(ip string) bool {
	if rl.client(ip).requests.Allow() {
		rl.allowed.Add(1)
		return true
	}
	rl.rejected.Add(1)
	return false
}

// AllowOpen reports whether ip may open another view
func (rl *IPRateLimiter) AllowOpen(ip string) bool {
	c := rl.client(ip)
	if c.opens == nil || c.opens.Allow() {
		return true
	}
	rl.rejected.Add(1)
	return false
}

// Middleware rejects requests over the per-IP budget with 429
func (rl *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(GetClientIP(r)) {
			tooMany(w, "rate_limit", "1")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// OpenMiddleware guards the view-open route with the view-open budget
func (rl *IPRateLimiter) OpenMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.AllowOpen(GetClientIP(r)) {
			tooMany(w, "view_open_limit", "10")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func tooMany(w http.ResponseWriter, reason, retryAfter string) {
	metrics.RecordConnectionRejected(reason)
	w.Header().Set("Retry-After", retryAfter)
	http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
}

// GetStats returns allowed and rejected counts
func (rl *IPRateLimiter) GetStats() map[string]uint64 {
	return map[string]uint64{
		"allowed":  rl.allowed.Load(),
		"rejected": rl.rejected.Load(),
	}
}

// GetClientIP returns the client address, preferring proxy headers.
// Headers are trusted as-is; run behind a proxy that sets them.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// WebSocketRateLimiter caps concurrent snapshot subscribers per IP
type WebSocketRateLimiter struct {
	mu       sync.Mutex
	open     map[string]int
	maxPerIP int
	rejected atomic.Uint64
}

// NewWebSocketRateLimiter creates a subscriber cap
func NewWebSocketRateLimiter(maxPerIP int) *WebSocketRateLimiter {
	return &WebSocketRateLimiter{open: make(map[string]int), maxPerIP: maxPerIP}
}

// Allow reserves a connection slot for ip
func (wrl *WebSocketRateLimiter) Allow(ip string) bool {
	wrl.mu.Lock()
	defer wrl.mu.Unlock()
	if wrl.open[ip] >= wrl.maxPerIP {
		wrl.rejected.Add(1)
		return false
	}
	wrl.open[ip]++
	return true
}

// Release frees a slot reserved by Allow
func (wrl *WebSocketRateLimiter) Release(ip string) {
	wrl.mu.Lock()
	defer wrl.mu.Unlock()
	if n := wrl.open[ip]; n > 1 {
		wrl.open[ip] = n - 1
	} else {
		delete(wrl.open, ip)
	}
}

// GetConnectionCount returns the open connections of ip
func (wrl *WebSocketRateLimiter) GetConnectionCount(ip string) int {
	wrl.mu.Lock()
	defer wrl.mu.Unlock()
	return wrl.open[ip]
}

// GetStats returns the rejection count
func (wrl *WebSocketRateLimiter) GetStats() map[string]uint64 {
	return map[string]uint64{"rejected": wrl.rejected.Load()}
}

// IsAllowedOrigin accepts loopback browser origins and non-browser clients,
// which send no Origin header.
func IsAllowedOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
