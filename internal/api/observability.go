package api

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ObservabilityConfig configures the debug server
type ObservabilityConfig struct {
	Enabled    bool
	ListenAddr string // loopback only unless ALLOW_DEBUG_EXTERNAL=true

	BasicAuthUser string
	BasicAuthPass string

	// Snapshots, when set, backs /debug/sync
	Snapshots SnapshotSource
}

// DefaultObservabilityConfig returns the loopback debug server
func DefaultObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		Enabled:       true,
		ListenAddr:    "127.0.0.1:6060",
		BasicAuthUser: os.Getenv("DEBUG_USER"),
		BasicAuthPass: os.Getenv("DEBUG_PASS"),
	}
}

// DebugHandler serves pprof, Prometheus metrics, the synchronizer state and
// a health check
func DebugHandler(cfg ObservabilityConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/debug/sync", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Snapshots == nil {
			writeError(w, "no engine attached", http.StatusNotFound)
			return
		}
		snap := cfg.Snapshots.Snapshot()
		writeJSON(w, map[string]interface{}{
			"sequence":  snap.Sequence,
			"views":     len(snap.Views),
			"cellCount": snap.CellCount,
			"sync":      snap.Sync,
		})
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if cfg.BasicAuthUser != "" {
		return basicAuth(cfg.BasicAuthUser, cfg.BasicAuthPass, mux)
	}
	return mux
}

// loopbackAddr rewrites a non-loopback listen address to 127.0.0.1
func loopbackAddr(addr string) (string, bool) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "127.0.0.1:6060", false
	}
	if host == "localhost" {
		return addr, true
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return addr, true
	}
	return net.JoinHostPort("127.0.0.1", port), false
}

// StartDebugServer serves DebugHandler in the background. pprof can stall
// the process, so the listener stays on loopback unless explicitly allowed.
func StartDebugServer(cfg ObservabilityConfig) error {
	if !cfg.Enabled {
		log.Println("📊 Debug server disabled")
		return nil
	}

	addr := cfg.ListenAddr
	if fixed, ok := loopbackAddr(addr); !ok && os.Getenv("ALLOW_DEBUG_EXTERNAL") != "true" {
		log.Printf("⚠️ Debug server moved from %s to %s", addr, fixed)
		addr = fixed
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("debug listen %s: %w", addr, err)
	}

	log.Printf("📊 Debug server on %s (pprof /debug/pprof/, metrics /metrics, sync /debug/sync)", addr)
	go func() {
		if err := http.Serve(ln, DebugHandler(cfg)); err != nil {
			log.Printf("⚠️ Debug server error: %v", err)
		}
	}()
	return nil
}

func basicAuth(user, pass string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="debug"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
