// Package config provides centralized configuration management.
// This is the SINGLE SOURCE OF TRUTH for client settings.
//
// Every setting has a default here and may be overridden by an environment
// variable (optionally loaded from a .env file by the binaries).
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"cellsync/internal/camera"
	"cellsync/internal/engine"
	"cellsync/internal/feed"
	"cellsync/internal/world"
)

// =============================================================================
// SYNCHRONIZATION & INTERPOLATION
// =============================================================================

// SyncConfig holds interpolation and multi-view synchronization settings.
type SyncConfig struct {
	DrawDelay    time.Duration  // Interpolation window for every position change
	Mode         world.SyncMode // none, latest or flawless
	JellyPhysics bool           // Soft-body radius easing on/off
	JellyRate    float64        // Easing factor of the jelly radius
	Debounce     time.Duration  // How long (dis)agreement must last before it is trusted
}

// DefaultSync returns the default synchronization configuration.
func DefaultSync() SyncConfig {
	return SyncConfig{
		DrawDelay:    120 * time.Millisecond,
		Mode:         world.SyncFlawless,
		JellyPhysics: true,
		JellyRate:    5,
		Debounce:     time.Second,
	}
}

// SyncFromEnv returns synchronization configuration with environment overrides.
func SyncFromEnv() SyncConfig {
	cfg := DefaultSync()

	if ms := getEnvInt("DRAW_DELAY_MS", -1); ms >= 0 {
		cfg.DrawDelay = time.Duration(ms) * time.Millisecond
	}
	if v := os.Getenv("SYNC_MODE"); v != "" {
		if mode, err := world.ParseSyncMode(v); err == nil {
			cfg.Mode = mode
		} else {
			log.Printf("⚠️ %v, keeping %s", err, cfg.Mode)
		}
	}
	cfg.JellyPhysics = getEnvBool("JELLY_PHYSICS", cfg.JellyPhysics)
	if r := getEnvFloat("JELLY_RATE", 0); r > 0 {
		cfg.JellyRate = r
	}

	return cfg
}

// =============================================================================
// CAMERA CONFIGURATION
// =============================================================================

// CameraConfig holds camera weighting, smoothing and viewport settings.
type CameraConfig struct {
	Mode        camera.Mode
	Smoothness  float64 // Easing factor once settled (1 = no easing)
	Width       float64 // Viewport width in pixels
	Height      float64 // Viewport height in pixels
	MergeFactor float64 // Viewport gap allowed per unit of owned radius
}

// DefaultCamera returns the default camera configuration.
func DefaultCamera() CameraConfig {
	return CameraConfig{
		Mode:        camera.ModeDefault,
		Smoothness:  2,
		Width:       1920,
		Height:      1080,
		MergeFactor: 4,
	}
}

// CameraFromEnv returns camera configuration with environment overrides.
func CameraFromEnv() CameraConfig {
	cfg := DefaultCamera()

	if v := os.Getenv("CAMERA_MODE"); v != "" {
		if mode, err := camera.ParseMode(v); err == nil {
			cfg.Mode = mode
		} else {
			log.Printf("⚠️ %v, keeping %s", err, cfg.Mode)
		}
	}
	if s := getEnvFloat("CAMERA_SMOOTHNESS", 0); s >= 1 {
		cfg.Smoothness = s
	}
	if w := getEnvInt("VIEWPORT_WIDTH", 0); w > 0 {
		cfg.Width = float64(w)
	}
	if h := getEnvInt("VIEWPORT_HEIGHT", 0); h > 0 {
		cfg.Height = float64(h)
	}
	if m := getEnvFloat("CAMERA_MERGE_FACTOR", -1); m >= 0 {
		cfg.MergeFactor = m
	}

	return cfg
}

// =============================================================================
// RENDER & FEED CONFIGURATION
// =============================================================================

// RenderConfig holds render tick settings.
type RenderConfig struct {
	FPS int // Render ticks per second
}

// DefaultRender returns the default render configuration.
func DefaultRender() RenderConfig {
	return RenderConfig{FPS: 60}
}

// FeedConfig holds the upstream feed settings.
type FeedConfig struct {
	URLs        []string      // Feeds to open a view on at startup
	ReadTimeout time.Duration // A silent feed is closed after this long
	InboxSize   int           // Buffered message batches across all views
}

// DefaultFeed returns the default feed configuration.
func DefaultFeed() FeedConfig {
	return FeedConfig{
		ReadTimeout: 30 * time.Second,
		InboxSize:   1024,
	}
}

// FeedFromEnv returns feed configuration with environment overrides.
func FeedFromEnv() FeedConfig {
	cfg := DefaultFeed()

	if v := os.Getenv("FEED_URLS"); v != "" {
		for _, u := range strings.Split(v, ",") {
			if u = strings.TrimSpace(u); u != "" {
				cfg.URLs = append(cfg.URLs, u)
			}
		}
	}
	if s := getEnvInt("FEED_READ_TIMEOUT_SEC", 0); s > 0 {
		cfg.ReadTimeout = time.Duration(s) * time.Second
	}

	return cfg
}

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int
	DebugServer  bool
	EventLogPath string // empty disables the event log
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port:         3000,
		DebugServer:  true,
		EventLogPath: "events.jsonl",
	}
}

// ServerFromEnv returns server configuration with environment overrides.
func ServerFromEnv() ServerConfig {
	cfg := DefaultServer()

	if p := getEnvInt("PORT", 0); p > 0 {
		cfg.Port = p
	}
	if os.Getenv("DISABLE_DEBUG_SERVER") == "true" {
		cfg.DebugServer = false
	}
	if v, ok := os.LookupEnv("EVENT_LOG_PATH"); ok {
		cfg.EventLogPath = v
	}

	return cfg
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Sync   SyncConfig
	Camera CameraConfig
	Render RenderConfig
	Feed   FeedConfig
	Server ServerConfig
}

// Load returns the complete configuration with environment overrides.
func Load() AppConfig {
	render := DefaultRender()
	if fps := getEnvInt("RENDER_FPS", 0); fps > 0 {
		render.FPS = fps
	}
	return AppConfig{
		Sync:   SyncFromEnv(),
		Camera: CameraFromEnv(),
		Render: render,
		Feed:   FeedFromEnv(),
		Server: ServerFromEnv(),
	}
}

// Engine converts the configuration into engine settings
func (c AppConfig) Engine() engine.Config {
	cfg := engine.DefaultConfig()

	cfg.World.DrawDelay = c.Sync.DrawDelay
	cfg.World.Sync = c.Sync.Mode
	cfg.World.JellyEnabled = c.Sync.JellyPhysics
	cfg.World.JellyRate = c.Sync.JellyRate
	cfg.World.Debounce = c.Sync.Debounce

	cfg.Camera.Mode = c.Camera.Mode
	cfg.Camera.Smoothness = c.Camera.Smoothness
	cfg.Camera.ViewportW = c.Camera.Width
	cfg.Camera.ViewportH = c.Camera.Height
	cfg.Camera.MergeFactor = c.Camera.MergeFactor

	cfg.RenderRate = c.Render.FPS
	cfg.InboxSize = c.Feed.InboxSize

	cfg.Feed = feed.DefaultOptions()
	cfg.Feed.ReadTimeout = c.Feed.ReadTimeout

	return cfg
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}
