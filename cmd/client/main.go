package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cellsync/internal/api"
	"cellsync/internal/config"
	"cellsync/internal/engine"
	"cellsync/internal/render"

	"github.com/joho/godotenv"
)

func main() {
	// Load .env file from parent directory
	if err := godotenv.Load("../.env"); err != nil {
		// Try current directory as fallback
		if err := godotenv.Load(".env"); err != nil {
			log.Println("💡 No .env file found, using environment variables only")
		}
	} else {
		log.Println("✅ Loaded environment from ../.env")
	}

	log.Println("🔭 ================================")
	log.Println("🔭  CELLSYNC - MULTI-VIEW CLIENT")
	log.Println("🔭 ================================")

	// Load centralized configuration (SSOT - Single Source of Truth)
	appConfig := config.Load()
	serverCfg := appConfig.Server

	log.Printf("🎮 Config: sync=%s, draw delay %s, camera=%s (smoothness %.1f), jelly=%v, %d FPS",
		appConfig.Sync.Mode, appConfig.Sync.DrawDelay, appConfig.Camera.Mode,
		appConfig.Camera.Smoothness, appConfig.Sync.JellyPhysics, appConfig.Render.FPS)

	eng := engine.New(appConfig.Engine())

	// Start event log before any view exists so every open is recorded
	if serverCfg.EventLogPath != "" {
		if err := eng.EventLog().Start(serverCfg.EventLogPath); err != nil {
			log.Printf("⚠️ Event log disabled: %v", err)
		} else {
			log.Printf("📝 Event log: %s", serverCfg.EventLogPath)
		}
	}

	// Start debug server
	if serverCfg.DebugServer {
		debugCfg := api.DefaultObservabilityConfig()
		debugCfg.Snapshots = eng
		if err := api.StartDebugServer(debugCfg); err != nil {
			log.Printf("⚠️ Debug server disabled: %v", err)
		}
	}

	eng.Start()
	log.Println("✅ Engine started")

	for _, url := range appConfig.Feed.URLs {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		id, err := eng.OpenView(ctx, url)
		cancel()
		if err != nil {
			log.Printf("⚠️ Could not open view on %s: %v", url, err)
			continue
		}
		log.Printf("👁️ View %d on %s", id, url)
	}

	renderCfg := render.DefaultConfig()
	server := api.NewServer(eng, api.ServerConfig{
		Router: api.RouterConfig{
			Renderer:      render.New(renderCfg),
			ViewportWidth: appConfig.Camera.Width,
		},
	})

	addr := fmt.Sprintf(":%d", serverCfg.Port)
	go func() {
		if err := server.Start(addr); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	log.Println("✅ Client ready! Press Ctrl+C to stop.")
	<-quit

	log.Println("🛑 Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("⚠️ Server shutdown: %v", err)
	}
	eng.Stop()
	eng.EventLog().Stop()
	if stats := eng.EventLog().GetStats(); stats["total"] != uint64(0) {
		log.Printf("📝 Event log: %v events, %v dropped", stats["total"], stats["dropped"])
	}
	log.Println("👋 Goodbye!")
}
