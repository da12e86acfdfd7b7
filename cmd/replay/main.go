// Command replay re-runs a recorded event log through a fresh world and
// reports how the synchronizer behaved.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"cellsync/internal/camera"
	"cellsync/internal/config"
	"cellsync/internal/engine"
	"cellsync/internal/eventlog"
	"cellsync/internal/feed"
	"cellsync/internal/render"
	"cellsync/internal/world"

	"github.com/joho/godotenv"
)

var (
	logPath   = flag.String("log", "events.jsonl", "Event log to replay")
	syncMode  = flag.String("sync", "", "Override sync mode: none|latest|flawless")
	drawDelay = flag.Duration("draw-delay", 0, "Override draw delay")
	pngDir    = flag.String("png", "", "Write the final frame of every view to this directory")
	verbose   = flag.Bool("v", false, "Print every sync pass")
)

func main() {
	flag.Parse()
	godotenv.Load(".env")

	appConfig := config.Load()
	cfg := appConfig.Engine()
	if *syncMode != "" {
		mode, err := world.ParseSyncMode(*syncMode)
		if err != nil {
			log.Fatalf("❌ %v", err)
		}
		cfg.World.Sync = mode
	}
	if *drawDelay > 0 {
		cfg.World.DrawDelay = *drawDelay
	}

	f, err := os.Open(*logPath)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	events, err := eventlog.Read(f)
	f.Close()
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	log.Printf("📼 Replaying %d events from %s (sync=%s, draw delay %s)",
		len(events), *logPath, cfg.World.Sync, cfg.World.DrawDelay)

	r := newReplayer(cfg.World)
	r.verbose = *verbose
	for _, e := range events {
		r.apply(e)
	}
	r.report()

	if *pngDir != "" {
		if err := writeFrames(r, cfg, *pngDir); err != nil {
			log.Fatalf("❌ %v", err)
		}
	}
}

// replayer applies logged events to a world. Logged view ids are mapped to
// the ids the fresh world hands out.
type replayer struct {
	world   *world.World
	views   map[uint32]world.ViewID
	decoder feed.JSONDecoder
	verbose bool

	last     time.Time
	synced   bool
	messages int
	skipped  int
	lost     int
	restored int
}

func newReplayer(cfg world.Config) *replayer {
	return &replayer{
		world:  world.New(cfg),
		views:  make(map[uint32]world.ViewID),
		synced: true,
	}
}

func (r *replayer) apply(e eventlog.Event) {
	now := e.Time()
	r.last = now

	switch e.Type {
	case eventlog.EventTypeViewOpen:
		v := r.world.OpenView("", now)
		r.views[e.View] = v.ID
	case eventlog.EventTypeViewClose:
		if id, ok := r.views[e.View]; ok {
			r.world.CloseView(id)
			delete(r.views, e.View)
		}
	case eventlog.EventTypeMessage:
		id, ok := r.views[e.View]
		if !ok {
			r.skipped++
			return
		}
		msgs, err := r.decoder.Decode(e.Payload)
		if err != nil {
			r.skipped++
			return
		}
		for _, m := range msgs {
			if err := m.Apply(r.world, id, now); err != nil {
				r.skipped++
				continue
			}
			r.messages++
			if m.Kind == feed.KindBatch {
				r.afterPass(now)
			}
		}
	}
}

func (r *replayer) afterPass(now time.Time) {
	st := r.world.Stats()
	if r.verbose {
		fmt.Printf("%s pass %d agreed=%v synchronized=%v indices=%v\n",
			now.Format("15:04:05.000"), st.Passes, st.Agreed, st.Synchronized, st.Indices)
	}
	if st.Synchronized == r.synced {
		return
	}
	r.synced = st.Synchronized
	if st.Synchronized {
		r.restored++
		fmt.Printf("%s 🔗 synchronized\n", now.Format("15:04:05.000"))
	} else {
		r.lost++
		fmt.Printf("%s ⚠️ disagreement\n", now.Format("15:04:05.000"))
	}
}

func (r *replayer) report() {
	st := r.world.Stats()
	fmt.Printf("messages %d, skipped %d, passes %d\n", r.messages, r.skipped, st.Passes)
	fmt.Printf("sync lost %d times, restored %d times, missing models %d\n", r.lost, r.restored, st.MissingModels)
	fmt.Printf("final: %d views, %d cells, synchronized=%v\n", len(r.world.Views()), r.world.CellCount(), st.Synchronized)
}

// writeFrames renders the final state of every view the way the client would
func writeFrames(r *replayer, cfg engine.Config, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	views := r.world.Views()
	rendered := make(map[world.ViewID][]world.RenderCell, len(views))
	for _, v := range views {
		cells, err := r.world.RenderState(v.ID, r.last)
		if err != nil {
			return err
		}
		rendered[v.ID] = cells
	}
	camera.New(cfg.Camera).Update(views, rendered, r.last)

	rd := render.New(render.DefaultConfig())
	for _, v := range views {
		snap := engine.ViewSnapshot{
			ID:     v.ID,
			Cells:  rendered[v.ID],
			Camera: engine.CameraSnapshot{X: v.Camera.X, Y: v.Camera.Y, Scale: v.Camera.Scale, Merged: v.Camera.Merged},
			Border: v.Border,
		}
		path := filepath.Join(dir, fmt.Sprintf("view-%d.png", v.ID))
		out, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		err = rd.WritePNG(out, &snap, cfg.Camera.ViewportW)
		out.Close()
		if err != nil {
			return err
		}
		log.Printf("🖼️ %s", path)
	}
	return nil
}
