// Package engine runs the world on one goroutine: feed messages, view
// commands and render ticks are all serialized through a single loop, and
// render results are published as immutable snapshots for other goroutines.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"cellsync/internal/camera"
	"cellsync/internal/eventlog"
	"cellsync/internal/feed"
	"cellsync/internal/metrics"
	"cellsync/internal/world"
)

// ErrStopped is returned by calls that need the loop after Stop
var ErrStopped = errors.New("engine stopped")

// Config holds everything the engine needs to build its world
type Config struct {
	World      world.Config
	Camera     camera.Config
	RenderRate int // render ticks per second
	InboxSize  int // buffered feed message batches
	Feed       feed.Options
}

// DefaultConfig returns the standard engine settings
func DefaultConfig() Config {
	return Config{
		World:      world.DefaultConfig(),
		Camera:     camera.DefaultConfig(),
		RenderRate: 60,
		InboxSize:  1024,
		Feed:       feed.DefaultOptions(),
	}
}

// DialFunc opens a feed for a view
type DialFunc func(ctx context.Context, url string, view world.ViewID, sink feed.Sink, opts feed.Options) (*feed.Client, error)

// delivery is one batch of messages from one view
type delivery struct {
	view world.ViewID
	msgs []feed.Message
}

// Engine owns the world and the camera aggregator
type Engine struct {
	cfg     Config
	world   *world.World
	cameras *camera.Aggregator

	inbox chan delivery
	cmds  chan func()

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	done     chan struct{}

	// loop-owned
	feeds   map[world.ViewID]*feed.Client
	synced  bool
	missing uint64

	snapshot atomic.Pointer[Snapshot]
	sequence uint64

	eventLog *eventlog.Log
	dial     DialFunc
	now      func() time.Time
}

// New creates an engine. Nothing runs until Start is called.
func New(cfg Config) *Engine {
	if cfg.RenderRate <= 0 {
		cfg.RenderRate = 60
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 1024
	}
	e := &Engine{
		cfg:      cfg,
		world:    world.New(cfg.World),
		cameras:  camera.New(cfg.Camera),
		inbox:    make(chan delivery, cfg.InboxSize),
		cmds:     make(chan func()),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
		feeds:    make(map[world.ViewID]*feed.Client),
		synced:   true,
		eventLog: eventlog.New(),
		dial:     feed.Dial,
		now:      time.Now,
	}
	e.snapshot.Store(&Snapshot{})
	return e
}

// SetEventLog replaces the event log; call before Start
func (e *Engine) SetEventLog(l *eventlog.Log) {
	e.eventLog = l
}

// EventLog returns the engine's event log
func (e *Engine) EventLog() *eventlog.Log {
	return e.eventLog
}

// Start begins the loop
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.mu.Unlock()

	go e.loop()
	log.Printf("🎮 Engine started at %d FPS, sync=%s, draw delay %s",
		e.cfg.RenderRate, e.cfg.World.Sync, e.cfg.World.DrawDelay)
}

// Stop closes every feed and stops the loop. It is safe to call twice.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopChan)
	e.mu.Unlock()

	<-e.done
	for id, c := range e.feeds {
		c.Close()
		delete(e.feeds, id)
	}
	log.Println("🛑 Engine stopped")
}

func (e *Engine) loop() {
	defer close(e.done)

	ticker := time.NewTicker(time.Second / time.Duration(e.cfg.RenderRate))
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case d := <-e.inbox:
			e.handle(d)
		case fn := <-e.cmds:
			fn()
		case <-ticker.C:
			e.tick()
		}
	}
}

// exec runs fn on the loop and waits for it. Before Start the caller owns
// the engine and fn runs inline.
func (e *Engine) exec(fn func()) error {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	if !running {
		select {
		case <-e.stopChan:
			return ErrStopped
		default:
		}
		fn()
		return nil
	}

	finished := make(chan struct{})
	select {
	case e.cmds <- func() { fn(); close(finished) }:
	case <-e.stopChan:
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-e.done:
		return ErrStopped
	}
}

// Do runs fn against the world on the loop goroutine
func (e *Engine) Do(fn func(w *world.World)) error {
	return e.exec(func() { fn(e.world) })
}

// Deliver implements feed.Sink. A full inbox blocks the view's reader
// until the loop catches up; a dropped remove would leave a cell alive in
// that view forever. It gives up when cancel closes or the engine stops.
func (e *Engine) Deliver(view world.ViewID, msgs []feed.Message, cancel <-chan struct{}) bool {
	d := delivery{view: view, msgs: msgs}
	select {
	case e.inbox <- d:
		return true
	default:
	}

	metrics.RecordInboxFull()
	select {
	case e.inbox <- d:
		return true
	case <-cancel:
		return false
	case <-e.stopChan:
		return false
	}
}

// FeedClosed implements feed.Sink: a lost connection closes its view
func (e *Engine) FeedClosed(view world.ViewID, err error) {
	go func() {
		if cerr := e.exec(func() { e.closeView(view) }); cerr != nil && !errors.Is(cerr, ErrStopped) {
			log.Printf("⚠️ Closing view %d after feed loss: %v", view, cerr)
		}
	}()
}

// OpenView creates a view and, when url is non-empty, connects its feed.
// A view whose feed cannot be dialed is closed again.
func (e *Engine) OpenView(ctx context.Context, url string) (world.ViewID, error) {
	var id world.ViewID
	err := e.exec(func() {
		now := e.now()
		v := e.world.OpenView(url, now)
		id = v.ID
		e.eventLog.EmitSimple(eventlog.EventTypeViewOpen, now, uint32(id), eventlog.ViewOpenPayload{URL: url})
	})
	if err != nil {
		return 0, err
	}
	if url == "" {
		log.Printf("👁️ View %d opened without feed", id)
		return id, nil
	}

	client, err := e.dial(ctx, url, id, e, e.cfg.Feed)
	if err != nil {
		e.exec(func() { e.closeView(id) })
		return 0, fmt.Errorf("open view: %w", err)
	}
	if err := e.exec(func() { e.feeds[id] = client }); err != nil {
		client.Close()
		return 0, err
	}
	return id, nil
}

// CloseView disconnects and removes a view
func (e *Engine) CloseView(id world.ViewID) error {
	var err error
	if xerr := e.exec(func() { err = e.closeView(id) }); xerr != nil {
		return xerr
	}
	return err
}

func (e *Engine) closeView(id world.ViewID) error {
	if c, ok := e.feeds[id]; ok {
		delete(e.feeds, id)
		go c.Close()
	}
	if err := e.world.CloseView(id); err != nil {
		return err
	}
	e.eventLog.EmitSimple(eventlog.EventTypeViewClose, e.now(), uint32(id), nil)
	log.Printf("👁️ View %d closed", id)
	return nil
}

// handle applies one delivery to the world
func (e *Engine) handle(d delivery) {
	now := e.now()
	if _, ok := e.world.View(d.view); !ok {
		metrics.RecordFeedDropped("unknown_view")
		return
	}
	if payload, err := feed.Encode(d.msgs); err == nil {
		if !e.eventLog.EmitSimple(eventlog.EventTypeMessage, now, uint32(d.view), payload) && e.eventLog.Running() {
			metrics.RecordEventLogDropped()
		}
	}

	for _, m := range d.msgs {
		start := time.Now()
		if err := m.Apply(e.world, d.view, now); err != nil {
			log.Printf("⚠️ View %d: %v", d.view, err)
			continue
		}
		if m.Kind == feed.KindBatch {
			e.afterPass(time.Since(start), now)
		}
	}
}

// afterPass records metrics and logs synchronization transitions
func (e *Engine) afterPass(took time.Duration, now time.Time) {
	st := e.world.Stats()
	metrics.RecordSyncPass(took, st.Synchronized, st.MissingModels-e.missing)
	e.missing = st.MissingModels
	metrics.UpdateWorld(e.world.CellCount(), len(e.world.Views()))

	if st.Mode != world.SyncFlawless || st.Synchronized == e.synced {
		return
	}
	e.synced = st.Synchronized
	if st.Synchronized {
		log.Println("🔗 Views synchronized")
		e.eventLog.EmitSimple(eventlog.EventTypeSyncRestored, now, 0, nil)
	} else {
		log.Println("⚠️ Views disagree, rendering independently")
		metrics.RecordSyncLost()
		e.eventLog.EmitSimple(eventlog.EventTypeSyncLost, now, 0, nil)
	}
}

// tick interpolates every view, updates cameras and publishes a snapshot
func (e *Engine) tick() {
	start := time.Now()
	e.publish(e.render(e.now()))
	metrics.RecordRender(time.Since(start))
}

func (e *Engine) render(now time.Time) *Snapshot {
	views := e.world.Views()
	rendered := make(map[world.ViewID][]world.RenderCell, len(views))
	for _, v := range views {
		cells, err := e.world.RenderState(v.ID, now)
		if err != nil {
			continue
		}
		rendered[v.ID] = cells
	}
	e.cameras.Update(views, rendered, now)

	snap := &Snapshot{
		Timestamp: now,
		Views:     make([]ViewSnapshot, 0, len(views)),
		Sync:      syncSnapshot(e.world.Stats()),
		CellCount: e.world.CellCount(),
	}
	for _, v := range views {
		snap.Views = append(snap.Views, ViewSnapshot{
			ID:    v.ID,
			URL:   v.URL,
			Cells: rendered[v.ID],
			Camera: CameraSnapshot{
				X:      v.Camera.X,
				Y:      v.Camera.Y,
				Scale:  v.Camera.Scale,
				Merged: v.Camera.Merged,
			},
			Border:      v.Border,
			Leaderboard: append([]world.LeaderboardEntry(nil), v.Leaderboard...),
			Owned:       len(v.Owned),
			LastActive:  v.LastActive,
		})
	}
	return snap
}

func (e *Engine) publish(snap *Snapshot) {
	e.sequence++
	snap.Sequence = e.sequence
	e.snapshot.Store(snap)
}

// Snapshot returns the latest published render state
func (e *Engine) Snapshot() *Snapshot {
	return e.snapshot.Load()
}

// RenderNow renders and publishes a snapshot immediately, outside the
// regular tick
func (e *Engine) RenderNow() (*Snapshot, error) {
	var snap *Snapshot
	err := e.exec(func() {
		snap = e.render(e.now())
		e.publish(snap)
	})
	return snap, err
}

// SetSyncMode switches the synchronization mode at runtime
func (e *Engine) SetSyncMode(m world.SyncMode) error {
	return e.exec(func() {
		e.world.SetSyncMode(m)
		e.synced = true
		log.Printf("🔧 Sync mode set to %s", m)
	})
}
