package engine

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cellsync/internal/eventlog"
	"cellsync/internal/feed"
	"cellsync/internal/world"

	"github.com/gorilla/websocket"
)

var t0 = time.Unix(1700000000, 0)

// testEngine returns an engine with a manual clock
func testEngine(cfg Config) (*Engine, *time.Time) {
	e := New(cfg)
	clock := t0
	e.now = func() time.Time { return clock }
	return e, &clock
}

type nopCloser struct{ bytes.Buffer }

func (nopCloser) Close() error { return nil }

func update(id uint32, x, y, r float64) feed.Message {
	return feed.Message{Kind: feed.KindUpdate, ID: id, X: x, Y: y, R: r}
}

var batch = feed.Message{Kind: feed.KindBatch}

// TestInlineBeforeStart verifies calls run on the caller before Start
func TestInlineBeforeStart(t *testing.T) {
	e, clock := testEngine(DefaultConfig())

	id, err := e.OpenView(context.Background(), "")
	if err != nil || id != 1 {
		t.Fatalf("OpenView = %d, %v", id, err)
	}

	e.handle(delivery{view: id, msgs: []feed.Message{update(7, 100, 50, 60), batch}})
	*clock = clock.Add(time.Second)

	snap, err := e.RenderNow()
	if err != nil {
		t.Fatal(err)
	}
	if snap.Sequence != 1 || snap.CellCount != 1 || e.Snapshot() != snap {
		t.Fatalf("snapshot = %+v", snap)
	}
	v, ok := snap.View(id)
	if !ok || len(v.Cells) != 1 {
		t.Fatalf("view snapshot = %+v", v)
	}
	if c := v.Cells[0]; c.X != 100 || c.Y != 50 || c.Alpha != 1 {
		t.Errorf("cell = %+v", c)
	}
	if snap.Sync.Passes != 1 || snap.Sync.Mode != "flawless" {
		t.Errorf("sync = %+v", snap.Sync)
	}
}

// TestDeliverBackpressure verifies a full inbox holds the reader back
// instead of dropping its batch, so a removal is never lost
func TestDeliverBackpressure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InboxSize = 1
	e, _ := testEngine(cfg)
	id, _ := e.OpenView(context.Background(), "")

	if !e.Deliver(id, []feed.Message{update(7, 0, 0, 50), batch}, nil) {
		t.Fatal("first delivery should fit")
	}
	remove := []feed.Message{{Kind: feed.KindRemove, ID: 7}, batch}
	delivered := make(chan bool, 1)
	go func() { delivered <- e.Deliver(id, remove, nil) }()

	select {
	case <-delivered:
		t.Fatal("delivery into a full inbox should wait")
	case <-time.After(50 * time.Millisecond):
	}

	e.handle(<-e.inbox)
	if ok := <-delivered; !ok {
		t.Fatal("waiting delivery should be accepted once there is room")
	}
	e.handle(<-e.inbox)

	cell, ok := e.world.Cell(7)
	if !ok {
		t.Fatal("cell 7 missing")
	}
	if rec := cell.Views[id]; rec == nil || !rec.Current().Dead() {
		t.Errorf("removal should have reached the world, got %+v", rec)
	}
}

// TestDeliverCancel verifies a blocked delivery gives up when its feed
// closes or the engine stops
func TestDeliverCancel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InboxSize = 1
	e := New(cfg)
	e.Deliver(1, []feed.Message{batch}, nil)

	cancel := make(chan struct{})
	close(cancel)
	if e.Deliver(1, []feed.Message{batch}, cancel) {
		t.Error("cancelled delivery should be refused")
	}

	e.Start()
	e.Stop()
	done := make(chan struct{})
	go func() {
		for e.Deliver(1, []feed.Message{batch}, nil) {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("delivery blocked after Stop")
	}
}

// TestHandleUnknownView verifies deliveries for closed views are ignored
func TestHandleUnknownView(t *testing.T) {
	e, _ := testEngine(DefaultConfig())
	e.handle(delivery{view: 9, msgs: []feed.Message{update(1, 0, 0, 50)}})
	if e.world.CellCount() != 0 {
		t.Error("unknown view must not create cells")
	}
}

// TestSyncTransitionsLogged verifies losing synchronization is logged as an
// event
func TestSyncTransitionsLogged(t *testing.T) {
	cfg := DefaultConfig()
	cfg.World.Debounce = 10 * time.Millisecond
	e, clock := testEngine(cfg)

	out := &nopCloser{}
	el := eventlog.New()
	el.StartWriter(out)
	e.SetEventLog(el)

	a, _ := e.OpenView(context.Background(), "")
	b, _ := e.OpenView(context.Background(), "")
	e.handle(delivery{view: a, msgs: []feed.Message{update(7, 10, 0, 50), batch}})
	e.handle(delivery{view: b, msgs: []feed.Message{update(7, 20, 0, 50), batch}})
	if !e.synced {
		t.Fatal("a single disagreement must not drop synchronization")
	}

	*clock = clock.Add(20 * time.Millisecond)
	e.handle(delivery{view: b, msgs: []feed.Message{update(7, 20, 0, 50), batch}})
	if e.synced {
		t.Fatal("synchronization should be lost after the debounce")
	}

	el.Stop()
	events, err := eventlog.Read(&out.Buffer)
	if err != nil {
		t.Fatal(err)
	}
	counts := make(map[eventlog.EventType]int)
	for _, ev := range events {
		counts[ev.Type]++
	}
	if counts[eventlog.EventTypeViewOpen] != 2 || counts[eventlog.EventTypeMessage] != 3 || counts[eventlog.EventTypeSyncLost] != 1 {
		t.Errorf("event counts = %v", counts)
	}
}

// TestSetSyncMode verifies the mode switch reaches the world
func TestSetSyncMode(t *testing.T) {
	e, _ := testEngine(DefaultConfig())
	if err := e.SetSyncMode(world.SyncLatest); err != nil {
		t.Fatal(err)
	}
	snap, _ := e.RenderNow()
	if e.world.Config().Sync != world.SyncLatest {
		t.Errorf("mode = %v", e.world.Config().Sync)
	}
	if snap.Sync.Synchronized {
		t.Error("no pass has run yet")
	}
}

// TestCloseView verifies views are removed and unknown ids are reported
func TestCloseView(t *testing.T) {
	e, _ := testEngine(DefaultConfig())
	id, _ := e.OpenView(context.Background(), "")
	if err := e.CloseView(id); err != nil {
		t.Fatal(err)
	}
	if err := e.CloseView(id); !errors.Is(err, world.ErrUnknownView) {
		t.Errorf("expected ErrUnknownView, got %v", err)
	}
}

// TestOpenViewDialFailure verifies a view whose feed fails is closed again
func TestOpenViewDialFailure(t *testing.T) {
	e, _ := testEngine(DefaultConfig())
	e.dial = func(ctx context.Context, url string, view world.ViewID, sink feed.Sink, opts feed.Options) (*feed.Client, error) {
		return nil, errors.New("connection refused")
	}

	if _, err := e.OpenView(context.Background(), "ws://nowhere"); err == nil {
		t.Fatal("expected a dial error")
	}
	e.Do(func(w *world.World) {
		if len(w.Views()) != 0 {
			t.Errorf("failed view should be closed, %d open", len(w.Views()))
		}
	})
}

// TestStoppedEngine verifies calls fail after Stop
func TestStoppedEngine(t *testing.T) {
	e := New(DefaultConfig())
	e.Start()
	e.Start()
	e.Stop()
	e.Stop()

	if _, err := e.OpenView(context.Background(), ""); !errors.Is(err, ErrStopped) {
		t.Errorf("OpenView after stop: %v", err)
	}
	if err := e.Do(func(*world.World) {}); !errors.Is(err, ErrStopped) {
		t.Errorf("Do after stop: %v", err)
	}
}

// TestLiveFeed runs a websocket feed through a started engine and waits for
// its cells to appear in a published snapshot
func TestLiveFeed(t *testing.T) {
	msgs := []feed.Message{update(7, 10, 20, 60), batch}
	data, err := feed.Encode(msgs)
	if err != nil {
		t.Fatal(err)
	}

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, data)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.World.DrawDelay = 0
	e := New(cfg)
	e.Start()
	defer e.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	id, err := e.OpenView(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"))
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if v, ok := e.Snapshot().View(id); ok && len(v.Cells) == 1 {
			if c := v.Cells[0]; c.ID != 7 || c.X != 10 || c.Y != 20 {
				t.Errorf("cell = %+v", c)
			}
			if err := e.CloseView(id); err != nil {
				t.Errorf("close: %v", err)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("feed cells never appeared in a snapshot")
}
