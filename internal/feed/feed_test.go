package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cellsync/internal/world"

	"github.com/gorilla/websocket"
)

var t0 = time.Unix(1700000000, 0)

// TestJSONDecoder verifies single objects, arrays and malformed frames
func TestJSONDecoder(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{"object", `{"kind":"update","id":7,"x":1,"y":2,"r":50}`, 1, false},
		{"array", `[{"kind":"update","id":7},{"kind":"batch"}]`, 2, false},
		{"padded", "  \n[{\"kind\":\"batch\"}]\n", 1, false},
		{"empty", "   ", 0, false},
		{"broken object", `{"kind":`, 0, true},
		{"broken array", `[{"kind":"batch"}`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, err := JSONDecoder{}.Decode([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(msgs) != tt.want {
				t.Errorf("decoded %d messages, want %d", len(msgs), tt.want)
			}
		})
	}
}

// TestEncodeDecode verifies a batch survives the wire format
func TestEncodeDecode(t *testing.T) {
	in := []Message{
		{Kind: KindUpdate, ID: 7, X: 10, Y: -5, R: 50, Flags: world.FlagName, Name: "cell"},
		{Kind: KindBorder, Border: &world.Border{Left: -1, Top: -1, Right: 1, Bottom: 1}},
		{Kind: KindBatch},
	}
	data, err := Encode(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := JSONDecoder{}.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 || out[0].Name != "cell" || out[1].Border == nil || out[1].Border.Right != 1 {
		t.Errorf("round trip = %+v", out)
	}
}

// TestApply verifies each kind reaches the world
func TestApply(t *testing.T) {
	w := world.New(world.DefaultConfig())
	v := w.OpenView("", t0)

	msgs := []Message{
		{Kind: KindUpdate, ID: 7, X: 10, Y: 20, R: 50, Flags: world.FlagColor, Color: "#00ff00"},
		{Kind: KindUpdate, ID: 9, X: 0, Y: 0, R: 80},
		{Kind: KindOwn, ID: 9},
		{Kind: KindBorder, Border: &world.Border{Right: 100, Bottom: 100}},
		{Kind: KindLeaderboard, Leaderboard: []world.LeaderboardEntry{{Name: "a", Rank: 1}}},
		{Kind: KindSpectate, X: 3, Y: 4, Scale: 0.8},
		{Kind: KindConsume, ID: 7, Killer: 9},
		{Kind: KindBatch},
	}
	for _, m := range msgs {
		if err := m.Apply(w, v.ID, t0); err != nil {
			t.Fatalf("apply %s: %v", m.Kind, err)
		}
	}

	cell, ok := w.Cell(7)
	if !ok {
		t.Fatal("cell 7 missing")
	}
	rec := cell.Views[v.ID]
	if rec.Desc.Color != "#00ff00" || rec.Frames[0].DeadTo != 9 {
		t.Errorf("record = %+v", rec)
	}
	if !v.Owns(9) || v.Border.Right != 100 || len(v.Leaderboard) != 1 || !v.Spectate.Valid {
		t.Errorf("view state = %+v", v)
	}
	if w.Stats().Passes != 1 {
		t.Errorf("batch should run one pass, got %d", w.Stats().Passes)
	}

	if err := (Message{Kind: KindClearOwned}).Apply(w, v.ID, t0); err != nil || v.Playing() {
		t.Errorf("clear owned: err=%v playing=%v", err, v.Playing())
	}
	if err := (Message{Kind: KindRemove, ID: 9}).Apply(w, v.ID, t0); err != nil {
		t.Fatal(err)
	}
	if c, _ := w.Cell(9); !c.Views[v.ID].Current().Dead() {
		t.Error("remove should mark the cell dead")
	}
}

// TestApplyErrors verifies malformed and misaddressed messages
func TestApplyErrors(t *testing.T) {
	w := world.New(world.DefaultConfig())
	v := w.OpenView("", t0)

	if err := (Message{Kind: "teleport"}).Apply(w, v.ID, t0); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
	if err := (Message{Kind: KindBorder}).Apply(w, v.ID, t0); err == nil {
		t.Error("expected an error for a border message without border")
	}
	if err := (Message{Kind: KindBatch}).Apply(w, 99, t0); !errors.Is(err, world.ErrUnknownView) {
		t.Errorf("expected ErrUnknownView, got %v", err)
	}
}

type delivery struct {
	view world.ViewID
	msgs []Message
}

type fakeSink struct {
	delivered chan delivery
	closed    chan error
	accept    bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		delivered: make(chan delivery, 16),
		closed:    make(chan error, 1),
		accept:    true,
	}
}

func (s *fakeSink) Deliver(view world.ViewID, msgs []Message, cancel <-chan struct{}) bool {
	if !s.accept {
		<-cancel
		return false
	}
	s.delivered <- delivery{view, msgs}
	return true
}

func (s *fakeSink) FeedClosed(view world.ViewID, err error) {
	s.closed <- err
}

// feedServer upgrades every request and hands the connection to serve
func feedServer(t *testing.T, serve func(*websocket.Conn)) (*httptest.Server, string) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		serve(conn)
	}))
	t.Cleanup(srv.Close)
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

// TestDialDelivers verifies frames reach the sink and a remote close is
// reported
func TestDialDelivers(t *testing.T) {
	_, url := feedServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`[{"kind":"update","id":7,"r":50},{"kind":"batch"}]`))
		conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"kind":"remove","id":7}`))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
	})

	sink := newFakeSink()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, url, 3, sink, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if c.URL() != url {
		t.Errorf("URL = %q", c.URL())
	}

	timeout := time.After(5 * time.Second)
	var got []delivery
	for len(got) < 2 {
		select {
		case d := <-sink.delivered:
			got = append(got, d)
		case <-timeout:
			t.Fatalf("received %d deliveries before timeout", len(got))
		}
	}
	if got[0].view != 3 || len(got[0].msgs) != 2 || got[0].msgs[1].Kind != KindBatch {
		t.Errorf("first delivery = %+v", got[0])
	}
	if len(got[1].msgs) != 1 || got[1].msgs[0].Kind != KindRemove {
		t.Errorf("undecodable frames should be skipped, got %+v", got[1])
	}

	select {
	case err := <-sink.closed:
		if err == nil {
			t.Error("expected a close error")
		}
	case <-timeout:
		t.Fatal("remote close was not reported")
	}
}

// TestCloseIsSilent verifies a local close does not notify the sink
func TestCloseIsSilent(t *testing.T) {
	_, url := feedServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	sink := newFakeSink()
	c, err := Dial(context.Background(), url, 1, sink, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
	c.Close()

	select {
	case err := <-sink.closed:
		t.Errorf("local close should not be reported, got %v", err)
	default:
	}
}

// TestCloseUnblocksDelivery verifies Close returns while the sink is
// holding the reader back
func TestCloseUnblocksDelivery(t *testing.T) {
	_, url := feedServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"kind":"batch"}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	sink := newFakeSink()
	sink.accept = false
	c, err := Dial(context.Background(), url, 1, sink, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	// give the reader time to block in Deliver
	time.Sleep(50 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		c.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close blocked behind a stalled delivery")
	}
	select {
	case err := <-sink.closed:
		t.Errorf("local close should not be reported, got %v", err)
	default:
	}
}

// TestDialFailure verifies an unreachable feed returns an error
func TestDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), 1, newFakeSink(), DefaultOptions())
	if err == nil {
		t.Fatal("expected a handshake error")
	}
}
