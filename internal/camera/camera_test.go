package camera

import (
	"math"
	"testing"
	"time"

	"cellsync/internal/world"
)

var t0 = time.Unix(1700000000, 0)

func view(id world.ViewID) *world.View {
	return &world.View{ID: id, Owned: make(map[uint32]struct{}), Camera: world.CameraState{Scale: 1, TScale: 1}}
}

func owned(id uint32, x, y, r float64) world.RenderCell {
	return world.RenderCell{ID: id, X: x, Y: y, R: r, Owned: true, Alpha: 1}
}

// TestTargetScale verifies the zoom curve
func TestTargetScale(t *testing.T) {
	a := New(DefaultConfig())

	tests := []struct {
		totalR float64
		want   float64
	}{
		{0, 1},
		{32, 1},
		{64, 1},
		{128, math.Pow(0.5, 0.4)},
		{640, math.Pow(0.1, 0.4)},
	}
	for _, tt := range tests {
		if got := a.TargetScale(tt.totalR); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("TargetScale(%v) = %v, want %v", tt.totalR, got, tt.want)
		}
	}
}

// TestFocusWeighting verifies the default and natural weightings and that
// dying or foreign cells are ignored
func TestFocusWeighting(t *testing.T) {
	cells := []world.RenderCell{
		owned(1, 0, 0, 10),
		owned(2, 100, 0, 30),
		{ID: 3, X: 1000, R: 500},
		{ID: 4, X: -1000, R: 500, Owned: true, Dying: true},
	}

	tests := []struct {
		mode  Mode
		wantX float64
	}{
		{ModeDefault, 50},
		{ModeNatural, 90},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Mode = tt.mode
			f := New(cfg).focusOf(cells)
			x, _ := f.center()
			if math.Abs(x-tt.wantX) > 1e-9 {
				t.Errorf("center x = %v, want %v", x, tt.wantX)
			}
			if f.totalR != 40 {
				t.Errorf("total radius = %v, want 40", f.totalR)
			}
		})
	}
}

// TestClustersTransitive verifies views chain into one cluster through a
// middle view even when the ends are far apart
func TestClustersTransitive(t *testing.T) {
	a := New(DefaultConfig())
	views := []*world.View{view(1), view(2), view(3), view(4), view(5)}
	rendered := map[world.ViewID][]world.RenderCell{
		1: {owned(10, 0, 0, 50)},
		2: {owned(20, 2200, 0, 50)},
		3: {owned(30, 4400, 0, 50)},
		4: {owned(40, 10000, 0, 50)},
		// view 5 owns nothing
	}

	groups := a.Clusters(views, rendered)
	if len(groups) != 3 {
		t.Fatalf("expected 3 clusters, got %v", groups)
	}
	if g := groups[0]; len(g) != 3 || g[0] != 1 || g[1] != 2 || g[2] != 3 {
		t.Errorf("first cluster = %v, want [1 2 3]", g)
	}
	if len(groups[1]) != 1 || groups[1][0] != 4 {
		t.Errorf("distant view should be alone, got %v", groups[1])
	}
	if len(groups[2]) != 1 || groups[2][0] != 5 {
		t.Errorf("idle view should be alone, got %v", groups[2])
	}
}

// TestUpdateMergedCamera verifies clustered views share the combined focus
// and the first update snaps to the target
func TestUpdateMergedCamera(t *testing.T) {
	a := New(DefaultConfig())
	v1, v2 := view(1), view(2)
	rendered := map[world.ViewID][]world.RenderCell{
		1: {owned(10, 0, 0, 50)},
		2: {owned(20, 2200, 0, 50)},
	}

	a.Update([]*world.View{v1, v2}, rendered, t0)

	want := a.TargetScale(100)
	for _, v := range []*world.View{v1, v2} {
		c := v.Camera
		if !c.Merged || c.X != 1100 || c.Y != 0 || c.Scale != want {
			t.Errorf("view %d camera = %+v, want merged at 1100 scale %v", v.ID, c, want)
		}
	}
}

// TestUpdateSpectate verifies an idle view follows the server's spectate
// position
func TestUpdateSpectate(t *testing.T) {
	a := New(DefaultConfig())
	v := view(1)
	v.Spectate = world.Spectate{X: 5, Y: 6, Scale: 0.5, Valid: true}

	a.Update([]*world.View{v}, nil, t0)
	if c := v.Camera; c.X != 5 || c.Y != 6 || c.Scale != 0.5 || c.Merged {
		t.Errorf("camera = %+v", c)
	}
}

// TestEasing verifies the camera closes the gap at the configured rate
func TestEasing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Smoothness = 2
	a := New(cfg)
	v := view(1)

	a.Update([]*world.View{v}, map[world.ViewID][]world.RenderCell{1: {owned(1, 0, 0, 50)}}, t0)
	a.Update([]*world.View{v}, map[world.ViewID][]world.RenderCell{1: {owned(1, 100, 0, 50)}}, t0.Add(time.Second/60))

	if math.Abs(v.Camera.X-50) > 1e-4 {
		t.Errorf("camera x after one frame = %v, want 50", v.Camera.X)
	}
	if v.Camera.TX != 100 {
		t.Errorf("target x = %v, want 100", v.Camera.TX)
	}
}

// TestSmoothingRamp verifies easing ramps from instant after a spawn
func TestSmoothingRamp(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Smoothness = 3
	a := New(cfg)
	v := view(1)

	if got := a.smoothing(v, t0); got != 3 {
		t.Errorf("without a spawn = %v, want 3", got)
	}

	v.Spawned = t0
	tests := []struct {
		after time.Duration
		want  float64
	}{
		{0, 1},
		{500 * time.Millisecond, 2},
		{2 * time.Second, 3},
	}
	for _, tt := range tests {
		if got := a.smoothing(v, t0.Add(tt.after)); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("smoothing %v after spawn = %v, want %v", tt.after, got, tt.want)
		}
	}
}

// TestParseMode verifies configuration parsing
func TestParseMode(t *testing.T) {
	if m, err := ParseMode("Natural"); err != nil || m != ModeNatural {
		t.Errorf("ParseMode(Natural) = %v, %v", m, err)
	}
	if m, err := ParseMode(""); err != nil || m != ModeDefault {
		t.Errorf("ParseMode(\"\") = %v, %v", m, err)
	}
	if _, err := ParseMode("orbit"); err == nil {
		t.Error("expected an error for an unknown mode")
	}
}

// TestUnionFind verifies transitive grouping
func TestUnionFind(t *testing.T) {
	u := newUnionFind(5)
	u.union(0, 1)
	u.union(3, 4)
	u.union(1, 4)
	for _, i := range []int{1, 3, 4} {
		if u.find(i) != u.find(0) {
			t.Errorf("%d should share a root with 0", i)
		}
	}
	if u.find(2) == u.find(0) {
		t.Error("2 was never joined")
	}
}
