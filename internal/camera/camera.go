// Package camera derives each view's camera from the cells it owns and
// groups views whose viewports are close enough to share one camera.
package camera

import (
	"fmt"
	"math"
	"strings"
	"time"

	"cellsync/internal/world"
)

// Mode selects how owned cells are weighted when computing the focus point
type Mode uint8

const (
	ModeDefault Mode = iota // every cell counts the same
	ModeNatural             // cells weighted by r^2
)

// String returns the configuration name of the mode
func (m Mode) String() string {
	if m == ModeNatural {
		return "natural"
	}
	return "default"
}

// ParseMode parses a configuration value
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "default", "":
		return ModeDefault, nil
	case "natural":
		return ModeNatural, nil
	}
	return ModeDefault, fmt.Errorf("invalid camera mode %q", s)
}

func (m Mode) exponent() float64 {
	if m == ModeNatural {
		return 2
	}
	return 0
}

// Config controls camera weighting, zoom and easing
type Config struct {
	Mode        Mode
	Smoothness  float64       // easing factor once settled; 1 disables easing
	SmoothRamp  time.Duration // time after spawn to go from instant to Smoothness
	ViewportW   float64
	ViewportH   float64
	ZoomBase    float64 // k in min(k/totalRadius, 1)^0.4
	MergeFactor float64 // allowed viewport gap per unit of combined owned radius
}

// DefaultConfig returns the standard camera settings
func DefaultConfig() Config {
	return Config{
		Mode:        ModeDefault,
		Smoothness:  2,
		SmoothRamp:  time.Second,
		ViewportW:   1920,
		ViewportH:   1080,
		ZoomBase:    64,
		MergeFactor: 4,
	}
}

// focus accumulates the weighted cells of one view or cluster
type focus struct {
	sx, sy, sw float64
	totalR     float64
}

func (f *focus) add(o focus) {
	f.sx += o.sx
	f.sy += o.sy
	f.sw += o.sw
	f.totalR += o.totalR
}

func (f focus) valid() bool {
	return f.sw > 0
}

func (f focus) center() (float64, float64) {
	return f.sx / f.sw, f.sy / f.sw
}

// rect is an axis-aligned viewport
type rect struct {
	minX, minY, maxX, maxY float64
}

// gap returns the distance between two rectangles, 0 when they overlap
func (r rect) gap(o rect) float64 {
	dx := math.Max(0, math.Max(o.minX-r.maxX, r.minX-o.maxX))
	dy := math.Max(0, math.Max(o.minY-r.maxY, r.minY-o.maxY))
	return math.Max(dx, dy)
}

// Aggregator computes per-view camera targets and eases cameras toward them.
type Aggregator struct {
	cfg Config
}

// New creates an aggregator
func New(cfg Config) *Aggregator {
	if cfg.ZoomBase <= 0 {
		cfg.ZoomBase = 64
	}
	return &Aggregator{cfg: cfg}
}

// Config returns the aggregator's settings
func (a *Aggregator) Config() Config {
	return a.cfg
}

// TargetScale returns the zoom for a view owning cells of the given total radius
func (a *Aggregator) TargetScale(totalR float64) float64 {
	if totalR <= 0 {
		return 1
	}
	return math.Pow(math.Min(a.cfg.ZoomBase/totalR, 1), 0.4)
}

// focusOf weights a view's owned, alive cells
func (a *Aggregator) focusOf(cells []world.RenderCell) focus {
	exp := a.cfg.Mode.exponent()
	var f focus
	for _, c := range cells {
		if !c.Owned || c.Dying {
			continue
		}
		w := math.Pow(c.R, exp)
		f.sx += c.X * w
		f.sy += c.Y * w
		f.sw += w
		f.totalR += c.R
	}
	return f
}

func (a *Aggregator) viewport(f focus) rect {
	x, y := f.center()
	s := a.TargetScale(f.totalR)
	hw, hh := a.cfg.ViewportW/2/s, a.cfg.ViewportH/2/s
	return rect{minX: x - hw, minY: y - hh, maxX: x + hw, maxY: y + hh}
}

// Clusters groups views whose viewports lie within a mass-dependent distance
// of each other. Grouping is transitive. Views without owned cells are
// returned as singletons.
func (a *Aggregator) Clusters(views []*world.View, rendered map[world.ViewID][]world.RenderCell) [][]world.ViewID {
	n := len(views)
	foci := make([]focus, n)
	rects := make([]rect, n)
	for i, v := range views {
		foci[i] = a.focusOf(rendered[v.ID])
		if foci[i].valid() {
			rects[i] = a.viewport(foci[i])
		}
	}

	u := newUnionFind(n)
	for i := 0; i < n; i++ {
		if !foci[i].valid() {
			continue
		}
		for j := i + 1; j < n; j++ {
			if !foci[j].valid() {
				continue
			}
			threshold := a.cfg.MergeFactor * (foci[i].totalR + foci[j].totalR)
			if rects[i].gap(rects[j]) <= threshold {
				u.union(i, j)
			}
		}
	}

	groups := make(map[int][]world.ViewID)
	var roots []int
	for i, v := range views {
		r := u.find(i)
		if _, ok := groups[r]; !ok {
			roots = append(roots, r)
		}
		groups[r] = append(groups[r], v.ID)
	}
	out := make([][]world.ViewID, 0, len(roots))
	for _, r := range roots {
		out = append(out, groups[r])
	}
	return out
}

// Update recomputes every view's camera target from the cells rendered for it
// this tick and eases the camera toward the target.
func (a *Aggregator) Update(views []*world.View, rendered map[world.ViewID][]world.RenderCell, now time.Time) {
	byID := make(map[world.ViewID]*world.View, len(views))
	foci := make(map[world.ViewID]focus, len(views))
	for _, v := range views {
		byID[v.ID] = v
		foci[v.ID] = a.focusOf(rendered[v.ID])
	}

	for _, group := range a.Clusters(views, rendered) {
		var combined focus
		for _, id := range group {
			combined.add(foci[id])
		}
		for _, id := range group {
			v := byID[id]
			cam := &v.Camera
			switch {
			case foci[id].valid():
				cam.TX, cam.TY = combined.center()
				cam.TScale = a.TargetScale(combined.totalR)
			case v.Spectate.Valid:
				cam.TX, cam.TY = v.Spectate.X, v.Spectate.Y
				if v.Spectate.Scale > 0 {
					cam.TScale = v.Spectate.Scale
				}
			}
			cam.Merged = len(group) > 1
			a.ease(v, now)
		}
	}
}

// ease moves the camera toward its target. The smoothing factor ramps from
// instant at spawn to the configured value over SmoothRamp.
func (a *Aggregator) ease(v *world.View, now time.Time) {
	cam := &v.Camera
	if cam.Updated.IsZero() {
		cam.X, cam.Y, cam.Scale = cam.TX, cam.TY, cam.TScale
		cam.Updated = now
		return
	}
	dt := now.Sub(cam.Updated)
	factor := a.smoothing(v, now)
	cam.X = world.Approach(cam.X, cam.TX, factor, dt)
	cam.Y = world.Approach(cam.Y, cam.TY, factor, dt)
	cam.Scale = world.Approach(cam.Scale, cam.TScale, factor, dt)
	cam.Updated = now
}

func (a *Aggregator) smoothing(v *world.View, now time.Time) float64 {
	if a.cfg.SmoothRamp <= 0 || v.Spawned.IsZero() {
		return a.cfg.Smoothness
	}
	t := float64(now.Sub(v.Spawned)) / float64(a.cfg.SmoothRamp)
	if t >= 1 {
		return a.cfg.Smoothness
	}
	if t < 0 {
		t = 0
	}
	return 1 + (a.cfg.Smoothness-1)*t
}
