// Package world holds the multi-view cell store and the synchronizer that
// reconciles independently-paced views into one merged, interpolated world.
//
// A World is not safe for concurrent use. All events, passes and renders
// must happen on one goroutine (see package engine).
package world

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrUnknownView is returned when an event names a view that is not open
var ErrUnknownView = errors.New("unknown view")

// SyncMode selects how views are reconciled
type SyncMode uint8

const (
	SyncNone SyncMode = iota
	SyncLatest
	SyncFlawless
)

// String returns the configuration name of the mode
func (m SyncMode) String() string {
	switch m {
	case SyncNone:
		return "none"
	case SyncLatest:
		return "latest"
	case SyncFlawless:
		return "flawless"
	default:
		return "unknown"
	}
}

// ParseSyncMode parses a configuration value
func ParseSyncMode(s string) (SyncMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return SyncNone, nil
	case "latest":
		return SyncLatest, nil
	case "flawless", "":
		return SyncFlawless, nil
	}
	return SyncFlawless, fmt.Errorf("invalid sync mode %q", s)
}

// Config controls interpolation and synchronization
type Config struct {
	DrawDelay    time.Duration
	Sync         SyncMode
	JellyEnabled bool
	JellyRate    float64
	Debounce     time.Duration // how long (dis)agreement must persist before it is trusted
}

// DefaultConfig returns the standard client settings
func DefaultConfig() Config {
	return Config{
		DrawDelay:    120 * time.Millisecond,
		Sync:         SyncFlawless,
		JellyEnabled: true,
		JellyRate:    5,
		Debounce:     time.Second,
	}
}

// World is the process-wide cell store shared by every view.
type World struct {
	cfg    Config
	interp Interpolator

	cells map[uint32]*Cell
	views map[ViewID]*View
	order []ViewID // open views, ascending

	nextView ViewID
	sync     syncState
	stats    SyncStats
}

// New creates an empty world
func New(cfg Config) *World {
	if cfg.Debounce <= 0 {
		cfg.Debounce = time.Second
	}
	return &World{
		cfg: cfg,
		interp: Interpolator{
			DrawDelay:    cfg.DrawDelay,
			JellyEnabled: cfg.JellyEnabled,
			JellyRate:    cfg.JellyRate,
		},
		cells:    make(map[uint32]*Cell),
		views:    make(map[ViewID]*View),
		nextView: 1,
		sync:     syncState{synchronized: true},
	}
}

// Config returns the active configuration
func (w *World) Config() Config {
	return w.cfg
}

// SetSyncMode switches reconciliation mode. History already collected is
// kept; the next pass trims it to what the new mode needs.
func (w *World) SetSyncMode(m SyncMode) {
	w.cfg.Sync = m
	w.sync = syncState{synchronized: true}
}

// Interpolator returns the interpolator configured for this world
func (w *World) Interpolator() Interpolator {
	return w.interp
}

// OpenView registers a new view and returns it
func (w *World) OpenView(url string, now time.Time) *View {
	v := newView(w.nextView, url, now)
	w.nextView++
	w.views[v.ID] = v
	w.order = append(w.order, v.ID)
	sort.Slice(w.order, func(i, j int) bool { return w.order[i] < w.order[j] })
	return v
}

// CloseView removes a view and every record it contributed. Cells no other
// view can see are deleted immediately.
func (w *World) CloseView(id ViewID) error {
	if _, ok := w.views[id]; !ok {
		return fmt.Errorf("close view %d: %w", id, ErrUnknownView)
	}
	delete(w.views, id)
	for i, vid := range w.order {
		if vid == id {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}

	for cid, cell := range w.cells {
		if _, ok := cell.Views[id]; !ok {
			continue
		}
		delete(cell.Views, id)
		if len(cell.Views) == 0 {
			delete(w.cells, cid)
		}
	}
	return nil
}

// View returns an open view
func (w *World) View(id ViewID) (*View, bool) {
	v, ok := w.views[id]
	return v, ok
}

// Views returns open views in id order
func (w *World) Views() []*View {
	out := make([]*View, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, w.views[id])
	}
	return out
}

// Cell returns a cell by id
func (w *World) Cell(id uint32) (*Cell, bool) {
	c, ok := w.cells[id]
	return c, ok
}

// CellCount returns the number of live cells
func (w *World) CellCount() int {
	return len(w.cells)
}

// Merging reports whether renders use the merged state rather than each
// view's own records
func (w *World) Merging() bool {
	switch w.cfg.Sync {
	case SyncLatest:
		return true
	case SyncFlawless:
		return w.sync.synchronized
	default:
		return false
	}
}

func (w *World) view(id ViewID) (*View, error) {
	v, ok := w.views[id]
	if !ok {
		return nil, fmt.Errorf("view %d: %w", id, ErrUnknownView)
	}
	return v, nil
}
