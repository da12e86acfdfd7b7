package world

import "time"

const (
	// HistoryLength is the number of ticks a record keeps per view
	HistoryLength = 12

	// PassiveRadius is the largest radius a frame can have and still be
	// drawn as a pellet
	PassiveRadius = 40.0

	// Disappeared marks a frame that died without a killer
	Disappeared uint32 = 0
)

// Frame is one network-reported state of a cell as seen by one view.
// Frames are values: once stored they are only superseded, never edited.
type Frame struct {
	NX, NY, NR float64
	Born       time.Time
	DeadAt     time.Time // zero while alive
	DeadTo     uint32    // killer id, or Disappeared
}

// Dead reports whether the frame has been marked dead
func (f Frame) Dead() bool {
	return !f.DeadAt.IsZero()
}

// Passive reports whether the frame is small enough to be a pellet. Pellets
// are drawn at their target without interpolation or jelly.
func (f Frame) Passive() bool {
	return f.NR <= PassiveRadius
}

// SameTarget reports whether two frames point at the same position and radius
func (f Frame) SameTarget(o Frame) bool {
	return f.NX == o.NX && f.NY == o.NY && f.NR == o.NR
}

// Interp is the interpolation state carried between updates.
type Interp struct {
	OX, OY, OR float64   // origin
	JR         float64   // jelly radius
	A          float64   // alpha at the last rebase
	Updated    time.Time // when the origin was last rebased
	JT         time.Time // last jelly step
}

// Description holds the sparse, rarely-resent identity fields of a cell.
type Description struct {
	Name    string `json:"name,omitempty"`
	Skin    string `json:"skin,omitempty"`
	Color   string `json:"color,omitempty"`
	Clan    string `json:"clan,omitempty"`
	Spiked  bool   `json:"spiked,omitempty"`
	Ejected bool   `json:"ejected,omitempty"`
}

// Record is one view's knowledge about one cell.
type Record struct {
	Frames []Frame // newest first
	Desc   Description
	Interp Interp
}

// Current returns the newest frame
func (r *Record) Current() Frame {
	return r.Frames[0]
}

// At returns the frame at history index i, if the record reaches that far back
func (r *Record) At(i int) (Frame, bool) {
	if i < 0 || i >= len(r.Frames) {
		return Frame{}, false
	}
	return r.Frames[i], true
}

// Merged is the cross-view interpolation state of a cell. It is mutated in
// place by the synchronizer and only rebased when its target changes.
type Merged struct {
	Frame  Frame
	Interp Interp
}

// Cell is an entity seen by at least one view.
type Cell struct {
	ID    uint32
	Views map[ViewID]*Record

	// Model is the frame chosen as canonical by the last pass, and ModelView
	// the view whose record it came from.
	Model     Frame
	ModelView ViewID
	HasModel  bool

	Merged *Merged
}

func newCell(id uint32) *Cell {
	return &Cell{
		ID:    id,
		Views: make(map[ViewID]*Record),
	}
}

// Description returns the description the merged render should use: the
// model record's if it still exists, otherwise any record's.
func (c *Cell) Description() Description {
	if rec, ok := c.Views[c.ModelView]; ok && c.HasModel {
		return rec.Desc
	}
	var best ViewID
	var desc Description
	found := false
	for v, rec := range c.Views {
		if !found || v < best {
			best, desc, found = v, rec.Desc, true
		}
	}
	return desc
}
