package world

import "time"

// ViewID identifies one independent connection. IDs are assigned by the
// world, start at 1 and are never reused within a process.
type ViewID uint32

// Border is the world rectangle a view's server reports
type Border struct {
	Left, Top, Right, Bottom float64
}

// LeaderboardEntry is one row of a view's last leaderboard packet
type LeaderboardEntry struct {
	Name string `json:"name"`
	Rank int    `json:"rank"`
	Me   bool   `json:"me,omitempty"`
}

// CameraState is the eased camera of a view. It is written by the camera
// aggregator on every render tick.
type CameraState struct {
	X, Y, Scale    float64
	TX, TY, TScale float64
	Merged         bool
	Updated        time.Time
}

// Spectate is the server-provided camera position used while a view owns
// no cells
type Spectate struct {
	X, Y, Scale float64
	Valid       bool
}

// View is one connection's local state.
type View struct {
	ID          ViewID
	URL         string
	Border      Border
	Owned       map[uint32]struct{}
	Leaderboard []LeaderboardEntry
	Camera      CameraState
	Spectate    Spectate
	Spawned     time.Time
	LastActive  time.Time
	Opened      time.Time

	batchOpen bool
	batch     uint64
}

func newView(id ViewID, url string, now time.Time) *View {
	return &View{
		ID:         id,
		URL:        url,
		Owned:      make(map[uint32]struct{}),
		Camera:     CameraState{Scale: 1, TScale: 1},
		LastActive: now,
		Opened:     now,
	}
}

// Owns reports whether the view controls the cell
func (v *View) Owns(id uint32) bool {
	_, ok := v.Owned[id]
	return ok
}

// Playing reports whether the view owns any cell
func (v *View) Playing() bool {
	return len(v.Owned) > 0
}
