package engine

import (
	"time"

	"cellsync/internal/world"
)

// ViewSnapshot is an immutable copy of one view's render state
type ViewSnapshot struct {
	ID          world.ViewID             `json:"id"`
	URL         string                   `json:"url"`
	Cells       []world.RenderCell       `json:"cells"`
	Camera      CameraSnapshot           `json:"camera"`
	Border      world.Border             `json:"border"`
	Leaderboard []world.LeaderboardEntry `json:"leaderboard"`
	Owned       int                      `json:"owned"`
	LastActive  time.Time                `json:"lastActive"`
}

// CameraSnapshot is the camera as exposed to renderers
type CameraSnapshot struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Scale  float64 `json:"scale"`
	Merged bool    `json:"merged"`
}

// SyncSnapshot is the synchronizer state as exposed to consumers
type SyncSnapshot struct {
	Mode          string               `json:"mode"`
	Synchronized  bool                 `json:"synchronized"`
	Agreed        bool                 `json:"agreed"`
	Indices       map[world.ViewID]int `json:"indices"`
	Passes        uint64               `json:"passes"`
	Disagreements uint64               `json:"disagreements"`
	MissingModels uint64               `json:"missingModels"`
}

// Snapshot is a complete immutable render state. A new one is published on
// every render tick; readers may keep it as long as they like.
type Snapshot struct {
	Sequence  uint64         `json:"sequence"`  // Monotonic sequence for ordering
	Timestamp time.Time      `json:"timestamp"` // Render time it represents
	Views     []ViewSnapshot `json:"views"`
	Sync      SyncSnapshot   `json:"sync"`
	CellCount int            `json:"cellCount"`
}

// View returns the snapshot of one view
func (s *Snapshot) View(id world.ViewID) (*ViewSnapshot, bool) {
	if s == nil {
		return nil, false
	}
	for i := range s.Views {
		if s.Views[i].ID == id {
			return &s.Views[i], true
		}
	}
	return nil, false
}

func syncSnapshot(st world.SyncStats) SyncSnapshot {
	return SyncSnapshot{
		Mode:          st.Mode.String(),
		Synchronized:  st.Synchronized,
		Agreed:        st.Agreed,
		Indices:       st.Indices,
		Passes:        st.Passes,
		Disagreements: st.Disagreements,
		MissingModels: st.MissingModels,
	}
}
