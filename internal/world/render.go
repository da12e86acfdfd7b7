package world

import (
	"sort"
	"time"
)

// RenderCell is one cell as it should be drawn for a view
type RenderCell struct {
	ID      uint32      `json:"id"`
	X       float64     `json:"x"`
	Y       float64     `json:"y"`
	R       float64     `json:"r"`
	JR      float64     `json:"jr"`
	Alpha   float64     `json:"alpha"`
	Passive bool        `json:"passive,omitempty"`
	Owned   bool        `json:"owned,omitempty"`
	Dying   bool        `json:"dying,omitempty"`
	Desc    Description `json:"desc"`
}

// RenderState interpolates every cell the view should draw at now. While
// views are merged this is the merged world; otherwise only the view's own
// records. Jelly radii are advanced as a side effect. Cells are ordered
// small to large so larger cells are drawn on top.
func (w *World) RenderState(view ViewID, now time.Time) ([]RenderCell, error) {
	v, err := w.view(view)
	if err != nil {
		return nil, err
	}

	out := make([]RenderCell, 0, len(w.cells))
	merging := w.Merging()
	for _, cell := range w.cells {
		var s Sample
		var f Frame
		var desc Description
		if merging {
			if cell.Merged == nil {
				continue
			}
			s = w.sampleMerged(cell, now)
			cell.Merged.Interp.settle(s, now)
			f = cell.Merged.Frame
			desc = cell.Description()
		} else {
			rec, ok := cell.Views[view]
			if !ok {
				continue
			}
			s = w.sampleRecord(cell, view, rec, now)
			rec.Interp.settle(s, now)
			f = rec.Frames[0]
			desc = rec.Desc
		}
		if s.Alpha <= 0 && f.Dead() {
			continue
		}
		out = append(out, RenderCell{
			ID:      cell.ID,
			X:       s.X,
			Y:       s.Y,
			R:       s.R,
			JR:      s.JR,
			Alpha:   s.Alpha,
			Passive: f.Passive(),
			Owned:   v.Owns(cell.ID),
			Dying:   f.Dead(),
			Desc:    desc,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].R != out[j].R {
			return out[i].R < out[j].R
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Camera returns the view's eased camera
func (w *World) Camera(view ViewID) (CameraState, error) {
	v, err := w.view(view)
	if err != nil {
		return CameraState{}, err
	}
	return v.Camera, nil
}
