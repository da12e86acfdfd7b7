package world

import "time"

// Collect drops records whose every retained frame is dead and whose latest
// death is older than the draw delay, then deletes cells no view retains.
// It returns the number of cells deleted.
func (w *World) Collect(now time.Time) int {
	removed := 0
	for id, cell := range w.cells {
		for vid, rec := range cell.Views {
			if w.expired(rec, now) {
				delete(cell.Views, vid)
			}
		}
		if len(cell.Views) == 0 {
			delete(w.cells, id)
			removed++
		}
	}
	return removed
}

func (w *World) expired(rec *Record, now time.Time) bool {
	for _, f := range rec.Frames {
		if !f.Dead() {
			return false
		}
	}
	return now.Sub(rec.Frames[0].DeadAt) > w.cfg.DrawDelay
}
