package world

import "time"

// Update flag bits as sent by the server
const (
	FlagSpiked  uint8 = 0x01
	FlagColor   uint8 = 0x02
	FlagSkin    uint8 = 0x04
	FlagName    uint8 = 0x08
	FlagSpiked2 uint8 = 0x10
	FlagEjected uint8 = 0x20
)

// Update is one decoded entity update. Color, Skin, Name and Clan are only
// meaningful when the matching flag bit is set.
type Update struct {
	ID      uint32
	X, Y, R float64
	Flags   uint8
	Color   string
	Skin    string
	Name    string
	Clan    string
}

// openBatch starts a batch for the view. In flawless mode every record of the
// view gets its newest frame duplicated to the front, opening a history slot
// that this batch's updates overwrite.
func (w *World) openBatch(v *View) {
	if v.batchOpen {
		return
	}
	v.batchOpen = true
	v.batch++
	if w.cfg.Sync != SyncFlawless {
		return
	}
	for _, cell := range w.cells {
		rec, ok := cell.Views[v.ID]
		if !ok {
			continue
		}
		rec.shift()
	}
}

func (r *Record) shift() {
	if len(r.Frames) < HistoryLength {
		r.Frames = append(r.Frames, Frame{})
	}
	copy(r.Frames[1:], r.Frames[:len(r.Frames)-1])
}

// Append stores a new alive frame for the cell as seen by the view, creating
// the cell and record when needed. The record's interpolation origin is
// rebased when the target moved.
func (w *World) Append(view ViewID, u Update, now time.Time) error {
	v, err := w.view(view)
	if err != nil {
		return err
	}
	w.openBatch(v)
	v.LastActive = now

	cell, ok := w.cells[u.ID]
	if !ok {
		cell = newCell(u.ID)
		w.cells[u.ID] = cell
	}

	next := Frame{NX: u.X, NY: u.Y, NR: u.R, Born: now}
	rec, ok := cell.Views[view]
	switch {
	case !ok:
		rec = &Record{
			Frames: []Frame{next},
			Interp: freshInterp(next, now),
		}
		cell.Views[view] = rec
	case rec.Frames[0].Dead():
		// reborn: a new life starts from scratch
		rec.Frames[0] = next
		rec.Interp = freshInterp(next, now)
	default:
		prev := rec.Frames[0]
		next.Born = prev.Born
		if !prev.SameTarget(next) {
			rec.Interp.rebase(w.sampleRecord(cell, view, rec, now), now)
		}
		rec.Frames[0] = next
	}

	applyDescription(&rec.Desc, u)
	return nil
}

func applyDescription(d *Description, u Update) {
	d.Spiked = u.Flags&(FlagSpiked|FlagSpiked2) != 0
	d.Ejected = u.Flags&FlagEjected != 0
	if u.Flags&FlagColor != 0 {
		d.Color = u.Color
	}
	if u.Flags&FlagSkin != 0 {
		d.Skin = u.Skin
	}
	if u.Flags&FlagName != 0 {
		d.Name = u.Name
		d.Clan = u.Clan
	}
}

// MarkDead marks the view's current frame of the cell as dead. The first
// death wins; later death reports for the same frame are ignored. The
// interpolation origin is left alone.
func (w *World) MarkDead(view ViewID, id uint32, killer uint32, now time.Time) error {
	v, err := w.view(view)
	if err != nil {
		return err
	}
	w.openBatch(v)
	v.LastActive = now

	cell, ok := w.cells[id]
	if !ok {
		return nil
	}
	rec, ok := cell.Views[view]
	if !ok || rec.Frames[0].Dead() {
		return nil
	}
	f := rec.Frames[0]
	f.DeadAt = now
	f.DeadTo = killer
	rec.Frames[0] = f
	return nil
}

// EntityUpdated handles an update for one cell
func (w *World) EntityUpdated(view ViewID, u Update, now time.Time) error {
	return w.Append(view, u, now)
}

// EntityConsumed handles a cell being eaten by killer
func (w *World) EntityConsumed(view ViewID, id, killer uint32, now time.Time) error {
	w.rebaseBeforeDeath(view, id, now)
	if killer == id {
		killer = Disappeared
	}
	return w.MarkDead(view, id, killer, now)
}

// EntityRemoved handles a cell leaving the view without a killer
func (w *World) EntityRemoved(view ViewID, id uint32, now time.Time) error {
	w.rebaseBeforeDeath(view, id, now)
	return w.MarkDead(view, id, Disappeared, now)
}

// rebaseBeforeDeath freezes the record's origin at its current rendered
// position so the death animation starts where the cell is drawn
func (w *World) rebaseBeforeDeath(view ViewID, id uint32, now time.Time) {
	cell, ok := w.cells[id]
	if !ok {
		return
	}
	rec, ok := cell.Views[view]
	if !ok || rec.Frames[0].Dead() {
		return
	}
	rec.Interp.rebase(w.sampleRecord(cell, view, rec, now), now)
}

// OwnershipGranted marks a cell as controlled by the view
func (w *World) OwnershipGranted(view ViewID, id uint32, now time.Time) error {
	v, err := w.view(view)
	if err != nil {
		return err
	}
	if !v.Playing() {
		v.Spawned = now
	}
	v.Owned[id] = struct{}{}
	v.LastActive = now
	return nil
}

// AllOwnedCleared forgets every cell the view controlled
func (w *World) AllOwnedCleared(view ViewID) error {
	v, err := w.view(view)
	if err != nil {
		return err
	}
	v.Owned = make(map[uint32]struct{})
	return nil
}

// BorderUpdated stores the view's world border
func (w *World) BorderUpdated(view ViewID, b Border) error {
	v, err := w.view(view)
	if err != nil {
		return err
	}
	v.Border = b
	return nil
}

// LeaderboardUpdated replaces the view's leaderboard snapshot
func (w *World) LeaderboardUpdated(view ViewID, entries []LeaderboardEntry) error {
	v, err := w.view(view)
	if err != nil {
		return err
	}
	v.Leaderboard = append(v.Leaderboard[:0:0], entries...)
	return nil
}

// SpectatePosition stores the camera position the server suggests while the
// view is not playing
func (w *World) SpectatePosition(view ViewID, x, y, scale float64) error {
	v, err := w.view(view)
	if err != nil {
		return err
	}
	v.Spectate = Spectate{X: x, Y: y, Scale: scale, Valid: true}
	return nil
}

// BatchComplete closes the view's batch and runs one synchronization pass
// followed by garbage collection.
func (w *World) BatchComplete(view ViewID, now time.Time) (SyncStats, error) {
	v, err := w.view(view)
	if err != nil {
		return w.stats, err
	}
	w.openBatch(v)
	v.batchOpen = false
	v.LastActive = now

	stats := w.Synchronize(now)
	w.Collect(now)
	return stats, nil
}
