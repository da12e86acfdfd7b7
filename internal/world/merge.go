package world

import "time"

// merge selects a model frame for every cell from the views' frames at the
// resolved indices and advances the merged interpolation state from it.
func (w *World) merge(indices []int, now time.Time) {
	models := 0
	for _, cell := range w.cells {
		model, from, ok := w.pickModel(cell, indices)
		if !ok {
			// no view has a usable frame at its resolved tick; keep the
			// previous model and merged state as they are
			w.stats.MissingModels++
			continue
		}
		cell.Model, cell.ModelView, cell.HasModel = model, from, true
		models++
	}
	w.stats.Models = models

	for _, cell := range w.cells {
		if cell.HasModel {
			w.updateMerged(cell, now)
		}
	}
}

// pickModel prefers any alive frame, then the most recent death. Ties go to
// the lowest view id so repeated passes choose the same record.
func (w *World) pickModel(cell *Cell, indices []int) (Frame, ViewID, bool) {
	var model Frame
	var from ViewID
	found := false
	for i, id := range w.order {
		rec, ok := cell.Views[id]
		if !ok {
			continue
		}
		f, ok := rec.At(indices[i])
		if !ok {
			continue
		}
		if !found || better(f, model) {
			model, from, found = f, id, true
		}
	}
	return model, from, found
}

// better reports whether candidate should replace the current model
func better(candidate, current Frame) bool {
	if !current.Dead() {
		return false
	}
	if !candidate.Dead() {
		return true
	}
	return candidate.DeadAt.After(current.DeadAt)
}

// updateMerged applies the cell's model to its merged state. The merged
// state is only rebased when the target actually changed or the model just
// died; rebasing on every pass would make cells jump whenever views feed
// the same cell at different moments.
func (w *World) updateMerged(cell *Cell, now time.Time) {
	model := cell.Model
	m := cell.Merged
	switch {
	case m == nil:
		cell.Merged = &Merged{Frame: model, Interp: freshInterp(model, now)}
	case m.Frame.Dead() && !model.Dead():
		*m = Merged{Frame: model, Interp: freshInterp(model, now)}
	case !model.SameTarget(m.Frame), model.Dead() && !m.Frame.Dead():
		m.Interp.rebase(w.sampleMerged(cell, now), now)
		m.Frame = model
	case model.Dead() && model.DeadAt.After(m.Frame.DeadAt):
		// a later report of the same death; the fade follows it
		m.Frame = model
	}
}

// sampleRecord interpolates one view's record, chasing the killer as that
// same view sees it
func (w *World) sampleRecord(cell *Cell, view ViewID, rec *Record, now time.Time) Sample {
	f := rec.Frames[0]
	var kf *Frame
	var ks *Interp
	if f.Dead() && f.DeadTo != Disappeared {
		if killer, ok := w.cells[f.DeadTo]; ok {
			if krec, ok := killer.Views[view]; ok {
				kframe := krec.Frames[0]
				kf, ks = &kframe, &krec.Interp
			}
		}
	}
	return w.interp.At(f, rec.Interp, kf, ks, f.Passive(), now)
}

// sampleMerged interpolates the merged state, chasing the killer's merged state
func (w *World) sampleMerged(cell *Cell, now time.Time) Sample {
	m := cell.Merged
	var kf *Frame
	var ks *Interp
	if m.Frame.Dead() && m.Frame.DeadTo != Disappeared {
		if killer, ok := w.cells[m.Frame.DeadTo]; ok && killer.Merged != nil {
			kf, ks = &killer.Merged.Frame, &killer.Merged.Interp
		}
	}
	return w.interp.At(m.Frame, m.Interp, kf, ks, m.Frame.Passive(), now)
}
