package world

import "time"

// compatibility of two frames at one pair of history indices
const (
	compatUnknown uint8 = iota
	compatYes
	compatNo
)

// SyncStats describes the outcome of the last synchronization pass
type SyncStats struct {
	Mode          SyncMode
	Synchronized  bool
	Agreed        bool // whether the last flawless search found an alignment
	Indices       map[ViewID]int
	DisagreeSince time.Time
	AgreeSince    time.Time
	Passes        uint64
	Disagreements uint64 // transitions from synchronized to lost
	MissingModels uint64 // cells left untouched because no record had a usable frame
	Models        int
}

type syncState struct {
	synchronized  bool
	disagreeSince time.Time
	agreeSince    time.Time
}

// compatGraph stores, for every unordered pair of views, which history
// index combinations agree. Only the a < b half is stored; get mirrors it.
type compatGraph struct {
	n     int
	pairs [][HistoryLength * HistoryLength]uint8
}

func newCompatGraph(n int) *compatGraph {
	return &compatGraph{
		n:     n,
		pairs: make([][HistoryLength * HistoryLength]uint8, n*(n-1)/2),
	}
}

// pair returns the storage slot for views a < b
func (g *compatGraph) pair(a, b int) *[HistoryLength * HistoryLength]uint8 {
	// row-major upper triangle without the diagonal
	return &g.pairs[a*(2*g.n-a-1)/2+(b-a-1)]
}

func (g *compatGraph) get(a, ia, b, ib int) uint8 {
	if a > b {
		a, ia, b, ib = b, ib, a, ia
	}
	return g.pair(a, b)[ia*HistoryLength+ib]
}

func (g *compatGraph) mark(a, ia, b, ib int, ok bool) {
	if a > b {
		a, ia, b, ib = b, ib, a, ia
	}
	slot := &g.pair(a, b)[ia*HistoryLength+ib]
	switch {
	case !ok:
		*slot = compatNo
	case *slot == compatUnknown:
		*slot = compatYes
	}
}

// compatible reports whether two views may be looking at the same tick.
// Death is never a conflict since each view learns of it at its own time.
func compatible(a, b Frame) bool {
	if a.Dead() || b.Dead() {
		return true
	}
	return a.SameTarget(b)
}

// Synchronize runs one reconciliation pass over all views.
func (w *World) Synchronize(now time.Time) SyncStats {
	n := len(w.order)
	indices := make([]int, n)

	switch w.cfg.Sync {
	case SyncLatest:
		w.merge(indices, now)
		w.trim(indices)
	case SyncFlawless:
		resolved, ok := w.resolve()
		w.debounce(ok, now)
		if ok {
			indices = resolved
		}
		w.merge(indices, now)
		// without an alignment the whole window stays available, so a
		// lagging view can still be matched once enough history builds up
		if ok {
			w.trim(indices)
		}
	default:
		w.trim(indices)
	}

	w.stats.Mode = w.cfg.Sync
	w.stats.Synchronized = w.Merging()
	w.stats.DisagreeSince = w.sync.disagreeSince
	w.stats.AgreeSince = w.sync.agreeSince
	w.stats.Passes++
	w.stats.Indices = make(map[ViewID]int, n)
	for i, id := range w.order {
		w.stats.Indices[id] = indices[i]
	}
	return w.Stats()
}

// Stats returns a copy of the last pass's statistics
func (w *World) Stats() SyncStats {
	s := w.stats
	s.Indices = make(map[ViewID]int, len(w.stats.Indices))
	for k, v := range w.stats.Indices {
		s.Indices[k] = v
	}
	return s
}

// buildGraph compares every pair of views on every cell both can see and
// returns the graph together with each view's history depth
func (w *World) buildGraph() (*compatGraph, []int) {
	n := len(w.order)
	g := newCompatGraph(n)
	depth := make([]int, n)
	for i := range depth {
		depth[i] = 1
	}
	recs := make([]*Record, n)

	for _, cell := range w.cells {
		for i, id := range w.order {
			recs[i] = cell.Views[id]
			if recs[i] != nil && len(recs[i].Frames) > depth[i] {
				depth[i] = len(recs[i].Frames)
			}
		}
		if len(cell.Views) < 2 {
			continue
		}
		for a := 0; a < n; a++ {
			ra := recs[a]
			if ra == nil {
				continue
			}
			for b := a + 1; b < n; b++ {
				rb := recs[b]
				if rb == nil {
					continue
				}
				for x, fa := range ra.Frames {
					for y, fb := range rb.Frames {
						g.mark(a, x, b, y, compatible(fa, fb))
					}
				}
			}
		}
	}
	return g, depth
}

// resolve searches for one history index per view such that every pair of
// views agrees on all cells they share. Views are assigned in id order and
// each tries the lowest index first, so the least lagged alignment wins.
func (w *World) resolve() ([]int, bool) {
	n := len(w.order)
	idx := make([]int, n)
	if n == 0 {
		return idx, true
	}
	g, depth := w.buildGraph()

	consistent := func(k int) bool {
		for j := 0; j < k; j++ {
			if g.get(j, idx[j], k, idx[k]) == compatNo {
				return false
			}
		}
		return true
	}

	k := 0
	for k >= 0 && k < n {
		if idx[k] >= depth[k] {
			// exhausted: backtrack to the previous view
			idx[k] = 0
			k--
			if k >= 0 {
				idx[k]++
			}
			continue
		}
		if consistent(k) {
			k++
			continue
		}
		idx[k]++
	}
	if k < 0 {
		return make([]int, n), false
	}
	return idx, true
}

// debounce updates the synchronized flag. Both losing and regaining
// synchronization require the new state to persist for cfg.Debounce.
func (w *World) debounce(agreed bool, now time.Time) {
	s := &w.sync
	w.stats.Agreed = agreed
	if agreed {
		s.disagreeSince = time.Time{}
		if s.synchronized {
			return
		}
		if s.agreeSince.IsZero() {
			s.agreeSince = now
		}
		if now.Sub(s.agreeSince) >= w.cfg.Debounce {
			s.synchronized = true
			s.agreeSince = time.Time{}
		}
		return
	}

	s.agreeSince = time.Time{}
	if !s.synchronized {
		return
	}
	if s.disagreeSince.IsZero() {
		s.disagreeSince = now
	}
	if now.Sub(s.disagreeSince) >= w.cfg.Debounce {
		s.synchronized = false
		s.disagreeSince = time.Time{}
		w.stats.Disagreements++
	}
}

// trim drops history older than each view's resolved index. No later pass
// may select a tick older than the one just agreed upon. Records never grow
// past HistoryLength, so an untrimmed window stays bounded.
func (w *World) trim(indices []int) {
	for _, cell := range w.cells {
		for i, id := range w.order {
			rec, ok := cell.Views[id]
			if !ok {
				continue
			}
			if keep := indices[i] + 1; len(rec.Frames) > keep {
				rec.Frames = rec.Frames[:keep]
			}
		}
	}
}
