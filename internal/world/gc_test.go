package world

import "testing"

// TestCollectAfterDrawDelay verifies a dead record outlives its death by
// the draw delay before the cell is deleted
func TestCollectAfterDrawDelay(t *testing.T) {
	w := testWorld(SyncNone)
	v := w.OpenView("", t0)
	w.EntityUpdated(v.ID, upd(7, 0, 0, 50), at(0))
	w.EntityRemoved(v.ID, 7, at(100))

	mustBatch(t, w, v.ID, at(100))
	if _, ok := w.Cell(7); !ok {
		t.Fatal("cell collected before its death animation finished")
	}
	if n := w.Collect(at(220)); n != 0 {
		t.Fatalf("collected %d cells exactly at the draw delay", n)
	}

	mustBatch(t, w, v.ID, at(230))
	if _, ok := w.Cell(7); ok {
		t.Error("cell should be collected after the draw delay")
	}
}

// TestCollectWaitsForHistory verifies a record with any alive frame left in
// its history is kept
func TestCollectWaitsForHistory(t *testing.T) {
	w := testWorld(SyncFlawless)
	v := w.OpenView("", t0)
	w.EntityUpdated(v.ID, upd(7, 0, 0, 50), at(0))
	mustBatch(t, w, v.ID, at(0))

	w.EntityRemoved(v.ID, 7, at(40))
	if n := len(record(t, w, 7, v.ID).Frames); n != 2 {
		t.Fatalf("expected the batch to open a history slot, got %d frames", n)
	}
	if n := w.Collect(at(400)); n != 0 {
		t.Fatal("record with an alive older frame must be kept")
	}

	mustBatch(t, w, v.ID, at(40))
	if n := w.Collect(at(200)); n != 1 {
		t.Errorf("collected %d cells, want 1", n)
	}
	if w.CellCount() != 0 {
		t.Errorf("cell count = %d, want 0", w.CellCount())
	}
}

// TestCloseViewDropsOrphans verifies closing a view deletes only the cells
// no other view retains
func TestCloseViewDropsOrphans(t *testing.T) {
	w := testWorld(SyncLatest)
	a := w.OpenView("", t0)
	b := w.OpenView("", t0)
	w.EntityUpdated(a.ID, upd(7, 0, 0, 50), at(0))
	w.EntityUpdated(a.ID, upd(8, 0, 0, 50), at(0))
	w.EntityUpdated(b.ID, upd(7, 0, 0, 50), at(0))

	if err := w.CloseView(a.ID); err != nil {
		t.Fatal(err)
	}
	if _, ok := w.Cell(8); ok {
		t.Error("cell only view A saw should be deleted")
	}
	cell, ok := w.Cell(7)
	if !ok {
		t.Fatal("shared cell should survive")
	}
	if _, ok := cell.Views[a.ID]; ok || len(cell.Views) != 1 {
		t.Errorf("closed view's record should be removed, got %d records", len(cell.Views))
	}
	if views := w.Views(); len(views) != 1 || views[0].ID != b.ID {
		t.Errorf("open views = %v", views)
	}

	// ids are never reused
	if c := w.OpenView("", t0); c.ID != 3 {
		t.Errorf("new view id = %d, want 3", c.ID)
	}
}

// TestRenderMerged verifies a merged render shows every view's cells,
// marks owned cells and orders them small to large
func TestRenderMerged(t *testing.T) {
	w := testWorld(SyncLatest)
	a := w.OpenView("", t0)
	b := w.OpenView("", t0)

	big := upd(8, 100, 0, 120)
	big.Flags = FlagName
	big.Name = "big"
	w.EntityUpdated(a.ID, big, at(0))
	w.EntityUpdated(a.ID, upd(7, 0, 0, 50), at(0))
	w.OwnershipGranted(b.ID, 8, at(0))
	mustBatch(t, w, a.ID, at(0))

	cells, err := w.RenderState(b.ID, at(500))
	if err != nil {
		t.Fatal(err)
	}
	if len(cells) != 2 {
		t.Fatalf("expected 2 merged cells for view %d, got %+v", b.ID, cells)
	}
	if cells[0].ID != 7 || cells[1].ID != 8 {
		t.Errorf("cells should be sorted by radius, got %d then %d", cells[0].ID, cells[1].ID)
	}
	if cells[0].Owned || !cells[1].Owned {
		t.Error("only cell 8 is owned by the rendering view")
	}
	if cells[1].Desc.Name != "big" {
		t.Errorf("description should come from the model record, got %+v", cells[1].Desc)
	}
	if cells[1].Alpha != 1 || cells[1].X != 100 {
		t.Errorf("settled cell = %+v", cells[1])
	}
}

// TestRenderSkipsFadedDeaths verifies a dying cell is drawn until its alpha
// reaches zero
func TestRenderSkipsFadedDeaths(t *testing.T) {
	w := testWorld(SyncNone)
	v := w.OpenView("", t0)
	w.EntityUpdated(v.ID, upd(7, 0, 0, 50), at(0))
	w.EntityRemoved(v.ID, 7, at(200))

	cells, _ := w.RenderState(v.ID, at(260))
	if len(cells) != 1 || !cells[0].Dying || !almostEqual(cells[0].Alpha, 0.5) {
		t.Fatalf("expected a half faded dying cell, got %+v", cells)
	}

	cells, _ = w.RenderState(v.ID, at(400))
	if len(cells) != 0 {
		t.Errorf("fully faded cell should not be drawn, got %+v", cells)
	}
}

// TestRenderAdvancesJelly verifies rendering stores the jelly step
func TestRenderAdvancesJelly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sync = SyncNone
	w := New(cfg)
	v := w.OpenView("", t0)
	w.EntityUpdated(v.ID, upd(7, 0, 0, 50), at(0))

	if _, err := w.RenderState(v.ID, at(16)); err != nil {
		t.Fatal(err)
	}
	rec := record(t, w, 7, v.ID)
	if !rec.Interp.JT.Equal(at(16)) {
		t.Errorf("jelly time = %v, want %v", rec.Interp.JT, at(16))
	}
}
