package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strconv"

	"cellsync/internal/engine"
	"cellsync/internal/world"

	"github.com/go-chi/chi/v5"
)

// Handler methods for routerHandlers
// These are used by both the standalone router (for testing) and the full Server.

// viewSummary is one row of GET /api/views
type viewSummary struct {
	ID         world.ViewID `json:"id"`
	URL        string       `json:"url"`
	Cells      int          `json:"cells"`
	Owned      int          `json:"owned"`
	LastActive int64        `json:"lastActive"` // unix millis
}

func (h *routerHandlers) handleListViews(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Snapshot()
	views := make([]viewSummary, 0, len(snap.Views))
	for _, v := range snap.Views {
		views = append(views, viewSummary{
			ID:         v.ID,
			URL:        v.URL,
			Cells:      len(v.Cells),
			Owned:      v.Owned,
			LastActive: v.LastActive.UnixMilli(),
		})
	}
	writeJSON(w, map[string]interface{}{
		"views":     views,
		"cellCount": snap.CellCount,
		"sequence":  snap.Sequence,
	})
}

func (h *routerHandlers) handleOpenView(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if req.URL != "" {
		u, err := url.Parse(req.URL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			writeError(w, "url must be a ws:// or wss:// address", http.StatusBadRequest)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.openTimeout)
	defer cancel()

	id, err := h.engine.OpenView(ctx, req.URL)
	if err != nil {
		log.Printf("❌ Open view on %q failed: %v", req.URL, err)
		if errors.Is(err, engine.ErrStopped) {
			writeError(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeError(w, err.Error(), http.StatusBadGateway)
		return
	}

	writeJSONStatus(w, map[string]interface{}{"id": id, "url": req.URL}, http.StatusCreated)
}

func (h *routerHandlers) handleCloseView(w http.ResponseWriter, r *http.Request) {
	id, ok := viewID(w, r)
	if !ok {
		return
	}
	if err := h.engine.CloseView(id); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, map[string]bool{"success": true})
}

func (h *routerHandlers) handleRender(w http.ResponseWriter, r *http.Request) {
	v, ok := h.lookupView(w, r)
	if !ok {
		return
	}
	writeJSON(w, v)
}

func (h *routerHandlers) handleCamera(w http.ResponseWriter, r *http.Request) {
	v, ok := h.lookupView(w, r)
	if !ok {
		return
	}
	writeJSON(w, v.Camera)
}

func (h *routerHandlers) handleFrame(w http.ResponseWriter, r *http.Request) {
	v, ok := h.lookupView(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := h.renderer.WritePNG(&buf, v, h.viewportW); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(buf.Bytes())
}

func (h *routerHandlers) handleGetSync(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.engine.Snapshot().Sync)
}

func (h *routerHandlers) handleSetSync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	mode, err := world.ParseSyncMode(req.Mode)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.engine.SetSyncMode(mode); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, map[string]string{"mode": mode.String()})
}

// lookupView resolves {id} against the latest snapshot
func (h *routerHandlers) lookupView(w http.ResponseWriter, r *http.Request) (*engine.ViewSnapshot, bool) {
	id, ok := viewID(w, r)
	if !ok {
		return nil, false
	}
	v, ok := h.engine.Snapshot().View(id)
	if !ok {
		writeError(w, "view not found", http.StatusNotFound)
		return nil, false
	}
	return v, true
}

func viewID(w http.ResponseWriter, r *http.Request) (world.ViewID, bool) {
	n, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		writeError(w, "invalid view id", http.StatusBadRequest)
		return 0, false
	}
	return world.ViewID(n), true
}

// Helper functions (package-level for reuse)

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeJSONStatus(w http.ResponseWriter, data interface{}, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	writeJSONStatus(w, map[string]string{"error": message}, code)
}

func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, world.ErrUnknownView):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, engine.ErrStopped):
		writeError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}
