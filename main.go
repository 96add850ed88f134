package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// app bundles the per-process editing components. They are created once at
// startup and shared by every handler; the session mutex serializes edits.
type app struct {
	session    *EditorSession
	bboxCache  *BoundingBoxCache
	lodManager *LODManager
	visibility *VisibilityManager
	pool       *WorkerPool
	store      SegmentationStore
}

// FileSegmentationStore persists polygon lists as JSON files, one per
// image. Stands in for the backend's save endpoint.
type FileSegmentationStore struct {
	Dir string
}

// Save writes the polygon list to segmentation_<imageID>.json
func (f *FileSegmentationStore) Save(imageID string, polygons []Polygon) error {
	if imageID == "" {
		return errors.New("no image loaded")
	}
	data, err := json.MarshalIndent(map[string]interface{}{
		"imageId":  imageID,
		"polygons": polygons,
	}, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(f.Dir, fmt.Sprintf("segmentation_%s.json", imageID))
	return os.WriteFile(path, data, 0644)
}

// corsMiddleware adds CORS headers to allow frontend requests
func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeEditError maps validation failures to 422 with the reason, other
// errors to 500
func writeEditError(w http.ResponseWriter, err error) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"success": false,
			"reason":  verr.Reason,
		})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
		"success": false,
		"error":   err.Error(),
	})
}

// POST /loadSegmentation - Seed the session with an image's polygons
func (a *app) loadSegmentationHandler(w http.ResponseWriter, r *http.Request) {
	log.Println("========================================")
	log.Println("📥 Load segmentation request received")

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ImageID      string              `json:"imageId"`
		Segmentation SegmentationPayload `json:"segmentation"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("❌ Invalid request body: %v\n", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ImageID == "" {
		http.Error(w, "imageId is required", http.StatusBadRequest)
		return
	}

	polygons := req.Segmentation.ToPolygons()
	a.session.LoadSegmentation(req.ImageID, polygons)

	log.Printf("✅ Loaded %d polygons for image %s (model %s)\n",
		len(polygons), req.ImageID, req.Segmentation.Model)
	log.Println("========================================")

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"imageId":      req.ImageID,
		"polygonCount": len(polygons),
	})
}

// GET /segmentation - Current polygon list and dirty state
func (a *app) segmentationHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"imageId":           a.session.ImageID(),
		"polygons":          a.session.Polygons(),
		"hasUnsavedChanges": a.session.HasUnsavedChanges(),
	})
}

// POST /visiblePolygons - Cull by viewport and return LOD geometry
func (a *app) visiblePolygonsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ViewContext
		IsAnimating bool     `json:"isAnimating"`
		FrameTimeMs *float64 `json:"frameTimeMs,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.FrameTimeMs != nil {
		a.lodManager.RecordFrameTime(*req.FrameTimeMs)
	}

	polygons := a.session.Polygons()
	result := a.visibility.GetVisiblePolygons(polygons, req.ViewContext)

	rctx := RenderContext{
		Zoom:         req.Zoom,
		IsAnimating:  req.IsAnimating,
		PolygonCount: len(polygons),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	lods := make([]*LODPolygon, 0, len(result.VisiblePolygons))
	for _, polygon := range result.VisiblePolygons {
		selected := polygon.ID == req.SelectedPolygonID
		lods = append(lods, a.lodManager.GetLOD(ctx, polygon, rctx, selected))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"polygons":     lods,
		"visibleCount": result.VisibleCount,
		"culledCount":  result.CulledCount,
		"level":        a.lodManager.SelectLevel(rctx),
		"quality":      a.lodManager.Quality().String(),
	})
}

// POST /editor/undo and /editor/redo - Step the history cursor
func (a *app) historyHandler(redo bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var err error
		if redo {
			err = a.session.Redo()
		} else {
			err = a.session.Undo()
		}
		if err != nil {
			writeEditError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":  true,
			"polygons": a.session.Polygons(),
		})
	}
}

// POST /editor/slice - Slice the selected polygon along a line
func (a *app) sliceHandler(w http.ResponseWriter, r *http.Request) {
	log.Println("✂️  Slice request received")

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		PolygonID string `json:"polygonId"`
		LineStart Point  `json:"lineStart"`
		LineEnd   Point  `json:"lineEnd"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := a.session.SelectPolygon(req.PolygonID); err != nil {
		writeEditError(w, err)
		return
	}
	a.session.SetMode(ModeSlice)
	if err := a.session.AddSlicePoint(req.LineStart); err != nil {
		writeEditError(w, err)
		return
	}
	if err := a.session.AddSlicePoint(req.LineEnd); err != nil {
		writeEditError(w, err)
		return
	}

	id1, id2, err := a.session.CommitSlice()
	if err != nil {
		log.Printf("❌ Slice rejected: %v\n", err)
		writeEditError(w, err)
		return
	}

	log.Printf("✅ Polygon %s sliced into %s and %s\n", req.PolygonID, id1, id2)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"polygonIds": []string{id1, id2},
	})
}

// POST /save - Persist the current polygon list
func (a *app) saveHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := a.session.Save(a.store); err != nil {
		log.Printf("❌ Save failed: %v\n", err)
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	log.Printf("💾 Saved segmentation for image %s\n", a.session.ImageID())
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// POST /applyUpdate - Intake for realtime backend events
func (a *app) applyUpdateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	event, err := DecodeRealtimeEvent(body)
	if err != nil {
		log.Printf("❌ Rejected event: %v\n", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	applied := a.session.HandleEvent(event)
	writeJSON(w, http.StatusOK, map[string]interface{}{"applied": applied})
}

// GET /health - Health check endpoint
func (a *app) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ready",
		"imageId":       a.session.ImageID(),
		"polygonCount":  len(a.session.Polygons()),
		"bboxCache":     a.bboxCache.GetStats(),
		"lodCacheSize":  a.lodManager.CacheSize(),
		"renderQuality": a.lodManager.Quality().String(),
	})
}

func main() {
	log.Println("========================================")
	log.Println("🔬 Segmentation Polygon Editor Server")
	log.Println("========================================")

	cfg := LoadConfig()

	pool := NewWorkerPool(cfg.WorkerPoolSize)
	pool.WarmUp()
	defer pool.Terminate()

	service := NewPolygonProcessingService(pool)
	bboxCache := NewBoundingBoxCache(cfg.BBoxCacheSize)
	lodManager := NewLODManager(DefaultLODLevels(), service, cfg.LODCacheSize)

	a := &app{
		session:    NewEditorSession(bboxCache, lodManager),
		bboxCache:  bboxCache,
		lodManager: lodManager,
		visibility: NewVisibilityManager(bboxCache),
		pool:       pool,
		store:      &FileSegmentationStore{Dir: cfg.SaveDir},
	}

	http.HandleFunc("/loadSegmentation", corsMiddleware(a.loadSegmentationHandler))
	http.HandleFunc("/segmentation", corsMiddleware(a.segmentationHandler))
	http.HandleFunc("/visiblePolygons", corsMiddleware(a.visiblePolygonsHandler))
	http.HandleFunc("/editor/undo", corsMiddleware(a.historyHandler(false)))
	http.HandleFunc("/editor/redo", corsMiddleware(a.historyHandler(true)))
	http.HandleFunc("/editor/slice", corsMiddleware(a.sliceHandler))
	http.HandleFunc("/save", corsMiddleware(a.saveHandler))
	http.HandleFunc("/applyUpdate", corsMiddleware(a.applyUpdateHandler))
	http.HandleFunc("/health", corsMiddleware(a.healthHandler))
	http.Handle("/metrics", MetricsHandler())

	log.Printf("Worker pool: %d workers\n", cfg.WorkerPoolSize)
	log.Println("")
	log.Println("Endpoints:")
	log.Println("  POST /loadSegmentation   - Seed the editor with an image's polygons")
	log.Println("  GET  /segmentation       - Current polygon list and dirty state")
	log.Println("  POST /visiblePolygons    - Viewport culling + LOD render set")
	log.Println("  POST /editor/undo        - Step history back")
	log.Println("  POST /editor/redo        - Step history forward")
	log.Println("  POST /editor/slice       - Slice a polygon along a line")
	log.Println("  POST /save               - Persist the current polygons")
	log.Println("  POST /applyUpdate        - Realtime backend event intake")
	log.Println("  GET  /health             - Check server status")
	log.Println("  GET  /metrics            - Prometheus metrics")
	log.Println("")
	log.Println("CORS enabled for all origins")
	log.Println("========================================")

	addr := ":" + cfg.Port
	log.Printf("Server starting on %s\n", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatal(err)
	}
}
