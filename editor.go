package main

import (
	"fmt"
	"sync"
)

// EditMode is the active interaction mode of the editor
type EditMode int

const (
	ModeView EditMode = iota
	ModeEditVertices
	ModeAddPoint
	ModeSlice
	ModeDelete
)

func (m EditMode) String() string {
	switch m {
	case ModeEditVertices:
		return "editVertices"
	case ModeAddPoint:
		return "addPoint"
	case ModeSlice:
		return "slice"
	case ModeDelete:
		return "delete"
	default:
		return "view"
	}
}

// ValidationError rejects an edit with a human-readable reason. The
// polygon list is untouched when one is returned; these are user feedback,
// never fatal.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func rejected(op, reason string) error {
	editRejectionsTotal.WithLabelValues(op).Inc()
	return &ValidationError{Reason: reason}
}

// SegmentationStore persists a polygon list. The wire format beyond the
// Polygon shape belongs to the backend, not this core.
type SegmentationStore interface {
	Save(imageID string, polygons []Polygon) error
}

// dragState tracks one in-flight vertex drag; excluded from history until
// the drag is released
type dragState struct {
	polygonID   string
	vertexIndex int
	original    Point
}

// vertexRef addresses one vertex on one polygon
type vertexRef struct {
	polygonID string
	index     int
}

// EditorSession is the interactive editing core for one image. It
// exclusively owns the authoritative polygon list and the transient
// interaction state; caches hold only derived data keyed off it.
type EditorSession struct {
	mu sync.Mutex

	imageID  string
	polygons []Polygon

	history      [][]Polygon
	historyIndex int
	savedIndex   int

	mode       EditMode
	selectedID string
	drag       *dragState
	tempPoints []Point
	pointStart *vertexRef

	nextID int

	transform *TransformController
	bboxCache *BoundingBoxCache
	lod       *LODManager
}

// NewEditorSession wires a session to its caches. Both caches are owned by
// the application and shared with the render path.
func NewEditorSession(bboxCache *BoundingBoxCache, lod *LODManager) *EditorSession {
	return &EditorSession{
		transform: NewTransformController(),
		bboxCache: bboxCache,
		lod:       lod,
		history:   [][]Polygon{{}},
	}
}

// LoadSegmentation seeds the session with a fresh polygon list for an
// image. History is re-seeded and any in-flight interaction is discarded;
// switching images mid-edit intentionally drops the partial edit.
func (s *EditorSession) LoadSegmentation(imageID string, polygons []Polygon) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.imageID = imageID
	s.polygons = clonePolygons(polygons)
	s.history = [][]Polygon{clonePolygons(polygons)}
	s.historyIndex = 0
	s.savedIndex = 0
	s.mode = ModeView
	s.selectedID = ""
	s.clearInteractionLocked()
	s.transform.Reset()

	if s.bboxCache != nil {
		s.bboxCache.Clear()
	}
	if s.lod != nil {
		s.lod.Clear()
	}
}

// ImageID returns the identity of the loaded image
func (s *EditorSession) ImageID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.imageID
}

// Polygons returns a deep copy of the current polygon list
func (s *EditorSession) Polygons() []Polygon {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clonePolygons(s.polygons)
}

// Transform exposes the session's pan/zoom controller
func (s *EditorSession) Transform() *TransformController {
	return s.transform
}

// Mode returns the active edit mode
func (s *EditorSession) Mode() EditMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode switches the interaction mode. Entering any mode other than View
// first clears temp points and any in-progress drag.
func (s *EditorSession) SetMode(mode EditMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearInteractionLocked()
	s.mode = mode
}

// Escape cancels the in-flight interaction and returns to EditVertices if
// a polygon is selected, View otherwise
func (s *EditorSession) Escape() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelDragLocked()
	s.clearInteractionLocked()
	if s.selectedID != "" {
		s.mode = ModeEditVertices
	} else {
		s.mode = ModeView
	}
}

// SelectPolygon marks a polygon as selected; an empty id deselects
func (s *EditorSession) SelectPolygon(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		s.selectedID = ""
		return nil
	}
	if s.findPolygonLocked(id) < 0 {
		return rejected("select", fmt.Sprintf("polygon %q not found", id))
	}
	s.selectedID = id
	return nil
}

// SelectedPolygonID returns the selected polygon's id, or empty
func (s *EditorSession) SelectedPolygonID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedID
}

func (s *EditorSession) clearInteractionLocked() {
	s.tempPoints = nil
	s.pointStart = nil
	s.drag = nil
}

func (s *EditorSession) findPolygonLocked(id string) int {
	for i := range s.polygons {
		if s.polygons[i].ID == id {
			return i
		}
	}
	return -1
}

// freshIDLocked mints a new polygon id unique within the session
func (s *EditorSession) freshIDLocked() string {
	for {
		s.nextID++
		id := fmt.Sprintf("poly-%d", s.nextID)
		if s.findPolygonLocked(id) < 0 {
			return id
		}
	}
}

// commitLocked appends a history snapshot of the current polygon list. Any
// redo entries beyond the cursor are truncated first.
func (s *EditorSession) commitLocked(op string) {
	s.history = s.history[:s.historyIndex+1]
	s.history = append(s.history, clonePolygons(s.polygons))
	s.historyIndex++
	editOperationsTotal.WithLabelValues(op).Inc()
}

// invalidateLocked drops derived caches for one polygon
func (s *EditorSession) invalidateLocked(polygonID string) {
	if s.bboxCache != nil {
		s.bboxCache.Invalidate(polygonID)
	}
	if s.lod != nil {
		s.lod.Invalidate(polygonID)
	}
}

// --- Vertex dragging ---------------------------------------------------

// defaultHitThreshold is the image-space radius for vertex hit tests
const defaultHitThreshold = 10.0

// BeginVertexDrag starts dragging the vertex nearest to pos within
// threshold on the given polygon. No history entry is taken yet.
func (s *EditorSession) BeginVertexDrag(polygonID string, pos Point, threshold float64) error {
	if threshold <= 0 {
		threshold = defaultHitThreshold
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.findPolygonLocked(polygonID)
	if idx < 0 {
		return rejected("drag", fmt.Sprintf("polygon %q not found", polygonID))
	}

	vidx := NewVertexIndex(s.polygons[idx].Points).FindNearestVertex(pos, threshold)
	if vidx < 0 {
		return rejected("drag", "no vertex within hit threshold")
	}

	s.drag = &dragState{
		polygonID:   polygonID,
		vertexIndex: vidx,
		original:    s.polygons[idx].Points[vidx],
	}
	return nil
}

// UpdateVertexDrag moves the dragged vertex. Called per pointer-move; no
// history entry is taken, so a drag costs one entry, not hundreds.
func (s *EditorSession) UpdateVertexDrag(pos Point) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.drag == nil {
		return
	}
	idx := s.findPolygonLocked(s.drag.polygonID)
	if idx < 0 {
		s.drag = nil
		return
	}

	// Copy-on-write so cache keys never alias live history data
	points := clonePoints(s.polygons[idx].Points)
	points[s.drag.vertexIndex] = pos
	s.polygons[idx].Points = points
}

// CommitVertexDrag releases the drag, taking exactly one history snapshot
func (s *EditorSession) CommitVertexDrag() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.drag == nil {
		return
	}
	id := s.drag.polygonID
	s.drag = nil
	s.commitLocked("drag")
	s.invalidateLocked(id)
}

// CancelVertexDrag restores the dragged vertex to its original position
func (s *EditorSession) CancelVertexDrag() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelDragLocked()
}

func (s *EditorSession) cancelDragLocked() {
	if s.drag == nil {
		return
	}
	if idx := s.findPolygonLocked(s.drag.polygonID); idx >= 0 {
		points := clonePoints(s.polygons[idx].Points)
		points[s.drag.vertexIndex] = s.drag.original
		s.polygons[idx].Points = points
	}
	s.drag = nil
}

// --- New polygon creation (EditVertices mode) --------------------------

// AddTempVertex accumulates one vertex of a new polygon being clicked out
func (s *EditorSession) AddTempVertex(p Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode != ModeEditVertices {
		return rejected("newPolygon", "not in edit-vertices mode")
	}
	s.tempPoints = append(s.tempPoints, p)
	return nil
}

// CompleteNewPolygon commits the accumulated temp points as a new polygon
func (s *EditorSession) CompleteNewPolygon(class string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.tempPoints) < 3 {
		return "", rejected("newPolygon", "polygon needs at least 3 points")
	}
	if IsSelfIntersecting(s.tempPoints) {
		return "", rejected("newPolygon", "polygon would self-intersect")
	}

	id := s.freshIDLocked()
	s.polygons = append(clonePolygons(s.polygons), Polygon{
		ID:     id,
		Points: clonePoints(s.tempPoints),
		Type:   PolygonExternal,
		Class:  class,
	})
	s.tempPoints = nil
	s.selectedID = id
	s.commitLocked("newPolygon")
	return id, nil
}

// TempPoints returns the current temp point buffer
func (s *EditorSession) TempPoints() []Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clonePoints(s.tempPoints)
}

// --- Point adding (AddPoint mode) --------------------------------------

// StartPointAdd anchors the point-adding sequence at a vertex of an
// existing polygon
func (s *EditorSession) StartPointAdd(polygonID string, vertexIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode != ModeAddPoint {
		return rejected("addPoint", "not in add-point mode")
	}
	idx := s.findPolygonLocked(polygonID)
	if idx < 0 {
		return rejected("addPoint", fmt.Sprintf("polygon %q not found", polygonID))
	}
	if vertexIndex < 0 || vertexIndex >= len(s.polygons[idx].Points) {
		return rejected("addPoint", "start vertex out of range")
	}

	s.pointStart = &vertexRef{polygonID: polygonID, index: vertexIndex}
	s.tempPoints = nil
	return nil
}

// AddPathPoint appends one interior point to the in-progress path
func (s *EditorSession) AddPathPoint(p Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pointStart == nil {
		return rejected("addPoint", "no start vertex selected")
	}
	s.tempPoints = append(s.tempPoints, p)
	return nil
}

// CompletePointAdd closes the sequence at another vertex of the same
// polygon. The shorter of the two boundary paths between start and end is
// replaced by [start, ...tempPoints, end]. Rejected without mutation if
// the resulting polygon would self-intersect.
func (s *EditorSession) CompletePointAdd(endVertexIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pointStart == nil {
		return rejected("addPoint", "no start vertex selected")
	}
	idx := s.findPolygonLocked(s.pointStart.polygonID)
	if idx < 0 {
		s.pointStart = nil
		return rejected("addPoint", "polygon no longer exists")
	}

	points := s.polygons[idx].Points
	n := len(points)
	start := s.pointStart.index
	if endVertexIndex < 0 || endVertexIndex >= n {
		return rejected("addPoint", "end vertex out of range")
	}
	if endVertexIndex == start {
		return rejected("addPoint", "end vertex must differ from start")
	}

	// Boundary paths between the anchors, both inclusive of endpoints
	forward := walkBoundary(points, start, endVertexIndex)
	backward := walkBoundary(points, endVertexIndex, start)

	var result []Point
	if PathLength(forward) <= PathLength(backward) {
		// Replace the forward path: keep end->start, then temp start->end
		result = append(clonePoints(backward), s.tempPoints...)
	} else {
		// Replace the backward path: keep start->end, then temp reversed
		result = clonePoints(forward)
		for i := len(s.tempPoints) - 1; i >= 0; i-- {
			result = append(result, s.tempPoints[i])
		}
	}

	if len(result) < 3 {
		return rejected("addPoint", "resulting polygon too small")
	}
	if IsSelfIntersecting(result) {
		return rejected("addPoint", "resulting polygon would self-intersect")
	}

	s.polygons = clonePolygons(s.polygons)
	s.polygons[idx].Points = result
	id := s.polygons[idx].ID
	s.pointStart = nil
	s.tempPoints = nil
	s.commitLocked("addPoint")
	s.invalidateLocked(id)
	return nil
}

// walkBoundary collects the vertices from index a to index b following the
// ring's winding, inclusive of both
func walkBoundary(points []Point, a, b int) []Point {
	n := len(points)
	path := []Point{points[a]}
	for i := (a + 1) % n; ; i = (i + 1) % n {
		path = append(path, points[i])
		if i == b {
			break
		}
	}
	return path
}

// --- Slicing (Slice mode) ----------------------------------------------

// AddSlicePoint accumulates one endpoint of the slice line (exactly two)
func (s *EditorSession) AddSlicePoint(p Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode != ModeSlice {
		return rejected("slice", "not in slice mode")
	}
	if len(s.tempPoints) >= 2 {
		return rejected("slice", "slice line already has two points")
	}
	s.tempPoints = append(s.tempPoints, p)
	return nil
}

// CommitSlice splits the selected polygon along the accumulated line into
// two polygons with fresh ids. Failures report the specific reason and
// leave the polygon list untouched.
func (s *EditorSession) CommitSlice() (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.selectedID == "" {
		return "", "", rejected("slice", "no polygon selected")
	}
	if len(s.tempPoints) != 2 {
		return "", "", rejected("slice", "slice line needs exactly two points")
	}
	idx := s.findPolygonLocked(s.selectedID)
	if idx < 0 {
		return "", "", rejected("slice", "selected polygon no longer exists")
	}

	target := s.polygons[idx]
	half1, half2, err := SlicePolygon(target.Points, s.tempPoints[0], s.tempPoints[1])
	if err != nil {
		return "", "", rejected("slice", err.Error())
	}

	id1 := s.freshIDLocked()
	id2 := s.freshIDLocked()

	next := make([]Polygon, 0, len(s.polygons)+1)
	next = append(next, clonePolygons(s.polygons[:idx])...)
	next = append(next,
		Polygon{ID: id1, Points: half1, Type: target.Type, Class: target.Class},
		Polygon{ID: id2, Points: half2, Type: target.Type, Class: target.Class},
	)
	next = append(next, clonePolygons(s.polygons[idx+1:])...)
	s.polygons = next

	oldID := target.ID
	s.tempPoints = nil
	s.selectedID = id1
	s.commitLocked("slice")
	s.invalidateLocked(oldID)
	return id1, id2, nil
}

// --- Deleting ----------------------------------------------------------

// DeletePolygon removes a polygon by id
func (s *EditorSession) DeletePolygon(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.findPolygonLocked(id)
	if idx < 0 {
		return rejected("delete", fmt.Sprintf("polygon %q not found", id))
	}

	next := make([]Polygon, 0, len(s.polygons)-1)
	next = append(next, clonePolygons(s.polygons[:idx])...)
	next = append(next, clonePolygons(s.polygons[idx+1:])...)
	s.polygons = next

	if s.selectedID == id {
		s.selectedID = ""
	}
	s.commitLocked("delete")
	s.invalidateLocked(id)
	return nil
}

// DeletePolygonAt removes the first polygon containing the point; used by
// click-to-delete in Delete mode
func (s *EditorSession) DeletePolygonAt(p Point) error {
	s.mu.Lock()
	var target string
	for _, poly := range s.polygons {
		if IsPointInPolygon(p, poly.Points) {
			target = poly.ID
			break
		}
	}
	s.mu.Unlock()

	if target == "" {
		return rejected("delete", "no polygon at that point")
	}
	return s.DeletePolygon(target)
}

// --- Undo / redo -------------------------------------------------------

// Undo steps the history cursor back one snapshot. Underflow is a no-op
// with feedback, never an exception.
func (s *EditorSession) Undo() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.historyIndex == 0 {
		return rejected("undo", "nothing to undo")
	}
	s.cancelDragLocked()
	s.clearInteractionLocked()

	s.historyIndex--
	s.polygons = clonePolygons(s.history[s.historyIndex])
	s.invalidateAllLocked()
	editOperationsTotal.WithLabelValues("undo").Inc()
	return nil
}

// Redo steps the history cursor forward one snapshot
func (s *EditorSession) Redo() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.historyIndex >= len(s.history)-1 {
		return rejected("redo", "nothing to redo")
	}
	s.cancelDragLocked()
	s.clearInteractionLocked()

	s.historyIndex++
	s.polygons = clonePolygons(s.history[s.historyIndex])
	s.invalidateAllLocked()
	editOperationsTotal.WithLabelValues("redo").Inc()
	return nil
}

// HistoryLength returns the snapshot count (for tests and diagnostics)
func (s *EditorSession) HistoryLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

func (s *EditorSession) invalidateAllLocked() {
	if s.bboxCache != nil {
		s.bboxCache.Clear()
	}
	if s.lod != nil {
		for _, p := range s.polygons {
			s.lod.Invalidate(p.ID)
		}
	}
}

// --- Persistence -------------------------------------------------------

// HasUnsavedChanges reports whether the current state differs from the
// last saved (or loaded) snapshot
func (s *EditorSession) HasUnsavedChanges() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyIndex != s.savedIndex
}

// Save persists the current polygon list through the injected store
func (s *EditorSession) Save(store SegmentationStore) error {
	s.mu.Lock()
	imageID := s.imageID
	snapshot := clonePolygons(s.polygons)
	index := s.historyIndex
	s.mu.Unlock()

	if err := store.Save(imageID, snapshot); err != nil {
		return err
	}

	s.mu.Lock()
	s.savedIndex = index
	s.mu.Unlock()
	return nil
}
