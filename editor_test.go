package main

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T) (*EditorSession, *BoundingBoxCache) {
	t.Helper()
	cache := NewBoundingBoxCache(100)
	session := NewEditorSession(cache, NewLODManager(nil, nil, 0))
	session.LoadSegmentation("img-1", []Polygon{
		{ID: "p1", Points: squarePoints(), Type: PolygonExternal, Class: "cell"},
	})
	return session, cache
}

type fakeStore struct {
	calls int
	saved map[string][]Polygon
	err   error
}

func (f *fakeStore) Save(imageID string, polygons []Polygon) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	if f.saved == nil {
		f.saved = make(map[string][]Polygon)
	}
	f.saved[imageID] = polygons
	return nil
}

func TestLoadSegmentationSeedsState(t *testing.T) {
	session, _ := newTestSession(t)

	assert.Equal(t, "img-1", session.ImageID())
	assert.Equal(t, ModeView, session.Mode())
	assert.Equal(t, 1, session.HistoryLength())
	assert.False(t, session.HasUnsavedChanges())

	polygons := session.Polygons()
	require.Len(t, polygons, 1)
	assert.Equal(t, "p1", polygons[0].ID)
}

func TestLoadSegmentationClearsDerivedCaches(t *testing.T) {
	cache := NewBoundingBoxCache(100)
	lod := NewLODManager(nil, nil, 0)
	session := NewEditorSession(cache, lod)
	session.LoadSegmentation("img-1", []Polygon{{ID: "p1", Points: squarePoints()}})

	cache.GetBoundingBox("p1", squarePoints())
	lod.GetLOD(context.Background(), Polygon{ID: "p1", Points: squarePoints()}, RenderContext{Zoom: 5}, false)
	require.Equal(t, 1, lod.CacheSize())

	// Switching images must not leave the previous image's derived data
	session.LoadSegmentation("img-2", nil)
	assert.Equal(t, 0, lod.CacheSize())
	assert.Equal(t, 0, cache.GetStats().Entries)
}

func TestPolygonsReturnsCopy(t *testing.T) {
	session, _ := newTestSession(t)

	polygons := session.Polygons()
	polygons[0].Points[0] = Point{-999, -999}

	assert.Equal(t, Point{0, 0}, session.Polygons()[0].Points[0], "callers must not reach internal state")
}

func TestVertexDragCostsOneHistoryEntry(t *testing.T) {
	session, cache := newTestSession(t)

	box := cache.GetBoundingBox("p1", session.Polygons()[0].Points)
	assert.Equal(t, BoundingBox{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100, Width: 100, Height: 100}, box)

	require.NoError(t, session.BeginVertexDrag("p1", Point{3, 4}, 10))

	// Many pointer moves, still zero history entries taken
	for x := 4.0; x <= 10; x++ {
		session.UpdateVertexDrag(Point{x, x})
	}
	assert.Equal(t, 1, session.HistoryLength())

	session.CommitVertexDrag()
	assert.Equal(t, 2, session.HistoryLength())

	moved := session.Polygons()[0].Points
	assert.Equal(t, Point{10, 10}, moved[0])

	// The commit invalidated the cached box; next lookup recomputes
	assert.True(t, cache.HasPolygonChanged("p1", moved))
	assert.Equal(t, CalculateBoundingBox(moved), cache.GetBoundingBox("p1", moved))
}

func TestBeginVertexDragMisses(t *testing.T) {
	session, _ := newTestSession(t)

	err := session.BeginVertexDrag("p1", Point{50, 50}, 10)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	err = session.BeginVertexDrag("ghost", Point{0, 0}, 10)
	require.ErrorAs(t, err, &verr)
}

func TestCancelVertexDragRestoresOriginal(t *testing.T) {
	session, _ := newTestSession(t)

	require.NoError(t, session.BeginVertexDrag("p1", Point{3, 4}, 10))
	session.UpdateVertexDrag(Point{40, 40})
	session.CancelVertexDrag()

	assert.Equal(t, Point{0, 0}, session.Polygons()[0].Points[0])
	assert.Equal(t, 1, session.HistoryLength(), "a cancelled drag leaves no history entry")
}

func TestUndoRedoRoundTrip(t *testing.T) {
	session, _ := newTestSession(t)
	initial := session.Polygons()

	require.NoError(t, session.BeginVertexDrag("p1", Point{3, 4}, 10))
	session.UpdateVertexDrag(Point{10, 10})
	session.CommitVertexDrag()
	edited := session.Polygons()

	require.NoError(t, session.Undo())
	if diff := cmp.Diff(initial, session.Polygons()); diff != "" {
		t.Fatalf("undo mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, session.Redo())
	if diff := cmp.Diff(edited, session.Polygons()); diff != "" {
		t.Fatalf("redo mismatch (-want +got):\n%s", diff)
	}
}

func TestUndoUnderflowIsRejected(t *testing.T) {
	session, _ := newTestSession(t)

	var verr *ValidationError
	require.ErrorAs(t, session.Undo(), &verr)
	assert.Equal(t, "nothing to undo", verr.Reason)

	require.ErrorAs(t, session.Redo(), &verr)
	assert.Equal(t, "nothing to redo", verr.Reason)
}

func TestNewEditTruncatesRedo(t *testing.T) {
	session, _ := newTestSession(t)

	session.SetMode(ModeEditVertices)
	require.NoError(t, session.AddTempVertex(Point{200, 200}))
	require.NoError(t, session.AddTempVertex(Point{220, 200}))
	require.NoError(t, session.AddTempVertex(Point{210, 220}))
	_, err := session.CompleteNewPolygon("cell")
	require.NoError(t, err)
	require.Equal(t, 2, session.HistoryLength())

	require.NoError(t, session.Undo())

	// A fresh edit from the past discards the redo branch
	require.NoError(t, session.DeletePolygon("p1"))
	assert.Equal(t, 2, session.HistoryLength())

	var verr *ValidationError
	assert.ErrorAs(t, session.Redo(), &verr)
}

func TestCompleteNewPolygonValidation(t *testing.T) {
	session, _ := newTestSession(t)
	session.SetMode(ModeEditVertices)

	var verr *ValidationError

	require.NoError(t, session.AddTempVertex(Point{0, 0}))
	require.NoError(t, session.AddTempVertex(Point{10, 0}))
	_, err := session.CompleteNewPolygon("cell")
	assert.ErrorAs(t, err, &verr, "two points cannot close")

	// Bowtie rejection
	require.NoError(t, session.AddTempVertex(Point{0, 10}))
	require.NoError(t, session.AddTempVertex(Point{10, 10}))
	_, err = session.CompleteNewPolygon("cell")
	assert.ErrorAs(t, err, &verr)

	assert.Len(t, session.Polygons(), 1, "rejected edits must not mutate")
	assert.Equal(t, 1, session.HistoryLength())
}

func TestCompleteNewPolygonSelectsResult(t *testing.T) {
	session, _ := newTestSession(t)
	session.SetMode(ModeEditVertices)

	require.NoError(t, session.AddTempVertex(Point{200, 200}))
	require.NoError(t, session.AddTempVertex(Point{300, 200}))
	require.NoError(t, session.AddTempVertex(Point{250, 300}))

	id, err := session.CompleteNewPolygon("nucleus")
	require.NoError(t, err)
	assert.Equal(t, id, session.SelectedPolygonID())
	assert.Empty(t, session.TempPoints())

	polygons := session.Polygons()
	require.Len(t, polygons, 2)
	assert.Equal(t, "nucleus", polygons[1].Class)
}

func TestAddTempVertexRequiresEditMode(t *testing.T) {
	session, _ := newTestSession(t)

	var verr *ValidationError
	assert.ErrorAs(t, session.AddTempVertex(Point{1, 1}), &verr)
}

func TestPointAddReplacesShorterPath(t *testing.T) {
	session, _ := newTestSession(t)
	session.SetMode(ModeAddPoint)

	require.NoError(t, session.StartPointAdd("p1", 0))
	require.NoError(t, session.AddPathPoint(Point{50, -20}))
	require.NoError(t, session.CompletePointAdd(1))

	points := session.Polygons()[0].Points
	assert.Len(t, points, 5)
	// The bottom edge was replaced with a detour through (50,-20), adding a
	// 100x20 triangle to the area
	assert.InDelta(t, 11000, PolygonArea(points), 1e-9)
	assert.Equal(t, 2, session.HistoryLength())
}

func TestPointAddRejectsSelfIntersection(t *testing.T) {
	session, _ := newTestSession(t)
	before := session.Polygons()
	session.SetMode(ModeAddPoint)

	require.NoError(t, session.StartPointAdd("p1", 0))
	require.NoError(t, session.AddPathPoint(Point{50, 200}))

	var verr *ValidationError
	require.ErrorAs(t, session.CompletePointAdd(1), &verr)

	if diff := cmp.Diff(before, session.Polygons()); diff != "" {
		t.Fatalf("rejected edit mutated polygons (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, session.HistoryLength())
}

func TestPointAddValidation(t *testing.T) {
	session, _ := newTestSession(t)
	var verr *ValidationError

	assert.ErrorAs(t, session.StartPointAdd("p1", 0), &verr, "wrong mode")

	session.SetMode(ModeAddPoint)
	assert.ErrorAs(t, session.StartPointAdd("ghost", 0), &verr)
	assert.ErrorAs(t, session.StartPointAdd("p1", 99), &verr)
	assert.ErrorAs(t, session.AddPathPoint(Point{1, 1}), &verr, "no start anchor")

	require.NoError(t, session.StartPointAdd("p1", 0))
	assert.ErrorAs(t, session.CompletePointAdd(0), &verr, "end must differ from start")
	assert.ErrorAs(t, session.CompletePointAdd(-1), &verr)
}

func TestCommitSliceSplitsSelected(t *testing.T) {
	session, _ := newTestSession(t)

	require.NoError(t, session.SelectPolygon("p1"))
	session.SetMode(ModeSlice)
	require.NoError(t, session.AddSlicePoint(Point{50, -10}))
	require.NoError(t, session.AddSlicePoint(Point{50, 110}))

	id1, id2, err := session.CommitSlice()
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
	assert.Equal(t, id1, session.SelectedPolygonID())

	polygons := session.Polygons()
	require.Len(t, polygons, 2)
	assert.Equal(t, id1, polygons[0].ID)
	assert.Equal(t, id2, polygons[1].ID)
	assert.Equal(t, "cell", polygons[0].Class, "halves inherit the source class")

	// The two halves tile the original
	total := PolygonArea(polygons[0].Points) + PolygonArea(polygons[1].Points)
	assert.InDelta(t, 10000, total, 1e-6)
	assert.Equal(t, 2, session.HistoryLength())
}

func TestCommitSliceFailureLeavesListUntouched(t *testing.T) {
	session, _ := newTestSession(t)
	before := session.Polygons()

	require.NoError(t, session.SelectPolygon("p1"))
	session.SetMode(ModeSlice)
	require.NoError(t, session.AddSlicePoint(Point{500, 0}))
	require.NoError(t, session.AddSlicePoint(Point{500, 100}))

	_, _, err := session.CommitSlice()
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	if diff := cmp.Diff(before, session.Polygons()); diff != "" {
		t.Fatalf("failed slice mutated polygons (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, session.HistoryLength())
}

func TestSlicePointValidation(t *testing.T) {
	session, _ := newTestSession(t)
	var verr *ValidationError

	assert.ErrorAs(t, session.AddSlicePoint(Point{0, 0}), &verr, "wrong mode")

	session.SetMode(ModeSlice)
	require.NoError(t, session.AddSlicePoint(Point{0, 0}))
	require.NoError(t, session.AddSlicePoint(Point{1, 1}))
	assert.ErrorAs(t, session.AddSlicePoint(Point{2, 2}), &verr, "line has two endpoints")

	_, _, err := session.CommitSlice()
	assert.ErrorAs(t, err, &verr, "nothing selected")
}

func TestDeletePolygon(t *testing.T) {
	session, _ := newTestSession(t)

	require.NoError(t, session.SelectPolygon("p1"))
	require.NoError(t, session.DeletePolygon("p1"))

	assert.Empty(t, session.Polygons())
	assert.Empty(t, session.SelectedPolygonID(), "deleting the selection deselects")
	assert.Equal(t, 2, session.HistoryLength())

	var verr *ValidationError
	assert.ErrorAs(t, session.DeletePolygon("p1"), &verr)
}

func TestDeletePolygonAt(t *testing.T) {
	session, _ := newTestSession(t)

	var verr *ValidationError
	assert.ErrorAs(t, session.DeletePolygonAt(Point{500, 500}), &verr)
	require.Len(t, session.Polygons(), 1)

	require.NoError(t, session.DeletePolygonAt(Point{50, 50}))
	assert.Empty(t, session.Polygons())
}

func TestEscapeFallsBackBySelection(t *testing.T) {
	session, _ := newTestSession(t)

	session.SetMode(ModeSlice)
	session.Escape()
	assert.Equal(t, ModeView, session.Mode())

	require.NoError(t, session.SelectPolygon("p1"))
	session.SetMode(ModeSlice)
	session.Escape()
	assert.Equal(t, ModeEditVertices, session.Mode())
}

func TestSetModeClearsInteraction(t *testing.T) {
	session, _ := newTestSession(t)

	session.SetMode(ModeSlice)
	require.NoError(t, session.AddSlicePoint(Point{1, 1}))

	session.SetMode(ModeEditVertices)
	assert.Empty(t, session.TempPoints())
}

func TestSelectPolygon(t *testing.T) {
	session, _ := newTestSession(t)

	var verr *ValidationError
	assert.ErrorAs(t, session.SelectPolygon("ghost"), &verr)

	require.NoError(t, session.SelectPolygon("p1"))
	assert.Equal(t, "p1", session.SelectedPolygonID())

	require.NoError(t, session.SelectPolygon(""))
	assert.Empty(t, session.SelectedPolygonID())
}

func TestSaveTracksUnsavedChanges(t *testing.T) {
	session, _ := newTestSession(t)
	store := &fakeStore{}

	assert.False(t, session.HasUnsavedChanges())

	require.NoError(t, session.DeletePolygon("p1"))
	assert.True(t, session.HasUnsavedChanges())

	require.NoError(t, session.Save(store))
	assert.False(t, session.HasUnsavedChanges())
	assert.Equal(t, 1, store.calls)
	assert.Empty(t, store.saved["img-1"])

	// Undoing past the save point dirties the session again
	require.NoError(t, session.Undo())
	assert.True(t, session.HasUnsavedChanges())
}

func TestSaveFailureKeepsDirtyFlag(t *testing.T) {
	session, _ := newTestSession(t)
	store := &fakeStore{err: errors.New("disk full")}

	require.NoError(t, session.DeletePolygon("p1"))
	assert.Error(t, session.Save(store))
	assert.True(t, session.HasUnsavedChanges())
}

func TestUndoCancelsInFlightDrag(t *testing.T) {
	session, _ := newTestSession(t)

	// First make an edit so undo has something to step back to
	require.NoError(t, session.DeletePolygon("p1"))
	require.NoError(t, session.Undo())

	require.NoError(t, session.BeginVertexDrag("p1", Point{3, 4}, 10))
	session.UpdateVertexDrag(Point{40, 40})
	require.NoError(t, session.Redo())
	require.NoError(t, session.Undo())

	assert.Equal(t, Point{0, 0}, session.Polygons()[0].Points[0])
}
