package main

// smallSceneThreshold: below this many polygons culling overhead outweighs
// its benefit, so everything is rendered
const smallSceneThreshold = 10

// ViewContext describes the viewport for a visibility query
type ViewContext struct {
	Zoom                float64 `json:"zoom"`
	OffsetX             float64 `json:"offsetX"`
	OffsetY             float64 `json:"offsetY"`
	ContainerWidth      float64 `json:"containerWidth"`
	ContainerHeight     float64 `json:"containerHeight"`
	SelectedPolygonID   string  `json:"selectedPolygonId,omitempty"`
	ForceRenderSelected bool    `json:"forceRenderSelected,omitempty"`
}

// VisibilityResult is the culled render set
type VisibilityResult struct {
	VisiblePolygons []Polygon `json:"visiblePolygons"`
	VisibleCount    int       `json:"visibleCount"`
	CulledCount     int       `json:"culledCount"`
}

// VisibilityManager culls polygons outside the viewport to bound per-frame
// rendering cost. It reads polygons and the bounding box cache only; it
// never mutates either.
type VisibilityManager struct {
	bboxCache *BoundingBoxCache
}

// NewVisibilityManager shares the session's bounding box cache
func NewVisibilityManager(bboxCache *BoundingBoxCache) *VisibilityManager {
	return &VisibilityManager{bboxCache: bboxCache}
}

// viewportBounds converts the screen viewport into polygon space
func viewportBounds(ctx ViewContext) BoundingBox {
	zoom := ctx.Zoom
	if zoom <= 0 {
		zoom = 1
	}
	minX := (0 - ctx.OffsetX) / zoom
	minY := (0 - ctx.OffsetY) / zoom
	maxX := (ctx.ContainerWidth - ctx.OffsetX) / zoom
	maxY := (ctx.ContainerHeight - ctx.OffsetY) / zoom
	return BoundingBox{
		MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY,
		Width: maxX - minX, Height: maxY - minY,
	}
}

// GetVisiblePolygons returns the polygons whose bounding boxes intersect
// the viewport. Small scenes skip culling entirely; the selected polygon
// is force-included when requested so its handles stay operable during
// programmatic scroll-to-selection.
func (v *VisibilityManager) GetVisiblePolygons(polygons []Polygon, ctx ViewContext) VisibilityResult {
	if len(polygons) < smallSceneThreshold {
		return VisibilityResult{
			VisiblePolygons: polygons,
			VisibleCount:    len(polygons),
			CulledCount:     0,
		}
	}

	viewport := viewportBounds(ctx)
	visible := make([]Polygon, 0, len(polygons))

	for _, polygon := range polygons {
		var box BoundingBox
		if v.bboxCache != nil {
			box = v.bboxCache.GetBoundingBox(polygon.ID, polygon.Points)
		} else {
			box = CalculateBoundingBox(polygon.Points)
		}

		if box.Intersects(viewport) {
			visible = append(visible, polygon)
			continue
		}

		if ctx.ForceRenderSelected && polygon.ID == ctx.SelectedPolygonID {
			visible = append(visible, polygon)
		}
	}

	return VisibilityResult{
		VisiblePolygons: visible,
		VisibleCount:    len(visible),
		CulledCount:     len(polygons) - len(visible),
	}
}
