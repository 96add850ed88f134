package main

import (
	"math"

	"github.com/dhconnelly/rtreego"
)

// linearScanThreshold is the vertex count below which building an R-tree
// costs more than it saves; small polygons use a direct linear scan.
const linearScanThreshold = 100

// vertexEntry wraps one polygon vertex for R-tree storage
type vertexEntry struct {
	index int
	rect  rtreego.Rect
}

// Bounds implements rtreego.Spatial
func (v *vertexEntry) Bounds() rtreego.Rect {
	return v.rect
}

// VertexIndex answers radius queries over one polygon's vertices. Results
// are candidate indices only; callers perform exact distance checks. A
// query through the index returns the same candidates as a linear scan
// would accept, the index is purely a performance optimization.
type VertexIndex struct {
	points []Point
	tree   *rtreego.Rtree
}

// NewVertexIndex builds an index over a polygon's points. Polygons under
// linearScanThreshold skip tree construction and scan directly.
func NewVertexIndex(points []Point) *VertexIndex {
	idx := &VertexIndex{points: clonePoints(points)}
	if len(points) < linearScanThreshold {
		return idx
	}

	tree := rtreego.NewTree(2, 25, 50) // 2D, min 25, max 50 entries per node
	for i, p := range points {
		rect, err := rtreego.NewRect(rtreego.Point{p.X, p.Y}, []float64{1e-9, 1e-9})
		if err != nil {
			continue
		}
		tree.Insert(&vertexEntry{index: i, rect: rect})
	}
	idx.tree = tree
	return idx
}

// FindPointsInRadius returns indices of vertices within radius of center
func (idx *VertexIndex) FindPointsInRadius(center Point, radius float64) []int {
	if idx.tree == nil {
		return idx.linearScan(center, radius)
	}

	rect, err := rtreego.NewRect(
		rtreego.Point{center.X - radius, center.Y - radius},
		[]float64{2 * radius, 2 * radius},
	)
	if err != nil {
		return idx.linearScan(center, radius)
	}

	results := idx.tree.SearchIntersect(rect)
	indices := make([]int, 0, len(results))
	for _, item := range results {
		entry := item.(*vertexEntry)
		// The rect query is a square; trim the corners
		if center.Distance(idx.points[entry.index]) <= radius {
			indices = append(indices, entry.index)
		}
	}
	return indices
}

// linearScan is the small-polygon fallback path
func (idx *VertexIndex) linearScan(center Point, radius float64) []int {
	indices := make([]int, 0)
	for i, p := range idx.points {
		if center.Distance(p) <= radius {
			indices = append(indices, i)
		}
	}
	return indices
}

// FindNearestVertex returns the index of the vertex closest to target
// within maxDistance, or -1 if none qualifies. Used for drag hit-testing.
func (idx *VertexIndex) FindNearestVertex(target Point, maxDistance float64) int {
	candidates := idx.FindPointsInRadius(target, maxDistance)

	best := -1
	bestDist := math.Inf(1)
	for _, i := range candidates {
		d := target.Distance(idx.points[i])
		if d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best
}

// FindNearestSegment returns the index of the edge (i, i+1 mod n) closest
// to target, along with the distance. Returns -1 for degenerate input.
func (idx *VertexIndex) FindNearestSegment(target Point) (int, float64) {
	n := len(idx.points)
	if n < 2 {
		return -1, 0
	}

	best := -1
	bestDist := math.Inf(1)
	for i := 0; i < n; i++ {
		d := DistanceToSegment(target, idx.points[i], idx.points[(i+1)%n])
		if d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best, bestDist
}
