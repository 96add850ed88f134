package main

import (
	"errors"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// PolygonType distinguishes outer boundaries from holes
type PolygonType string

const (
	PolygonExternal PolygonType = "external"
	PolygonInternal PolygonType = "internal"
)

// Point represents a 2D coordinate in image space
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Polygon represents a segmented cell or spheroid boundary
type Polygon struct {
	ID     string      `json:"id"`
	Points []Point     `json:"points"`
	Type   PolygonType `json:"type"`
	Class  string      `json:"class,omitempty"`
}

// BoundingBox represents an axis-aligned rectangle enclosing a polygon
type BoundingBox struct {
	MinX   float64 `json:"minX"`
	MinY   float64 `json:"minY"`
	MaxX   float64 `json:"maxX"`
	MaxY   float64 `json:"maxY"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// boundaryEpsilon is the distance within which a point counts as lying on
// a polygon edge. Boundary points are treated as inside the polygon.
const boundaryEpsilon = 1e-9

// Distance calculates Euclidean distance between two points
func (p Point) Distance(other Point) float64 {
	dx := p.X - other.X
	dy := p.Y - other.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// CalculateBoundingBox computes the axis-aligned bounding box for a point
// sequence. An empty sequence yields a degenerate zero box, never an error.
func CalculateBoundingBox(points []Point) BoundingBox {
	if len(points) == 0 {
		return BoundingBox{}
	}

	bbox := BoundingBox{
		MinX: points[0].X,
		MinY: points[0].Y,
		MaxX: points[0].X,
		MaxY: points[0].Y,
	}

	for _, p := range points[1:] {
		bbox.MinX = math.Min(bbox.MinX, p.X)
		bbox.MinY = math.Min(bbox.MinY, p.Y)
		bbox.MaxX = math.Max(bbox.MaxX, p.X)
		bbox.MaxY = math.Max(bbox.MaxY, p.Y)
	}

	bbox.Width = bbox.MaxX - bbox.MinX
	bbox.Height = bbox.MaxY - bbox.MinY
	return bbox
}

// Intersects checks whether two bounding boxes overlap
func (b BoundingBox) Intersects(other BoundingBox) bool {
	return b.MinX <= other.MaxX && b.MaxX >= other.MinX &&
		b.MinY <= other.MaxY && b.MaxY >= other.MinY
}

// ClosestPointOnSegment projects p onto segment ab, clamping the segment
// parameter to [0, 1]
func ClosestPointOnSegment(p, a, b Point) Point {
	dx := b.X - a.X
	dy := b.Y - a.Y

	lengthSq := dx*dx + dy*dy
	if lengthSq == 0 {
		return a // Degenerate segment
	}

	t := ((p.X-a.X)*dx + (p.Y-a.Y)*dy) / lengthSq
	t = math.Max(0, math.Min(1, t))

	return Point{X: a.X + t*dx, Y: a.Y + t*dy}
}

// DistanceToSegment calculates the distance from p to segment ab
func DistanceToSegment(p, a, b Point) float64 {
	return p.Distance(ClosestPointOnSegment(p, a, b))
}

// LineSegment represents a line segment between two points
type LineSegment struct {
	P1, P2 Point
}

// direction calculates the cross product to determine orientation
func direction(p1, p2, p3 Point) float64 {
	return (p3.X-p1.X)*(p2.Y-p1.Y) - (p2.X-p1.X)*(p3.Y-p1.Y)
}

// onSegment checks if point q lies on segment pr
func onSegment(p, r, q Point) bool {
	return q.X <= math.Max(p.X, r.X) && q.X >= math.Min(p.X, r.X) &&
		q.Y <= math.Max(p.Y, r.Y) && q.Y >= math.Min(p.Y, r.Y)
}

// DoSegmentsIntersect checks if two line segments intersect, including
// collinear overlap but excluding shared endpoints
func DoSegmentsIntersect(seg1, seg2 LineSegment) bool {
	p1, p2 := seg1.P1, seg1.P2
	p3, p4 := seg2.P1, seg2.P2

	// Segments that share endpoints are adjacent, not intersecting
	if (p1 == p3 && p2 == p4) || (p1 == p4 && p2 == p3) {
		return false
	}
	if p1 == p3 || p1 == p4 || p2 == p3 || p2 == p4 {
		return false
	}

	d1 := direction(p3, p4, p1)
	d2 := direction(p3, p4, p2)
	d3 := direction(p1, p2, p3)
	d4 := direction(p1, p2, p4)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}

	// Collinear cases
	if d1 == 0 && onSegment(p3, p4, p1) {
		return true
	}
	if d2 == 0 && onSegment(p3, p4, p2) {
		return true
	}
	if d3 == 0 && onSegment(p1, p2, p3) {
		return true
	}
	if d4 == 0 && onSegment(p1, p2, p4) {
		return true
	}

	return false
}

// SegmentIntersection computes the intersection point of two segments.
// Returns false for parallel, collinear or non-crossing segments.
func SegmentIntersection(seg1, seg2 LineSegment) (Point, bool) {
	x1, y1 := seg1.P1.X, seg1.P1.Y
	x2, y2 := seg1.P2.X, seg1.P2.Y
	x3, y3 := seg2.P1.X, seg2.P1.Y
	x4, y4 := seg2.P2.X, seg2.P2.Y

	denom := (x2-x1)*(y4-y3) - (y2-y1)*(x4-x3)
	if math.Abs(denom) < 1e-12 {
		return Point{}, false
	}

	t := ((x3-x1)*(y4-y3) - (y3-y1)*(x4-x3)) / denom
	u := ((x3-x1)*(y2-y1) - (y3-y1)*(x2-x1)) / denom

	if t < 0 || t > 1 || u < 0 || u > 1 {
		return Point{}, false
	}

	return Point{X: x1 + t*(x2-x1), Y: y1 + t*(y2-y1)}, true
}

// IsPointInPolygon checks if a point is inside a polygon using ray casting.
// Points lying on the boundary (within boundaryEpsilon) count as inside.
func IsPointInPolygon(point Point, points []Point) bool {
	n := len(points)
	if n < 3 {
		return false
	}

	// Boundary check first: ray casting is unreliable exactly on edges
	for i := 0; i < n; i++ {
		if DistanceToSegment(point, points[i], points[(i+1)%n]) <= boundaryEpsilon {
			return true
		}
	}

	count := 0
	for i := 0; i < n; i++ {
		v1 := points[i]
		v2 := points[(i+1)%n]

		// Check if the ray from point to the right crosses the edge
		if (v1.Y > point.Y) != (v2.Y > point.Y) {
			slope := (point.X-v1.X)*(v2.Y-v1.Y) - (v2.X-v1.X)*(point.Y-v1.Y)
			if v2.Y > v1.Y {
				if slope > 0 {
					count++
				}
			} else {
				if slope < 0 {
					count++
				}
			}
		}
	}

	return count%2 == 1
}

// IsSelfIntersecting checks all non-adjacent edge pairs for intersection.
// O(n^2) is acceptable for the vertex counts this editor handles.
func IsSelfIntersecting(points []Point) bool {
	n := len(points)
	if n < 4 {
		return false
	}

	for i := 0; i < n; i++ {
		seg1 := LineSegment{P1: points[i], P2: points[(i+1)%n]}
		for j := i + 2; j < n; j++ {
			// The ring-closing edge shares a vertex with edge 0
			if i == 0 && j == n-1 {
				continue
			}
			seg2 := LineSegment{P1: points[j], P2: points[(j+1)%n]}
			if DoSegmentsIntersect(seg1, seg2) {
				return true
			}
		}
	}

	return false
}

// crossProduct calculates the cross product of vectors (b-a) and (c-a)
func crossProduct(a, b, c Point) float64 {
	return (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
}

// ConvexHull computes the convex hull using Graham scan
func ConvexHull(points []Point) []Point {
	if len(points) < 3 {
		return clonePoints(points)
	}

	work := clonePoints(points)

	// Find the point with lowest Y (and lowest X if tied)
	start := 0
	for i := 1; i < len(work); i++ {
		if work[i].Y < work[start].Y ||
			(work[i].Y == work[start].Y && work[i].X < work[start].X) {
			start = i
		}
	}
	work[0], work[start] = work[start], work[0]
	pivot := work[0]

	sorted := work[1:]
	sortPointsByAngle(pivot, sorted)

	hull := []Point{pivot, sorted[0]}
	for i := 1; i < len(sorted); i++ {
		// Remove points that create a right turn
		for len(hull) > 1 && crossProduct(hull[len(hull)-2], hull[len(hull)-1], sorted[i]) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, sorted[i])
	}

	return hull
}

// sortPointsByAngle sorts points by polar angle around pivot, nearer first
// on ties so Graham scan discards duplicates correctly
func sortPointsByAngle(pivot Point, points []Point) {
	less := func(a, b Point) bool {
		angleA := math.Atan2(a.Y-pivot.Y, a.X-pivot.X)
		angleB := math.Atan2(b.Y-pivot.Y, b.X-pivot.X)
		if angleA != angleB {
			return angleA < angleB
		}
		return pivot.Distance(a) < pivot.Distance(b)
	}
	// Insertion sort, hull inputs are small
	for i := 1; i < len(points); i++ {
		for j := i; j > 0 && less(points[j], points[j-1]); j-- {
			points[j], points[j-1] = points[j-1], points[j]
		}
	}
}

// BufferPolygon expands (or shrinks, for negative distance) a polygon by
// offsetting every vertex along its angle bisector. The segments parameter
// caps how many vertices the result keeps (0 keeps all).
func BufferPolygon(points []Point, distance float64, segments int) []Point {
	n := len(points)
	if n < 3 || distance == 0 {
		return clonePoints(points)
	}

	// Offset direction depends on winding
	sign := 1.0
	if signedArea(points) < 0 {
		sign = -1.0
	}

	result := make([]Point, 0, n)
	for i := 0; i < n; i++ {
		prev := points[(i-1+n)%n]
		curr := points[i]
		next := points[(i+1)%n]

		n1x, n1y := edgeNormal(prev, curr, sign)
		n2x, n2y := edgeNormal(curr, next, sign)

		bx := n1x + n2x
		by := n1y + n2y
		mag := math.Sqrt(bx*bx + by*by)
		if mag < 1e-12 {
			// Degenerate spike, offset along the single normal
			bx, by, mag = n1x, n1y, 1
		}
		bx /= mag
		by /= mag

		// Scale so the adjacent edges end up exactly distance away (miter)
		dot := bx*n1x + by*n1y
		scale := distance
		if math.Abs(dot) > 1e-6 {
			scale = distance / dot
		}

		result = append(result, Point{X: curr.X + bx*scale, Y: curr.Y + by*scale})
	}

	if segments > 0 && len(result) > segments {
		result = DecimatePoints(result, segments)
	}
	return result
}

// edgeNormal returns the unit normal of edge ab facing outward
func edgeNormal(a, b Point, sign float64) (float64, float64) {
	dx := b.X - a.X
	dy := b.Y - a.Y
	mag := math.Sqrt(dx*dx + dy*dy)
	if mag < 1e-12 {
		return 0, 0
	}
	return sign * dy / mag, sign * -dx / mag
}

// signedArea computes twice the signed area of the ring (positive for
// counter-clockwise winding)
func signedArea(points []Point) float64 {
	area := 0.0
	n := len(points)
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		area += points[i].X*points[j].Y - points[j].X*points[i].Y
	}
	return area
}

// ErrSliceLineMisses indicates the slice line does not cross the polygon
// boundary at exactly two edges
var ErrSliceLineMisses = errors.New("line does not intersect polygon at exactly two edges")

// ErrSliceDegenerate indicates slicing would produce a fragment with fewer
// than three vertices
var ErrSliceDegenerate = errors.New("slice would produce degenerate fragment")

// SlicePolygon splits a polygon along the segment lineStart-lineEnd.
// It either returns exactly two valid halves or an error; it never returns
// a single degenerate polygon.
func SlicePolygon(points []Point, lineStart, lineEnd Point) ([]Point, []Point, error) {
	n := len(points)
	if n < 3 {
		return nil, nil, ErrSliceDegenerate
	}

	line := LineSegment{P1: lineStart, P2: lineEnd}

	type crossing struct {
		edge  int
		point Point
	}
	var crossings []crossing

	for i := 0; i < n; i++ {
		edge := LineSegment{P1: points[i], P2: points[(i+1)%n]}
		if ip, ok := SegmentIntersection(line, edge); ok {
			// Collapse duplicate hits at shared edge endpoints
			dup := false
			for _, c := range crossings {
				if ip.Distance(c.point) < 1e-9 {
					dup = true
					break
				}
			}
			if !dup {
				crossings = append(crossings, crossing{edge: i, point: ip})
			}
		}
	}

	if len(crossings) != 2 {
		return nil, nil, ErrSliceLineMisses
	}

	first, second := crossings[0], crossings[1]

	// First half: entry point, vertices between the crossed edges, exit point
	half1 := []Point{first.point}
	for i := first.edge + 1; i <= second.edge; i++ {
		half1 = append(half1, points[i])
	}
	half1 = append(half1, second.point)

	// Second half: exit point, remaining vertices wrapping the ring, entry point
	half2 := []Point{second.point}
	for i := second.edge + 1; i < n; i++ {
		half2 = append(half2, points[i])
	}
	for i := 0; i <= first.edge; i++ {
		half2 = append(half2, points[i])
	}
	half2 = append(half2, first.point)

	if len(half1) < 3 || len(half2) < 3 {
		return nil, nil, ErrSliceDegenerate
	}

	return half1, half2, nil
}

// DoPolygonsIntersect checks whether two polygons overlap, by edge
// crossing or full containment either way
func DoPolygonsIntersect(a, b []Point) bool {
	if len(a) < 3 || len(b) < 3 {
		return false
	}

	// Cheap bounding box rejection first
	if !CalculateBoundingBox(a).Intersects(CalculateBoundingBox(b)) {
		return false
	}

	for i := 0; i < len(a); i++ {
		seg1 := LineSegment{P1: a[i], P2: a[(i+1)%len(a)]}
		for j := 0; j < len(b); j++ {
			seg2 := LineSegment{P1: b[j], P2: b[(j+1)%len(b)]}
			if DoSegmentsIntersect(seg1, seg2) {
				return true
			}
		}
	}

	// No edge crossings: one may still contain the other
	return IsPointInPolygon(a[0], b) || IsPointInPolygon(b[0], a)
}

// pointsToRing converts a point sequence to a closed orb ring
func pointsToRing(points []Point) orb.Ring {
	ring := make(orb.Ring, 0, len(points)+1)
	for _, p := range points {
		ring = append(ring, orb.Point{p.X, p.Y})
	}
	if len(ring) > 0 && ring[0] != ring[len(ring)-1] {
		ring = append(ring, ring[0])
	}
	return ring
}

// PolygonArea computes the unsigned area enclosed by the point sequence
func PolygonArea(points []Point) float64 {
	if len(points) < 3 {
		return 0
	}
	return math.Abs(planar.Area(pointsToRing(points)))
}

// PolygonCentroid computes the area-weighted centroid of the polygon
func PolygonCentroid(points []Point) Point {
	if len(points) == 0 {
		return Point{}
	}
	centroid, _ := planar.CentroidArea(pointsToRing(points))
	return Point{X: centroid.X(), Y: centroid.Y()}
}

// PolygonPerimeter computes the closed-ring perimeter of the point sequence
func PolygonPerimeter(points []Point) float64 {
	n := len(points)
	if n < 2 {
		return 0
	}
	total := 0.0
	for i := 0; i < n; i++ {
		total += points[i].Distance(points[(i+1)%n])
	}
	return total
}

// PathLength computes the open-path length of the point sequence
func PathLength(points []Point) float64 {
	total := 0.0
	for i := 0; i+1 < len(points); i++ {
		total += points[i].Distance(points[i+1])
	}
	return total
}

// PointsEqual checks if two points are equal within tolerance
func PointsEqual(a, b Point, tolerance float64) bool {
	return math.Abs(a.X-b.X) <= tolerance && math.Abs(a.Y-b.Y) <= tolerance
}

// clonePoints returns an independent copy of a point sequence
func clonePoints(points []Point) []Point {
	if points == nil {
		return nil
	}
	out := make([]Point, len(points))
	copy(out, points)
	return out
}

// clonePolygon returns a deep copy of a polygon
func clonePolygon(p Polygon) Polygon {
	return Polygon{ID: p.ID, Points: clonePoints(p.Points), Type: p.Type, Class: p.Class}
}

// clonePolygons returns a deep copy of a polygon list
func clonePolygons(polygons []Polygon) []Polygon {
	out := make([]Polygon, len(polygons))
	for i, p := range polygons {
		out[i] = clonePolygon(p)
	}
	return out
}
