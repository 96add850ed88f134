package main

import (
	"math"
)

// SimplifyPoints reduces a closed polygon's complexity using the
// Douglas-Peucker algorithm. Simplification must never introduce a
// self-intersection: if it would, the tolerance is stepped down and
// retried, then a decimation fallback is tried, and as a last resort the
// original ring is returned unchanged. The result always keeps at least
// three points. This function never fails.
func SimplifyPoints(points []Point, tolerance float64) []Point {
	if len(points) <= 3 || tolerance <= 0 {
		return clonePoints(points)
	}

	eps := tolerance
	for attempt := 0; attempt < 3; attempt++ {
		simplified := simplifyRing(points, eps)
		if len(simplified) >= 3 && !IsSelfIntersecting(simplified) {
			return simplified
		}
		eps /= 2
	}

	// Decimation removes points uniformly; verify it too, a ring that was
	// already clean can still fold when thinned
	target := len(points) / 2
	if target < 3 {
		target = 3
	}
	decimated := DecimatePoints(points, target)
	if len(decimated) >= 3 && !IsSelfIntersecting(decimated) {
		return decimated
	}

	return clonePoints(points)
}

// simplifyRing runs Douglas-Peucker on a closed ring by cutting it open at
// vertex 0, simplifying the open path, and discarding the duplicate closer
func simplifyRing(points []Point, epsilon float64) []Point {
	open := make([]Point, 0, len(points)+1)
	open = append(open, points...)
	open = append(open, points[0])

	simplified := douglasPeucker(open, epsilon)
	if len(simplified) > 1 {
		simplified = simplified[:len(simplified)-1]
	}
	return simplified
}

// douglasPeucker implements the Douglas-Peucker line simplification
// algorithm on an open path, always keeping the endpoints
func douglasPeucker(points []Point, epsilon float64) []Point {
	if len(points) <= 2 {
		return clonePoints(points)
	}

	// Find the point with maximum distance from the line first-last
	dmax := 0.0
	index := 0
	end := len(points) - 1

	for i := 1; i < end; i++ {
		d := perpendicularDistance(points[i], points[0], points[end])
		if d > dmax {
			index = i
			dmax = d
		}
	}

	if dmax > epsilon {
		left := douglasPeucker(points[0:index+1], epsilon)
		right := douglasPeucker(points[index:], epsilon)

		// Combine, dropping the duplicated split point
		result := make([]Point, 0, len(left)+len(right)-1)
		result = append(result, left[:len(left)-1]...)
		result = append(result, right...)
		return result
	}

	return []Point{points[0], points[end]}
}

// perpendicularDistance calculates perpendicular distance from point to
// the line through lineStart and lineEnd
func perpendicularDistance(point, lineStart, lineEnd Point) float64 {
	dx := lineEnd.X - lineStart.X
	dy := lineEnd.Y - lineStart.Y

	mag := math.Sqrt(dx*dx + dy*dy)
	if mag > 0 {
		dx /= mag
		dy /= mag
	}

	pvx := point.X - lineStart.X
	pvy := point.Y - lineStart.Y

	pvdot := dx*pvx + dy*pvy

	ax := pvx - pvdot*dx
	ay := pvy - pvdot*dy

	return math.Sqrt(ax*ax + ay*ay)
}

// DecimatePoints thins a point sequence to at most target points by
// keeping every k-th point. The first point is always kept; at least three
// points survive for any target.
func DecimatePoints(points []Point, target int) []Point {
	if target < 3 {
		target = 3
	}
	if len(points) <= target {
		return clonePoints(points)
	}

	step := float64(len(points)) / float64(target)
	result := make([]Point, 0, target)
	for i := 0; i < target; i++ {
		idx := int(float64(i) * step)
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}

// EstimateSimplificationTolerance suggests a tolerance from the vertex
// count, conservative so topology survives
func EstimateSimplificationTolerance(vertexCount int) float64 {
	switch {
	case vertexCount > 50000:
		return 20.0
	case vertexCount > 30000:
		return 15.0
	case vertexCount > 20000:
		return 10.0
	case vertexCount > 10000:
		return 7.0
	case vertexCount > 5000:
		return 5.0
	case vertexCount > 2000:
		return 3.0
	case vertexCount > 1000:
		return 2.0
	}
	return 1.0
}
