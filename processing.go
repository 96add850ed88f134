package main

import (
	"context"
	"log"
)

// PolygonProcessingService exposes typed geometry operations executed on
// the worker pool. Simplification carries a synchronous local fallback so
// a pool failure degrades quality instead of breaking rendering.
type PolygonProcessingService struct {
	pool *WorkerPool
}

// NewPolygonProcessingService wraps an injected pool. The service owns no
// workers itself; terminating the pool invalidates the service.
func NewPolygonProcessingService(pool *WorkerPool) *PolygonProcessingService {
	return &PolygonProcessingService{pool: pool}
}

// Simplify reduces a polygon on a background worker. On any pool failure
// it falls back to local decimation; it never returns fewer than three
// points and never fails.
func (s *PolygonProcessingService) Simplify(ctx context.Context, points []Point, tolerance float64) []Point {
	if len(points) <= 3 || tolerance <= 0 {
		return clonePoints(points)
	}

	result, err := s.pool.Execute(ctx, GeometryRequest{
		Op:        OpSimplify,
		Points:    points,
		Tolerance: tolerance,
	})
	if err != nil {
		log.Printf("⚠️  Worker simplify failed, using local decimation: %v\n", err)
		return DecimatePoints(points, len(points)/2)
	}
	return result.Points
}

// SimplifyBatch simplifies many polygons in parallel, preserving order.
// Individual pool failures degrade that polygon to local decimation.
func (s *PolygonProcessingService) SimplifyBatch(ctx context.Context, polygons [][]Point, tolerance float64) [][]Point {
	reqs := make([]GeometryRequest, len(polygons))
	for i, points := range polygons {
		reqs[i] = GeometryRequest{Op: OpSimplify, Points: points, Tolerance: tolerance}
	}

	results, err := s.pool.ExecuteParallel(ctx, reqs)
	if err != nil {
		log.Printf("⚠️  Worker batch simplify failed, using local decimation: %v\n", err)
		out := make([][]Point, len(polygons))
		for i, points := range polygons {
			out[i] = DecimatePoints(points, len(points)/2)
		}
		return out
	}

	out := make([][]Point, len(results))
	for i, r := range results {
		out[i] = r.Points
	}
	return out
}

// Slice splits a polygon along a line on a background worker
func (s *PolygonProcessingService) Slice(ctx context.Context, points []Point, lineStart, lineEnd Point) ([]Point, []Point, error) {
	result, err := s.pool.Execute(ctx, GeometryRequest{
		Op:        OpSlice,
		Points:    points,
		LineStart: lineStart,
		LineEnd:   lineEnd,
	})
	if err != nil {
		return nil, nil, err
	}
	return result.Halves[0], result.Halves[1], nil
}

// Area computes the polygon's enclosed area
func (s *PolygonProcessingService) Area(ctx context.Context, points []Point) (float64, error) {
	result, err := s.pool.Execute(ctx, GeometryRequest{Op: OpArea, Points: points})
	if err != nil {
		return 0, err
	}
	return result.Value, nil
}

// ConvexHull computes the polygon's convex hull
func (s *PolygonProcessingService) ConvexHull(ctx context.Context, points []Point) ([]Point, error) {
	result, err := s.pool.Execute(ctx, GeometryRequest{Op: OpConvexHull, Points: points})
	if err != nil {
		return nil, err
	}
	return result.Points, nil
}

// Buffer grows or shrinks the polygon by distance
func (s *PolygonProcessingService) Buffer(ctx context.Context, points []Point, distance float64, segments int) ([]Point, error) {
	result, err := s.pool.Execute(ctx, GeometryRequest{
		Op:       OpBuffer,
		Points:   points,
		Distance: distance,
		Segments: segments,
	})
	if err != nil {
		return nil, err
	}
	return result.Points, nil
}

// ContainsPoint tests point membership including the boundary
func (s *PolygonProcessingService) ContainsPoint(ctx context.Context, points []Point, query Point) (bool, error) {
	result, err := s.pool.Execute(ctx, GeometryRequest{Op: OpPointInPolygon, Points: points, Query: query})
	if err != nil {
		return false, err
	}
	return result.Flag, nil
}

// Intersects tests whether two polygons overlap
func (s *PolygonProcessingService) Intersects(ctx context.Context, a, b []Point) (bool, error) {
	result, err := s.pool.Execute(ctx, GeometryRequest{Op: OpIntersect, Points: a, Other: b})
	if err != nil {
		return false, err
	}
	return result.Flag, nil
}
