package main

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPoolExecute(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Terminate()

	result, err := pool.Execute(context.Background(), GeometryRequest{
		Op:     OpArea,
		Points: squarePoints(),
	})
	require.NoError(t, err)
	assert.InDelta(t, 10000, result.Value, 1e-9)
}

func TestWorkerPoolWarmUpIsIdempotent(t *testing.T) {
	pool := NewWorkerPool(3)
	defer pool.Terminate()

	pool.WarmUp()
	pool.WarmUp()

	pool.mu.Lock()
	workers := pool.workers
	pool.mu.Unlock()
	assert.Equal(t, 3, workers)
}

func TestWorkerPoolAllOperations(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Terminate()
	ctx := context.Background()

	simplify, err := pool.Execute(ctx, GeometryRequest{Op: OpSimplify, Points: squareWithMidpoints(), Tolerance: 0.5})
	require.NoError(t, err)
	assert.Less(t, len(simplify.Points), 8)

	slice, err := pool.Execute(ctx, GeometryRequest{
		Op: OpSlice, Points: squarePoints(),
		LineStart: Point{50, -10}, LineEnd: Point{50, 110},
	})
	require.NoError(t, err)
	require.Len(t, slice.Halves, 2)

	hull, err := pool.Execute(ctx, GeometryRequest{Op: OpConvexHull, Points: append(squarePoints(), Point{50, 50})})
	require.NoError(t, err)
	assert.Len(t, hull.Points, 4)

	buffer, err := pool.Execute(ctx, GeometryRequest{Op: OpBuffer, Points: squarePoints(), Distance: 10})
	require.NoError(t, err)
	assert.Len(t, buffer.Points, 4)

	pip, err := pool.Execute(ctx, GeometryRequest{Op: OpPointInPolygon, Points: squarePoints(), Query: Point{50, 50}})
	require.NoError(t, err)
	assert.True(t, pip.Flag)

	intersect, err := pool.Execute(ctx, GeometryRequest{
		Op: OpIntersect, Points: squarePoints(),
		Other: []Point{{50, 50}, {150, 50}, {150, 150}, {50, 150}},
	})
	require.NoError(t, err)
	assert.True(t, intersect.Flag)

	box, err := pool.Execute(ctx, GeometryRequest{Op: OpBoundingBox, Points: squarePoints()})
	require.NoError(t, err)
	assert.Equal(t, 100.0, box.Box.Width)
}

func TestWorkerPoolUnknownOperation(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Terminate()

	_, err := pool.Execute(context.Background(), GeometryRequest{Op: "transmogrify"})
	var werr *WorkerError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, GeometryOp("transmogrify"), werr.Op)
}

func TestWorkerPoolSliceErrorIsTyped(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Terminate()

	_, err := pool.Execute(context.Background(), GeometryRequest{
		Op: OpSlice, Points: squarePoints(),
		LineStart: Point{500, 0}, LineEnd: Point{500, 100},
	})
	var werr *WorkerError
	require.ErrorAs(t, err, &werr)
	assert.ErrorIs(t, err, ErrSliceLineMisses)
}

func TestExecuteParallelPreservesOrder(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Terminate()

	reqs := make([]GeometryRequest, 40)
	for i := range reqs {
		side := float64(i + 1)
		reqs[i] = GeometryRequest{
			Op:     OpArea,
			Points: []Point{{0, 0}, {side, 0}, {side, side}, {0, side}},
		}
	}

	results, err := pool.ExecuteParallel(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, results, 40)

	for i, result := range results {
		side := float64(i + 1)
		assert.InDelta(t, side*side, result.Value, 1e-9, "result %d out of order", i)
	}
}

func TestExecuteBatched(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Terminate()

	reqs := make([]GeometryRequest, 10)
	for i := range reqs {
		side := float64(i + 1)
		reqs[i] = GeometryRequest{
			Op:     OpArea,
			Points: []Point{{0, 0}, {side, 0}, {side, side}, {0, side}},
		}
	}

	results, err := pool.ExecuteBatched(context.Background(), reqs, 3)
	require.NoError(t, err)
	require.Len(t, results, 10)
	for i, result := range results {
		side := float64(i + 1)
		assert.InDelta(t, side*side, result.Value, 1e-9)
	}
}

func TestTerminateRejectsNewWork(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.WarmUp()
	pool.Terminate()

	_, err := pool.Execute(context.Background(), GeometryRequest{Op: OpArea, Points: squarePoints()})
	assert.ErrorIs(t, err, ErrPoolTerminated)

	// A second Terminate is harmless
	pool.Terminate()
}

func TestExecuteHonorsContext(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Terminate()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := pool.Execute(ctx, GeometryRequest{Op: OpArea, Points: squarePoints()})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWorkerRecyclesAfterTaskCeiling(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Terminate()

	// Push one worker across the recycle ceiling with everything in flight
	// at once; tasks queued behind the recycling worker must still complete
	reqs := make([]GeometryRequest, workerTaskCeiling+50)
	for i := range reqs {
		side := float64(i%10 + 1)
		reqs[i] = GeometryRequest{
			Op:     OpArea,
			Points: []Point{{0, 0}, {side, 0}, {side, side}, {0, side}},
		}
	}

	results, err := pool.ExecuteParallel(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, results, len(reqs))
	for i, result := range results {
		side := float64(i%10 + 1)
		assert.InDelta(t, side*side, result.Value, 1e-9, "result %d", i)
	}
}

func TestExecuteSurvivesIdleExitRace(t *testing.T) {
	pool := NewWorkerPool(1)
	pool.idleTimeout = time.Nanosecond
	defer pool.Terminate()

	// With an instant idle timeout the sole worker constantly exits right
	// around the enqueue; no request may ever be left without a consumer
	for i := 0; i < 2000; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		result, err := pool.Execute(ctx, GeometryRequest{Op: OpArea, Points: squarePoints()})
		cancel()
		require.NoError(t, err, "request %d", i)
		assert.InDelta(t, 10000, result.Value, 1e-9)
	}
}

func TestProcessingServiceSimplifyFallsBackAfterTerminate(t *testing.T) {
	pool := NewWorkerPool(1)
	pool.Terminate()
	service := NewPolygonProcessingService(pool)

	points := make([]Point, 64)
	for i := range points {
		angle := float64(i) / 64 * 2 * math.Pi
		points[i] = Point{X: 100 * math.Cos(angle), Y: 100 * math.Sin(angle)}
	}

	// Pool is dead; the service must degrade to local decimation
	simplified := service.Simplify(context.Background(), points, 1)
	assert.GreaterOrEqual(t, len(simplified), 3)
	assert.Less(t, len(simplified), 64)
}

func TestProcessingServiceBatch(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Terminate()
	service := NewPolygonProcessingService(pool)

	inputs := [][]Point{squareWithMidpoints(), squareWithMidpoints(), squareWithMidpoints()}
	outputs := service.SimplifyBatch(context.Background(), inputs, 0.5)

	require.Len(t, outputs, 3)
	for _, out := range outputs {
		assert.Less(t, len(out), 8)
		assert.GreaterOrEqual(t, len(out), 3)
	}
}

func TestProcessingServiceQueries(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Terminate()
	service := NewPolygonProcessingService(pool)
	ctx := context.Background()

	area, err := service.Area(ctx, squarePoints())
	require.NoError(t, err)
	assert.InDelta(t, 10000, area, 1e-9)

	inside, err := service.ContainsPoint(ctx, squarePoints(), Point{1, 1})
	require.NoError(t, err)
	assert.True(t, inside)

	half1, half2, err := service.Slice(ctx, squarePoints(), Point{50, -10}, Point{50, 110})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(half1), 3)
	assert.GreaterOrEqual(t, len(half2), 3)

	_, err = service.Buffer(ctx, squarePoints(), 5, 0)
	require.NoError(t, err)

	overlaps, err := service.Intersects(ctx, squarePoints(), []Point{{200, 200}, {210, 200}, {210, 210}})
	require.NoError(t, err)
	assert.False(t, overlaps)
}

func TestWorkerPoolIdleRecycling(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.idleTimeout = 20 * time.Millisecond
	defer pool.Terminate()

	_, err := pool.Execute(context.Background(), GeometryRequest{Op: OpArea, Points: squarePoints()})
	require.NoError(t, err)

	// Idle workers wind down...
	assert.Eventually(t, func() bool {
		pool.mu.Lock()
		defer pool.mu.Unlock()
		return pool.workers == 0
	}, time.Second, 5*time.Millisecond)

	// ...and respawn transparently on the next request
	result, err := pool.Execute(context.Background(), GeometryRequest{Op: OpArea, Points: squarePoints()})
	require.NoError(t, err)
	assert.InDelta(t, 10000, result.Value, 1e-9)
}

func ExampleWorkerPool() {
	pool := NewWorkerPool(2)
	defer pool.Terminate()

	result, _ := pool.Execute(context.Background(), GeometryRequest{
		Op:     OpArea,
		Points: []Point{{0, 0}, {10, 0}, {10, 10}, {0, 10}},
	})
	fmt.Println(result.Value)
	// Output: 100
}
