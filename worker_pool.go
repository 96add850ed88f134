package main

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"
)

// GeometryOp identifies one worker-pool operation
type GeometryOp string

const (
	OpSimplify       GeometryOp = "simplify"
	OpSlice          GeometryOp = "slice"
	OpArea           GeometryOp = "area"
	OpConvexHull     GeometryOp = "convexHull"
	OpBuffer         GeometryOp = "buffer"
	OpPointInPolygon GeometryOp = "pointInPolygon"
	OpIntersect      GeometryOp = "intersect"
	OpBoundingBox    GeometryOp = "boundingBox"
)

// GeometryRequest carries one operation and its operands. Fields not used
// by the operation are ignored.
type GeometryRequest struct {
	Op        GeometryOp `json:"op"`
	Points    []Point    `json:"points"`
	Other     []Point    `json:"other,omitempty"`
	Tolerance float64    `json:"tolerance,omitempty"`
	Distance  float64    `json:"distance,omitempty"`
	Segments  int        `json:"segments,omitempty"`
	LineStart Point      `json:"lineStart,omitempty"`
	LineEnd   Point      `json:"lineEnd,omitempty"`
	Query     Point      `json:"query,omitempty"`
}

// GeometryResult carries the output of a worker operation; which field is
// populated depends on the operation
type GeometryResult struct {
	Points []Point     `json:"points,omitempty"`
	Halves [][]Point   `json:"halves,omitempty"`
	Value  float64     `json:"value,omitempty"`
	Flag   bool        `json:"flag,omitempty"`
	Box    BoundingBox `json:"box,omitempty"`
}

// ErrPoolTerminated is returned for work submitted after Terminate
var ErrPoolTerminated = errors.New("worker pool terminated")

// WorkerError wraps a failure (including a recovered panic) inside a worker
type WorkerError struct {
	Op    GeometryOp
	Cause error
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("worker %s failed: %v", e.Op, e.Cause)
}

func (e *WorkerError) Unwrap() error {
	return e.Cause
}

const (
	defaultIdleTimeout = 30 * time.Second
	// workerTaskCeiling bounds how many tasks one worker runs before it is
	// recycled, so a slow leak in a long-lived worker cannot accumulate
	workerTaskCeiling = 1000
)

type poolReply struct {
	result GeometryResult
	err    error
}

type poolTask struct {
	req   GeometryRequest
	reply chan poolReply
}

// WorkerPool runs geometry operations on a bounded set of background
// goroutines so the interaction path never blocks on CPU-heavy work.
// Construct one per process (or per test), inject it where needed, and
// Terminate it on teardown.
type WorkerPool struct {
	size        int
	idleTimeout time.Duration

	tasks chan poolTask
	quit  chan struct{}

	warmOnce sync.Once

	mu         sync.Mutex
	workers    int
	terminated bool
}

// DefaultPoolSize picks min(4, NumCPU) workers
func DefaultPoolSize() int {
	n := runtime.NumCPU()
	if n > 4 {
		n = 4
	}
	if n < 1 {
		n = 1
	}
	return n
}

// NewWorkerPool creates a pool with the given number of workers. Workers
// start lazily on first use (or WarmUp) and exit again when idle.
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = DefaultPoolSize()
	}
	return &WorkerPool{
		size:        size,
		idleTimeout: defaultIdleTimeout,
		tasks:       make(chan poolTask, size*4),
		quit:        make(chan struct{}),
	}
}

// WarmUp starts the full worker set ahead of demand. Safe to call
// concurrently; only the first call does the work.
func (p *WorkerPool) WarmUp() {
	p.warmOnce.Do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		for p.workers < p.size && !p.terminated {
			p.spawnLocked()
		}
	})
}

// spawnLocked starts one worker; caller holds p.mu
func (p *WorkerPool) spawnLocked() {
	p.workers++
	go p.workerLoop()
}

// ensureWorker lazily grows the worker set toward the configured size
func (p *WorkerPool) ensureWorker() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.workers < p.size && !p.terminated {
		p.spawnLocked()
	}
}

// workerLoop processes tasks until idle timeout, task ceiling or teardown
func (p *WorkerPool) workerLoop() {
	defer func() {
		p.mu.Lock()
		p.workers--
		// A task enqueued just before this exit has no other consumer;
		// hand it off to a fresh worker instead of stranding it
		if len(p.tasks) > 0 && !p.terminated && p.workers < p.size {
			p.spawnLocked()
		}
		p.mu.Unlock()
	}()

	served := 0
	idle := time.NewTimer(p.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-p.quit:
			return
		case task := <-p.tasks:
			task.reply <- runGeometryOp(task.req)
			served++
			if served >= workerTaskCeiling {
				return // Recycle; the exit handoff covers queued work
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(p.idleTimeout)
		case <-idle.C:
			return
		}
	}
}

// runGeometryOp executes one operation, converting panics into errors so a
// bad input can never take a worker down with it
func runGeometryOp(req GeometryRequest) (reply poolReply) {
	defer func() {
		if r := recover(); r != nil {
			workerFailuresTotal.WithLabelValues(string(req.Op)).Inc()
			reply = poolReply{err: &WorkerError{Op: req.Op, Cause: fmt.Errorf("panic: %v", r)}}
		}
	}()

	workerTasksTotal.WithLabelValues(string(req.Op)).Inc()

	switch req.Op {
	case OpSimplify:
		return poolReply{result: GeometryResult{Points: SimplifyPoints(req.Points, req.Tolerance)}}
	case OpSlice:
		half1, half2, err := SlicePolygon(req.Points, req.LineStart, req.LineEnd)
		if err != nil {
			workerFailuresTotal.WithLabelValues(string(req.Op)).Inc()
			return poolReply{err: &WorkerError{Op: req.Op, Cause: err}}
		}
		return poolReply{result: GeometryResult{Halves: [][]Point{half1, half2}}}
	case OpArea:
		return poolReply{result: GeometryResult{Value: PolygonArea(req.Points)}}
	case OpConvexHull:
		return poolReply{result: GeometryResult{Points: ConvexHull(req.Points)}}
	case OpBuffer:
		return poolReply{result: GeometryResult{Points: BufferPolygon(req.Points, req.Distance, req.Segments)}}
	case OpPointInPolygon:
		return poolReply{result: GeometryResult{Flag: IsPointInPolygon(req.Query, req.Points)}}
	case OpIntersect:
		return poolReply{result: GeometryResult{Flag: DoPolygonsIntersect(req.Points, req.Other)}}
	case OpBoundingBox:
		return poolReply{result: GeometryResult{Box: CalculateBoundingBox(req.Points)}}
	default:
		workerFailuresTotal.WithLabelValues(string(req.Op)).Inc()
		return poolReply{err: &WorkerError{Op: req.Op, Cause: errors.New("unknown operation")}}
	}
}

// Execute runs one operation on a background worker and waits for its
// result. The context bounds the wait, not the computation itself.
func (p *WorkerPool) Execute(ctx context.Context, req GeometryRequest) (GeometryResult, error) {
	if err := ctx.Err(); err != nil {
		return GeometryResult{}, err
	}

	p.mu.Lock()
	terminated := p.terminated
	p.mu.Unlock()
	if terminated {
		return GeometryResult{}, ErrPoolTerminated
	}

	task := poolTask{req: req, reply: make(chan poolReply, 1)}

	select {
	case p.tasks <- task:
	case <-p.quit:
		return GeometryResult{}, ErrPoolTerminated
	case <-ctx.Done():
		return GeometryResult{}, ctx.Err()
	}

	// Spawn after the enqueue so the task always has a live consumer:
	// either a worker exists past this point, or the last one's exit saw
	// the queued task and handed off
	p.ensureWorker()

	select {
	case reply := <-task.reply:
		return reply.result, reply.err
	case <-p.quit:
		return GeometryResult{}, ErrPoolTerminated
	case <-ctx.Done():
		return GeometryResult{}, ctx.Err()
	}
}

// ExecuteParallel fans a batch out across the workers. Output order always
// matches input order regardless of completion order. The first error
// aborts the batch result, though in-flight work still completes.
func (p *WorkerPool) ExecuteParallel(ctx context.Context, reqs []GeometryRequest) ([]GeometryResult, error) {
	results := make([]GeometryResult, len(reqs))
	errs := make([]error, len(reqs))

	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req GeometryRequest) {
			defer wg.Done()
			results[i], errs[i] = p.Execute(ctx, req)
		}(i, req)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

// ExecuteBatched chunks a large request list into fixed-size batches to
// bound peak memory and worker load
func (p *WorkerPool) ExecuteBatched(ctx context.Context, reqs []GeometryRequest, batchSize int) ([]GeometryResult, error) {
	if batchSize <= 0 {
		batchSize = p.size * 2
	}

	results := make([]GeometryResult, 0, len(reqs))
	for start := 0; start < len(reqs); start += batchSize {
		end := start + batchSize
		if end > len(reqs) {
			end = len(reqs)
		}
		batch, err := p.ExecuteParallel(ctx, reqs[start:end])
		if err != nil {
			return nil, err
		}
		results = append(results, batch...)
	}
	return results, nil
}

// Terminate stops accepting work and releases the workers. Outstanding
// Execute calls return ErrPoolTerminated; Terminate never waits on an
// uncooperative worker.
func (p *WorkerPool) Terminate() {
	p.mu.Lock()
	if p.terminated {
		p.mu.Unlock()
		return
	}
	p.terminated = true
	p.mu.Unlock()

	close(p.quit)
}
