package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	bboxCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "editor_bbox_cache_hits_total",
		Help: "Total bounding box cache hits",
	})
	bboxCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "editor_bbox_cache_misses_total",
		Help: "Total bounding box cache misses",
	})
	lodCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "editor_lod_cache_hits_total",
		Help: "Total LOD cache hits",
	})
	lodCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "editor_lod_cache_misses_total",
		Help: "Total LOD cache misses",
	})
	workerTasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "editor_worker_tasks_total",
		Help: "Total geometry tasks executed by the worker pool",
	}, []string{"op"})
	workerFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "editor_worker_failures_total",
		Help: "Total geometry tasks that failed or panicked",
	}, []string{"op"})
	editOperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "editor_edit_operations_total",
		Help: "Total committed edit operations",
	}, []string{"op"})
	editRejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "editor_edit_rejections_total",
		Help: "Total edit operations rejected by validation",
	}, []string{"op"})
	frameTimeMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "editor_frame_time_ms",
		Help:    "Reported render frame times in milliseconds",
		Buckets: []float64{4, 8, 16, 33, 66, 100, 200, 500},
	})
)

func init() {
	prometheus.MustRegister(
		bboxCacheHitsTotal,
		bboxCacheMissesTotal,
		lodCacheHitsTotal,
		lodCacheMissesTotal,
		workerTasksTotal,
		workerFailuresTotal,
		editOperationsTotal,
		editRejectionsTotal,
		frameTimeMs,
	)
}

// MetricsHandler exposes the prometheus registry
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
