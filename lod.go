package main

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"
)

// RenderQuality is the adaptive quality tier applied on top of zoom-based
// level selection
type RenderQuality int

const (
	QualityLow RenderQuality = iota
	QualityMedium
	QualityHigh
	QualityUltra
)

// levelShift maps a quality tier to a level index adjustment; negative
// shifts select coarser levels
func (q RenderQuality) levelShift() int {
	switch q {
	case QualityLow:
		return -2
	case QualityMedium:
		return -1
	case QualityUltra:
		return 1
	default:
		return 0
	}
}

func (q RenderQuality) String() string {
	switch q {
	case QualityLow:
		return "low"
	case QualityMedium:
		return "medium"
	case QualityUltra:
		return "ultra"
	default:
		return "high"
	}
}

// LODLevel is one static simplification tier. The configured list must
// have monotonically increasing MinZoom and cover [0, +inf) gap-free.
type LODLevel struct {
	Name         string
	MinZoom      float64
	MaxZoom      float64 // exclusive; +inf for the last level
	Tolerance    float64
	MaxVertices  int // 0 means unlimited
	ShowVertices bool
	ShowStrokes  bool
	ShowFills    bool
}

// DefaultLODLevels returns the standard five-tier table
func DefaultLODLevels() []LODLevel {
	return []LODLevel{
		{Name: "minimal", MinZoom: 0, MaxZoom: 0.5, Tolerance: 8, MaxVertices: 32, ShowStrokes: true},
		{Name: "coarse", MinZoom: 0.5, MaxZoom: 1.0, Tolerance: 4, MaxVertices: 64, ShowStrokes: true, ShowFills: true},
		{Name: "medium", MinZoom: 1.0, MaxZoom: 2.0, Tolerance: 2, MaxVertices: 128, ShowStrokes: true, ShowFills: true},
		{Name: "fine", MinZoom: 2.0, MaxZoom: 4.0, Tolerance: 1, MaxVertices: 256, ShowVertices: true, ShowStrokes: true, ShowFills: true},
		{Name: "full", MinZoom: 4.0, MaxZoom: math.Inf(1), Tolerance: 0, MaxVertices: 0, ShowVertices: true, ShowStrokes: true, ShowFills: true},
	}
}

// RenderHints carries per-polygon presentation parameters derived from
// zoom, selection and quality tier
type RenderHints struct {
	StrokeWidth  float64 `json:"strokeWidth"`
	Opacity      float64 `json:"opacity"`
	ShowVertices bool    `json:"showVertices"`
	Shadows      bool    `json:"shadows"`
	Antialias    bool    `json:"antialias"`
}

// LODPolygon is an ephemeral simplified view of a polygon at one level
type LODPolygon struct {
	OriginalID          string      `json:"originalId"`
	Level               int         `json:"level"`
	Points              []Point     `json:"points"`
	OriginalPointCount  int         `json:"originalPointCount"`
	SimplificationRatio float64     `json:"simplificationRatio"`
	Box                 BoundingBox `json:"boundingBox"`
	Hints               RenderHints `json:"renderHints"`
}

// RenderContext is the per-frame view state driving level selection
type RenderContext struct {
	Zoom         float64
	IsAnimating  bool
	PolygonCount int
}

const (
	// largeSceneThreshold: above this many polygons, drop one level to
	// protect frame rate
	largeSceneThreshold = 1000
	frameWindowSize     = 30
	adjustCooldown      = time.Second
	// frameBudgetMs is the 60fps budget
	frameBudgetMs       = 1000.0 / 60.0
	defaultLODCacheSize = 500
	// lodEntryOverhead + 16 bytes per point estimate one cache entry's
	// footprint for the preload budget
	lodEntryOverhead = 160
)

// LODManager selects and generates levels of detail per polygon and view
// context, caching results and adapting quality to frame-time pressure.
// Create one per editor session and dispose with it.
type LODManager struct {
	mu sync.Mutex

	levels  []LODLevel
	service *PolygonProcessingService

	cache    map[string]*LODPolygon
	order    []string // insertion order, oldest first
	maxCache int

	quality    RenderQuality
	frameTimes []float64
	frameIdx   int
	frameCount int
	lastAdjust time.Time
	now        func() time.Time
}

// NewLODManager creates a manager over the given level table and
// processing service. A nil or empty level table falls back to defaults; a
// nil service simplifies in-process instead of on the pool.
func NewLODManager(levels []LODLevel, service *PolygonProcessingService, maxCache int) *LODManager {
	if len(levels) == 0 {
		levels = DefaultLODLevels()
	}
	if maxCache <= 0 {
		maxCache = defaultLODCacheSize
	}
	return &LODManager{
		levels:     levels,
		service:    service,
		cache:      make(map[string]*LODPolygon),
		maxCache:   maxCache,
		quality:    QualityHigh,
		frameTimes: make([]float64, frameWindowSize),
		now:        time.Now,
	}
}

// SelectLevel picks the level index for a view context. Deterministic:
// the same context and quality always select the same index.
func (m *LODManager) SelectLevel(ctx RenderContext) int {
	m.mu.Lock()
	quality := m.quality
	m.mu.Unlock()
	return m.selectLevelWithQuality(ctx, quality)
}

func (m *LODManager) selectLevelWithQuality(ctx RenderContext, quality RenderQuality) int {
	idx := len(m.levels) - 1
	for i, level := range m.levels {
		if ctx.Zoom >= level.MinZoom && ctx.Zoom < level.MaxZoom {
			idx = i
			break
		}
	}

	idx += quality.levelShift()

	// Drop one level under animation or very large scenes
	if ctx.IsAnimating || ctx.PolygonCount > largeSceneThreshold {
		idx--
	}

	if idx < 0 {
		idx = 0
	}
	if idx > len(m.levels)-1 {
		idx = len(m.levels) - 1
	}
	return idx
}

// Quality returns the current adaptive quality tier
func (m *LODManager) Quality() RenderQuality {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quality
}

// SetAdaptiveQuality overrides the quality tier manually. The override
// holds until the next automatic adjustment tick.
func (m *LODManager) SetAdaptiveQuality(q RenderQuality) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q < QualityLow {
		q = QualityLow
	}
	if q > QualityUltra {
		q = QualityUltra
	}
	m.quality = q
}

// RecordFrameTime feeds one frame duration (milliseconds) into the rolling
// window and, once per cooldown interval, re-targets the quality tier.
// Changes step one tier at a time to avoid oscillation.
func (m *LODManager) RecordFrameTime(ms float64) {
	frameTimeMs.Observe(ms)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.frameTimes[m.frameIdx] = ms
	m.frameIdx = (m.frameIdx + 1) % frameWindowSize
	if m.frameCount < frameWindowSize {
		m.frameCount++
	}

	if m.now().Sub(m.lastAdjust) < adjustCooldown || m.frameCount == 0 {
		return
	}
	m.lastAdjust = m.now()

	sum := 0.0
	for i := 0; i < m.frameCount; i++ {
		sum += m.frameTimes[i]
	}
	avg := sum / float64(m.frameCount)

	target := m.quality
	switch {
	case avg > 2*frameBudgetMs:
		target = QualityLow
	case avg > 1.5*frameBudgetMs:
		target = QualityMedium
	case avg < 0.8*frameBudgetMs && m.quality < QualityUltra:
		target = m.quality + 1
	}

	// One tier per tick
	if target < m.quality {
		m.quality--
	} else if target > m.quality {
		m.quality++
	}
}

// GetLOD returns the polygon at the level selected for the context,
// generating and caching it on demand. Simplification failures degrade to
// local decimation; this never fails and never blocks on a broken pool.
func (m *LODManager) GetLOD(ctx context.Context, polygon Polygon, rctx RenderContext, selected bool) *LODPolygon {
	levelIdx := m.SelectLevel(rctx)
	level := m.levels[levelIdx]

	key := polygon.ID + ":" + level.Name + ":" + ComputeVersion(polygon.Points).Short()

	m.mu.Lock()
	if cached, ok := m.cache[key]; ok {
		m.mu.Unlock()
		lodCacheHitsTotal.Inc()
		// Hints depend on per-frame state, recompute them on the way out
		out := *cached
		out.Hints = m.renderHints(level, rctx, selected)
		return &out
	}
	m.mu.Unlock()
	lodCacheMissesTotal.Inc()

	lod := m.generate(ctx, polygon, levelIdx, level)
	lod.Hints = m.renderHints(level, rctx, selected)

	m.store(key, lod)
	return lod
}

// generate produces the simplified geometry for one polygon and level
func (m *LODManager) generate(ctx context.Context, polygon Polygon, levelIdx int, level LODLevel) *LODPolygon {
	points := polygon.Points

	if level.MaxVertices > 0 && len(points) > level.MaxVertices && level.Tolerance > 0 {
		if m.service != nil {
			points = m.service.Simplify(ctx, points, level.Tolerance)
		} else {
			points = SimplifyPoints(points, level.Tolerance)
		}
	}

	// Final decimation pass if simplification alone missed the ceiling
	if level.MaxVertices > 0 && len(points) > level.MaxVertices {
		points = DecimatePoints(points, level.MaxVertices)
	}

	ratio := 1.0
	if len(polygon.Points) > 0 {
		ratio = float64(len(points)) / float64(len(polygon.Points))
	}

	return &LODPolygon{
		OriginalID:          polygon.ID,
		Level:               levelIdx,
		Points:              points,
		OriginalPointCount:  len(polygon.Points),
		SimplificationRatio: ratio,
		Box:                 CalculateBoundingBox(points),
	}
}

// renderHints derives presentation flags from zoom, selection and quality
func (m *LODManager) renderHints(level LODLevel, rctx RenderContext, selected bool) RenderHints {
	m.mu.Lock()
	quality := m.quality
	m.mu.Unlock()

	zoom := rctx.Zoom
	if zoom <= 0 {
		zoom = 1
	}

	stroke := 1.5 / zoom
	if stroke < 0.25 {
		stroke = 0.25
	}
	if stroke > 4 {
		stroke = 4
	}

	opacity := 0.75
	if selected {
		opacity = 1.0
	}
	// Fade fills out when zoomed far away
	opacity *= math.Min(1, 0.6+zoom/2)

	return RenderHints{
		StrokeWidth:  stroke,
		Opacity:      opacity,
		ShowVertices: level.ShowVertices && quality >= QualityHigh && zoom >= 1,
		Shadows:      quality >= QualityUltra && !rctx.IsAnimating,
		Antialias:    quality >= QualityMedium,
	}
}

// store inserts a cache entry, evicting the oldest entries on overflow
func (m *LODManager) store(key string, lod *LODPolygon) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.cache[key]; !exists {
		m.order = append(m.order, key)
	}
	m.cache[key] = lod

	for len(m.cache) > m.maxCache && len(m.order) > 0 {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.cache, oldest)
	}
}

// Clear drops every cached entry; called when the session switches images
func (m *LODManager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = make(map[string]*LODPolygon)
	m.order = m.order[:0]
}

// Invalidate drops all cached levels for one polygon
func (m *LODManager) Invalidate(polygonID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.order[:0]
	for _, key := range m.order {
		if strings.HasPrefix(key, polygonID+":") {
			delete(m.cache, key)
		} else {
			kept = append(kept, key)
		}
	}
	m.order = kept
}

// CacheSize reports the number of cached LOD entries
func (m *LODManager) CacheSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cache)
}

// PreloadLOD generates LODs for a predicted future context ahead of need,
// hard-capped by an estimated memory budget in bytes. It stops early
// rather than exceed the budget.
func (m *LODManager) PreloadLOD(ctx context.Context, polygons []Polygon, predicted RenderContext, memoryBudget int) int {
	if memoryBudget <= 0 {
		return 0
	}

	levelIdx := m.SelectLevel(predicted)
	level := m.levels[levelIdx]

	spent := 0
	loaded := 0
	for _, polygon := range polygons {
		estimate := lodEntryOverhead + 16*min(len(polygon.Points), maxVerticesOrAll(level, polygon))
		if spent+estimate > memoryBudget {
			break
		}

		key := polygon.ID + ":" + level.Name + ":" + ComputeVersion(polygon.Points).Short()
		m.mu.Lock()
		_, exists := m.cache[key]
		m.mu.Unlock()
		if exists {
			continue
		}

		lod := m.generate(ctx, polygon, levelIdx, level)
		m.store(key, lod)
		spent += estimate
		loaded++
	}
	return loaded
}

func maxVerticesOrAll(level LODLevel, polygon Polygon) int {
	if level.MaxVertices > 0 && level.MaxVertices < len(polygon.Points) {
		return level.MaxVertices
	}
	return len(polygon.Points)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
