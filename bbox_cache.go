package main

import (
	"sort"
	"sync"
)

// CachedBoundingBox is one cache entry; owned exclusively by the cache
type CachedBoundingBox struct {
	Box          BoundingBox
	PolygonID    string
	Version      PolygonVersion
	lastAccessed uint64
}

// CacheStats reports hit/miss counters and an estimated footprint.
// Observability only, never used for correctness.
type CacheStats struct {
	Hits            uint64 `json:"hits"`
	Misses          uint64 `json:"misses"`
	Entries         int    `json:"entries"`
	EstimatedMemory int    `json:"estimatedMemoryBytes"`
}

// cachedBBoxSize is a rough per-entry footprint estimate in bytes
const cachedBBoxSize = 128

// BoundingBoxCache memoizes bounding boxes keyed by polygon id plus a
// content version hash. The cache is never the source of truth: staleness
// or eviction silently triggers recomputation, never an error.
type BoundingBoxCache struct {
	mu          sync.Mutex
	entries     map[string]*CachedBoundingBox
	maxSize     int
	accessClock uint64
	hits        uint64
	misses      uint64
}

// defaultBBoxCacheSize bounds the cache when no explicit size is given
const defaultBBoxCacheSize = 1000

// NewBoundingBoxCache creates a cache holding at most maxSize entries.
// Create one per editor session and share it between the LOD and
// visibility layers; dispose with the session.
func NewBoundingBoxCache(maxSize int) *BoundingBoxCache {
	if maxSize <= 0 {
		maxSize = defaultBBoxCacheSize
	}
	return &BoundingBoxCache{
		entries: make(map[string]*CachedBoundingBox),
		maxSize: maxSize,
	}
}

// GetBoundingBox returns the bounding box for the polygon, from cache when
// the stored version matches the current points, recomputing otherwise
func (c *BoundingBoxCache) GetBoundingBox(polygonID string, points []Point) BoundingBox {
	version := ComputeVersion(points)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.accessClock++
	if entry, ok := c.entries[polygonID]; ok && entry.Version == version {
		entry.lastAccessed = c.accessClock
		c.hits++
		bboxCacheHitsTotal.Inc()
		return entry.Box
	}

	c.misses++
	bboxCacheMissesTotal.Inc()

	box := CalculateBoundingBox(points)
	c.entries[polygonID] = &CachedBoundingBox{
		Box:          box,
		PolygonID:    polygonID,
		Version:      version,
		lastAccessed: c.accessClock,
	}

	if len(c.entries) > c.maxSize {
		c.evictOldest()
	}

	return box
}

// GetBulkBoundingBoxes resolves many polygons in one call. Results are
// identical to calling GetBoundingBox per polygon in any order.
func (c *BoundingBoxCache) GetBulkBoundingBoxes(polygons []Polygon) map[string]BoundingBox {
	result := make(map[string]BoundingBox, len(polygons))
	for _, p := range polygons {
		result[p.ID] = c.GetBoundingBox(p.ID, p.Points)
	}
	return result
}

// HasPolygonChanged reports whether the polygon's geometry differs from
// what the cache last saw (or was never seen). It does not touch the LRU
// ordering or counters.
func (c *BoundingBoxCache) HasPolygonChanged(polygonID string, points []Point) bool {
	version := ComputeVersion(points)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[polygonID]
	return !ok || entry.Version != version
}

// Invalidate removes one polygon's entry
func (c *BoundingBoxCache) Invalidate(polygonID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, polygonID)
}

// InvalidateBulk removes entries for all given polygon ids
func (c *BoundingBoxCache) InvalidateBulk(polygonIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range polygonIDs {
		delete(c.entries, id)
	}
}

// Clear drops every entry, keeping counters
func (c *BoundingBoxCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*CachedBoundingBox)
}

// GetStats returns hit/miss counters and an estimated memory footprint
func (c *BoundingBoxCache) GetStats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Hits:            c.hits,
		Misses:          c.misses,
		Entries:         len(c.entries),
		EstimatedMemory: len(c.entries) * cachedBBoxSize,
	}
}

// evictOldest removes the least-recently-accessed ~10% of entries in one
// pass. Batch eviction avoids thrashing at the capacity boundary.
// Caller holds c.mu.
func (c *BoundingBoxCache) evictOldest() {
	batch := c.maxSize / 10
	if batch < 1 {
		batch = 1
	}

	type aged struct {
		id   string
		tick uint64
	}
	all := make([]aged, 0, len(c.entries))
	for id, entry := range c.entries {
		all = append(all, aged{id: id, tick: entry.lastAccessed})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].tick < all[j].tick })

	if batch > len(all) {
		batch = len(all)
	}
	for _, victim := range all[:batch] {
		delete(c.entries, victim.id)
	}
}
