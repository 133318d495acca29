// Package cache provides an in-memory cache of decoded segments for hot
// tablets.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/strataio/strata/internal/segment"
)

// Metrics holds cache statistics for observability.
type Metrics struct {
	Hits      atomic.Int64
	Misses    atomic.Int64
	Evictions atomic.Int64
}

// SegmentCache keeps decoded segments keyed by object key. Eviction is
// LRU by entry count; segments are immutable once decoded so entries are
// never invalidated, only evicted or removed when the segment is garbage
// collected.
type SegmentCache struct {
	maxEntries int
	metrics    Metrics

	mu    sync.Mutex
	ll    *list.List
	items map[string]*list.Element
}

type cacheItem struct {
	key string
	seg *segment.MemSegment
}

// NewSegmentCache creates a cache holding at most maxEntries segments.
func NewSegmentCache(maxEntries int) *SegmentCache {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &SegmentCache{
		maxEntries: maxEntries,
		ll:         list.New(),
		items:      make(map[string]*list.Element),
	}
}

// Get retrieves a cached segment by object key.
func (c *SegmentCache) Get(key string) (*segment.MemSegment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.metrics.Misses.Add(1)
		return nil, false
	}
	c.metrics.Hits.Add(1)
	c.ll.MoveToFront(el)
	return el.Value.(*cacheItem).seg, true
}

// Put adds a segment, evicting the least recently used entry when full.
func (c *SegmentCache) Put(key string, seg *segment.MemSegment) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		el.Value.(*cacheItem).seg = seg
		return
	}
	c.items[key] = c.ll.PushFront(&cacheItem{key: key, seg: seg})
	for c.ll.Len() > c.maxEntries {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.removeElement(oldest)
		c.metrics.Evictions.Add(1)
	}
}

// Remove deletes an entry. Used when a segment is garbage collected.
func (c *SegmentCache) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeElement(el)
	return true
}

func (c *SegmentCache) removeElement(el *list.Element) {
	c.ll.Remove(el)
	delete(c.items, el.Value.(*cacheItem).key)
}

// Len returns the number of cached segments.
func (c *SegmentCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Stats returns the hit, miss and eviction counts.
func (c *SegmentCache) Stats() (hits, misses, evictions int64) {
	return c.metrics.Hits.Load(), c.metrics.Misses.Load(), c.metrics.Evictions.Load()
}

// HitRate returns the cache hit rate as a percentage.
func (c *SegmentCache) HitRate() float64 {
	hits := c.metrics.Hits.Load()
	misses := c.metrics.Misses.Load()
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}
