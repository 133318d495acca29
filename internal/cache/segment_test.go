package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/strataio/strata/internal/schema"
	"github.com/strataio/strata/internal/segment"
	"github.com/strataio/strata/pkg/types"
)

func testSegment(t *testing.T, id string) *segment.MemSegment {
	t.Helper()
	s, err := schema.New([]schema.FieldInfo{
		{Name: "k", Type: types.FieldTypeInt, IsKey: true},
	}, 1)
	if err != nil {
		t.Fatalf("failed to build schema: %v", err)
	}
	return segment.NewMemSegment(id, s, types.Version{Lo: 1, Hi: 1}, false,
		[][]types.Datum{{int32(1)}}, 0.01)
}

func TestCacheGetPut(t *testing.T) {
	c := NewSegmentCache(4)
	seg := testSegment(t, "s1")

	if _, ok := c.Get("s1"); ok {
		t.Error("expected a miss on an empty cache")
	}
	c.Put("s1", seg)
	got, ok := c.Get("s1")
	if !ok || got.ID() != "s1" {
		t.Error("expected the cached segment back")
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", c.Len())
	}

	hits, misses, evictions := c.Stats()
	if hits != 1 || misses != 1 || evictions != 0 {
		t.Errorf("expected 1 hit 1 miss 0 evictions, got %d %d %d", hits, misses, evictions)
	}
	if rate := c.HitRate(); rate != 50 {
		t.Errorf("expected 50%% hit rate, got %f", rate)
	}
}

func TestCacheLRUEviction(t *testing.T) {
	c := NewSegmentCache(2)
	c.Put("a", testSegment(t, "a"))
	c.Put("b", testSegment(t, "b"))

	// Touch a so b becomes the eviction victim.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected a cached")
	}
	c.Put("c", testSegment(t, "c"))

	if _, ok := c.Get("b"); ok {
		t.Error("expected b evicted as least recently used")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("expected a retained")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("expected c retained")
	}
	if _, _, evictions := c.Stats(); evictions != 1 {
		t.Errorf("expected 1 eviction, got %d", evictions)
	}
}

func TestCachePutReplaces(t *testing.T) {
	c := NewSegmentCache(2)
	c.Put("a", testSegment(t, "old"))
	c.Put("a", testSegment(t, "new"))

	if c.Len() != 1 {
		t.Errorf("expected a single entry after replacement, got %d", c.Len())
	}
	got, ok := c.Get("a")
	if !ok || got.ID() != "new" {
		t.Error("expected the replacement segment")
	}
}

func TestCacheRemove(t *testing.T) {
	c := NewSegmentCache(2)
	c.Put("a", testSegment(t, "a"))

	if !c.Remove("a") {
		t.Error("expected Remove to report the entry existed")
	}
	if c.Remove("a") {
		t.Error("expected Remove to report a missing entry")
	}
	if c.Len() != 0 {
		t.Errorf("expected an empty cache, got %d entries", c.Len())
	}
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := NewSegmentCache(16)
	segs := make([]*segment.MemSegment, 20)
	for i := range segs {
		segs[i] = testSegment(t, fmt.Sprintf("seg-%d", i))
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				key := fmt.Sprintf("seg-%d", i%20)
				if _, ok := c.Get(key); !ok {
					c.Put(key, segs[i%20])
				}
			}
		}()
	}
	wg.Wait()

	if c.Len() > 16 {
		t.Errorf("expected at most 16 entries, got %d", c.Len())
	}
}
