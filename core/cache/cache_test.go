package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/lindenwick/folio/core/errors"
)

func mustChapterCache(t *testing.T, maxEntries int) *ChapterCache {
	t.Helper()
	c, err := NewChapterCache(maxEntries, nil)
	if err != nil {
		t.Fatalf("NewChapterCache(%d) failed: %v", maxEntries, err)
	}
	return c
}

func TestChapterCache_InvalidCapacity(t *testing.T) {
	for _, n := range []int{0, -1, -100} {
		_, err := NewChapterCache(n, nil)
		if err == nil {
			t.Errorf("NewChapterCache(%d) should fail", n)
			continue
		}
		if !errors.Is(err, errors.ErrConfiguration) {
			t.Errorf("NewChapterCache(%d) error = %v; want ErrConfiguration", n, err)
		}
	}
}

func TestChapterCache_BasicOperations(t *testing.T) {
	c := mustChapterCache(t, 3)

	c.Set("a", "<p>1</p>")
	c.Set("b", "<p>2</p>")

	if v, ok := c.Get("a"); !ok || v != "<p>1</p>" {
		t.Errorf("Get(a) = %q, %v; want %q, true", v, ok, "<p>1</p>")
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("Get(missing) should return false")
	}
	if n := c.Len(); n != 2 {
		t.Errorf("Len() = %d; want 2", n)
	}
}

func TestChapterCache_CapacityInvariant(t *testing.T) {
	const capacity = 3
	c := mustChapterCache(t, capacity)

	for i := 0; i < 20; i++ {
		c.Set(fmt.Sprintf("key%d", i), "value")
		if n := c.Len(); n > capacity {
			t.Fatalf("after insert %d: Len() = %d; want <= %d", i, n, capacity)
		}
	}
}

func TestChapterCache_LRUOrder(t *testing.T) {
	c := mustChapterCache(t, 3)

	c.Set("a", "1")
	c.Set("b", "2")
	c.Set("c", "3")
	c.Get("a")    // "a" becomes most recently used
	c.Set("d", "4") // evicts "b", not "a"

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	for _, key := range []string{"a", "c", "d"} {
		if _, ok := c.Get(key); !ok {
			t.Errorf("%s should still be cached", key)
		}
	}
}

func TestChapterCache_UpdateNotEviction(t *testing.T) {
	c := mustChapterCache(t, 2)

	c.Set("a", "1")
	c.Set("b", "2")
	c.Set("a", "updated") // overwrite, not insert

	if n := c.Len(); n != 2 {
		t.Errorf("Len() = %d; want 2", n)
	}
	if v, ok := c.Get("a"); !ok || v != "updated" {
		t.Errorf("Get(a) = %q, %v; want %q, true", v, ok, "updated")
	}
	if ev := c.Stats().Evictions; ev != 0 {
		t.Errorf("Evictions = %d; want 0 (overwrite is not an eviction)", ev)
	}

	// The overwrite also refreshed "a", so inserting "c" evicts "b".
	c.Set("c", "3")
	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted after a was refreshed by Set")
	}
}

func TestChapterCache_HitMissAccounting(t *testing.T) {
	c := mustChapterCache(t, 3)

	if rate := c.Stats().HitRate; rate != 0.0 {
		t.Errorf("HitRate with no accesses = %v; want 0.0", rate)
	}

	c.Set("a", "1")
	c.Get("a")       // hit
	c.Get("a")       // hit
	c.Get("missing") // miss

	stats := c.Stats()
	if stats.Hits != 2 {
		t.Errorf("Hits = %d; want 2", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Errorf("Misses = %d; want 1", stats.Misses)
	}
	want := 2.0 / 3.0 * 100.0
	if stats.HitRate < want-0.01 || stats.HitRate > want+0.01 {
		t.Errorf("HitRate = %v; want ~%v", stats.HitRate, want)
	}
}

func TestChapterCache_MissHasNoSideEffect(t *testing.T) {
	c := mustChapterCache(t, 2)

	c.Set("a", "1")
	c.Get("missing")

	if n := c.Len(); n != 1 {
		t.Errorf("Len() after miss = %d; want 1", n)
	}
	if ev := c.Stats().Evictions; ev != 0 {
		t.Errorf("Evictions after miss = %d; want 0", ev)
	}
}

func TestChapterCache_Clear(t *testing.T) {
	c := mustChapterCache(t, 3)

	c.Set("a", "1")
	c.Set("b", "2")
	c.Get("a")
	c.Get("missing")
	c.Clear()

	stats := c.Stats()
	if stats.Size != 0 {
		t.Errorf("Size after Clear = %d; want 0", stats.Size)
	}
	if stats.Hits != 0 || stats.Misses != 0 || stats.Evictions != 0 {
		t.Errorf("counters after Clear = %d/%d/%d; want 0/0/0", stats.Hits, stats.Misses, stats.Evictions)
	}
	if stats.MemoryBytes != 0 {
		t.Errorf("MemoryBytes after Clear = %d; want 0", stats.MemoryBytes)
	}

	// Reusable without reconstruction.
	c.Set("c", "3")
	if v, ok := c.Get("c"); !ok || v != "3" {
		t.Errorf("Get(c) after Clear = %q, %v; want %q, true", v, ok, "3")
	}
}

func TestChapterCache_EvictionCounters(t *testing.T) {
	c := mustChapterCache(t, 1)

	c.Set("a", "1")
	if d := c.Stats().SinceEviction; d != 0 {
		t.Errorf("SinceEviction before any eviction = %v; want 0", d)
	}

	c.Set("b", "2") // evicts "a"
	stats := c.Stats()
	if stats.Evictions != 1 {
		t.Errorf("Evictions = %d; want 1", stats.Evictions)
	}
	if stats.SinceEviction <= 0 {
		t.Errorf("SinceEviction = %v; want > 0", stats.SinceEviction)
	}
}

func TestChapterCache_StatsTelemetry(t *testing.T) {
	c := mustChapterCache(t, 4)

	c.Set("a", "aaaa")
	c.Set("b", "bb")

	stats := c.Stats()
	if stats.Capacity != 4 {
		t.Errorf("Capacity = %d; want 4", stats.Capacity)
	}
	wantBytes := estimateBytes("aaaa") + estimateBytes("bb")
	if stats.MemoryBytes != wantBytes {
		t.Errorf("MemoryBytes = %d; want %d", stats.MemoryBytes, wantBytes)
	}
	if stats.AvgItemBytes != wantBytes/2 {
		t.Errorf("AvgItemBytes = %d; want %d", stats.AvgItemBytes, wantBytes/2)
	}
	if stats.Age < 0 {
		t.Errorf("Age = %v; want >= 0", stats.Age)
	}
}

func TestChapterCache_ConcurrentAccess(t *testing.T) {
	c := mustChapterCache(t, 16)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("key%d", (g*7+i)%32)
				c.Set(key, "value")
				c.Get(key)
			}
		}(g)
	}
	wg.Wait()

	if n := c.Len(); n > 16 {
		t.Errorf("Len() = %d; want <= 16", n)
	}
}

func TestChapterKey(t *testing.T) {
	got := ChapterKey("/books/dune.epub", 4)
	if got != "/books/dune.epub:4" {
		t.Errorf("ChapterKey() = %q; want %q", got, "/books/dune.epub:4")
	}
}
