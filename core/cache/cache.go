// Package cache provides the bounded in-memory caches behind the reader:
// count-bounded LRU caches for chapter HTML, a memory-bounded LRU cache for
// embedded images, a process memory monitor, and a Manager that owns all four
// as one unit.
package cache

import (
	"container/list"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/lindenwick/folio/core/errors"
)

// ChapterCache is a thread-safe LRU cache for chapter HTML, bounded by entry
// count. When an insert pushes the cache past its capacity, the least
// recently used entry is evicted.
//
// "Used" means a Get that hit or a Set; both move the entry to the
// most-recently-used position.
type ChapterCache struct {
	mu         sync.Mutex
	maxEntries int
	entries    map[string]*list.Element
	evictList  *list.List
	memBytes   int64

	hits      int64
	misses    int64
	evictions int64
	created   time.Time
	lastEvict time.Time

	logger *slog.Logger
}

// chapterEntry is the value stored in each eviction-list element.
type chapterEntry struct {
	key   string
	value string
}

// ChapterKey builds the cache key for a chapter: the book's identity (its
// absolute file path) joined with the zero-based chapter index.
func ChapterKey(bookPath string, index int) string {
	return bookPath + ":" + strconv.Itoa(index)
}

// NewChapterCache creates a chapter cache holding at most maxEntries entries.
// maxEntries must be at least 1. A nil logger discards log output.
func NewChapterCache(maxEntries int, logger *slog.Logger) (*ChapterCache, error) {
	if maxEntries < 1 {
		return nil, errors.NewConfig("max_entries", fmt.Sprintf("%d", maxEntries), "must be at least 1")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &ChapterCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*list.Element),
		evictList:  list.New(),
		created:    time.Now(),
		logger:     logger,
	}, nil
}

// Get retrieves a chapter's HTML and marks it most recently used.
// A miss has no side effect beyond the miss counter.
func (c *ChapterCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.entries[key]
	if !ok {
		c.misses++
		return "", false
	}

	c.evictList.MoveToFront(ent)
	c.hits++
	return ent.Value.(*chapterEntry).value, true
}

// Set inserts or overwrites a chapter's HTML. Overwriting an existing key
// replaces its value and marks it most recently used without counting an
// eviction. Inserting a new key past capacity evicts exactly one entry.
func (c *ChapterCache) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.entries[key]; ok {
		c.evictList.MoveToFront(ent)
		e := ent.Value.(*chapterEntry)
		c.memBytes += estimateBytes(value) - estimateBytes(e.value)
		e.value = value
		return
	}

	ent := c.evictList.PushFront(&chapterEntry{key: key, value: value})
	c.entries[key] = ent
	c.memBytes += estimateBytes(value)

	if c.evictList.Len() > c.maxEntries {
		c.removeOldest()
	}
}

// Clear empties the cache and zeroes its counters. The cache remains usable.
func (c *ChapterCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*list.Element)
	c.evictList.Init()
	c.memBytes = 0
	c.hits = 0
	c.misses = 0
	c.evictions = 0
}

// Len returns the number of cached chapters.
func (c *ChapterCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictList.Len()
}

// Stats returns a snapshot of the cache's counters.
func (c *ChapterCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.evictList.Len()
	return Stats{
		Size:          n,
		Capacity:      c.maxEntries,
		Hits:          c.hits,
		Misses:        c.misses,
		Evictions:     c.evictions,
		HitRate:       hitRate(c.hits, c.misses),
		MemoryBytes:   c.memBytes,
		AvgItemBytes:  avgBytes(c.memBytes, n),
		SinceEviction: sinceOrZero(c.lastEvict),
		Age:           time.Since(c.created),
	}
}

// removeOldest evicts the least recently used entry.
// Caller must hold the lock.
func (c *ChapterCache) removeOldest() {
	ent := c.evictList.Back()
	if ent == nil {
		return
	}

	e := ent.Value.(*chapterEntry)
	c.evictList.Remove(ent)
	delete(c.entries, e.key)
	c.memBytes -= estimateBytes(e.value)
	c.evictions++
	c.lastEvict = time.Now()

	c.logger.Debug("cache_evict", "key", e.key, "size", c.evictList.Len(), "capacity", c.maxEntries)
}
