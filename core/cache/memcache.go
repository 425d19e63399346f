package cache

import (
	"container/list"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lindenwick/folio/core/errors"
)

// ImageCache is a thread-safe LRU cache for processed image payloads
// (base64-encoded strings), bounded by estimated memory footprint rather
// than entry count. A single insert may evict zero, one, or many entries:
// one large image can displace several small ones.
//
// All methods take the cache's own lock; callers never synchronize access
// themselves. This is the cache shared between the reading surface and
// background chapter loaders.
type ImageCache struct {
	mu        sync.Mutex
	maxBytes  int64
	usedBytes int64
	entries   map[string]*list.Element
	evictList *list.List

	hits      int64
	misses    int64
	evictions int64
	created   time.Time
	lastEvict time.Time

	logger *slog.Logger
}

// imageEntry is the value stored in each eviction-list element.
type imageEntry struct {
	key   string
	value string
	size  int64
}

// ImageKey builds the cache key for an image resource, namespaced by book
// identity so two books that both reference "images/cover.jpg" never collide.
func ImageKey(bookPath, resourcePath string) string {
	return bookPath + ":" + resourcePath
}

// NewImageCache creates an image cache with the given byte budget.
// The budget must be positive. A nil logger discards log output.
func NewImageCache(maxBytes int64, logger *slog.Logger) (*ImageCache, error) {
	if maxBytes <= 0 {
		return nil, errors.NewConfig("max_bytes", fmt.Sprintf("%d", maxBytes), "must be positive")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &ImageCache{
		maxBytes:  maxBytes,
		entries:   make(map[string]*list.Element),
		evictList: list.New(),
		created:   time.Now(),
		logger:    logger,
	}, nil
}

// Get retrieves an image payload and marks it most recently used.
func (c *ImageCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.entries[key]
	if !ok {
		c.misses++
		return "", false
	}

	c.evictList.MoveToFront(ent)
	c.hits++
	return ent.Value.(*imageEntry).value, true
}

// Set inserts or overwrites an image payload, evicting least recently used
// entries until the new total fits the budget. Overwriting an existing key
// adjusts the byte accounting by the size delta, so shrinking a value never
// triggers eviction.
//
// A single value larger than the whole budget still gets cached after the
// eviction loop empties the cache, leaving the cache over budget until the
// entry is displaced. Callers sizing budgets should treat the budget as a
// target, not a hard ceiling for one oversized item.
func (c *ImageCache) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := estimateBytes(value)

	if ent, ok := c.entries[key]; ok {
		c.evictList.MoveToFront(ent)
		e := ent.Value.(*imageEntry)
		c.usedBytes += size - e.size
		e.value = value
		e.size = size
		// Growing an entry can push past the budget; never evict the entry
		// that was just written.
		for c.usedBytes > c.maxBytes && c.evictList.Len() > 1 {
			c.removeOldest()
		}
		return
	}

	// Make room before inserting.
	for c.usedBytes+size > c.maxBytes && c.evictList.Len() > 0 {
		c.removeOldest()
	}

	ent := c.evictList.PushFront(&imageEntry{key: key, value: value, size: size})
	c.entries[key] = ent
	c.usedBytes += size
}

// Clear empties the cache and zeroes its counters. The cache remains usable.
func (c *ImageCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*list.Element)
	c.evictList.Init()
	c.usedBytes = 0
	c.hits = 0
	c.misses = 0
	c.evictions = 0
}

// Len returns the number of cached images.
func (c *ImageCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictList.Len()
}

// UsedBytes returns the current estimated memory footprint.
func (c *ImageCache) UsedBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usedBytes
}

// Stats returns a snapshot of the cache's counters.
func (c *ImageCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.evictList.Len()
	return Stats{
		Size:          n,
		BudgetBytes:   c.maxBytes,
		Hits:          c.hits,
		Misses:        c.misses,
		Evictions:     c.evictions,
		HitRate:       hitRate(c.hits, c.misses),
		MemoryBytes:   c.usedBytes,
		AvgItemBytes:  avgBytes(c.usedBytes, n),
		SinceEviction: sinceOrZero(c.lastEvict),
		Age:           time.Since(c.created),
	}
}

// removeOldest evicts the least recently used entry, counting the eviction
// and stamping the eviction time. Caller must hold the lock.
func (c *ImageCache) removeOldest() {
	ent := c.evictList.Back()
	if ent == nil {
		return
	}

	e := ent.Value.(*imageEntry)
	c.evictList.Remove(ent)
	delete(c.entries, e.key)
	c.usedBytes -= e.size
	c.evictions++
	c.lastEvict = time.Now()

	c.logger.Debug("image_cache_evict", "key", e.key, "freed_bytes", e.size, "used_bytes", c.usedBytes)
}
