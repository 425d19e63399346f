package cache

import "time"

// entryOverhead is the fixed per-entry byte cost added to a value's length
// when estimating its memory footprint. The estimate only needs to be
// deterministic and monotone in value length; it is not an exact accounting.
const entryOverhead = 64

// Stats contains a point-in-time snapshot of a single cache's counters.
// Hits, Misses, and Evictions accumulate until Clear; Size and MemoryBytes
// reflect current contents.
type Stats struct {
	Size          int           `json:"size"`
	Capacity      int           `json:"capacity,omitempty"`
	BudgetBytes   int64         `json:"budget_bytes,omitempty"`
	Hits          int64         `json:"hits"`
	Misses        int64         `json:"misses"`
	Evictions     int64         `json:"evictions"`
	HitRate       float64       `json:"hit_rate"`
	MemoryBytes   int64         `json:"memory_bytes"`
	AvgItemBytes  int64         `json:"avg_item_bytes"`
	SinceEviction time.Duration `json:"since_eviction"`
	Age           time.Duration `json:"age"`
}

// hitRate derives the hit percentage, returning 0.0 when there have been no
// accesses yet rather than dividing by zero.
func hitRate(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0.0
	}
	return float64(hits) / float64(total) * 100.0
}

// estimateBytes estimates the memory footprint of a string value.
func estimateBytes(value string) int64 {
	return int64(len(value)) + entryOverhead
}

// sinceOrZero returns the elapsed time since t, or zero if t was never set.
func sinceOrZero(t time.Time) time.Duration {
	if t.IsZero() {
		return 0
	}
	return time.Since(t)
}

// avgBytes computes the average item footprint for a cache of n items.
func avgBytes(total int64, n int) int64 {
	if n == 0 {
		return 0
	}
	return total / int64(n)
}
