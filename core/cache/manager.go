package cache

import (
	"fmt"
	"log/slog"

	"github.com/lindenwick/folio/core/errors"
)

// Config holds the four budget parameters for a Manager. All four are
// validated up front; an invalid value fails construction with an error
// naming the offending parameter.
type Config struct {
	// RenderedMaxEntries bounds the rendered-chapter cache by entry count.
	RenderedMaxEntries int `json:"rendered_maxsize"`

	// RawMaxEntries bounds the raw-chapter cache by entry count.
	RawMaxEntries int `json:"raw_maxsize"`

	// ImageBudgetMB bounds the image cache by estimated memory footprint.
	ImageBudgetMB float64 `json:"image_budget_mb"`

	// MemoryThresholdMB is the process memory level that triggers the
	// monitor's warning.
	MemoryThresholdMB float64 `json:"memory_threshold_mb"`
}

// DefaultConfig returns the stock cache budgets.
func DefaultConfig() Config {
	return Config{
		RenderedMaxEntries: 10,
		RawMaxEntries:      10,
		ImageBudgetMB:      50,
		MemoryThresholdMB:  150,
	}
}

// Manager owns the reader's cache layer as one unit: the rendered-chapter
// cache, the raw-chapter cache, the image cache, and the memory monitor.
// The sub-caches live for the Manager's lifetime; ClearAll empties their
// contents without recreating them.
type Manager struct {
	rendered *ChapterCache
	raw      *ChapterCache
	images   *ImageCache
	monitor  *MemoryMonitor
	logger   *slog.Logger
}

// CombinedStats aggregates statistics across all caches and the monitor.
// TotalItems and TotalBytes are plain sums over the three caches.
type CombinedStats struct {
	TotalItems int          `json:"total_items"`
	TotalBytes int64        `json:"total_bytes"`
	Rendered   Stats        `json:"rendered"`
	Raw        Stats        `json:"raw"`
	Images     Stats        `json:"images"`
	Monitor    MonitorStats `json:"monitor"`
}

// NewManager creates the cache layer from the given budgets.
// A nil logger discards log output.
func NewManager(cfg Config, logger *slog.Logger, opts ...MonitorOption) (*Manager, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if cfg.RenderedMaxEntries < 1 {
		return nil, errors.NewConfig("rendered_maxsize", fmt.Sprintf("%d", cfg.RenderedMaxEntries), "must be at least 1")
	}
	if cfg.RawMaxEntries < 1 {
		return nil, errors.NewConfig("raw_maxsize", fmt.Sprintf("%d", cfg.RawMaxEntries), "must be at least 1")
	}
	if cfg.ImageBudgetMB <= 0 {
		return nil, errors.NewConfig("image_budget_mb", fmt.Sprintf("%g", cfg.ImageBudgetMB), "must be positive")
	}
	if cfg.MemoryThresholdMB <= 0 {
		return nil, errors.NewConfig("memory_threshold_mb", fmt.Sprintf("%g", cfg.MemoryThresholdMB), "must be positive")
	}

	rendered, err := NewChapterCache(cfg.RenderedMaxEntries, logger.With("cache", "rendered"))
	if err != nil {
		return nil, err
	}
	raw, err := NewChapterCache(cfg.RawMaxEntries, logger.With("cache", "raw"))
	if err != nil {
		return nil, err
	}
	images, err := NewImageCache(int64(cfg.ImageBudgetMB*1024*1024), logger.With("cache", "images"))
	if err != nil {
		return nil, err
	}
	monitor, err := NewMemoryMonitor(cfg.MemoryThresholdMB, logger, opts...)
	if err != nil {
		return nil, err
	}

	return &Manager{
		rendered: rendered,
		raw:      raw,
		images:   images,
		monitor:  monitor,
		logger:   logger,
	}, nil
}

// Rendered returns the rendered-chapter cache.
func (m *Manager) Rendered() *ChapterCache {
	return m.rendered
}

// Raw returns the raw-chapter cache.
func (m *Manager) Raw() *ChapterCache {
	return m.raw
}

// Images returns the image cache.
func (m *Manager) Images() *ImageCache {
	return m.images
}

// Monitor returns the memory monitor.
func (m *Manager) Monitor() *MemoryMonitor {
	return m.monitor
}

// ClearAll empties all three caches and resets their counters. The monitor's
// state is monitor-scoped and unaffected by cache contents.
func (m *Manager) ClearAll() {
	m.rendered.Clear()
	m.raw.Clear()
	m.images.Clear()
	m.logger.Info("caches_cleared")
}

// CombinedStats aggregates each component's statistics into one snapshot.
func (m *Manager) CombinedStats() CombinedStats {
	rendered := m.rendered.Stats()
	raw := m.raw.Stats()
	images := m.images.Stats()

	return CombinedStats{
		TotalItems: rendered.Size + raw.Size + images.Size,
		TotalBytes: rendered.MemoryBytes + raw.MemoryBytes + images.MemoryBytes,
		Rendered:   rendered,
		Raw:        raw,
		Images:     images,
		Monitor:    m.monitor.Stats(),
	}
}

// CheckMemoryThreshold delegates to the monitor. Crossing the threshold is
// observational only; it never triggers eviction.
func (m *Manager) CheckMemoryThreshold() bool {
	return m.monitor.CheckThreshold()
}
