package cache

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lindenwick/folio/core/errors"
)

// milestonesMB are the informational memory levels logged as the process
// grows. Each is logged at most once per monitor lifetime.
var milestonesMB = []float64{100, 125, 150, 175, 200, 250, 300}

// Sampler reports the process's current resident memory in megabytes.
type Sampler func() (float64, error)

// MemoryMonitor samples process-wide resident memory and tracks a single
// warning threshold with hysteresis: the "exceeded" warning fires once when
// the threshold is crossed upward and a "recovered" message fires once when
// usage drops back under it. Repeated polls on the same side of the
// threshold stay silent.
//
// Independently of the threshold, a one-way milestone ratchet logs each
// level in milestonesMB the first time usage reaches it.
type MemoryMonitor struct {
	mu          sync.Mutex
	thresholdMB float64
	sampler     Sampler
	exceeded    bool
	lastMile    float64
	created     time.Time
	logger      *slog.Logger
}

// MonitorStats is a snapshot of the monitor's state.
type MonitorStats struct {
	UsageMB         float64       `json:"usage_mb"`
	ThresholdMB     float64       `json:"threshold_mb"`
	Exceeded        bool          `json:"exceeded"`
	Age             time.Duration `json:"age"`
	LastMilestoneMB float64       `json:"last_milestone_mb"`
}

// MonitorOption configures a MemoryMonitor.
type MonitorOption func(*MemoryMonitor)

// WithSampler replaces the process memory sampler, primarily for tests.
func WithSampler(s Sampler) MonitorOption {
	return func(m *MemoryMonitor) {
		m.sampler = s
	}
}

// NewMemoryMonitor creates a monitor with the given threshold in megabytes.
// The threshold must be positive. A nil logger discards log output.
func NewMemoryMonitor(thresholdMB float64, logger *slog.Logger, opts ...MonitorOption) (*MemoryMonitor, error) {
	if thresholdMB <= 0 {
		return nil, errors.NewConfig("threshold_mb", fmt.Sprintf("%g", thresholdMB), "must be positive")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	m := &MemoryMonitor{
		thresholdMB: thresholdMB,
		sampler:     processResidentMB,
		created:     time.Now(),
		logger:      logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// CurrentUsageMB samples the process's resident memory. A sampling failure
// is reported as zero usage.
func (m *MemoryMonitor) CurrentUsageMB() float64 {
	usage, err := m.sampler()
	if err != nil {
		m.logger.Warn("memory_sample_failed", "error", err)
		return 0
	}
	return usage
}

// CheckThreshold samples current usage, advances the milestone ratchet, and
// returns whether usage exceeds the configured threshold.
func (m *MemoryMonitor) CheckThreshold() bool {
	usage := m.CurrentUsageMB()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.logMilestones(usage)

	over := usage > m.thresholdMB
	switch {
	case over && !m.exceeded:
		m.exceeded = true
		m.logger.Warn("memory_threshold_exceeded", "usage_mb", round1(usage), "threshold_mb", m.thresholdMB)
	case !over && m.exceeded:
		m.exceeded = false
		m.logger.Info("memory_threshold_recovered", "usage_mb", round1(usage), "threshold_mb", m.thresholdMB)
	}
	return over
}

// Stats returns a snapshot of the monitor's state, including a fresh sample.
func (m *MemoryMonitor) Stats() MonitorStats {
	usage := m.CurrentUsageMB()

	m.mu.Lock()
	defer m.mu.Unlock()

	return MonitorStats{
		UsageMB:         usage,
		ThresholdMB:     m.thresholdMB,
		Exceeded:        m.exceeded,
		Age:             time.Since(m.created),
		LastMilestoneMB: m.lastMile,
	}
}

// logMilestones logs every not-yet-logged milestone at or below usage.
// Milestones already passed are never re-logged, even if usage dips and
// climbs back over them. Caller must hold the lock.
func (m *MemoryMonitor) logMilestones(usage float64) {
	for _, mile := range milestonesMB {
		if mile <= m.lastMile || usage < mile {
			continue
		}
		m.lastMile = mile
		m.logger.Info("memory_milestone", "milestone_mb", mile, "usage_mb", round1(usage))
	}
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}

// processResidentMB reads the process's resident set size. On Linux it reads
// /proc/self/statm; elsewhere (or if /proc is unreadable) it falls back to
// the Go runtime's own accounting, which undercounts non-heap memory but
// preserves the monitor's relative behavior.
func processResidentMB() (float64, error) {
	if data, err := os.ReadFile("/proc/self/statm"); err == nil {
		fields := strings.Fields(string(data))
		if len(fields) >= 2 {
			pages, err := strconv.ParseInt(fields[1], 10, 64)
			if err == nil {
				rss := pages * int64(os.Getpagesize())
				return float64(rss) / (1024 * 1024), nil
			}
		}
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return float64(ms.HeapInuse+ms.StackInuse) / (1024 * 1024), nil
}
