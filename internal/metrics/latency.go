package metrics

import (
	"sort"
	"sync"
	"time"
)

// latencyWindow 每个阶段保留的最近样本数
const latencyWindow = 256

// StageSummary 单阶段延迟汇总
type StageSummary struct {
	Count int64   `json:"count"`
	AvgMS float64 `json:"avg_ms"`
	MaxMS float64 `json:"max_ms"`
	// P95MS is computed over the most recent samples only.
	P95MS float64 `json:"p95_ms"`
}

type stageStats struct {
	count int64
	total time.Duration
	max   time.Duration
	ring  [latencyWindow]time.Duration
	next  int
}

// LatencyMonitor 进程内滚动延迟汇总，供 SLA 监控
type LatencyMonitor struct {
	mu    sync.Mutex
	stats map[string]*stageStats
}

// NewLatencyMonitor creates an empty monitor.
func NewLatencyMonitor() *LatencyMonitor {
	return &LatencyMonitor{stats: make(map[string]*stageStats)}
}

// Record adds one sample.
func (m *LatencyMonitor) Record(stage string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stats[stage]
	if !ok {
		s = &stageStats{}
		m.stats[stage] = s
	}
	s.count++
	s.total += d
	if d > s.max {
		s.max = d
	}
	s.ring[s.next%latencyWindow] = d
	s.next++
}

// Snapshot returns a copy of the per-stage summaries.
func (m *LatencyMonitor) Snapshot() map[string]StageSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]StageSummary, len(m.stats))
	for stage, s := range m.stats {
		n := s.next
		if n > latencyWindow {
			n = latencyWindow
		}
		window := make([]time.Duration, n)
		copy(window, s.ring[:n])
		sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })

		var p95 time.Duration
		if n > 0 {
			p95 = window[(n*95+99)/100-1]
		}
		out[stage] = StageSummary{
			Count: s.count,
			AvgMS: ms(s.total) / float64(s.count),
			MaxMS: ms(s.max),
			P95MS: ms(p95),
		}
	}
	return out
}

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }
