package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.stageDuration)
	assert.NotNil(t, collector.runsTotal)
	assert.NotNil(t, collector.Latency())
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), nil)

	collector.RecordHTTPRequest("POST", "/v1/retrieve", 200, 100*time.Millisecond)
	collector.RecordHTTPRequest("POST", "/v1/retrieve", 503, 10*time.Millisecond)

	assert.Equal(t, 2, testutil.CollectAndCount(collector.httpRequestsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("POST", "/v1/retrieve", "5xx")))
}

func TestCollector_PipelineMetrics(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), nil)

	collector.ObserveStage("Analyzing", "live", 20*time.Millisecond)
	collector.RecordRun("live", "complete", 900*time.Millisecond)
	collector.RecordRun("live", "failed", 100*time.Millisecond)
	collector.RecordStrategy("decompose", "live")
	collector.RecordSafety("escalate")
	collector.RecordSLABreach("total", "live")
	collector.RecordSourceFailure("graph")
	collector.RecordEvidence(7, 3)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.runsTotal.WithLabelValues("live", "complete")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.strategyTotal.WithLabelValues("decompose", "live")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.slaBreaches.WithLabelValues("total", "live")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.sourceFailures.WithLabelValues("graph")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.safetyTotal.WithLabelValues("escalate")))

	snap := collector.Latency().Snapshot()
	require.Contains(t, snap, "Analyzing")
	require.Contains(t, snap, "total")
	assert.Equal(t, int64(2), snap["total"].Count)
	assert.InDelta(t, 500.0, snap["total"].AvgMS, 1e-6)
	assert.InDelta(t, 900.0, snap["total"].MaxMS, 1e-6)
}

func TestCollector_CacheAndDB(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), nil)
	collector.RecordCacheHit("faq")
	collector.RecordCacheMiss("faq")
	collector.RecordCacheMiss("faq")
	collector.RecordDBConnections("postgres", 5, 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.cacheHits.WithLabelValues("faq")))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.cacheMisses.WithLabelValues("faq")))
	assert.Equal(t, 5.0, testutil.ToFloat64(collector.dbConnectionsOpen.WithLabelValues("postgres")))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.dbConnectionsIdle.WithLabelValues("postgres")))
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, "2xx", statusCode(204))
	assert.Equal(t, "3xx", statusCode(302))
	assert.Equal(t, "4xx", statusCode(429))
	assert.Equal(t, "5xx", statusCode(502))
	assert.Equal(t, "unknown", statusCode(100))
}

// =============================================================================
// 🧪 LatencyMonitor 测试
// =============================================================================

func TestLatencyMonitor_P95OverWindow(t *testing.T) {
	m := NewLatencyMonitor()
	for i := 1; i <= 100; i++ {
		m.Record("Retrieving", time.Duration(i)*time.Millisecond)
	}
	s := m.Snapshot()["Retrieving"]
	assert.Equal(t, int64(100), s.Count)
	assert.InDelta(t, 95.0, s.P95MS, 1e-6)
	assert.InDelta(t, 100.0, s.MaxMS, 1e-6)
	assert.InDelta(t, 50.5, s.AvgMS, 1e-6)
}

func TestLatencyMonitor_WindowWraps(t *testing.T) {
	m := NewLatencyMonitor()
	for i := 0; i < latencyWindow; i++ {
		m.Record("s", time.Second)
	}
	for i := 0; i < latencyWindow; i++ {
		m.Record("s", time.Millisecond)
	}
	s := m.Snapshot()["s"]
	assert.InDelta(t, 1.0, s.P95MS, 1e-6, "old samples leave the window")
	assert.InDelta(t, 1000.0, s.MaxMS, 1e-6, "max is lifetime")
}

func TestLatencyMonitor_Concurrent(t *testing.T) {
	m := NewLatencyMonitor()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Record("x", time.Millisecond)
				_ = m.Snapshot()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(800), m.Snapshot()["x"].Count)
}
