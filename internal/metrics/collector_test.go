package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// The collector registers against the default registry, so it is created
// once for the whole test binary.
var testCollector = NewCollector("oversea_test", zap.NewNop())

func counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
	metric:
		for _, m := range fam.GetMetric() {
			got := map[string]string{}
			for _, lp := range m.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			for k, v := range labels {
				if got[k] != v {
					continue metric
				}
			}
			if m.GetCounter() != nil {
				return m.GetCounter().GetValue()
			}
			if m.GetGauge() != nil {
				return m.GetGauge().GetValue()
			}
		}
	}
	return 0
}

func TestCollectorRecords(t *testing.T) {
	c := testCollector

	c.SessionOpened()
	c.RecordTurn("completed")
	c.RecordBargeIn("vad")
	c.RecordStateTransition("idle", "listening")
	c.RecordLLMFirstToken(120 * time.Millisecond)
	c.RecordTTSUnit(200 * time.Millisecond)
	c.RecordSTTStream(2 * time.Second)
	c.RecordProviderError("deepgram", "stream")
	c.RecordEgressDropped()
	c.SetEgressDepth(3)
	c.RecordCacheHit()
	c.RecordCacheMiss()
	c.RecordHTTPRequest("GET", "/health", 200, 5*time.Millisecond)
	c.SessionClosed()

	assert.Equal(t, 1.0, counterValue(t, "oversea_test_sessions_total", nil))
	assert.Equal(t, 0.0, counterValue(t, "oversea_test_sessions_active", nil))
	assert.Equal(t, 1.0, counterValue(t, "oversea_test_turns_total", map[string]string{"outcome": "completed"}))
	assert.Equal(t, 1.0, counterValue(t, "oversea_test_barge_ins_total", map[string]string{"source": "vad"}))
	assert.Equal(t, 1.0, counterValue(t, "oversea_test_provider_errors_total",
		map[string]string{"provider": "deepgram", "kind": "stream"}))
	assert.Equal(t, 1.0, counterValue(t, "oversea_test_egress_dropped_total", nil))
	assert.Equal(t, 3.0, counterValue(t, "oversea_test_egress_queue_depth", nil))
	assert.Equal(t, 1.0, counterValue(t, "oversea_test_http_requests_total",
		map[string]string{"method": "GET", "path": "/health", "status": "2xx"}))
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector

	// Every method on a nil collector is a no-op.
	c.SessionOpened()
	c.SessionClosed()
	c.RecordTurn("completed")
	c.RecordBargeIn("client")
	c.RecordStateTransition("a", "b")
	c.RecordSTTStream(time.Second)
	c.RecordLLMFirstToken(time.Second)
	c.RecordTTSUnit(time.Second)
	c.RecordProviderError("p", "k")
	c.RecordEgressDropped()
	c.SetEgressDepth(1)
	c.RecordCacheHit()
	c.RecordCacheMiss()
	c.RecordHTTPRequest("GET", "/", 200, time.Second)
}

func TestStatusCodeBuckets(t *testing.T) {
	assert.Equal(t, "2xx", statusCode(204))
	assert.Equal(t, "3xx", statusCode(301))
	assert.Equal(t, "4xx", statusCode(404))
	assert.Equal(t, "5xx", statusCode(503))
	assert.Equal(t, "unknown", statusCode(42))
}
