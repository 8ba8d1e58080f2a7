package metrics

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecordTiming(t *testing.T) {
	c := NewCollector()

	c.RecordTiming(OpCompare, 10*time.Millisecond)
	c.RecordTiming(OpCompare, 30*time.Millisecond)

	snap := c.Snapshot()
	require.NotNil(t, snap.Compare)
	assert.Equal(t, int64(2), snap.Compare.Count)
	assert.Equal(t, int64(40), snap.Compare.TotalTimeMs)
	assert.InDelta(t, 20.0, snap.Compare.AvgTimeMs, 0.001)
	assert.Equal(t, int64(10), snap.Compare.MinTimeMs)
	assert.Equal(t, int64(30), snap.Compare.MaxTimeMs)
	assert.Nil(t, snap.Tree)
}

func TestCollectorFailuresOnly(t *testing.T) {
	c := NewCollector()

	c.RecordFailure(OpDistance)

	snap := c.Snapshot()
	require.NotNil(t, snap.Distance)
	assert.Equal(t, int64(1), snap.Distance.Failures)
	assert.Zero(t, snap.Distance.Count)
	assert.Zero(t, snap.Distance.MinTimeMs)
}

func TestNilCollector(t *testing.T) {
	var c *Collector

	c.RecordTiming(OpTree, time.Second)
	c.RecordFailure(OpTree)

	assert.Equal(t, Snapshot{}, c.Snapshot())
}

func TestCollectorConcurrent(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordTiming(OpCacheHit, time.Millisecond)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), c.Snapshot().CacheHit.Count)
}

func TestPrometheusHandler(t *testing.T) {
	c := NewCollector()
	c.RecordTiming(OpDistance, 250*time.Millisecond)
	c.RecordFailure(OpDistance)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `compms2_operations_total{op="distance",result="ok"}`)
	assert.Contains(t, body, `compms2_operations_total{op="distance",result="failed"}`)
	assert.Contains(t, body, `compms2_operation_duration_seconds_bucket{op="distance"`)
}
