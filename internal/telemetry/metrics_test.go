package telemetry

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatencyToBucket(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want LatencyBucket
	}{
		{5 * time.Millisecond, BucketP10},
		{10 * time.Millisecond, BucketP50},
		{75 * time.Millisecond, BucketP100},
		{250 * time.Millisecond, BucketP500},
		{750 * time.Millisecond, BucketP1000},
		{3 * time.Second, BucketSlow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LatencyToBucket(tt.d), tt.d.String())
	}
}

func TestMetrics_CountersGaugesLatencies(t *testing.T) {
	// Given: recorded values
	m := New()
	m.Add(DocumentChunkCount, 3)
	m.Add(DocumentChunkCount, 4)
	m.Set(NumWorkers, 2)
	m.ObserveLatency("embed", 20*time.Millisecond)
	m.ObserveLatency("embed", 40*time.Millisecond)

	// When: snapshotting
	snap := m.Snapshot()

	// Then: values aggregate
	assert.Equal(t, int64(7), snap.Counters[DocumentChunkCount])
	assert.Equal(t, int64(7), m.Counter(DocumentChunkCount))
	assert.Equal(t, 2.0, snap.Gauges[NumWorkers])
	require.Contains(t, snap.Operations, "embed")
	assert.Equal(t, int64(2), snap.Operations["embed"].Count)
	assert.Equal(t, int64(2), snap.Operations["embed"].Buckets[BucketP50])
	assert.Equal(t, 30*time.Millisecond, snap.Operations["embed"].RecentAvg)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.Add("x", 1)
	m.Set("y", 1)
	m.ObserveLatency("z", time.Second)

	assert.Equal(t, int64(0), m.Counter("x"))
	assert.Empty(t, m.Snapshot().Counters)
}

func TestMetrics_ConcurrentAdds(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Add(EntitiesIndexed, 1)
			m.ObserveLatency("op", time.Millisecond)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), m.Counter(EntitiesIndexed))
	assert.Equal(t, int64(50), m.Snapshot().Operations["op"].Count)
}

func TestMetrics_LogSnapshot(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	m := New()
	m.Add(InputDocumentCount, 12)

	m.LogSnapshot(logger)

	assert.Contains(t, buf.String(), `"msg":"run_metrics"`)
	assert.Contains(t, buf.String(), `"input_document_count":12`)
}

func TestCircularBuffer_MaintainsCapacity(t *testing.T) {
	b := NewCircularBuffer[int](3)
	for i := 1; i <= 5; i++ {
		b.Add(i)
	}

	assert.Equal(t, 3, b.Size())
	assert.Equal(t, []int{3, 4, 5}, b.Items())
}
