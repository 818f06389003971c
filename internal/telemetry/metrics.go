// Package telemetry collects in-process indexing metrics. Nothing is
// reported externally; the snapshot is logged at the end of a run.
package telemetry

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Metric names.
const (
	InputDocumentCount  = "input_document_count"
	NumWorkers          = "num_workers"
	DocumentChunkCount  = "document_chunk_count"
	EmbeddingMsPerItem  = "embedding_ms_per_item"
	EntitiesIndexed     = "entities_indexed"
	SkippedUnsupported  = "skipped_unsupported"
	VectorRowsInserted  = "vector_rows_inserted"
	SearchRequestsTotal = "search_requests"
)

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // 500ms-1s
	BucketSlow  LatencyBucket = "slow"  // >=1s
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	case ms < 1000:
		return BucketP1000
	default:
		return BucketSlow
	}
}

// Metrics holds counters, gauges and per-operation latency histograms.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	mu        sync.Mutex
	counters  map[string]int64
	gauges    map[string]float64
	latencies map[string]map[LatencyBucket]int64
	recent    map[string]*CircularBuffer[time.Duration]
}

// New returns an empty Metrics.
func New() *Metrics {
	return &Metrics{
		counters:  make(map[string]int64),
		gauges:    make(map[string]float64),
		latencies: make(map[string]map[LatencyBucket]int64),
		recent:    make(map[string]*CircularBuffer[time.Duration]),
	}
}

// Add increments a counter.
func (m *Metrics) Add(name string, delta int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.counters[name] += delta
	m.mu.Unlock()
}

// Set stores a gauge value.
func (m *Metrics) Set(name string, value float64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.gauges[name] = value
	m.mu.Unlock()
}

// ObserveLatency records d for op.
func (m *Metrics) ObserveLatency(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	buckets, ok := m.latencies[op]
	if !ok {
		buckets = make(map[LatencyBucket]int64)
		m.latencies[op] = buckets
		m.recent[op] = NewCircularBuffer[time.Duration](100)
	}
	buckets[LatencyToBucket(d)]++
	m.recent[op].Add(d)
}

// Counter returns the current value of a counter.
func (m *Metrics) Counter(name string) int64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

// OperationStats summarizes one operation's latencies.
type OperationStats struct {
	Count   int64
	Buckets map[LatencyBucket]int64
	// RecentAvg averages the last 100 observations.
	RecentAvg time.Duration
}

// Snapshot is a point-in-time copy of Metrics.
type Snapshot struct {
	Counters   map[string]int64
	Gauges     map[string]float64
	Operations map[string]OperationStats
}

// Snapshot copies the current values.
func (m *Metrics) Snapshot() Snapshot {
	snap := Snapshot{
		Counters:   map[string]int64{},
		Gauges:     map[string]float64{},
		Operations: map[string]OperationStats{},
	}
	if m == nil {
		return snap
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, v := range m.counters {
		snap.Counters[k] = v
	}
	for k, v := range m.gauges {
		snap.Gauges[k] = v
	}
	for op, buckets := range m.latencies {
		stats := OperationStats{Buckets: make(map[LatencyBucket]int64, len(buckets))}
		for b, n := range buckets {
			stats.Buckets[b] = n
			stats.Count += n
		}
		if items := m.recent[op].Items(); len(items) > 0 {
			var total time.Duration
			for _, d := range items {
				total += d
			}
			stats.RecentAvg = total / time.Duration(len(items))
		}
		snap.Operations[op] = stats
	}
	return snap
}

// LogValue renders the snapshot as grouped slog attributes.
func (s Snapshot) LogValue() slog.Value {
	var attrs []slog.Attr
	for _, k := range sortedKeys(s.Counters) {
		attrs = append(attrs, slog.Int64(k, s.Counters[k]))
	}
	for _, k := range sortedKeys(s.Gauges) {
		attrs = append(attrs, slog.Float64(k, s.Gauges[k]))
	}
	for _, op := range sortedKeys(s.Operations) {
		stats := s.Operations[op]
		attrs = append(attrs, slog.Group(op,
			slog.Int64("count", stats.Count),
			slog.Duration("recent_avg", stats.RecentAvg)))
	}
	return slog.GroupValue(attrs...)
}

// LogSnapshot logs the current snapshot as run_metrics.
func (m *Metrics) LogSnapshot(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("run_metrics", slog.Any("metrics", m.Snapshot()))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	items    []T
	head     int
	size     int
	capacity int
	mu       sync.RWMutex
}

// NewCircularBuffer creates a buffer; capacity <= 0 means 100.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add adds an item, evicting the oldest when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns the items oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return []T{}
	}
	result := make([]T, b.size)
	if b.size < b.capacity {
		copy(result, b.items[:b.size])
	} else {
		copy(result, b.items[b.head:])
		copy(result[b.capacity-b.head:], b.items[:b.head])
	}
	return result
}

// Size returns the number of items held.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}
