// Package telemetry aggregates local search-traffic metrics: volume,
// latency distribution, zero-result rate, and repeat-query share.
// Everything stays on the local disk; nothing is reported anywhere.
package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LatencyBucket is one histogram bucket of end-to-end query latency.
type LatencyBucket string

const (
	BucketUnder50ms  LatencyBucket = "lt50ms"
	BucketUnder200ms LatencyBucket = "lt200ms"
	BucketUnder1s    LatencyBucket = "lt1s"
	BucketUnder5s    LatencyBucket = "lt5s"
	BucketOver5s     LatencyBucket = "ge5s"
)

// LatencyToBucket converts a duration to its histogram bucket.
// Embedding and reranking dominate query time, so the buckets are
// coarser than typical in-memory search histograms.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 50:
		return BucketUnder50ms
	case ms < 200:
		return BucketUnder200ms
	case ms < 1000:
		return BucketUnder1s
	case ms < 5000:
		return BucketUnder5s
	default:
		return BucketOver5s
	}
}

// recentQueryCap bounds the hash cache used to detect repeat queries.
const recentQueryCap = 512

// QueryMetrics accumulates search metrics. Safe for concurrent use.
type QueryMetrics struct {
	mu sync.Mutex

	total          int
	zeroResults    int
	failed         int
	repeats        int
	byGranularity  map[string]int
	byLatency      map[LatencyBucket]int
	totalLatencyMS int64

	// recent holds hashes of recently seen queries; a hit means the
	// same query text was asked again.
	recent *lru.Cache[string, struct{}]
}

// Snapshot is the JSON-shaped aggregate view.
type Snapshot struct {
	Total          int                   `json:"total"`
	ZeroResults    int                   `json:"zero_results"`
	Failed         int                   `json:"failed"`
	Repeats        int                   `json:"repeats"`
	ByGranularity  map[string]int        `json:"by_granularity"`
	ByLatency      map[LatencyBucket]int `json:"by_latency"`
	MeanLatencyMS  float64               `json:"mean_latency_ms"`
	ZeroResultRate float64               `json:"zero_result_rate"`
}

// NewQueryMetrics creates an empty metrics accumulator.
func NewQueryMetrics() *QueryMetrics {
	recent, _ := lru.New[string, struct{}](recentQueryCap)
	return &QueryMetrics{
		byGranularity: make(map[string]int),
		byLatency:     make(map[LatencyBucket]int),
		recent:        recent,
	}
}

// Record adds one completed query to the aggregate.
func (m *QueryMetrics) Record(query, granularity string, latency time.Duration, results int) {
	key := hashQuery(query)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.total++
	m.byGranularity[granularity]++
	m.byLatency[LatencyToBucket(latency)]++
	m.totalLatencyMS += latency.Milliseconds()
	if results == 0 {
		m.zeroResults++
	}
	if _, seen := m.recent.Get(key); seen {
		m.repeats++
	}
	m.recent.Add(key, struct{}{})
}

// RecordFailure counts a query that errored before producing results.
func (m *QueryMetrics) RecordFailure(granularity string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total++
	m.failed++
	m.byGranularity[granularity]++
}

// Snapshot returns the current aggregate.
func (m *QueryMetrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		Total:         m.total,
		ZeroResults:   m.zeroResults,
		Failed:        m.failed,
		Repeats:       m.repeats,
		ByGranularity: make(map[string]int, len(m.byGranularity)),
		ByLatency:     make(map[LatencyBucket]int, len(m.byLatency)),
	}
	for k, v := range m.byGranularity {
		s.ByGranularity[k] = v
	}
	for k, v := range m.byLatency {
		s.ByLatency[k] = v
	}

	completed := m.total - m.failed
	if completed > 0 {
		s.MeanLatencyMS = float64(m.totalLatencyMS) / float64(completed)
		s.ZeroResultRate = float64(m.zeroResults) / float64(completed)
	}
	return s
}

// Restore seeds the accumulator from a persisted snapshot. Mean
// latency is reconstructed; the repeat-detection cache starts cold.
func (m *QueryMetrics) Restore(s Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total = s.Total
	m.zeroResults = s.ZeroResults
	m.failed = s.Failed
	m.repeats = s.Repeats
	for k, v := range s.ByGranularity {
		m.byGranularity[k] = v
	}
	for k, v := range s.ByLatency {
		m.byLatency[k] = v
	}
	m.totalLatencyMS = int64(s.MeanLatencyMS * float64(s.Total-s.Failed))
}

// hashQuery normalizes and hashes query text. Only the hash is kept,
// never the query itself.
func hashQuery(q string) string {
	h := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(q))))
	return hex.EncodeToString(h[:8])
}
