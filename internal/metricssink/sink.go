// Package metricssink implements the core's counters and latency
// sampler. It has no knowledge of HTTP or Prometheus; the exposition
// layer in internal/tcpserver reads it and re-publishes the numbers.
package metricssink

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is a point-in-time read of every counter the sink tracks.
type Snapshot struct {
	GetCount           uint64
	PutCount           uint64
	DelCount           uint64
	BatchCount         uint64
	EvictionCount      uint64
	MemoryBytes        uint64
	WalBytes           uint64
	SnapshotDurationMs uint64
	ReplicationLag     uint64
	P50Micros          float64
	P95Micros          float64
	P99Micros          float64
}

// Sink holds lock-free counters plus a bounded latency reservoir.
type Sink struct {
	getCount      atomic.Uint64
	putCount      atomic.Uint64
	delCount      atomic.Uint64
	batchCount    atomic.Uint64
	evictionCount atomic.Uint64
	memoryBytes   atomic.Uint64
	walBytes      atomic.Uint64
	snapshotMs    atomic.Uint64
	replicationLag atomic.Uint64

	latency *LatencySampler
}

// New returns a Sink with a latency reservoir bounded at maxSamples.
func New(maxSamples int) *Sink {
	return &Sink{latency: NewLatencySampler(maxSamples)}
}

func (s *Sink) RecordGet()   { s.getCount.Add(1) }
func (s *Sink) RecordPut()   { s.putCount.Add(1) }
func (s *Sink) RecordDel()   { s.delCount.Add(1) }
func (s *Sink) RecordBatch() { s.batchCount.Add(1) }
func (s *Sink) RecordEviction() { s.evictionCount.Add(1) }

// RecordLatency records the duration of one dispatched command.
func (s *Sink) RecordLatency(d time.Duration) {
	s.latency.Record(d)
}

func (s *Sink) SetMemoryBytes(v uint64)        { s.memoryBytes.Store(v) }
func (s *Sink) SetWalBytes(v uint64)           { s.walBytes.Store(v) }
func (s *Sink) SetSnapshotDurationMs(v uint64) { s.snapshotMs.Store(v) }
func (s *Sink) SetReplicationLag(v uint64)     { s.replicationLag.Store(v) }

// Snapshot returns a consistent-enough read of every counter; like the
// store's memory counter, a benign race with concurrent writers is
// acceptable here.
func (s *Sink) Snapshot() Snapshot {
	p50, p95, p99 := s.latency.Percentiles()
	return Snapshot{
		GetCount:           s.getCount.Load(),
		PutCount:           s.putCount.Load(),
		DelCount:           s.delCount.Load(),
		BatchCount:         s.batchCount.Load(),
		EvictionCount:      s.evictionCount.Load(),
		MemoryBytes:        s.memoryBytes.Load(),
		WalBytes:           s.walBytes.Load(),
		SnapshotDurationMs: s.snapshotMs.Load(),
		ReplicationLag:     s.replicationLag.Load(),
		P50Micros:          p50,
		P95Micros:          p95,
		P99Micros:          p99,
	}
}

// LatencySampler keeps a bounded, drop-oldest reservoir of latencies
// (in microseconds) and computes percentiles on demand.
type LatencySampler struct {
	mu      sync.Mutex
	samples []float64
	max     int
}

// NewLatencySampler returns a sampler that retains at most maxSamples
// observations, evicting the oldest once full.
func NewLatencySampler(maxSamples int) *LatencySampler {
	if maxSamples <= 0 {
		maxSamples = 10000
	}
	return &LatencySampler{max: maxSamples}
}

// Record adds one latency observation.
func (l *LatencySampler) Record(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.samples) >= l.max {
		l.samples = l.samples[1:]
	}
	l.samples = append(l.samples, float64(d.Nanoseconds())/1000.0)
}

// Percentiles returns p50/p95/p99 in microseconds, using the
// nearest-rank method. All are zero when no samples have been recorded.
func (l *LatencySampler) Percentiles() (p50, p95, p99 float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.samples) == 0 {
		return 0, 0, 0
	}
	sorted := make([]float64, len(l.samples))
	copy(sorted, l.samples)
	sort.Float64s(sorted)
	at := func(pct float64) float64 {
		idx := int(math.Ceil(pct*float64(len(sorted)))) - 1
		if idx < 0 {
			idx = 0
		}
		return sorted[idx]
	}
	return at(0.50), at(0.95), at(0.99)
}
