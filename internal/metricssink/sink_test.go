package metricssink

import (
	"testing"
	"time"
)

func TestCountersAccumulate(t *testing.T) {
	s := New(100)
	s.RecordGet()
	s.RecordGet()
	s.RecordPut()
	s.RecordDel()
	s.RecordBatch()
	s.RecordEviction()

	snap := s.Snapshot()
	if snap.GetCount != 2 {
		t.Errorf("GetCount = %d, want 2", snap.GetCount)
	}
	if snap.PutCount != 1 || snap.DelCount != 1 || snap.BatchCount != 1 || snap.EvictionCount != 1 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestGaugesReflectLastSet(t *testing.T) {
	s := New(100)
	s.SetMemoryBytes(1024)
	s.SetWalBytes(2048)
	s.SetSnapshotDurationMs(5)
	s.SetReplicationLag(3)

	snap := s.Snapshot()
	if snap.MemoryBytes != 1024 || snap.WalBytes != 2048 || snap.SnapshotDurationMs != 5 || snap.ReplicationLag != 3 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestLatencyPercentilesOfEmptySamplerAreZero(t *testing.T) {
	sampler := NewLatencySampler(10)
	p50, p95, p99 := sampler.Percentiles()
	if p50 != 0 || p95 != 0 || p99 != 0 {
		t.Errorf("expected all-zero percentiles for an empty sampler, got %v %v %v", p50, p95, p99)
	}
}

func TestLatencyReservoirDropsOldest(t *testing.T) {
	sampler := NewLatencySampler(2)
	sampler.Record(1 * time.Millisecond)
	sampler.Record(2 * time.Millisecond)
	sampler.Record(100 * time.Millisecond) // should evict the 1ms sample

	p50, _, p99 := sampler.Percentiles()
	if p50 < 2000 {
		t.Errorf("expected the oldest (smallest) sample to have been evicted, p50=%v", p50)
	}
	if p99 < 50000 {
		t.Errorf("expected the 100ms sample to dominate p99, got %v", p99)
	}
}
