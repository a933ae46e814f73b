package snapshot

import (
	"testing"
	"time"

	"github.com/AsifIrfan3393/win-kvstore/internal/storage"
)

func TestWriteLoadRoundTrip(t *testing.T) {
	mgr, err := NewManager(t.TempDir(), nil, nil, 0)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	items := []storage.Item{
		{Key: "a", Value: []byte("1"), Version: 1, ResidualTTLMs: -1},
		{Key: "b", Value: []byte("2"), Version: 2, ResidualTTLMs: 60000},
	}
	if err := mgr.Write(items); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := mgr.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != len(items) {
		t.Fatalf("got %d items, want %d", len(got), len(items))
	}

	byKey := make(map[string]storage.Item)
	for _, it := range got {
		byKey[it.Key] = it
	}

	if it, ok := byKey["a"]; !ok || string(it.Value) != "1" || it.ResidualTTLMs != -1 {
		t.Errorf("item a round-tripped incorrectly: %+v ok=%v", it, ok)
	}
	if it, ok := byKey["b"]; !ok || string(it.Value) != "2" {
		t.Errorf("item b round-tripped incorrectly: %+v ok=%v", it, ok)
	}
}

func TestLoadMissingSnapshotIsEmpty(t *testing.T) {
	mgr, err := NewManager(t.TempDir(), nil, nil, 0)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	got, err := mgr.Load()
	if err != nil {
		t.Fatalf("Load on a fresh directory should not error, got %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no items, got %v", got)
	}
}

func TestWriteThenRestoreReconstitutesTTL(t *testing.T) {
	mgr, err := NewManager(t.TempDir(), nil, nil, 0)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	items := []storage.Item{{Key: "a", Value: []byte("1"), Version: 1, ResidualTTLMs: 1}}
	if err := mgr.Write(items); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := mgr.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	st := storage.New(1, 1<<20, nil)
	st.Restore(got)
	time.Sleep(5 * time.Millisecond)

	if _, ok := st.Get("a", nil); ok {
		t.Errorf("expected the restored 1ms-residual-ttl entry to have expired by now")
	}
}
