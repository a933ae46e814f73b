package walog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/AsifIrfan3393/win-kvstore/internal/faultinject"
)

func TestAppendReadAllRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")

	w, err := NewWriter(path, nil, nil, 0, 0)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	records := []string{"PUT a 1", "PUT b 2", "DEL a"}
	for _, r := range records {
		if err := w.Append(r); err != nil {
			t.Fatalf("Append(%q): %v", r, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != len(records) {
		t.Fatalf("got %d records, want %d", len(got), len(records))
	}
	for i, r := range records {
		if got[i] != r {
			t.Errorf("record %d: got %q, want %q", i, got[i], r)
		}
	}
}

func TestReadAllMissingFileIsEmpty(t *testing.T) {
	got, err := ReadAll(filepath.Join(t.TempDir(), "nope.log"))
	if err != nil {
		t.Fatalf("ReadAll on missing file should not error, got %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no records, got %v", got)
	}
}

func TestReadAllStopsAtTornTail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")

	w, err := NewWriter(path, nil, nil, 0, 0)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.Append("PUT a 1"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	if _, err := f.Write([]byte{0x05, 0x00, 0x00, 0x00, 0xAB, 0xCD, 0xEF, 0x01, 0x00}); err != nil {
		t.Fatalf("write torn record: %v", err)
	}
	f.Close()

	got, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 1 || got[0] != "PUT a 1" {
		t.Errorf("expected the torn tail to be discarded, got %v", got)
	}
}

func TestReadAllStopsAtChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")

	w, err := NewWriter(path, nil, nil, 0, 0)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.Append("PUT a 1"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Append("PUT b 2"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Append a third record with a deliberately wrong checksum, then a
	// fourth and fifth well-formed record after it — mirroring "inject
	// a mismatch at record 3 of 5".
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	payload := []byte("DEL a")
	header := make([]byte, 8)
	header[0] = byte(len(payload))
	header[4] = 0xFF // wrong checksum on purpose
	if _, err := f.Write(header); err != nil {
		t.Fatalf("write corrupt header: %v", err)
	}
	if _, err := f.Write(payload); err != nil {
		t.Fatalf("write corrupt payload: %v", err)
	}
	f.Close()

	w2, err := NewWriter(path, nil, nil, 0, 0)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w2.Append("PUT c 3"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w2.Append("PUT d 4"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	w2.Close()

	got, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	want := []string{"PUT a 1", "PUT b 2"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want replay to stop at the mismatched record, leaving %v", got, want)
	}
	for i, r := range want {
		if got[i] != r {
			t.Errorf("record %d: got %q, want %q", i, got[i], r)
		}
	}
}

func TestAppendFaultInjectionReturnsWalFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")

	injector := faultinject.New()
	w, err := NewWriter(path, injector, nil, 0, 1.0)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	if err := w.Append("PUT a 1"); err == nil {
		t.Errorf("expected a fault-injected failure with failProbability=1.0")
	}
}
