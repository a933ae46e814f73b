// Package walog implements the write-ahead log: an append-only,
// length+checksum framed record file and the reader that replays it.
package walog

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"
	"time"

	"github.com/AsifIrfan3393/win-kvstore/internal/faultinject"
	"github.com/AsifIrfan3393/win-kvstore/internal/kverrors"
	"github.com/AsifIrfan3393/win-kvstore/internal/metricssink"
	"github.com/rs/zerolog/log"
)

// Writer appends records to an on-disk WAL file. Each record is
// framed as [4B LE length][4B LE CRC-32][payload]; CRC-32 is the IEEE
// polynomial (0xEDB88320 reflected, init/final-xor 0xFFFFFFFF), i.e.
// hash/crc32.ChecksumIEEE. At most one Append proceeds at a time.
type Writer struct {
	mu   sync.Mutex
	path string
	file *os.File

	injector *faultinject.Injector
	sink     *metricssink.Sink
	delay    time.Duration
	failProb float64
}

// NewWriter opens (or creates) the WAL file at path for appending.
func NewWriter(path string, injector *faultinject.Injector, sink *metricssink.Sink, delay time.Duration, failProbability float64) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open wal file: %w", err)
	}
	return &Writer{
		path:     path,
		file:     f,
		injector: injector,
		sink:     sink,
		delay:    delay,
		failProb: failProbability,
	}, nil
}

// Append serializes record's framing, writes it, and flushes the
// underlying file before returning. On flush failure or fault
// injection, it returns a WalFailure and the store mutation it
// describes is not retroactively undone — ordering here is
// store-then-log.
func (w *Writer) Append(record string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.injector != nil {
		w.injector.MaybeDelay(w.delay)
		if w.injector.ShouldFail(w.failProb) {
			return &kverrors.WalFailure{Err: fmt.Errorf("fault injected wal failure")}
		}
	}

	payload := []byte(record)
	header := make([]byte, 8)
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[4:8], crc32.ChecksumIEEE(payload))

	if _, err := w.file.Write(header); err != nil {
		return &kverrors.WalFailure{Err: err}
	}
	if _, err := w.file.Write(payload); err != nil {
		return &kverrors.WalFailure{Err: err}
	}
	if err := w.file.Sync(); err != nil {
		return &kverrors.WalFailure{Err: err}
	}

	if w.sink != nil {
		w.sink.SetWalBytes(uint64(w.sizeBytesLocked()))
	}
	return nil
}

func (w *Writer) sizeBytesLocked() int64 {
	info, err := w.file.Stat()
	if err != nil {
		return 0
	}
	return info.Size()
}

// SizeBytes reports the WAL file's current on-disk size; I/O errors
// yield 0.
func (w *Writer) SizeBytes() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sizeBytesLocked()
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// ReadAll opens path and reads records sequentially, stopping cleanly
// at EOF, at the first short read (a torn tail), or at the first
// checksum mismatch — records after a torn or mismatched record are
// discarded even if individually well-formed. A missing file yields
// an empty, non-error result.
func ReadAll(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open wal file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var records []string
	for {
		header := make([]byte, 8)
		if _, err := io.ReadFull(r, header); err != nil {
			break // clean EOF or torn tail
		}
		length := binary.LittleEndian.Uint32(header[0:4])
		checksum := binary.LittleEndian.Uint32(header[4:8])

		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			break // torn tail
		}
		if crc32.ChecksumIEEE(payload) != checksum {
			log.Warn().Str("path", path).Msg("wal checksum mismatch, stopping replay")
			break
		}
		records = append(records, string(payload))
	}
	return records, nil
}
