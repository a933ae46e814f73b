// Package dispatch parses the line-oriented client protocol and
// drives the core (storage, WAL, replication) on its behalf. This is
// the "command dispatcher" the spec treats as an external collaborator
// to the core — not part of the tested core contract, but the thing
// that actually wires it up for a running node.
package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/AsifIrfan3393/win-kvstore/internal/kverrors"
	"github.com/AsifIrfan3393/win-kvstore/internal/metricssink"
	"github.com/AsifIrfan3393/win-kvstore/internal/replication"
	"github.com/AsifIrfan3393/win-kvstore/internal/storage"
	"github.com/AsifIrfan3393/win-kvstore/internal/tracing"
	"github.com/AsifIrfan3393/win-kvstore/internal/walog"
)

// Role distinguishes a leader (accepts writes) from a replica
// (read-only, fed by a Follower).
type Role string

const (
	RoleLeader  Role = "leader"
	RoleReplica Role = "replica"
)

// Dispatcher turns client protocol lines into store operations,
// appending accepted writes to the WAL and publishing them to
// replicas. It also implements replication.Applier for the follower
// side, re-executing received records against the local store only
// (no WAL append, no rebroadcast).
type Dispatcher struct {
	Store       *storage.Store
	Wal         *walog.Writer // nil when WAL is disabled
	Broadcaster *replication.Broadcaster // nil on a replica
	Sink        *metricssink.Sink
	Tracer      *tracing.Tracer // nil disables tracing
	Role        Role
}

// Dispatch parses and executes a single client protocol line,
// returning the exact response text (without trailing newline).
func (d *Dispatcher) Dispatch(line string) string {
	start := time.Now()
	resp := d.dispatch(context.Background(), line)
	if d.Sink != nil {
		d.Sink.RecordLatency(time.Since(start))
	}
	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, line string) string {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return "ERROR empty"
	}
	cmd := parts[0]

	trace := func(op, key string, fn func(context.Context) (string, error)) string {
		if d.Tracer == nil {
			result, _ := fn(ctx)
			return result
		}
		result, _ := d.Tracer.TraceCommand(ctx, op, key, fn)
		return result
	}

	switch cmd {
	case "PING":
		return "PONG"

	case "GET":
		return trace("get", argOrEmpty(parts, 1), func(context.Context) (string, error) {
			return d.handleGet(parts)
		})

	case "PUT":
		return trace("put", argOrEmpty(parts, 1), func(context.Context) (string, error) {
			return d.handlePut(line, parts)
		})

	case "DEL":
		return trace("del", argOrEmpty(parts, 1), func(context.Context) (string, error) {
			return d.handleDel(line, parts)
		})

	case "REBALANCE":
		return trace("rebalance", "", func(context.Context) (string, error) {
			return d.handleRebalance(parts)
		})

	default:
		return "ERROR unknown command"
	}
}

func argOrEmpty(parts []string, idx int) string {
	if idx < len(parts) {
		return parts[idx]
	}
	return ""
}

func (d *Dispatcher) handleGet(parts []string) (string, error) {
	if len(parts) < 2 {
		return "ERROR usage GET key [version]", &kverrors.ParseError{Usage: "GET key [version]"}
	}
	var version *uint64
	if len(parts) >= 3 {
		v, err := strconv.ParseUint(parts[2], 10, 64)
		if err != nil {
			return "ERROR usage GET key [version]", &kverrors.ParseError{Usage: "GET key [version]"}
		}
		version = &v
	}
	value, ok := d.Store.Get(parts[1], version)
	if d.Sink != nil {
		d.Sink.RecordGet()
	}
	if !ok {
		return "NOT_FOUND", nil
	}
	return "VALUE " + string(value), nil
}

func (d *Dispatcher) handlePut(line string, parts []string) (string, error) {
	if d.Role == RoleReplica {
		return "ERROR read_only", kverrors.ErrReadOnly
	}
	if len(parts) < 3 {
		return "ERROR usage PUT key value [ttl_seconds]", &kverrors.ParseError{Usage: "PUT key value [ttl_seconds]"}
	}
	var ttl *time.Duration
	if len(parts) >= 4 {
		secs, err := strconv.ParseUint(parts[3], 10, 32)
		if err != nil {
			return "ERROR usage PUT key value [ttl_seconds]", &kverrors.ParseError{Usage: "PUT key value [ttl_seconds]"}
		}
		d := time.Duration(secs) * time.Second
		ttl = &d
	}

	d.Store.Put(parts[1], []byte(parts[2]), ttl)
	if d.Sink != nil {
		d.Sink.RecordPut()
	}
	if err := d.logAndReplicate(line); err != nil {
		return "ERROR wal_failure", err
	}
	return "OK", nil
}

func (d *Dispatcher) handleDel(line string, parts []string) (string, error) {
	if d.Role == RoleReplica {
		return "ERROR read_only", kverrors.ErrReadOnly
	}
	if len(parts) < 2 {
		return "ERROR usage DEL key", &kverrors.ParseError{Usage: "DEL key"}
	}

	removed := d.Store.Del(parts[1])
	if d.Sink != nil {
		d.Sink.RecordDel()
	}
	if err := d.logAndReplicate(line); err != nil {
		return "ERROR wal_failure", err
	}
	if !removed {
		return "NOT_FOUND", nil
	}
	return "OK", nil
}

func (d *Dispatcher) handleRebalance(parts []string) (string, error) {
	if d.Role == RoleReplica {
		return "ERROR read_only", kverrors.ErrReadOnly
	}
	if len(parts) != 2 {
		return "ERROR usage REBALANCE new_shard_count", &kverrors.ParseError{Usage: "REBALANCE new_shard_count"}
	}
	count, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return "ERROR usage REBALANCE new_shard_count", &kverrors.ParseError{Usage: "REBALANCE new_shard_count"}
	}
	d.Store.Rebalance(int(count))
	return "OK", nil
}

// logAndReplicate appends line to the WAL (when enabled) and
// publishes it to replicas (when this node is a leader with a
// broadcaster). The store mutation has already happened by the time
// this runs: ordering is store-then-log, matching the spec's
// documented (and intentionally weaker) contract.
func (d *Dispatcher) logAndReplicate(line string) error {
	if d.Wal != nil {
		if err := d.Wal.Append(line); err != nil {
			return fmt.Errorf("wal append: %w", err)
		}
	}
	if d.Broadcaster != nil {
		d.Broadcaster.Publish(line)
	}
	return nil
}

// DispatchBatch runs every line in lines through Dispatch, in order,
// then reports OK. Unlike a precomputed ack, the acknowledgement here
// is sent only after every batched command has actually executed.
func (d *Dispatcher) DispatchBatch(lines []string) string {
	for _, line := range lines {
		d.Dispatch(line)
	}
	if d.Sink != nil {
		d.Sink.RecordBatch()
	}
	return "OK"
}

// Apply implements replication.Applier: it re-executes a received PUT
// or DEL record against the local store only, without touching the
// WAL or republishing. Apply is idempotent at a given version: the
// store assigns a fresh version on every PUT, but replaying the same
// value twice leaves the store in the same observable state.
func (d *Dispatcher) Apply(record string) error {
	parts := strings.Fields(record)
	if len(parts) == 0 {
		return nil
	}
	switch parts[0] {
	case "PUT":
		if len(parts) < 3 {
			return &kverrors.ParseError{Usage: "PUT key value [ttl_seconds]"}
		}
		var ttl *time.Duration
		if len(parts) >= 4 {
			secs, err := strconv.ParseUint(parts[3], 10, 32)
			if err == nil {
				d2 := time.Duration(secs) * time.Second
				ttl = &d2
			}
		}
		d.Store.Put(parts[1], []byte(parts[2]), ttl)
	case "DEL":
		if len(parts) < 2 {
			return &kverrors.ParseError{Usage: "DEL key"}
		}
		d.Store.Del(parts[1])
	}
	return nil
}
