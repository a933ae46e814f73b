// Package kverrors defines the typed error kinds shared across the
// storage, WAL, snapshot, replication and dispatch packages.
package kverrors

import "errors"

// ErrReadOnly is returned by a write command issued against a replica.
var ErrReadOnly = errors.New("read_only")

// ParseError wraps a malformed client command or argument list.
type ParseError struct {
	Usage string
}

func (e *ParseError) Error() string {
	return "usage " + e.Usage
}

// WalFailure wraps an append that could not be durably persisted,
// whether due to real I/O failure or fault injection.
type WalFailure struct {
	Err error
}

func (e *WalFailure) Error() string {
	return "wal append failed: " + e.Err.Error()
}

func (e *WalFailure) Unwrap() error {
	return e.Err
}
