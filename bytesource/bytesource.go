// Package bytesource exposes random-access byte ranges over local files and
// remote object stores, independent of what sits on top (HDF5 metadata
// parser, chunk I/O engine). Every Source is safe for concurrent Read calls;
// fan-out and pooling are the caller's responsibility (see chunkio).
package bytesource

import (
	"context"
	"errors"
	"fmt"
)

// ErrShortRead is returned when fewer bytes than requested could be read and
// no more specific error (network failure, non-success status) applies.
var ErrShortRead = errors.New("bytesource: short read")

// Source is a random-access byte range provider. Implementations must
// support overlapping concurrent Read calls.
type Source interface {
	// Read returns exactly length bytes starting at offset, or an error.
	Read(ctx context.Context, offset, length int64) ([]byte, error)

	// Size returns the total size of the resource in bytes. The result of
	// the first call, value or error, is cached and returned thereafter.
	Size(ctx context.Context) (int64, error)

	// Close releases any resources (file descriptors, mmaps, HTTP idle
	// conns) held by the source.
	Close() error
}

// IOError wraps a failure from the underlying transport (short read,
// network failure, non-success HTTP status). It is the "IoError" kind of
// spec §7.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("bytesource: %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func ioErrorf(op string, err error) error {
	return &IOError{Op: op, Err: err}
}
