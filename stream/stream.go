// Package stream provides the byte-addressable backends an archive is read
// from and written to.
//
// Every access is positional: a Stream has no cursor. Concurrent ReadAt
// calls are safe for all backends in this package; writes must be
// serialized by the caller.
package stream

import (
	"errors"
	"io"
)

// Stream is a read-only random access byte source.
type Stream interface {
	io.ReaderAt
	io.Closer

	// Size returns the total size of the stream in bytes.
	Size() int64

	// SourceID returns a stable identifier for the stream's contents.
	// Caching layers use it as part of their keys.
	SourceID() string
}

// Writable is a Stream that can be modified in place.
type Writable interface {
	Stream
	io.WriterAt

	// SetSize truncates or extends the stream.
	SetSize(size int64) error

	// NewTemp creates an empty stream of the same kind that can later be
	// passed to SwitchAtomic.
	NewTemp() (Writable, error)

	// SwitchAtomic replaces the contents of the stream with those of tmp
	// in one step. On success tmp is consumed and must not be used again.
	SwitchAtomic(tmp Writable) error
}

var (
	// ErrClosed is returned by operations on a closed stream.
	ErrClosed = errors.New("stream: closed")

	// ErrReadOnly is returned when writing to a stream opened for reading.
	ErrReadOnly = errors.New("stream: read-only")

	// ErrMismatch is returned by SwitchAtomic when tmp is of another kind.
	ErrMismatch = errors.New("stream: temporary stream of a different kind")
)

// clip limits a read of n bytes at off to size, reporting io.EOF when the
// read is short.
func clip(n int, off, size int64) (int, error) {
	if off >= size {
		return 0, io.EOF
	}
	if rem := size - off; int64(n) > rem {
		return int(rem), io.EOF
	}
	return n, nil
}
