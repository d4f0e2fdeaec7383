// Package mpqtype holds the error taxonomy shared by every mpq package.
package mpqtype

import (
	"errors"
	"fmt"
	"io/fs"
)

// Sentinel errors for archive operations.
//
// Errors from the underlying stream are propagated wrapped but are not
// classified with any of these.
var (
	// ErrFormat is returned for a bad signature, version or size field.
	ErrFormat = errors.New("mpq: invalid format")

	// ErrCorrupt is returned when a checksum or content hash does not match,
	// or when structural invariants such as sector ordering are violated.
	ErrCorrupt = errors.New("mpq: corrupt data")

	// ErrKey is returned when an encryption key cannot be recovered.
	ErrKey = errors.New("mpq: encryption key unrecoverable")

	// ErrCapacity is returned when an index has no free slot left.
	ErrCapacity = errors.New("mpq: index full")

	// ErrNotSupported is returned for unsupported flag combinations or codecs.
	ErrNotSupported = errors.New("mpq: not supported")

	// ErrReadOnly is returned when a mutation is attempted on a read-only session.
	ErrReadOnly = errors.New("mpq: archive is read-only")

	// ErrNotFound is returned when no entry matches a name. It matches
	// fs.ErrNotExist.
	ErrNotFound = fmt.Errorf("mpq: %w", fs.ErrNotExist)

	// ErrExists is returned when adding a name that is already present. It
	// matches fs.ErrExist.
	ErrExists = fmt.Errorf("mpq: %w", fs.ErrExist)
)

// Kind names the taxonomy class of err, or "io" when err carries none of
// the sentinels above.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrFormat):
		return "format"
	case errors.Is(err, ErrCorrupt):
		return "corruption"
	case errors.Is(err, ErrKey):
		return "key"
	case errors.Is(err, ErrCapacity):
		return "capacity"
	case errors.Is(err, ErrNotSupported):
		return "not-supported"
	case errors.Is(err, ErrReadOnly):
		return "read-only"
	case errors.Is(err, ErrNotFound):
		return "not-found"
	case errors.Is(err, ErrExists):
		return "exists"
	default:
		return "io"
	}
}
