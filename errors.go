package mpq

import (
	"golang.org/x/text/encoding"

	"github.com/meigma/mpq/internal/mpqtype"
	"github.com/meigma/mpq/internal/sidecar"
)

// Sentinel errors re-exported from internal/mpqtype.
var (
	// ErrFormat is returned for a bad signature, version or size field.
	ErrFormat = mpqtype.ErrFormat

	// ErrCorrupt is returned when a checksum or content hash does not match.
	ErrCorrupt = mpqtype.ErrCorrupt

	// ErrKey is returned when an encryption key cannot be recovered.
	ErrKey = mpqtype.ErrKey

	// ErrCapacity is returned when an index has no free slot left.
	ErrCapacity = mpqtype.ErrCapacity

	// ErrNotSupported is returned for unsupported flag combinations or codecs.
	ErrNotSupported = mpqtype.ErrNotSupported

	// ErrReadOnly is returned when modifying a read-only archive.
	ErrReadOnly = mpqtype.ErrReadOnly

	// ErrNotFound is returned when no entry matches a name.
	ErrNotFound = mpqtype.ErrNotFound

	// ErrExists is returned when adding a name that is already present.
	ErrExists = mpqtype.ErrExists
)

// Kind names the class of err: "format", "corruption", "key", "capacity",
// "not-supported", "read-only", "not-found", "exists", or "io" for errors
// from the underlying stream.
func Kind(err error) string {
	return mpqtype.Kind(err)
}

// NameEncoding returns the legacy code page registered under name, such as
// "windows-1252" or "cp437", for use with WithNameEncoding.
func NameEncoding(name string) (encoding.Encoding, error) {
	return sidecar.Encoding(name)
}
