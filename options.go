package mpq

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/encoding"

	"github.com/meigma/mpq/internal/codec"
	"github.com/meigma/mpq/internal/format"
	"github.com/meigma/mpq/internal/mpqtype"
	"github.com/meigma/mpq/internal/sidecar"
)

// DefaultMaxFileSize is the default limit for files decoded into memory.
const DefaultMaxFileSize = 256 << 20 // 256MB

// DefaultMaxFiles is the default capacity of a new archive.
const DefaultMaxFiles = 1024

// Attribute flags select the per-file data stored in "(attributes)".
const (
	AttrCRC32    = sidecar.AttrCRC32
	AttrFileTime = sidecar.AttrFileTime
	AttrMD5      = sidecar.AttrMD5
	AttrPatchBit = sidecar.AttrPatchBit

	// AttrAll selects every attribute.
	AttrAll = sidecar.AttrAll
)

type indexPreference int

const (
	preferAuto indexPreference = iota
	preferClassic
	preferCompact
)

type config struct {
	logger        *slog.Logger
	readOnly      bool
	verifySectors bool
	locale        uint16
	listfiles     [][]byte
	nameEncoding  encoding.Encoding
	maxFileSize   uint64
	patchPrefix   string
	prefer        indexPreference

	// Create-time settings.
	version       int
	maxFiles      uint32
	sectorShift   uint16
	attributes    uint32
	attributesSet bool
}

func defaultConfig() config {
	return config{
		verifySectors: true,
		maxFileSize:   DefaultMaxFileSize,
		version:       1,
		maxFiles:      DefaultMaxFiles,
		sectorShift:   format.DefaultSectorSizeShift,
	}
}

// Option configures an Archive.
type Option func(*config)

// WithLogger sets the logger for debug records. A nil logger discards them.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithReadOnly opens the archive without write access.
func WithReadOnly(enabled bool) Option {
	return func(c *config) {
		c.readOnly = enabled
	}
}

// WithVerifySectors controls whether stored sector checksums are checked
// while reading (default: true).
func WithVerifySectors(enabled bool) Option {
	return func(c *config) {
		c.verifySectors = enabled
	}
}

// WithLocale sets the locale preferred by name lookups. Names without a
// variant for the locale resolve to their neutral variant.
func WithLocale(locale uint16) Option {
	return func(c *config) {
		c.locale = locale
	}
}

// WithListfile supplies an external name list in "(listfile)" format.
// Names that resolve to an entry make that entry reachable by name in
// Entries and Names. The option may be given more than once.
func WithListfile(data []byte) Option {
	return func(c *config) {
		c.listfiles = append(c.listfiles, data)
	}
}

// WithNameEncoding sets the legacy code page of names stored in the
// archive. Stored names are decoded with it for display, and UTF-8 names
// passed to lookups are encoded with it when they are not found as given.
// See NameEncoding.
func WithNameEncoding(enc encoding.Encoding) Option {
	return func(c *config) {
		c.nameEncoding = enc
	}
}

// WithMaxFileSize limits the size of files decoded into memory, including
// every version of a patched file. Set limit to 0 to disable the limit.
func WithMaxFileSize(limit uint64) Option {
	return func(c *config) {
		c.maxFileSize = limit
	}
}

// WithPatchPrefix sets the name prefix under which this archive stores its
// patches when it is attached to a base archive without an explicit prefix.
func WithPatchPrefix(prefix string) Option {
	return func(c *config) {
		c.patchPrefix = prefix
	}
}

// WithForceClassic makes Open locate entries through the classic hash and
// block tables even when a compact index is present.
func WithForceClassic() Option {
	return func(c *config) {
		c.prefer = preferClassic
	}
}

// WithForceCompact makes Open locate entries through the compact HET/BET
// index even when classic tables are present.
func WithForceCompact() Option {
	return func(c *config) {
		c.prefer = preferCompact
	}
}

// WithFormatVersion selects the format version (1 to 4) of a new archive
// (default: 1). Versions 3 and 4 carry a compact index next to the classic
// tables.
func WithFormatVersion(version int) Option {
	return func(c *config) {
		c.version = version
	}
}

// WithMaxFiles sets the entry capacity of a new archive (default: 1024).
// The classic hash table is sized to the next power of two.
func WithMaxFiles(n uint32) Option {
	return func(c *config) {
		c.maxFiles = n
	}
}

// WithSectorSizeShift sets the sector size of a new archive to 512<<shift
// bytes (default: 3, giving 4096-byte sectors).
func WithSectorSizeShift(shift uint16) Option {
	return func(c *config) {
		c.sectorShift = shift
	}
}

// WithAttributes selects the attributes written to "(attributes)" by a new
// archive (default: AttrCRC32|AttrFileTime|AttrMD5). Zero disables the
// sidecar.
func WithAttributes(flags uint32) Option {
	return func(c *config) {
		c.attributes = flags
		c.attributesSet = true
	}
}

// Compression selects the codec used for compressed sectors.
type Compression byte

// Supported compression codecs for writing.
const (
	CompressionNone   Compression = 0
	CompressionZlib   Compression = Compression(codec.Zlib)
	CompressionLZMA   Compression = Compression(codec.LZMA)
	CompressionSparse Compression = Compression(codec.Sparse)
)

// String returns the codec name.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZlib:
		return "zlib"
	case CompressionLZMA:
		return "lzma"
	case CompressionSparse:
		return "sparse"
	default:
		return "unknown"
	}
}

// ParseCompression parses a codec name as returned by Compression.String.
func ParseCompression(name string) (Compression, error) {
	for _, c := range []Compression{CompressionNone, CompressionZlib, CompressionLZMA, CompressionSparse} {
		if strings.EqualFold(name, c.String()) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("compression %q: %w", name, mpqtype.ErrNotSupported)
}

type addConfig struct {
	compression Compression
	encrypt     bool
	fixKey      bool
	sectorCRC   bool
	singleUnit  bool
	locale      uint16
	replace     bool
	modTime     time.Time
	patch       bool
}

// AddOption configures AddFile.
type AddOption func(*addConfig)

// AddWithCompression sets the sector codec (default: CompressionZlib).
func AddWithCompression(c Compression) AddOption {
	return func(cfg *addConfig) {
		cfg.compression = c
	}
}

// AddWithEncryption encrypts the file with a key derived from its name.
func AddWithEncryption(enabled bool) AddOption {
	return func(cfg *addConfig) {
		cfg.encrypt = enabled
	}
}

// AddWithFixKey binds the encryption key to the file's position. It implies
// encryption.
func AddWithFixKey(enabled bool) AddOption {
	return func(cfg *addConfig) {
		cfg.fixKey = enabled
	}
}

// AddWithSectorCRC stores a checksum for every sector.
func AddWithSectorCRC(enabled bool) AddOption {
	return func(cfg *addConfig) {
		cfg.sectorCRC = enabled
	}
}

// AddWithSingleUnit stores the file as one block instead of sectors.
func AddWithSingleUnit(enabled bool) AddOption {
	return func(cfg *addConfig) {
		cfg.singleUnit = enabled
	}
}

// AddWithLocale stores the file under a locale variant.
func AddWithLocale(locale uint16) AddOption {
	return func(cfg *addConfig) {
		cfg.locale = locale
	}
}

// AddWithReplace replaces an existing file of the same name and locale
// instead of failing with ErrExists.
func AddWithReplace(enabled bool) AddOption {
	return func(cfg *addConfig) {
		cfg.replace = enabled
	}
}

// AddWithModTime sets the modification time recorded in "(attributes)"
// (default: the time of the call).
func AddWithModTime(t time.Time) AddOption {
	return func(cfg *addConfig) {
		cfg.modTime = t
	}
}

// AddAsPatch stores data as a patch file (a "PTCH" container) to be
// replayed over the same name in a base archive.
func AddAsPatch() AddOption {
	return func(cfg *addConfig) {
		cfg.patch = true
	}
}
