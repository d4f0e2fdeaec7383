package mpq

import (
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/meigma/mpq/internal/filetable"
	"github.com/meigma/mpq/internal/format"
	"github.com/meigma/mpq/internal/sidecar"
)

// Entry flags re-exported from internal/format.
const (
	FlagImplode    = format.FlagImplode
	FlagCompress   = format.FlagCompress
	FlagEncrypted  = format.FlagEncrypted
	FlagFixKey     = format.FlagFixKey
	FlagPatchFile  = format.FlagPatchFile
	FlagSingleUnit = format.FlagSingleUnit
	FlagSectorCRC  = format.FlagSectorCRC
	FlagExists     = format.FlagExists
)

// Entry describes one file in the archive.
type Entry struct {
	// Name is the file name, decoded to UTF-8 when a name encoding is set.
	// Entries whose name is unknown get a placeholder such as
	// "File00000012.wav" that can be used to open them.
	Name string

	// Named reports whether Name is the real name of the entry.
	Named bool

	// Ordinal is the position of the entry in the file table.
	Ordinal int

	Size           int64
	CompressedSize int64
	Flags          uint32
	Locale         uint16
	Platform       uint8

	// CRC32, MD5 and ModTime come from "(attributes)" and are zero when
	// the archive does not record them.
	CRC32   uint32
	MD5     [16]byte
	ModTime time.Time
}

// Compressed reports whether the entry is stored compressed.
func (e Entry) Compressed() bool { return e.Flags&format.FlagCompressMask != 0 }

// Encrypted reports whether the entry is stored encrypted.
func (e Entry) Encrypted() bool { return e.Flags&format.FlagEncrypted != 0 }

// Patch reports whether the entry is a patch file.
func (e Entry) Patch() bool { return e.Flags&format.FlagPatchFile != 0 }

func newEntry(ord int, e *filetable.Entry, name string, named bool) Entry {
	return Entry{
		Name:           name,
		Named:          named,
		Ordinal:        ord,
		Size:           int64(e.FSize),
		CompressedSize: int64(e.CSize),
		Flags:          e.Flags,
		Locale:         e.Locale,
		Platform:       e.Platform,
		CRC32:          e.CRC32,
		MD5:            e.MD5,
		ModTime:        sidecar.Time(e.FileTime),
	}
}

// parsePseudoName extracts the ordinal from a placeholder name.
func parsePseudoName(name string) (int, bool) {
	const prefix, digits = "File", 8
	if len(name) < len(prefix)+digits+1 || !strings.EqualFold(name[:len(prefix)], prefix) {
		return -1, false
	}
	if name[len(prefix)+digits] != '.' {
		return -1, false
	}
	ord, err := strconv.Atoi(name[len(prefix) : len(prefix)+digits])
	if err != nil || ord < 0 {
		return -1, false
	}
	return ord, true
}

// fileInfo implements fs.FileInfo for archive entries.
type fileInfo struct {
	entry Entry
	size  int64
}

func (fi *fileInfo) Name() string {
	name := fi.entry.Name
	if i := strings.LastIndexAny(name, `\/`); i >= 0 {
		return name[i+1:]
	}
	return name
}

func (fi *fileInfo) Size() int64        { return fi.size }
func (fi *fileInfo) Mode() fs.FileMode  { return 0o444 }
func (fi *fileInfo) ModTime() time.Time { return fi.entry.ModTime }
func (fi *fileInfo) IsDir() bool        { return false }

// Sys returns the Entry.
func (fi *fileInfo) Sys() any { return fi.entry }
