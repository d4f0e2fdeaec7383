// Package filetable holds the unified entry arena that both index
// representations refer into by ordinal.
package filetable

import "github.com/meigma/mpq/internal/format"

// Entry is one logical file. Indexes refer to entries only by ordinal.
type Entry struct {
	// FilePos is the archive-relative offset of the entry data.
	FilePos uint64
	CSize   uint32
	FSize   uint32
	Flags   uint32

	Locale   uint16
	Platform uint8

	// NameHash is the compact-index hash of Name. It is zero for deleted
	// entries and for classic entries whose name is not yet known.
	NameHash uint64

	// Name is empty until recovered from a name list or assigned on add.
	Name string

	CRC32    uint32
	MD5      [16]byte
	FileTime uint64

	// HashIndex is the classic hash slot referring to the entry, or -1.
	HashIndex int
}

// Exists reports whether the entry is live.
func (e *Entry) Exists() bool { return e.Flags&format.FlagExists != 0 }

// Has reports whether all bits of flag are set.
func (e *Entry) Has(flag uint32) bool { return e.Flags&flag == flag }
