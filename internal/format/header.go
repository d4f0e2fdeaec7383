package format

import (
	"crypto/md5"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/meigma/mpq/internal/mpqtype"
)

// Version is a zero-based archive format version.
type Version uint16

// Format versions.
const (
	V1 Version = iota
	V2
	V3
	V4
)

func (v Version) String() string {
	return fmt.Sprintf("v%d", uint16(v)+1)
}

// HeaderSize returns the on-disk header size of v.
func (v Version) HeaderSize() uint32 {
	switch v {
	case V2:
		return HeaderSizeV2
	case V3:
		return HeaderSizeV3
	case V4:
		return HeaderSizeV4
	default:
		return HeaderSizeV1
	}
}

// Header is the canonical archive header. Positions are relative to the
// archive offset and sizes are stored byte sizes unless noted.
type Header struct {
	Version         Version
	HeaderSize      uint32
	ArchiveSize     uint64
	SectorSizeShift uint16

	HashTablePos    uint64
	BlockTablePos   uint64
	HiBlockTablePos uint64
	HetTablePos     uint64
	BetTablePos     uint64

	// HashTableEntries and BlockTableEntries are entry counts.
	HashTableEntries  uint32
	BlockTableEntries uint32

	HashTableSize    uint64
	BlockTableSize   uint64
	HiBlockTableSize uint64
	HetTableSize     uint64
	BetTableSize     uint64

	RawChunkSize uint32

	MD5BlockTable   [16]byte
	MD5HashTable    [16]byte
	MD5HiBlockTable [16]byte
	MD5BetTable     [16]byte
	MD5HetTable     [16]byte
	MD5Header       [16]byte

	// Malformed is set when the header needed repair heuristics. Such
	// archives are opened read-only.
	Malformed bool
}

// SectorSize returns the sector size in bytes.
func (h *Header) SectorSize() uint32 {
	return 512 << h.SectorSizeShift
}

// Abs converts an archive-relative position to a stream offset. Version 1
// positions are 32-bit and wrap, which some protectors use to place tables
// before the header.
func (h *Header) Abs(archiveOffset, rel uint64) uint64 {
	if h.Version == V1 {
		return uint64(uint32(archiveOffset) + uint32(rel))
	}
	return archiveOffset + rel
}

// ReadHeader reads and migrates the header at archiveOffset. fileSize is the
// size of the whole stream.
func ReadHeader(r io.ReaderAt, archiveOffset, fileSize uint64) (*Header, error) {
	raw := make([]byte, HeaderSizeV4)
	n, err := r.ReadAt(raw, int64(archiveOffset)) //nolint:gosec // offsets come from a bounded search
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if n < HeaderSizeV1 {
		return nil, fmt.Errorf("header truncated at %d bytes: %w", n, mpqtype.ErrFormat)
	}
	if binary.LittleEndian.Uint32(raw) != HeaderID {
		return nil, fmt.Errorf("bad header signature %#x: %w", binary.LittleEndian.Uint32(raw), mpqtype.ErrFormat)
	}
	// Short reads near the end of the stream read as zeros.
	clear(raw[n:])

	h := &Header{}
	le := binary.LittleEndian
	h.HeaderSize = le.Uint32(raw[0x04:])
	archiveSize32 := le.Uint32(raw[0x08:])
	version := le.Uint16(raw[0x0C:])
	sectorWord := le.Uint16(raw[0x0E:])
	hashPos := le.Uint32(raw[0x10:])
	blockPos := le.Uint32(raw[0x14:])
	h.HashTableEntries = le.Uint32(raw[0x18:])
	h.BlockTableEntries = le.Uint32(raw[0x1C:])
	h.SectorSizeShift = sectorWord

	v, malformed := resolveVersion(version, h.HeaderSize)
	h.Malformed = malformed
	h.Version = v

	if v == V1 {
		h.migrateV1(r, archiveSize32, hashPos, blockPos, archiveOffset, fileSize)
		return h, nil
	}

	h.HiBlockTablePos = le.Uint64(raw[0x20:])
	hashHi := le.Uint16(raw[0x28:])
	blockHi := le.Uint16(raw[0x2A:])
	h.HashTablePos = uint64(hashHi)<<32 | uint64(hashPos)
	h.BlockTablePos = uint64(blockHi)<<32 | uint64(blockPos)
	h.ArchiveSize = uint64(archiveSize32)
	if h.SectorSizeShift&0xFF00 != 0 {
		h.SectorSizeShift &= 0xFF
		h.Malformed = true
	}

	switch v {
	case V2:
		h.HeaderSize = HeaderSizeV2
		h.deriveClassicSizes()
		h.ArchiveSize = max(h.ArchiveSize, h.tablesEnd())
	case V3:
		h.HeaderSize = HeaderSizeV3
		h.ArchiveSize = le.Uint64(raw[0x2C:])
		h.BetTablePos = le.Uint64(raw[0x34:])
		h.HetTablePos = le.Uint64(raw[0x3C:])
		h.deriveV3Sizes()
	case V4:
		h.HeaderSize = HeaderSizeV4
		h.ArchiveSize = le.Uint64(raw[0x2C:])
		h.BetTablePos = le.Uint64(raw[0x34:])
		h.HetTablePos = le.Uint64(raw[0x3C:])
		h.HashTableSize = le.Uint64(raw[0x44:])
		h.BlockTableSize = le.Uint64(raw[0x4C:])
		h.HiBlockTableSize = le.Uint64(raw[0x54:])
		h.HetTableSize = le.Uint64(raw[0x5C:])
		h.BetTableSize = le.Uint64(raw[0x64:])
		h.RawChunkSize = le.Uint32(raw[0x6C:])
		copy(h.MD5BlockTable[:], raw[0x70:])
		copy(h.MD5HashTable[:], raw[0x80:])
		copy(h.MD5HiBlockTable[:], raw[0x90:])
		copy(h.MD5BetTable[:], raw[0xA0:])
		copy(h.MD5HetTable[:], raw[0xB0:])
		copy(h.MD5Header[:], raw[0xC0:])
	}
	return h, nil
}

// resolveVersion picks the layout to decode. Unknown versions and
// inconsistent header sizes fall back to a malformed version 1 header.
func resolveVersion(version uint16, headerSize uint32) (Version, bool) {
	v := Version(version)
	switch {
	case v > V4:
		return V1, true
	case v >= V2 && headerSize < HeaderSizeV2:
		return V1, true
	case v == V2 && headerSize != HeaderSizeV2:
		return V1, true
	}
	if v == V4 && headerSize < HeaderSizeV4 {
		v = V3
	}
	if v == V3 && headerSize < HeaderSizeV3 {
		v = V2
	}
	return v, false
}

func (h *Header) migrateV1(r io.ReaderAt, archiveSize32, hashPos, blockPos uint32, archiveOffset, fileSize uint64) {
	if h.HeaderSize != HeaderSizeV1 {
		h.HeaderSize = HeaderSizeV1
		h.Malformed = true
	}
	if hashPos <= h.HeaderSize || hashPos&0x80000000 != 0 {
		h.Malformed = true
	}
	if blockPos <= h.HeaderSize || blockPos&0x80000000 != 0 {
		h.Malformed = true
	}
	if h.SectorSizeShift&0xFF00 != 0 {
		h.SectorSizeShift &= 0xFF
		h.Malformed = true
	}
	h.HashTablePos = uint64(hashPos)
	h.BlockTablePos = uint64(blockPos)
	h.ArchiveSize = uint64(archiveSize32)
	if h.Malformed {
		h.ArchiveSize = archiveSizeV1(r, archiveSize32, blockPos, h.BlockTableEntries, archiveOffset, fileSize)
	}
	h.deriveClassicSizes()
}

// archiveSizeV1 determines the real size of a malformed version 1 archive.
func archiveSizeV1(r io.ReaderAt, archiveSize, blockPos, blockEntries uint32, archiveOffset, fileSize uint64) uint64 {
	if blockPos < archiveSize {
		// Version 1 block tables are never compressed.
		if archiveSize-blockPos == blockEntries*BlockEntrySize {
			return uint64(archiveSize)
		}
		if fileSize >= archiveOffset && uint64(archiveSize) == fileSize-archiveOffset {
			return uint64(archiveSize)
		}
	}

	end := fileSize
	if fileSize > archiveOffset && fileSize-archiveOffset > StrongSigSize+4 {
		var sig [4]byte
		pos := fileSize - StrongSigSize - 4
		if _, err := r.ReadAt(sig[:], int64(pos)); err == nil && binary.LittleEndian.Uint32(sig[:]) == StrongSigID { //nolint:gosec // bounded by fileSize
			end = pos
		}
	}
	if end < archiveOffset {
		return 0
	}
	return end - archiveOffset
}

func (h *Header) deriveClassicSizes() {
	h.HashTableSize = uint64(h.HashTableEntries) * HashEntrySize
	h.BlockTableSize = uint64(h.BlockTableEntries) * BlockEntrySize
	if h.HiBlockTablePos != 0 {
		h.HiBlockTableSize = uint64(h.BlockTableEntries) * HiBlockEntrySize
	}
}

// tablesEnd returns the end of the furthest classic table.
func (h *Header) tablesEnd() uint64 {
	end := uint64(0)
	if h.HashTablePos != 0 {
		end = max(end, h.HashTablePos+h.HashTableSize)
	}
	if h.BlockTablePos != 0 {
		end = max(end, h.BlockTablePos+h.BlockTableSize)
	}
	if h.HiBlockTablePos != 0 {
		end = max(end, h.HiBlockTablePos+h.HiBlockTableSize)
	}
	return end
}

// deriveV3Sizes computes stored table sizes from the distance to the next
// table, since version 3 headers only carry positions.
func (h *Header) deriveV3Sizes() {
	positions := []uint64{h.HashTablePos, h.BlockTablePos, h.HiBlockTablePos, h.HetTablePos, h.BetTablePos, h.ArchiveSize}
	next := func(pos uint64) uint64 {
		best := h.ArchiveSize
		for _, p := range positions {
			if p > pos && p < best {
				best = p
			}
		}
		if best < pos {
			return 0
		}
		return best - pos
	}

	h.HashTableSize = uint64(h.HashTableEntries) * HashEntrySize
	h.BlockTableSize = uint64(h.BlockTableEntries) * BlockEntrySize
	if h.HashTablePos != 0 {
		h.HashTableSize = min(h.HashTableSize, next(h.HashTablePos))
	}
	if h.BlockTablePos != 0 {
		h.BlockTableSize = min(h.BlockTableSize, next(h.BlockTablePos))
	}
	if h.HiBlockTablePos != 0 {
		h.HiBlockTableSize = min(uint64(h.BlockTableEntries)*HiBlockEntrySize, next(h.HiBlockTablePos))
	}
	if h.HetTablePos != 0 {
		h.HetTableSize = next(h.HetTablePos)
	}
	if h.BetTablePos != 0 {
		h.BetTableSize = next(h.BetTablePos)
	}
}

// Marshal encodes h in the layout of h.Version. Version 4 headers get their
// own MD5 recomputed.
func (h *Header) Marshal() []byte {
	size := h.Version.HeaderSize()
	buf := make([]byte, size)
	le := binary.LittleEndian
	le.PutUint32(buf[0x00:], HeaderID)
	le.PutUint32(buf[0x04:], size)
	le.PutUint32(buf[0x08:], uint32(min(h.ArchiveSize, 0xFFFFFFFF)))
	le.PutUint16(buf[0x0C:], uint16(h.Version))
	le.PutUint16(buf[0x0E:], h.SectorSizeShift)
	le.PutUint32(buf[0x10:], uint32(h.HashTablePos))
	le.PutUint32(buf[0x14:], uint32(h.BlockTablePos))
	le.PutUint32(buf[0x18:], h.HashTableEntries)
	le.PutUint32(buf[0x1C:], h.BlockTableEntries)
	if h.Version == V1 {
		return buf
	}

	le.PutUint64(buf[0x20:], h.HiBlockTablePos)
	le.PutUint16(buf[0x28:], uint16(h.HashTablePos>>32))
	le.PutUint16(buf[0x2A:], uint16(h.BlockTablePos>>32))
	if h.Version == V2 {
		return buf
	}

	le.PutUint64(buf[0x2C:], h.ArchiveSize)
	le.PutUint64(buf[0x34:], h.BetTablePos)
	le.PutUint64(buf[0x3C:], h.HetTablePos)
	if h.Version == V3 {
		return buf
	}

	le.PutUint64(buf[0x44:], h.HashTableSize)
	le.PutUint64(buf[0x4C:], h.BlockTableSize)
	le.PutUint64(buf[0x54:], h.HiBlockTableSize)
	le.PutUint64(buf[0x5C:], h.HetTableSize)
	le.PutUint64(buf[0x64:], h.BetTableSize)
	le.PutUint32(buf[0x6C:], h.RawChunkSize)
	copy(buf[0x70:], h.MD5BlockTable[:])
	copy(buf[0x80:], h.MD5HashTable[:])
	copy(buf[0x90:], h.MD5HiBlockTable[:])
	copy(buf[0xA0:], h.MD5BetTable[:])
	copy(buf[0xB0:], h.MD5HetTable[:])
	h.MD5Header = md5.Sum(buf[:0xC0])
	copy(buf[0xC0:], h.MD5Header[:])
	return buf
}
