package sidecar

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/meigma/mpq/internal/mpqtype"
)

// AttributesVersion is the only "(attributes)" version in use.
const AttributesVersion = 100

// Attribute flags.
const (
	AttrCRC32    = 0x01
	AttrFileTime = 0x02
	AttrMD5      = 0x04
	AttrPatchBit = 0x08

	AttrAll = AttrCRC32 | AttrFileTime | AttrMD5 | AttrPatchBit
)

const attrHeaderSize = 8

// Attributes holds per-entry metadata arrays indexed by file-table ordinal.
// Arrays whose flag is clear are nil.
type Attributes struct {
	Flags    uint32
	CRC32    []uint32
	FileTime []uint64
	MD5      [][md5.Size]byte
	Patch    []bool
}

// Len returns the number of entries covered.
func (a *Attributes) Len() int {
	switch {
	case a.CRC32 != nil:
		return len(a.CRC32)
	case a.FileTime != nil:
		return len(a.FileTime)
	case a.MD5 != nil:
		return len(a.MD5)
	default:
		return len(a.Patch)
	}
}

// NewAttributes allocates arrays for n entries selected by flags.
func NewAttributes(flags uint32, n int) *Attributes {
	a := &Attributes{Flags: flags & AttrAll}
	if a.Flags&AttrCRC32 != 0 {
		a.CRC32 = make([]uint32, n)
	}
	if a.Flags&AttrFileTime != 0 {
		a.FileTime = make([]uint64, n)
	}
	if a.Flags&AttrMD5 != 0 {
		a.MD5 = make([][md5.Size]byte, n)
	}
	if a.Flags&AttrPatchBit != 0 {
		a.Patch = make([]bool, n)
	}
	return a
}

func attrSize(flags uint32, n int, legacyPatch bool) int {
	size := attrHeaderSize
	if flags&AttrCRC32 != 0 {
		size += 4 * n
	}
	if flags&AttrFileTime != 0 {
		size += 8 * n
	}
	if flags&AttrMD5 != 0 {
		size += md5.Size * n
	}
	if flags&AttrPatchBit != 0 {
		if legacyPatch {
			size += 4 * n
		} else {
			size += (n + 7) / 8
		}
	}
	return size
}

// ParseAttributes decodes an attributes file for an archive with count
// file-table entries. Files written for count-1 entries and files carrying
// one u32 per entry for patch bits are accepted as well.
func ParseAttributes(data []byte, count int) (*Attributes, error) {
	if len(data) < attrHeaderSize {
		return nil, fmt.Errorf("attributes of %d bytes: %w", len(data), mpqtype.ErrFormat)
	}
	le := binary.LittleEndian
	if v := le.Uint32(data); v != AttributesVersion {
		return nil, fmt.Errorf("attributes version %d: %w", v, mpqtype.ErrFormat)
	}
	flags := le.Uint32(data[4:]) & AttrAll

	n, legacy := -1, false
	switch {
	case len(data) == attrSize(flags, count, false):
		n = count
	case count > 0 && len(data) == attrSize(flags, count-1, false):
		n = count - 1
	case flags&AttrPatchBit != 0 && len(data) == attrSize(flags, count, true):
		n, legacy = count, true
	}
	if n < 0 {
		return nil, fmt.Errorf("attributes size %d does not fit %d entries: %w", len(data), count, mpqtype.ErrFormat)
	}

	a := NewAttributes(flags, n)
	p := data[attrHeaderSize:]
	for i := range a.CRC32 {
		a.CRC32[i] = le.Uint32(p[4*i:])
	}
	p = p[4*len(a.CRC32):]
	for i := range a.FileTime {
		a.FileTime[i] = le.Uint64(p[8*i:])
	}
	p = p[8*len(a.FileTime):]
	for i := range a.MD5 {
		copy(a.MD5[i][:], p[md5.Size*i:])
	}
	p = p[md5.Size*len(a.MD5):]
	for i := range a.Patch {
		if legacy {
			a.Patch[i] = le.Uint32(p[4*i:]) != 0
		} else {
			a.Patch[i] = p[i/8]&(0x80>>(i%8)) != 0
		}
	}
	return a, nil
}

// Marshal encodes a in the current layout.
func (a *Attributes) Marshal() []byte {
	n := a.Len()
	buf := make([]byte, attrSize(a.Flags, n, false))
	le := binary.LittleEndian
	le.PutUint32(buf, AttributesVersion)
	le.PutUint32(buf[4:], a.Flags)
	p := buf[attrHeaderSize:]
	if a.Flags&AttrCRC32 != 0 {
		for i, v := range a.CRC32 {
			le.PutUint32(p[4*i:], v)
		}
		p = p[4*n:]
	}
	if a.Flags&AttrFileTime != 0 {
		for i, v := range a.FileTime {
			le.PutUint64(p[8*i:], v)
		}
		p = p[8*n:]
	}
	if a.Flags&AttrMD5 != 0 {
		for i, v := range a.MD5 {
			copy(p[md5.Size*i:], v[:])
		}
		p = p[md5.Size*n:]
	}
	if a.Flags&AttrPatchBit != 0 {
		for i, v := range a.Patch {
			if v {
				p[i/8] |= 0x80 >> (i % 8)
			}
		}
	}
	return buf
}

// Windows FILETIME counts 100ns intervals since 1601-01-01 UTC.
const fileTimeEpoch = 116444736000000000

// FileTime converts t to a Windows FILETIME. The zero time maps to 0.
func FileTime(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	ticks := t.UnixNano()/100 + fileTimeEpoch
	if ticks < 0 {
		return 0
	}
	return uint64(ticks)
}

// Time converts a Windows FILETIME to a time. 0 maps to the zero time.
func Time(ft uint64) time.Time {
	if ft == 0 {
		return time.Time{}
	}
	ticks := int64(ft) - fileTimeEpoch
	return time.Unix(ticks/1e7, (ticks%1e7)*100).UTC()
}
