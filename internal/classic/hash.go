// Package classic implements the legacy open-addressed hash table and the
// block table that together index files in every archive version.
package classic

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/meigma/mpq/internal/crypt"
	"github.com/meigma/mpq/internal/format"
	"github.com/meigma/mpq/internal/mpqtype"
)

// HashEntry is one slot of the hash table.
type HashEntry struct {
	Name1      uint32
	Name2      uint32
	Locale     uint16
	Platform   uint8
	Reserved   uint8
	BlockIndex uint32
}

// Free reports whether the slot was never used. A free slot ends every
// probe chain.
func (e *HashEntry) Free() bool { return e.BlockIndex == format.HashFree }

// Deleted reports whether the slot is a tombstone.
func (e *HashEntry) Deleted() bool { return e.BlockIndex == format.HashDeleted }

// Occupied reports whether the slot refers to a block.
func (e *HashEntry) Occupied() bool { return !e.Free() && !e.Deleted() }

func freeEntry() HashEntry {
	return HashEntry{Name1: 0xFFFFFFFF, Name2: 0xFFFFFFFF, Locale: 0xFFFF, Platform: 0xFF, Reserved: 0xFF, BlockIndex: format.HashFree}
}

// HashTable is the open-addressed name index. Slots hold block indexes
// only; entries themselves live in the file table.
type HashTable struct {
	Entries []HashEntry
}

// NewHashTable returns a table of size free slots. size must be a power of
// two.
func NewHashTable(size uint32) (*HashTable, error) {
	if size == 0 || bits.OnesCount32(size) != 1 {
		return nil, fmt.Errorf("hash table size %d is not a power of two: %w", size, mpqtype.ErrFormat)
	}
	t := &HashTable{Entries: make([]HashEntry, size)}
	for i := range t.Entries {
		t.Entries[i] = freeEntry()
	}
	return t, nil
}

// Len returns the number of slots.
func (t *HashTable) Len() int { return len(t.Entries) }

type nameCodes struct {
	start uint32
	name1 uint32
	name2 uint32
}

func codesFor(name string, size int) nameCodes {
	return nameCodes{
		// Modulo rather than a mask keeps malformed non-power-of-two tables
		// addressable.
		start: crypt.Hash(name, crypt.PurposeTableIndex) % uint32(size), //nolint:gosec // table sizes are 32-bit
		name1: crypt.Hash(name, crypt.PurposeNameA),
		name2: crypt.Hash(name, crypt.PurposeNameB),
	}
}

func (c nameCodes) matches(e *HashEntry) bool {
	return e.Name1 == c.name1 && e.Name2 == c.name2
}

// First returns the first occupied slot in name's probe chain, in probe
// order. Together with Next it visits every locale variant of name.
func (t *HashTable) First(name string) (int, bool) {
	if len(t.Entries) == 0 {
		return -1, false
	}
	c := codesFor(name, len(t.Entries))
	return t.scan(c, int(c.start), len(t.Entries))
}

// Next returns the slot after prev in name's probe chain.
func (t *HashTable) Next(name string, prev int) (int, bool) {
	n := len(t.Entries)
	if n == 0 || prev < 0 || prev >= n {
		return -1, false
	}
	c := codesFor(name, n)
	// Steps already taken from the chain start to prev.
	taken := (prev - int(c.start) + n) % n
	return t.scan(c, (prev+1)%n, n-taken-1)
}

func (t *HashTable) scan(c nameCodes, from, steps int) (int, bool) {
	n := len(t.Entries)
	for i, idx := 0, from; i < steps; i, idx = i+1, (idx+1)%n {
		e := &t.Entries[idx]
		if e.Free() {
			return -1, false
		}
		if e.Occupied() && c.matches(e) {
			return idx, true
		}
	}
	return -1, false
}

// Lookup finds name for the given locale and platform. An exact match wins;
// otherwise the neutral variant is returned.
func (t *HashTable) Lookup(name string, locale uint16, platform uint8) (int, bool) {
	neutral := -1
	for idx, ok := t.First(name); ok; idx, ok = t.Next(name, idx) {
		e := &t.Entries[idx]
		if e.Locale == locale && e.Platform == platform {
			return idx, true
		}
		if neutral < 0 && e.Locale == format.LocaleNeutral && e.Platform == format.PlatformNeutral {
			neutral = idx
		}
	}
	return neutral, neutral >= 0
}

// FindFreeOrMatching probes at most one full cycle from name's start slot.
// It returns, in priority order, the slot already holding name with the
// given locale and platform, the first tombstone seen, or the free slot
// that ended the chain. exact reports the first case.
func (t *HashTable) FindFreeOrMatching(name string, locale uint16, platform uint8) (idx int, exact bool, err error) {
	n := len(t.Entries)
	if n == 0 {
		return -1, false, fmt.Errorf("empty hash table: %w", mpqtype.ErrCapacity)
	}
	c := codesFor(name, n)
	tomb := -1
	for i, at := 0, int(c.start); i < n; i, at = i+1, (at+1)%n {
		e := &t.Entries[at]
		switch {
		case e.Free():
			if tomb >= 0 {
				return tomb, false, nil
			}
			return at, false, nil
		case e.Deleted():
			if tomb < 0 {
				tomb = at
			}
		case c.matches(e) && e.Locale == locale && e.Platform == platform:
			return at, true, nil
		}
	}
	if tomb >= 0 {
		return tomb, false, nil
	}
	return -1, false, fmt.Errorf("no free hash slot for %q: %w", name, mpqtype.ErrCapacity)
}

// Insert stores name at a free or tombstoned slot. Inserting a name that is
// already present for the locale fails with ErrExists.
func (t *HashTable) Insert(name string, locale uint16, platform uint8, blockIndex uint32) (int, error) {
	idx, exact, err := t.FindFreeOrMatching(name, locale, platform)
	if err != nil {
		return -1, err
	}
	if exact {
		return idx, fmt.Errorf("%q: %w", name, mpqtype.ErrExists)
	}
	c := codesFor(name, len(t.Entries))
	t.Entries[idx] = HashEntry{
		Name1:      c.name1,
		Name2:      c.name2,
		Locale:     locale,
		Platform:   platform,
		BlockIndex: blockIndex,
	}
	return idx, nil
}

// Delete turns slot idx into a tombstone so later chain members stay
// reachable.
func (t *HashTable) Delete(idx int) {
	t.Entries[idx] = freeEntry()
	t.Entries[idx].BlockIndex = format.HashDeleted
}

// Marshal encodes the table in its plain on-disk layout.
func (t *HashTable) Marshal() []byte {
	buf := make([]byte, len(t.Entries)*format.HashEntrySize)
	for i := range t.Entries {
		e := &t.Entries[i]
		b := buf[i*format.HashEntrySize:]
		binary.LittleEndian.PutUint32(b[0:], e.Name1)
		binary.LittleEndian.PutUint32(b[4:], e.Name2)
		binary.LittleEndian.PutUint16(b[8:], e.Locale)
		b[10] = e.Platform
		b[11] = e.Reserved
		binary.LittleEndian.PutUint32(b[12:], e.BlockIndex)
	}
	return buf
}

// ParseHashTable decodes a plain hash table.
func ParseHashTable(buf []byte) *HashTable {
	t := &HashTable{Entries: make([]HashEntry, len(buf)/format.HashEntrySize)}
	for i := range t.Entries {
		b := buf[i*format.HashEntrySize:]
		t.Entries[i] = HashEntry{
			Name1:      binary.LittleEndian.Uint32(b[0:]),
			Name2:      binary.LittleEndian.Uint32(b[4:]),
			Locale:     binary.LittleEndian.Uint16(b[8:]),
			Platform:   b[10],
			Reserved:   b[11],
			BlockIndex: binary.LittleEndian.Uint32(b[12:]),
		}
	}
	return t
}
