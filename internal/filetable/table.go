package filetable

import (
	"fmt"
	"iter"

	"github.com/meigma/mpq/internal/classic"
	"github.com/meigma/mpq/internal/compact"
	"github.com/meigma/mpq/internal/crypt"
	"github.com/meigma/mpq/internal/format"
	"github.com/meigma/mpq/internal/mpqtype"
)

// Table owns every entry of an archive along with the index or indexes that
// locate them.
//
// Classic hash slots are maintained incrementally. The compact index is
// rebuilt from the entries after every change.
type Table struct {
	Entries []Entry

	// Classic is nil when the archive has no classic hash table.
	Classic *classic.HashTable
	// Compact is nil when the archive has no compact index.
	Compact *compact.Index

	// HashBits is the width of compact-index name hashes.
	HashBits uint32

	// MaxFiles bounds the number of live entries.
	MaxFiles uint32

	// Slots held back for the name list and attributes sidecars.
	reservedListfile   int
	reservedAttributes int
}

// New returns an empty table with the given indexes. Either may be nil but
// not both.
func New(hash *classic.HashTable, useCompact bool, maxFiles, hashBits uint32) (*Table, error) {
	t := &Table{Classic: hash, MaxFiles: maxFiles, HashBits: hashBits}
	if hash == nil && !useCompact {
		return nil, fmt.Errorf("file table without an index: %w", mpqtype.ErrFormat)
	}
	if useCompact {
		x, err := t.buildCompact()
		if err != nil {
			return nil, err
		}
		t.Compact = x
	}
	return t, nil
}

// PopulateFromClassic builds a table from a loaded classic index. Hash
// slots whose block index is out of range or whose block carries invalid
// flags are tombstoned.
func PopulateFromClassic(idx *classic.Index, hashBits uint32) *Table {
	t := &Table{
		Entries:  make([]Entry, len(idx.Blocks)),
		Classic:  idx.Hash,
		HashBits: hashBits,
		MaxFiles: uint32(idx.Hash.Len()), //nolint:gosec // hash tables are 32-bit
	}
	for i := range t.Entries {
		b := &idx.Blocks[i]
		t.Entries[i] = Entry{
			FilePos:   b.FilePos,
			CSize:     b.CSize,
			FSize:     b.FSize,
			Flags:     b.Flags &^ format.FlagExists,
			HashIndex: -1,
		}
	}

	for slot := range idx.Hash.Entries {
		h := &idx.Hash.Entries[slot]
		if !h.Occupied() {
			continue
		}
		bi := int(h.BlockIndex)
		if bi >= len(idx.Blocks) {
			idx.Hash.Delete(slot)
			continue
		}
		b := &idx.Blocks[bi]
		if b.Flags&format.FlagExists == 0 || b.Flags&^format.FlagValidMask != 0 {
			idx.Hash.Delete(slot)
			continue
		}
		e := &t.Entries[bi]
		if e.HashIndex >= 0 {
			// A second slot aliasing the same block.
			continue
		}
		e.Flags = b.Flags
		e.Locale = h.Locale
		e.Platform = h.Platform
		e.HashIndex = slot
	}
	return t
}

// PopulateFromCompact builds a table from a loaded compact index.
func PopulateFromCompact(x *compact.Index) *Table {
	t := &Table{
		Entries:  make([]Entry, x.Len()),
		Compact:  x,
		HashBits: x.HashBits(),
		MaxFiles: uint32(max(x.Len(), x.SlotCount()*3/4)), //nolint:gosec // slot counts are 32-bit
	}
	for i := range t.Entries {
		t.Entries[i].HashIndex = -1
	}
	for slot := range x.SlotCount() {
		tag, ord, ok := x.Slot(slot)
		if !ok || int(ord) >= len(t.Entries) {
			continue
		}
		t.Entries[ord].NameHash = x.FullHash(tag, ord)
	}
	for ord := range t.Entries {
		r := x.Record(uint32(ord)) //nolint:gosec // bounded by x.Len
		e := &t.Entries[ord]
		e.FilePos, e.FSize, e.CSize, e.Flags = r.FilePos, r.FSize, r.CSize, r.Flags
		if e.Flags&^format.FlagValidMask != 0 {
			e.Flags &^= format.FlagExists
		}
		if !e.Exists() {
			e.NameHash = 0
		}
	}
	return t
}

// Reserve holds back one slot each for the name list and the attributes
// sidecar when they are not stored yet.
func (t *Table) Reserve(listfile, attributes bool) {
	t.reservedListfile, t.reservedAttributes = 0, 0
	if _, ok := t.Lookup(format.ListfileName, 0, 0); listfile && !ok {
		t.reservedListfile = 1
	}
	if _, ok := t.Lookup(format.AttributesName, 0, 0); attributes && !ok {
		t.reservedAttributes = 1
	}
}

// Reserved returns the number of slots held back for sidecars.
func (t *Table) Reserved() int {
	return t.reservedListfile + t.reservedAttributes
}

// Live returns the number of existing entries.
func (t *Table) Live() int {
	n := 0
	for i := range t.Entries {
		if t.Entries[i].Exists() {
			n++
		}
	}
	return n
}

// All iterates over existing entries with their ordinals.
func (t *Table) All() iter.Seq2[int, *Entry] {
	return func(yield func(int, *Entry) bool) {
		for i := range t.Entries {
			if t.Entries[i].Exists() && !yield(i, &t.Entries[i]) {
				return
			}
		}
	}
}

// Lookup resolves name for a locale and platform to an ordinal. The
// classic index is preferred when both are present.
func (t *Table) Lookup(name string, locale uint16, platform uint8) (int, bool) {
	if t.Classic != nil {
		slot, ok := t.Classic.Lookup(name, locale, platform)
		if !ok {
			return -1, false
		}
		ord := int(t.Classic.Entries[slot].BlockIndex)
		if ord >= len(t.Entries) || !t.Entries[ord].Exists() {
			return -1, false
		}
		return ord, true
	}
	if t.Compact == nil {
		return -1, false
	}
	h := crypt.Hash64(name, t.HashBits)
	ord, ok := t.Compact.Find(h, func(o uint32) bool {
		e := &t.Entries[o]
		return e.Exists() && e.NameHash == h
	})
	return int(ord), ok
}

// SetName records the name of an entry recovered from a name list.
func (t *Table) SetName(ord int, name string) {
	e := &t.Entries[ord]
	e.Name = name
	if e.NameHash == 0 && e.Exists() {
		e.NameHash = crypt.Hash64(name, t.hashBits())
	}
}

func (t *Table) hashBits() uint32 {
	if t.HashBits == 0 {
		return compact.DefaultHashBits
	}
	return t.HashBits
}

// Add appends a new entry for name and indexes it. e supplies position,
// sizes and flags; the exists flag is set. Internal adds may use the slots
// reserved for sidecars.
func (t *Table) Add(name string, e Entry, internal bool) (int, error) {
	if t.exists(name, e.Locale, e.Platform) {
		return -1, fmt.Errorf("%q: %w", name, mpqtype.ErrExists)
	}
	limit := int(t.MaxFiles)
	if !internal {
		limit -= t.Reserved()
	}
	if t.Live() >= limit {
		return -1, fmt.Errorf("%d of %d entries used: %w", t.Live(), limit, mpqtype.ErrCapacity)
	}

	ord := len(t.Entries)
	e.Name = name
	e.Flags |= format.FlagExists
	e.NameHash = crypt.Hash64(name, t.hashBits())
	e.HashIndex = -1
	t.Entries = append(t.Entries, e)

	if t.Classic != nil {
		slot, err := t.Classic.Insert(name, e.Locale, e.Platform, uint32(ord)) //nolint:gosec // bounded by MaxFiles
		if err != nil {
			t.Entries = t.Entries[:ord]
			return -1, err
		}
		t.Entries[ord].HashIndex = slot
	}
	if err := t.RebuildCompact(); err != nil {
		t.rollbackAdd(ord)
		return -1, err
	}
	t.release(name)
	return ord, nil
}

// exists reports whether name is present for exactly this locale. Compact
// indexes carry no locales, so any match counts.
func (t *Table) exists(name string, locale uint16, platform uint8) bool {
	ord, ok := t.Lookup(name, locale, platform)
	if !ok {
		return false
	}
	if t.Classic == nil {
		return true
	}
	e := &t.Entries[ord]
	return e.Locale == locale && e.Platform == platform
}

func (t *Table) rollbackAdd(ord int) {
	if slot := t.Entries[ord].HashIndex; slot >= 0 && t.Classic != nil {
		t.Classic.Delete(slot)
	}
	t.Entries = t.Entries[:ord]
}

func (t *Table) release(name string) {
	switch name {
	case format.ListfileName:
		t.reservedListfile = 0
	case format.AttributesName:
		t.reservedAttributes = 0
	}
}

// Delete removes an entry from the indexes. The ordinal keeps its position,
// sizes and attribute data; only the exists flag and name hash are cleared.
func (t *Table) Delete(ord int) error {
	e := &t.Entries[ord]
	if !e.Exists() {
		return fmt.Errorf("entry %d: %w", ord, mpqtype.ErrNotFound)
	}
	saved := *e
	e.Flags &^= format.FlagExists
	e.NameHash = 0
	if err := t.RebuildCompact(); err != nil {
		*e = saved
		return err
	}
	if e.HashIndex >= 0 && t.Classic != nil {
		t.Classic.Delete(e.HashIndex)
		e.HashIndex = -1
	}
	return nil
}

// Rename moves an entry to a new name, keeping its locale.
func (t *Table) Rename(ord int, name string) error {
	e := &t.Entries[ord]
	if !e.Exists() {
		return fmt.Errorf("entry %d: %w", ord, mpqtype.ErrNotFound)
	}
	if t.exists(name, e.Locale, e.Platform) {
		return fmt.Errorf("%q: %w", name, mpqtype.ErrExists)
	}
	saved := *e

	var oldSlot classic.HashEntry
	if t.Classic != nil {
		slot, err := t.Classic.Insert(name, e.Locale, e.Platform, uint32(ord)) //nolint:gosec // bounded by MaxFiles
		if err != nil {
			return err
		}
		if e.HashIndex >= 0 {
			oldSlot = t.Classic.Entries[e.HashIndex]
			t.Classic.Delete(e.HashIndex)
		}
		e.HashIndex = slot
	}
	e.Name = name
	e.NameHash = crypt.Hash64(name, t.hashBits())
	if err := t.RebuildCompact(); err != nil {
		if t.Classic != nil {
			t.Classic.Delete(e.HashIndex)
			if saved.HashIndex >= 0 {
				t.Classic.Entries[saved.HashIndex] = oldSlot
			}
		}
		*e = saved
		return err
	}
	return nil
}

// RebuildCompact regenerates the compact index from the entries. It is a
// no-op for archives without one. On failure the previous index is kept.
func (t *Table) RebuildCompact() error {
	if t.Compact == nil {
		return nil
	}
	x, err := t.buildCompact()
	if err != nil {
		return err
	}
	t.Compact = x
	return nil
}

func (t *Table) buildCompact() (*compact.Index, error) {
	recs := make([]compact.Record, len(t.Entries))
	for i := range t.Entries {
		e := &t.Entries[i]
		recs[i] = compact.Record{FilePos: e.FilePos, FSize: e.FSize, CSize: e.CSize, Flags: e.Flags}
		if e.Exists() {
			recs[i].NameHash = e.NameHash
		}
	}
	x, err := compact.Build(recs, t.MaxFiles, t.hashBits())
	if err != nil {
		return nil, fmt.Errorf("rebuild compact index: %w", err)
	}
	return x, nil
}

// ClassicIndex returns the classic tables for writing, with one block
// record per ordinal.
func (t *Table) ClassicIndex() *classic.Index {
	blocks := make([]classic.BlockEntry, len(t.Entries))
	for i := range t.Entries {
		e := &t.Entries[i]
		blocks[i] = classic.BlockEntry{FilePos: e.FilePos, CSize: e.CSize, FSize: e.FSize, Flags: e.Flags}
	}
	return &classic.Index{Hash: t.Classic, Blocks: blocks}
}
