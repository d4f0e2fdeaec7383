// Package compact implements the bit-packed HET/BET index used by format
// version 3 and later.
//
// The HET table maps an 8-bit tag of each name hash to a file ordinal via
// linear probing. The BET table stores one bit-packed record per ordinal
// plus the remaining bits of the name hash, so a tag hit can be confirmed
// against the full hash.
package compact

import (
	"fmt"

	"github.com/meigma/mpq/internal/bits"
	"github.com/meigma/mpq/internal/crypt"
	"github.com/meigma/mpq/internal/mpqtype"
)

// DefaultHashBits is the name hash width written by this package.
const DefaultHashBits = 64

// tagFree marks an unused HET slot. Real tags always have their top bit set.
const tagFree = 0x00

// Record is the per-ordinal content of the BET table.
type Record struct {
	FilePos uint64
	FSize   uint32
	CSize   uint32
	Flags   uint32

	// NameHash is the full name hash, or zero for an ordinal without a name
	// slot (deleted or never used).
	NameHash uint64
}

// field locates one value inside a packed record.
type field struct {
	index uint32
	count uint32
}

func (f field) get(rec []byte, base uint64) uint64 {
	return bits.Get(rec, base+uint64(f.index), f.count)
}

func (f field) set(rec []byte, base uint64, v uint64) {
	bits.Set(rec, base+uint64(f.index), f.count, v)
}

type layout struct {
	entryBits uint32
	filePos   field
	fileSize  field
	cmpSize   field
	flagIndex field
	unknown   field
}

// Index is an in-memory HET/BET pair.
type Index struct {
	hashBits   uint32
	entryCount uint32

	tags      []byte
	slots     *bits.Array
	indexBits uint32

	count  uint32
	layout layout
	flags  []uint32
	recs   []byte
	hash2  *bits.Array
}

// HashBits returns the configured name hash width.
func (x *Index) HashBits() uint32 { return x.hashBits }

// Len returns the number of ordinals in the BET table.
func (x *Index) Len() int { return int(x.count) }

// SlotCount returns the number of physical HET slots.
func (x *Index) SlotCount() int { return len(x.tags) }

// Slot returns the tag and ordinal stored in HET slot i. ok is false for a
// free slot.
func (x *Index) Slot(i int) (tag byte, ordinal uint32, ok bool) {
	tag = x.tags[i]
	if tag == tagFree {
		return 0, 0, false
	}
	return tag, x.ordinalAt(uint64(i)), true
}

func (x *Index) ordinalAt(slot uint64) uint32 {
	return uint32(x.slots.At(slot) & crypt.Mask64(x.indexBits)) //nolint:gosec // index width is at most 32 bits
}

// FullHash joins a HET tag with the BET remainder of ordinal.
func (x *Index) FullHash(tag byte, ordinal uint32) uint64 {
	return uint64(tag)<<(x.hashBits-8) | x.hash2.At(uint64(ordinal))&crypt.Mask64(x.hashBits-8)
}

// Record decodes the BET record of ordinal. NameHash is left zero.
func (x *Index) Record(ordinal uint32) Record {
	base := uint64(ordinal) * uint64(x.layout.entryBits)
	l := &x.layout
	r := Record{
		FilePos: l.filePos.get(x.recs, base),
		FSize:   uint32(l.fileSize.get(x.recs, base)), //nolint:gosec // field is at most 32 bits wide
		CSize:   uint32(l.cmpSize.get(x.recs, base)),  //nolint:gosec // field is at most 32 bits wide
	}
	if fi := l.flagIndex.get(x.recs, base); fi < uint64(len(x.flags)) {
		r.Flags = x.flags[fi]
	}
	return r
}

func tagOf(h uint64, hashBits uint32) byte {
	return byte(h >> (hashBits - 8))
}

// Find probes for hash and returns the first ordinal whose tag matches and
// which verify accepts. verify must compare the full hash of the candidate.
func (x *Index) Find(hash uint64, verify func(ordinal uint32) bool) (uint32, bool) {
	n := uint64(len(x.tags))
	if n == 0 {
		return 0, false
	}
	tag := tagOf(hash, x.hashBits)
	start := hash % n
	for i := uint64(0); i < n; i++ {
		slot := (start + i) % n
		t := x.tags[slot]
		if t == tagFree {
			return 0, false
		}
		if t != tag {
			continue
		}
		ord := x.ordinalAt(slot)
		if ord < x.count && verify(ord) {
			return ord, true
		}
	}
	return 0, false
}

// Build creates an index over records. capacity is the desired entry count
// of the HET table; the physical slot count is a third larger. Records with
// a zero NameHash get no slot.
func Build(records []Record, capacity, hashBits uint32) (*Index, error) {
	if hashBits < 9 || hashBits > 64 {
		return nil, fmt.Errorf("name hash width %d: %w", hashBits, mpqtype.ErrNotSupported)
	}
	live := uint32(0)
	for i := range records {
		if records[i].NameHash != 0 {
			live++
		}
	}
	entryCount := max(capacity, uint32(len(records)), 1) //nolint:gosec // file tables are 32-bit
	total := max(entryCount*4/3, live+1)

	x := &Index{
		hashBits:   hashBits,
		entryCount: entryCount,
		tags:       make([]byte, total),
		slots:      bits.NewArray(bits.Width(uint64(entryCount)), uint64(total)),
		count:      uint32(len(records)), //nolint:gosec // file tables are 32-bit
	}
	x.indexBits = x.slots.Width

	for ord := range records {
		h := records[ord].NameHash
		if h == 0 {
			continue
		}
		slot := h % uint64(total)
		for x.tags[slot] != tagFree {
			slot = (slot + 1) % uint64(total)
		}
		x.tags[slot] = tagOf(h, hashBits)
		x.slots.Put(slot, uint64(ord))
	}

	x.buildRecords(records)
	return x, nil
}

func (x *Index) buildRecords(records []Record) {
	var maxPos, maxSize, maxCmp uint64
	flagIndex := map[uint32]int{}
	ords := make([]int, len(records))
	for i := range records {
		r := &records[i]
		maxPos = max(maxPos, r.FilePos)
		maxSize = max(maxSize, uint64(r.FSize))
		maxCmp = max(maxCmp, uint64(r.CSize))
		fi, ok := flagIndex[r.Flags]
		if !ok {
			fi = len(x.flags)
			flagIndex[r.Flags] = fi
			x.flags = append(x.flags, r.Flags)
		}
		ords[i] = fi
	}

	l := layout{}
	next := uint32(0)
	place := func(f *field, width uint32) {
		*f = field{index: next, count: width}
		next += width
	}
	place(&l.filePos, bits.Width(maxPos))
	place(&l.fileSize, bits.Width(maxSize))
	place(&l.cmpSize, bits.Width(maxCmp))
	place(&l.flagIndex, bits.Width(uint64(max(len(x.flags)-1, 0))))
	place(&l.unknown, 0)
	l.entryBits = next
	x.layout = l

	x.recs = make([]byte, bits.Bytes(uint64(l.entryBits)*uint64(len(records))))
	x.hash2 = bits.NewArray(x.hashBits-8, uint64(len(records)))
	mask := crypt.Mask64(x.hashBits - 8)
	for i := range records {
		r := &records[i]
		base := uint64(i) * uint64(l.entryBits)
		l.filePos.set(x.recs, base, r.FilePos)
		l.fileSize.set(x.recs, base, uint64(r.FSize))
		l.cmpSize.set(x.recs, base, uint64(r.CSize))
		l.flagIndex.set(x.recs, base, uint64(ords[i]))
		x.hash2.Put(uint64(i), r.NameHash&mask)
	}
}
