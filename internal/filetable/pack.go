package filetable

import (
	"errors"
	"fmt"
	"slices"

	"github.com/meigma/mpq/internal/classic"
	"github.com/meigma/mpq/internal/compact"
	"github.com/meigma/mpq/internal/mpqtype"
)

// AttachCompact adds a compact index to a table populated from the classic
// index of the same archive. Name hashes of entries whose names are still
// unknown are taken from the compact index.
func (t *Table) AttachCompact(x *compact.Index) error {
	if x.Len() != len(t.Entries) {
		return fmt.Errorf("compact index holds %d records, block table %d: %w", x.Len(), len(t.Entries), mpqtype.ErrCorrupt)
	}
	for slot := range x.SlotCount() {
		tag, ord, ok := x.Slot(slot)
		if !ok || int(ord) >= len(t.Entries) {
			continue
		}
		if e := &t.Entries[ord]; e.Exists() && e.NameHash == 0 {
			e.NameHash = x.FullHash(tag, ord)
		}
	}
	t.Compact = x
	t.HashBits = x.HashBits()
	return nil
}

// ErrSkip is returned by a Pack move function to drop the entry.
var ErrSkip = errors.New("skip entry")

// Pack returns a copy of t holding only live entries in ordinal order.
// move is called for every live entry with its old ordinal and may update
// the copy's position, sizes and flags, or return ErrSkip to leave it out.
// Classic slots keep their positions so probe chains of names that are not
// known stay intact.
func (t *Table) Pack(move func(ord int, e *Entry) error) (*Table, error) {
	out := &Table{
		HashBits:           t.HashBits,
		MaxFiles:           t.MaxFiles,
		reservedListfile:   t.reservedListfile,
		reservedAttributes: t.reservedAttributes,
	}
	remap := make([]int, len(t.Entries))
	for ord := range t.Entries {
		remap[ord] = -1
		if !t.Entries[ord].Exists() {
			continue
		}
		e := t.Entries[ord]
		if err := move(ord, &e); errors.Is(err, ErrSkip) {
			continue
		} else if err != nil {
			return nil, err
		}
		remap[ord] = len(out.Entries)
		out.Entries = append(out.Entries, e)
	}

	if t.Classic != nil {
		h := &classic.HashTable{Entries: slices.Clone(t.Classic.Entries)}
		for slot := range h.Entries {
			s := &h.Entries[slot]
			if !s.Occupied() {
				continue
			}
			if bi := int(s.BlockIndex); bi < len(remap) && remap[bi] >= 0 {
				s.BlockIndex = uint32(remap[bi]) //nolint:gosec // bounded by the block count
				continue
			}
			h.Delete(slot)
		}
		out.Classic = h
	}
	if t.Compact != nil {
		x, err := out.buildCompact()
		if err != nil {
			return nil, err
		}
		out.Compact = x
	}
	return out, nil
}
