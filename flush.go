package mpq

import (
	"crypto/md5"
	"fmt"
	"io/fs"
	"time"

	"github.com/meigma/mpq/internal/filetable"
	"github.com/meigma/mpq/internal/format"
	"github.com/meigma/mpq/internal/mpqtype"
	"github.com/meigma/mpq/internal/sidecar"
	"github.com/meigma/mpq/internal/sizing"
	"github.com/meigma/mpq/stream"
)

// Flush writes the sidecars, the index tables and the header. Tables are
// written past all existing data and the header last, so the archive on
// disk stays consistent until the header is replaced. After a failed Flush
// the archive should be reopened.
func (a *Archive) Flush() error {
	if err := a.writable(); err != nil {
		return err
	}
	if !a.dirty {
		return nil
	}
	if err := a.storeSidecars(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	h, err := a.writeTables(a.w, a.table, a.dataEnd)
	if err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	a.hdr = h
	a.dataEnd = h.ArchiveSize
	a.dirty = false
	a.log().Debug("archive flushed", "archive_size", h.ArchiveSize, "entries", len(a.table.Entries))
	return nil
}

// storeSidecars replaces "(listfile)" and "(attributes)" with versions
// describing the current entries.
func (a *Archive) storeSidecars() error {
	cfg := &addConfig{compression: CompressionZlib, modTime: time.Now(), replace: true}
	if a.listfile {
		if err := a.addFile(format.ListfileName, sidecar.FormatListfile(a.rawNames()), cfg, true); err != nil {
			return fmt.Errorf("store listfile: %w", err)
		}
	}
	if a.attrFlags == 0 {
		return nil
	}
	if ord, ok := a.table.Lookup(format.AttributesName, format.LocaleNeutral, format.PlatformNeutral); ok {
		if err := a.table.Delete(ord); err != nil {
			return fmt.Errorf("store attributes: %w", err)
		}
	}
	// The attributes entry takes the next ordinal and describes itself with
	// zeros.
	n := len(a.table.Entries) + 1
	attrs := sidecar.NewAttributes(a.attrFlags, n)
	for ord := range a.table.Entries {
		e := &a.table.Entries[ord]
		if !e.Exists() {
			continue
		}
		if attrs.CRC32 != nil {
			attrs.CRC32[ord] = e.CRC32
		}
		if attrs.FileTime != nil {
			attrs.FileTime[ord] = e.FileTime
		}
		if attrs.MD5 != nil {
			attrs.MD5[ord] = e.MD5
		}
		if attrs.Patch != nil {
			attrs.Patch[ord] = e.Has(format.FlagPatchFile)
		}
	}
	cfg.replace = false
	if err := a.addFile(format.AttributesName, attrs.Marshal(), cfg, true); err != nil {
		return fmt.Errorf("store attributes: %w", err)
	}
	return nil
}

// rawNames returns the stored names of live entries, sidecars excluded.
func (a *Archive) rawNames() []string {
	names := make([]string, 0, len(a.table.Entries))
	for _, e := range a.table.All() {
		if e.Name == "" || reservedName(e.Name) || e.Name == format.SignatureName {
			continue
		}
		names = append(names, e.Name)
	}
	return names
}

// writeTables writes the indexes of t at pos in w, followed by the header
// at the archive offset. It returns the header written.
func (a *Archive) writeTables(w stream.Writable, t *filetable.Table, pos uint64) (*format.Header, error) {
	h := &format.Header{
		Version:         a.hdr.Version,
		HeaderSize:      a.hdr.Version.HeaderSize(),
		SectorSizeShift: a.hdr.SectorSizeShift,
		RawChunkSize:    a.hdr.RawChunkSize,
	}
	// Versions 1 and 2 record no stored table sizes, so their tables are
	// never compressed.
	compress := h.Version >= format.V3

	put := func(data []byte) (uint64, error) {
		at := pos
		off, err := a.dataOffset(at)
		if err != nil {
			return 0, err
		}
		if _, err := w.WriteAt(data, off); err != nil {
			return 0, fmt.Errorf("write table: %w", err)
		}
		pos += uint64(len(data))
		return at, nil
	}

	var err error
	if t.Compact != nil {
		if h.Version < format.V3 {
			return nil, fmt.Errorf("compact index in a %s archive: %w", h.Version, mpqtype.ErrNotSupported)
		}
		het, bet := t.Compact.Marshal(compress)
		if h.HetTablePos, err = put(het); err != nil {
			return nil, err
		}
		if h.BetTablePos, err = put(bet); err != nil {
			return nil, err
		}
		h.HetTableSize, h.BetTableSize = uint64(len(het)), uint64(len(bet))
		h.MD5HetTable, h.MD5BetTable = md5.Sum(het), md5.Sum(bet)
	}

	if t.Classic == nil && h.Version < format.V3 {
		return nil, fmt.Errorf("%s archive without classic tables: %w", h.Version, mpqtype.ErrNotSupported)
	}
	if t.Classic != nil {
		tables := t.ClassicIndex().Store(compress)
		if h.HashTablePos, err = put(tables.Hash); err != nil {
			return nil, err
		}
		if h.BlockTablePos, err = put(tables.Block); err != nil {
			return nil, err
		}
		h.HashTableEntries = uint32(t.Classic.Len())  //nolint:gosec // hash tables are 32-bit
		h.BlockTableEntries = uint32(len(t.Entries)) //nolint:gosec // bounded by MaxFiles
		h.HashTableSize, h.BlockTableSize = uint64(len(tables.Hash)), uint64(len(tables.Block))
		h.MD5HashTable, h.MD5BlockTable = md5.Sum(tables.Hash), md5.Sum(tables.Block)
		if tables.HiBlock != nil {
			if h.Version == format.V1 {
				return nil, fmt.Errorf("file positions beyond 4GB in a %s archive: %w", h.Version, mpqtype.ErrCapacity)
			}
			if h.HiBlockTablePos, err = put(tables.HiBlock); err != nil {
				return nil, err
			}
			h.HiBlockTableSize = uint64(len(tables.HiBlock))
			h.MD5HiBlockTable = md5.Sum(tables.HiBlock)
		}
	}

	h.ArchiveSize = pos
	if h.Version == format.V1 {
		if _, err := sizing.Uint32(h.ArchiveSize, "archive size"); err != nil {
			return nil, err
		}
	}
	off, err := a.dataOffset(0)
	if err != nil {
		return nil, err
	}
	if _, err := w.WriteAt(h.Marshal(), off); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	return h, nil
}

// SetListfile controls whether Flush maintains "(listfile)".
func (a *Archive) SetListfile(enabled bool) error {
	if err := a.writable(); err != nil {
		return &fs.PathError{Op: "setlistfile", Path: format.ListfileName, Err: err}
	}
	if a.listfile != enabled {
		a.listfile = enabled
		a.dirty = true
	}
	return nil
}
