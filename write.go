package mpq

import (
	"crypto/md5"
	"fmt"
	"hash/crc32"
	"io/fs"
	"time"

	"github.com/meigma/mpq/internal/crypt"
	"github.com/meigma/mpq/internal/filetable"
	"github.com/meigma/mpq/internal/format"
	"github.com/meigma/mpq/internal/mpqtype"
	"github.com/meigma/mpq/internal/patch"
	"github.com/meigma/mpq/internal/sector"
	"github.com/meigma/mpq/internal/sidecar"
	"github.com/meigma/mpq/internal/sizing"
	"github.com/meigma/mpq/stream"
)

// writable reports why the archive cannot be modified, if it cannot.
func (a *Archive) writable() error {
	switch {
	case a.closed:
		return fs.ErrClosed
	case a.readOnly || a.w == nil:
		return mpqtype.ErrReadOnly
	}
	return nil
}

func reservedName(name string) bool {
	return name == format.ListfileName || name == format.AttributesName
}

// AddFile stores data under name. The data is written immediately past the
// end of the archive; the index is written on Flush or Close.
func (a *Archive) AddFile(name string, data []byte, opts ...AddOption) error {
	cfg := addConfig{compression: CompressionZlib, modTime: time.Now()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := a.addFile(name, data, &cfg, false); err != nil {
		return &fs.PathError{Op: "add", Path: name, Err: err}
	}
	return nil
}

func (a *Archive) addFile(name string, data []byte, cfg *addConfig, internal bool) error {
	if err := a.writable(); err != nil {
		return err
	}
	if name == "" {
		return fs.ErrInvalid
	}
	if !internal && reservedName(name) {
		return fmt.Errorf("%q is maintained by the archive: %w", name, mpqtype.ErrNotSupported)
	}
	if a.table.Classic == nil && cfg.locale != format.LocaleNeutral {
		return fmt.Errorf("locales without classic tables: %w", mpqtype.ErrNotSupported)
	}
	if cfg.patch {
		if _, err := patch.ParseHeader(data); err != nil {
			return fmt.Errorf("patch file: %w", err)
		}
	}

	replaced := -1
	if ord, ok := a.table.Lookup(name, cfg.locale, format.PlatformNeutral); ok && a.sameLocale(ord, cfg.locale) {
		if !cfg.replace {
			return fmt.Errorf("%q: %w", name, mpqtype.ErrExists)
		}
		replaced = ord
	}

	e, err := a.store(name, data, addFlags(cfg), byte(cfg.compression))
	if err != nil {
		return err
	}
	e.Locale = cfg.locale
	e.FileTime = sidecar.FileTime(cfg.modTime)

	var saved filetable.Entry
	if replaced >= 0 {
		saved = a.table.Entries[replaced]
		if err := a.table.Delete(replaced); err != nil {
			return err
		}
	}
	ord, err := a.table.Add(name, e, internal)
	if err != nil {
		if replaced >= 0 {
			if _, rerr := a.table.Add(saved.Name, saved, true); rerr != nil {
				a.log().Debug("replaced entry lost", "name", name, "error", rerr)
			}
		}
		return err
	}
	a.dirty = true
	a.log().Debug("file added",
		"name", name,
		"ordinal", ord,
		"size", e.FSize,
		"stored", e.CSize,
		"flags", fmt.Sprintf("%#x", e.Flags),
	)
	return nil
}

// sameLocale reports whether the entry at ord is stored for exactly locale.
// Compact indexes carry no locales.
func (a *Archive) sameLocale(ord int, locale uint16) bool {
	return a.table.Classic == nil || a.table.Entries[ord].Locale == locale
}

func addFlags(cfg *addConfig) uint32 {
	var flags uint32
	if cfg.compression != CompressionNone {
		flags |= format.FlagCompress
	}
	if cfg.encrypt || cfg.fixKey {
		flags |= format.FlagEncrypted
	}
	if cfg.fixKey {
		flags |= format.FlagFixKey
	}
	if cfg.sectorCRC {
		flags |= format.FlagSectorCRC
	}
	if cfg.singleUnit {
		flags |= format.FlagSingleUnit
	}
	if cfg.patch {
		flags |= format.FlagPatchFile
	}
	return flags
}

// store encodes data for name at the current end of the archive and
// writes it. The returned entry carries position, sizes, flags and
// checksums.
func (a *Archive) store(name string, data []byte, flags uint32, compression byte) (filetable.Entry, error) {
	fsize, err := sizing.Uint32(uint64(len(data)), "file size")
	if err != nil {
		return filetable.Entry{}, err
	}
	pos := a.dataEnd
	key := crypt.FileKey(name, pos, fsize, flags&format.FlagFixKey != 0)
	e, err := a.encode(a.w, pos, data, fsize, flags, compression, key)
	if err != nil {
		return filetable.Entry{}, err
	}
	e.CRC32 = crc32.ChecksumIEEE(data)
	e.MD5 = md5.Sum(data)
	a.dataEnd = pos + uint64(e.CSize)
	return e, nil
}

// encode stores data at pos in w with the given sector key. Patch files
// are prefixed with their patch info block.
func (a *Archive) encode(w stream.Writable, pos uint64, data []byte, fsize, flags uint32, compression byte, key uint32) (filetable.Entry, error) {
	enc, err := sector.Encode(data, sector.Layout{
		SectorSize:  a.hdr.SectorSize(),
		Flags:       flags,
		Compression: compression,
		Key:         key,
	})
	if err != nil {
		return filetable.Entry{}, err
	}
	stored := enc.Data
	if flags&format.FlagPatchFile != 0 {
		info := sector.MarshalPatchInfo(&sector.PatchInfo{DataSize: uint32(len(data)), MD5: md5.Sum(data)}) //nolint:gosec // bounded by fsize
		stored = append(info, enc.Data...)
	}
	csize, err := sizing.Uint32(uint64(len(stored)), "stored size")
	if err != nil {
		return filetable.Entry{}, err
	}
	end := pos + uint64(csize)
	if a.hdr.Version == format.V1 {
		if _, err := sizing.Uint32(end, "archive size"); err != nil {
			return filetable.Entry{}, err
		}
	}
	off, err := a.dataOffset(pos)
	if err != nil {
		return filetable.Entry{}, err
	}
	if _, err := w.WriteAt(stored, off); err != nil {
		return filetable.Entry{}, fmt.Errorf("write file data: %w", err)
	}
	return filetable.Entry{FilePos: pos, CSize: csize, FSize: fsize, Flags: enc.Flags}, nil
}

// Remove deletes name. Its data stays in place until Compact.
func (a *Archive) Remove(name string) error {
	if err := a.remove(name); err != nil {
		return &fs.PathError{Op: "remove", Path: name, Err: err}
	}
	return nil
}

func (a *Archive) remove(name string) error {
	if err := a.writable(); err != nil {
		return err
	}
	if reservedName(name) {
		return fmt.Errorf("%q is maintained by the archive: %w", name, mpqtype.ErrNotSupported)
	}
	ord, err := a.lookup(name)
	if err != nil {
		return err
	}
	if err := a.table.Delete(ord); err != nil {
		return err
	}
	a.dirty = true
	a.log().Debug("file removed", "name", name, "ordinal", ord)
	return nil
}

// Rename moves oldName to newName, keeping its locale. Encrypted files
// whose key depends on the name are re-encrypted.
func (a *Archive) Rename(oldName, newName string) error {
	if err := a.rename(oldName, newName); err != nil {
		return &fs.PathError{Op: "rename", Path: oldName, Err: err}
	}
	return nil
}

func (a *Archive) rename(oldName, newName string) error {
	if err := a.writable(); err != nil {
		return err
	}
	if reservedName(oldName) || reservedName(newName) {
		return fmt.Errorf("sidecars are maintained by the archive: %w", mpqtype.ErrNotSupported)
	}
	ord, err := a.lookup(oldName)
	if err != nil {
		return err
	}
	old := a.table.Entries[ord]

	rekey := old.Has(format.FlagEncrypted) &&
		crypt.Hash(crypt.PlainName(old.Name), crypt.PurposeFileKey) != crypt.Hash(crypt.PlainName(newName), crypt.PurposeFileKey)
	if !rekey {
		if err := a.table.Rename(ord, newName); err != nil {
			return err
		}
		a.dirty = true
		a.log().Debug("file renamed", "from", oldName, "to", newName)
		return nil
	}

	r, err := a.sectorReader(&old)
	if err != nil {
		return err
	}
	data, err := r.ReadAll()
	if err != nil {
		return fmt.Errorf("decode for re-encryption: %w", err)
	}
	flags := old.Flags &^ format.FlagExists
	if flags&format.FlagImplode != 0 {
		flags = flags&^format.FlagImplode | format.FlagCompress
	}
	mark := a.dataEnd
	moved, err := a.store(newName, data, flags, byte(CompressionZlib))
	if err != nil {
		return err
	}
	if err := a.table.Rename(ord, newName); err != nil {
		a.dataEnd = mark
		return err
	}
	e := &a.table.Entries[ord]
	e.FilePos, e.CSize, e.FSize, e.Flags = moved.FilePos, moved.CSize, moved.FSize, moved.Flags|format.FlagExists
	if err := a.table.RebuildCompact(); err != nil {
		return err
	}
	a.dirty = true
	a.log().Debug("file renamed", "from", oldName, "to", newName, "reencrypted", true)
	return nil
}

// SetLocale moves the variant of name stored for locale from to locale to.
// Archives without classic tables carry no locales.
func (a *Archive) SetLocale(name string, from, to uint16) error {
	if err := a.setLocale(name, from, to); err != nil {
		return &fs.PathError{Op: "setlocale", Path: name, Err: err}
	}
	return nil
}

func (a *Archive) setLocale(name string, from, to uint16) error {
	if err := a.writable(); err != nil {
		return err
	}
	t := a.table
	if t.Classic == nil {
		return fmt.Errorf("locales without classic tables: %w", mpqtype.ErrNotSupported)
	}
	ord, ok := t.Lookup(name, from, format.PlatformNeutral)
	if !ok || t.Entries[ord].Locale != from {
		return fmt.Errorf("%q locale %#x: %w", name, from, mpqtype.ErrNotFound)
	}
	if other, ok := t.Lookup(name, to, format.PlatformNeutral); ok && t.Entries[other].Locale == to {
		return fmt.Errorf("%q locale %#x: %w", name, to, mpqtype.ErrExists)
	}
	e := &t.Entries[ord]
	if e.HashIndex < 0 {
		return fmt.Errorf("%q has no hash slot: %w", name, mpqtype.ErrCorrupt)
	}
	t.Classic.Entries[e.HashIndex].Locale = to
	e.Locale = to
	a.dirty = true
	return nil
}
