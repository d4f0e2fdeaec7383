package mpq

import (
	"crypto/md5"
	"fmt"
	"hash/crc32"
	"io/fs"

	"github.com/meigma/mpq/internal/mpqtype"
	"github.com/meigma/mpq/internal/sector"
)

// Verify decodes name end-to-end with sector checksums enabled and compares
// the result against the CRC32 and MD5 recorded in "(attributes)" and, for
// patch files, against the MD5 in the patch info block. Checksums that are
// not recorded are skipped. Verify checks the stored entry only and ignores
// attached patch archives.
func (a *Archive) Verify(name string) error {
	if err := a.verify(name); err != nil {
		return &fs.PathError{Op: "verify", Path: name, Err: err}
	}
	return nil
}

func (a *Archive) verify(name string) error {
	ord, err := a.lookup(name)
	if err != nil {
		return err
	}
	e := &a.table.Entries[ord]
	r, err := sector.Open(a.src, a.hdr.Abs(a.offset, e.FilePos), e, sector.Config{
		SectorSize: a.hdr.SectorSize(),
		Verify:     true,
		Logger:     a.log(),
	})
	if err != nil {
		return err
	}
	if err := a.checkSize(r.Size()); err != nil {
		return err
	}
	data, err := r.ReadAll()
	if err != nil {
		return err
	}

	if e.CRC32 != 0 {
		if got := crc32.ChecksumIEEE(data); got != e.CRC32 {
			return fmt.Errorf("crc32 %08x, recorded %08x: %w", got, e.CRC32, mpqtype.ErrCorrupt)
		}
	}
	sum := md5.Sum(data)
	if e.MD5 != [md5.Size]byte{} && sum != e.MD5 {
		return fmt.Errorf("md5 %x, recorded %x: %w", sum, e.MD5, mpqtype.ErrCorrupt)
	}
	if pi := r.PatchInfo(); pi != nil && pi.MD5 != [md5.Size]byte{} && sum != pi.MD5 {
		return fmt.Errorf("md5 %x, patch info %x: %w", sum, pi.MD5, mpqtype.ErrCorrupt)
	}
	a.log().Debug("file verified", "name", name, "ordinal", ord, "size", len(data))
	return nil
}
