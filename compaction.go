package mpq

import (
	"context"
	"fmt"
	"io"

	"github.com/meigma/mpq/internal/filetable"
	"github.com/meigma/mpq/internal/format"
	"github.com/meigma/mpq/internal/mpqtype"
	"github.com/meigma/mpq/internal/sizing"
	"github.com/meigma/mpq/stream"
)

// Compact rewrites the archive without the space left behind by removed,
// replaced and renamed files. The new archive is built in a temporary
// stream and switched in atomically, so a failed Compact leaves the
// archive as it was.
//
// Entries encrypted with a position-dependent key are re-encrypted for
// their new position; all other entries are copied as stored.
func (a *Archive) Compact(ctx context.Context) error {
	if err := a.compact(ctx); err != nil {
		return fmt.Errorf("compact: %w", err)
	}
	return nil
}

func (a *Archive) compact(ctx context.Context) error {
	if err := a.writable(); err != nil {
		return err
	}
	tmp, err := a.w.NewTemp()
	if err != nil {
		return fmt.Errorf("create temporary stream: %w", err)
	}
	switched := false
	defer func() {
		if !switched {
			stream.Discard(tmp)
		}
	}()

	prefix, err := sizing.ToInt64(a.offset)
	if err != nil {
		return err
	}
	if err := copyStream(ctx, tmp, 0, a.src, 0, prefix); err != nil {
		return fmt.Errorf("copy data before archive: %w", err)
	}

	before := a.dataEnd
	pos := uint64(a.hdr.HeaderSize)
	packed, err := a.table.Pack(func(ord int, e *filetable.Entry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if reservedName(e.Name) {
			return filetable.ErrSkip
		}
		if err := a.relocate(ctx, tmp, e, pos); err != nil {
			return fmt.Errorf("entry %d: %w", ord, err)
		}
		pos += uint64(e.CSize)
		return nil
	})
	if err != nil {
		return err
	}
	packed.Reserve(a.listfile, a.attrFlags != 0)

	// Sidecars and tables go to the temporary stream through the regular
	// write path; restore the live state if anything fails.
	saved := struct {
		w     stream.Writable
		table *filetable.Table
		end   uint64
	}{a.w, a.table, a.dataEnd}
	a.w, a.table, a.dataEnd = tmp, packed, pos
	restore := func() { a.w, a.table, a.dataEnd = saved.w, saved.table, saved.end }

	if err := a.storeSidecars(); err != nil {
		restore()
		return err
	}
	h, err := a.writeTables(tmp, a.table, a.dataEnd)
	if err != nil {
		restore()
		return err
	}
	a.w = saved.w
	if err := a.w.SwitchAtomic(tmp); err != nil {
		restore()
		return fmt.Errorf("switch streams: %w", err)
	}
	switched = true

	a.hdr = h
	a.dataEnd = h.ArchiveSize
	a.dirty = false
	a.log().Debug("archive compacted",
		"entries", len(a.table.Entries),
		"before", before,
		"after", h.ArchiveSize,
	)
	return nil
}

// relocate writes the data of e at pos in w and updates e to match.
func (a *Archive) relocate(ctx context.Context, w stream.Writable, e *filetable.Entry, pos uint64) error {
	if !e.Has(format.FlagEncrypted|format.FlagFixKey) || e.FSize == 0 || e.FilePos == pos {
		if err := a.copyRange(ctx, w, e.FilePos, pos, uint64(e.CSize)); err != nil {
			return err
		}
		e.FilePos = pos
		return nil
	}

	r, err := a.sectorReader(e)
	if err != nil {
		return err
	}
	data, err := r.ReadAll()
	if err != nil {
		return fmt.Errorf("decode for re-encryption: %w", err)
	}
	key, ok := r.Key()
	if !ok {
		return fmt.Errorf("unknown key of entry at %#x: %w", e.FilePos, mpqtype.ErrKey)
	}
	// A position-dependent key is (base + position) ^ size.
	base := (key ^ e.FSize) - uint32(e.FilePos) //nolint:gosec // keys use the low 32 bits
	key = (base + uint32(pos)) ^ e.FSize       //nolint:gosec // keys use the low 32 bits

	flags := e.Flags &^ format.FlagExists
	if flags&format.FlagImplode != 0 {
		flags = flags&^format.FlagImplode | format.FlagCompress
	}
	moved, err := a.encode(w, pos, data, e.FSize, flags, byte(CompressionZlib), key)
	if err != nil {
		return err
	}
	e.FilePos, e.CSize, e.Flags = moved.FilePos, moved.CSize, moved.Flags|format.FlagExists
	return nil
}

// copyRange copies n bytes from archive position from in the source stream
// to archive position to in w.
func (a *Archive) copyRange(ctx context.Context, w stream.Writable, from, to, n uint64) error {
	src, err := a.dataOffset(from)
	if err != nil {
		return err
	}
	dst, err := a.dataOffset(to)
	if err != nil {
		return err
	}
	size, err := sizing.ToInt64(n)
	if err != nil {
		return err
	}
	return copyStream(ctx, w, dst, a.src, src, size)
}

// copyStream copies n bytes at src in r to dst in w.
func copyStream(ctx context.Context, w io.WriterAt, dst int64, r io.ReaderAt, src, n int64) error {
	if n == 0 {
		return nil
	}
	_, err := io.Copy(io.NewOffsetWriter(w, dst), contextReader{ctx, io.NewSectionReader(r, src, n)})
	return err
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
