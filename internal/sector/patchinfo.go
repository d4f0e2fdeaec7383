package sector

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/meigma/mpq/internal/mpqtype"
)

// PatchInfoSize is the size of the block that precedes the data of every
// patch-flagged entry.
const PatchInfoSize = 0x1C

// PatchInfo precedes the sector data of a patch-flagged entry.
type PatchInfo struct {
	Length   uint32
	Flags    uint32
	DataSize uint32
	MD5      [16]byte
}

func readPatchInfo(r io.ReaderAt, pos uint64, limit uint32) (*PatchInfo, error) {
	var buf [PatchInfoSize]byte
	if limit < PatchInfoSize {
		return nil, fmt.Errorf("patch info does not fit in %d bytes: %w", limit, mpqtype.ErrCorrupt)
	}
	if _, err := r.ReadAt(buf[:], int64(pos)); err != nil { //nolint:gosec // archive offsets
		return nil, fmt.Errorf("read patch info: %w", err)
	}
	pi := &PatchInfo{
		Length:   binary.LittleEndian.Uint32(buf[0:]),
		Flags:    binary.LittleEndian.Uint32(buf[4:]),
		DataSize: binary.LittleEndian.Uint32(buf[8:]),
	}
	copy(pi.MD5[:], buf[12:])
	if pi.Length < PatchInfoSize || pi.Length > limit {
		return nil, fmt.Errorf("patch info length %d: %w", pi.Length, mpqtype.ErrCorrupt)
	}
	return pi, nil
}

// MarshalPatchInfo encodes pi.
func MarshalPatchInfo(pi *PatchInfo) []byte {
	buf := make([]byte, PatchInfoSize)
	binary.LittleEndian.PutUint32(buf[0:], PatchInfoSize)
	binary.LittleEndian.PutUint32(buf[4:], pi.Flags)
	binary.LittleEndian.PutUint32(buf[8:], pi.DataSize)
	copy(buf[12:], pi.MD5[:])
	return buf
}
