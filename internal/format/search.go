package format

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/meigma/mpq/internal/mpqtype"
)

// UserData is the optional block that precedes an archive header and
// redirects to it.
type UserData struct {
	// Offset is the stream offset of the user data header.
	Offset uint64
	// Size is the size of the user data area.
	Size uint32
	// HeaderOffset is the distance from Offset to the archive header.
	HeaderOffset uint32
	// HeaderSize is the size of the user data header itself.
	HeaderSize uint32
}

// Location describes an archive found in a stream.
type Location struct {
	// Offset is the stream offset of the archive header. All table positions
	// are relative to it.
	Offset   uint64
	UserData *UserData
	Header   *Header
}

// Search scans r at SearchAlign boundaries for the first archive header.
// A user data block redirects the search to the header it points at.
func Search(r io.ReaderAt, size uint64) (*Location, error) {
	var sig [UserDataHeaderSize]byte
	for off := uint64(0); off+4 <= size; off += SearchAlign {
		n, err := r.ReadAt(sig[:], int64(off)) //nolint:gosec // bounded by size
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("search header at %#x: %w", off, err)
		}
		if n < 4 {
			break
		}
		switch binary.LittleEndian.Uint32(sig[:]) {
		case HeaderID:
			h, err := ReadHeader(r, off, size)
			if err != nil {
				return nil, err
			}
			return &Location{Offset: off, Header: h}, nil
		case UserDataID:
			if n < UserDataHeaderSize {
				continue
			}
			ud := &UserData{
				Offset:       off,
				Size:         binary.LittleEndian.Uint32(sig[4:]),
				HeaderOffset: binary.LittleEndian.Uint32(sig[8:]),
				HeaderSize:   binary.LittleEndian.Uint32(sig[12:]),
			}
			target := off + uint64(ud.HeaderOffset)
			if ud.HeaderOffset == 0 || target+HeaderSizeV1 > size {
				continue
			}
			h, err := ReadHeader(r, target, size)
			if err != nil {
				continue
			}
			return &Location{Offset: target, UserData: ud, Header: h}, nil
		}
	}
	return nil, fmt.Errorf("no archive header found: %w", mpqtype.ErrFormat)
}

// MarshalUserData encodes a user data header.
func MarshalUserData(ud *UserData) []byte {
	buf := make([]byte, UserDataHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:], UserDataID)
	binary.LittleEndian.PutUint32(buf[4:], ud.Size)
	binary.LittleEndian.PutUint32(buf[8:], ud.HeaderOffset)
	binary.LittleEndian.PutUint32(buf[12:], ud.HeaderSize)
	return buf
}
