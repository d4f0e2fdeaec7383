package sector

import (
	"encoding/binary"
	"fmt"

	"github.com/meigma/mpq/internal/codec"
	"github.com/meigma/mpq/internal/crypt"
	"github.com/meigma/mpq/internal/format"
	"github.com/meigma/mpq/internal/mpqtype"
)

// Layout describes how an entry is stored.
type Layout struct {
	SectorSize uint32
	// Flags selects compression, encryption, single-unit storage and
	// sector checksums.
	Flags uint32
	// Compression is the codec mask used for compressed sectors.
	Compression byte
	// Key is the base sector key of an encrypted entry.
	Key uint32
}

// Encoded is a stored entry ready to be written.
type Encoded struct {
	Data  []byte
	Flags uint32
}

// Encode stores data according to l. Sectors that do not shrink are kept
// verbatim. The returned flags drop options that do not apply, such as
// compression for an empty entry.
func Encode(data []byte, l Layout) (*Encoded, error) {
	if l.SectorSize == 0 {
		return nil, fmt.Errorf("zero sector size: %w", mpqtype.ErrFormat)
	}
	flags := l.Flags | format.FlagExists
	if flags&format.FlagImplode != 0 {
		return nil, fmt.Errorf("writing imploded entries: %w", mpqtype.ErrNotSupported)
	}
	if len(data) == 0 {
		return &Encoded{Data: []byte{}, Flags: flags &^ (format.FlagCompressMask | format.FlagEncrypted | format.FlagFixKey | format.FlagSectorCRC)}, nil
	}
	if l.Compression == 0 {
		l.Compression = codec.Zlib
	}

	compressed := flags&format.FlagCompress != 0
	encrypted := flags&format.FlagEncrypted != 0

	if flags&format.FlagSingleUnit != 0 {
		out, err := compressSector(data, compressed, l.Compression)
		if err != nil {
			return nil, err
		}
		if encrypted {
			crypt.Encrypt(out, l.Key)
		}
		return &Encoded{Data: out, Flags: flags &^ format.FlagSectorCRC}, nil
	}

	n := (len(data) + int(l.SectorSize) - 1) / int(l.SectorSize)
	sectors := make([][]byte, n)
	for i := range sectors {
		lo := i * int(l.SectorSize)
		hi := min(lo+int(l.SectorSize), len(data))
		s, err := compressSector(data[lo:hi], compressed, l.Compression)
		if err != nil {
			return nil, err
		}
		sectors[i] = s
	}

	if !compressed {
		out := make([]byte, 0, len(data))
		for i, s := range sectors {
			if encrypted {
				crypt.Encrypt(s, l.Key+uint32(i)) //nolint:gosec // sector counts are 32-bit
			}
			out = append(out, s...)
		}
		return &Encoded{Data: out, Flags: flags &^ format.FlagSectorCRC}, nil
	}

	withCRC := flags&format.FlagSectorCRC != 0
	entries := n + 1
	if withCRC {
		entries++
	}
	offsets := make([]uint32, entries)
	pos := uint32(entries * 4) //nolint:gosec // sector counts are 32-bit
	var crcBlock []byte
	for i, s := range sectors {
		offsets[i] = pos
		pos += uint32(len(s)) //nolint:gosec // sector sized
	}
	offsets[n] = pos
	if withCRC {
		plain := make([]byte, 0, n*4)
		for _, s := range sectors {
			plain = binary.LittleEndian.AppendUint32(plain, checksum(s))
		}
		crcBlock = plain
		if packed, err := codec.Compress(plain, codec.Zlib); err == nil && len(packed) < len(plain) {
			crcBlock = packed
		}
		offsets[n+1] = pos + uint32(len(crcBlock)) //nolint:gosec // sector sized
	}

	table := make([]byte, entries*4)
	for i, o := range offsets {
		binary.LittleEndian.PutUint32(table[i*4:], o)
	}
	out := make([]byte, 0, int(offsets[entries-1]))
	if encrypted {
		crypt.Encrypt(table, l.Key-1)
	}
	out = append(out, table...)
	for i, s := range sectors {
		if encrypted {
			crypt.Encrypt(s, l.Key+uint32(i)) //nolint:gosec // sector counts are 32-bit
		}
		out = append(out, s...)
	}
	out = append(out, crcBlock...)
	return &Encoded{Data: out, Flags: flags}, nil
}

// compressSector returns a fresh copy of src, compressed when that makes it
// smaller.
func compressSector(src []byte, compress bool, mask byte) ([]byte, error) {
	if compress {
		packed, err := codec.Compress(src, mask)
		if err != nil {
			return nil, err
		}
		if len(packed) < len(src) {
			return packed, nil
		}
	}
	return append([]byte(nil), src...), nil
}
