package format

import (
	"errors"
	"fmt"
	"io"

	"github.com/meigma/mpq/internal/codec"
	"github.com/meigma/mpq/internal/crypt"
	"github.com/meigma/mpq/internal/mpqtype"
)

// MaxTableSize bounds the in-memory size of any single index table.
const MaxTableSize = 256 << 20

// ReadRaw reads size bytes at pos. A table that runs past fileSize is
// clipped and its missing tail reads as zeros; cut reports that case.
func ReadRaw(r io.ReaderAt, pos, size, fileSize uint64) (buf []byte, cut bool, err error) {
	if size > MaxTableSize {
		return nil, false, fmt.Errorf("table of %d bytes: %w", size, mpqtype.ErrFormat)
	}
	buf = make([]byte, size)
	avail := uint64(0)
	if pos < fileSize {
		avail = min(size, fileSize-pos)
	}
	if avail > 0 {
		n, err := r.ReadAt(buf[:avail], int64(pos)) //nolint:gosec // bounded by fileSize
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, false, fmt.Errorf("read table at %#x: %w", pos, err)
		}
		avail = uint64(n)
	}
	return buf, avail < size, nil
}

// Unpack decrypts stored with key (when non-zero) and decompresses it when
// it is smaller than the expected size. stored is modified in place.
func Unpack(stored []byte, expected uint64, key uint32) ([]byte, error) {
	if key != 0 {
		crypt.Decrypt(stored, key)
	}
	if uint64(len(stored)) >= expected {
		return stored[:expected], nil
	}
	out, err := codec.Decompress(stored, int(expected)) //nolint:gosec // bounded by MaxTableSize
	if err != nil {
		return nil, fmt.Errorf("decompress table: %w", err)
	}
	if uint64(len(out)) != expected {
		return nil, fmt.Errorf("table decompressed to %d bytes, want %d: %w", len(out), expected, mpqtype.ErrCorrupt)
	}
	return out, nil
}

// Pack optionally compresses plain with zlib, keeping the result only when
// it is smaller, and then encrypts it with key (when non-zero).
func Pack(plain []byte, key uint32, compress bool) []byte {
	out := append([]byte(nil), plain...)
	if compress {
		if packed, err := codec.Compress(plain, codec.Zlib); err == nil && len(packed) < len(plain) {
			out = packed
		}
	}
	if key != 0 {
		crypt.Encrypt(out, key)
	}
	return out
}
