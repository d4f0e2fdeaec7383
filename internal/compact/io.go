package compact

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/meigma/mpq/internal/bits"
	"github.com/meigma/mpq/internal/crypt"
	"github.com/meigma/mpq/internal/format"
	"github.com/meigma/mpq/internal/mpqtype"
)

const (
	extHeaderSize = 12
	extVersion    = 1
	hetHeaderSize = 32
	betHeaderSize = 76

	// betUnknown08 is a constant observed in every BET header.
	betUnknown08 = 0x10
)

func putExt(sig uint32, body []byte, stored []byte) []byte {
	out := make([]byte, extHeaderSize, extHeaderSize+len(stored))
	binary.LittleEndian.PutUint32(out[0:], sig)
	binary.LittleEndian.PutUint32(out[4:], extVersion)
	binary.LittleEndian.PutUint32(out[8:], uint32(len(body))) //nolint:gosec // bounded by format.MaxTableSize
	return append(out, stored...)
}

// Marshal encodes the HET and BET tables ready to be written, encrypted and
// optionally compressed.
func (x *Index) Marshal(compress bool) (het, bet []byte) {
	return x.marshalHET(compress), x.marshalBET(compress)
}

func (x *Index) marshalHET(compress bool) []byte {
	total := uint32(len(x.tags)) //nolint:gosec // slot counts are 32-bit
	body := make([]byte, hetHeaderSize, hetHeaderSize+len(x.tags)+len(x.slots.Data))
	le := binary.LittleEndian
	le.PutUint32(body[0:], uint32(extHeaderSize+hetHeaderSize+len(x.tags)+len(x.slots.Data))) //nolint:gosec // bounded
	le.PutUint32(body[4:], x.entryCount)
	le.PutUint32(body[8:], total)
	le.PutUint32(body[12:], x.hashBits)
	le.PutUint32(body[16:], x.slots.Width)
	le.PutUint32(body[20:], 0)
	le.PutUint32(body[24:], x.slots.Width)
	le.PutUint32(body[28:], uint32(len(x.slots.Data))) //nolint:gosec // bounded
	body = append(body, x.tags...)
	body = append(body, x.slots.Data...)
	return putExt(format.HetID, body, format.Pack(body, crypt.HashTableKey, compress))
}

func (x *Index) marshalBET(compress bool) []byte {
	l := &x.layout
	size := betHeaderSize + 4*len(x.flags) + len(x.recs) + len(x.hash2.Data)
	body := make([]byte, betHeaderSize, size)
	le := binary.LittleEndian
	words := []uint32{
		uint32(extHeaderSize + size), //nolint:gosec // bounded
		x.count,
		betUnknown08,
		l.entryBits,
		l.filePos.index, l.fileSize.index, l.cmpSize.index, l.flagIndex.index, l.unknown.index,
		l.filePos.count, l.fileSize.count, l.cmpSize.count, l.flagIndex.count, l.unknown.count,
		x.hash2.Width, 0, x.hash2.Width,
		uint32(len(x.hash2.Data)), //nolint:gosec // bounded
		uint32(len(x.flags)),      //nolint:gosec // bounded
	}
	for i, w := range words {
		le.PutUint32(body[i*4:], w)
	}
	for _, f := range x.flags {
		body = le.AppendUint32(body, f)
	}
	body = append(body, x.recs...)
	body = append(body, x.hash2.Data...)
	return putExt(format.BetID, body, format.Pack(body, crypt.BlockTableKey, compress))
}

// readExt reads an extended table, checks its signature and returns the
// decrypted, decompressed body.
func readExt(r io.ReaderAt, pos, size, fileSize uint64, sig, key uint32) ([]byte, error) {
	if size < extHeaderSize {
		return nil, fmt.Errorf("table of %d bytes: %w", size, mpqtype.ErrFormat)
	}
	raw, _, err := format.ReadRaw(r, pos, size, fileSize)
	if err != nil {
		return nil, err
	}
	le := binary.LittleEndian
	if got := le.Uint32(raw[0:]); got != sig {
		return nil, fmt.Errorf("signature %#x, want %#x: %w", got, sig, mpqtype.ErrFormat)
	}
	if v := le.Uint32(raw[4:]); v != extVersion {
		return nil, fmt.Errorf("table version %d: %w", v, mpqtype.ErrFormat)
	}
	dataSize := uint64(le.Uint32(raw[8:]))
	if dataSize > format.MaxTableSize {
		return nil, fmt.Errorf("table data of %d bytes: %w", dataSize, mpqtype.ErrFormat)
	}
	return format.Unpack(raw[extHeaderSize:], dataSize, key)
}

// Load reads the HET table at hetPos and the BET table at betPos. Positions
// are stream offsets.
func Load(r io.ReaderAt, hetPos, hetSize, betPos, betSize, fileSize uint64) (*Index, error) {
	het, err := readExt(r, hetPos, hetSize, fileSize, format.HetID, crypt.HashTableKey)
	if err != nil {
		return nil, fmt.Errorf("het table: %w", err)
	}
	x := &Index{}
	if err := x.parseHET(het); err != nil {
		return nil, fmt.Errorf("het table: %w", err)
	}
	bet, err := readExt(r, betPos, betSize, fileSize, format.BetID, crypt.BlockTableKey)
	if err != nil {
		return nil, fmt.Errorf("bet table: %w", err)
	}
	if err := x.parseBET(bet); err != nil {
		return nil, fmt.Errorf("bet table: %w", err)
	}
	return x, nil
}

func (x *Index) parseHET(body []byte) error {
	if len(body) < hetHeaderSize {
		return fmt.Errorf("header truncated: %w", mpqtype.ErrFormat)
	}
	le := binary.LittleEndian
	x.entryCount = le.Uint32(body[4:])
	total := uint64(le.Uint32(body[8:]))
	x.hashBits = le.Uint32(body[12:])
	indexTotal := le.Uint32(body[16:])
	indexSize := le.Uint32(body[24:])
	indexTableSize := uint64(le.Uint32(body[28:]))

	if x.hashBits < 9 || x.hashBits > 64 {
		return fmt.Errorf("name hash width %d: %w", x.hashBits, mpqtype.ErrFormat)
	}
	if indexSize > 32 || indexTotal < indexSize {
		return fmt.Errorf("index width %d: %w", indexSize, mpqtype.ErrFormat)
	}
	if uint64(hetHeaderSize)+total+indexTableSize > uint64(len(body)) {
		return fmt.Errorf("arrays exceed table: %w", mpqtype.ErrFormat)
	}
	if bits.Bytes(total*uint64(indexTotal)) > indexTableSize {
		return fmt.Errorf("index table too small: %w", mpqtype.ErrFormat)
	}
	x.indexBits = indexSize
	x.tags = body[hetHeaderSize : hetHeaderSize+total]
	x.slots = &bits.Array{
		Data:  body[hetHeaderSize+total : hetHeaderSize+total+indexTableSize],
		Width: indexTotal,
		Count: total,
	}
	return nil
}

func (x *Index) parseBET(body []byte) error {
	if len(body) < betHeaderSize {
		return fmt.Errorf("header truncated: %w", mpqtype.ErrFormat)
	}
	le := binary.LittleEndian
	w := func(i int) uint32 { return le.Uint32(body[i*4:]) }

	x.count = w(1)
	l := layout{entryBits: w(3)}
	fields := []*field{&l.filePos, &l.fileSize, &l.cmpSize, &l.flagIndex, &l.unknown}
	for i, f := range fields {
		f.index, f.count = w(4+i), w(9+i)
		limit := uint32(32)
		if f == &l.filePos {
			limit = 64
		}
		if f.count > limit || uint64(f.index)+uint64(f.count) > uint64(l.entryBits) {
			return fmt.Errorf("record field %d out of range: %w", i, mpqtype.ErrFormat)
		}
	}
	x.layout = l

	hash2Total, hash2Count := w(14), w(16)
	hashArraySize := uint64(w(17))
	flagCount := uint64(w(18))
	if hash2Count != x.hashBits-8 || hash2Total < hash2Count {
		return fmt.Errorf("name hash remainder width %d with %d-bit hashes: %w", hash2Count, x.hashBits, mpqtype.ErrFormat)
	}

	off := uint64(betHeaderSize)
	flagsEnd := off + 4*flagCount
	recsEnd := flagsEnd + bits.Bytes(uint64(l.entryBits)*uint64(x.count))
	if recsEnd+hashArraySize > uint64(len(body)) {
		return fmt.Errorf("arrays exceed table: %w", mpqtype.ErrFormat)
	}
	if bits.Bytes(uint64(hash2Total)*uint64(x.count)) > hashArraySize {
		return fmt.Errorf("name hash array too small: %w", mpqtype.ErrFormat)
	}

	x.flags = make([]uint32, flagCount)
	for i := range x.flags {
		x.flags[i] = le.Uint32(body[off+uint64(i)*4:])
	}
	x.recs = body[flagsEnd:recsEnd]
	x.hash2 = &bits.Array{
		Data:  body[recsEnd : recsEnd+hashArraySize],
		Width: hash2Total,
		Count: uint64(x.count),
	}
	return nil
}
