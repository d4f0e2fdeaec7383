package classic

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/meigma/mpq/internal/crypt"
	"github.com/meigma/mpq/internal/format"
	"github.com/meigma/mpq/internal/mpqtype"
)

// BlockEntry is one record of the block table, joined with its hi-block
// word.
type BlockEntry struct {
	FilePos uint64
	CSize   uint32
	FSize   uint32
	Flags   uint32
}

// Index is a loaded classic hash/block table pair.
type Index struct {
	Hash   *HashTable
	Blocks []BlockEntry

	// Cut reports that a table ran past the end of the stream.
	Cut bool
}

// ParseBlockTable decodes a plain block table and an optional hi-block
// table.
func ParseBlockTable(buf, hi []byte) []BlockEntry {
	blocks := make([]BlockEntry, len(buf)/format.BlockEntrySize)
	for i := range blocks {
		b := buf[i*format.BlockEntrySize:]
		blocks[i] = BlockEntry{
			FilePos: uint64(binary.LittleEndian.Uint32(b[0:])),
			CSize:   binary.LittleEndian.Uint32(b[4:]),
			FSize:   binary.LittleEndian.Uint32(b[8:]),
			Flags:   binary.LittleEndian.Uint32(b[12:]),
		}
		if off := i * format.HiBlockEntrySize; off+format.HiBlockEntrySize <= len(hi) {
			blocks[i].FilePos |= uint64(binary.LittleEndian.Uint16(hi[off:])) << 32
		}
	}
	return blocks
}

// MarshalBlockTable encodes blocks in their plain on-disk layout. hi is nil
// when no position needs more than 32 bits.
func MarshalBlockTable(blocks []BlockEntry) (buf, hi []byte) {
	buf = make([]byte, len(blocks)*format.BlockEntrySize)
	needHi := false
	for i := range blocks {
		e := &blocks[i]
		b := buf[i*format.BlockEntrySize:]
		binary.LittleEndian.PutUint32(b[0:], uint32(e.FilePos))
		binary.LittleEndian.PutUint32(b[4:], e.CSize)
		binary.LittleEndian.PutUint32(b[8:], e.FSize)
		binary.LittleEndian.PutUint32(b[12:], e.Flags)
		if e.FilePos>>32 != 0 {
			needHi = true
		}
	}
	if !needHi {
		return buf, nil
	}
	hi = make([]byte, len(blocks)*format.HiBlockEntrySize)
	for i := range blocks {
		binary.LittleEndian.PutUint16(hi[i*format.HiBlockEntrySize:], uint16(blocks[i].FilePos>>32))
	}
	return buf, hi
}

// Load reads the classic tables described by h from an archive at
// archiveOffset.
func Load(r io.ReaderAt, h *format.Header, archiveOffset, fileSize uint64) (*Index, error) {
	if h.HashTablePos == 0 && h.HashTableEntries == 0 {
		return nil, fmt.Errorf("no hash table: %w", mpqtype.ErrFormat)
	}

	idx := &Index{}
	hashRaw, cut, err := format.ReadRaw(r, h.Abs(archiveOffset, h.HashTablePos), h.HashTableSize, fileSize)
	if err != nil {
		return nil, fmt.Errorf("hash table: %w", err)
	}
	idx.Cut = idx.Cut || cut
	plain, err := format.Unpack(hashRaw, uint64(h.HashTableEntries)*format.HashEntrySize, crypt.HashTableKey)
	if err != nil {
		return nil, fmt.Errorf("hash table: %w", err)
	}
	idx.Hash = ParseHashTable(plain)

	blockRaw, cut, err := format.ReadRaw(r, h.Abs(archiveOffset, h.BlockTablePos), h.BlockTableSize, fileSize)
	if err != nil {
		return nil, fmt.Errorf("block table: %w", err)
	}
	idx.Cut = idx.Cut || cut
	plain, err = format.Unpack(blockRaw, uint64(h.BlockTableEntries)*format.BlockEntrySize, crypt.BlockTableKey)
	if err != nil {
		return nil, fmt.Errorf("block table: %w", err)
	}

	var hi []byte
	if h.HiBlockTablePos != 0 && h.HiBlockTableSize != 0 {
		hiRaw, cut, err := format.ReadRaw(r, archiveOffset+h.HiBlockTablePos, h.HiBlockTableSize, fileSize)
		if err != nil {
			return nil, fmt.Errorf("hi-block table: %w", err)
		}
		idx.Cut = idx.Cut || cut
		hi, err = format.Unpack(hiRaw, uint64(h.BlockTableEntries)*format.HiBlockEntrySize, 0)
		if err != nil {
			return nil, fmt.Errorf("hi-block table: %w", err)
		}
	}
	idx.Blocks = ParseBlockTable(plain, hi)
	return idx, nil
}

// Tables holds encoded tables ready to be written.
type Tables struct {
	Hash    []byte
	Block   []byte
	HiBlock []byte

	// HashSize and BlockSize are the plain (expected) sizes.
	HashSize  uint64
	BlockSize uint64
}

// Store encodes idx for writing. compress is only honored by formats that
// record stored table sizes.
func (idx *Index) Store(compress bool) *Tables {
	hashPlain := idx.Hash.Marshal()
	blockPlain, hi := MarshalBlockTable(idx.Blocks)
	t := &Tables{
		Hash:      format.Pack(hashPlain, crypt.HashTableKey, compress),
		Block:     format.Pack(blockPlain, crypt.BlockTableKey, compress),
		HashSize:  uint64(len(hashPlain)),
		BlockSize: uint64(len(blockPlain)),
	}
	if hi != nil {
		t.HiBlock = hi
	}
	return t
}
