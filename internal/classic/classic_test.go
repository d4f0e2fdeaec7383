package classic

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/mpq/internal/crypt"
	"github.com/meigma/mpq/internal/format"
	"github.com/meigma/mpq/internal/mpqtype"
)

func TestNewHashTableRejectsOddSizes(t *testing.T) {
	t.Parallel()

	for _, n := range []uint32{0, 3, 12, 1000} {
		_, err := NewHashTable(n)
		require.ErrorIs(t, err, mpqtype.ErrFormat, "size %d", n)
	}
	tbl, err := NewHashTable(16)
	require.NoError(t, err)
	assert.Equal(t, 16, tbl.Len())
	assert.True(t, tbl.Entries[5].Free())
}

func TestInsertLookupLocales(t *testing.T) {
	t.Parallel()

	tbl, err := NewHashTable(16)
	require.NoError(t, err)

	_, err = tbl.Insert(`units\footman.mdx`, 0, 0, 0)
	require.NoError(t, err)
	_, err = tbl.Insert(`units\footman.mdx`, 0x407, 0, 1)
	require.NoError(t, err)
	_, err = tbl.Insert(`units\footman.mdx`, 0x407, 0, 2)
	require.ErrorIs(t, err, mpqtype.ErrExists)

	idx, ok := tbl.Lookup("UNITS/FOOTMAN.MDX", 0x407, 0)
	require.True(t, ok)
	assert.Equal(t, uint32(1), tbl.Entries[idx].BlockIndex)

	idx, ok = tbl.Lookup(`units\footman.mdx`, 0x40C, 0)
	require.True(t, ok)
	assert.Equal(t, uint32(0), tbl.Entries[idx].BlockIndex)

	_, ok = tbl.Lookup(`units\grunt.mdx`, 0, 0)
	assert.False(t, ok)
}

func TestChainIteration(t *testing.T) {
	t.Parallel()

	tbl, err := NewHashTable(8)
	require.NoError(t, err)
	for i, loc := range []uint16{0, 0x407, 0x409, 0x40C} {
		_, err := tbl.Insert("war3map.j", loc, 0, uint32(i))
		require.NoError(t, err)
	}
	_, err = tbl.Insert("other.txt", 0, 0, 9)
	require.NoError(t, err)

	var blocks []uint32
	for idx, ok := tbl.First("war3map.j"); ok; idx, ok = tbl.Next("war3map.j", idx) {
		blocks = append(blocks, tbl.Entries[idx].BlockIndex)
	}
	assert.ElementsMatch(t, []uint32{0, 1, 2, 3}, blocks)
}

func TestDeleteKeepsChainReachable(t *testing.T) {
	t.Parallel()

	tbl, err := NewHashTable(4)
	require.NoError(t, err)
	first, err := tbl.Insert("a.txt", 0, 0, 0)
	require.NoError(t, err)
	_, err = tbl.Insert("a.txt", 1, 0, 1)
	require.NoError(t, err)

	tbl.Delete(first)
	assert.True(t, tbl.Entries[first].Deleted())
	idx, ok := tbl.Lookup("a.txt", 1, 0)
	require.True(t, ok)
	assert.Equal(t, uint32(1), tbl.Entries[idx].BlockIndex)

	// The tombstone is reused before the free slot after the chain.
	reused, exact, err := tbl.FindFreeOrMatching("a.txt", 2, 0)
	require.NoError(t, err)
	assert.False(t, exact)
	assert.Equal(t, first, reused)
}

func TestProbeTermination(t *testing.T) {
	t.Parallel()

	for _, n := range []uint32{1, 2, 8, 64} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			t.Parallel()
			tbl, err := NewHashTable(n)
			require.NoError(t, err)
			for i := range tbl.Entries {
				tbl.Delete(i)
			}
			// All but one slot tombstoned.
			free := int(n) - 1
			tbl.Entries[free] = freeEntry()

			idx, exact, err := tbl.FindFreeOrMatching("missing.txt", 0, 0)
			require.NoError(t, err)
			assert.False(t, exact)
			assert.True(t, tbl.Entries[idx].Deleted() || idx == free)

			_, ok := tbl.Lookup("missing.txt", 0, 0)
			assert.False(t, ok)

			// Every slot tombstoned still terminates.
			tbl.Delete(free)
			_, ok = tbl.First("missing.txt")
			assert.False(t, ok)
			_, _, err = tbl.FindFreeOrMatching("missing.txt", 0, 0)
			require.NoError(t, err)
		})
	}
}

func TestCapacity(t *testing.T) {
	t.Parallel()

	tbl, err := NewHashTable(4)
	require.NoError(t, err)
	for i := range 4 {
		_, err := tbl.Insert(fmt.Sprintf("file%d", i), 0, 0, uint32(i))
		require.NoError(t, err)
	}
	_, err = tbl.Insert("file4", 0, 0, 4)
	require.ErrorIs(t, err, mpqtype.ErrCapacity)
}

func TestBlockTableHiWords(t *testing.T) {
	t.Parallel()

	blocks := []BlockEntry{
		{FilePos: 0x20, CSize: 10, FSize: 20, Flags: format.FlagExists},
		{FilePos: 0x1_0000_0040, CSize: 5, FSize: 5, Flags: format.FlagExists | format.FlagCompress},
	}
	buf, hi := MarshalBlockTable(blocks)
	require.NotNil(t, hi)
	assert.Equal(t, blocks, ParseBlockTable(buf, hi))

	buf, hi = MarshalBlockTable(blocks[:1])
	assert.Nil(t, hi)
	assert.Equal(t, blocks[:1], ParseBlockTable(buf, nil))
}

func buildImage(t *testing.T, idx *Index, compress bool) (*bytes.Reader, *format.Header) {
	t.Helper()
	tables := idx.Store(compress)
	h := &format.Header{
		Version:           format.V4,
		SectorSizeShift:   3,
		HashTableEntries:  uint32(idx.Hash.Len()),
		BlockTableEntries: uint32(len(idx.Blocks)),
		HashTablePos:      format.HeaderSizeV4,
		HashTableSize:     uint64(len(tables.Hash)),
	}
	h.BlockTablePos = h.HashTablePos + h.HashTableSize
	h.BlockTableSize = uint64(len(tables.Block))
	h.ArchiveSize = h.BlockTablePos + h.BlockTableSize

	img := make([]byte, h.ArchiveSize)
	copy(img, h.Marshal())
	copy(img[h.HashTablePos:], tables.Hash)
	copy(img[h.BlockTablePos:], tables.Block)
	return bytes.NewReader(img), h
}

func TestLoadStore(t *testing.T) {
	t.Parallel()

	for _, compress := range []bool{false, true} {
		t.Run(fmt.Sprint("compress=", compress), func(t *testing.T) {
			t.Parallel()
			hash, err := NewHashTable(32)
			require.NoError(t, err)
			idx := &Index{Hash: hash}
			for i := range 5 {
				_, err := hash.Insert(fmt.Sprintf(`data\file%d.bin`, i), 0, 0, uint32(i))
				require.NoError(t, err)
				idx.Blocks = append(idx.Blocks, BlockEntry{FilePos: uint64(0x100 * (i + 1)), CSize: 8, FSize: 8, Flags: format.FlagExists})
			}

			r, h := buildImage(t, idx, compress)
			if compress {
				assert.Less(t, h.HashTableSize, uint64(32*format.HashEntrySize))
			}
			got, err := Load(r, h, 0, h.ArchiveSize)
			require.NoError(t, err)
			assert.False(t, got.Cut)
			assert.Equal(t, idx.Hash.Entries, got.Hash.Entries)
			assert.Equal(t, idx.Blocks, got.Blocks)

			at, ok := got.Hash.Lookup(`DATA/FILE3.BIN`, 0, 0)
			require.True(t, ok)
			assert.Equal(t, uint32(3), got.Hash.Entries[at].BlockIndex)
		})
	}
}

func TestLoadClippedTable(t *testing.T) {
	t.Parallel()

	hash, err := NewHashTable(4)
	require.NoError(t, err)
	idx := &Index{Hash: hash, Blocks: []BlockEntry{{FilePos: 0x40, FSize: 1, CSize: 1, Flags: format.FlagExists}}}
	r, h := buildImage(t, idx, false)

	// Claim a block table twice as long as the stream holds.
	h.BlockTableEntries = 2
	h.BlockTableSize = 32
	got, err := Load(r, h, 0, h.ArchiveSize)
	require.NoError(t, err)
	assert.True(t, got.Cut)
	require.Len(t, got.Blocks, 2)
	assert.Equal(t, idx.Blocks[0], got.Blocks[0])
}

func TestTableKeysEncryptTables(t *testing.T) {
	t.Parallel()

	hash, err := NewHashTable(4)
	require.NoError(t, err)
	plain := hash.Marshal()
	stored := (&Index{Hash: hash}).Store(false).Hash
	assert.NotEqual(t, plain, stored)
	crypt.Decrypt(stored, crypt.HashTableKey)
	assert.Equal(t, plain, stored)
}
