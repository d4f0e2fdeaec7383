package filetable

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/mpq/internal/classic"
	"github.com/meigma/mpq/internal/compact"
	"github.com/meigma/mpq/internal/format"
	"github.com/meigma/mpq/internal/mpqtype"
)

func newClassic(t *testing.T, size uint32) *Table {
	t.Helper()
	hash, err := classic.NewHashTable(size)
	require.NoError(t, err)
	tbl, err := New(hash, false, size, compact.DefaultHashBits)
	require.NoError(t, err)
	return tbl
}

func newCompact(t *testing.T, maxFiles uint32) *Table {
	t.Helper()
	tbl, err := New(nil, true, maxFiles, compact.DefaultHashBits)
	require.NoError(t, err)
	return tbl
}

func TestAddLookupDelete(t *testing.T) {
	t.Parallel()

	for name, mk := range map[string]func(*testing.T) *Table{
		"classic": func(t *testing.T) *Table { return newClassic(t, 16) },
		"compact": func(t *testing.T) *Table { return newCompact(t, 16) },
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			tbl := mk(t)
			a, err := tbl.Add(`maps\a.w3x`, Entry{FilePos: 0x20, FSize: 10, CSize: 10}, false)
			require.NoError(t, err)
			b, err := tbl.Add(`maps\b.w3x`, Entry{FilePos: 0x40, FSize: 20, CSize: 12, Flags: format.FlagCompress}, false)
			require.NoError(t, err)

			_, err = tbl.Add(`MAPS/A.W3X`, Entry{}, false)
			require.ErrorIs(t, err, mpqtype.ErrExists)

			got, ok := tbl.Lookup(`maps/b.w3x`, 0, 0)
			require.True(t, ok)
			assert.Equal(t, b, got)
			assert.True(t, tbl.Entries[b].Has(format.FlagExists|format.FlagCompress))

			require.NoError(t, tbl.Delete(a))
			_, ok = tbl.Lookup(`maps\a.w3x`, 0, 0)
			assert.False(t, ok)
			assert.Equal(t, uint64(0x20), tbl.Entries[a].FilePos, "deleted ordinal keeps its data")
			assert.Zero(t, tbl.Entries[a].NameHash)
			require.ErrorIs(t, tbl.Delete(a), mpqtype.ErrNotFound)

			got, ok = tbl.Lookup(`maps\b.w3x`, 0, 0)
			require.True(t, ok)
			assert.Equal(t, b, got)
			assert.Equal(t, 1, tbl.Live())
		})
	}
}

func TestRename(t *testing.T) {
	t.Parallel()

	tbl := newClassic(t, 8)
	ord, err := tbl.Add("old.txt", Entry{FSize: 1}, false)
	require.NoError(t, err)
	_, err = tbl.Add("taken.txt", Entry{FSize: 1}, false)
	require.NoError(t, err)

	require.ErrorIs(t, tbl.Rename(ord, "taken.txt"), mpqtype.ErrExists)
	require.NoError(t, tbl.Rename(ord, "new.txt"))

	_, ok := tbl.Lookup("old.txt", 0, 0)
	assert.False(t, ok)
	got, ok := tbl.Lookup("new.txt", 0, 0)
	require.True(t, ok)
	assert.Equal(t, ord, got)
	assert.Equal(t, "new.txt", tbl.Entries[ord].Name)
}

func TestLocales(t *testing.T) {
	t.Parallel()

	tbl := newClassic(t, 8)
	neutral, err := tbl.Add("speech.wav", Entry{}, false)
	require.NoError(t, err)
	german, err := tbl.Add("speech.wav", Entry{Locale: 0x407}, false)
	require.NoError(t, err)

	got, ok := tbl.Lookup("speech.wav", 0x407, 0)
	require.True(t, ok)
	assert.Equal(t, german, got)
	got, ok = tbl.Lookup("speech.wav", 0x40C, 0)
	require.True(t, ok)
	assert.Equal(t, neutral, got)
}

func TestReservedSlots(t *testing.T) {
	t.Parallel()

	tbl := newClassic(t, 4)
	tbl.Reserve(true, true)
	assert.Equal(t, 2, tbl.Reserved())

	for i := range 2 {
		_, err := tbl.Add(fmt.Sprintf("f%d", i), Entry{}, false)
		require.NoError(t, err)
	}
	_, err := tbl.Add("f2", Entry{}, false)
	require.ErrorIs(t, err, mpqtype.ErrCapacity)

	_, err = tbl.Add(format.ListfileName, Entry{}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, tbl.Reserved())
	_, err = tbl.Add(format.AttributesName, Entry{}, true)
	require.NoError(t, err)
	assert.Equal(t, 0, tbl.Reserved())
}

func TestPopulateFromClassic(t *testing.T) {
	t.Parallel()

	hash, err := classic.NewHashTable(8)
	require.NoError(t, err)
	blocks := []classic.BlockEntry{
		{FilePos: 0x20, CSize: 4, FSize: 4, Flags: format.FlagExists},
		{FilePos: 0x24, CSize: 4, FSize: 4, Flags: format.FlagExists | 0x08},
		{FilePos: 0x28, CSize: 4, FSize: 4, Flags: 0},
	}
	good, err := hash.Insert("good.txt", 0, 0, 0)
	require.NoError(t, err)
	badFlags, err := hash.Insert("flags.txt", 0, 0, 1)
	require.NoError(t, err)
	gone, err := hash.Insert("gone.txt", 0, 0, 2)
	require.NoError(t, err)
	outOfRange, err := hash.Insert("range.txt", 0, 0, 99)
	require.NoError(t, err)

	tbl := PopulateFromClassic(&classic.Index{Hash: hash, Blocks: blocks}, compact.DefaultHashBits)
	require.Len(t, tbl.Entries, 3)
	assert.True(t, tbl.Entries[0].Exists())
	assert.Equal(t, good, tbl.Entries[0].HashIndex)
	for _, slot := range []int{badFlags, gone, outOfRange} {
		assert.True(t, hash.Entries[slot].Deleted(), "slot %d", slot)
	}
	assert.False(t, tbl.Entries[1].Exists())
	assert.Equal(t, uint64(0x28), tbl.Entries[2].FilePos)

	ord, ok := tbl.Lookup("good.txt", 0, 0)
	require.True(t, ok)
	assert.Equal(t, 0, ord)
	_, ok = tbl.Lookup("range.txt", 0, 0)
	assert.False(t, ok)

	tbl.SetName(ord, "good.txt")
	assert.NotZero(t, tbl.Entries[ord].NameHash)
}

func TestPopulateFromCompact(t *testing.T) {
	t.Parallel()

	src := newCompact(t, 8)
	for i := range 5 {
		_, err := src.Add(fmt.Sprintf("file%d.dat", i), Entry{FilePos: uint64(0x100 * i), FSize: 9, CSize: 7, Flags: format.FlagCompress}, false)
		require.NoError(t, err)
	}
	require.NoError(t, src.Delete(3))

	het, bet := src.Compact.Marshal(false)
	require.NotEmpty(t, het)
	require.NotEmpty(t, bet)

	tbl := PopulateFromCompact(src.Compact)
	require.Len(t, tbl.Entries, 5)
	for i := range 5 {
		assert.Equal(t, src.Entries[i].FilePos, tbl.Entries[i].FilePos)
		assert.Equal(t, src.Entries[i].NameHash, tbl.Entries[i].NameHash)
	}
	assert.False(t, tbl.Entries[3].Exists())

	ord, ok := tbl.Lookup("file4.dat", 0, 0)
	require.True(t, ok)
	assert.Equal(t, 4, ord)
	_, ok = tbl.Lookup("file3.dat", 0, 0)
	assert.False(t, ok)
}

func TestClassicIndexBlocks(t *testing.T) {
	t.Parallel()

	tbl := newClassic(t, 4)
	_, err := tbl.Add("x", Entry{FilePos: 0x30, FSize: 3, CSize: 2, Flags: format.FlagCompress}, false)
	require.NoError(t, err)
	idx := tbl.ClassicIndex()
	require.Len(t, idx.Blocks, 1)
	assert.Equal(t, format.FlagExists|format.FlagCompress, idx.Blocks[0].Flags)
	assert.Same(t, tbl.Classic, idx.Hash)
}

func TestPseudoName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		head []byte
		want string
	}{
		{[]byte("MZ\x90\x00\x03\x00\x00\x00"), "File00000007.exe"},
		{[]byte("RIFF\x00\x10\x00\x00WAVEfmt "), "File00000007.wav"},
		{[]byte("MPQ\x1A\x20\x00\x00\x00"), "File00000007.mpq"},
		{[]byte("\x89PNG\r\n\x1a\n"), "File00000007.png"},
		{[]byte("random bytes"), "File00000007.xxx"},
		{nil, "File00000007.xxx"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PseudoName(7, tt.head))
	}
}
