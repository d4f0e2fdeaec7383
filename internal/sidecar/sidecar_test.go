package sidecar

import (
	"crypto/md5"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/meigma/mpq/internal/mpqtype"
)

func TestParseListfile(t *testing.T) {
	t.Parallel()

	data := []byte("war3map.j\r\nUnits\\Human.mdx;  ;Units\\human.MDX\nsound.wav\r\r\n")
	assert.Equal(t, []string{"war3map.j", `Units\Human.mdx`, "sound.wav"}, ParseListfile(data))
	assert.Empty(t, ParseListfile(nil))
}

func TestFormatListfile(t *testing.T) {
	t.Parallel()

	out := FormatListfile([]string{"b.txt", "A.txt", "a.TXT", "", "c\\d.txt"})
	assert.Equal(t, "A.txt\r\nb.txt\r\nc\\d.txt\r\n", string(out))
	assert.Equal(t, []string{"A.txt", "b.txt", `c\d.txt`}, ParseListfile(out))
}

func TestNameEncoding(t *testing.T) {
	t.Parallel()

	raw := string([]byte{'m', 0xE9, 'l', 'e', 'e', '.', 't', 'x', 't'})
	assert.Equal(t, "mélee.txt", DecodeName(charmap.Windows1252, raw))
	assert.Equal(t, raw, DecodeName(nil, raw))
	assert.Equal(t, "plain.txt", DecodeName(charmap.Windows1252, "plain.txt"))

	back, ok := EncodeName(charmap.Windows1252, "mélee.txt")
	require.True(t, ok)
	assert.Equal(t, raw, back)
	_, ok = EncodeName(charmap.Windows1252, "plain.txt")
	assert.False(t, ok)

	enc, err := Encoding("Windows-1252")
	require.NoError(t, err)
	assert.Equal(t, charmap.Windows1252, enc)
	enc, err = Encoding("")
	require.NoError(t, err)
	assert.Nil(t, enc)
	_, err = Encoding("ebcdic")
	require.Error(t, err)
}

func sampleAttributes(n int) *Attributes {
	a := NewAttributes(AttrAll, n)
	for i := range n {
		a.CRC32[i] = uint32(0x1000 + i)
		a.FileTime[i] = uint64(0x01D0000000000000 + i)
		a.MD5[i] = md5.Sum([]byte{byte(i)})
		a.Patch[i] = i%3 == 0
	}
	return a
}

func TestAttributesRoundTrip(t *testing.T) {
	t.Parallel()

	a := sampleAttributes(11)
	data := a.Marshal()
	assert.Len(t, data, 8+11*(4+8+16)+2)

	got, err := ParseAttributes(data, 11)
	require.NoError(t, err)
	assert.Equal(t, a, got)
}

func TestAttributesToleratedSizes(t *testing.T) {
	t.Parallel()

	t.Run("count minus one", func(t *testing.T) {
		t.Parallel()
		data := sampleAttributes(4).Marshal()
		got, err := ParseAttributes(data, 5)
		require.NoError(t, err)
		assert.Equal(t, 4, got.Len())
	})

	t.Run("legacy patch words", func(t *testing.T) {
		t.Parallel()
		a := NewAttributes(AttrCRC32|AttrPatchBit, 3)
		data := make([]byte, 8+3*4+3*4)
		binary.LittleEndian.PutUint32(data, AttributesVersion)
		binary.LittleEndian.PutUint32(data[4:], a.Flags)
		binary.LittleEndian.PutUint32(data[8:], 0xAABBCCDD)
		binary.LittleEndian.PutUint32(data[8+12+4:], 1)

		got, err := ParseAttributes(data, 3)
		require.NoError(t, err)
		assert.Equal(t, uint32(0xAABBCCDD), got.CRC32[0])
		assert.Equal(t, []bool{false, true, false}, got.Patch)
	})

	t.Run("wrong size", func(t *testing.T) {
		t.Parallel()
		data := sampleAttributes(4).Marshal()
		_, err := ParseAttributes(data, 9)
		require.ErrorIs(t, err, mpqtype.ErrFormat)
	})

	t.Run("wrong version", func(t *testing.T) {
		t.Parallel()
		data := sampleAttributes(1).Marshal()
		data[0] = 99
		_, err := ParseAttributes(data, 1)
		require.ErrorIs(t, err, mpqtype.ErrFormat)
	})
}

func TestFileTime(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint64(fileTimeEpoch), FileTime(time.Unix(0, 0)))
	ts := time.Date(2010, 7, 27, 12, 30, 0, 500, time.UTC)
	assert.True(t, ts.Truncate(100).Equal(Time(FileTime(ts))))
	assert.Zero(t, FileTime(time.Time{}))
	assert.True(t, Time(0).IsZero())
}
