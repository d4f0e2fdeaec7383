package format

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/mpq/internal/mpqtype"
)

// image places buf at off inside a zeroed stream of the given size.
func image(size int, parts map[int][]byte) *bytes.Reader {
	out := make([]byte, size)
	for off, b := range parts {
		copy(out[off:], b)
	}
	return bytes.NewReader(out)
}

func TestHeaderRoundTripV4(t *testing.T) {
	t.Parallel()

	h := &Header{
		Version:           V4,
		SectorSizeShift:   3,
		ArchiveSize:       0x1000,
		HetTablePos:       0x400,
		HetTableSize:      0x200,
		BetTablePos:       0x600,
		BetTableSize:      0x200,
		HashTablePos:      0x800,
		HashTableEntries:  16,
		HashTableSize:     256,
		BlockTablePos:     0x900,
		BlockTableEntries: 4,
		BlockTableSize:    64,
		RawChunkSize:      0x4000,
	}
	raw := h.Marshal()
	require.Len(t, raw, HeaderSizeV4)

	got, err := ReadHeader(image(0x1000, map[int][]byte{0: raw}), 0, 0x1000)
	require.NoError(t, err)
	assert.Equal(t, V4, got.Version)
	assert.Equal(t, uint32(HeaderSizeV4), got.HeaderSize)
	assert.Equal(t, uint32(4096), got.SectorSize())
	assert.Equal(t, h.HetTablePos, got.HetTablePos)
	assert.Equal(t, h.BetTableSize, got.BetTableSize)
	assert.Equal(t, h.HashTableSize, got.HashTableSize)
	assert.Equal(t, h.RawChunkSize, got.RawChunkSize)
	assert.Equal(t, h.MD5Header, got.MD5Header)
	assert.False(t, got.Malformed)
}

func TestHeaderV1(t *testing.T) {
	t.Parallel()

	h := &Header{Version: V1, SectorSizeShift: 3, ArchiveSize: 0x600, HashTablePos: 0x400, HashTableEntries: 16, BlockTablePos: 0x500, BlockTableEntries: 4}
	got, err := ReadHeader(image(0x600, map[int][]byte{0: h.Marshal()}), 0, 0x600)
	require.NoError(t, err)
	assert.Equal(t, V1, got.Version)
	assert.False(t, got.Malformed)
	assert.Equal(t, uint64(256), got.HashTableSize)
	assert.Equal(t, uint64(64), got.BlockTableSize)
	assert.Equal(t, uint64(0x600), got.ArchiveSize)
}

func TestHeaderMalformed(t *testing.T) {
	t.Parallel()

	t.Run("unknown version", func(t *testing.T) {
		t.Parallel()
		raw := (&Header{Version: V1, HashTablePos: 0x100, BlockTablePos: 0x200, ArchiveSize: 0x400}).Marshal()
		binary.LittleEndian.PutUint16(raw[0x0C:], 7)
		got, err := ReadHeader(image(0x400, map[int][]byte{0: raw}), 0, 0x400)
		require.NoError(t, err)
		assert.Equal(t, V1, got.Version)
		assert.True(t, got.Malformed)
	})

	t.Run("v2 with wrong header size", func(t *testing.T) {
		t.Parallel()
		raw := (&Header{Version: V2, HashTablePos: 0x100, BlockTablePos: 0x200, ArchiveSize: 0x400}).Marshal()
		binary.LittleEndian.PutUint32(raw[0x04:], 0x30)
		got, err := ReadHeader(image(0x400, map[int][]byte{0: raw}), 0, 0x400)
		require.NoError(t, err)
		assert.Equal(t, V1, got.Version)
		assert.Equal(t, uint32(HeaderSizeV1), got.HeaderSize)
		assert.True(t, got.Malformed)
	})

	t.Run("sector size high byte", func(t *testing.T) {
		t.Parallel()
		raw := (&Header{Version: V1, HashTablePos: 0x100, BlockTablePos: 0x200, ArchiveSize: 0x400}).Marshal()
		binary.LittleEndian.PutUint16(raw[0x0E:], 0x0103)
		got, err := ReadHeader(image(0x400, map[int][]byte{0: raw}), 0, 0x400)
		require.NoError(t, err)
		assert.Equal(t, uint16(3), got.SectorSizeShift)
		assert.True(t, got.Malformed)
	})

	t.Run("block table ends archive", func(t *testing.T) {
		t.Parallel()
		raw := (&Header{Version: V1, HashTablePos: 0x10, BlockTablePos: 0x3C0, BlockTableEntries: 4, ArchiveSize: 0x400}).Marshal()
		got, err := ReadHeader(image(0x800, map[int][]byte{0: raw}), 0, 0x800)
		require.NoError(t, err)
		assert.True(t, got.Malformed)
		assert.Equal(t, uint64(0x400), got.ArchiveSize)
	})

	t.Run("clipped at strong signature", func(t *testing.T) {
		t.Parallel()
		const size = 0x1000 + StrongSigSize + 4
		raw := (&Header{Version: V1, HashTablePos: 0x100, BlockTablePos: 0x10, BlockTableEntries: 4, ArchiveSize: 0x2000}).Marshal()
		got, err := ReadHeader(image(size, map[int][]byte{0: raw, 0x1000: []byte("NGIS")}), 0, size)
		require.NoError(t, err)
		assert.True(t, got.Malformed)
		assert.Equal(t, uint64(0x1000), got.ArchiveSize)
	})

	t.Run("clipped at container end", func(t *testing.T) {
		t.Parallel()
		raw := (&Header{Version: V1, HashTablePos: 0x100, BlockTablePos: 0x10, BlockTableEntries: 4, ArchiveSize: 0x2000}).Marshal()
		got, err := ReadHeader(image(0xA00, map[int][]byte{0x200: raw}), 0x200, 0xA00)
		require.NoError(t, err)
		assert.Equal(t, uint64(0x800), got.ArchiveSize)
	})
}

func TestHeaderV3DerivesSizes(t *testing.T) {
	t.Parallel()

	h := &Header{
		Version:           V3,
		ArchiveSize:       0x700,
		HetTablePos:       0x100,
		BetTablePos:       0x300,
		HashTablePos:      0x500,
		HashTableEntries:  16,
		BlockTablePos:     0x600,
		BlockTableEntries: 4,
	}
	got, err := ReadHeader(image(0x700, map[int][]byte{0: h.Marshal()}), 0, 0x700)
	require.NoError(t, err)
	assert.Equal(t, V3, got.Version)
	assert.Equal(t, uint64(0x200), got.HetTableSize)
	assert.Equal(t, uint64(0x200), got.BetTableSize)
	assert.Equal(t, uint64(0x100), got.HashTableSize)
	assert.Equal(t, uint64(64), got.BlockTableSize)
}

func TestHeaderAbsWrapsV1(t *testing.T) {
	t.Parallel()

	h := &Header{Version: V1}
	assert.Equal(t, uint64(0x100), h.Abs(0x200, 0xFFFFFF00))
	h.Version = V2
	assert.Equal(t, uint64(0x300), h.Abs(0x200, 0x100))
}

func TestSearch(t *testing.T) {
	t.Parallel()

	hdr := (&Header{Version: V1, HashTablePos: 0x100, BlockTablePos: 0x200, ArchiveSize: 0x300}).Marshal()

	t.Run("aligned header", func(t *testing.T) {
		t.Parallel()
		loc, err := Search(image(0x1000, map[int][]byte{0x400: hdr}), 0x1000)
		require.NoError(t, err)
		assert.Equal(t, uint64(0x400), loc.Offset)
		assert.Nil(t, loc.UserData)
	})

	t.Run("user data redirect", func(t *testing.T) {
		t.Parallel()
		ud := MarshalUserData(&UserData{Size: 0x100, HeaderOffset: 0x600, HeaderSize: UserDataHeaderSize})
		loc, err := Search(image(0x1000, map[int][]byte{0: ud, 0x600: hdr}), 0x1000)
		require.NoError(t, err)
		assert.Equal(t, uint64(0x600), loc.Offset)
		require.NotNil(t, loc.UserData)
		assert.Equal(t, uint32(0x600), loc.UserData.HeaderOffset)
	})

	t.Run("missing", func(t *testing.T) {
		t.Parallel()
		_, err := Search(image(0x1000, nil), 0x1000)
		require.ErrorIs(t, err, mpqtype.ErrFormat)
	})
}
