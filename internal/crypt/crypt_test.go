package crypt

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashFolding(t *testing.T) {
	t.Parallel()

	for _, p := range []Purpose{PurposeTableIndex, PurposeNameA, PurposeNameB, PurposeFileKey} {
		assert.Equal(t, Hash(`A\B.txt`, p), Hash("a/b.TXT", p))
		assert.Equal(t, Hash("units.dat", p), Hash("units.dat", p))
	}
	assert.NotEqual(t, Hash("units.dat", PurposeNameA), Hash("units.dat", PurposeNameB))
}

func TestTableKeys(t *testing.T) {
	t.Parallel()

	assert.Equal(t, HashTableKey, Hash("(hash table)", PurposeFileKey))
	assert.Equal(t, BlockTableKey, Hash("(block table)", PurposeFileKey))
}

func TestHashLittle2Vectors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		key    string
		pc, pb uint32
		wantC  uint32
		wantB  uint32
	}{
		{"zero seeds", "", 0, 0, 0xdeadbeef, 0xdeadbeef},
		{"secondary seed", "", 0, 0xdeadbeef, 0xbd5b7dde, 0xdeadbeef},
		{"both seeds", "", 0xdeadbeef, 0xdeadbeef, 0x9c093ccd, 0xbd5b7dde},
		{"text", "Four score and seven years ago", 0, 0, 0x17770551, 0xce7226e6},
		{"text pb", "Four score and seven years ago", 0, 1, 0xe3607cae, 0xbd371de4},
		{"text pc", "Four score and seven years ago", 1, 0, 0xcd628161, 0x6cbea4b3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			pc, pb := tt.pc, tt.pb
			hashLittle2([]byte(tt.key), &pc, &pb)
			assert.Equal(t, tt.wantC, pc)
			assert.Equal(t, tt.wantB, pb)
		})
	}
}

func TestHash64(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint64(0xdeadbef1deadbef2), Hash64("", 64))
	assert.Equal(t, Hash64(`War3Map\Map.J`, 64), Hash64("war3map/map.j", 64))

	for _, bits := range []uint32{8, 16, 40, 63, 64} {
		h := Hash64("(listfile)", bits)
		assert.NotZero(t, h&(uint64(1)<<(bits-1)), "top bit forced for %d bits", bits)
		assert.Zero(t, h&^Mask64(bits), "masked to %d bits", bits)
	}
}

func TestCipherRoundTrip(t *testing.T) {
	t.Parallel()

	plain := make([]byte, 256)
	for i := range plain {
		plain[i] = byte(i * 7)
	}
	for _, key := range []uint32{0, 1, HashTableKey, BlockTableKey, 0xFFFFFFFF} {
		buf := append([]byte(nil), plain...)
		Encrypt(buf, key)
		assert.NotEqual(t, plain, buf)
		Decrypt(buf, key)
		assert.Equal(t, plain, buf)
	}
}

func TestCipherLeavesTail(t *testing.T) {
	t.Parallel()

	buf := []byte{1, 2, 3, 4, 5, 6}
	Encrypt(buf, 0x1234)
	assert.Equal(t, []byte{5, 6}, buf[4:])
}

func TestFileKey(t *testing.T) {
	t.Parallel()

	base := Hash("war3map.j", PurposeFileKey)
	assert.Equal(t, base, FileKey(`Scripts\war3map.j`, 0x1000, 300, false))
	assert.Equal(t, (base+0x1000)^300, FileKey(`Scripts\war3map.j`, 0x1000, 300, true))
}

func TestDetectSectorTableKey(t *testing.T) {
	t.Parallel()

	const sectorSize = 4096
	// Three sectors: four offsets, the first equal to the table length.
	offsets := []uint32{16, 16 + 2000, 16 + 3500, 16 + 4200}
	buf := make([]byte, 16)
	for i, v := range offsets {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
	fileKey := FileKey("sound.wav", 0, 9000, false)
	Encrypt(buf, fileKey-1)

	key, ok := DetectSectorTableKey(buf, sectorSize, 16)
	require.True(t, ok)
	assert.Equal(t, fileKey-1, key)
}

func TestDetectContentKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		head []byte
		size uint32
	}{
		{"riff", []byte("RIFF\xf8\x03\x00\x00WAVEfmt "), 0x400},
		{"xml", []byte("<?xml version=\"1.0\"?>"), 21},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			buf := append([]byte(nil), tt.head...)
			Encrypt(buf, 0x5A5A1234)
			key, ok := DetectContentKey(buf, tt.size)
			require.True(t, ok)
			assert.Equal(t, uint32(0x5A5A1234), key)
		})
	}

	buf := []byte("plain text that is not a known header")
	Encrypt(buf, 77)
	_, ok := DetectContentKey(buf, uint32(len(buf)))
	assert.False(t, ok)
}
