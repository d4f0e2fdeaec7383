package sector

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/mpq/internal/crypt"
	"github.com/meigma/mpq/internal/filetable"
	"github.com/meigma/mpq/internal/format"
	"github.com/meigma/mpq/internal/mpqtype"
)

const (
	testSectorSize = 512
	testBase       = 0x40
)

func plaintext(n int) []byte {
	var buf bytes.Buffer
	for i := 0; buf.Len() < n; i++ {
		fmt.Fprintf(&buf, "line %05d: the quick brown fox\n", i)
	}
	return buf.Bytes()[:n]
}

// store encodes data for name and places it at testBase in a fresh stream.
func store(t *testing.T, name string, data []byte, flags uint32) ([]byte, *filetable.Entry) {
	t.Helper()
	key := crypt.FileKey(name, testBase, uint32(len(data)), flags&format.FlagFixKey != 0)
	enc, err := Encode(data, Layout{SectorSize: testSectorSize, Flags: flags, Key: key})
	require.NoError(t, err)
	img := make([]byte, testBase, testBase+len(enc.Data))
	img = append(img, enc.Data...)
	return img, &filetable.Entry{
		FilePos: testBase,
		CSize:   uint32(len(enc.Data)),
		FSize:   uint32(len(data)),
		Flags:   enc.Flags,
		Name:    name,
	}
}

func open(t *testing.T, img []byte, e *filetable.Entry) *Reader {
	t.Helper()
	r, err := Open(bytes.NewReader(img), testBase, e, Config{SectorSize: testSectorSize, Verify: true})
	require.NoError(t, err)
	return r
}

func TestRoundTripLayouts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		flags uint32
	}{
		{"stored", 0},
		{"stored encrypted", format.FlagEncrypted},
		{"compressed", format.FlagCompress},
		{"compressed encrypted fixkey", format.FlagCompress | format.FlagEncrypted | format.FlagFixKey},
		{"compressed checksummed", format.FlagCompress | format.FlagSectorCRC},
		{"single unit", format.FlagCompress | format.FlagSingleUnit},
		{"single unit encrypted", format.FlagCompress | format.FlagSingleUnit | format.FlagEncrypted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			data := plaintext(5000)
			img, e := store(t, `scripts\common.j`, data, tt.flags)
			if tt.flags&format.FlagCompress != 0 {
				assert.Less(t, e.CSize, e.FSize)
			}

			r := open(t, img, e)
			assert.Equal(t, int64(len(data)), r.Size())
			got, err := r.ReadAll()
			require.NoError(t, err)
			assert.Equal(t, data, got)

			part := make([]byte, 700)
			n, err := r.ReadAt(part, 1000)
			require.NoError(t, err)
			assert.Equal(t, 700, n)
			assert.Equal(t, data[1000:1700], part)

			n, err = r.ReadAt(nil, 1000)
			require.NoError(t, err)
			assert.Zero(t, n, "empty read")

			n, err = r.ReadAt(part, int64(len(data)-100))
			assert.ErrorIs(t, err, io.EOF)
			assert.Equal(t, 100, n)
			assert.Equal(t, data[len(data)-100:], part[:n])
		})
	}
}

func TestEncryptedChecksummedDetectsCorruption(t *testing.T) {
	t.Parallel()

	data := plaintext(4096)
	flags := format.FlagCompress | format.FlagEncrypted | format.FlagSectorCRC
	img, e := store(t, "war3map.j", data, flags)

	got, err := open(t, img, e).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, data, got)

	n := (len(data) + testSectorSize - 1) / testSectorSize
	tableLen := (n + 2) * 4
	bad := append([]byte(nil), img...)
	bad[testBase+tableLen+5] ^= 0x01
	_, err = open(t, bad, e).ReadAll()
	require.ErrorIs(t, err, mpqtype.ErrCorrupt)
}

func TestKeyDetection(t *testing.T) {
	t.Parallel()

	t.Run("from sector table", func(t *testing.T) {
		t.Parallel()
		data := plaintext(3000)
		img, e := store(t, `units\human\footman.mdx`, data, format.FlagCompress|format.FlagEncrypted)
		e.Name = ""
		r := open(t, img, e)
		got, err := r.ReadAll()
		require.NoError(t, err)
		assert.Equal(t, data, got)
		key, ok := r.Key()
		require.True(t, ok)
		assert.Equal(t, crypt.FileKey("footman.mdx", 0, 0, false), key)
	})

	t.Run("from content", func(t *testing.T) {
		t.Parallel()
		data := append([]byte("RIFF"), make([]byte, 996)...)
		binary.LittleEndian.PutUint32(data[4:], uint32(len(data)-8))
		copy(data[8:], "WAVEfmt ")
		img, e := store(t, "speech.wav", data, format.FlagEncrypted)
		e.Name = ""
		got, err := open(t, img, e).ReadAll()
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("unrecoverable", func(t *testing.T) {
		t.Parallel()
		img, e := store(t, "notes.txt", plaintext(600), format.FlagEncrypted)
		e.Name = ""
		_, err := open(t, img, e).ReadAll()
		require.ErrorIs(t, err, mpqtype.ErrKey)
	})
}

func rawEntry(offsets []uint32, payload int) ([]byte, *filetable.Entry) {
	table := make([]byte, len(offsets)*4)
	for i, o := range offsets {
		binary.LittleEndian.PutUint32(table[i*4:], o)
	}
	img := make([]byte, testBase, testBase+len(table)+payload)
	img = append(img, table...)
	img = append(img, make([]byte, payload)...)
	return img, &filetable.Entry{
		FilePos: testBase,
		CSize:   uint32(len(table) + payload),
		FSize:   testSectorSize * uint32(len(offsets)-1),
		Flags:   format.FlagExists | format.FlagCompress,
	}
}

func TestSectorTableValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		offsets []uint32
		payload int
	}{
		{"non-monotonic", []uint32{12, 40, 30}, 40},
		{"equal offsets", []uint32{12, 12, 30}, 40},
		{"past compressed size", []uint32{12, 30, 90}, 40},
		{"wrong first offset", []uint32{16, 30, 40}, 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			img, e := rawEntry(tt.offsets, tt.payload)
			_, err := open(t, img, e).ReadAll()
			require.ErrorIs(t, err, mpqtype.ErrCorrupt)
		})
	}
}

func TestImplodedSingleUnit(t *testing.T) {
	t.Parallel()

	stored := []byte{0x00, 0x04, 0x82, 0x24, 0x25, 0x8f, 0x80, 0x7f}
	img := append(make([]byte, testBase), stored...)
	e := &filetable.Entry{
		FilePos: testBase,
		CSize:   uint32(len(stored)),
		FSize:   13,
		Flags:   format.FlagExists | format.FlagImplode | format.FlagSingleUnit,
	}
	got, err := open(t, img, e).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "AIAIAIAIAIAIA", string(got))
}

func TestPatchInfoSkipped(t *testing.T) {
	t.Parallel()

	payload := plaintext(1500)
	enc, err := Encode(payload, Layout{SectorSize: testSectorSize, Flags: format.FlagCompress})
	require.NoError(t, err)
	info := MarshalPatchInfo(&PatchInfo{DataSize: uint32(len(payload))})

	img := make([]byte, testBase)
	img = append(img, info...)
	img = append(img, enc.Data...)
	e := &filetable.Entry{
		FilePos: testBase,
		CSize:   uint32(len(info) + len(enc.Data)),
		FSize:   99999,
		Flags:   enc.Flags | format.FlagPatchFile,
	}
	r := open(t, img, e)
	require.NotNil(t, r.PatchInfo())
	assert.Equal(t, int64(len(payload)), r.Size())
	got, err := r.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestEmptyEntry(t *testing.T) {
	t.Parallel()

	enc, err := Encode(nil, Layout{SectorSize: testSectorSize, Flags: format.FlagCompress | format.FlagEncrypted})
	require.NoError(t, err)
	assert.Empty(t, enc.Data)
	assert.Zero(t, enc.Flags&format.FlagEncrypted)
}

func TestChecksumSeed(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint32(0), checksum(nil))
	// Adler-32 of "a" from a zero seed: a=0x61, b=0x61.
	assert.Equal(t, uint32(0x00610061), checksum([]byte("a")))
	assert.False(t, checked(0))
	assert.False(t, checked(0xFFFFFFFF))
}
