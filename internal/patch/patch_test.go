package patch

import (
	"bytes"
	"crypto/md5"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/mpq/internal/mpqtype"
)

var base = []byte("AAAAAAAAAA")

// replay applies files in order and returns the final version.
func replay(base []byte, files [][]byte) ([]byte, error) {
	c := NewChain(base, nil)
	for _, f := range files {
		if err := c.Step(f); err != nil {
			return nil, err
		}
	}
	return c.Result(), nil
}

func TestApplyCopy(t *testing.T) {
	t.Parallel()

	p := NewCopy(base, []byte("BBBBBBBBBB"))
	h, err := ParseHeader(p)
	require.NoError(t, err)
	assert.Equal(t, md5.Sum(base), h.MD5Before)
	assert.Equal(t, uint32(TypeCopy), h.Type)

	out, err := Apply(base, p)
	require.NoError(t, err)
	assert.Equal(t, "BBBBBBBBBB", string(out))
}

func TestApplyDiffIdentity(t *testing.T) {
	t.Parallel()

	p, err := NewDiff(base, []Control{{Add: 10}}, make([]byte, 10), nil)
	require.NoError(t, err)
	h, err := ParseHeader(p)
	require.NoError(t, err)
	assert.Equal(t, uint32(TypeBSD0), h.Type)
	assert.Equal(t, md5.Sum(base), h.MD5After)

	out, err := Apply(base, p)
	require.NoError(t, err)
	assert.Equal(t, base, out)
}

func TestApplyDiffControlStream(t *testing.T) {
	t.Parallel()

	old := []byte("0123456789")
	// "0123" with +1 added, "xyz" inserted, seek back 2, then "23" copied.
	ctrl := []Control{
		{Add: 4, Extra: 3, Seek: -2},
		{Add: 2},
	}
	data := []byte{1, 1, 1, 1, 0, 0}
	p, err := NewDiff(old, ctrl, data, []byte("xyz"))
	require.NoError(t, err)

	out, err := Apply(old, p)
	require.NoError(t, err)
	assert.Equal(t, "1234xyz23", string(out))
}

func TestApplyDiffPastOldEnd(t *testing.T) {
	t.Parallel()

	old := []byte("ab")
	p, err := NewDiff(old, []Control{{Add: 4}}, []byte{1, 1, 'c', 'd'}, nil)
	require.NoError(t, err)

	out, err := Apply(old, p)
	require.NoError(t, err)
	assert.Equal(t, "bccd", string(out))
}

func TestRLE(t *testing.T) {
	t.Parallel()

	src := append(bytes.Repeat([]byte{0}, 300), []byte("payload")...)
	src = append(src, bytes.Repeat([]byte{7}, 200)...)
	packed := packRLE(src)
	assert.Less(t, len(packed), len(src))
	assert.Equal(t, src, unpackRLE(packed, len(src)))
}

func TestChain(t *testing.T) {
	t.Parallel()

	v1 := []byte("BBBBBBBBBB")
	v2 := []byte("CCCCCCCCCC")
	toV1 := NewCopy(base, v1)
	toV2 := NewCopy(v1, v2)

	t.Run("sequential", func(t *testing.T) {
		t.Parallel()
		out, err := replay(base, [][]byte{toV1, toV2})
		require.NoError(t, err)
		assert.Equal(t, v2, out)
	})

	t.Run("targets base after a later version", func(t *testing.T) {
		t.Parallel()
		fromBase := NewCopy(base, v2)
		out, err := replay(base, [][]byte{toV1, fromBase})
		require.NoError(t, err)
		assert.Equal(t, v2, out)
	})

	t.Run("empty chain", func(t *testing.T) {
		t.Parallel()
		out, err := replay(base, nil)
		require.NoError(t, err)
		assert.Equal(t, base, out)
	})

	t.Run("unmatched source", func(t *testing.T) {
		t.Parallel()
		_, err := replay(base, [][]byte{toV2})
		require.ErrorIs(t, err, mpqtype.ErrCorrupt)
	})

	t.Run("wrong result digest", func(t *testing.T) {
		t.Parallel()
		bad := bytes.Clone(toV1)
		bad[len(bad)-1] ^= 0xFF
		_, err := replay(base, [][]byte{bad})
		require.ErrorIs(t, err, mpqtype.ErrCorrupt)
	})
}

func TestParseHeaderErrors(t *testing.T) {
	t.Parallel()

	good := NewCopy(base, base)
	tests := []struct {
		name string
		mut  func([]byte) []byte
		want error
	}{
		{"short", func(b []byte) []byte { return b[:HeaderSize-1] }, mpqtype.ErrFormat},
		{"bad signature", func(b []byte) []byte { b[0] = 'X'; return b }, mpqtype.ErrFormat},
		{"bad md5 block", func(b []byte) []byte { b[0x10] = 'X'; return b }, mpqtype.ErrFormat},
		{"unknown type", func(b []byte) []byte { b[0x40] = 'Z'; return b }, mpqtype.ErrNotSupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseHeader(tt.mut(bytes.Clone(good)))
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestBsdiffRejectsOverrun(t *testing.T) {
	t.Parallel()

	p, err := NewDiff(base, []Control{{Add: 10}}, make([]byte, 10), nil)
	require.NoError(t, err)
	h, err := ParseHeader(p)
	require.NoError(t, err)
	diff, err := bsd0Payload(h, p[HeaderSize:])
	require.NoError(t, err)

	// Claim a larger result than the control stream produces.
	diff = bytes.Clone(diff)
	diff[24] = 20
	_, err = bsdiff(base, diff)
	require.ErrorIs(t, err, mpqtype.ErrCorrupt)
}
