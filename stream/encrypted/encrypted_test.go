package encrypted

import (
	"bytes"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/mpq/stream"
)

func plain(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i * 31)
	}
	return p
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	key := KeyFromPassphrase("hunter2")
	nonce := Nonce{1, 2, 3}
	mem := stream.NewMemory(nil)
	w := NewWritable(mem, key, nonce)

	data := plain(1000)
	_, err := w.WriteAt(data, 0)
	require.NoError(t, err)
	assert.NotEqual(t, data, mem.Bytes(), "stored bytes are encrypted")

	got := make([]byte, len(data))
	_, err = w.ReadAt(got, 0)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestRandomAccess(t *testing.T) {
	t.Parallel()

	key := KeyFromPassphrase("k")
	data := plain(500)
	mem := stream.NewMemory(nil)
	w := NewWritable(mem, key, Nonce{})
	_, err := w.WriteAt(data, 0)
	require.NoError(t, err)

	r := New(stream.NewMemory(mem.Bytes()), key, Nonce{})
	for _, tc := range []struct{ off, n int }{{0, 1}, {63, 2}, {64, 64}, {100, 300}, {499, 1}} {
		buf := make([]byte, tc.n)
		_, err := r.ReadAt(buf, int64(tc.off))
		require.NoError(t, err)
		assert.Equal(t, data[tc.off:tc.off+tc.n], buf, "off=%d n=%d", tc.off, tc.n)
	}

	// Unaligned overwrite in the middle of a block.
	_, err = w.WriteAt([]byte("patch"), 130)
	require.NoError(t, err)
	buf := make([]byte, 9)
	_, err = w.ReadAt(buf, 128)
	require.NoError(t, err)
	assert.Equal(t, slices.Concat(data[128:130], []byte("patch"), data[135:137]), buf)
}

func TestKeysAndNoncesDiffer(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte{0}, 128)
	encrypt := func(k Key, n Nonce) []byte {
		mem := stream.NewMemory(nil)
		_, err := NewWritable(mem, k, n).WriteAt(data, 0)
		require.NoError(t, err)
		return mem.Bytes()
	}
	a := encrypt(KeyFromPassphrase("a"), Nonce{})
	assert.NotEqual(t, a, encrypt(KeyFromPassphrase("b"), Nonce{}))
	assert.NotEqual(t, a, encrypt(KeyFromPassphrase("a"), Nonce{1}))
	assert.Equal(t, KeyFromPassphrase("a"), KeyFromPassphrase("a"))
}

func TestSwitchAtomic(t *testing.T) {
	t.Parallel()

	key := KeyFromPassphrase("k")
	w := NewWritable(stream.NewMemory(nil), key, Nonce{})
	_, err := w.WriteAt([]byte("old"), 0)
	require.NoError(t, err)

	tmp, err := w.NewTemp()
	require.NoError(t, err)
	_, err = tmp.WriteAt([]byte("fresh"), 0)
	require.NoError(t, err)
	require.NoError(t, w.SwitchAtomic(tmp))

	buf := make([]byte, 5)
	_, err = w.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(buf))
	assert.ErrorIs(t, w.SwitchAtomic(stream.NewMemory(nil)), stream.ErrMismatch)
}
