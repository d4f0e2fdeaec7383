package mpq

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/mpq/internal/testutil"
	"github.com/meigma/mpq/stream"
)

func TestCompact(t *testing.T) {
	t.Parallel()

	for _, version := range []int{1, 2, 3, 4} {
		t.Run(fmt.Sprintf("v%d", version), func(t *testing.T) {
			t.Parallel()

			keep := testutil.Content(2, 9000)
			secret := testutil.RIFF(3, 7000)
			a, mem := newArchive(t, WithFormatVersion(version), WithMaxFiles(32))
			require.NoError(t, a.AddFile("gone.bin", testutil.Content(1, 20000)))
			require.NoError(t, a.AddFile("keep.bin", keep, AddWithEncryption(true)))
			require.NoError(t, a.AddFile("secret.wav", secret, AddWithFixKey(true), AddWithSectorCRC(true)))
			require.NoError(t, a.AddFile("replaced.txt", []byte("first")))
			require.NoError(t, a.AddFile("replaced.txt", []byte("second"), AddWithReplace(true)))
			require.NoError(t, a.Remove("gone.bin"))
			require.NoError(t, a.Flush())

			before := mem.Size()
			moved := storedAt(t, a, "secret.wav")
			require.NoError(t, a.Compact(t.Context()))
			assert.Less(t, mem.Size(), before)
			assert.Less(t, storedAt(t, a, "secret.wav"), moved)
			assert.Equal(t, 5, a.Info().Files)
			assert.Equal(t, 5, a.Info().BlockTableSize, "deleted entries are dropped")

			check := func(b *Archive) {
				t.Helper()
				for name, want := range map[string][]byte{
					"keep.bin":     keep,
					"secret.wav":   secret,
					"replaced.txt": []byte("second"),
				} {
					got, err := b.ReadFile(name)
					require.NoError(t, err, name)
					assert.True(t, bytes.Equal(want, got), name)
					require.NoError(t, b.Verify(name), name)
				}
				assert.False(t, b.HasFile("gone.bin"))
			}
			check(a)

			b, err := OpenStream(stream.NewMemory(mem.Bytes()))
			require.NoError(t, err)
			defer b.Close()
			check(b)
			assert.Contains(t, b.Names(), "secret.wav")
		})
	}
}

func TestCompactKeepsPrefix(t *testing.T) {
	t.Parallel()

	a, mem := newArchive(t, WithFormatVersion(2))
	require.NoError(t, a.AddFile("a.txt", []byte("alpha")))
	require.NoError(t, a.AddFile("b.txt", testutil.Content(2, 9000)))
	require.NoError(t, a.Flush())

	prefix := bytes.Repeat([]byte{0x5A}, 1024)
	host := stream.NewMemory(append(bytes.Clone(prefix), mem.Bytes()...))
	b, err := OpenStream(host)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Remove("b.txt"))
	require.NoError(t, b.Compact(t.Context()))

	raw := host.Bytes()
	assert.Equal(t, prefix, raw[:1024])
	c, err := OpenStream(stream.NewMemory(raw))
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, uint64(1024), c.Info().Offset)
	got, err := c.ReadFile("a.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("alpha"), got)
	assert.False(t, c.HasFile("b.txt"))
}

func TestCompactCanceled(t *testing.T) {
	t.Parallel()

	a, mem := newArchive(t)
	require.NoError(t, a.AddFile("a.txt", []byte("alpha")))
	require.NoError(t, a.Flush())
	before := mem.Bytes()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.ErrorIs(t, a.Compact(ctx), context.Canceled)

	assert.Equal(t, before, mem.Bytes(), "archive untouched")
	got, err := a.ReadFile("a.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("alpha"), got)
	require.NoError(t, a.AddFile("b.txt", []byte("beta")))
}
