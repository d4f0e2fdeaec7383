package stream

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	t.Parallel()

	m := NewMemory([]byte("hello"))
	buf := make([]byte, 3)
	n, err := m.ReadAt(buf, 1)
	require.NoError(t, err)
	assert.Equal(t, "ell", string(buf[:n]))

	n, err = m.ReadAt(buf, 3)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "lo", string(buf[:n]))

	_, err = m.WriteAt([]byte("!!"), 8)
	require.NoError(t, err)
	assert.Equal(t, "hello\x00\x00\x00!!", string(m.Bytes()))

	require.NoError(t, m.SetSize(4))
	require.NoError(t, m.SetSize(6))
	assert.Equal(t, "hell\x00\x00", string(m.Bytes()))
}

func TestMemorySourceID(t *testing.T) {
	t.Parallel()

	a := NewMemory([]byte("same"))
	b := NewMemory([]byte("same"))
	c := NewMemory([]byte("other"))
	assert.Equal(t, a.SourceID(), b.SourceID())
	assert.NotEqual(t, a.SourceID(), c.SourceID())
	assert.Contains(t, a.SourceID(), "sha256:")
}

func TestMemorySwitchAtomic(t *testing.T) {
	t.Parallel()

	m := NewMemory([]byte("old contents"))
	tmp, err := m.NewTemp()
	require.NoError(t, err)
	_, err = tmp.WriteAt([]byte("new"), 0)
	require.NoError(t, err)

	require.NoError(t, m.SwitchAtomic(tmp))
	assert.Equal(t, "new", string(m.Bytes()))
	_, err = tmp.ReadAt(make([]byte, 1), 0)
	assert.ErrorIs(t, err, ErrClosed)

	assert.ErrorIs(t, m.SwitchAtomic(&File{}), ErrMismatch)
}

func TestFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sub", "archive.mpq")
	f, err := CreateFile(path)
	require.NoError(t, err)

	_, err = f.WriteAt([]byte("abcdef"), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(6), f.Size())

	buf := make([]byte, 4)
	n, err := f.ReadAt(buf, 4)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "ef", string(buf[:n]))

	require.NoError(t, f.SetSize(3))
	assert.Equal(t, int64(3), f.Size())
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())

	ro, err := OpenFile(path)
	require.NoError(t, err)
	defer ro.Close()
	assert.Equal(t, int64(3), ro.Size())
	_, err = ro.WriteAt([]byte("x"), 0)
	assert.ErrorIs(t, err, ErrReadOnly)
	assert.NotEmpty(t, ro.SourceID())
}

func TestFileSwitchAtomic(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "archive.mpq")
	require.NoError(t, os.WriteFile(path, []byte("old contents"), 0o644))

	f, err := OpenFileRW(path)
	require.NoError(t, err)
	defer f.Close()

	tmp, err := f.NewTemp()
	require.NoError(t, err)
	_, err = tmp.WriteAt([]byte("compacted"), 0)
	require.NoError(t, err)
	require.NoError(t, f.SwitchAtomic(tmp))
	Discard(tmp)

	assert.Equal(t, int64(9), f.Size())
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "compacted", string(got))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileDiscard(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "archive.mpq")
	f, err := CreateFile(path)
	require.NoError(t, err)
	defer f.Close()

	tmp, err := f.NewTemp()
	require.NoError(t, err)
	Discard(tmp)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestMapped(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "archive.mpq")
	require.NoError(t, os.WriteFile(path, []byte("mapped bytes"), 0o644))

	m, err := OpenMapped(path)
	require.NoError(t, err)
	assert.Equal(t, int64(12), m.Size())
	_, writable := any(m).(Writable)
	assert.False(t, writable)

	buf := make([]byte, 5)
	_, err = m.ReadAt(buf, 7)
	require.NoError(t, err)
	assert.Equal(t, "bytes", string(buf))
	require.NoError(t, m.Close())
}
