package mpq

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/mpq/internal/testutil"
)

func TestOpenFile(t *testing.T) {
	t.Parallel()

	data := testutil.Content(1, 10000)
	a, mem := newArchive(t, WithSectorSizeShift(0))
	require.NoError(t, a.AddFile(`units\human\footman.mdx`, data, AddWithEncryption(true)))
	b := reopen(t, a, mem)

	f, err := b.OpenFile(`units\human\footman.mdx`)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, int64(len(data)), f.Size())

	buf := make([]byte, 10)
	_, err = f.Seek(1000, io.SeekStart)
	require.NoError(t, err)
	_, err = io.ReadFull(f, buf)
	require.NoError(t, err)
	assert.Equal(t, data[1000:1010], buf)

	n, err := f.ReadAt(buf, 4090)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, data[4090:4100], buf, "read across a sector boundary")

	n, err = f.ReadAt(nil, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = f.ReadAt([]byte{}, int64(len(data)-1))
	require.NoError(t, err)
	assert.Zero(t, n)

	pos, err := f.Seek(-5, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)-5), pos)
	rest, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, data[len(data)-5:], rest)

	_, err = f.Seek(0, io.SeekStart)
	require.NoError(t, err)
	all, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, data, all)

	_, err = f.Seek(-1, io.SeekStart)
	require.ErrorIs(t, err, fs.ErrInvalid)

	info, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, "footman.mdx", info.Name())
	assert.Equal(t, int64(len(data)), info.Size())
	assert.False(t, info.IsDir())
	entry, ok := info.Sys().(Entry)
	require.True(t, ok)
	assert.True(t, entry.Encrypted())
	assert.True(t, entry.Compressed())

	require.NoError(t, f.Close())
	require.ErrorIs(t, f.Close(), fs.ErrClosed)
	_, err = f.Read(buf)
	require.ErrorIs(t, err, fs.ErrClosed)
}

func TestFS(t *testing.T) {
	t.Parallel()

	a, mem := newArchive(t)
	require.NoError(t, a.AddFile(`scripts\war3map.j`, []byte("function main")))
	b := reopen(t, a, mem)

	var fsys fs.FS = b
	got, err := fs.ReadFile(fsys, "scripts/war3map.j")
	require.NoError(t, err)
	assert.Equal(t, []byte("function main"), got)

	info, err := fs.Stat(fsys, "scripts/war3map.j")
	require.NoError(t, err)
	assert.Equal(t, "war3map.j", info.Name())
	assert.Equal(t, int64(13), info.Size())
	assert.Equal(t, fs.FileMode(0o444), info.Mode())

	f, err := fsys.Open("scripts/war3map.j")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = fs.ReadFile(fsys, "scripts/missing.j")
	require.ErrorIs(t, err, fs.ErrNotExist)
	require.ErrorIs(t, err, ErrNotFound)

	for _, bad := range []string{"/abs", "../up", "."} {
		_, err := fsys.Open(bad)
		require.ErrorIs(t, err, fs.ErrInvalid, bad)
	}
}

func TestOpenFileOnDisk(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "test.mpq")
	a, err := Create(path, WithFormatVersion(3))
	require.NoError(t, err)
	require.NoError(t, a.AddFile("a.txt", []byte("alpha")))
	require.NoError(t, a.AddFile("b.txt", testutil.Content(2, 50000), AddWithFixKey(true)))
	require.NoError(t, a.Close())

	b, err := Open(path, WithReadOnly(true))
	require.NoError(t, err)
	got, err := b.ReadFile("a.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("alpha"), got)
	got, err = b.ReadFile("b.txt")
	require.NoError(t, err)
	assert.Equal(t, testutil.Content(2, 50000), got)
	require.NoError(t, b.Close())

	c, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, c.Remove("a.txt"))
	require.NoError(t, c.Close())

	d, err := Open(path, WithReadOnly(true))
	require.NoError(t, err)
	defer d.Close()
	assert.False(t, d.HasFile("a.txt"))
	assert.True(t, d.HasFile("b.txt"))
}

func TestOpenMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Open(filepath.Join(t.TempDir(), "missing.mpq"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
