package mpq

import (
	"bytes"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/mpq/internal/patch"
	"github.com/meigma/mpq/internal/testutil"
)

func TestPatchChain(t *testing.T) {
	t.Parallel()

	const name = `data\file.txt`
	v1 := testutil.Content(1, 3000)
	v2 := testutil.Content(2, 2500)
	v3 := append(append([]byte(nil), v2...), "+appended"...)

	base, _ := newArchive(t)
	require.NoError(t, base.AddFile(name, v1))

	p1, _ := newArchive(t)
	copyPatch := patch.NewCopy(v1, v2)
	require.NoError(t, p1.AddFile(name, copyPatch, AddAsPatch()))

	p2, _ := newArchive(t, WithPatchPrefix("enUS"))
	diff, err := patch.NewDiff(v2,
		[]patch.Control{{Add: uint32(len(v2)), Extra: uint32(len("+appended"))}}, //nolint:gosec // test sizes
		make([]byte, len(v2)),
		[]byte("+appended"),
	)
	require.NoError(t, err)
	require.NoError(t, p2.AddFile(`enUS\`+name, diff, AddAsPatch()))
	require.NoError(t, p2.AddFile(`enUS\data\new.txt`, []byte("only in the patch")))

	require.NoError(t, base.AttachPatch(p1, ""))
	got, err := base.ReadFile("data/file.txt")
	require.NoError(t, err)
	assert.Equal(t, v2, got)

	require.NoError(t, base.AttachPatch(p2, ""))
	got, err = base.ReadFile("data/file.txt")
	require.NoError(t, err)
	assert.True(t, bytes.Equal(v3, got))

	f, err := base.OpenFile(name)
	require.NoError(t, err)
	defer f.Close()
	info, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(len(v3)), info.Size())
	assert.False(t, info.Sys().(Entry).Patch())

	assert.True(t, base.HasFile(`data\new.txt`))
	got, err = base.ReadFile("data/new.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("only in the patch"), got)

	// The patch archive alone holds no base version.
	_, err = p1.ReadFile("data/file.txt")
	require.ErrorIs(t, err, ErrNotSupported)
	raw, err := p1.ReadPatchFile(name)
	require.NoError(t, err)
	assert.Equal(t, copyPatch, raw)
	require.NoError(t, p1.Verify(name))

	_, err = base.ReadPatchFile(name)
	require.ErrorIs(t, err, ErrFormat)
}

func TestPatchChainMismatch(t *testing.T) {
	t.Parallel()

	const name = "war3map.j"
	base, _ := newArchive(t)
	require.NoError(t, base.AddFile(name, []byte("original")))

	p, _ := newArchive(t)
	require.NoError(t, p.AddFile(name, patch.NewCopy([]byte("something else"), []byte("patched")), AddAsPatch()))
	require.NoError(t, base.AttachPatch(p, ""))

	_, err := base.ReadFile(name)
	require.ErrorIs(t, err, ErrCorrupt)
	_, err = base.OpenFile(name)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestPatchChainPicksEarlierVersion(t *testing.T) {
	t.Parallel()

	const name = "units.slk"
	v1, v2, v3 := []byte("one"), []byte("two"), []byte("three")

	base, _ := newArchive(t)
	require.NoError(t, base.AddFile(name, v1))
	p1, _ := newArchive(t)
	require.NoError(t, p1.AddFile(name, patch.NewCopy(v1, v2), AddAsPatch()))
	// The second patch targets the base rather than the first result.
	p2, _ := newArchive(t)
	require.NoError(t, p2.AddFile(name, patch.NewCopy(v1, v3), AddAsPatch()))

	require.NoError(t, base.AttachPatch(p1, ""))
	require.NoError(t, base.AttachPatch(p2, ""))
	got, err := base.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, v3, got)
}

func TestAttachPatchErrors(t *testing.T) {
	t.Parallel()

	a, _ := newArchive(t)
	require.ErrorIs(t, a.AttachPatch(a, ""), ErrNotSupported)

	p, _ := newArchive(t)
	require.NoError(t, p.Close())
	require.ErrorIs(t, a.AttachPatch(p, ""), fs.ErrClosed)

	require.ErrorIs(t, a.AddFile("bad.patch", []byte("not a patch"), AddAsPatch()), ErrFormat)
}
