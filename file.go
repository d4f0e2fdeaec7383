package mpq

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/meigma/mpq/internal/format"
	"github.com/meigma/mpq/internal/mpqtype"
)

// File is an open archive file. It implements fs.File, io.Seeker and
// io.ReaderAt. A File is not safe for concurrent use.
type File struct {
	r      io.ReaderAt
	size   int64
	off    int64
	info   fileInfo
	closed bool
}

// Read implements io.Reader.
func (f *File) Read(p []byte) (int, error) {
	if f.closed {
		return 0, fs.ErrClosed
	}
	if f.off >= f.size {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	p = p[:min(int64(len(p)), f.size-f.off)]
	n, err := f.r.ReadAt(p, f.off)
	f.off += int64(n)
	if errors.Is(err, io.EOF) && n == len(p) {
		err = nil
	}
	return n, err
}

// ReadAt implements io.ReaderAt. Only the sectors covering the range are
// decoded.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if f.closed {
		return 0, fs.ErrClosed
	}
	if off < 0 {
		return 0, fmt.Errorf("read at %d: %w", off, fs.ErrInvalid)
	}
	return f.r.ReadAt(p, off)
}

// Seek implements io.Seeker.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if f.closed {
		return 0, fs.ErrClosed
	}
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = f.off + offset
	case io.SeekEnd:
		abs = f.size + offset
	default:
		return 0, fmt.Errorf("seek whence %d: %w", whence, fs.ErrInvalid)
	}
	if abs < 0 {
		return 0, fmt.Errorf("seek to %d: %w", abs, fs.ErrInvalid)
	}
	f.off = abs
	return abs, nil
}

// Stat implements fs.File.
func (f *File) Stat() (fs.FileInfo, error) {
	info := f.info
	return &info, nil
}

// Size returns the decoded size of the file.
func (f *File) Size() int64 {
	return f.size
}

// Close implements fs.File.
func (f *File) Close() error {
	if f.closed {
		return fs.ErrClosed
	}
	f.closed = true
	return nil
}

// archiveName validates an fs path and maps it to an archive name.
func archiveName(op, name string) (string, error) {
	if !fs.ValidPath(name) || name == "." {
		return "", &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
	}
	return strings.ReplaceAll(name, "/", `\`), nil
}

// OpenFile opens the named file for reading. name may use either path
// separator. Files with patches in attached archives are patched in memory;
// other files are decoded on demand.
func (a *Archive) OpenFile(name string) (*File, error) {
	f, err := a.openFile(name)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	return f, nil
}

func (a *Archive) openFile(name string) (*File, error) {
	if a.patchedName(name) {
		data, entry, err := a.readPatched(name)
		if err != nil {
			return nil, err
		}
		size := int64(len(data))
		return &File{r: bytes.NewReader(data), size: size, info: fileInfo{entry: entry, size: size}}, nil
	}

	ord, err := a.lookup(name)
	if err != nil {
		return nil, err
	}
	e := &a.table.Entries[ord]
	if e.Has(format.FlagPatchFile) {
		return nil, fmt.Errorf("patch file without a base version: %w", mpqtype.ErrNotSupported)
	}
	r, err := a.sectorReader(e)
	if err != nil {
		return nil, err
	}
	return &File{r: r, size: r.Size(), info: fileInfo{entry: a.entry(ord), size: r.Size()}}, nil
}

// Open implements fs.FS. Slash-separated paths map to backslash-separated
// archive names.
func (a *Archive) Open(name string) (fs.File, error) {
	key, err := archiveName("open", name)
	if err != nil {
		return nil, err
	}
	f, err := a.openFile(key)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	return f, nil
}

// Stat implements fs.StatFS.
func (a *Archive) Stat(name string) (fs.FileInfo, error) {
	key, err := archiveName("stat", name)
	if err != nil {
		return nil, err
	}
	f, err := a.openFile(key)
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
	}
	return f.Stat()
}

// ReadFile implements fs.ReadFileFS.
//
// ReadFile decodes the named file, replaying patches from attached patch
// archives. Sector checksums are verified unless disabled with
// WithVerifySectors. name must be a valid fs path, so stored names that are
// not UTF-8 are reached through OpenFile or a name encoding.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	key, err := archiveName("read", name)
	if err != nil {
		return nil, err
	}
	data, err := a.readFile(key)
	if err != nil {
		return nil, &fs.PathError{Op: "read", Path: name, Err: err}
	}
	return data, nil
}

func (a *Archive) readFile(name string) ([]byte, error) {
	if a.patchedName(name) {
		data, _, err := a.readPatched(name)
		return data, err
	}
	ord, err := a.lookup(name)
	if err != nil {
		return nil, err
	}
	if a.table.Entries[ord].Has(format.FlagPatchFile) {
		return nil, fmt.Errorf("patch file without a base version: %w", mpqtype.ErrNotSupported)
	}
	return a.readEntry(ord)
}

// ReadPatchFile returns the raw patch container stored under name in this
// archive, without applying it.
func (a *Archive) ReadPatchFile(name string) ([]byte, error) {
	ord, err := a.lookup(name)
	if err == nil && !a.table.Entries[ord].Has(format.FlagPatchFile) {
		err = fmt.Errorf("not a patch file: %w", mpqtype.ErrFormat)
	}
	if err != nil {
		return nil, &fs.PathError{Op: "read", Path: name, Err: err}
	}
	data, err := a.readEntry(ord)
	if err != nil {
		return nil, &fs.PathError{Op: "read", Path: name, Err: err}
	}
	return data, nil
}
