package stream

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// File is a stream over a local file.
type File struct {
	mu       sync.RWMutex
	f        *os.File
	path     string
	size     int64
	writable bool
	id       string
}

// OpenFile opens path for reading.
func OpenFile(path string) (*File, error) {
	return openFile(path, os.O_RDONLY, false)
}

// OpenFileRW opens an existing file for reading and writing.
func OpenFileRW(path string) (*File, error) {
	return openFile(path, os.O_RDWR, true)
}

// CreateFile creates or truncates path for reading and writing. Parent
// directories are created as needed.
func CreateFile(path string) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	return openFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, true)
}

func openFile(path string, flag int, writable bool) (*File, error) {
	f, err := os.OpenFile(path, flag, 0o644) //nolint:gosec // caller-chosen archive path
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("open %s: is a directory", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return &File{
		f:        f,
		path:     abs,
		size:     info.Size(),
		writable: writable,
		id:       fmt.Sprintf("file:%s|size:%d|mod:%d", abs, info.Size(), info.ModTime().UnixNano()),
	}, nil
}

// Path returns the absolute path of the file.
func (s *File) Path() string {
	return s.path
}

// ReadAt implements io.ReaderAt.
func (s *File) ReadAt(p []byte, off int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.f == nil {
		return 0, ErrClosed
	}
	return s.f.ReadAt(p, off)
}

// WriteAt implements io.WriterAt.
func (s *File) WriteAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return 0, ErrClosed
	}
	if !s.writable {
		return 0, ErrReadOnly
	}
	n, err := s.f.WriteAt(p, off)
	if end := off + int64(n); end > s.size {
		s.size = end
	}
	return n, err
}

// Size returns the file size.
func (s *File) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// SetSize truncates or extends the file.
func (s *File) SetSize(size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	if !s.writable {
		return ErrReadOnly
	}
	if err := s.f.Truncate(size); err != nil {
		return err
	}
	s.size = size
	return nil
}

// SourceID identifies the file by path, size and modification time at open.
func (s *File) SourceID() string {
	return s.id
}

// NewTemp creates a hidden temporary file next to s.
func (s *File) NewTemp() (Writable, error) {
	f, err := os.CreateTemp(filepath.Dir(s.path), ".mpq-*")
	if err != nil {
		return nil, err
	}
	return &File{f: f, path: f.Name(), writable: true, id: "file:" + f.Name()}, nil
}

// SwitchAtomic renames tmp over s and continues with tmp's handle. tmp must
// be a *File created by NewTemp.
func (s *File) SwitchAtomic(tmp Writable) error {
	src, ok := tmp.(*File)
	if !ok {
		return ErrMismatch
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	if !s.writable {
		return ErrReadOnly
	}

	src.mu.Lock()
	defer src.mu.Unlock()
	if src.f == nil {
		return ErrClosed
	}
	if err := src.f.Sync(); err != nil {
		return err
	}
	if err := os.Rename(src.path, s.path); err != nil {
		return err
	}
	closeErr := s.f.Close()
	s.f, s.size = src.f, src.size
	s.id = fmt.Sprintf("file:%s|size:%d|switched:%p", s.path, s.size, src.f)
	src.f = nil
	return closeErr
}

// Close closes the file. Closing twice is a no-op.
func (s *File) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}

// Discard closes and removes a temporary stream that was never switched in.
func Discard(tmp Writable) {
	if f, ok := tmp.(*File); ok {
		path := f.path
		_ = f.Close()
		_ = os.Remove(path)
		return
	}
	_ = tmp.Close()
}

var (
	_ Writable = (*File)(nil)
	_ Writable = (*Memory)(nil)
)
