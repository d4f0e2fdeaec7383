//go:build unix

package stream

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

// Mapped is a read-only stream over a memory-mapped file.
type Mapped struct {
	mu   sync.RWMutex
	data []byte
	id   string
	done bool
}

// OpenMapped maps the file at path into memory.
func OpenMapped(path string) (*Mapped, error) {
	f, err := os.Open(path) //nolint:gosec // caller-chosen archive path
	if err != nil {
		return nil, err
	}
	defer f.Close() // the mapping keeps the pages alive

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	abs, _ := filepath.Abs(path)
	m := &Mapped{id: fmt.Sprintf("mmap:%s|size:%d|mod:%d", abs, size, info.ModTime().UnixNano())}
	if size == 0 {
		m.data = []byte{}
		return m, nil
	}
	if size > int64(^uint(0)>>1) {
		return nil, fmt.Errorf("map %s: file too large (%d bytes)", path, size)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("map %s: %w", path, err)
	}
	m.data = data
	return m, nil
}

// ReadAt implements io.ReaderAt.
func (m *Mapped) ReadAt(p []byte, off int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.done {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	n, err := clip(len(p), off, int64(len(m.data)))
	copy(p[:n], m.data[min(off, int64(len(m.data))):])
	return n, err
}

// Size returns the mapped length.
func (m *Mapped) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.data))
}

// SourceID identifies the file by path, size and modification time.
func (m *Mapped) SourceID() string {
	return m.id
}

// Close unmaps the file.
func (m *Mapped) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done {
		return nil
	}
	m.done = true
	data := m.data
	m.data = nil
	if len(data) == 0 {
		return nil
	}
	if err := unix.Munmap(data); err != nil && !errors.Is(err, unix.EINVAL) {
		return err
	}
	return nil
}
