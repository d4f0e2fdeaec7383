//go:build !unix

package stream

import "os"

// Mapped falls back to an in-memory copy where mmap is unavailable.
type Mapped struct {
	m *Memory
}

// OpenMapped reads the whole file at path.
func OpenMapped(path string) (*Mapped, error) {
	data, err := os.ReadFile(path) //nolint:gosec // caller-chosen archive path
	if err != nil {
		return nil, err
	}
	return &Mapped{m: &Memory{data: data}}, nil
}

// ReadAt implements io.ReaderAt.
func (m *Mapped) ReadAt(p []byte, off int64) (int, error) { return m.m.ReadAt(p, off) }

// Size returns the file size.
func (m *Mapped) Size() int64 { return m.m.Size() }

// SourceID returns the content digest of the file.
func (m *Mapped) SourceID() string { return m.m.SourceID() }

// Close releases the copy.
func (m *Mapped) Close() error { return m.m.Close() }
