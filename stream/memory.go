package stream

import (
	"fmt"
	"sync"

	"github.com/opencontainers/go-digest"
)

// Memory is a growable in-memory stream.
type Memory struct {
	mu     sync.RWMutex
	data   []byte
	closed bool
}

// NewMemory returns a stream over a copy of data.
func NewMemory(data []byte) *Memory {
	return &Memory{data: append([]byte(nil), data...)}
}

// ReadAt implements io.ReaderAt.
func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	n, err := clip(len(p), off, int64(len(m.data)))
	copy(p[:n], m.data[min(off, int64(len(m.data))):])
	return n, err
}

// WriteAt implements io.WriterAt, growing the buffer as needed.
func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, fmt.Errorf("write at %d: negative offset", off)
	}
	if end := off + int64(len(p)); end > int64(len(m.data)) {
		m.grow(end)
	}
	return copy(m.data[off:], p), nil
}

// grow extends the buffer to size, zeroing the new tail.
func (m *Memory) grow(size int64) {
	old := len(m.data)
	if size > int64(cap(m.data)) {
		buf := make([]byte, old, max(size, 2*int64(cap(m.data))))
		copy(buf, m.data)
		m.data = buf
	}
	m.data = m.data[:size]
	clear(m.data[old:])
}

// Size returns the current buffer length.
func (m *Memory) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.data))
}

// SetSize truncates or zero-extends the buffer.
func (m *Memory) SetSize(size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if size < 0 {
		return fmt.Errorf("set size %d: negative size", size)
	}
	if size <= int64(len(m.data)) {
		m.data = m.data[:size]
		return nil
	}
	m.grow(size)
	return nil
}

// SourceID returns the content digest of the buffer.
func (m *Memory) SourceID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return "memory:" + digest.FromBytes(m.data).String()
}

// Bytes returns a copy of the buffer.
func (m *Memory) Bytes() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]byte(nil), m.data...)
}

// NewTemp returns an empty Memory.
func (m *Memory) NewTemp() (Writable, error) {
	return &Memory{}, nil
}

// SwitchAtomic takes over the buffer of tmp, which must be a *Memory.
func (m *Memory) SwitchAtomic(tmp Writable) error {
	src, ok := tmp.(*Memory)
	if !ok {
		return ErrMismatch
	}
	src.mu.Lock()
	data := src.data
	src.data, src.closed = nil, true
	src.mu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.data = data
	return nil
}

// Close releases the buffer.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data, m.closed = nil, true
	return nil
}
