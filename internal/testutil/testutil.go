// Package testutil holds helpers shared by archive tests.
package testutil

import (
	"encoding/binary"
	"fmt"
	"io"
	"math/rand/v2"
	"sync/atomic"
)

// MockByteSource implements a read-only stream over an in-memory slice. It
// deliberately lacks write methods so archives opened over it are
// read-only.
type MockByteSource struct {
	data  []byte
	reads atomic.Int64
}

// NewMockByteSource returns a byte source backed by the provided data.
func NewMockByteSource(data []byte) *MockByteSource {
	return &MockByteSource{data: data}
}

// ReadAt implements io.ReaderAt semantics over the backing slice.
func (m *MockByteSource) ReadAt(p []byte, off int64) (int, error) {
	m.reads.Add(1)
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the total size of the backing data.
func (m *MockByteSource) Size() int64 {
	return int64(len(m.data))
}

// SourceID identifies the source by its length.
func (m *MockByteSource) SourceID() string {
	return fmt.Sprintf("mock:%d", len(m.data))
}

// Close is a no-op.
func (m *MockByteSource) Close() error {
	return nil
}

// Bytes returns the backing slice for tests that need to mutate data.
func (m *MockByteSource) Bytes() []byte {
	return m.data
}

// Reads returns the number of ReadAt calls so far.
func (m *MockByteSource) Reads() int64 {
	return m.reads.Load()
}

// Content returns n bytes of deterministic, moderately compressible data.
func Content(seed uint64, n int) []byte {
	r := rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15)) //nolint:gosec // test data
	words := []string{"footman", "peon", "grunt", "archer", "ghoul", "wisp", "acolyte", "knight"}
	out := make([]byte, 0, n+16)
	for len(out) < n {
		out = append(out, words[r.IntN(len(words))]...)
		out = append(out, ' ')
		if r.IntN(8) == 0 {
			out = binary.LittleEndian.AppendUint32(out, r.Uint32())
		}
	}
	return out[:n]
}

// Random returns n bytes of incompressible data.
func Random(seed uint64, n int) []byte {
	r := rand.New(rand.NewPCG(seed, ^seed)) //nolint:gosec // test data
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(r.Uint32())
	}
	return out
}

// RIFF returns n bytes of content that starts with a RIFF header, so that
// an encrypted copy has a recognizable first sector.
func RIFF(seed uint64, n int) []byte {
	out := Content(seed, max(n, 12))
	copy(out, "RIFF")
	binary.LittleEndian.PutUint32(out[4:], uint32(len(out)-8)) //nolint:gosec // test sizes
	copy(out[8:], "WAVE")
	return out[:max(n, 12)]
}

// Flip returns a copy of data with the byte at off inverted.
func Flip(data []byte, off int) []byte {
	out := append([]byte(nil), data...)
	out[off] ^= 0xFF
	return out
}
