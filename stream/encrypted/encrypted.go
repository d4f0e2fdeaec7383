// Package encrypted provides a stream whose stored bytes are XORed with a
// Salsa20 keystream. Any byte position can be decrypted independently, so
// the archive above it keeps its random access.
package encrypted

import (
	"encoding/binary"
	"fmt"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/salsa20/salsa"

	"github.com/meigma/mpq/stream"
)

const blockSize = 64

// Key is a 256-bit Salsa20 key.
type Key [32]byte

// Nonce distinguishes containers encrypted under the same key.
type Nonce [8]byte

// KeyFromPassphrase derives a key from a passphrase.
func KeyFromPassphrase(passphrase string) Key {
	var k Key
	blake3.DeriveKey("mpq encrypted container v1", []byte(passphrase), k[:])
	return k
}

// cipher applies the keystream at arbitrary offsets.
type cipher struct {
	key   Key
	nonce Nonce
}

// xor transforms p in place as if it were stored at off.
func (c *cipher) xor(p []byte, off int64) {
	var counter [16]byte
	copy(counter[:8], c.nonce[:])
	key := [32]byte(c.key)

	block := uint64(off) / blockSize //nolint:gosec // callers reject negative offsets
	skip := int(uint64(off) % blockSize)
	buf := make([]byte, blockSize)
	for len(p) > 0 {
		binary.LittleEndian.PutUint64(counter[8:], block)
		n := min(blockSize-skip, len(p))
		clear(buf)
		copy(buf[skip:], p[:n])
		salsa.XORKeyStream(buf, buf, &counter, &key)
		copy(p[:n], buf[skip:skip+n])
		p = p[n:]
		block++
		skip = 0
	}
}

// Stream decrypts an underlying stream on read.
type Stream struct {
	inner stream.Stream
	c     cipher
}

// New wraps inner for reading.
func New(inner stream.Stream, key Key, nonce Nonce) *Stream {
	return &Stream{inner: inner, c: cipher{key: key, nonce: nonce}}
}

// ReadAt implements io.ReaderAt.
func (s *Stream) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	n, err := s.inner.ReadAt(p, off)
	s.c.xor(p[:n], off)
	return n, err
}

// Size returns the size of the underlying stream.
func (s *Stream) Size() int64 {
	return s.inner.Size()
}

// SourceID identifies the plaintext view of the underlying stream.
func (s *Stream) SourceID() string {
	return fmt.Sprintf("salsa20:%x|%s", s.c.nonce, s.inner.SourceID())
}

// Close closes the underlying stream.
func (s *Stream) Close() error {
	return s.inner.Close()
}

// Writable encrypts on write and decrypts on read.
type Writable struct {
	Stream
	w stream.Writable
}

// NewWritable wraps inner for reading and writing.
func NewWritable(inner stream.Writable, key Key, nonce Nonce) *Writable {
	return &Writable{Stream: Stream{inner: inner, c: cipher{key: key, nonce: nonce}}, w: inner}
}

// WriteAt implements io.WriterAt.
func (s *Writable) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("write at %d: negative offset", off)
	}
	enc := append([]byte(nil), p...)
	s.c.xor(enc, off)
	return s.w.WriteAt(enc, off)
}

// SetSize truncates or extends the underlying stream. Extended bytes read
// back as keystream, not zeros.
func (s *Writable) SetSize(size int64) error {
	return s.w.SetSize(size)
}

// NewTemp wraps a temporary stream of the underlying kind with the same
// key and nonce.
func (s *Writable) NewTemp() (stream.Writable, error) {
	tmp, err := s.w.NewTemp()
	if err != nil {
		return nil, err
	}
	return NewWritable(tmp, s.c.key, s.c.nonce), nil
}

// SwitchAtomic switches in the underlying stream of tmp.
func (s *Writable) SwitchAtomic(tmp stream.Writable) error {
	other, ok := tmp.(*Writable)
	if !ok {
		return stream.ErrMismatch
	}
	return s.w.SwitchAtomic(other.w)
}

var (
	_ stream.Stream   = (*Stream)(nil)
	_ stream.Writable = (*Writable)(nil)
)
