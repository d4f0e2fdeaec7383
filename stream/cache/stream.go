package cache

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/meigma/mpq/internal/bits"
	"github.com/meigma/mpq/stream"
)

// DefaultBlockSize is the default size of a cached block.
const DefaultBlockSize int64 = 64 << 10

// DefaultMaxBlocksPerRead caps the blocks cached for one ReadAt. Larger
// reads go straight to the source.
const DefaultMaxBlocksPerRead = 16

// WrapConfig controls how a stream is wrapped.
type WrapConfig struct {
	// BlockSize is the size in bytes of each cached block.
	BlockSize int64

	// MaxBlocksPerRead is the largest number of blocks one ReadAt may
	// pull through the cache. Use 0 to disable the limit.
	MaxBlocksPerRead int
}

// WrapOption configures wrapping.
type WrapOption func(*WrapConfig)

// WithBlockSize sets the block size used for caching.
func WithBlockSize(n int64) WrapOption {
	return func(c *WrapConfig) {
		c.BlockSize = n
	}
}

// WithMaxBlocksPerRead sets the per-read block limit.
func WithMaxBlocksPerRead(n int) WrapOption {
	return func(c *WrapConfig) {
		c.MaxBlocksPerRead = n
	}
}

// Stream is a stream.Stream whose reads are served from the cache where
// the presence bitmap says a block is stored.
type Stream struct {
	src              stream.Stream
	cache            *Cache
	sourceID         string
	size             int64
	blockSize        int64
	maxBlocksPerRead int
	manifestPath     string

	mu      sync.Mutex
	present []byte
	dirty   bool
}

// Wrap returns a stream that caches reads of src in fixed-size blocks. A
// bitmap saved by an earlier Stream over the same source is reused.
func (c *Cache) Wrap(src stream.Stream, opts ...WrapOption) (*Stream, error) {
	if src == nil {
		return nil, errors.New("block cache: source is nil")
	}
	cfg := WrapConfig{BlockSize: DefaultBlockSize, MaxBlocksPerRead: DefaultMaxBlocksPerRead}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BlockSize <= 0 || cfg.BlockSize > math.MaxInt32 {
		return nil, fmt.Errorf("block cache: block size %d out of range", cfg.BlockSize)
	}
	if cfg.MaxBlocksPerRead < 0 {
		return nil, errors.New("block cache: max blocks per read must be >= 0")
	}
	sourceID := src.SourceID()
	if sourceID == "" {
		return nil, errors.New("block cache: source id is empty")
	}

	size := src.Size()
	blocks := (size + cfg.BlockSize - 1) / cfg.BlockSize
	s := &Stream{
		src:              src,
		cache:            c,
		sourceID:         sourceID,
		size:             size,
		blockSize:        cfg.BlockSize,
		maxBlocksPerRead: cfg.MaxBlocksPerRead,
		manifestPath:     c.manifestPath(sourceID, cfg.BlockSize),
		present:          make([]byte, bits.Bytes(uint64(blocks))),
	}

	m, err := loadManifest(s.manifestPath)
	if err != nil {
		c.logger.Debug("ignoring unreadable cache manifest", "path", s.manifestPath, "error", err)
	}
	if m != nil && m.SourceID == sourceID && m.Size == size && m.BlockSize == cfg.BlockSize && len(m.Present) == len(s.present) {
		copy(s.present, m.Present)
	}
	return s, nil
}

// Size returns the size of the source.
func (s *Stream) Size() int64 {
	return s.size
}

// SourceID returns the source's identifier.
func (s *Stream) SourceID() string {
	return s.sourceID
}

// Cached reports how many blocks are marked present.
func (s *Stream) Cached() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range uint64(len(s.present)) * 8 {
		n += int(bits.Get(s.present, i, 1))
	}
	return n
}

func (s *Stream) has(block int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bits.Get(s.present, uint64(block), 1) == 1
}

func (s *Stream) mark(block int64, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var bit uint64
	if v {
		bit = 1
	}
	if bits.Get(s.present, uint64(block), 1) != bit {
		bits.Set(s.present, uint64(block), 1, bit)
		s.dirty = true
	}
}

// ReadAt implements io.ReaderAt.
func (s *Stream) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	if off >= s.size {
		return 0, io.EOF
	}
	expected := min(int64(len(p)), s.size-off)

	startBlock := off / s.blockSize
	endBlock := (off + expected - 1) / s.blockSize
	if s.maxBlocksPerRead > 0 && endBlock-startBlock+1 > int64(s.maxBlocksPerRead) {
		return s.src.ReadAt(p, off)
	}

	var n int64
	for block := startBlock; block <= endBlock; block++ {
		blockStart := block * s.blockSize
		blockEnd := min(blockStart+s.blockSize, s.size)

		data, err := s.block(block, blockStart, int(blockEnd-blockStart))
		if err != nil {
			return int(n), err
		}

		copyStart := max(off, blockStart)
		copyEnd := min(off+expected, blockEnd)
		n += int64(copy(p[copyStart-off:copyEnd-off], data[copyStart-blockStart:]))
	}
	if expected < int64(len(p)) {
		return int(n), io.EOF
	}
	return int(n), nil
}

// block returns one block, from disk when the bitmap says it is present,
// else from the source.
func (s *Stream) block(index, start int64, length int) ([]byte, error) {
	key := keyedHex(blockDomainKey, s.sourceID, s.blockSize, index)
	if s.has(index) {
		if data, ok := s.cache.readBlock(key, length); ok {
			s.cache.logger.Debug("block cache hit", "block", index)
			return data, nil
		}
		s.mark(index, false)
	}

	result, err, _ := s.cache.fetchGroup.Do(key, func() (any, error) {
		s.cache.logger.Debug("block cache miss", "block", index)
		buf := make([]byte, length)
		n, err := s.src.ReadAt(buf, start)
		if err != nil && !(errors.Is(err, io.EOF) && n == length) {
			return nil, err
		}
		if werr := s.cache.writeBlock(key, buf); werr == nil {
			s.mark(index, true)
		} else {
			s.cache.logger.Debug("block not cached", "block", index, "error", werr)
		}
		return buf, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil //nolint:errcheck // type assertion always succeeds when err is nil
}

// Flush persists the presence bitmap if it changed.
func (s *Stream) Flush() error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	m := &manifest{
		SourceID:  s.sourceID,
		Size:      s.size,
		BlockSize: s.blockSize,
		Present:   append([]byte(nil), s.present...),
	}
	s.dirty = false
	s.mu.Unlock()

	if err := m.save(s.manifestPath, s.cache.dirPerm); err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return fmt.Errorf("save cache manifest: %w", err)
	}
	return nil
}

// Close persists the bitmap and closes the source.
func (s *Stream) Close() error {
	return errors.Join(s.Flush(), s.src.Close())
}

var _ stream.Stream = (*Stream)(nil)
